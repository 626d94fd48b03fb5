// Package service implements the tag-change fan-out: raw change events
// come off the plant bus, land in a last-value cache, and arm per-topic
// coalescing windows. When a window expires the engine builds the
// snapshot from the cache, publishes it, and logs one typed row per
// publish
package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"takt/internal/core/payload"
	"takt/internal/modkit/repokit"
	"takt/internal/platform/clock"
	"takt/internal/platform/logger"
	"takt/internal/platform/metrics"
	"takt/internal/platform/store"
	brokerdom "takt/internal/services/broker/domain"
	"takt/internal/services/tagfan/domain"
	"takt/internal/services/tagfan/repo"
)

// Config controls the coalescing windows and cache lifetimes
type Config struct {
	StatusWindow time.Duration // status snapshot coalesce, default 150ms
	NodeWindow   time.Duration // node and cycle group coalesce, default 75ms
	ConfigTTL    time.Duration // topic config cache, default 60s
	LookupTTL    time.Duration // role and reject name cache, default 300s
	SweepEvery   time.Duration // window polling cadence, default 25ms
	Subject      string        // bus subject carrying raw tag changes
}

func (c *Config) defaults() {
	if c.StatusWindow <= 0 {
		c.StatusWindow = 150 * time.Millisecond
	}
	if c.NodeWindow <= 0 {
		c.NodeWindow = 75 * time.Millisecond
	}
	if c.ConfigTTL <= 0 {
		c.ConfigTTL = 60 * time.Second
	}
	if c.LookupTTL <= 0 {
		c.LookupTTL = 300 * time.Second
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 25 * time.Millisecond
	}
	if c.Subject == "" {
		c.Subject = "tags.>"
	}
}

// tagVal is one cached tag reading
type tagVal struct {
	v       any
	quality string
	ts      time.Time
}

// indexEntry resolves an event path variant back to its canonical
// member path and the group topics it belongs to
type indexEntry struct {
	canon string
	cfgs  []*domain.TopicConfig
}

// pendingFlush is one armed coalescing window
type pendingFlush struct {
	cfg   *domain.TopicConfig
	root  string // station root, status windows only
	due   time.Time
	srcTS time.Time
}

// Engine is the tag-change fan-out
type Engine struct {
	DB     repokit.TxRunner
	Binder repokit.Binder[repo.Storage]
	Pub    brokerdom.PublisherPort
	Bus    store.Bus
	Cfg    Config

	now func() time.Time

	mu          sync.Mutex
	vals        map[string]tagVal
	topics      []domain.TopicConfig
	topicsAt    time.Time
	index       map[string]indexEntry
	statusRoots map[string]*domain.TopicConfig
	roles       map[string]string
	rejects     map[string]string
	lookupsAt   time.Time
	pending     map[string]pendingFlush
}

// New constructs the fan-out engine
func New(
	db repokit.TxRunner,
	binder repokit.Binder[repo.Storage],
	pub brokerdom.PublisherPort,
	bus store.Bus,
	cfg Config,
) *Engine {
	if db == nil {
		panic("tagfan.Engine requires a non nil TxRunner")
	}
	if binder == nil {
		panic("tagfan.Engine requires a non nil Repo binder")
	}
	if pub == nil {
		panic("tagfan.Engine requires a non nil publisher")
	}
	cfg.defaults()
	return &Engine{
		DB:          db,
		Binder:      binder,
		Pub:         pub,
		Bus:         bus,
		Cfg:         cfg,
		now:         time.Now,
		vals:        map[string]tagVal{},
		index:       map[string]indexEntry{},
		statusRoots: map[string]*domain.TopicConfig{},
		pending:     map[string]pendingFlush{},
	}
}

// Run implements domain.FanPort
func (e *Engine) Run(ctx context.Context) error {
	if e.Bus == nil {
		return errors.New("tagfan: no event bus configured")
	}
	l := logger.Named("tagfan")

	sub, err := e.Bus.Subscribe(e.Cfg.Subject, func(_ string, data []byte) {
		var ev domain.TagEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			l.Debug().Err(err).Msg("undecodable tag event dropped")
			return
		}
		e.HandleEvent(ctx, ev)
	})
	if err != nil {
		return err
	}
	defer func() { _ = sub.Unsubscribe() }()
	l.Info().Str("subject", e.Cfg.Subject).Msg("tag intake online")

	t := time.NewTicker(e.Cfg.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			e.Sweep(ctx)
		}
	}
}

// HandleEvent implements domain.FanPort. The value always lands in the
// cache; only good-quality non-initial changes arm a window
func (e *Engine) HandleEvent(ctx context.Context, ev domain.TagEvent) {
	if ev.Path == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refreshTopicsLocked(ctx)

	ts := ev.TS
	if ts.IsZero() {
		ts = e.now()
	}
	tv := tagVal{v: payload.Unwrap(ev.Curr), quality: ev.Quality, ts: ts}
	e.vals[ev.Path] = tv
	entry, grouped := e.index[ev.Path]
	if grouped && entry.canon != ev.Path {
		e.vals[entry.canon] = tv
	}

	if ev.Initial || !goodQuality(ev.Quality) {
		return
	}

	if grouped {
		for _, cfg := range entry.cfgs {
			e.armLocked(groupKey(cfg), pendingFlush{cfg: cfg, srcTS: ts}, e.Cfg.NodeWindow)
		}
	}
	if root := stationRoot(ev.Path); root != "" {
		if cfg, ok := e.statusRoots[root]; ok {
			e.armLocked("s:"+root, pendingFlush{cfg: cfg, root: root, srcTS: ts}, e.Cfg.StatusWindow)
		}
	}
}

// Sweep implements domain.FanPort: every window whose deadline has
// passed builds once and publishes
func (e *Engine) Sweep(ctx context.Context) {
	e.mu.Lock()
	now := e.now()
	var due []pendingFlush
	for k, p := range e.pending {
		if !p.due.After(now) {
			due = append(due, p)
			delete(e.pending, k)
		}
	}
	if len(due) > 0 {
		e.refreshLookupsLocked(ctx)
	}
	jobs := make([]publishJob, 0, len(due))
	for _, p := range due {
		jobs = append(jobs, e.buildLocked(p, now))
	}
	e.mu.Unlock()

	if len(jobs) == 0 {
		return
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].topic < jobs[j].topic })

	l := logger.Named("tagfan")
	logRows := make([]domain.PublishLogRow, 0, len(jobs))
	for _, j := range jobs {
		err := e.Pub.Publish(ctx, j.topic, j.env, j.row.QoS, j.row.Retain)
		outcome := "ok"
		if err != nil {
			outcome = "error"
			l.Warn().Err(err).Str("topic", j.topic).Msg("publish failed")
		}
		metrics.PublishTotal.WithLabelValues(j.scope, outcome).Inc()
		if err == nil {
			logRows = append(logRows, j.row)
		}
	}

	if len(logRows) > 0 {
		err := e.DB.Tx(ctx, func(q repokit.Queryer) error {
			return e.Binder.Bind(q).InsertPublishLog(ctx, logRows)
		})
		if err != nil {
			l.Warn().Err(err).Int("rows", len(logRows)).Msg("publish log insert failed")
		} else {
			metrics.UpsertRows.WithLabelValues("broker_publish_log").Add(float64(len(logRows)))
		}
	}
}

// publishJob is one built payload ready to leave
type publishJob struct {
	topic string
	scope string
	env   any
	row   domain.PublishLogRow
}

func (e *Engine) buildLocked(p pendingFlush, now time.Time) publishJob {
	switch p.cfg.Kind {
	case domain.KindStatus:
		return e.buildStatusLocked(p, now)
	case domain.KindCycle:
		return e.buildCycleLocked(p, now)
	}
	return e.buildNodeLocked(p, now)
}

// buildNodeLocked AND-reduces the member tri-states. A missing or
// bad-quality member reads as unknown
func (e *Engine) buildNodeLocked(p pendingFlush, now time.Time) publishJob {
	tris := make([]payload.Tri, 0, len(p.cfg.Paths))
	for _, path := range p.cfg.Paths {
		tv, ok := e.vals[path]
		if !ok || !goodQuality(tv.quality) {
			tris = append(tris, payload.TriUnknown)
			continue
		}
		tris = append(tris, payload.CoerceTri(tv.v))
	}
	tri := payload.AndTri(tris)

	env := payload.ScalarEnvelope{
		Version:   payload.Version,
		Timestamp: payload.Stamp(now.In(clock.Site)),
		Value:     tri.JSONValue(),
	}
	return publishJob{
		topic: p.cfg.Topic,
		scope: "node",
		env:   env,
		row: domain.PublishLogRow{
			ConfigID:  p.cfg.ConfigID,
			TopicID:   p.cfg.TopicID,
			QoS:       p.cfg.QoS,
			Retain:    p.cfg.Retain,
			Value:     payload.Value{Kind: payload.KindBool, Bool: tri == payload.TriTrue},
			QualityOK: tri != payload.TriUnknown,
			Quality:   qualityLabel(tri != payload.TriUnknown),
			SrcTS:     p.srcTS,
		},
	}
}

// buildCycleLocked takes the first good numeric among the members
func (e *Engine) buildCycleLocked(p pendingFlush, now time.Time) publishJob {
	var (
		num   float64
		found bool
	)
	for _, path := range p.cfg.Paths {
		tv, ok := e.vals[path]
		if !ok || !goodQuality(tv.quality) {
			continue
		}
		if v := payload.Coerce(tv.v); v.Kind == payload.KindNum {
			num = v.Num
			found = true
			break
		}
	}

	var value any
	if found {
		value = num
	}
	env := payload.ScalarEnvelope{
		Version:   payload.Version,
		Timestamp: payload.Stamp(now.In(clock.Site)),
		Value:     value,
	}
	return publishJob{
		topic: p.cfg.Topic,
		scope: "cycle",
		env:   env,
		row: domain.PublishLogRow{
			ConfigID:  p.cfg.ConfigID,
			TopicID:   p.cfg.TopicID,
			QoS:       p.cfg.QoS,
			Retain:    p.cfg.Retain,
			Value:     payload.Value{Kind: payload.KindNum, Num: num},
			QualityOK: found,
			Quality:   qualityLabel(found),
			SrcTS:     p.srcTS,
		},
	}
}

// buildStatusLocked renders the station snapshot and logs its exact
// wire bytes as a text row
func (e *Engine) buildStatusLocked(p pendingFlush, now time.Time) publishJob {
	env := e.snapshotLocked(p.root, now)
	body, err := json.Marshal(env)
	if err != nil {
		body = []byte("{}")
	}
	return publishJob{
		topic: p.cfg.Topic,
		scope: "status",
		env:   env,
		row: domain.PublishLogRow{
			ConfigID:  p.cfg.ConfigID,
			TopicID:   p.cfg.TopicID,
			QoS:       p.cfg.QoS,
			Retain:    p.cfg.Retain,
			Value:     payload.Value{Kind: payload.KindText, Text: string(body)},
			QualityOK: true,
			Quality:   "Good",
			SrcTS:     p.srcTS,
		},
	}
}

func (e *Engine) armLocked(key string, p pendingFlush, window time.Duration) {
	if cur, ok := e.pending[key]; ok {
		if p.srcTS.After(cur.srcTS) {
			cur.srcTS = p.srcTS
			e.pending[key] = cur
		}
		metrics.CoalesceDrops.WithLabelValues(kindLabel(p.cfg.Kind)).Inc()
		return
	}
	p.due = e.now().Add(window)
	e.pending[key] = p
}

// refreshTopicsLocked reloads the topic configuration after ConfigTTL.
// A failed reload keeps the stale snapshot and retries after the TTL
func (e *Engine) refreshTopicsLocked(ctx context.Context) {
	now := e.now()
	if !e.topicsAt.IsZero() && now.Sub(e.topicsAt) < e.Cfg.ConfigTTL {
		return
	}
	e.topicsAt = now

	topics, err := e.Binder.Bind(e.DB).TopicConfigs(ctx)
	if err != nil {
		logger.Named("tagfan").Warn().Err(err).Msg("topic config reload failed, keeping stale snapshot")
		return
	}
	e.topics = topics

	idx := map[string]indexEntry{}
	roots := map[string]*domain.TopicConfig{}
	for i := range e.topics {
		cfg := &e.topics[i]
		if cfg.Kind == domain.KindStatus {
			if len(cfg.Paths) > 0 {
				roots[cfg.Paths[0]] = cfg
			}
			continue
		}
		for _, p := range cfg.Paths {
			for _, v := range pathVariants(p) {
				en := idx[v]
				en.canon = p
				en.cfgs = append(en.cfgs, cfg)
				idx[v] = en
			}
		}
	}
	e.index = idx
	e.statusRoots = roots
}

func (e *Engine) refreshLookupsLocked(ctx context.Context) {
	now := e.now()
	if !e.lookupsAt.IsZero() && now.Sub(e.lookupsAt) < e.Cfg.LookupTTL {
		return
	}
	e.lookupsAt = now

	r := e.Binder.Bind(e.DB)
	if roles, err := r.RoleNames(ctx); err == nil {
		e.roles = roles
	} else {
		logger.Named("tagfan").Debug().Err(err).Msg("role name reload failed")
	}
	if rejects, err := r.RejectNames(ctx); err == nil {
		e.rejects = rejects
	} else {
		logger.Named("tagfan").Debug().Err(err).Msg("reject name reload failed")
	}
}

// pathVariants lists the event paths that resolve back to a configured
// member: the path itself, with a Value layer added or removed, and
// with the doubled Value layer some drivers emit
func pathVariants(p string) []string {
	out := []string{p, p + "/Value", p + "/Value/Value"}
	if t := strings.TrimSuffix(p, "/Value"); t != p {
		out = append(out, t)
	}
	return out
}

// stationRoot returns the first five path segments, the station folder
// every status leaf lives under
func stationRoot(path string) string {
	segs := strings.Split(path, "/")
	if len(segs) < 5 {
		return ""
	}
	return strings.Join(segs[:5], "/")
}

func groupKey(cfg *domain.TopicConfig) string {
	if cfg.Kind == domain.KindCycle {
		return "c:" + cfg.Topic
	}
	return "n:" + cfg.Topic
}

func kindLabel(k domain.Kind) string {
	switch k {
	case domain.KindStatus:
		return "status"
	case domain.KindCycle:
		return "cycle"
	}
	return "node"
}

func qualityLabel(ok bool) string {
	if ok {
		return "Good"
	}
	return "Uncertain"
}

// goodQuality treats an absent quality as good; anything else must
// start with Good (historian qualities like "Good (backfill)" pass)
func goodQuality(q string) bool {
	return q == "" || strings.HasPrefix(q, "Good")
}
