// Package service implements the overcycle engine: it scans realized
// cycle-time history against the CT segment journal, advances cumulative
// per-station anchors within each shift, and publishes the top-N line
// leaderboards. A just-ended shift is reconciled exactly once and marked
// final; the live shift republishes on every pass
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"takt/internal/core/cyclet"
	"takt/internal/core/payload"
	"takt/internal/core/schedule"
	"takt/internal/core/topic"
	"takt/internal/modkit/repokit"
	"takt/internal/platform/clock"
	"takt/internal/platform/logger"
	"takt/internal/platform/metrics"
	brokerdom "takt/internal/services/broker/domain"
	ccdom "takt/internal/services/configcache/domain"
	histdom "takt/internal/services/historian/domain"
	"takt/internal/services/overcycle/domain"
	"takt/internal/services/overcycle/repo"
)

// Config controls the finalization grace and leaderboard depth
type Config struct {
	Grace  time.Duration // how long after shift end a finalize may run, default 18h
	MaxTop int           // leaderboard length, default 5
}

func (c *Config) defaults() {
	if c.Grace <= 0 {
		c.Grace = 18 * time.Hour
	}
	if c.MaxTop <= 0 {
		c.MaxTop = 5
	}
}

// Engine is the overcycle engine. The finalize-once set is owned by Tick
type Engine struct {
	DB     repokit.TxRunner
	Binder repokit.Binder[repo.Storage]
	Hist   histdom.ReaderPort
	Config ccdom.ConfigPort
	Sched  ccdom.SchedulePort
	Pub    brokerdom.PublisherPort
	Cfg    Config

	now func() time.Time

	mu   sync.Mutex
	done map[string]time.Time // finalized (line, shift, date) keys
}

// New constructs the overcycle engine
func New(
	db repokit.TxRunner,
	binder repokit.Binder[repo.Storage],
	hist histdom.ReaderPort,
	cfgPort ccdom.ConfigPort,
	sched ccdom.SchedulePort,
	pub brokerdom.PublisherPort,
	cfg Config,
) *Engine {
	if db == nil {
		panic("overcycle.Engine requires a non nil TxRunner")
	}
	if binder == nil {
		panic("overcycle.Engine requires a non nil Repo binder")
	}
	if hist == nil {
		panic("overcycle.Engine requires the historian reader")
	}
	cfg.defaults()
	return &Engine{
		DB:     db,
		Binder: binder,
		Hist:   hist,
		Config: cfgPort,
		Sched:  sched,
		Pub:    pub,
		Cfg:    cfg,
		now:    time.Now,
		done:   map[string]time.Time{},
	}
}

// Tick implements domain.EnginePort
func (e *Engine) Tick(ctx context.Context) error {
	l := logger.Named("overcycle")
	started := e.now()

	stations, err := e.Config.Stations(ctx)
	if err != nil {
		l.Warn().Err(err).Msg("stations unavailable, tick skipped")
		return nil
	}
	now := e.now()

	byLine := map[int64][]ccdom.Station{}
	var ids []int64
	var cyclePaths []string
	for _, st := range stations {
		byLine[st.LineID] = append(byLine[st.LineID], st)
		ids = append(ids, st.ID)
		if st.CyclePath != "" {
			cyclePaths = append(cyclePaths, st.CyclePath)
		}
	}
	hier, err := e.Config.Hierarchy(ctx, ids)
	if err != nil {
		l.Warn().Err(err).Msg("hierarchy unavailable, publish skipped this tick")
		hier = map[int64]topic.Hierarchy{}
	}

	// One batched probe decides which stations carry the cycle tag; a
	// station with the tag stays in the include-zero set even when it
	// recorded nothing this window
	hasCycle := map[int64]bool{}
	if latest, err := e.Hist.Latest(ctx, cyclePaths); err == nil {
		for _, st := range stations {
			if _, ok := latest[st.CyclePath]; ok {
				hasCycle[st.ID] = true
			}
		}
	} else {
		l.Warn().Err(err).Msg("cycle tag probe failed, include-zero reduced")
	}

	lines := make([]int64, 0, len(byLine))
	for id := range byLine {
		lines = append(lines, id)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i] < lines[j] })

	var tickErr error
	for _, lineID := range lines {
		sts := byLine[lineID]

		if ended, ok, err := e.Sched.LastEndedShift(ctx, lineID, now, e.Cfg.Grace); err == nil && ok {
			if err := e.finalizeShift(ctx, lineID, ended, sts, hier, hasCycle); err != nil {
				l.Warn().Err(err).Int64("line_id", lineID).Int64("shift_id", ended.ShiftID).
					Msg("finalize failed, retried next tick")
				tickErr = err
			}
		}

		if active, ok, err := e.Sched.ActiveShift(ctx, lineID, now); err == nil && ok {
			if err := e.liveShift(ctx, now, lineID, active, sts, hier, hasCycle); err != nil {
				l.Warn().Err(err).Int64("line_id", lineID).Int64("shift_id", active.ShiftID).
					Msg("live pass failed, retried next tick")
				tickErr = err
			}
		}
	}

	e.pruneDone(now)
	metrics.ObserveTick("overcycle", started, tickErr)
	return nil
}

// finalizeShift reconciles a just-ended shift: one catch-up delta up to
// the shift end, a final snapshot left unpublished for the catch-up
// publisher, and one last leaderboard publish
func (e *Engine) finalizeShift(
	ctx context.Context,
	lineID int64,
	w schedule.Shift,
	sts []ccdom.Station,
	hier map[int64]topic.Hierarchy,
	hasCycle map[int64]bool,
) error {
	key := shiftKey(lineID, w.ShiftID, w.LocalDate)
	e.mu.Lock()
	_, already := e.done[key]
	e.mu.Unlock()
	if already {
		return nil
	}

	r := e.Binder.Bind(e.DB)
	a, err := e.lastAsOf(ctx, r, lineID, w)
	if err != nil {
		return err
	}

	if a.Before(w.End) {
		deltas, err := e.computeDeltas(ctx, r, sts, w, a, w.End, true, hasCycle)
		if err != nil {
			return err
		}
		if err := e.applyDeltas(ctx, deltas); err != nil {
			return err
		}
	}

	totals, times, err := e.leaderboards(ctx, r, lineID, w, sts)
	if err != nil {
		return err
	}

	// Final payloads omit the line and shift identifiers
	e.publishTops(ctx, lineID, sts, hier, payload.TopOvercycles{Overcycles: totals}, payload.TopOvercycles{Overcycles: times})

	snap, err := e.snapshotRow(lineID, w, w.End, totals, times)
	if err != nil {
		return err
	}
	snap.IsFinal = true
	snap.IsPublished = false
	if err := e.applySnapshot(ctx, snap); err != nil {
		return err
	}

	e.mu.Lock()
	e.done[key] = e.now()
	e.mu.Unlock()
	return nil
}

// liveShift advances the current shift's anchors to now and republishes
// the leaderboards
func (e *Engine) liveShift(
	ctx context.Context,
	now time.Time,
	lineID int64,
	w schedule.Shift,
	sts []ccdom.Station,
	hier map[int64]topic.Hierarchy,
	hasCycle map[int64]bool,
) error {
	b := now
	if w.End.Before(b) {
		b = w.End
	}

	r := e.Binder.Bind(e.DB)
	a, err := e.lastAsOf(ctx, r, lineID, w)
	if err != nil {
		return err
	}

	if b.After(a) {
		deltas, err := e.computeDeltas(ctx, r, sts, w, a, b, false, hasCycle)
		if err != nil {
			return err
		}
		if err := e.applyDeltas(ctx, deltas); err != nil {
			return err
		}
	}

	totals, times, err := e.leaderboards(ctx, r, lineID, w, sts)
	if err != nil {
		return err
	}

	e.publishTops(ctx, lineID, sts, hier,
		payload.TopOvercycles{Overcycles: totals, LineID: lineID, ShiftID: w.ShiftID},
		payload.TopOvercycles{Overcycles: times, LineID: lineID, ShiftID: w.ShiftID})

	snap, err := e.snapshotRow(lineID, w, b, totals, times)
	if err != nil {
		return err
	}
	snap.IsFinal = false
	snap.IsPublished = true
	return e.applySnapshot(ctx, snap)
}

// lastAsOf resolves the window start for a line and shift: the line
// snapshot anchor, else the newest station anchor, else the shift start
func (e *Engine) lastAsOf(ctx context.Context, r repo.Storage, lineID int64, w schedule.Shift) (time.Time, error) {
	if t, ok, err := r.LineLastAsOf(ctx, lineID, w.ShiftID, w.LocalDate); err != nil {
		return time.Time{}, err
	} else if ok {
		return t, nil
	}
	if t, ok, err := r.StationLastAsOf(ctx, lineID, w.ShiftID, w.LocalDate); err != nil {
		return time.Time{}, err
	} else if ok {
		return t, nil
	}
	return w.Start, nil
}

// computeDeltas classifies every cycle sample in (a, b] against the CT
// segment in force at its timestamp. A sample is overcycle iff
// ct < act <= ct*mult; longer cycles count as idle or changeover
func (e *Engine) computeDeltas(
	ctx context.Context,
	r repo.Storage,
	sts []ccdom.Station,
	w schedule.Shift,
	a, b time.Time,
	final bool,
	hasCycle map[int64]bool,
) ([]domain.StationDelta, error) {
	existed, err := r.StationsWithRows(ctx, w.LineID, w.ShiftID, w.LocalDate)
	if err != nil {
		return nil, err
	}
	slotMin := int(math.Round(b.Sub(w.Start).Minutes()))

	var out []domain.StationDelta
	for _, st := range sts {
		var cnt int64
		var sum, max float64

		if st.CyclePath != "" {
			segs, err := r.SegmentsOverlapping(ctx, st.ID, a, b)
			if err != nil {
				return nil, err
			}
			samples, err := e.Hist.Samples(ctx, st.CyclePath, a, b)
			if err != nil {
				return nil, err
			}
			hint := 0
			for _, smp := range samples {
				seg, h, ok := cyclet.At(segs, smp.TS, hint)
				hint = h
				if !ok || seg.CT <= 0 {
					continue
				}
				if seg.IsOvercycle(smp.Value) {
					over := smp.Value - seg.CT
					cnt++
					sum += over
					if over > max {
						max = over
					}
				}
			}
		}

		if cnt == 0 && !existed[st.ID] && !hasCycle[st.ID] {
			continue
		}
		out = append(out, domain.StationDelta{
			LineID:          w.LineID,
			StationID:       st.ID,
			ShiftID:         w.ShiftID,
			ShiftLocalDate:  w.LocalDate,
			ShiftStartLocal: w.Start,
			ShiftEndLocal:   w.End,
			AsOfLocal:       b,
			OverCnt:         cnt,
			OverSec:         round3(sum),
			MaxOverSec:      round3(max),
			SlotDurationMin: slotMin,
			IsFinal:         final,
		})
	}
	return out, nil
}

// leaderboards builds both top lists from the durable shift accumulator.
// Times orders by (sum desc, cnt desc), Totals by (cnt desc, sum desc);
// ties break by station id ascending
func (e *Engine) leaderboards(
	ctx context.Context,
	r repo.Storage,
	lineID int64,
	w schedule.Shift,
	sts []ccdom.Station,
) (totals, times []payload.OvercycleEntry, err error) {
	acc, err := r.ShiftAccums(ctx, lineID, w.ShiftID, w.LocalDate)
	if err != nil {
		return nil, nil, err
	}

	names := map[int64]string{}
	for _, st := range sts {
		names[st.ID] = st.Name
	}
	stn := func(id int64) string {
		if n, ok := names[id]; ok && n != "" {
			return n
		}
		return strconv.FormatInt(id, 10)
	}

	live := make([]domain.ShiftAccum, 0, len(acc))
	for _, a := range acc {
		if a.OverCnt > 0 || a.OverSec > 0 {
			live = append(live, a)
		}
	}

	byTime := append([]domain.ShiftAccum(nil), live...)
	sort.Slice(byTime, func(i, j int) bool {
		if byTime[i].OverSec != byTime[j].OverSec {
			return byTime[i].OverSec > byTime[j].OverSec
		}
		if byTime[i].OverCnt != byTime[j].OverCnt {
			return byTime[i].OverCnt > byTime[j].OverCnt
		}
		return byTime[i].StationID < byTime[j].StationID
	})
	byCount := append([]domain.ShiftAccum(nil), live...)
	sort.Slice(byCount, func(i, j int) bool {
		if byCount[i].OverCnt != byCount[j].OverCnt {
			return byCount[i].OverCnt > byCount[j].OverCnt
		}
		if byCount[i].OverSec != byCount[j].OverSec {
			return byCount[i].OverSec > byCount[j].OverSec
		}
		return byCount[i].StationID < byCount[j].StationID
	})

	top := e.Cfg.MaxTop
	for i, a := range byTime {
		if i >= top {
			break
		}
		times = append(times, payload.OvercycleEntry{
			ID:    i + 1,
			StnID: stn(a.StationID),
			Value: payload.FormatMSS(a.OverSec),
		})
	}
	for i, a := range byCount {
		if i >= top {
			break
		}
		totals = append(totals, payload.OvercycleEntry{
			ID:    i + 1,
			StnID: stn(a.StationID),
			Value: strconv.FormatInt(a.OverCnt, 10),
		})
	}
	return totals, times, nil
}

// publishTops sends both leaderboard payloads on the line's topics.
// Publish is fire-and-forget; a failed send logs and the next pass
// republishes
func (e *Engine) publishTops(
	ctx context.Context,
	lineID int64,
	sts []ccdom.Station,
	hier map[int64]topic.Hierarchy,
	totals, times payload.TopOvercycles,
) {
	if e.Pub == nil {
		return
	}
	var h topic.Hierarchy
	found := false
	for _, st := range sts {
		if hh, ok := hier[st.ID]; ok {
			h = hh
			found = true
			break
		}
	}
	if !found {
		logger.Named("overcycle").Warn().Int64("line_id", lineID).Msg("no hierarchy for line, publish skipped")
		return
	}

	stamp := payload.Stamp(e.now().In(clock.Site))
	for scope, body := range map[string]payload.TopOvercycles{
		"TopOvercycleTotals": totals,
		"TopOvercycleTimes":  times,
	} {
		env := payload.TopOvercyclesEnvelope{
			Version:       payload.Version,
			Timestamp:     stamp,
			TopOvercycles: body,
		}
		err := e.Pub.Publish(ctx, e.Pub.TopicFor(h, scope), env, 0, false)
		outcome := "ok"
		if err != nil {
			outcome = "error"
			logger.Named("overcycle").Warn().Err(err).Str("scope", scope).Msg("publish failed")
		}
		metrics.PublishTotal.WithLabelValues(scope, outcome).Inc()
	}
}

func (e *Engine) snapshotRow(
	lineID int64,
	w schedule.Shift,
	asOf time.Time,
	totals, times []payload.OvercycleEntry,
) (domain.LineSnapshot, error) {
	tj, err := json.Marshal(totals)
	if err != nil {
		return domain.LineSnapshot{}, err
	}
	mj, err := json.Marshal(times)
	if err != nil {
		return domain.LineSnapshot{}, err
	}
	return domain.LineSnapshot{
		LineID:          lineID,
		ShiftID:         w.ShiftID,
		ShiftLocalDate:  w.LocalDate,
		ShiftStartLocal: w.Start,
		ShiftEndLocal:   w.End,
		AsOfLocal:       asOf,
		SlotDurationMin: int(math.Round(asOf.Sub(w.Start).Minutes())),
		TopTotalsJSON:   string(tj),
		TopTimesJSON:    string(mj),
	}, nil
}

func (e *Engine) applyDeltas(ctx context.Context, rows []domain.StationDelta) error {
	if len(rows) == 0 {
		return nil
	}
	return e.DB.Tx(ctx, func(q repokit.Queryer) error {
		if err := e.Binder.Bind(q).ApplyStationDeltas(ctx, rows); err != nil {
			return err
		}
		metrics.UpsertRows.WithLabelValues("overcycle").Add(float64(len(rows)))
		return nil
	})
}

func (e *Engine) applySnapshot(ctx context.Context, snap domain.LineSnapshot) error {
	return e.DB.Tx(ctx, func(q repokit.Queryer) error {
		return e.Binder.Bind(q).UpsertLineSnapshot(ctx, snap)
	})
}

// pruneDone drops finalize keys recorded more than two days ago; any
// shift that old is past every grace window
func (e *Engine) pruneDone(now time.Time) {
	e.mu.Lock()
	for k, at := range e.done {
		if now.Sub(at) > 48*time.Hour {
			delete(e.done, k)
		}
	}
	e.mu.Unlock()
}

func shiftKey(lineID, shiftID int64, date string) string {
	return fmt.Sprintf("%d|%d|%s", lineID, shiftID, date)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
