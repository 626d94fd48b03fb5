// Package service implements the CT and target engine: live parts
// snapshots blended into an effective cycle time, a versioned CT
// segment journal pinned to real production events, and break-aware
// hour and shift base targets
package service

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"takt/internal/core/counter"
	"takt/internal/core/cyclet"
	"takt/internal/modkit/repokit"
	"takt/internal/platform/clock"
	"takt/internal/platform/logger"
	"takt/internal/platform/metrics"
	ccdom "takt/internal/services/configcache/domain"
	histdom "takt/internal/services/historian/domain"
	"takt/internal/services/targets/domain"
	"takt/internal/services/targets/repo"
)

// Config controls CT debounce and the repair sweep cadence
type Config struct {
	DebounceTicks int           // parts set must be stable this many ticks, default 1
	RepairEvery   time.Duration // repair sweep period, default 2m
	RepairHours   time.Duration // hourly repair lookback, default 24h
	RepairDays    int           // shift repair lookback in days, default 2
}

func (c *Config) defaults() {
	if c.DebounceTicks <= 0 {
		c.DebounceTicks = 1
	}
	if c.RepairEvery <= 0 {
		c.RepairEvery = 2 * time.Minute
	}
	if c.RepairHours <= 0 {
		c.RepairHours = 24 * time.Hour
	}
	if c.RepairDays <= 0 {
		c.RepairDays = 2
	}
}

// Engine is the CT and target engine. Per-station state is owned by
// Tick alone
type Engine struct {
	DB     repokit.TxRunner
	Binder repokit.Binder[repo.Storage]
	Hist   histdom.ReaderPort
	Config ccdom.ConfigPort
	Sched  ccdom.SchedulePort
	Cfg    Config

	now func() time.Time

	mu         sync.Mutex
	state      map[int64]*stationState
	lastRepair time.Time
}

// New constructs the targets engine
func New(
	db repokit.TxRunner,
	binder repokit.Binder[repo.Storage],
	hist histdom.ReaderPort,
	cfgPort ccdom.ConfigPort,
	sched ccdom.SchedulePort,
	cfg Config,
) *Engine {
	if db == nil {
		panic("targets.Engine requires a non nil TxRunner")
	}
	if binder == nil {
		panic("targets.Engine requires a non nil Repo binder")
	}
	if hist == nil {
		panic("targets.Engine requires the historian reader")
	}
	cfg.defaults()
	return &Engine{
		DB:     db,
		Binder: binder,
		Hist:   hist,
		Config: cfgPort,
		Sched:  sched,
		Cfg:    cfg,
		now:    time.Now,
		state:  map[int64]*stationState{},
	}
}

// stationState is the per-station CT state machine
type stationState struct {
	prevTotal   *float64 // last good counter reading
	lastIncPrev float64  // counter value just before the last increment
	lastIncAt   time.Time
	hasInc      bool

	lastPartsKey string
	stableTicks  int

	ctEff     float64
	mult      *float64 // multiplier committed with the last segment
	segOpened bool
	pending   *pendingSegment

	hourStartUTC   time.Time
	hourStartLocal time.Time
	lastHourBase   *int

	shiftID       int64
	shiftDate     string
	shiftStart    time.Time
	shiftEnd      time.Time
	lastShiftBase *int
}

// pendingSegment buffers a CT change until a real counter increment
// pins its effective-from timestamp
type pendingSegment struct {
	rec       domain.SegmentRecord
	createdAt time.Time
}

type batch struct {
	segs   []domain.SegmentRecord
	hours  []domain.HourTargetRow
	shifts []domain.ShiftTargetRow
}

// Tick implements domain.EnginePort
func (e *Engine) Tick(ctx context.Context) error {
	l := logger.Named("targets")
	started := e.now()

	stations, err := e.Config.Stations(ctx)
	if err != nil {
		l.Warn().Err(err).Msg("stations unavailable, tick skipped")
		return nil
	}
	now := e.now()

	var counterPaths, partPaths []string
	for _, st := range stations {
		if st.HasTag {
			counterPaths = append(counterPaths, st.CounterPath)
		}
		partPaths = append(partPaths, fixturePaths(st)...)
	}
	latest, err := e.Hist.Latest(ctx, counterPaths)
	if err != nil {
		l.Warn().Err(err).Msg("counter read failed, tick skipped")
		return nil
	}
	texts, err := e.Hist.LatestText(ctx, partPaths)
	if err != nil {
		l.Warn().Err(err).Msg("parts read failed, tick skipped")
		return nil
	}

	var b batch
	e.mu.Lock()
	for _, st := range stations {
		if err := e.tickStation(ctx, now, st, latest, texts, &b); err != nil {
			l.Warn().Err(err).Int64("station_id", st.ID).Msg("station skipped")
		}
	}
	e.mu.Unlock()

	// one full pass has consumed a global force-open broadcast; every
	// station saw a freshly loaded PartCT this tick
	e.Config.ClearForceAll()

	err = e.flush(ctx, &b)
	if err != nil {
		l.Error().Err(err).Msg("flush failed, retried next tick")
	}

	if now.Sub(e.lastRepair) >= e.Cfg.RepairEvery {
		if rerr := e.repair(ctx, now); rerr != nil {
			l.Warn().Err(rerr).Msg("repair sweep failed")
		}
		e.lastRepair = now
		// re-write the live batch after the sweep; the upserts are
		// idempotent and this closes the race with the repair reads
		if err2 := e.flush(ctx, &batch{hours: b.hours, shifts: b.shifts}); err2 != nil {
			l.Warn().Err(err2).Msg("post repair rewrite failed")
		}
	}

	metrics.ObserveTick("targets", started, err)
	return nil
}

func (e *Engine) tickStation(
	ctx context.Context,
	now time.Time,
	st ccdom.Station,
	latest map[string]counter.Sample,
	texts map[string]histdom.TextSample,
	b *batch,
) error {
	fps := safeFPS(st.FixturesPerSide)

	s, ok := e.state[st.ID]
	if !ok {
		s = &stationState{
			hourStartUTC:   clock.FloorHourUTC(now),
			hourStartLocal: clock.FloorHourLocal(now),
		}
		e.state[st.ID] = s
	}

	// Increment detection feeds the segment anchor later
	if smp, ok := latest[st.CounterPath]; ok && smp.Good {
		if s.prevTotal != nil && smp.Value > *s.prevTotal {
			s.lastIncPrev = *s.prevTotal
			s.lastIncAt = now
			s.hasInc = true
		}
		v := smp.Value
		s.prevTotal = &v
	}

	// Hour rollover resets the emit-on-change latch
	if hu := clock.FloorHourUTC(now); !hu.Equal(s.hourStartUTC) {
		s.hourStartUTC = hu
		s.hourStartLocal = clock.FloorHourLocal(now)
		s.lastHourBase = nil
	}

	pc, err := e.Config.PartCT(ctx, st.ID)
	if err != nil {
		return err
	}

	live := partsSnapshot(st, texts)
	hadLive := len(live) > 0

	var (
		partsUsed []string
		ctList    []float64
		missing   bool
	)
	if hadLive {
		if len(live) > fps {
			live = live[:fps]
		}
		for _, p := range live {
			if pc.CT[p] <= 0 {
				missing = true
			}
		}
		if missing {
			partsUsed = live
		} else {
			slowest := 0.0
			for _, v := range pc.CT {
				if v > slowest {
					slowest = v
				}
			}
			for _, p := range live {
				ct := pc.CT[p]
				if ct <= 0 {
					ct = slowest
				}
				ctList = append(ctList, ct)
				partsUsed = append(partsUsed, p)
			}
			for len(ctList) < fps && len(partsUsed) > 0 {
				ctList = append(ctList, slowest)
				partsUsed = append(partsUsed, partsUsed[0])
			}
		}
	} else if len(pc.CT) == 0 {
		missing = true
	} else {
		partsUsed, ctList = fallbackParts(pc.CT, fps)
	}

	// Debounce keyed by the parts set; missing config bypasses
	key := strings.Join(partsUsed, "|")
	if key == s.lastPartsKey {
		if s.stableTicks < e.Cfg.DebounceTicks {
			s.stableTicks++
		}
	} else {
		s.lastPartsKey = key
		s.stableTicks = 1
		if missing {
			s.stableTicks = e.Cfg.DebounceTicks
		}
	}

	ctEffNew := s.ctEff
	effMult := 0.0
	if missing {
		ctEffNew = 0
	} else {
		if len(ctList) > 0 && s.stableTicks >= e.Cfg.DebounceTicks {
			ctEffNew = cyclet.Effective(ctList, st.Parallelism)
		}
		var mults []float64
		for _, p := range partsUsed {
			if m := pc.Multiplier[p]; m > 0 {
				mults = append(mults, m)
			}
		}
		effMult = cyclet.Multiplier(mults, st.Parallelism)
	}

	// Shift window tracking
	if e.Sched != nil {
		if w, ok, err := e.Sched.ActiveShift(ctx, st.LineID, now); err == nil {
			if ok {
				if w.ShiftID != s.shiftID || w.LocalDate != s.shiftDate {
					s.shiftID = w.ShiftID
					s.shiftDate = w.LocalDate
					s.shiftStart = w.Start
					s.shiftEnd = w.End
					s.lastShiftBase = nil
				} else {
					s.shiftEnd = w.End // schedule edits update the window
				}
			} else if s.shiftID != 0 {
				s.shiftID = 0
				s.shiftDate = ""
				s.lastShiftBase = nil
			}
		}
	}

	e.journalSegment(ctx, now, st, s, fps, ctEffNew, effMult, partsUsed, hadLive, missing, b)
	s.ctEff = ctEffNew

	e.emitTargets(ctx, now, st, s, b)
	return nil
}

// journalSegment buffers a CT change and materializes the pending record
// at the next counter increment, or immediately for missing-config and
// forced re-opens
func (e *Engine) journalSegment(
	ctx context.Context,
	now time.Time,
	st ccdom.Station,
	s *stationState,
	fps int,
	ctEffNew, effMult float64,
	partsUsed []string,
	hadLive, missing bool,
	b *batch,
) {
	needNew := false
	if !s.segOpened {
		needNew = ctEffNew > 0 || missing
	} else if ctEffNew != s.ctEff || s.mult == nil || math.Abs(effMult-*s.mult) > 0.001 {
		needNew = true
	}

	if needNew {
		mode := cyclet.ModeFallbackCfg
		switch {
		case missing:
			mode = cyclet.ModeMissingConfig
		case hadLive:
			mode = cyclet.ModeLiveFixtures
		}
		s.pending = &pendingSegment{
			rec: domain.SegmentRecord{
				StationID:           st.ID,
				CTEffSec:            round3(ctEffNew),
				FixturesPerSide:     fps,
				IsTurntable:         st.IsTurntable,
				ParallelismFactor:   round3(st.Parallelism),
				Parts:               partsUsed,
				CTMode:              mode,
				OvercycleMultiplier: round3(effMult),
			},
			createdAt: now,
		}
	}

	p := s.pending
	if p == nil {
		return
	}

	commit := func(at time.Time) {
		p.rec.EffectiveFromUTC = at.UTC()
		b.segs = append(b.segs, p.rec)
		m := p.rec.OvercycleMultiplier
		s.mult = &m
		s.segOpened = true
		s.pending = nil
	}

	if p.rec.CTMode == cyclet.ModeMissingConfig || e.Config.ForceOpen(st.ID) {
		commit(now)
		return
	}
	if s.hasInc && !s.lastIncAt.Before(p.createdAt) && st.HasTag {
		at, ok, err := e.Hist.FirstIncrementAfter(ctx, st.CounterPath, s.lastIncPrev, p.createdAt, now)
		if err != nil {
			return // retried next tick
		}
		if !ok {
			at = now
		}
		commit(at)
	}
}

// emitTargets appends hour and shift base rows when the value changed
// since the last emit
func (e *Engine) emitTargets(ctx context.Context, now time.Time, st ccdom.Station, s *stationState, b *batch) {
	if !st.IsCritical || e.Sched == nil {
		return
	}

	hourBase := 0
	if s.ctEff > 0 {
		if ms, err := e.Sched.WorkingMS(ctx, s.hourStartLocal, s.hourStartLocal.Add(time.Hour), st.LineID); err == nil && ms > 0 {
			hourBase = int(float64(ms/1000) / s.ctEff)
		}
	}
	if s.lastHourBase == nil || hourBase != *s.lastHourBase {
		hb := hourBase
		s.lastHourBase = &hb
		if hourBase > 0 {
			b.hours = append(b.hours, domain.HourTargetRow{
				StationID:       st.ID,
				LineID:          st.LineID,
				HourStartUTC:    s.hourStartUTC,
				TargetPartsBase: hourBase,
			})
		}
	}

	if s.shiftID == 0 || s.shiftStart.IsZero() || s.shiftEnd.IsZero() {
		return
	}
	shiftBase := 0
	if s.ctEff > 0 {
		if ms, err := e.Sched.WorkingMS(ctx, s.shiftStart, s.shiftEnd, st.LineID); err == nil && ms > 0 {
			shiftBase = int(float64(ms/1000) / s.ctEff)
		}
	}
	if s.lastShiftBase == nil || shiftBase != *s.lastShiftBase {
		sb := shiftBase
		s.lastShiftBase = &sb
		b.shifts = append(b.shifts, domain.ShiftTargetRow{
			StationID:       st.ID,
			LineID:          st.LineID,
			ShiftID:         s.shiftID,
			ShiftLocalDate:  s.shiftDate,
			TargetPartsBase: shiftBase,
		})
	}
}

func (e *Engine) flush(ctx context.Context, b *batch) error {
	if len(b.segs) == 0 && len(b.hours) == 0 && len(b.shifts) == 0 {
		return nil
	}
	return e.DB.Tx(ctx, func(q repokit.Queryer) error {
		r := e.Binder.Bind(q)
		if err := r.UpsertSegments(ctx, b.segs); err != nil {
			return err
		}
		if err := r.UpsertHourlyTargets(ctx, b.hours); err != nil {
			return err
		}
		if err := r.UpsertShiftTargets(ctx, b.shifts); err != nil {
			return err
		}
		metrics.UpsertRows.WithLabelValues("targets").
			Add(float64(len(b.segs) + len(b.hours) + len(b.shifts)))
		return nil
	})
}

// repair recomputes base targets for persisted rows still missing one
func (e *Engine) repair(ctx context.Context, now time.Time) error {
	r := e.Binder.Bind(e.DB)

	var b batch
	hours, err := r.HoursMissingBase(ctx, now.Add(-e.Cfg.RepairHours))
	if err != nil {
		return err
	}
	for _, m := range hours {
		ct := e.ctFor(ctx, m.StationID)
		if ct <= 0 {
			continue
		}
		ms, err := e.Sched.WorkingMS(ctx, m.HourStartUTC, m.HourStartUTC.Add(time.Hour), m.LineID)
		if err != nil || ms <= 0 {
			continue
		}
		base := int(float64(ms/1000) / ct)
		if base <= 0 {
			continue
		}
		b.hours = append(b.hours, domain.HourTargetRow{
			StationID:       m.StationID,
			LineID:          m.LineID,
			HourStartUTC:    m.HourStartUTC,
			TargetPartsBase: base,
		})
	}

	cutoff := clock.LocalDate(now.AddDate(0, 0, -e.Cfg.RepairDays))
	shifts, err := r.ShiftsMissingBase(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, m := range shifts {
		if !m.End.After(m.Start) {
			continue
		}
		ct := e.ctFor(ctx, m.StationID)
		if ct <= 0 {
			continue
		}
		ms, err := e.Sched.WorkingMS(ctx, m.Start, m.End, m.LineID)
		if err != nil {
			continue
		}
		base := int(float64(ms/1000) / ct)
		if base < 0 {
			base = 0
		}
		b.shifts = append(b.shifts, domain.ShiftTargetRow{
			StationID:       m.StationID,
			LineID:          m.LineID,
			ShiftID:         m.ShiftID,
			ShiftLocalDate:  m.ShiftLocalDate,
			TargetPartsBase: base,
		})
	}

	return e.flush(ctx, &b)
}

// ctFor resolves the effective CT for repair: live state first, then a
// fallback blend from the configured parts
func (e *Engine) ctFor(ctx context.Context, stationID int64) float64 {
	e.mu.Lock()
	s := e.state[stationID]
	e.mu.Unlock()
	if s != nil && s.ctEff > 0 {
		return s.ctEff
	}

	st, ok, err := e.Config.Station(ctx, stationID)
	if err != nil || !ok {
		return 0
	}
	pc, err := e.Config.PartCT(ctx, stationID)
	if err != nil {
		return 0
	}
	_, cts := fallbackParts(pc.CT, safeFPS(st.FixturesPerSide))
	return cyclet.Effective(cts, st.Parallelism)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
