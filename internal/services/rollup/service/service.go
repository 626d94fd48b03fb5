// Package service implements the production rollup engine: incremental
// reset-safe accumulation of station counters into hour, shift and week
// windows, anchored to historian snapshots
package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"takt/internal/core/counter"
	"takt/internal/modkit/repokit"
	"takt/internal/platform/clock"
	"takt/internal/platform/logger"
	"takt/internal/platform/metrics"
	ccdom "takt/internal/services/configcache/domain"
	histdom "takt/internal/services/historian/domain"
	"takt/internal/services/rollup/domain"
	"takt/internal/services/rollup/repo"
)

// Config controls rollup cadence internals
type Config struct {
	IdleFlush time.Duration // open-hour flush interval, default 30s
	Grace     time.Duration // late shift reconciliation horizon, default 18h
	Chunk     int           // max rows per upsert statement, default 500
}

func (c *Config) defaults() {
	if c.IdleFlush <= 0 {
		c.IdleFlush = 30 * time.Second
	}
	if c.Grace <= 0 {
		c.Grace = 18 * time.Hour
	}
	if c.Chunk <= 0 {
		c.Chunk = 500
	}
}

// Service is the rollup engine. It exclusively owns the per-station
// live state; only Tick mutates it
type Service struct {
	DB     repokit.TxRunner
	Binder repokit.Binder[repo.Storage]
	Hist   histdom.ReaderPort
	Config ccdom.ConfigPort
	Sched  ccdom.SchedulePort
	Cfg    Config

	now func() time.Time

	mu       sync.Mutex
	state    map[int64]*stationState
	bootDate string // local date the daily bootstrap last ran for
}

// New constructs the rollup engine
func New(
	db repokit.TxRunner,
	binder repokit.Binder[repo.Storage],
	hist histdom.ReaderPort,
	cfgPort ccdom.ConfigPort,
	sched ccdom.SchedulePort,
	cfg Config,
) *Service {
	if db == nil {
		panic("rollup.Service requires a non nil TxRunner")
	}
	if binder == nil {
		panic("rollup.Service requires a non nil Repo binder")
	}
	if hist == nil {
		panic("rollup.Service requires the historian reader")
	}
	cfg.defaults()
	return &Service{
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

// batch collects the rows one tick produces. Closed rows for an entity
// are appended before the re-opened ones, preserving write order
type batch struct {
	hours  []domain.HourRow
	shifts []domain.ShiftRow
	weeks  []domain.WeekRow
	marks  []domain.WatermarkRow
}

// Tick implements domain.RunnerPort
func (s *Service) Tick(ctx context.Context) error {
	l := logger.Named("rollup")
	started := s.now()

	settings, err := s.Config.Settings(ctx)
	if err != nil {
		l.Warn().Err(err).Msg("settings unavailable, tick skipped")
		return nil
	}
	if !settings.Enabled {
		return nil
	}

	stations, err := s.Config.Stations(ctx)
	if err != nil {
		l.Warn().Err(err).Msg("stations unavailable, tick skipped")
		return nil
	}

	now := s.now()
	var b batch

	// Daily bootstrap before live processing so dense rows exist for
	// every closed hour of today. The date sticks only once the batch
	// lands; a failed flush reruns the bootstrap next tick
	bootedFor := ""
	if today := clock.LocalDate(now); s.bootDate != today {
		if err := s.bootstrapDay(ctx, now, stations, &b); err != nil {
			l.Error().Err(err).Msg("daily bootstrap failed, retry next tick")
		} else {
			bootedFor = today
		}
	}

	// One batched live read for every station that has a counter tag
	paths := make([]string, 0, len(stations))
	for _, st := range stations {
		if st.HasTag {
			paths = append(paths, st.CounterPath)
		}
	}
	latest, err := s.Hist.Latest(ctx, paths)
	if err != nil {
		l.Warn().Err(err).Msg("live read failed, tick skipped")
		return nil
	}

	s.mu.Lock()
	for _, st := range stations {
		if !st.HasTag {
			continue
		}
		sample, ok := latest[st.CounterPath]
		if !ok || !sample.Good {
			// QualityBad or no samples: freeze in-memory state this tick
			if ss := s.state[st.ID]; ss != nil {
				ss.frozen = true
			}
			continue
		}
		if err := s.tickStation(ctx, now, st, sample, settings.WeekStartDOW, &b); err != nil {
			l.Warn().Err(err).Int64("station_id", st.ID).Msg("station skipped")
		}
	}
	s.mu.Unlock()

	err = s.flush(ctx, &b)
	if err != nil {
		l.Error().Err(err).Msg("flush failed, rows retried next tick")
	} else if bootedFor != "" {
		s.bootDate = bootedFor
	}
	metrics.ObserveTick("rollup", started, err)
	return nil
}

// flush writes all collected rows, chunked, one statement per table
func (s *Service) flush(ctx context.Context, b *batch) error {
	return s.flushWith(ctx, b, s.Cfg.Chunk)
}

func (s *Service) flushWith(ctx context.Context, b *batch, chunk int) error {
	if len(b.hours) == 0 && len(b.shifts) == 0 && len(b.weeks) == 0 && len(b.marks) == 0 {
		return nil
	}
	b.dedupe()
	return s.DB.Tx(ctx, func(q repokit.Queryer) error {
		r := s.Binder.Bind(q)
		for _, rows := range chunkHours(b.hours, chunk) {
			if err := r.UpsertHourlyBatch(ctx, rows); err != nil {
				return err
			}
		}
		for _, rows := range chunkShifts(b.shifts, chunk) {
			if err := r.UpsertShiftBatch(ctx, rows); err != nil {
				return err
			}
		}
		for _, rows := range chunkWeeks(b.weeks, chunk) {
			if err := r.UpsertWeeklyBatch(ctx, rows); err != nil {
				return err
			}
		}
		for _, rows := range chunkMarks(b.marks, chunk) {
			if err := r.UpsertWatermarksBatch(ctx, rows); err != nil {
				return err
			}
		}
		metrics.UpsertRows.WithLabelValues("rollup").
			Add(float64(len(b.hours) + len(b.shifts) + len(b.weeks) + len(b.marks)))
		return nil
	})
}

// dedupe collapses rows that share a conflict target, keeping the
// latest write in the first occurrence's slot. ON CONFLICT DO UPDATE
// rejects a statement that touches the same target row twice, and a
// bootstrap tick appends both the reconstructed and the live snapshot
// of the active shift
func (b *batch) dedupe() {
	b.hours = dedupeRows(b.hours, func(r domain.HourRow) string {
		return fmt.Sprintf("%d|%d", r.StationID, r.HourStartUTC.Unix())
	})
	b.shifts = dedupeRows(b.shifts, func(r domain.ShiftRow) string {
		return fmt.Sprintf("%d|%d|%s", r.StationID, r.ShiftID, r.ShiftLocalDate)
	})
	b.weeks = dedupeRows(b.weeks, func(r domain.WeekRow) string {
		return fmt.Sprintf("%d|%s", r.StationID, r.WeekStartLocal)
	})
	b.marks = dedupeRows(b.marks, func(r domain.WatermarkRow) string {
		return fmt.Sprintf("%d|%d", r.StationID, r.HourStartUTC.Unix())
	})
}

func dedupeRows[T any](rows []T, key func(T) string) []T {
	if len(rows) < 2 {
		return rows
	}
	seen := make(map[string]int, len(rows))
	out := rows[:0]
	for _, r := range rows {
		k := key(r)
		if i, ok := seen[k]; ok {
			out[i] = r
			continue
		}
		seen[k] = len(out)
		out = append(out, r)
	}
	return out
}

// StateSnapshot implements domain.RunnerPort
func (s *Service) StateSnapshot() []domain.StationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.StationState, 0, len(s.state))
	for id, ss := range s.state {
		out = append(out, domain.StationState{
			StationID:      id,
			LineID:         ss.lineID,
			HourStartUTC:   ss.hourStart,
			HourStartCount: ss.hourStartCount,
			HourTotal:      ss.hourTotal,
			LastPeak:       ss.lastPeak,
			ShiftID:        ss.shiftID,
			ShiftLocalDate: ss.shiftDate,
			ShiftTotal:     ss.shiftTotal,
			WeekStartLocal: ss.weekStart,
			WeekTotal:      ss.weekTotal,
			Frozen:         ss.frozen,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StationID < out[j].StationID })
	return out
}

// PersistedState implements domain.RunnerPort. Peak and freeze fields
// live only in engine memory and read back as zero values
func (s *Service) PersistedState(ctx context.Context) ([]domain.StationState, error) {
	return s.Binder.Bind(s.DB).OpenStates(ctx)
}

// anchorOr reads the historian anchor at a boundary, falling back to
// the live counter when no history exists
func (s *Service) anchorOr(ctx context.Context, path string, at time.Time, fallback int64) int64 {
	v, ok, err := s.Hist.Anchor(ctx, path, at)
	if err != nil || !ok {
		return fallback
	}
	return int64(v)
}

func liveCount(sample counter.Sample) int64 {
	if sample.Value < 0 {
		return 0
	}
	return int64(sample.Value + 0.5)
}

func chunkHours(rows []domain.HourRow, n int) [][]domain.HourRow {
	var out [][]domain.HourRow
	for len(rows) > n {
		out = append(out, rows[:n])
		rows = rows[n:]
	}
	if len(rows) > 0 {
		out = append(out, rows)
	}
	return out
}

func chunkShifts(rows []domain.ShiftRow, n int) [][]domain.ShiftRow {
	var out [][]domain.ShiftRow
	for len(rows) > n {
		out = append(out, rows[:n])
		rows = rows[n:]
	}
	if len(rows) > 0 {
		out = append(out, rows)
	}
	return out
}

func chunkWeeks(rows []domain.WeekRow, n int) [][]domain.WeekRow {
	var out [][]domain.WeekRow
	for len(rows) > n {
		out = append(out, rows[:n])
		rows = rows[n:]
	}
	if len(rows) > 0 {
		out = append(out, rows)
	}
	return out
}

func chunkMarks(rows []domain.WatermarkRow, n int) [][]domain.WatermarkRow {
	var out [][]domain.WatermarkRow
	for len(rows) > n {
		out = append(out, rows[:n])
		rows = rows[n:]
	}
	if len(rows) > 0 {
		out = append(out, rows)
	}
	return out
}
