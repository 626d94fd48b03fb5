package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"takt/internal/core/counter"
	"takt/internal/core/schedule"
	"takt/internal/core/topic"
	"takt/internal/modkit/repokit"
	"takt/internal/platform/clock"
	"takt/internal/platform/store"
	ccdom "takt/internal/services/configcache/domain"
	histdom "takt/internal/services/historian/domain"
	"takt/internal/services/rollup/domain"
	"takt/internal/services/rollup/repo"
)

type fakeQ struct{}

func (fakeQ) Exec(context.Context, string, ...any) (store.CommandTag, error) { return nil, nil }
func (fakeQ) Query(context.Context, string, ...any) (store.Rows, error)      { return nil, nil }
func (fakeQ) QueryRow(context.Context, string, ...any) store.Row             { return nil }

type fakeTx struct{ fakeQ }

func (f fakeTx) Tx(_ context.Context, fn func(q store.RowQuerier) error) error {
	return fn(f.fakeQ)
}

// capture records every row the engine flushes, standing in for postgres
type capture struct {
	hours  []domain.HourRow
	shifts []domain.ShiftRow
	weeks  []domain.WeekRow
	marks  []domain.WatermarkRow
}

func (c *capture) UpsertHourlyBatch(_ context.Context, rows []domain.HourRow) error {
	c.hours = append(c.hours, rows...)
	return nil
}

func (c *capture) UpsertShiftBatch(_ context.Context, rows []domain.ShiftRow) error {
	c.shifts = append(c.shifts, rows...)
	return nil
}

func (c *capture) UpsertWeeklyBatch(_ context.Context, rows []domain.WeekRow) error {
	c.weeks = append(c.weeks, rows...)
	return nil
}

func (c *capture) UpsertWatermarksBatch(_ context.Context, rows []domain.WatermarkRow) error {
	c.marks = append(c.marks, rows...)
	return nil
}

func (c *capture) OpenStates(context.Context) ([]domain.StationState, error) { return nil, nil }

type fakeHist struct {
	latest map[string]counter.Sample
	delta  func(path string, start, end time.Time) int64
	anchor func(path string, at time.Time) (float64, bool)
}

func (f *fakeHist) Anchor(_ context.Context, path string, at time.Time) (float64, bool, error) {
	if f.anchor == nil {
		return 0, false, nil
	}
	v, ok := f.anchor(path, at)
	return v, ok, nil
}

func (f *fakeHist) PositiveDelta(_ context.Context, path string, start, end time.Time) (int64, error) {
	if f.delta == nil {
		return 0, nil
	}
	return f.delta(path, start, end), nil
}

func (f *fakeHist) FirstIncrementAfter(context.Context, string, float64, time.Time, time.Time) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (f *fakeHist) Samples(context.Context, string, time.Time, time.Time) ([]counter.Sample, error) {
	return nil, nil
}

func (f *fakeHist) LatestText(context.Context, []string) (map[string]histdom.TextSample, error) {
	return nil, nil
}

func (f *fakeHist) Latest(_ context.Context, paths []string) (map[string]counter.Sample, error) {
	out := map[string]counter.Sample{}
	for _, p := range paths {
		if s, ok := f.latest[p]; ok {
			out[p] = s
		}
	}
	return out, nil
}

type fakeConfig struct {
	stations []ccdom.Station
	settings ccdom.Settings
}

func (f *fakeConfig) Stations(context.Context) ([]ccdom.Station, error) { return f.stations, nil }

func (f *fakeConfig) Station(_ context.Context, id int64) (ccdom.Station, bool, error) {
	for _, st := range f.stations {
		if st.ID == id {
			return st, true, nil
		}
	}
	return ccdom.Station{}, false, nil
}

func (f *fakeConfig) PartCT(context.Context, int64) (ccdom.PartCT, error) {
	return ccdom.PartCT{}, nil
}

func (f *fakeConfig) Settings(context.Context) (ccdom.Settings, error) { return f.settings, nil }

func (f *fakeConfig) Hierarchy(context.Context, []int64) (map[int64]topic.Hierarchy, error) {
	return nil, nil
}

func (f *fakeConfig) Invalidate(*int64)    {}
func (f *fakeConfig) ForceOpen(int64) bool { return false }
func (f *fakeConfig) ClearForceAll()       {}

type fakeSched struct {
	active    schedule.Shift
	activeOK  bool
	ended     schedule.Shift
	endedOK   bool
	shiftsDay []schedule.Shift
}

func (f *fakeSched) Lines(context.Context) ([]int64, error) { return nil, nil }

func (f *fakeSched) ActiveShift(context.Context, int64, time.Time) (schedule.Shift, bool, error) {
	return f.active, f.activeOK, nil
}

func (f *fakeSched) LastEndedShift(context.Context, int64, time.Time, time.Duration) (schedule.Shift, bool, error) {
	return f.ended, f.endedOK, nil
}

func (f *fakeSched) ShiftsOnDate(context.Context, time.Time) ([]schedule.Shift, error) {
	return f.shiftsDay, nil
}

func (f *fakeSched) WorkingMS(_ context.Context, start, end time.Time, _ int64) (int64, error) {
	return end.Sub(start).Milliseconds(), nil
}

func (f *fakeSched) Breaks(context.Context, int64) ([]schedule.Break, error) { return nil, nil }

func station(id, line int64) ccdom.Station {
	return ccdom.Station{
		ID:          id,
		LineID:      line,
		CounterPath: "P/A/S/L/St/TotalParts",
		HasTag:      true,
	}
}

func newTestService(hist *fakeHist, cfg *fakeConfig, sched ccdom.SchedulePort, rec *capture) *Service {
	binder := repokit.BindFunc[repo.Storage](func(repokit.Queryer) repo.Storage { return rec })
	return New(fakeTx{}, binder, hist, cfg, sched, Config{})
}

func TestTick_HourlyRollover(t *testing.T) {
	clock.SetSite(time.UTC)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	hour10 := day.Add(10 * time.Hour)
	hour11 := day.Add(11 * time.Hour)

	st := station(1, 1)
	hist := &fakeHist{
		latest: map[string]counter.Sample{},
		anchor: func(_ string, at time.Time) (float64, bool) {
			switch {
			case at.Equal(hour10):
				return 100, true
			case at.Equal(hour11):
				return 180, true
			}
			return 0, false
		},
		delta: func(_ string, start, end time.Time) int64 {
			if start.Equal(hour10) {
				return 50 // history says 50 parts between 10:00 and first tick
			}
			return 0
		},
	}
	cfg := &fakeConfig{stations: []ccdom.Station{st}, settings: ccdom.Settings{Enabled: true, WeekStartDOW: 2}}
	rec := &capture{}
	svc := newTestService(hist, cfg, &fakeSched{}, rec)
	svc.bootDate = clock.LocalDate(hour10) // bootstrap covered separately

	now := hour10.Add(30 * time.Minute)
	svc.now = func() time.Time { return now }

	hist.latest[st.CounterPath] = counter.Sample{TS: now, Value: 150, Good: true}
	if err := svc.Tick(context.Background()); err != nil {
		t.Fatalf("tick 1: %v", err)
	}

	// last tick before the hour boundary sees 180
	now = hour10.Add(59*time.Minute + 59*time.Second)
	hist.latest[st.CounterPath] = counter.Sample{TS: now, Value: 180, Good: true}
	if err := svc.Tick(context.Background()); err != nil {
		t.Fatalf("tick 2: %v", err)
	}

	// first tick of the new hour closes 10:00
	now = hour11.Add(5 * time.Second)
	if err := svc.Tick(context.Background()); err != nil {
		t.Fatalf("tick 3: %v", err)
	}

	var closed *domain.HourRow
	for i := range rec.hours {
		r := rec.hours[i]
		if r.IsClosed && r.HourStartUTC.Equal(hour10) {
			closed = &rec.hours[i]
		}
	}
	if closed == nil {
		t.Fatal("no closed row for the 10:00 hour")
	}
	if closed.TotalParts != 80 {
		t.Fatalf("TotalParts=%d want 80", closed.TotalParts)
	}
	if closed.StartCount == nil || *closed.StartCount != 100 {
		t.Fatalf("StartCount=%v want 100", closed.StartCount)
	}
	if closed.EndCount == nil || *closed.EndCount != 180 {
		t.Fatalf("EndCount=%v want 180", closed.EndCount)
	}

	// the new hour is anchored at the historian value for 11:00
	snap := svc.StateSnapshot()
	if len(snap) != 1 {
		t.Fatalf("state len=%d want 1", len(snap))
	}
	if !snap[0].HourStartUTC.Equal(hour11) || snap[0].HourStartCount != 180 {
		t.Fatalf("new hour state = %+v, want anchor 11:00 at 180", snap[0])
	}

	if len(rec.marks) != 1 || rec.marks[0].EndCount != 180 {
		t.Fatalf("watermarks = %+v, want one row ending at 180", rec.marks)
	}
}

func TestTick_ResetAccumulation(t *testing.T) {
	clock.SetSite(time.UTC)
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	st := station(1, 1)
	hist := &fakeHist{latest: map[string]counter.Sample{}}
	cfg := &fakeConfig{stations: []ccdom.Station{st}, settings: ccdom.Settings{Enabled: true, WeekStartDOW: 2}}
	rec := &capture{}
	svc := newTestService(hist, cfg, &fakeSched{}, rec)
	svc.bootDate = clock.LocalDate(base)

	now := base.Add(5 * time.Minute)
	svc.now = func() time.Time { return now }

	for i, v := range []float64{50, 55, 0, 7} {
		now = base.Add(time.Duration(5+5*i) * time.Minute)
		hist.latest[st.CounterPath] = counter.Sample{TS: now, Value: v, Good: true}
		if err := svc.Tick(context.Background()); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	snap := svc.StateSnapshot()
	if len(snap) != 1 {
		t.Fatalf("state len=%d want 1", len(snap))
	}
	if snap[0].HourTotal != 12 {
		t.Fatalf("HourTotal=%d want 12 (5 before the reset, 7 after)", snap[0].HourTotal)
	}
	if snap[0].LastPeak != 7 {
		t.Fatalf("LastPeak=%d want 7", snap[0].LastPeak)
	}
}

func TestTick_BadQualityFreezesState(t *testing.T) {
	clock.SetSite(time.UTC)
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	st := station(1, 1)
	hist := &fakeHist{latest: map[string]counter.Sample{}}
	cfg := &fakeConfig{stations: []ccdom.Station{st}, settings: ccdom.Settings{Enabled: true, WeekStartDOW: 2}}
	rec := &capture{}
	svc := newTestService(hist, cfg, &fakeSched{}, rec)
	svc.bootDate = clock.LocalDate(base)

	now := base.Add(time.Minute)
	svc.now = func() time.Time { return now }

	hist.latest[st.CounterPath] = counter.Sample{TS: now, Value: 100, Good: true}
	if err := svc.Tick(context.Background()); err != nil {
		t.Fatalf("tick 1: %v", err)
	}

	now = base.Add(2 * time.Minute)
	hist.latest[st.CounterPath] = counter.Sample{TS: now, Value: 500, Good: false}
	if err := svc.Tick(context.Background()); err != nil {
		t.Fatalf("tick 2: %v", err)
	}

	snap := svc.StateSnapshot()
	if !snap[0].Frozen {
		t.Fatal("expected frozen state after a bad quality read")
	}
	if snap[0].LastPeak != 100 {
		t.Fatalf("LastPeak=%d, bad sample must not accumulate", snap[0].LastPeak)
	}
}

func TestTick_LateShiftReconciliationIsIdempotent(t *testing.T) {
	clock.SetSite(time.UTC)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	st := station(1, 1)
	ended := schedule.Shift{
		ShiftID:   3,
		LineID:    1,
		LocalDate: "2026-03-02",
		Start:     day.Add(6 * time.Hour),
		End:       day.Add(14 * time.Hour),
	}
	hist := &fakeHist{
		latest: map[string]counter.Sample{},
		delta: func(_ string, start, end time.Time) int64 {
			if start.Equal(ended.Start) && end.Equal(ended.End) {
				return 420
			}
			return 0
		},
	}
	cfg := &fakeConfig{stations: []ccdom.Station{st}, settings: ccdom.Settings{Enabled: true, WeekStartDOW: 2}}
	rec := &capture{}
	sched := &fakeSched{ended: ended, endedOK: true}
	svc := newTestService(hist, cfg, sched, rec)
	svc.bootDate = clock.LocalDate(day)

	now := day.Add(14*time.Hour + 5*time.Minute)
	svc.now = func() time.Time { return now }
	hist.latest[st.CounterPath] = counter.Sample{TS: now, Value: 900, Good: true}

	if err := svc.Tick(context.Background()); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	now = now.Add(5 * time.Minute)
	if err := svc.Tick(context.Background()); err != nil {
		t.Fatalf("tick 2: %v", err)
	}

	var finals int
	for _, r := range rec.shifts {
		if r.IsClosed && r.ShiftID == ended.ShiftID && r.ShiftLocalDate == ended.LocalDate {
			finals++
			if r.TotalParts != 420 {
				t.Fatalf("TotalParts=%d want 420", r.TotalParts)
			}
		}
	}
	if finals != 1 {
		t.Fatalf("closed rows for the ended shift = %d, want exactly 1", finals)
	}
}

// statements records the rows of each individual upsert call so a
// single statement's contents can be inspected
type statements struct {
	capture
	shiftCalls [][]domain.ShiftRow
	hourErr    error
}

func (c *statements) UpsertHourlyBatch(ctx context.Context, rows []domain.HourRow) error {
	if c.hourErr != nil {
		return c.hourErr
	}
	return c.capture.UpsertHourlyBatch(ctx, rows)
}

func (c *statements) UpsertShiftBatch(ctx context.Context, rows []domain.ShiftRow) error {
	c.shiftCalls = append(c.shiftCalls, append([]domain.ShiftRow(nil), rows...))
	return c.capture.UpsertShiftBatch(ctx, rows)
}

func TestTick_RestartMidShiftWritesOneRowPerKey(t *testing.T) {
	clock.SetSite(time.UTC)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	active := schedule.Shift{
		ShiftID:   5,
		LineID:    1,
		LocalDate: "2026-03-02",
		Start:     day.Add(6 * time.Hour),
		End:       day.Add(14 * time.Hour),
	}

	st := station(1, 1)
	hist := &fakeHist{
		latest: map[string]counter.Sample{},
		delta:  func(string, time.Time, time.Time) int64 { return 40 },
	}
	cfg := &fakeConfig{stations: []ccdom.Station{st}, settings: ccdom.Settings{Enabled: true, WeekStartDOW: 2}}
	rec := &statements{}
	sched := &fakeSched{active: active, activeOK: true, shiftsDay: []schedule.Shift{active}}
	binder := repokit.BindFunc[repo.Storage](func(repokit.Queryer) repo.Storage { return rec })
	svc := New(fakeTx{}, binder, hist, cfg, sched, Config{})

	// first tick after a process restart, four hours into the shift:
	// the bootstrap reconstructs the shift row and the live pass opens
	// the same (station, shift, date) window
	now := day.Add(10*time.Hour + 30*time.Second)
	svc.now = func() time.Time { return now }
	hist.latest[st.CounterPath] = counter.Sample{TS: now, Value: 240, Good: true}

	if err := svc.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	// every statement must carry each conflict target at most once
	for call, rows := range rec.shiftCalls {
		seen := map[string]int{}
		for _, r := range rows {
			seen[fmt.Sprintf("%d|%d|%s", r.StationID, r.ShiftID, r.ShiftLocalDate)]++
		}
		for k, n := range seen {
			if n > 1 {
				t.Fatalf("statement %d carries key %q %d times", call, k, n)
			}
		}
	}

	// the live snapshot wins over the reconstructed bootstrap row
	var open int
	for _, r := range rec.shifts {
		if r.ShiftID == active.ShiftID && r.ShiftLocalDate == active.LocalDate {
			open++
			if r.IsClosed {
				t.Fatalf("active shift row closed: %+v", r)
			}
		}
	}
	if open != 1 {
		t.Fatalf("rows for the active shift = %d, want exactly 1", open)
	}

	if svc.bootDate != "2026-03-02" {
		t.Fatalf("bootDate=%q, want today after a clean flush", svc.bootDate)
	}
}

func TestTick_BootstrapRetriesAfterFailedFlush(t *testing.T) {
	clock.SetSite(time.UTC)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	st := station(1, 1)
	hist := &fakeHist{latest: map[string]counter.Sample{}}
	cfg := &fakeConfig{stations: []ccdom.Station{st}, settings: ccdom.Settings{Enabled: true, WeekStartDOW: 2}}
	rec := &statements{hourErr: context.DeadlineExceeded}
	binder := repokit.BindFunc[repo.Storage](func(repokit.Queryer) repo.Storage { return rec })
	svc := New(fakeTx{}, binder, hist, cfg, &fakeSched{}, Config{})

	now := day.Add(10*time.Hour + 30*time.Second)
	svc.now = func() time.Time { return now }
	hist.latest[st.CounterPath] = counter.Sample{TS: now, Value: 100, Good: true}

	if err := svc.Tick(context.Background()); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	if svc.bootDate != "" {
		t.Fatalf("bootDate=%q, must stay unset while the batch is lost", svc.bootDate)
	}

	// storage recovers; the next tick replays the full bootstrap
	rec.hourErr = nil
	now = now.Add(30 * time.Second)
	if err := svc.Tick(context.Background()); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	if svc.bootDate != "2026-03-02" {
		t.Fatalf("bootDate=%q after recovery", svc.bootDate)
	}
	var closed int
	for _, r := range rec.hours {
		if r.IsClosed {
			closed++
		}
	}
	if closed != 10 {
		t.Fatalf("closed bootstrap hours=%d, want the 10 finished hours of today", closed)
	}
}

func TestBackfillDay(t *testing.T) {
	clock.SetSite(time.UTC)
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	tagged := station(1, 1)
	bare := ccdom.Station{ID: 2, LineID: 1}
	hist := &fakeHist{
		delta: func(_ string, start, _ time.Time) int64 {
			if start.Hour() == 10 {
				return 37
			}
			return 0
		},
	}
	cfg := &fakeConfig{
		stations: []ccdom.Station{tagged, bare},
		settings: ccdom.Settings{Enabled: true, WeekStartDOW: 2},
	}
	rec := &capture{}
	svc := newTestService(hist, cfg, &fakeSched{}, rec)

	res, err := svc.BackfillDay(context.Background(), day, false, 0)
	if err != nil {
		t.Fatalf("BackfillDay: %v", err)
	}
	if res.HourlyUpserted != 1 {
		t.Fatalf("HourlyUpserted=%d want 1 (only the hour with data)", res.HourlyUpserted)
	}
	if !rec.hours[0].IsClosed || rec.hours[0].TotalParts != 37 {
		t.Fatalf("row = %+v, want closed with 37 parts", rec.hours[0])
	}

	// zero-writing produces the dense grid: 24 hours for both stations
	rec.hours = nil
	res, err = svc.BackfillDay(context.Background(), day, true, 0)
	if err != nil {
		t.Fatalf("BackfillDay zero: %v", err)
	}
	if res.HourlyUpserted != 48 {
		t.Fatalf("HourlyUpserted=%d want 48", res.HourlyUpserted)
	}
}
