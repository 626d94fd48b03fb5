package service

import (
	"context"
	"testing"
	"time"

	"takt/internal/core/counter"
	"takt/internal/core/cyclet"
	"takt/internal/core/schedule"
	"takt/internal/core/topic"
	"takt/internal/modkit/repokit"
	"takt/internal/platform/clock"
	"takt/internal/platform/store"
	ccdom "takt/internal/services/configcache/domain"
	histdom "takt/internal/services/historian/domain"
	"takt/internal/services/targets/domain"
	"takt/internal/services/targets/repo"
)

type fakeQ struct{}

func (fakeQ) Exec(context.Context, string, ...any) (store.CommandTag, error) { return nil, nil }
func (fakeQ) Query(context.Context, string, ...any) (store.Rows, error)      { return nil, nil }
func (fakeQ) QueryRow(context.Context, string, ...any) store.Row             { return nil }

type fakeTx struct{ fakeQ }

func (f fakeTx) Tx(_ context.Context, fn func(q store.RowQuerier) error) error {
	return fn(f.fakeQ)
}

type capture struct {
	segs   []domain.SegmentRecord
	hours  []domain.HourTargetRow
	shifts []domain.ShiftTargetRow

	missHours  []domain.MissingHour
	missShifts []domain.MissingShift
}

func (c *capture) UpsertSegments(_ context.Context, recs []domain.SegmentRecord) error {
	c.segs = append(c.segs, recs...)
	return nil
}

func (c *capture) UpsertHourlyTargets(_ context.Context, rows []domain.HourTargetRow) error {
	c.hours = append(c.hours, rows...)
	return nil
}

func (c *capture) UpsertShiftTargets(_ context.Context, rows []domain.ShiftTargetRow) error {
	c.shifts = append(c.shifts, rows...)
	return nil
}

func (c *capture) HoursMissingBase(context.Context, time.Time) ([]domain.MissingHour, error) {
	return c.missHours, nil
}

func (c *capture) ShiftsMissingBase(context.Context, string) ([]domain.MissingShift, error) {
	return c.missShifts, nil
}

type fakeHist struct {
	latest   map[string]counter.Sample
	texts    map[string]histdom.TextSample
	incAt    time.Time
	hasIncAt bool
}

func (f *fakeHist) Anchor(context.Context, string, time.Time) (float64, bool, error) {
	return 0, false, nil
}

func (f *fakeHist) PositiveDelta(context.Context, string, time.Time, time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeHist) FirstIncrementAfter(context.Context, string, float64, time.Time, time.Time) (time.Time, bool, error) {
	return f.incAt, f.hasIncAt, nil
}

func (f *fakeHist) Samples(context.Context, string, time.Time, time.Time) ([]counter.Sample, error) {
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

func (f *fakeHist) LatestText(_ context.Context, paths []string) (map[string]histdom.TextSample, error) {
	out := map[string]histdom.TextSample{}
	for _, p := range paths {
		if s, ok := f.texts[p]; ok {
			out[p] = s
		}
	}
	return out, nil
}

type fakeConfig struct {
	stations []ccdom.Station
	partCT   map[int64]ccdom.PartCT
	forced   map[int64]bool
	forceAll bool
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

func (f *fakeConfig) PartCT(_ context.Context, id int64) (ccdom.PartCT, error) {
	return f.partCT[id], nil
}

func (f *fakeConfig) Settings(context.Context) (ccdom.Settings, error) {
	return ccdom.Settings{Enabled: true, WeekStartDOW: 2}, nil
}

func (f *fakeConfig) Hierarchy(context.Context, []int64) (map[int64]topic.Hierarchy, error) {
	return nil, nil
}

func (f *fakeConfig) Invalidate(*int64) {}

func (f *fakeConfig) ForceOpen(id int64) bool {
	if f.forceAll {
		return true
	}
	if f.forced[id] {
		delete(f.forced, id)
		return true
	}
	return false
}

func (f *fakeConfig) ClearForceAll() { f.forceAll = false }

type fakeSched struct {
	active   schedule.Shift
	activeOK bool
	workMS   int64
}

func (f *fakeSched) Lines(context.Context) ([]int64, error) { return nil, nil }

func (f *fakeSched) ActiveShift(context.Context, int64, time.Time) (schedule.Shift, bool, error) {
	return f.active, f.activeOK, nil
}

func (f *fakeSched) LastEndedShift(context.Context, int64, time.Time, time.Duration) (schedule.Shift, bool, error) {
	return schedule.Shift{}, false, nil
}

func (f *fakeSched) ShiftsOnDate(context.Context, time.Time) ([]schedule.Shift, error) {
	return nil, nil
}

func (f *fakeSched) WorkingMS(_ context.Context, start, end time.Time, _ int64) (int64, error) {
	if f.workMS != 0 {
		return f.workMS, nil
	}
	return end.Sub(start).Milliseconds(), nil
}

func (f *fakeSched) Breaks(context.Context, int64) ([]schedule.Break, error) { return nil, nil }

func testStation(fps int, lambda float64) ccdom.Station {
	return ccdom.Station{
		ID:              1,
		LineID:          1,
		FixturesPerSide: fps,
		IsCritical:      true,
		Parallelism:     lambda,
		BasePath:        "Body/Weld/L1/S1",
		CounterPath:     "Body/Weld/L1/S1/TotalParts",
		CyclePath:       "Body/Weld/L1/S1/CycleTime",
		HasTag:          true,
	}
}

func newTestEngine(hist *fakeHist, cfg *fakeConfig, sched ccdom.SchedulePort, rec *capture) *Engine {
	binder := repokit.BindFunc[repo.Storage](func(repokit.Queryer) repo.Storage { return rec })
	return New(fakeTx{}, binder, hist, cfg, sched, Config{})
}

func fixtureText(st ccdom.Station, i int, part string, ts time.Time) (string, histdom.TextSample) {
	paths := fixturePaths(st)
	return paths[i], histdom.TextSample{TS: ts, Text: part, Good: true}
}

func TestTick_EffectiveCTBlend(t *testing.T) {
	clock.SetSite(time.UTC)
	now := time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC)

	st := testStation(2, 0.5)
	hist := &fakeHist{latest: map[string]counter.Sample{}, texts: map[string]histdom.TextSample{}}
	p0, s0 := fixtureText(st, 0, "A", now)
	p1, s1 := fixtureText(st, 1, "B", now)
	hist.texts[p0], hist.texts[p1] = s0, s1

	cfg := &fakeConfig{
		stations: []ccdom.Station{st},
		partCT: map[int64]ccdom.PartCT{1: {
			CT:         map[string]float64{"A": 30, "B": 50},
			Multiplier: map[string]float64{},
		}},
	}
	rec := &capture{}
	eng := newTestEngine(hist, cfg, &fakeSched{}, rec)
	eng.now = func() time.Time { return now }

	if err := eng.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got := eng.state[st.ID].ctEff
	if got != 32.5 {
		t.Fatalf("ctEff=%v want 32.5 (0.5*mean(40) + 0.5*max/k(25))", got)
	}
}

func TestTick_BreakAwareHourlyTarget(t *testing.T) {
	clock.SetSite(time.UTC)
	now := time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC)

	st := testStation(1, 0)
	hist := &fakeHist{latest: map[string]counter.Sample{}, texts: map[string]histdom.TextSample{}}
	p0, s0 := fixtureText(st, 0, "A", now)
	hist.texts[p0] = s0

	cfg := &fakeConfig{
		stations: []ccdom.Station{st},
		partCT: map[int64]ccdom.PartCT{1: {
			CT:         map[string]float64{"A": 30},
			Multiplier: map[string]float64{},
		}},
	}
	rec := &capture{}
	// 3600s hour minus a 900s break
	eng := newTestEngine(hist, cfg, &fakeSched{workMS: 2700 * 1000}, rec)
	eng.now = func() time.Time { return now }

	if err := eng.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(rec.hours) != 1 {
		t.Fatalf("hour target rows = %d, want 1", len(rec.hours))
	}
	if rec.hours[0].TargetPartsBase != 90 {
		t.Fatalf("TargetPartsBase=%d want 90 (2700/30)", rec.hours[0].TargetPartsBase)
	}

	// unchanged value does not re-emit
	now = now.Add(5 * time.Second)
	if err := eng.Tick(context.Background()); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	if len(rec.hours) != 1 {
		t.Fatalf("hour target rows after tick 2 = %d, want 1", len(rec.hours))
	}
}

func TestSegmentJournal_PendingUntilIncrement(t *testing.T) {
	clock.SetSite(time.UTC)
	now := time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC)

	st := testStation(1, 0)
	hist := &fakeHist{latest: map[string]counter.Sample{}, texts: map[string]histdom.TextSample{}}
	p0, s0 := fixtureText(st, 0, "A", now)
	hist.texts[p0] = s0
	hist.latest[st.CounterPath] = counter.Sample{TS: now, Value: 100, Good: true}

	cfg := &fakeConfig{
		stations: []ccdom.Station{st},
		partCT: map[int64]ccdom.PartCT{1: {
			CT:         map[string]float64{"A": 30},
			Multiplier: map[string]float64{"A": 1.5},
		}},
	}
	rec := &capture{}
	eng := newTestEngine(hist, cfg, &fakeSched{}, rec)
	eng.now = func() time.Time { return now }

	if err := eng.Tick(context.Background()); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	if len(rec.segs) != 0 {
		t.Fatalf("segments after tick 1 = %d, want 0 (pending until an increment)", len(rec.segs))
	}

	// counter rises; the segment pins to the exact increment timestamp
	incTS := now.Add(7 * time.Second)
	now = now.Add(10 * time.Second)
	hist.latest[st.CounterPath] = counter.Sample{TS: now, Value: 101, Good: true}
	hist.incAt, hist.hasIncAt = incTS, true

	if err := eng.Tick(context.Background()); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	if len(rec.segs) != 1 {
		t.Fatalf("segments after tick 2 = %d, want 1", len(rec.segs))
	}
	seg := rec.segs[0]
	if !seg.EffectiveFromUTC.Equal(incTS) {
		t.Fatalf("EffectiveFromUTC=%v want %v", seg.EffectiveFromUTC, incTS)
	}
	if seg.CTMode != cyclet.ModeLiveFixtures || seg.CTEffSec != 30 || seg.OvercycleMultiplier != 1.5 {
		t.Fatalf("segment = %+v", seg)
	}
}

func TestSegmentJournal_MissingConfigOpensImmediately(t *testing.T) {
	clock.SetSite(time.UTC)
	now := time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC)

	st := testStation(1, 0)
	hist := &fakeHist{latest: map[string]counter.Sample{}, texts: map[string]histdom.TextSample{}}
	p0, s0 := fixtureText(st, 0, "UNKNOWN-PART", now)
	hist.texts[p0] = s0

	cfg := &fakeConfig{
		stations: []ccdom.Station{st},
		partCT:   map[int64]ccdom.PartCT{1: {CT: map[string]float64{}, Multiplier: map[string]float64{}}},
	}
	rec := &capture{}
	eng := newTestEngine(hist, cfg, &fakeSched{}, rec)
	eng.now = func() time.Time { return now }

	if err := eng.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(rec.segs) != 1 {
		t.Fatalf("segments = %d, want 1 (missing config bypasses the anchor wait)", len(rec.segs))
	}
	seg := rec.segs[0]
	if seg.CTMode != cyclet.ModeMissingConfig || seg.CTEffSec != 0 || seg.OvercycleMultiplier != 0 {
		t.Fatalf("segment = %+v", seg)
	}
	if !seg.EffectiveFromUTC.Equal(now) {
		t.Fatalf("EffectiveFromUTC=%v want now", seg.EffectiveFromUTC)
	}
}

func TestSegmentJournal_GlobalForceClearsAfterOnePass(t *testing.T) {
	clock.SetSite(time.UTC)
	now := time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC)

	st := testStation(1, 0)
	hist := &fakeHist{latest: map[string]counter.Sample{}, texts: map[string]histdom.TextSample{}}
	p0, s0 := fixtureText(st, 0, "A", now)
	hist.texts[p0] = s0

	cfg := &fakeConfig{
		stations: []ccdom.Station{st},
		partCT: map[int64]ccdom.PartCT{1: {
			CT:         map[string]float64{"A": 30},
			Multiplier: map[string]float64{},
		}},
		forceAll: true, // a global config-change broadcast just landed
	}
	rec := &capture{}
	eng := newTestEngine(hist, cfg, &fakeSched{}, rec)
	eng.now = func() time.Time { return now }

	// the forced pass commits without waiting for a counter increment
	if err := eng.Tick(context.Background()); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	if len(rec.segs) != 1 {
		t.Fatalf("segments after forced pass = %d, want 1", len(rec.segs))
	}
	if !rec.segs[0].EffectiveFromUTC.Equal(now) {
		t.Fatalf("EffectiveFromUTC=%v want now", rec.segs[0].EffectiveFromUTC)
	}
	if cfg.forceAll {
		t.Fatal("global force flag must drop after one full pass")
	}

	// the next CT change goes back to pinning on a real increment
	cfg.partCT[1] = ccdom.PartCT{
		CT:         map[string]float64{"A": 40},
		Multiplier: map[string]float64{},
	}
	now = now.Add(10 * time.Second)
	if err := eng.Tick(context.Background()); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	if len(rec.segs) != 1 {
		t.Fatalf("segments after tick 2 = %d, want 1 (pending until an increment)", len(rec.segs))
	}
}

func TestRepair_FillsMissingBases(t *testing.T) {
	clock.SetSite(time.UTC)
	now := time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC)
	hour := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	st := testStation(1, 0)
	cfg := &fakeConfig{
		stations: []ccdom.Station{st},
		partCT: map[int64]ccdom.PartCT{1: {
			CT:         map[string]float64{"A": 30},
			Multiplier: map[string]float64{},
		}},
	}
	rec := &capture{
		missHours: []domain.MissingHour{{StationID: 1, LineID: 1, HourStartUTC: hour}},
	}
	eng := newTestEngine(&fakeHist{}, cfg, &fakeSched{workMS: 2700 * 1000}, rec)
	eng.now = func() time.Time { return now }

	if err := eng.repair(context.Background(), now); err != nil {
		t.Fatalf("repair: %v", err)
	}
	if len(rec.hours) != 1 {
		t.Fatalf("repaired hour rows = %d, want 1", len(rec.hours))
	}
	if rec.hours[0].TargetPartsBase != 90 || !rec.hours[0].HourStartUTC.Equal(hour) {
		t.Fatalf("row = %+v", rec.hours[0])
	}
}
