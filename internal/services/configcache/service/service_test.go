package service

import (
	"context"
	"testing"
	"time"

	"takt/internal/core/schedule"
	"takt/internal/modkit/repokit"
	"takt/internal/platform/clock"
	"takt/internal/platform/store"
	"takt/internal/services/configcache/domain"
	"takt/internal/services/configcache/repo"
)

type fakeQ struct{}

func (fakeQ) Exec(context.Context, string, ...any) (store.CommandTag, error) { return nil, nil }
func (fakeQ) Query(context.Context, string, ...any) (store.Rows, error)      { return nil, nil }
func (fakeQ) QueryRow(context.Context, string, ...any) store.Row             { return nil }

type fakeTx struct{ fakeQ }

func (f fakeTx) Tx(_ context.Context, fn func(q store.RowQuerier) error) error {
	return fn(f.fakeQ)
}

// counting fakes the configuration repository and counts the loads the
// cache actually pays for
type counting struct {
	stations []domain.Station
	parts    domain.PartCT
	shifts   map[string][]repo.ShiftRow
	breaks   map[string][]repo.BreakRow

	stationLoads int
	partLoads    int
	shiftLoads   int
	breakLoads   int
}

func (c *counting) ActiveStations(context.Context, bool) ([]domain.Station, error) {
	c.stationLoads++
	out := make([]domain.Station, len(c.stations))
	copy(out, c.stations)
	return out, nil
}

func (c *counting) PartCTs(context.Context, int64) (domain.PartCT, error) {
	c.partLoads++
	return c.parts, nil
}

func (c *counting) ShiftsOnDate(_ context.Context, localDate string) ([]repo.ShiftRow, error) {
	c.shiftLoads++
	return c.shifts[localDate], nil
}

func (c *counting) BreaksOnDate(_ context.Context, localDate string) ([]repo.BreakRow, error) {
	c.breakLoads++
	return c.breaks[localDate], nil
}

func (c *counting) Hierarchy(context.Context, []int64) ([]repo.HierarchyRow, error) {
	return nil, nil
}

func (c *counting) Settings(context.Context) (domain.Settings, error) {
	return domain.Settings{Enabled: true, WeekStartDOW: 2}, nil
}

type fakeProber struct{ found map[string]bool }

func (f fakeProber) Probe(_ context.Context, paths []string) (map[string]bool, error) {
	return f.found, nil
}

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(rec *counting, prober domain.TagProber) (*Service, *testClock) {
	clock.SetSite(time.UTC)
	binder := repokit.BindFunc[repo.Storage](func(repokit.Queryer) repo.Storage { return rec })
	svc := New(fakeTx{}, binder, prober, Config{})
	tc := &testClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	svc.now = tc.now
	return svc, tc
}

func TestStations_PathPrecomputeAndTTL(t *testing.T) {
	rec := &counting{stations: []domain.Station{
		{ID: 10, LineID: 1, Area: "Body", Subarea: "Weld", Line: "L1", Name: "Station_010", FixturesPerSide: 0},
		{ID: 20, LineID: 1, Area: "Body", Subarea: "Weld", Line: "L1", Name: "Station_020", FixturesPerSide: 12},
	}}
	prober := fakeProber{found: map[string]bool{
		"Body/Weld/L1/Station_010/TotalParts": true,
	}}
	svc, tc := newTestService(rec, prober)

	got, err := svc.Stations(context.Background())
	if err != nil {
		t.Fatalf("Stations: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 stations, got %d", len(got))
	}
	if got[0].CounterPath != "Body/Weld/L1/Station_010/TotalParts" {
		t.Fatalf("counter path = %q", got[0].CounterPath)
	}
	if got[0].CyclePath != "Body/Weld/L1/Station_010/CycleTime" {
		t.Fatalf("cycle path = %q", got[0].CyclePath)
	}
	if !got[0].HasTag || got[1].HasTag {
		t.Fatalf("probe flags wrong: %v %v", got[0].HasTag, got[1].HasTag)
	}
	// fixtures per side clamps to 1..8
	if got[0].FixturesPerSide != 1 || got[1].FixturesPerSide != 8 {
		t.Fatalf("fixtures clamp: %d %d", got[0].FixturesPerSide, got[1].FixturesPerSide)
	}

	// a second read inside the TTL is served from the cache
	if _, err := svc.Stations(context.Background()); err != nil {
		t.Fatalf("Stations cached: %v", err)
	}
	if rec.stationLoads != 1 {
		t.Fatalf("expected 1 station load, got %d", rec.stationLoads)
	}

	tc.advance(301 * time.Second)
	if _, err := svc.Stations(context.Background()); err != nil {
		t.Fatalf("Stations after TTL: %v", err)
	}
	if rec.stationLoads != 2 {
		t.Fatalf("expected reload after TTL, got %d loads", rec.stationLoads)
	}
}

func TestPartCT_ThrottleAndInvalidate(t *testing.T) {
	rec := &counting{parts: domain.PartCT{
		CT:         map[string]float64{"P1": 30},
		Multiplier: map[string]float64{"P1": 2},
	}}
	svc, tc := newTestService(rec, nil)

	if _, err := svc.PartCT(context.Background(), 10); err != nil {
		t.Fatalf("PartCT: %v", err)
	}
	if _, err := svc.PartCT(context.Background(), 10); err != nil {
		t.Fatalf("PartCT cached: %v", err)
	}
	if rec.partLoads != 1 {
		t.Fatalf("throttle broken: %d loads", rec.partLoads)
	}

	// invalidate drops the cache and arms force-open exactly once
	id := int64(10)
	svc.Invalidate(&id)
	if _, err := svc.PartCT(context.Background(), 10); err != nil {
		t.Fatalf("PartCT after invalidate: %v", err)
	}
	if rec.partLoads != 2 {
		t.Fatalf("expected reload after invalidate, got %d", rec.partLoads)
	}
	if !svc.ForceOpen(10) {
		t.Fatal("expected force-open after invalidate")
	}
	if svc.ForceOpen(10) {
		t.Fatal("force-open must clear after one read")
	}
	// other stations unaffected
	if svc.ForceOpen(20) {
		t.Fatal("station 20 was not invalidated")
	}

	// throttle window re-arms after the reload
	if _, err := svc.PartCT(context.Background(), 10); err != nil {
		t.Fatalf("PartCT: %v", err)
	}
	if rec.partLoads != 2 {
		t.Fatalf("throttle should hold, got %d", rec.partLoads)
	}
	tc.advance(11 * time.Second)
	if _, err := svc.PartCT(context.Background(), 10); err != nil {
		t.Fatalf("PartCT past throttle: %v", err)
	}
	if rec.partLoads != 3 {
		t.Fatalf("expected reload past throttle, got %d", rec.partLoads)
	}
}

func TestInvalidate_AllForcesEveryStation(t *testing.T) {
	svc, _ := newTestService(&counting{}, nil)

	svc.Invalidate(nil)
	if !svc.ForceOpen(1) || !svc.ForceOpen(2) {
		t.Fatal("global invalidate must force every station")
	}
	svc.ClearForceAll()
	if svc.ForceOpen(1) {
		t.Fatal("force-all should clear")
	}
}

func TestShiftIndex_TwoDayWindowAndTTL(t *testing.T) {
	// now = 2026-03-02 10:00 UTC; day shift 06:00-14:00 today, plus an
	// overnight shift that started yesterday 22:00 and ended 06:00
	day := schedule.Shift{
		ShiftID: 2, LineID: 1, LocalDate: "2026-03-02",
		Start: time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
	}
	night := schedule.Shift{
		ShiftID: 1, LineID: 1, LocalDate: "2026-03-01",
		Start: time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC),
	}
	rec := &counting{shifts: map[string][]repo.ShiftRow{
		"2026-03-02": {{LineID: 1, ShiftID: 2, LocalDate: day.LocalDate, Start: day.Start, End: day.End}},
		"2026-03-01": {{LineID: 1, ShiftID: 1, LocalDate: night.LocalDate, Start: night.Start, End: night.End}},
	}}
	svc, tc := newTestService(rec, nil)
	now := tc.t

	w, ok, err := svc.ActiveShift(context.Background(), 1, now)
	if err != nil || !ok {
		t.Fatalf("ActiveShift: ok=%v err=%v", ok, err)
	}
	if w.ShiftID != 2 {
		t.Fatalf("active shift = %d, want 2", w.ShiftID)
	}

	// both local dates loaded in one refresh
	if rec.shiftLoads != 2 {
		t.Fatalf("expected 2 date loads, got %d", rec.shiftLoads)
	}

	// the night shift ended 4h ago; inside a generous grace it is the
	// last ended window
	w, ok, err = svc.LastEndedShift(context.Background(), 1, now, 5*time.Hour)
	if err != nil || !ok {
		t.Fatalf("LastEndedShift: ok=%v err=%v", ok, err)
	}
	if w.ShiftID != 1 {
		t.Fatalf("last ended = %d, want 1", w.ShiftID)
	}
	if _, ok, _ = svc.LastEndedShift(context.Background(), 1, now, time.Hour); ok {
		t.Fatal("grace of 1h should exclude the night shift")
	}

	// reads inside the 8s TTL are cache hits
	if rec.shiftLoads != 2 {
		t.Fatalf("expected cached reads, got %d loads", rec.shiftLoads)
	}
	tc.advance(9 * time.Second)
	if _, _, err := svc.ActiveShift(context.Background(), 1, tc.t); err != nil {
		t.Fatalf("ActiveShift after TTL: %v", err)
	}
	if rec.shiftLoads != 4 {
		t.Fatalf("expected refresh after TTL, got %d loads", rec.shiftLoads)
	}
}

func TestBreaks_MergedAndWorkingMS(t *testing.T) {
	// two overlapping breaks 10:00-10:10 and 10:05-10:20 merge to one
	// 20 minute span; an inactive row is ignored
	rec := &counting{breaks: map[string][]repo.BreakRow{
		"2026-03-02": {
			{LineID: 1, Start: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), End: time.Date(2026, 3, 2, 10, 10, 0, 0, time.UTC), IsActive: true},
			{LineID: 1, Start: time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC), End: time.Date(2026, 3, 2, 10, 20, 0, 0, time.UTC), IsActive: true},
			{LineID: 1, Start: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), End: time.Date(2026, 3, 2, 12, 30, 0, 0, time.UTC), IsActive: false},
		},
	}}
	svc, _ := newTestService(rec, nil)

	spans, err := svc.Breaks(context.Background(), 1)
	if err != nil {
		t.Fatalf("Breaks: %v", err)
	}
	if len(spans) != 1 {
		t.Fatalf("expected 1 merged span, got %d", len(spans))
	}
	if !spans[0].End.Equal(time.Date(2026, 3, 2, 10, 20, 0, 0, time.UTC)) {
		t.Fatalf("merged end = %v", spans[0].End)
	}

	// one hour window minus the 20 minute break
	ms, err := svc.WorkingMS(context.Background(),
		time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC), 1)
	if err != nil {
		t.Fatalf("WorkingMS: %v", err)
	}
	if want := int64(40 * 60 * 1000); ms != want {
		t.Fatalf("WorkingMS = %d, want %d", ms, want)
	}
}
