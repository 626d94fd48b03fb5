// Package service implements the shared plant configuration caches and
// the break/shift index. All engines read through this one instance;
// whichever tick lands first after a TTL expiry pays for the refresh
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"takt/internal/core/schedule"
	"takt/internal/core/topic"
	"takt/internal/modkit/repokit"
	"takt/internal/platform/clock"
	"takt/internal/platform/logger"
	"takt/internal/services/configcache/domain"
	"takt/internal/services/configcache/repo"
)

// Config carries the cache TTLs
type Config struct {
	StationTTL   time.Duration // default 300s
	ShiftTTL     time.Duration // default 8s, the TTL the plant settled on
	BreakTTL     time.Duration // default 120s
	HierarchyTTL time.Duration // default 300s
	PartThrottle time.Duration // min gap between part-CT reloads per station
	CriticalOnly bool
}

func (c *Config) defaults() {
	if c.StationTTL <= 0 {
		c.StationTTL = 300 * time.Second
	}
	if c.ShiftTTL <= 0 {
		c.ShiftTTL = 8 * time.Second
	}
	if c.BreakTTL <= 0 {
		c.BreakTTL = 120 * time.Second
	}
	if c.HierarchyTTL <= 0 {
		c.HierarchyTTL = 300 * time.Second
	}
	if c.PartThrottle <= 0 {
		c.PartThrottle = 10 * time.Second
	}
}

// Service implements domain.ConfigPort and domain.SchedulePort
type Service struct {
	DB     repokit.TxRunner
	Binder repokit.Binder[repo.Storage]
	Prober domain.TagProber
	Cfg    Config

	now func() time.Time

	mu sync.Mutex

	stations    []domain.Station
	stationByID map[int64]domain.Station
	stationsAt  time.Time

	settings   domain.Settings
	settingsAt time.Time

	parts    map[int64]domain.PartCT
	partsAt  map[int64]time.Time
	forceSet map[int64]bool
	forceAll bool

	shifts   map[int64][]schedule.Shift // per line, sorted, today+yesterday
	shiftsAt time.Time

	breaks   map[int64][]schedule.Break // per line, merged disjoint
	breaksAt time.Time

	hier   map[int64]topic.Hierarchy
	hierAt time.Time
}

// New constructs the configuration service. prober may be nil; stations
// then keep HasTag=false until a probe succeeds
func New(db repokit.TxRunner, binder repokit.Binder[repo.Storage], prober domain.TagProber, cfg Config) *Service {
	if db == nil {
		panic("configcache.Service requires a non nil TxRunner")
	}
	if binder == nil {
		panic("configcache.Service requires a non nil Repo binder")
	}
	cfg.defaults()
	return &Service{
		DB:          db,
		Binder:      binder,
		Prober:      prober,
		Cfg:         cfg,
		now:         time.Now,
		stationByID: map[int64]domain.Station{},
		parts:       map[int64]domain.PartCT{},
		partsAt:     map[int64]time.Time{},
		forceSet:    map[int64]bool{},
		shifts:      map[int64][]schedule.Shift{},
		breaks:      map[int64][]schedule.Break{},
		hier:        map[int64]topic.Hierarchy{},
	}
}

// Stations implements domain.ConfigPort
func (s *Service) Stations(ctx context.Context) ([]domain.Station, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refreshStationsLocked(ctx); err != nil {
		return nil, err
	}
	out := make([]domain.Station, len(s.stations))
	copy(out, s.stations)
	return out, nil
}

// Station implements domain.ConfigPort
func (s *Service) Station(ctx context.Context, id int64) (domain.Station, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refreshStationsLocked(ctx); err != nil {
		return domain.Station{}, false, err
	}
	st, ok := s.stationByID[id]
	return st, ok, nil
}

func (s *Service) refreshStationsLocked(ctx context.Context) error {
	if len(s.stations) > 0 && s.now().Sub(s.stationsAt) < s.Cfg.StationTTL {
		return nil
	}

	var loaded []domain.Station
	err := s.DB.Tx(ctx, func(q repokit.Queryer) error {
		var e error
		loaded, e = s.Binder.Bind(q).ActiveStations(ctx, s.Cfg.CriticalOnly)
		return e
	})
	if err != nil {
		return err
	}

	paths := make([]string, 0, len(loaded))
	for i := range loaded {
		st := &loaded[i]
		st.BasePath = fmt.Sprintf("%s/%s/%s/%s", st.Area, st.Subarea, st.Line, st.Name)
		st.CounterPath = st.BasePath + "/TotalParts"
		st.CyclePath = st.BasePath + "/CycleTime"
		if st.FixturesPerSide < 1 {
			st.FixturesPerSide = 1
		}
		if st.FixturesPerSide > 8 {
			st.FixturesPerSide = 8
		}
		paths = append(paths, st.CounterPath)
	}

	if s.Prober != nil {
		found, err := s.Prober.Probe(ctx, paths)
		if err != nil {
			// A probe failure keeps the previous flags; stations without
			// history still seed dense zero rows
			logger.C(ctx).Warn().Err(err).Msg("configcache: tag probe failed")
		} else {
			for i := range loaded {
				loaded[i].HasTag = found[loaded[i].CounterPath]
			}
		}
	}

	s.stations = loaded
	s.stationByID = make(map[int64]domain.Station, len(loaded))
	for _, st := range loaded {
		s.stationByID[st.ID] = st
	}
	s.stationsAt = s.now()
	return nil
}

// PartCT implements domain.ConfigPort. Reloads are throttled so a storm
// of unknown parts cannot hammer the store
func (s *Service) PartCT(ctx context.Context, stationID int64) (domain.PartCT, error) {
	s.mu.Lock()
	cached, ok := s.parts[stationID]
	last := s.partsAt[stationID]
	s.mu.Unlock()

	if ok && s.now().Sub(last) < s.Cfg.PartThrottle {
		return cached, nil
	}

	var loaded domain.PartCT
	err := s.DB.Tx(ctx, func(q repokit.Queryer) error {
		var e error
		loaded, e = s.Binder.Bind(q).PartCTs(ctx, stationID)
		return e
	})
	if err != nil {
		if ok {
			return cached, nil // stale beats nothing mid-tick
		}
		return domain.PartCT{CT: map[string]float64{}, Multiplier: map[string]float64{}}, err
	}

	s.mu.Lock()
	s.parts[stationID] = loaded
	s.partsAt[stationID] = s.now()
	s.mu.Unlock()
	return loaded, nil
}

// Settings implements domain.ConfigPort
func (s *Service) Settings(ctx context.Context) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.settingsAt.IsZero() && s.now().Sub(s.settingsAt) < s.Cfg.StationTTL {
		return s.settings, nil
	}
	var loaded domain.Settings
	err := s.DB.Tx(ctx, func(q repokit.Queryer) error {
		var e error
		loaded, e = s.Binder.Bind(q).Settings(ctx)
		return e
	})
	if err != nil {
		return s.settings, err
	}
	s.settings = loaded
	s.settingsAt = s.now()
	return loaded, nil
}

// Hierarchy implements domain.ConfigPort
func (s *Service) Hierarchy(ctx context.Context, stationIDs []int64) (map[int64]topic.Hierarchy, error) {
	s.mu.Lock()
	fresh := s.now().Sub(s.hierAt) < s.Cfg.HierarchyTTL
	missing := make([]int64, 0, len(stationIDs))
	for _, id := range stationIDs {
		if _, ok := s.hier[id]; !ok || !fresh {
			missing = append(missing, id)
		}
	}
	s.mu.Unlock()

	if len(missing) > 0 {
		var rows []repo.HierarchyRow
		err := s.DB.Tx(ctx, func(q repokit.Queryer) error {
			var e error
			rows, e = s.Binder.Bind(q).Hierarchy(ctx, missing)
			return e
		})
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		if !fresh {
			s.hier = map[int64]topic.Hierarchy{}
		}
		for _, r := range rows {
			s.hier[r.StationID] = topic.Hierarchy{
				Division: r.Division,
				Plant:    r.Plant,
				Area:     r.Area,
				Subarea:  r.Subarea,
				Line:     r.Line,
				Station:  r.Station,
				LineID:   r.LineID,
			}
		}
		s.hierAt = s.now()
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]topic.Hierarchy, len(stationIDs))
	for _, id := range stationIDs {
		if h, ok := s.hier[id]; ok {
			out[id] = h
		}
	}
	return out, nil
}

// Invalidate implements domain.ConfigPort: the on_config_changed hook.
// Drops part-CT state and forces the next targets tick to re-open CT
// segments immediately
func (s *Service) Invalidate(stationID *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stationID == nil {
		s.parts = map[int64]domain.PartCT{}
		s.partsAt = map[int64]time.Time{}
		s.forceAll = true
		s.stationsAt = time.Time{}
		return
	}
	delete(s.parts, *stationID)
	delete(s.partsAt, *stationID)
	s.forceSet[*stationID] = true
}

// ForceOpen implements domain.ConfigPort
func (s *Service) ForceOpen(stationID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forceAll {
		return true
	}
	if s.forceSet[stationID] {
		delete(s.forceSet, stationID)
		return true
	}
	return false
}

// ClearForceAll implements domain.ConfigPort: resets the global force
// flag once a targets pass has re-opened every station
func (s *Service) ClearForceAll() {
	s.mu.Lock()
	s.forceAll = false
	s.mu.Unlock()
}

// Lines implements domain.SchedulePort
func (s *Service) Lines(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refreshShiftsLocked(ctx); err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(s.shifts))
	for id := range s.shifts {
		out = append(out, id)
	}
	return out, nil
}

// ActiveShift implements domain.SchedulePort
func (s *Service) ActiveShift(ctx context.Context, lineID int64, now time.Time) (schedule.Shift, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refreshShiftsLocked(ctx); err != nil {
		return schedule.Shift{}, false, err
	}
	w, ok := schedule.Active(s.shifts[lineID], now)
	return w, ok, nil
}

// LastEndedShift implements domain.SchedulePort
func (s *Service) LastEndedShift(ctx context.Context, lineID int64, now time.Time, grace time.Duration) (schedule.Shift, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refreshShiftsLocked(ctx); err != nil {
		return schedule.Shift{}, false, err
	}
	w, ok := schedule.LastEnded(s.shifts[lineID], now, grace)
	return w, ok, nil
}

// ShiftsOnDate implements domain.SchedulePort. Dates outside the cached
// two-day window read through to the store
func (s *Service) ShiftsOnDate(ctx context.Context, date time.Time) ([]schedule.Shift, error) {
	localDate := clock.LocalDate(date)
	var rows []repo.ShiftRow
	err := s.DB.Tx(ctx, func(q repokit.Queryer) error {
		var e error
		rows, e = s.Binder.Bind(q).ShiftsOnDate(ctx, localDate)
		return e
	})
	if err != nil {
		return nil, err
	}
	out := make([]schedule.Shift, 0, len(rows))
	for _, r := range rows {
		out = append(out, schedule.Shift{
			ShiftID:   r.ShiftID,
			LineID:    r.LineID,
			LocalDate: r.LocalDate,
			Start:     r.Start,
			End:       r.End,
		})
	}
	return schedule.SortShifts(out), nil
}

// WorkingMS implements domain.SchedulePort
func (s *Service) WorkingMS(ctx context.Context, start, end time.Time, lineID int64) (int64, error) {
	breaks, err := s.Breaks(ctx, lineID)
	if err != nil {
		return 0, err
	}
	return schedule.WorkingMS(start, end, breaks), nil
}

// Breaks implements domain.SchedulePort
func (s *Service) Breaks(ctx context.Context, lineID int64) ([]schedule.Break, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refreshBreaksLocked(ctx); err != nil {
		return nil, err
	}
	return s.breaks[lineID], nil
}

func (s *Service) refreshShiftsLocked(ctx context.Context) error {
	if !s.shiftsAt.IsZero() && s.now().Sub(s.shiftsAt) < s.Cfg.ShiftTTL {
		return nil
	}

	now := s.now()
	today := clock.LocalDate(now)
	yesterday := clock.LocalDate(now.AddDate(0, 0, -1))

	var rows []repo.ShiftRow
	err := s.DB.Tx(ctx, func(q repokit.Queryer) error {
		r := s.Binder.Bind(q)
		d0, e := r.ShiftsOnDate(ctx, today)
		if e != nil {
			return e
		}
		d1, e := r.ShiftsOnDate(ctx, yesterday)
		if e != nil {
			return e
		}
		rows = append(d1, d0...)
		return nil
	})
	if err != nil {
		return err
	}

	byLine := map[int64][]schedule.Shift{}
	for _, r := range rows {
		byLine[r.LineID] = append(byLine[r.LineID], schedule.Shift{
			ShiftID:   r.ShiftID,
			LineID:    r.LineID,
			LocalDate: r.LocalDate,
			Start:     r.Start,
			End:       r.End,
		})
	}
	for id := range byLine {
		byLine[id] = schedule.SortShifts(byLine[id])
	}
	s.shifts = byLine
	s.shiftsAt = now
	return nil
}

func (s *Service) refreshBreaksLocked(ctx context.Context) error {
	if !s.breaksAt.IsZero() && s.now().Sub(s.breaksAt) < s.Cfg.BreakTTL {
		return nil
	}

	now := s.now()
	today := clock.LocalDate(now)
	yesterday := clock.LocalDate(now.AddDate(0, 0, -1))

	var rows []repo.BreakRow
	err := s.DB.Tx(ctx, func(q repokit.Queryer) error {
		r := s.Binder.Bind(q)
		d0, e := r.BreaksOnDate(ctx, today)
		if e != nil {
			return e
		}
		d1, e := r.BreaksOnDate(ctx, yesterday)
		if e != nil {
			return e
		}
		rows = append(d1, d0...)
		return nil
	})
	if err != nil {
		return err
	}

	byLine := map[int64][]schedule.Break{}
	for _, r := range rows {
		if !r.IsActive {
			continue
		}
		byLine[r.LineID] = append(byLine[r.LineID], schedule.Break{
			LineID: r.LineID,
			Start:  r.Start,
			End:    r.End,
		})
	}
	for id := range byLine {
		byLine[id] = schedule.MergeBreaks(byLine[id])
	}
	s.breaks = byLine
	s.breaksAt = now
	return nil
}
