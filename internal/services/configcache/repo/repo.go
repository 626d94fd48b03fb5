// Package repo provides the plant configuration repository over postgres
package repo

import (
	"context"
	"time"

	"takt/internal/modkit/repokit"
	"takt/internal/services/configcache/domain"
)

type (
	pg     struct{ q repokit.Queryer }
	binder struct{}
)

// NewPG constructs a repo binder for postgres
func NewPG() repokit.Binder[Storage] { return binder{} }

// Bind implements repokit.Binder
func (binder) Bind(q repokit.Queryer) Storage { return &pg{q: q} }

// ShiftRow is one schedule row before index assembly
type ShiftRow struct {
	LineID    int64
	ShiftID   int64
	LocalDate string
	Start     time.Time
	End       time.Time
}

// BreakRow is one break row before merging
type BreakRow struct {
	LineID   int64
	Start    time.Time
	End      time.Time
	IsActive bool
}

// HierarchyRow carries the display names one station resolves to
type HierarchyRow struct {
	StationID int64
	Division  string
	Plant     string
	Area      string
	Subarea   string
	Line      string
	Station   string
	LineID    int64
}

// Storage is the plant configuration read surface
type Storage interface {
	ActiveStations(ctx context.Context, criticalOnly bool) ([]domain.Station, error)
	PartCTs(ctx context.Context, stationID int64) (domain.PartCT, error)
	ShiftsOnDate(ctx context.Context, localDate string) ([]ShiftRow, error)
	BreaksOnDate(ctx context.Context, localDate string) ([]BreakRow, error)
	Hierarchy(ctx context.Context, stationIDs []int64) ([]HierarchyRow, error)
	Settings(ctx context.Context) (domain.Settings, error)
}

// ActiveStations implements Storage
func (s *pg) ActiveStations(ctx context.Context, criticalOnly bool) ([]domain.Station, error) {
	const sql = `
		SELECT station_id, line_id, area, subarea, line_name, station_name,
			is_turntable, fixtures_per_side, is_critical, parallelism_factor
		FROM stations
		WHERE is_active
			AND (NOT $1 OR is_critical)
		ORDER BY station_id`

	rows, err := s.q.Query(ctx, sql, criticalOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Station
	for rows.Next() {
		var st domain.Station
		if err := rows.Scan(
			&st.ID, &st.LineID, &st.Area, &st.Subarea, &st.Line, &st.Name,
			&st.IsTurntable, &st.FixturesPerSide, &st.IsCritical, &st.Parallelism,
		); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// PartCTs implements Storage
func (s *pg) PartCTs(ctx context.Context, stationID int64) (domain.PartCT, error) {
	const sql = `
		SELECT part_number, cycle_time_sec, overcycle_multiplier
		FROM station_part_ct
		WHERE station_id = $1 AND cycle_time_sec > 0`

	rows, err := s.q.Query(ctx, sql, stationID)
	if err != nil {
		return domain.PartCT{}, err
	}
	defer rows.Close()

	out := domain.PartCT{CT: map[string]float64{}, Multiplier: map[string]float64{}}
	for rows.Next() {
		var (
			part string
			ct   float64
			mult float64
		)
		if err := rows.Scan(&part, &ct, &mult); err != nil {
			return domain.PartCT{}, err
		}
		out.CT[part] = ct
		if mult > 0 {
			out.Multiplier[part] = mult
		}
	}
	return out, rows.Err()
}

// ShiftsOnDate implements Storage
func (s *pg) ShiftsOnDate(ctx context.Context, localDate string) ([]ShiftRow, error) {
	const sql = `
		SELECT line_id, shift_id, shift_local_date, shift_start_local, shift_end_local
		FROM shift_schedule
		WHERE shift_local_date = $1 AND is_active
		ORDER BY line_id, shift_start_local`

	rows, err := s.q.Query(ctx, sql, localDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ShiftRow
	for rows.Next() {
		var r ShiftRow
		if err := rows.Scan(&r.LineID, &r.ShiftID, &r.LocalDate, &r.Start, &r.End); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// BreaksOnDate implements Storage
func (s *pg) BreaksOnDate(ctx context.Context, localDate string) ([]BreakRow, error) {
	const sql = `
		SELECT line_id, break_start_local, break_end_local, is_active
		FROM break_schedule
		WHERE break_local_date = $1
		ORDER BY line_id, break_start_local`

	rows, err := s.q.Query(ctx, sql, localDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BreakRow
	for rows.Next() {
		var r BreakRow
		if err := rows.Scan(&r.LineID, &r.Start, &r.End, &r.IsActive); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Hierarchy implements Storage
func (s *pg) Hierarchy(ctx context.Context, stationIDs []int64) ([]HierarchyRow, error) {
	if len(stationIDs) == 0 {
		return nil, nil
	}
	const sql = `
		SELECT station_id, division, plant, area, subarea, line_name, station_name, line_id
		FROM station_hierarchy
		WHERE station_id = ANY($1)`

	rows, err := s.q.Query(ctx, sql, stationIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HierarchyRow
	for rows.Next() {
		var r HierarchyRow
		if err := rows.Scan(&r.StationID, &r.Division, &r.Plant, &r.Area, &r.Subarea, &r.Line, &r.Station, &r.LineID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Settings implements Storage. Missing rows fall back to enabled with
// the plant default week start
func (s *pg) Settings(ctx context.Context) (domain.Settings, error) {
	const sql = `SELECT is_enabled, week_start_dow FROM rollup_settings LIMIT 1`

	out := domain.Settings{Enabled: true, WeekStartDOW: 2}
	rows, err := s.q.Query(ctx, sql)
	if err != nil {
		return out, err
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&out.Enabled, &out.WeekStartDOW); err != nil {
			return out, err
		}
	}
	if out.WeekStartDOW < 1 || out.WeekStartDOW > 7 {
		out.WeekStartDOW = 2
	}
	return out, rows.Err()
}
