// Package repo persists CT segments and base targets into postgres
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"takt/internal/modkit/repokit"
	"takt/internal/services/targets/domain"
)

type (
	pg     struct{ q repokit.Queryer }
	binder struct{}
)

// NewPG constructs a repo binder for postgres
func NewPG() repokit.Binder[Storage] { return binder{} }

// Bind implements repokit.Binder
func (binder) Bind(q repokit.Queryer) Storage { return &pg{q: q} }

// Storage is the targets write and repair surface
type Storage interface {
	UpsertSegments(ctx context.Context, recs []domain.SegmentRecord) error
	UpsertHourlyTargets(ctx context.Context, rows []domain.HourTargetRow) error
	UpsertShiftTargets(ctx context.Context, rows []domain.ShiftTargetRow) error
	HoursMissingBase(ctx context.Context, cutoff time.Time) ([]domain.MissingHour, error)
	ShiftsMissingBase(ctx context.Context, cutoffDate string) ([]domain.MissingShift, error)
}

// UpsertSegments implements Storage. Conflict on the natural key makes
// the journal idempotent when a tick retries
func (s *pg) UpsertSegments(ctx context.Context, recs []domain.SegmentRecord) error {
	if len(recs) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO ct_segments
		(station_id, effective_from_utc, ct_eff_sec, fixtures_per_side, is_turntable,
		 parallelism_factor, parts_json, ct_mode, overcycle_multiplier, updated_at) VALUES `)

	args := make([]any, 0, len(recs)*9)
	for i, r := range recs {
		if i > 0 {
			sb.WriteByte(',')
		}
		parts, err := json.Marshal(r.Parts)
		if err != nil {
			return err
		}
		base := i*9 + 1
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,now())",
			base, base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		args = append(args, r.StationID, r.EffectiveFromUTC, r.CTEffSec, r.FixturesPerSide,
			r.IsTurntable, r.ParallelismFactor, string(parts), r.CTMode, r.OvercycleMultiplier)
	}
	sb.WriteString(`
		ON CONFLICT (station_id, effective_from_utc) DO UPDATE SET
			ct_eff_sec           = EXCLUDED.ct_eff_sec,
			fixtures_per_side    = EXCLUDED.fixtures_per_side,
			is_turntable         = EXCLUDED.is_turntable,
			parallelism_factor   = EXCLUDED.parallelism_factor,
			parts_json           = EXCLUDED.parts_json,
			ct_mode              = EXCLUDED.ct_mode,
			overcycle_multiplier = EXCLUDED.overcycle_multiplier,
			updated_at           = now()`)

	_, err := s.q.Exec(ctx, sb.String(), args...)
	return err
}

// UpsertHourlyTargets implements Storage. Targets are metadata on the
// rollup rows and may be repaired after close
func (s *pg) UpsertHourlyTargets(ctx context.Context, rows []domain.HourTargetRow) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO production_hourly
		(station_id, line_id, hour_start_utc, target_parts_base, updated_at) VALUES `)

	args := make([]any, 0, len(rows)*4)
	for i, r := range rows {
		if i > 0 {
			sb.WriteByte(',')
		}
		base := i*4 + 1
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,now())", base, base+1, base+2, base+3)
		args = append(args, r.StationID, r.LineID, r.HourStartUTC, r.TargetPartsBase)
	}
	sb.WriteString(`
		ON CONFLICT (station_id, hour_start_utc) DO UPDATE SET
			target_parts_base = EXCLUDED.target_parts_base,
			updated_at        = now()`)

	_, err := s.q.Exec(ctx, sb.String(), args...)
	return err
}

// UpsertShiftTargets implements Storage
func (s *pg) UpsertShiftTargets(ctx context.Context, rows []domain.ShiftTargetRow) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO production_shift
		(station_id, line_id, shift_id, shift_local_date, target_parts_base, updated_at) VALUES `)

	args := make([]any, 0, len(rows)*5)
	for i, r := range rows {
		if i > 0 {
			sb.WriteByte(',')
		}
		base := i*5 + 1
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,now())", base, base+1, base+2, base+3, base+4)
		args = append(args, r.StationID, r.LineID, r.ShiftID, r.ShiftLocalDate, r.TargetPartsBase)
	}
	sb.WriteString(`
		ON CONFLICT (station_id, shift_id, shift_local_date) DO UPDATE SET
			target_parts_base = EXCLUDED.target_parts_base,
			updated_at        = now()`)

	_, err := s.q.Exec(ctx, sb.String(), args...)
	return err
}

// HoursMissingBase implements Storage
func (s *pg) HoursMissingBase(ctx context.Context, cutoff time.Time) ([]domain.MissingHour, error) {
	const sql = `
		SELECT station_id, line_id, hour_start_utc
		FROM production_hourly
		WHERE target_parts_base IS NULL AND hour_start_utc >= $1
		ORDER BY hour_start_utc`

	rows, err := s.q.Query(ctx, sql, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MissingHour
	for rows.Next() {
		var m domain.MissingHour
		if err := rows.Scan(&m.StationID, &m.LineID, &m.HourStartUTC); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ShiftsMissingBase implements Storage
func (s *pg) ShiftsMissingBase(ctx context.Context, cutoffDate string) ([]domain.MissingShift, error) {
	const sql = `
		SELECT p.station_id, p.line_id, p.shift_id, p.shift_local_date,
		       s.shift_start_local, s.shift_end_local
		FROM production_shift p
		JOIN shift_schedule s
		  ON s.shift_id = p.shift_id
		 AND s.shift_local_date = p.shift_local_date
		 AND s.line_id = p.line_id
		WHERE p.target_parts_base IS NULL AND p.shift_local_date >= $1
		ORDER BY p.shift_local_date, p.shift_id`

	rows, err := s.q.Query(ctx, sql, cutoffDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MissingShift
	for rows.Next() {
		var m domain.MissingShift
		if err := rows.Scan(&m.StationID, &m.LineID, &m.ShiftID, &m.ShiftLocalDate, &m.Start, &m.End); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
