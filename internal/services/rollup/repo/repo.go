// Package repo persists rollup rows into postgres. All writes are
// multi-row upserts keyed by natural identity; closed rows are
// immutable at the SQL level
package repo

import (
	"context"
	"fmt"
	"strings"

	"takt/internal/modkit/repokit"
	"takt/internal/services/rollup/domain"
)

type (
	pg     struct{ q repokit.Queryer }
	binder struct{}
)

// NewPG constructs a repo binder for postgres
func NewPG() repokit.Binder[Storage] { return binder{} }

// Bind implements repokit.Binder
func (binder) Bind(q repokit.Queryer) Storage { return &pg{q: q} }

// Storage is the rollup persistence surface
type Storage interface {
	UpsertHourlyBatch(ctx context.Context, rows []domain.HourRow) error
	UpsertShiftBatch(ctx context.Context, rows []domain.ShiftRow) error
	UpsertWeeklyBatch(ctx context.Context, rows []domain.WeekRow) error
	UpsertWatermarksBatch(ctx context.Context, rows []domain.WatermarkRow) error
	OpenStates(ctx context.Context) ([]domain.StationState, error)
}

// UpsertHourlyBatch implements Storage. The conflict guard keeps closed
// rows immutable: a closed row never has its totals rewritten
func (s *pg) UpsertHourlyBatch(ctx context.Context, rows []domain.HourRow) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO production_hourly
		(station_id, line_id, hour_start_utc, total_parts, start_count, end_count, is_closed, updated_at) VALUES `)

	args := make([]any, 0, len(rows)*7)
	for i, r := range rows {
		if i > 0 {
			sb.WriteByte(',')
		}
		base := i*7 + 1
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,now())",
			base, base+1, base+2, base+3, base+4, base+5, base+6)
		args = append(args, r.StationID, r.LineID, r.HourStartUTC, r.TotalParts, r.StartCount, r.EndCount, r.IsClosed)
	}
	sb.WriteString(`
		ON CONFLICT (station_id, hour_start_utc) DO UPDATE SET
			total_parts = EXCLUDED.total_parts,
			start_count = EXCLUDED.start_count,
			end_count   = EXCLUDED.end_count,
			is_closed   = EXCLUDED.is_closed,
			updated_at  = now()
		WHERE NOT production_hourly.is_closed`)

	_, err := s.q.Exec(ctx, sb.String(), args...)
	return err
}

// UpsertShiftBatch implements Storage
func (s *pg) UpsertShiftBatch(ctx context.Context, rows []domain.ShiftRow) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO production_shift
		(station_id, line_id, shift_id, shift_local_date, total_parts, start_count, end_count, is_closed, updated_at) VALUES `)

	args := make([]any, 0, len(rows)*8)
	for i, r := range rows {
		if i > 0 {
			sb.WriteByte(',')
		}
		base := i*8 + 1
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,now())",
			base, base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args, r.StationID, r.LineID, r.ShiftID, r.ShiftLocalDate, r.TotalParts, r.StartCount, r.EndCount, r.IsClosed)
	}
	sb.WriteString(`
		ON CONFLICT (station_id, shift_id, shift_local_date) DO UPDATE SET
			total_parts = EXCLUDED.total_parts,
			start_count = EXCLUDED.start_count,
			end_count   = EXCLUDED.end_count,
			is_closed   = EXCLUDED.is_closed,
			updated_at  = now()
		WHERE NOT production_shift.is_closed`)

	_, err := s.q.Exec(ctx, sb.String(), args...)
	return err
}

// UpsertWeeklyBatch implements Storage
func (s *pg) UpsertWeeklyBatch(ctx context.Context, rows []domain.WeekRow) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO production_weekly
		(station_id, line_id, week_start_local, total_parts, is_closed, updated_at) VALUES `)

	args := make([]any, 0, len(rows)*5)
	for i, r := range rows {
		if i > 0 {
			sb.WriteByte(',')
		}
		base := i*5 + 1
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,now())", base, base+1, base+2, base+3, base+4)
		args = append(args, r.StationID, r.LineID, r.WeekStartLocal, r.TotalParts, r.IsClosed)
	}
	sb.WriteString(`
		ON CONFLICT (station_id, week_start_local) DO UPDATE SET
			total_parts = EXCLUDED.total_parts,
			is_closed   = EXCLUDED.is_closed,
			updated_at  = now()
		WHERE NOT production_weekly.is_closed`)

	_, err := s.q.Exec(ctx, sb.String(), args...)
	return err
}

// OpenStates implements Storage: the newest open hour per station with
// its open shift and week rows, the persisted counterpart of the live
// snapshot. Peak and freeze tracking only exist in engine memory
func (s *pg) OpenStates(ctx context.Context) ([]domain.StationState, error) {
	const sql = `
		SELECT h.station_id, h.line_id, h.hour_start_utc, h.start_count, h.total_parts,
			sh.shift_id, sh.shift_local_date, sh.total_parts,
			w.week_start_local, w.total_parts
		FROM (
			SELECT DISTINCT ON (station_id)
				station_id, line_id, hour_start_utc, start_count, total_parts
			FROM production_hourly
			WHERE NOT is_closed
			ORDER BY station_id, hour_start_utc DESC
		) h
		LEFT JOIN LATERAL (
			SELECT shift_id, shift_local_date, total_parts
			FROM production_shift
			WHERE station_id = h.station_id AND NOT is_closed
			ORDER BY updated_at DESC
			LIMIT 1
		) sh ON true
		LEFT JOIN LATERAL (
			SELECT week_start_local, total_parts
			FROM production_weekly
			WHERE station_id = h.station_id AND NOT is_closed
			ORDER BY week_start_local DESC
			LIMIT 1
		) w ON true
		ORDER BY h.station_id`

	rows, err := s.q.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StationState
	for rows.Next() {
		var (
			st         domain.StationState
			startCount *int64
			shiftID    *int64
			shiftDate  *string
			shiftTotal *int64
			weekStart  *string
			weekTotal  *int64
		)
		if err := rows.Scan(
			&st.StationID, &st.LineID, &st.HourStartUTC, &startCount, &st.HourTotal,
			&shiftID, &shiftDate, &shiftTotal,
			&weekStart, &weekTotal,
		); err != nil {
			return nil, err
		}
		if startCount != nil {
			st.HourStartCount = *startCount
		}
		if shiftID != nil {
			st.ShiftID = *shiftID
		}
		if shiftDate != nil {
			st.ShiftLocalDate = *shiftDate
		}
		if shiftTotal != nil {
			st.ShiftTotal = *shiftTotal
		}
		if weekStart != nil {
			st.WeekStartLocal = *weekStart
		}
		if weekTotal != nil {
			st.WeekTotal = *weekTotal
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// UpsertWatermarksBatch implements Storage
func (s *pg) UpsertWatermarksBatch(ctx context.Context, rows []domain.WatermarkRow) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO hourly_watermarks
		(station_id, hour_start_utc, end_count, updated_at) VALUES `)

	args := make([]any, 0, len(rows)*3)
	for i, r := range rows {
		if i > 0 {
			sb.WriteByte(',')
		}
		base := i*3 + 1
		fmt.Fprintf(&sb, "($%d,$%d,$%d,now())", base, base+1, base+2)
		args = append(args, r.StationID, r.HourStartUTC, r.EndCount)
	}
	sb.WriteString(`
		ON CONFLICT (station_id, hour_start_utc) DO UPDATE SET
			end_count  = EXCLUDED.end_count,
			updated_at = now()`)

	_, err := s.q.Exec(ctx, sb.String(), args...)
	return err
}
