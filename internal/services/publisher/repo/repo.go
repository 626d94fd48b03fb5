// Package repo reads the rollup rows pending publish and records the
// publish marks for finished windows
package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"takt/internal/modkit/repokit"
	"takt/internal/services/publisher/domain"
)

type (
	pg     struct{ q repokit.Queryer }
	binder struct{}
)

// NewPG constructs a repo binder for postgres
func NewPG() repokit.Binder[Storage] { return binder{} }

// Bind implements repokit.Binder
func (binder) Bind(q repokit.Queryer) Storage { return &pg{q: q} }

// Storage is the publisher's read and mark surface
type Storage interface {
	HourlyToPublish(ctx context.Context, openSince, closedSince time.Time) ([]domain.HourPublishRow, error)
	EndedShiftsToPublish(ctx context.Context, day0, day1 string) ([]domain.ShiftPublishRow, error)
	WeeklyToPublish(ctx context.Context, weekStart string) ([]domain.WeekPublishRow, error)
	MarkHourlyPublished(ctx context.Context, rows []domain.HourPublishRow) error
	MarkShiftPublished(ctx context.Context, rows []domain.ShiftPublishRow) error
	MarkWeeklyPublished(ctx context.Context, rows []domain.WeekPublishRow) error
}

// HourlyToPublish implements Storage: open hours inside the live window
// plus closed hours not yet marked published inside the catch-up window
func (s *pg) HourlyToPublish(ctx context.Context, openSince, closedSince time.Time) ([]domain.HourPublishRow, error) {
	const sql = `
		SELECT station_id, line_id, hour_start_utc, total_parts,
		       COALESCE(target_parts_base, 0), is_closed, is_published
		FROM production_hourly
		WHERE (is_closed = false AND hour_start_utc >= $1)
		   OR (is_closed = true AND is_published = false AND hour_start_utc >= $2)
		ORDER BY hour_start_utc, station_id`

	rows, err := s.q.Query(ctx, sql, openSince, closedSince)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.HourPublishRow
	for rows.Next() {
		var r domain.HourPublishRow
		if err := rows.Scan(&r.StationID, &r.LineID, &r.HourStartUTC, &r.TotalParts,
			&r.TargetPartsBase, &r.IsClosed, &r.IsPublished); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EndedShiftsToPublish implements Storage: every shift row for the two
// local dates with its schedule window joined in. The caller decides
// ended-ness against now so an overnight shift still publishes live
func (s *pg) EndedShiftsToPublish(ctx context.Context, day0, day1 string) ([]domain.ShiftPublishRow, error) {
	const sql = `
		SELECT p.station_id, p.line_id, p.shift_id, p.shift_local_date,
		       s.shift_start_local, s.shift_end_local,
		       p.total_parts, COALESCE(p.target_parts_base, 0), p.is_published
		FROM production_shift p
		JOIN shift_schedule s
		  ON s.shift_id = p.shift_id
		 AND s.shift_local_date = p.shift_local_date
		 AND s.line_id = p.line_id
		WHERE p.shift_local_date IN ($1, $2)
		ORDER BY p.shift_local_date, p.shift_id, p.station_id`

	rows, err := s.q.Query(ctx, sql, day0, day1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ShiftPublishRow
	for rows.Next() {
		var r domain.ShiftPublishRow
		if err := rows.Scan(&r.StationID, &r.LineID, &r.ShiftID, &r.ShiftLocalDate,
			&r.ShiftStartLocal, &r.ShiftEndLocal,
			&r.TotalParts, &r.TargetPartsBase, &r.IsPublished); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// WeeklyToPublish implements Storage
func (s *pg) WeeklyToPublish(ctx context.Context, weekStart string) ([]domain.WeekPublishRow, error) {
	const sql = `
		SELECT station_id, line_id, week_start_local, total_parts
		FROM production_weekly
		WHERE week_start_local = $1
		ORDER BY station_id`

	rows, err := s.q.Query(ctx, sql, weekStart)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WeekPublishRow
	for rows.Next() {
		var r domain.WeekPublishRow
		if err := rows.Scan(&r.StationID, &r.LineID, &r.WeekStartLocal, &r.TotalParts); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkHourlyPublished implements Storage
func (s *pg) MarkHourlyPublished(ctx context.Context, rows []domain.HourPublishRow) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`UPDATE production_hourly h SET is_published = true, updated_at = now()
		FROM (VALUES `)
	args := make([]any, 0, len(rows)*2)
	for i, r := range rows {
		if i > 0 {
			sb.WriteByte(',')
		}
		base := i*2 + 1
		fmt.Fprintf(&sb, "($%d::bigint,$%d::timestamptz)", base, base+1)
		args = append(args, r.StationID, r.HourStartUTC)
	}
	sb.WriteString(`) v(station_id, hour_start_utc)
		WHERE h.station_id = v.station_id AND h.hour_start_utc = v.hour_start_utc`)

	_, err := s.q.Exec(ctx, sb.String(), args...)
	return err
}

// MarkShiftPublished implements Storage
func (s *pg) MarkShiftPublished(ctx context.Context, rows []domain.ShiftPublishRow) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`UPDATE production_shift p SET is_published = true, updated_at = now()
		FROM (VALUES `)
	args := make([]any, 0, len(rows)*3)
	for i, r := range rows {
		if i > 0 {
			sb.WriteByte(',')
		}
		base := i*3 + 1
		fmt.Fprintf(&sb, "($%d::bigint,$%d::bigint,$%d::text)", base, base+1, base+2)
		args = append(args, r.StationID, r.ShiftID, r.ShiftLocalDate)
	}
	sb.WriteString(`) v(station_id, shift_id, shift_local_date)
		WHERE p.station_id = v.station_id AND p.shift_id = v.shift_id
		  AND p.shift_local_date = v.shift_local_date`)

	_, err := s.q.Exec(ctx, sb.String(), args...)
	return err
}

// MarkWeeklyPublished implements Storage
func (s *pg) MarkWeeklyPublished(ctx context.Context, rows []domain.WeekPublishRow) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`UPDATE production_weekly w SET is_published = true, updated_at = now()
		FROM (VALUES `)
	args := make([]any, 0, len(rows)*2)
	for i, r := range rows {
		if i > 0 {
			sb.WriteByte(',')
		}
		base := i*2 + 1
		fmt.Fprintf(&sb, "($%d::bigint,$%d::text)", base, base+1)
		args = append(args, r.StationID, r.WeekStartLocal)
	}
	sb.WriteString(`) v(station_id, week_start_local)
		WHERE w.station_id = v.station_id AND w.week_start_local = v.week_start_local`)

	_, err := s.q.Exec(ctx, sb.String(), args...)
	return err
}
