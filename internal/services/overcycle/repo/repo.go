// Package repo persists overcycle anchors and line snapshots and reads
// back the accumulators and CT segments the scans classify against
package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"takt/internal/core/cyclet"
	"takt/internal/modkit/repokit"
	"takt/internal/services/overcycle/domain"
)

type (
	pg     struct{ q repokit.Queryer }
	binder struct{}
)

// NewPG constructs a repo binder for postgres
func NewPG() repokit.Binder[Storage] { return binder{} }

// Bind implements repokit.Binder
func (binder) Bind(q repokit.Queryer) Storage { return &pg{q: q} }

// Storage is the overcycle read and write surface
type Storage interface {
	ApplyStationDeltas(ctx context.Context, rows []domain.StationDelta) error
	UpsertLineSnapshot(ctx context.Context, snap domain.LineSnapshot) error
	LineLastAsOf(ctx context.Context, lineID, shiftID int64, date string) (time.Time, bool, error)
	StationLastAsOf(ctx context.Context, lineID, shiftID int64, date string) (time.Time, bool, error)
	StationsWithRows(ctx context.Context, lineID, shiftID int64, date string) (map[int64]bool, error)
	ShiftAccums(ctx context.Context, lineID, shiftID int64, date string) ([]domain.ShiftAccum, error)
	SegmentsOverlapping(ctx context.Context, stationID int64, start, end time.Time) ([]cyclet.Segment, error)
}

// ApplyStationDeltas implements Storage. The conflict branch accumulates:
// counts and seconds add onto the stored totals, max takes the greater,
// as_of and slot duration move to the delta's values
func (s *pg) ApplyStationDeltas(ctx context.Context, rows []domain.StationDelta) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO overcycle_slot_station
		(line_id, station_id, shift_id, shift_local_date, shift_start_local, shift_end_local,
		 as_of_local, over_count_shift, over_sec_sum_shift, max_over_sec_shift,
		 slot_duration_min, is_final, updated_at) VALUES `)

	args := make([]any, 0, len(rows)*12)
	for i, r := range rows {
		if i > 0 {
			sb.WriteByte(',')
		}
		base := i*12 + 1
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,now())",
			base, base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11)
		args = append(args, r.LineID, r.StationID, r.ShiftID, r.ShiftLocalDate,
			r.ShiftStartLocal, r.ShiftEndLocal, r.AsOfLocal,
			r.OverCnt, r.OverSec, r.MaxOverSec, r.SlotDurationMin, r.IsFinal)
	}
	sb.WriteString(`
		ON CONFLICT (station_id, shift_id, shift_local_date) DO UPDATE SET
			as_of_local        = GREATEST(overcycle_slot_station.as_of_local, EXCLUDED.as_of_local),
			over_count_shift   = overcycle_slot_station.over_count_shift + EXCLUDED.over_count_shift,
			over_sec_sum_shift = overcycle_slot_station.over_sec_sum_shift + EXCLUDED.over_sec_sum_shift,
			max_over_sec_shift = GREATEST(overcycle_slot_station.max_over_sec_shift, EXCLUDED.max_over_sec_shift),
			slot_duration_min  = EXCLUDED.slot_duration_min,
			is_final           = EXCLUDED.is_final,
			shift_end_local    = EXCLUDED.shift_end_local,
			updated_at         = now()`)

	_, err := s.q.Exec(ctx, sb.String(), args...)
	return err
}

// UpsertLineSnapshot implements Storage
func (s *pg) UpsertLineSnapshot(ctx context.Context, snap domain.LineSnapshot) error {
	const sql = `
		INSERT INTO overcycle_slot_line
			(line_id, shift_id, shift_local_date, shift_start_local, shift_end_local,
			 as_of_local, slot_duration_min, is_final, is_published,
			 top_totals_json, top_times_json, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())
		ON CONFLICT (line_id, shift_id, shift_local_date) DO UPDATE SET
			shift_end_local   = EXCLUDED.shift_end_local,
			as_of_local       = GREATEST(overcycle_slot_line.as_of_local, EXCLUDED.as_of_local),
			slot_duration_min = EXCLUDED.slot_duration_min,
			is_final          = EXCLUDED.is_final,
			is_published      = EXCLUDED.is_published,
			top_totals_json   = EXCLUDED.top_totals_json,
			top_times_json    = EXCLUDED.top_times_json,
			updated_at        = now()`

	_, err := s.q.Exec(ctx, sql,
		snap.LineID, snap.ShiftID, snap.ShiftLocalDate,
		snap.ShiftStartLocal, snap.ShiftEndLocal, snap.AsOfLocal,
		snap.SlotDurationMin, snap.IsFinal, snap.IsPublished,
		snap.TopTotalsJSON, snap.TopTimesJSON)
	return err
}

// LineLastAsOf implements Storage. ok=false when the line has no snapshot
// row for the shift yet
func (s *pg) LineLastAsOf(ctx context.Context, lineID, shiftID int64, date string) (time.Time, bool, error) {
	const sql = `
		SELECT max(as_of_local) FROM overcycle_slot_line
		WHERE line_id = $1 AND shift_id = $2 AND shift_local_date = $3`

	return s.scanMaybeTime(ctx, sql, lineID, shiftID, date)
}

// StationLastAsOf implements Storage: the newest station anchor for the
// shift, used when the line snapshot is missing
func (s *pg) StationLastAsOf(ctx context.Context, lineID, shiftID int64, date string) (time.Time, bool, error) {
	const sql = `
		SELECT max(as_of_local) FROM overcycle_slot_station
		WHERE line_id = $1 AND shift_id = $2 AND shift_local_date = $3`

	return s.scanMaybeTime(ctx, sql, lineID, shiftID, date)
}

func (s *pg) scanMaybeTime(ctx context.Context, sql string, args ...any) (time.Time, bool, error) {
	var t *time.Time
	if err := s.q.QueryRow(ctx, sql, args...).Scan(&t); err != nil {
		return time.Time{}, false, err
	}
	if t == nil {
		return time.Time{}, false, nil
	}
	return *t, true, nil
}

// StationsWithRows implements Storage
func (s *pg) StationsWithRows(ctx context.Context, lineID, shiftID int64, date string) (map[int64]bool, error) {
	const sql = `
		SELECT station_id FROM overcycle_slot_station
		WHERE line_id = $1 AND shift_id = $2 AND shift_local_date = $3`

	rows, err := s.q.Query(ctx, sql, lineID, shiftID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]bool{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// ShiftAccums implements Storage
func (s *pg) ShiftAccums(ctx context.Context, lineID, shiftID int64, date string) ([]domain.ShiftAccum, error) {
	const sql = `
		SELECT station_id, over_count_shift, over_sec_sum_shift
		FROM overcycle_slot_station
		WHERE line_id = $1 AND shift_id = $2 AND shift_local_date = $3
		ORDER BY station_id`

	rows, err := s.q.Query(ctx, sql, lineID, shiftID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ShiftAccum
	for rows.Next() {
		var a domain.ShiftAccum
		if err := rows.Scan(&a.StationID, &a.OverCnt, &a.OverSec); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SegmentsOverlapping implements Storage: every segment beginning inside
// (start, end] plus the one in force at start, ordered ascending so the
// walk-forward lookup works
func (s *pg) SegmentsOverlapping(ctx context.Context, stationID int64, start, end time.Time) ([]cyclet.Segment, error) {
	const sql = `
		(SELECT station_id, effective_from_utc, ct_eff_sec, overcycle_multiplier, ct_mode
		 FROM ct_segments
		 WHERE station_id = $1 AND effective_from_utc > $2 AND effective_from_utc <= $3)
		UNION ALL
		(SELECT station_id, effective_from_utc, ct_eff_sec, overcycle_multiplier, ct_mode
		 FROM ct_segments
		 WHERE station_id = $1 AND effective_from_utc <= $2
		 ORDER BY effective_from_utc DESC
		 LIMIT 1)
		ORDER BY effective_from_utc`

	rows, err := s.q.Query(ctx, sql, stationID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []cyclet.Segment
	for rows.Next() {
		var seg cyclet.Segment
		if err := rows.Scan(&seg.StationID, &seg.EffectiveFrom, &seg.CT, &seg.Multiplier, &seg.Mode); err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}
