// Package repo reads the historized tag series out of clickhouse
package repo

import (
	"context"
	"fmt"
	"time"

	"takt/internal/core/counter"
	"takt/internal/platform/store"
	"takt/internal/services/historian/domain"
)

// GoodQuality is the floor of the OPC "good" quality band
const GoodQuality = 192

// CH implements the historian reads over the clickhouse seam
type CH struct {
	db    store.Clickhouse
	table string
}

// New constructs the repo. table defaults to tag_history
func New(db store.Clickhouse, table string) *CH {
	if db == nil {
		panic("historian repo requires a clickhouse seam")
	}
	if table == "" {
		table = "tag_history"
	}
	return &CH{db: db, table: table}
}

// Bounding returns the last (ts, value) at or before at, within lookback
func (r *CH) Bounding(ctx context.Context, path string, at time.Time, lookback time.Duration) (counter.Sample, bool, error) {
	sql := fmt.Sprintf(`
		SELECT ts, value, quality
		FROM %s
		WHERE path = ? AND ts <= ? AND ts >= ?
		ORDER BY ts DESC
		LIMIT 1`, r.table)

	rows, err := r.db.Query(ctx, sql, path, at, at.Add(-lookback))
	if err != nil {
		return counter.Sample{}, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return counter.Sample{}, false, rows.Err()
	}
	s, err := scanSample(rows)
	if err != nil {
		return counter.Sample{}, false, err
	}
	return s, true, rows.Err()
}

// Series returns the ordered samples over [start, end)
func (r *CH) Series(ctx context.Context, path string, start, end time.Time) ([]counter.Sample, error) {
	sql := fmt.Sprintf(`
		SELECT ts, value, quality
		FROM %s
		WHERE path = ? AND ts >= ? AND ts < ?
		ORDER BY ts`, r.table)

	rows, err := r.db.Query(ctx, sql, path, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []counter.Sample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Newest returns the latest sample per path since the cutoff
func (r *CH) Newest(ctx context.Context, paths []string, since time.Time) (map[string]counter.Sample, error) {
	if len(paths) == 0 {
		return map[string]counter.Sample{}, nil
	}
	sql := fmt.Sprintf(`
		SELECT path, max(ts), argMax(value, ts), argMax(quality, ts)
		FROM %s
		WHERE path IN (?) AND ts >= ?
		GROUP BY path`, r.table)

	rows, err := r.db.Query(ctx, sql, paths, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]counter.Sample, len(paths))
	for rows.Next() {
		var (
			path    string
			ts      time.Time
			value   float64
			quality int32
		)
		if err := rows.Scan(&path, &ts, &value, &quality); err != nil {
			return nil, err
		}
		out[path] = counter.Sample{TS: ts, Value: value, Good: quality >= GoodQuality}
	}
	return out, rows.Err()
}

// NewestText returns the latest string value per path since the cutoff
func (r *CH) NewestText(ctx context.Context, paths []string, since time.Time) (map[string]domain.TextSample, error) {
	if len(paths) == 0 {
		return map[string]domain.TextSample{}, nil
	}
	sql := fmt.Sprintf(`
		SELECT path, max(ts), argMax(value_text, ts), argMax(quality, ts)
		FROM %s
		WHERE path IN (?) AND ts >= ?
		GROUP BY path`, r.table)

	rows, err := r.db.Query(ctx, sql, paths, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.TextSample, len(paths))
	for rows.Next() {
		var (
			path    string
			ts      time.Time
			text    string
			quality int32
		)
		if err := rows.Scan(&path, &ts, &text, &quality); err != nil {
			return nil, err
		}
		out[path] = domain.TextSample{TS: ts, Text: text, Good: quality >= GoodQuality}
	}
	return out, rows.Err()
}

func scanSample(rows store.Rows) (counter.Sample, error) {
	var (
		ts      time.Time
		value   float64
		quality int32
	)
	if err := rows.Scan(&ts, &value, &quality); err != nil {
		return counter.Sample{}, err
	}
	return counter.Sample{TS: ts, Value: value, Good: quality >= GoodQuality}, nil
}
