// Package domain defines the rollup engine types and ports
package domain

import "time"

// HourRow is one hour window rollup for a station. The anchor is the
// top of the hour in UTC. Once IsClosed the totals are final
type HourRow struct {
	StationID    int64
	LineID       int64
	HourStartUTC time.Time
	TotalParts   int64
	StartCount   *int64
	EndCount     *int64
	IsClosed     bool
}

// ShiftRow is one shift window rollup, anchored by (shift, local date)
type ShiftRow struct {
	StationID      int64
	LineID         int64
	ShiftID        int64
	ShiftLocalDate string
	TotalParts     int64
	StartCount     *int64
	EndCount       *int64
	IsClosed       bool
}

// WeekRow is one week rollup anchored at the local week-start date
type WeekRow struct {
	StationID      int64
	LineID         int64
	WeekStartLocal string
	TotalParts     int64
	IsClosed       bool
}

// WatermarkRow records a closed hour's end count so consumers can spot
// counter resets across hour boundaries
type WatermarkRow struct {
	StationID    int64
	HourStartUTC time.Time
	EndCount     int64
}

// BackfillResult reports the dense day recompute
type BackfillResult struct {
	HourlyUpserted int
	ShiftUpserted  int
}

// StationState is the introspection view of one station's live state
type StationState struct {
	StationID      int64     `json:"station_id"`
	LineID         int64     `json:"line_id"`
	HourStartUTC   time.Time `json:"hour_start_utc"`
	HourStartCount int64     `json:"hour_start_count"`
	HourTotal      int64     `json:"hour_total"`
	LastPeak       int64     `json:"last_peak"`
	ShiftID        int64     `json:"shift_id,omitempty"`
	ShiftLocalDate string    `json:"shift_local_date,omitempty"`
	ShiftTotal     int64     `json:"shift_total"`
	WeekStartLocal string    `json:"week_start_local"`
	WeekTotal      int64     `json:"week_total"`
	Frozen         bool      `json:"frozen"`
}
