// Package domain defines the overcycle anchor and snapshot types
package domain

import "time"

// StationDelta is one incremental overcycle observation for a station
// within a shift. Persisting it advances the station's cumulative anchor:
// counts and seconds add, max takes the greater, as_of moves forward
type StationDelta struct {
	LineID          int64
	StationID       int64
	ShiftID         int64
	ShiftLocalDate  string
	ShiftStartLocal time.Time
	ShiftEndLocal   time.Time
	AsOfLocal       time.Time
	OverCnt         int64
	OverSec         float64
	MaxOverSec      float64
	SlotDurationMin int
	IsFinal         bool
}

// LineSnapshot is the per-line leaderboard row for a shift. A live shift
// writes is_published=1 is_final=0; reconciling a just-ended shift writes
// is_final=1 is_published=0 exactly once
type LineSnapshot struct {
	LineID          int64
	ShiftID         int64
	ShiftLocalDate  string
	ShiftStartLocal time.Time
	ShiftEndLocal   time.Time
	AsOfLocal       time.Time
	SlotDurationMin int
	IsFinal         bool
	IsPublished     bool
	TopTotalsJSON   string
	TopTimesJSON    string
}

// ShiftAccum is one station's cumulative totals for a shift, read back
// from the anchor table to build leaderboards
type ShiftAccum struct {
	StationID int64
	OverCnt   int64
	OverSec   float64
}
