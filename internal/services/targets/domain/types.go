// Package domain defines the CT and target engine types and ports
package domain

import "time"

// SegmentRecord is one CT segment journal row. The segment stays in
// force from EffectiveFromUTC until the next record for the station
type SegmentRecord struct {
	StationID           int64
	EffectiveFromUTC    time.Time
	CTEffSec            float64
	FixturesPerSide     int
	IsTurntable         bool
	ParallelismFactor   float64
	Parts               []string
	CTMode              string
	OvercycleMultiplier float64
}

// HourTargetRow carries the break-aware base target for one hour window
type HourTargetRow struct {
	StationID       int64
	LineID          int64
	HourStartUTC    time.Time
	TargetPartsBase int
}

// ShiftTargetRow carries the break-aware base target for one shift
type ShiftTargetRow struct {
	StationID       int64
	LineID          int64
	ShiftID         int64
	ShiftLocalDate  string
	TargetPartsBase int
}

// MissingHour is a persisted hour row still lacking a base target
type MissingHour struct {
	StationID    int64
	LineID       int64
	HourStartUTC time.Time
}

// MissingShift is a persisted shift row still lacking a base target,
// joined with its schedule window for the working-time math
type MissingShift struct {
	StationID      int64
	LineID         int64
	ShiftID        int64
	ShiftLocalDate string
	Start          time.Time
	End            time.Time
}
