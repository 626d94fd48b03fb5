// Package domain defines the rows the production publisher drains
package domain

import "time"

// HourPublishRow is one hourly rollup pending publish: an open hour in
// the live window, or a closed hour not yet marked published
type HourPublishRow struct {
	StationID       int64
	LineID          int64
	HourStartUTC    time.Time
	TotalParts      int64
	TargetPartsBase int
	IsClosed        bool
	IsPublished     bool
}

// ShiftPublishRow is one shift rollup with its schedule window joined in.
// The engine decides ended-ness against now; only ended rows get marked
type ShiftPublishRow struct {
	StationID       int64
	LineID          int64
	ShiftID         int64
	ShiftLocalDate  string
	ShiftStartLocal time.Time
	ShiftEndLocal   time.Time
	TotalParts      int64
	TargetPartsBase int
	IsPublished     bool
}

// WeekPublishRow is one weekly rollup for the current week
type WeekPublishRow struct {
	StationID      int64
	LineID         int64
	WeekStartLocal string
	TotalParts     int64
}
