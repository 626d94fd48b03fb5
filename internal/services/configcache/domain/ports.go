package domain

import (
	"context"
	"time"

	"takt/internal/core/schedule"
	"takt/internal/core/topic"
)

// ConfigPort is the read-mostly plant configuration surface shared by
// every engine. Implementations refresh on TTL expiry; readers tolerate
// a snapshot one refresh stale
type ConfigPort interface {
	// Stations returns the cached station list, refreshing when stale
	Stations(ctx context.Context) ([]Station, error)

	// Station resolves one station from the cached list
	Station(ctx context.Context, id int64) (Station, bool, error)

	// PartCT returns the part configuration for a station, loading on
	// demand. Unknown-part refreshes are throttled per station
	PartCT(ctx context.Context, stationID int64) (PartCT, error)

	// Settings returns rollup enablement and the configured week start
	Settings(ctx context.Context) (Settings, error)

	// Hierarchy resolves broker topic names for the given stations
	Hierarchy(ctx context.Context, stationIDs []int64) (map[int64]topic.Hierarchy, error)

	// Invalidate drops the part-CT cache for one station (or all when
	// nil) and marks CT segments for forced re-open
	Invalidate(stationID *int64)

	// ForceOpen reports and clears the force-open flag for a station,
	// set by Invalidate for the targets engine
	ForceOpen(stationID int64) bool

	// ClearForceAll drops the everything-forced flag a global Invalidate
	// raises. The targets engine calls it once a full station pass has
	// consumed the flag
	ClearForceAll()
}

// SchedulePort is the break and shift index, always covering today plus
// yesterday local to accommodate overnight shifts
type SchedulePort interface {
	// Lines returns every line id present in the current schedule
	Lines(ctx context.Context) ([]int64, error)

	// ActiveShift returns the window with start <= now < end on a line
	ActiveShift(ctx context.Context, lineID int64, now time.Time) (schedule.Shift, bool, error)

	// LastEndedShift returns the most recent ended window within grace
	LastEndedShift(ctx context.Context, lineID int64, now time.Time, grace time.Duration) (schedule.Shift, bool, error)

	// ShiftsOnDate returns every line's windows for a local date
	ShiftsOnDate(ctx context.Context, date time.Time) ([]schedule.Shift, error)

	// WorkingMS returns break-aware working milliseconds on a line
	WorkingMS(ctx context.Context, start, end time.Time, lineID int64) (int64, error)

	// Breaks returns the merged disjoint break spans for a line
	Breaks(ctx context.Context, lineID int64) ([]schedule.Break, error)
}

// TagProber validates that a station's counter has history; stations
// whose probe misses keep tag=nil semantics but remain in the set
type TagProber interface {
	Probe(ctx context.Context, paths []string) (map[string]bool, error)
}
