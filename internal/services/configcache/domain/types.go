// Package domain defines the plant configuration types and ports
package domain

// Station is one production station with its historian tag paths
// precomputed. A station belongs to exactly one line; the
// (area, subarea, line, station) tuple is the path used to locate its
// historized tags
type Station struct {
	ID              int64
	LineID          int64
	Area            string
	Subarea         string
	Line            string
	Name            string
	IsTurntable     bool
	FixturesPerSide int // 1..8
	IsCritical      bool
	Parallelism     float64 // lambda in [0,1]

	// BasePath is area/subarea/line/station with spaces kept; the
	// historian stores paths verbatim
	BasePath string

	// CounterPath and CyclePath address TotalParts and CycleTime.
	// HasTag=false when the probe found no history for the counter;
	// the station still seeds dense zero rows
	CounterPath string
	CyclePath   string
	HasTag      bool
}

// PartCT maps part numbers to configured cycle seconds and overcycle
// multipliers for one station. Empty maps mean no configuration
type PartCT struct {
	CT         map[string]float64
	Multiplier map[string]float64
}

// Settings are the engine-wide rollup settings
type Settings struct {
	Enabled      bool
	WeekStartDOW int // 1..7, 1 = Sunday
}
