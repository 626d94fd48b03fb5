package module

import (
	"time"

	"takt/internal/platform/config"
)

// Options for the configcache module
type Options struct {
	StationTTL   time.Duration
	ShiftTTL     time.Duration
	BreakTTL     time.Duration
	HierarchyTTL time.Duration
	PartThrottle time.Duration
	CriticalOnly bool
}

// FromConfig fills options from environment
// CORE_CONFIG_STATION_CACHE_SEC (default 300) station list TTL
// CORE_CONFIG_SHIFT_REFRESH_SEC (default 8) shift index TTL
// CORE_CONFIG_BREAKS_REFRESH_SEC (default 120) break spans TTL
// CORE_CONFIG_CRITICAL_ONLY (default false) restricts rollup to critical stations
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("CORE_CONFIG_")
	return Options{
		StationTTL:   time.Duration(c.MayInt("STATION_CACHE_SEC", 300)) * time.Second,
		ShiftTTL:     time.Duration(c.MayInt("SHIFT_REFRESH_SEC", 8)) * time.Second,
		BreakTTL:     time.Duration(c.MayInt("BREAKS_REFRESH_SEC", 120)) * time.Second,
		HierarchyTTL: time.Duration(c.MayInt("HIERARCHY_CACHE_SEC", 300)) * time.Second,
		PartThrottle: time.Duration(c.MayInt("PART_THROTTLE_SEC", 10)) * time.Second,
		CriticalOnly: c.MayBool("CRITICAL_ONLY", false),
	}
}
