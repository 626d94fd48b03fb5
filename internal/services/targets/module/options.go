package module

import (
	"time"

	"takt/internal/platform/config"
)

// Options for the targets module
type Options struct {
	DebounceTicks int
	RepairEvery   time.Duration
	RepairHours   time.Duration
	RepairDays    int
}

// FromConfig fills options from environment
// CORE_TARGETS_DEBOUNCE_TICKS (default 1) parts stability before a CT switch
// CORE_TARGETS_REPAIR_PERIOD_SEC (default 120) repair sweep period
// CORE_TARGETS_REPAIR_HOURLY_LOOKBACK_HRS (default 24)
// CORE_TARGETS_REPAIR_SHIFT_LOOKBACK_DAYS (default 2)
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("CORE_TARGETS_")
	return Options{
		DebounceTicks: c.MayInt("DEBOUNCE_TICKS", 1),
		RepairEvery:   time.Duration(c.MayInt("REPAIR_PERIOD_SEC", 120)) * time.Second,
		RepairHours:   time.Duration(c.MayInt("REPAIR_HOURLY_LOOKBACK_HRS", 24)) * time.Hour,
		RepairDays:    c.MayInt("REPAIR_SHIFT_LOOKBACK_DAYS", 2),
	}
}
