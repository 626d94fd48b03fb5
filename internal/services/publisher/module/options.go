package module

import (
	"time"

	"takt/internal/platform/config"
)

// Options for the publisher module
type Options struct {
	HourlyLookback time.Duration
	HourlyCatchup  time.Duration
}

// FromConfig fills options from environment
// CORE_PUBLISHER_HOURLY_LOOKBACK_HRS (default 6) open hours republish window
// CORE_PUBLISHER_HOURLY_CATCHUP_HRS (default 48) closed unpublished catch-up
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("CORE_PUBLISHER_")
	return Options{
		HourlyLookback: time.Duration(c.MayInt("HOURLY_LOOKBACK_HRS", 6)) * time.Hour,
		HourlyCatchup:  time.Duration(c.MayInt("HOURLY_CATCHUP_HRS", 48)) * time.Hour,
	}
}
