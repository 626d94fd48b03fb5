package module

import (
	"time"

	"takt/internal/platform/config"
)

// Options for the overcycle module
type Options struct {
	Grace  time.Duration
	MaxTop int
}

// FromConfig fills options from environment
// CORE_OVERCYCLE_FINAL_GRACE_MIN (default 1080) finalize window after shift end
// CORE_OVERCYCLE_MAX_TOP (default 5) leaderboard length
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("CORE_OVERCYCLE_")
	return Options{
		Grace:  time.Duration(c.MayInt("FINAL_GRACE_MIN", 1080)) * time.Minute,
		MaxTop: c.MayInt("MAX_TOP", 5),
	}
}
