package module

import (
	"time"

	"takt/internal/platform/config"
)

// Options for the rollup module
type Options struct {
	IdleFlush time.Duration
	Grace     time.Duration
	Chunk     int
}

// FromConfig fills options from environment
// CORE_ROLLUP_IDLE_FLUSH_SEC (default 30) open-hour flush interval
// CORE_ROLLUP_GRACE_HOURS (default 18) late shift reconciliation horizon
// CORE_ROLLUP_CHUNK (default 500) max rows per upsert statement
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("CORE_ROLLUP_")
	return Options{
		IdleFlush: time.Duration(c.MayInt("IDLE_FLUSH_SEC", 30)) * time.Second,
		Grace:     time.Duration(c.MayInt("GRACE_HOURS", 18)) * time.Hour,
		Chunk:     c.MayInt("CHUNK", 500),
	}
}
