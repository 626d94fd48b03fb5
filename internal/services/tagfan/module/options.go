package module

import (
	"time"

	"takt/internal/platform/config"
)

// Options for the tagfan module
type Options struct {
	StatusWindow time.Duration
	NodeWindow   time.Duration
	ConfigTTL    time.Duration
	LookupTTL    time.Duration
	Subject      string
}

// FromConfig fills options from environment
// CORE_TAGFAN_STATUS_COALESCE_MS (default 150) status snapshot window
// CORE_TAGFAN_NODE_COALESCE_MS (default 75) node and cycle group window
// CORE_TAGFAN_CONFIG_TTL_SEC (default 60) topic config cache lifetime
// CORE_TAGFAN_LOOKUP_TTL_SEC (default 300) display name cache lifetime
// CORE_TAGFAN_SUBJECT (default tags.>) raw change intake subject
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("CORE_TAGFAN_")
	return Options{
		StatusWindow: time.Duration(c.MayInt("STATUS_COALESCE_MS", 150)) * time.Millisecond,
		NodeWindow:   time.Duration(c.MayInt("NODE_COALESCE_MS", 75)) * time.Millisecond,
		ConfigTTL:    time.Duration(c.MayInt("CONFIG_TTL_SEC", 60)) * time.Second,
		LookupTTL:    time.Duration(c.MayInt("LOOKUP_TTL_SEC", 300)) * time.Second,
		Subject:      c.MayString("SUBJECT", "tags.>"),
	}
}
