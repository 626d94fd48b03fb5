package store

import (
	"strings"
	"time"
)

// Config aggregates per backend configuration
type Config struct {
	AppName string

	PG  PGConfig
	CH  CHConfig
	Bus BusConfig
	MQ  MQConfig
}

// PGConfig configures postgres connectivity and tracing
type PGConfig struct {
	Enabled     bool
	URL         string
	MaxConns    int32
	LogSQL      bool
	SlowQueryMs int

	// Guard/boot knobs:
	ConnectRetries int           // default 6 (63s(ish) max with exponential backoff)
	PingTimeout    time.Duration // default 5s
}

// CHConfig configures the clickhouse historian connection
type CHConfig struct {
	Enabled bool
	URL     string
	Role    string // stamped into client info, defaults to AppName
}

// BusConfig configures the nats tag event intake
type BusConfig struct {
	Enabled bool
	URL     string
	Name    string // connection name, defaults to AppName
}

// MQConfig configures the mqtt broker profiles payloads publish through
type MQConfig struct {
	Enabled bool

	// Servers maps broker profile name to url, eg "Local Broker" -> tcp://host:1883
	Servers map[string]string

	// Default names the profile used when a line has no broker assignment
	Default string

	// ClientID prefixes the per connection client id
	ClientID string
}

// ParseServers turns "name=url" entries into the MQ Servers map.
// Malformed entries are skipped
func ParseServers(entries []string) map[string]string {
	out := map[string]string{}
	for _, e := range entries {
		name, url, ok := strings.Cut(e, "=")
		name = strings.TrimSpace(name)
		url = strings.TrimSpace(url)
		if !ok || name == "" || url == "" {
			continue
		}
		out[name] = url
	}
	return out
}
