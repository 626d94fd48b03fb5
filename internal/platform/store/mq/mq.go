// Package mq provides the mqtt publisher behind the broker adapter.
// Connections are held per named server profile and dialed lazily
package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Config configures mqtt connectivity
type Config struct {
	// Servers maps profile name -> broker url, e.g. "Local Broker" -> "tcp://mq:1883"
	Servers map[string]string
	// Default is the profile used when a caller passes an unknown server name
	Default string
	// ClientID prefix; a short random suffix is appended per connection
	ClientID string

	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// MQ manages one mqtt client per server profile
type MQ struct {
	cfg Config

	mu    sync.Mutex
	conns map[string]mqtt.Client
}

// newClient is a seam so tests can stand in for the paho client
var newClient = func(opts *mqtt.ClientOptions) mqtt.Client {
	return mqtt.NewClient(opts)
}

// Open validates config; dialing happens on first publish per profile
func Open(_ context.Context, cfg Config) (*MQ, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("mq: at least one server profile required")
	}
	if cfg.Default == "" {
		for name := range cfg.Servers {
			cfg.Default = name
			break
		}
	}
	if _, ok := cfg.Servers[cfg.Default]; !ok {
		return nil, fmt.Errorf("mq: default profile %q not configured", cfg.Default)
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &MQ{cfg: cfg, conns: make(map[string]mqtt.Client)}, nil
}

// DefaultServer returns the configured default profile name
func (m *MQ) DefaultServer() string { return m.cfg.Default }

// ServerNames returns the configured profile names
func (m *MQ) ServerNames() []string {
	out := make([]string, 0, len(m.cfg.Servers))
	for name := range m.cfg.Servers {
		out = append(out, name)
	}
	return out
}

// Publish sends payload to topic on the named server profile.
// Unknown profiles fall back to the default profile
func (m *MQ) Publish(ctx context.Context, server, topic string, payload []byte, qos byte, retain bool) error {
	if m == nil {
		return errors.New("mq: not configured")
	}
	c, err := m.client(server)
	if err != nil {
		return err
	}
	tok := c.Publish(topic, qos, retain, payload)
	if !tok.WaitTimeout(m.timeout(ctx)) {
		return fmt.Errorf("mq: publish timeout on %q", topic)
	}
	return tok.Error()
}

// Ping dials the default profile if needed and reports its health
func (m *MQ) Ping(_ context.Context) error {
	c, err := m.client(m.cfg.Default)
	if err != nil {
		return err
	}
	if !c.IsConnectionOpen() {
		return errors.New("mq: default connection not open")
	}
	return nil
}

// Close disconnects every open profile
func (m *MQ) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, c := range m.conns {
		c.Disconnect(250)
		delete(m.conns, name)
	}
	return nil
}

// client returns (dialing if needed) the connection for server
func (m *MQ) client(server string) (mqtt.Client, error) {
	url, ok := m.cfg.Servers[server]
	if !ok {
		server = m.cfg.Default
		url = m.cfg.Servers[server]
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[server]; ok {
		return c, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(url).
		SetClientID(m.clientID()).
		SetConnectTimeout(m.cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(false)

	c := newClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(m.cfg.ConnectTimeout) {
		return nil, fmt.Errorf("mq: connect timeout to profile %q", server)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mq: connect to profile %q: %w", server, err)
	}
	m.conns[server] = c
	return c, nil
}

func (m *MQ) clientID() string {
	prefix := m.cfg.ClientID
	if prefix == "" {
		prefix = "takt"
	}
	return prefix + "-" + uuid.NewString()[:8]
}

func (m *MQ) timeout(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < m.cfg.PublishTimeout {
			return d
		}
	}
	return m.cfg.PublishTimeout
}
