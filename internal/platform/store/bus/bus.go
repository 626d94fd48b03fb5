// Package bus provides the nats client carrying raw tag change events
package bus

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

// Config configures nats connectivity
type Config struct {
	URL  string
	Name string // connection name shown in server monitoring
}

// Bus wraps a nats connection
type Bus struct {
	nc *nats.Conn
}

// connect is a seam so tests can stand in for a live server
var connect = func(url string, opts ...nats.Option) (*nats.Conn, error) {
	return nats.Connect(url, opts...)
}

// Open connects with endless reconnects; the engines outlive broker restarts
func Open(_ context.Context, cfg Config) (*Bus, error) {
	if cfg.URL == "" {
		return nil, errors.New("bus: url required")
	}
	nc, err := connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Bus{nc: nc}, nil
}

// Publish sends data on subject
func (b *Bus) Publish(subject string, data []byte) error {
	if b == nil || b.nc == nil {
		return errors.New("bus: not connected")
	}
	return b.nc.Publish(subject, data)
}

// Subscribe registers handler for subject (supports wildcards)
func (b *Bus) Subscribe(subject string, handler func(subject string, data []byte)) (*nats.Subscription, error) {
	if b == nil || b.nc == nil {
		return nil, errors.New("bus: not connected")
	}
	return b.nc.Subscribe(subject, func(m *nats.Msg) {
		handler(m.Subject, m.Data)
	})
}

// Ping reports readiness by flushing the connection
func (b *Bus) Ping(ctx context.Context) error {
	if b == nil || b.nc == nil {
		return errors.New("bus: not connected")
	}
	dl, ok := ctx.Deadline()
	if !ok {
		dl = time.Now().Add(2 * time.Second)
	}
	return b.nc.FlushTimeout(time.Until(dl))
}

// Close drains in-flight messages then closes
func (b *Bus) Close() error {
	if b == nil || b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}
