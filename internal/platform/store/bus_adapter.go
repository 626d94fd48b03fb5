package store

import (
	"context"
	"errors"

	"takt/internal/platform/store/bus"
)

// newBusAdapter wraps an existing *bus.Bus as the store.Bus seam
func newBusAdapter(b *bus.Bus) Bus {
	return &busAdapter{inner: b}
}

// busAdapter adapts *bus.Bus to the store.Bus interface
type busAdapter struct {
	inner *bus.Bus
}

var _ Bus = (*busAdapter)(nil)

func (a *busAdapter) Publish(subject string, data []byte) error {
	if a == nil || a.inner == nil {
		return errors.New("store: nil bus adapter")
	}
	return a.inner.Publish(subject, data)
}

func (a *busAdapter) Subscribe(subject string, handler func(subject string, data []byte)) (Unsubscriber, error) {
	if a == nil || a.inner == nil {
		return nil, errors.New("store: nil bus adapter")
	}
	sub, err := a.inner.Subscribe(subject, handler)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (a *busAdapter) Close() error {
	if a == nil || a.inner == nil {
		return nil
	}
	return a.inner.Close()
}

// Ping lets the Guard verify the intake connection
func (a *busAdapter) Ping(ctx context.Context) error {
	if a == nil || a.inner == nil {
		return errors.New("store: nil bus adapter")
	}
	return a.inner.Ping(ctx)
}
