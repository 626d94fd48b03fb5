package domain

import "context"

// FanPort is the tag-change fan-out surface. Run blocks until the
// context is cancelled; HandleEvent and Sweep are exposed so the ops
// API and tests can drive the engine directly
type FanPort interface {
	// Run subscribes to the raw tag stream and services the coalescing
	// windows until ctx is done
	Run(ctx context.Context) error

	// HandleEvent ingests one tag change and arms coalescers
	HandleEvent(ctx context.Context, ev TagEvent)

	// Sweep publishes every coalescing window whose deadline has passed
	Sweep(ctx context.Context)
}
