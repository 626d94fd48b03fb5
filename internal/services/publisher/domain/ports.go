package domain

import "context"

// EnginePort is the production publisher surface the scheduler drives
type EnginePort interface {
	// PublishPending sends every hourly, shift and weekly row due for
	// publish and marks the finished ones. Open rows republish each pass
	PublishPending(ctx context.Context) error
}
