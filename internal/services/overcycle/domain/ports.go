package domain

import "context"

// EnginePort is the overcycle engine surface the scheduler drives
type EnginePort interface {
	// Tick scans cycle-time history since the last anchors, advances the
	// per-station accumulators and publishes the line leaderboards
	Tick(ctx context.Context) error
}
