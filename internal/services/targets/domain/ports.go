package domain

import "context"

// EnginePort is the public entrypoint exposed by the targets module
type EnginePort interface {
	// Tick runs one CT pass: parts snapshot, effective CT with debounce,
	// segment journaling, base target emission and the periodic repair
	// sweep. Per-station errors log and skip
	Tick(ctx context.Context) error
}
