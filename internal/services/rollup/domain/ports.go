package domain

import (
	"context"
	"time"
)

// RunnerPort is the public entrypoint exposed by the rollup module
type RunnerPort interface {
	// Tick runs one rollup pass: bootstrap if the local day changed,
	// accumulate live counters, roll windows, reconcile late shifts,
	// and flush one batched upsert per table. Never returns a
	// per-station error; those log and skip
	Tick(ctx context.Context) error

	// BackfillDay recomputes every hour and shift of a past local day
	// from the historian and upserts dense rows. Idempotent
	BackfillDay(ctx context.Context, date time.Time, writeZeroOnNoData bool, chunk int) (BackfillResult, error)

	// StateSnapshot returns a copy of the per-station live state
	StateSnapshot() []StationState

	// PersistedState rebuilds the station view from the open rows in
	// postgres, for processes that do not run the tick loop
	PersistedState(ctx context.Context) ([]StationState, error)
}
