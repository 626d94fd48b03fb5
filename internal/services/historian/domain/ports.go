// Package domain defines the historian read ports the engines consume
package domain

import (
	"context"
	"time"

	"takt/internal/core/counter"
)

// AnchorLookback bounds how far Anchor searches for a bounding sample.
// No sample inside the window means "no history anchor available" and
// callers fall back to the live value
const AnchorLookback = 48 * time.Hour

// TextSample is one historized reading of a string-valued tag, e.g. a
// fixture part number
type TextSample struct {
	TS   time.Time
	Text string
	Good bool
}

// ReaderPort is the query surface over the historized tag series
type ReaderPort interface {
	// Anchor returns the last value at or before at, using inclusive
	// bounding within AnchorLookback. ok=false when no sample exists
	Anchor(ctx context.Context, path string, at time.Time) (float64, bool, error)

	// PositiveDelta returns the reset-safe sum of increases over
	// [start, end), seeded from the bounding value at start
	PositiveDelta(ctx context.Context, path string, start, end time.Time) (int64, error)

	// FirstIncrementAfter returns the timestamp of the first sample in
	// [start, end) strictly greater than prev
	FirstIncrementAfter(ctx context.Context, path string, prev float64, start, end time.Time) (time.Time, bool, error)

	// Samples returns the ordered series over [start, end)
	Samples(ctx context.Context, path string, start, end time.Time) ([]counter.Sample, error)

	// Latest returns the newest sample per path. Paths with no sample
	// inside AnchorLookback are absent from the map
	Latest(ctx context.Context, paths []string) (map[string]counter.Sample, error)

	// LatestText is Latest for string-valued tags
	LatestText(ctx context.Context, paths []string) (map[string]TextSample, error)
}
