// Package counter holds the reset-safe arithmetic for monotonic part
// counters. PLC counters occasionally reset to a smaller value on a
// program reload; every delta in the system goes through these helpers
// so a reset never produces a negative contribution
package counter

import (
	"math"
	"time"
)

// Sample is one historized reading of a counter or cycle tag
type Sample struct {
	TS    time.Time
	Value float64
	Good  bool
}

// PositiveDelta sums the increases across samples in time order. The
// peak seeds with the first sample value; a value at or below the peak
// contributes nothing, which absorbs resets and dips
func PositiveDelta(samples []Sample) int64 {
	if len(samples) == 0 {
		return 0
	}
	peak := samples[0].Value
	total := 0.0
	for _, s := range samples[1:] {
		if s.Value > peak {
			total += s.Value - peak
			peak = s.Value
		}
	}
	return int64(math.Round(total))
}

// Accumulate applies one live reading against the last peak and returns
// the parts to add plus the new peak. A drop below the peak adds nothing
// and silently accepts the new baseline
func Accumulate(peak, curr int64) (add, newPeak int64) {
	if curr >= peak {
		return curr - peak, curr
	}
	return 0, curr
}

// FirstIncrementAfter returns the timestamp of the first sample whose
// value is strictly greater than prev, in sample order
func FirstIncrementAfter(samples []Sample, prev float64) (time.Time, bool) {
	for _, s := range samples {
		if s.Value > prev {
			return s.TS, true
		}
	}
	return time.Time{}, false
}
