// Package cyclet computes effective cycle times for stations running
// several fixtures at once. The parallelism factor lambda blends the
// fully-sequential reading (arithmetic mean) with the fully-parallel
// one (slowest fixture divided by the fixture count)
package cyclet

import "sort"

// CT segment modes
const (
	ModeLiveFixtures  = "live-fixtures"
	ModeFallbackCfg   = "fallback-config"
	ModeMissingConfig = "missing-config"
)

// DefaultMultiplier applies when a part has a cycle time configured but
// no overcycle multiplier
const DefaultMultiplier = 2.0

// Effective blends per-fixture cycle times with parallelism lambda.
// k=0 yields 0, k=1 the single value, k>=2 the blend
// (1-lambda)*mean + lambda*(max/k)
func Effective(cts []float64, lambda float64) float64 {
	k := len(cts)
	switch k {
	case 0:
		return 0
	case 1:
		return cts[0]
	}
	lambda = clamp01(lambda)
	sum, max := 0.0, cts[0]
	for _, c := range cts {
		sum += c
		if c > max {
			max = c
		}
	}
	mean := sum / float64(k)
	return (1-lambda)*mean + lambda*(max/float64(k))
}

// Multiplier blends per-fixture overcycle multipliers with the same
// lambda, except the parallel term uses the minimum rather than max/k
func Multiplier(mults []float64, lambda float64) float64 {
	k := len(mults)
	switch k {
	case 0:
		return 0
	case 1:
		return mults[0]
	}
	lambda = clamp01(lambda)
	sum, min := 0.0, mults[0]
	for _, m := range mults {
		sum += m
		if m < min {
			min = m
		}
	}
	mean := sum / float64(k)
	return (1-lambda)*mean + lambda*min
}

// FallbackSeed builds the fixture CT list used when no live parts are
// visible: configured CTs sorted slowest first, truncated to fps slots
// and padded with the slowest when the config has fewer entries
func FallbackSeed(configured []float64, fps int) []float64 {
	if len(configured) == 0 || fps <= 0 {
		return nil
	}
	sorted := append([]float64(nil), configured...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	out := make([]float64, 0, fps)
	for i := 0; i < fps; i++ {
		if i < len(sorted) {
			out = append(out, sorted[i])
		} else {
			out = append(out, sorted[0])
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
