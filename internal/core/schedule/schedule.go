// Package schedule holds the pure break and shift arithmetic shared by
// the engines: merged break spans, break-aware working time, and shift
// window lookups over today plus yesterday
package schedule

import (
	"sort"
	"time"
)

// Break is one half-open [Start, End) pause on a line
type Break struct {
	LineID int64
	Start  time.Time
	End    time.Time
}

// Shift is one named production window on a line, end-exclusive
type Shift struct {
	ShiftID   int64
	LineID    int64
	LocalDate string // YYYY-MM-DD the shift belongs to
	Start     time.Time
	End       time.Time
}

// MergeBreaks sorts spans by start and merges overlapping or touching
// ones into a disjoint list. Spans with End <= Start are dropped
func MergeBreaks(spans []Break) []Break {
	valid := make([]Break, 0, len(spans))
	for _, b := range spans {
		if b.End.After(b.Start) {
			valid = append(valid, b)
		}
	}
	if len(valid) == 0 {
		return nil
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].Start.Before(valid[j].Start) })

	out := []Break{valid[0]}
	for _, b := range valid[1:] {
		last := &out[len(out)-1]
		if !b.Start.After(last.End) {
			if b.End.After(last.End) {
				last.End = b.End
			}
			continue
		}
		out = append(out, b)
	}
	return out
}

// WorkingMS returns (end-start) minus the overlap with each break,
// clamped at >= 0. breaks must be the merged disjoint list for the line
func WorkingMS(start, end time.Time, breaks []Break) int64 {
	if !end.After(start) {
		return 0
	}
	ms := end.Sub(start).Milliseconds()
	for _, b := range breaks {
		ms -= overlapMS(start, end, b.Start, b.End)
	}
	if ms < 0 {
		ms = 0
	}
	return ms
}

func overlapMS(a0, a1, b0, b1 time.Time) int64 {
	lo := a0
	if b0.After(lo) {
		lo = b0
	}
	hi := a1
	if b1.Before(hi) {
		hi = b1
	}
	if !hi.After(lo) {
		return 0
	}
	return hi.Sub(lo).Milliseconds()
}

// SortShifts orders windows by start time in place and returns them
func SortShifts(wins []Shift) []Shift {
	sort.Slice(wins, func(i, j int) bool { return wins[i].Start.Before(wins[j].Start) })
	return wins
}

// Active returns the single window with Start <= now < End.
// wins must be sorted by start
func Active(wins []Shift, now time.Time) (Shift, bool) {
	for _, w := range wins {
		if !now.Before(w.Start) && now.Before(w.End) {
			return w, true
		}
	}
	return Shift{}, false
}

// LastEnded returns the most recent window with End <= now whose end is
// within grace of now. wins must be sorted by start
func LastEnded(wins []Shift, now time.Time, grace time.Duration) (Shift, bool) {
	var best Shift
	found := false
	for _, w := range wins {
		if w.End.After(now) {
			continue
		}
		if now.Sub(w.End) > grace {
			continue
		}
		if !found || w.End.After(best.End) {
			best, found = w, true
		}
	}
	return best, found
}
