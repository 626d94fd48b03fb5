package cyclet

import "time"

// Segment is one contiguous range during which a station's effective CT
// is constant. A segment stays in force until the next one for the same
// station; segments never overlap
type Segment struct {
	StationID     int64
	EffectiveFrom time.Time
	CT            float64
	Multiplier    float64
	Mode          string
}

// EffectiveMultiplier returns the segment multiplier, falling back to
// DefaultMultiplier when the stored value is zero or negative
func (s Segment) EffectiveMultiplier() float64 {
	if s.Multiplier > 0 {
		return s.Multiplier
	}
	return DefaultMultiplier
}

// At returns the segment in force at t: the one with the greatest
// EffectiveFrom <= t. segs must be sorted ascending by EffectiveFrom.
// hint is the index the previous lookup returned; scans over ordered
// history pass it back so each lookup only walks forward
func At(segs []Segment, t time.Time, hint int) (Segment, int, bool) {
	if len(segs) == 0 {
		return Segment{}, 0, false
	}
	i := hint
	if i < 0 || i >= len(segs) || segs[i].EffectiveFrom.After(t) {
		i = 0
	}
	if segs[i].EffectiveFrom.After(t) {
		return Segment{}, 0, false
	}
	for i+1 < len(segs) && !segs[i+1].EffectiveFrom.After(t) {
		i++
	}
	return segs[i], i, true
}

// IsOvercycle classifies one realized cycle against a segment: an event
// is overcycle iff ct < act <= ct*mult. Anything past ct*mult counts as
// idle or changeover, not overcycle
func (s Segment) IsOvercycle(act float64) bool {
	ct := s.CT
	if ct <= 0 {
		return false
	}
	return act > ct && act <= ct*s.EffectiveMultiplier()
}
