package service

import (
	"fmt"
	"sort"

	ccdom "takt/internal/services/configcache/domain"
	histdom "takt/internal/services/historian/domain"
)

// fixturePaths returns every Part_Number path the station's snapshot
// reads. Turntables expose the same fixture index on both sides
func fixturePaths(st ccdom.Station) []string {
	fps := safeFPS(st.FixturesPerSide)
	var out []string
	if st.IsTurntable {
		for side := 1; side <= 2; side++ {
			for i := 1; i <= fps; i++ {
				out = append(out, fmt.Sprintf("%s/TurntableSide_%d/TurntableFixtures/TurntableFixture_%d/Part_Number",
					st.BasePath, side, i))
			}
		}
		return out
	}
	for i := 1; i <= fps; i++ {
		out = append(out, fmt.Sprintf("%s/Fixture_%d/Part_Number", st.BasePath, i))
	}
	return out
}

// partsSnapshot builds the live part list from the latest text reads.
// Turntables merge both sides per fixture index, newest value wins and
// a timestamp tie goes to side 1. Blank or bad reads are skipped
func partsSnapshot(st ccdom.Station, texts map[string]histdom.TextSample) []string {
	fps := safeFPS(st.FixturesPerSide)
	var parts []string

	pick := func(path string) (histdom.TextSample, bool) {
		s, ok := texts[path]
		if !ok || !s.Good || s.Text == "" {
			return histdom.TextSample{}, false
		}
		return s, true
	}

	if st.IsTurntable {
		for i := 1; i <= fps; i++ {
			s1, ok1 := pick(fmt.Sprintf("%s/TurntableSide_1/TurntableFixtures/TurntableFixture_%d/Part_Number", st.BasePath, i))
			s2, ok2 := pick(fmt.Sprintf("%s/TurntableSide_2/TurntableFixtures/TurntableFixture_%d/Part_Number", st.BasePath, i))
			switch {
			case ok1 && !ok2:
				parts = append(parts, s1.Text)
			case ok2 && !ok1:
				parts = append(parts, s2.Text)
			case ok1 && ok2:
				if s2.TS.After(s1.TS) {
					parts = append(parts, s2.Text)
				} else {
					parts = append(parts, s1.Text)
				}
			}
		}
	} else {
		for i := 1; i <= fps; i++ {
			if s, ok := pick(fmt.Sprintf("%s/Fixture_%d/Part_Number", st.BasePath, i)); ok {
				parts = append(parts, s.Text)
			}
		}
	}

	if len(parts) > fps {
		parts = parts[:fps]
	}
	return parts
}

// fallbackParts seeds the fixture slots from configured CTs when no live
// parts are visible: slowest parts first, padded with the slowest
func fallbackParts(ct map[string]float64, fps int) (names []string, cts []float64) {
	type kv struct {
		name string
		ct   float64
	}
	var entries []kv
	for name, v := range ct {
		if v > 0 {
			entries = append(entries, kv{name, v})
		}
	}
	if len(entries) == 0 || fps <= 0 {
		return nil, nil
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ct != entries[j].ct {
			return entries[i].ct > entries[j].ct
		}
		return entries[i].name < entries[j].name
	})
	for i := 0; i < fps; i++ {
		e := entries[0]
		if i < len(entries) {
			e = entries[i]
		}
		names = append(names, e.name)
		cts = append(cts, e.ct)
	}
	return names, cts
}

func safeFPS(fps int) int {
	if fps < 1 {
		return 1
	}
	if fps > 8 {
		return 8
	}
	return fps
}
