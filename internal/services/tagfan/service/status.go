package service

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"takt/internal/core/payload"
	"takt/internal/platform/clock"
	pstrings "takt/internal/platform/strings"
)

// fixtureFolder and turntable folder names inside a station root
const (
	fixtureFolder   = "Fixtures/Fixture_"
	turntableSide   = "TurntableSide_"
	turntableFolder = "TurntableFixtures/TurntableFixture_"
)

// snapshotLocked composes the status payload for one station root from
// the last-value cache. Flat stations render one data entry; turntables
// render one entry per side
func (e *Engine) snapshotLocked(root string, now time.Time) payload.StatusEnvelope {
	rel := map[string]any{}
	prefix := root + "/"
	for k, tv := range e.vals {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		key := strings.TrimPrefix(k, prefix)
		for strings.HasSuffix(key, "/Value") {
			key = strings.TrimSuffix(key, "/Value")
		}
		rel[key] = tv.v
	}

	env := payload.StatusEnvelope{
		Version:   payload.Version,
		Timestamp: payload.Stamp(now.In(clock.Site)),
	}

	sides := sideNames(rel)
	if len(sides) == 0 {
		env.Data = []payload.StatusSide{e.flatSide(rel)}
		return env
	}
	for _, side := range sides {
		env.Data = append(env.Data, e.turntableSide(rel, side))
	}
	return env
}

func (e *Engine) flatSide(rel map[string]any) payload.StatusSide {
	side := payload.StatusSide{
		SideID:     asIntPtr(rel["SideID"]),
		CycleTime:  asFloatPtr(rel["CycleTime"]),
		TotalParts: asIntPtr(rel["TotalParts"]),
	}
	for _, n := range folderNumbers(rel, fixtureFolder) {
		side.Fixtures = append(side.Fixtures, e.fixture(rel, fixtureFolder+strconv.Itoa(n)+"/", n))
	}
	return side
}

func (e *Engine) turntableSide(rel map[string]any, name string) payload.StatusSide {
	n, _ := strconv.Atoi(strings.TrimPrefix(name, turntableSide))
	prefix := name + "/"
	side := payload.StatusSide{
		SideID:     &n,
		CycleTime:  asFloatPtr(rel[prefix+"CycleTime"]),
		TotalParts: asIntPtr(rel[prefix+"TotalParts"]),
	}
	for _, m := range folderNumbers(rel, prefix+turntableFolder) {
		side.Fixtures = append(side.Fixtures, e.fixture(rel, prefix+turntableFolder+strconv.Itoa(m)+"/", m))
	}
	return side
}

// fixture reads one fixture folder out of the relative map. Good and
// bad counts default to zero; everything else renders null when the
// tag is absent
func (e *Engine) fixture(rel map[string]any, prefix string, id int) payload.Fixture {
	at := func(tag string) any { return rel[prefix+tag] }

	f := payload.Fixture{
		FixtureID:          &id,
		ResetableGoodParts: asInt(at("Good_Part")),
		ResetableBadParts:  asInt(at("Bad_Part")),
		MachineRunning:     asBoolPtr(at("Machine_Running")),
		MachineFaulted:     asBoolPtr(at("Machine_Faulted")),
		SmartPartInProg:    asBoolPtr(at("Smart_Part_Mode")),
		PartNumber:         asStrPtr(at("Part_Number")),
		SerialNumber1:      asStrPtr(at("Serial_Number_1")),
		SerialNumber2:      asStrPtr(at("Serial_Number_2")),
		SerialNumber3:      asStrPtr(at("Serial_Number_3")),
		SerialNumber4:      asStrPtr(at("Serial_Number_4")),
		SerialNumber5:      asStrPtr(at("Serial_Number_5")),
		UserID:             asStrPtr(at("UserID")),
		AndonActive:        asIntPtr(at("Andon_Active")),
	}
	f.UserLevel = e.displayName(e.roles, at("User_Level"))
	f.RejectCode = e.displayName(e.rejects, at("Reject_Code"))
	return f
}

// displayName resolves a raw lookup value to its sentence-cased display
// name, falling back to the raw value when no mapping exists
func (e *Engine) displayName(names map[string]string, raw any) any {
	if raw == nil {
		return nil
	}
	if name, ok := names[scalarKey(raw)]; ok {
		return pstrings.SentenceCase(name)
	}
	return raw
}

// sideNames returns the sorted turntable side folders, empty for flat
// stations
func sideNames(rel map[string]any) []string {
	seen := map[string]bool{}
	for k := range rel {
		seg := k
		if i := strings.IndexByte(k, '/'); i >= 0 {
			seg = k[:i]
		}
		if strings.HasPrefix(seg, turntableSide) {
			seen[seg] = true
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.Atoi(strings.TrimPrefix(out[i], turntableSide))
		b, _ := strconv.Atoi(strings.TrimPrefix(out[j], turntableSide))
		return a < b
	})
	return out
}

// folderNumbers returns the sorted numeric suffixes present under a
// numbered folder prefix like "Fixtures/Fixture_"
func folderNumbers(rel map[string]any, prefix string) []int {
	seen := map[int]bool{}
	for k := range rel {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		i := strings.IndexByte(rest, '/')
		if i < 0 {
			continue
		}
		if n, err := strconv.Atoi(rest[:i]); err == nil {
			seen[n] = true
		}
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func asInt(v any) int {
	if c := payload.Coerce(v); c.Kind == payload.KindNum {
		return int(c.Num)
	}
	return 0
}

func asIntPtr(v any) *int {
	if v == nil {
		return nil
	}
	if c := payload.Coerce(v); c.Kind == payload.KindNum {
		n := int(c.Num)
		return &n
	}
	return nil
}

func asFloatPtr(v any) *float64 {
	if v == nil {
		return nil
	}
	if c := payload.Coerce(v); c.Kind == payload.KindNum {
		f := c.Num
		return &f
	}
	return nil
}

func asBoolPtr(v any) *bool {
	switch payload.CoerceTri(v) {
	case payload.TriTrue:
		b := true
		return &b
	case payload.TriFalse:
		b := false
		return &b
	}
	return nil
}

func asStrPtr(v any) *string {
	if v == nil {
		return nil
	}
	switch c := payload.Coerce(v); c.Kind {
	case payload.KindText:
		if strings.TrimSpace(c.Text) == "" {
			return nil
		}
		return &c.Text
	case payload.KindNum:
		s := strconv.FormatFloat(c.Num, 'f', -1, 64)
		return &s
	}
	return nil
}

// scalarKey renders a lookup key the way the config tables store it
func scalarKey(v any) string {
	switch c := payload.Coerce(v); c.Kind {
	case payload.KindNum:
		return strconv.FormatFloat(c.Num, 'f', -1, 64)
	case payload.KindBool:
		return strconv.FormatBool(c.Bool)
	default:
		return strings.TrimSpace(c.Text)
	}
}
