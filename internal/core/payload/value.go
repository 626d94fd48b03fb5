// Package payload holds the wire shapes published to the plant broker
// and the tagged-value plumbing behind the typed publish log. Key names
// are consumed by line-side dashboards and are bit-exact
package payload

import (
	"encoding/json"
	"strings"
	"time"
)

// Kind tags the scalar carried by a Value. Codes are stored in the
// publish log and are stable
type Kind uint8

// Value kinds
const (
	KindNum      Kind = 1
	KindText     Kind = 2
	KindBool     Kind = 3
	KindDatetime Kind = 4
)

// Value is a tagged scalar: exactly one of the typed fields is
// meaningful according to Kind
type Value struct {
	Kind Kind
	Num  float64
	Text string
	Bool bool
	Time time.Time
}

// Coerce builds a tagged Value from an arbitrary decoded scalar.
// Dicts and JSON strings wrapping {Value: ...} are unwrapped first
func Coerce(v any) Value {
	v = Unwrap(v)
	switch x := v.(type) {
	case nil:
		return Value{Kind: KindText, Text: ""}
	case bool:
		return Value{Kind: KindBool, Bool: x}
	case float64:
		return Value{Kind: KindNum, Num: x}
	case float32:
		return Value{Kind: KindNum, Num: float64(x)}
	case int:
		return Value{Kind: KindNum, Num: float64(x)}
	case int32:
		return Value{Kind: KindNum, Num: float64(x)}
	case int64:
		return Value{Kind: KindNum, Num: float64(x)}
	case time.Time:
		return Value{Kind: KindDatetime, Time: x}
	case string:
		return Value{Kind: KindText, Text: x}
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return Value{Kind: KindText, Text: ""}
		}
		return Value{Kind: KindText, Text: string(b)}
	}
}

// Unwrap peels {Value: ...} wrappers: maps with a Value/value key and
// JSON strings encoding such a map. One level per wrapper, applied
// until a plain scalar remains
func Unwrap(v any) any {
	for i := 0; i < 4; i++ {
		switch x := v.(type) {
		case map[string]any:
			if inner, ok := x["Value"]; ok {
				v = inner
				continue
			}
			if inner, ok := x["value"]; ok {
				v = inner
				continue
			}
			return v
		case string:
			s := strings.TrimSpace(x)
			if !strings.HasPrefix(s, "{") {
				return v
			}
			var m map[string]any
			if err := json.Unmarshal([]byte(s), &m); err != nil {
				return v
			}
			if inner, ok := m["Value"]; ok {
				v = inner
				continue
			}
			if inner, ok := m["value"]; ok {
				v = inner
				continue
			}
			return v
		default:
			return v
		}
	}
	return v
}

// Tri is a three-state boolean: true, false, or unknown
type Tri int8

// Tri states
const (
	TriUnknown Tri = iota
	TriFalse
	TriTrue
)

// CoerceTri maps a scalar onto the tri-state boolean. Numbers: 0 false,
// 1 true, anything else unknown. Strings: true/1/on/yes and
// false/0/off/no; anything else unknown
func CoerceTri(v any) Tri {
	v = Unwrap(v)
	switch x := v.(type) {
	case bool:
		if x {
			return TriTrue
		}
		return TriFalse
	case float64:
		return triFromNum(x)
	case float32:
		return triFromNum(float64(x))
	case int:
		return triFromNum(float64(x))
	case int64:
		return triFromNum(float64(x))
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1", "on", "yes":
			return TriTrue
		case "false", "0", "off", "no":
			return TriFalse
		}
		return TriUnknown
	default:
		return TriUnknown
	}
}

func triFromNum(f float64) Tri {
	switch f {
	case 0:
		return TriFalse
	case 1:
		return TriTrue
	}
	return TriUnknown
}

// AndTri reduces member states: any false wins, else any unknown makes
// the group unknown, else true
func AndTri(vals []Tri) Tri {
	sawUnknown := false
	sawTrue := false
	for _, v := range vals {
		switch v {
		case TriFalse:
			return TriFalse
		case TriUnknown:
			sawUnknown = true
		case TriTrue:
			sawTrue = true
		}
	}
	if sawUnknown || !sawTrue {
		return TriUnknown
	}
	return TriTrue
}

// JSONValue renders a Tri for the wire: true/false or nil for unknown
func (t Tri) JSONValue() any {
	switch t {
	case TriTrue:
		return true
	case TriFalse:
		return false
	}
	return nil
}
