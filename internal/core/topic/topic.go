// Package topic formats broker topics from the plant hierarchy. The
// layout is fixed: m/<division>/<plant>/<area>/<subarea>/line/<line>/<scope>
// with spaces stripped from every segment
package topic

import "strings"

// Hierarchy carries the display names a station resolves to
type Hierarchy struct {
	Division string
	Plant    string
	Area     string
	Subarea  string
	Line     string
	Station  string
	LineID   int64
}

// Build renders the topic for a scope slug under the hierarchy
func Build(h Hierarchy, scope string) string {
	parts := []string{
		"m",
		Slug(h.Division),
		Slug(h.Plant),
		Slug(h.Area),
		Slug(h.Subarea),
		"line",
		Slug(h.Line),
		Slug(scope),
	}
	return strings.Join(parts, "/")
}

// Slug strips all spaces from a hierarchy name
func Slug(s string) string {
	return strings.ReplaceAll(s, " ", "")
}
