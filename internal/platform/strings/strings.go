// Package strings provides string helpers shared across the engines
package strings

import (
	std "strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// IfEmpty returns def if in is empty, otherwise returns in
func IfEmpty[T any](in []T, def []T) []T {
	if len(in) == 0 {
		return def
	}
	return in
}

// MustString returns s if it has non whitespace content otherwise panics
// name is used in the panic message so you can tell what was missing
func MustString(s string, name string) string {
	if std.TrimSpace(s) == "" {
		panic(name + " is required")
	}
	return s
}

// MustPrefix normalizes and asserts a root path like /admin or /state
// ensures a single leading slash and no trailing slash except for the root itself
// panics if the input is empty after trimming
func MustPrefix(s string) string {
	s = std.TrimSpace(s)
	s = "/" + std.Trim(s, " /")
	if s == "/" {
		panic("root path is required")
	}
	return s
}

var sentence = cases.Title(language.AmericanEnglish)

// SentenceCase lowercases s then title-cases each word, turning raw
// lookup names like "OPERATOR FAULT" into "Operator Fault"
func SentenceCase(s string) string {
	return sentence.String(std.ToLower(std.TrimSpace(s)))
}
