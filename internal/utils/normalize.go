// Package utils holds small domain-free helpers used across layers.
package utils

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Normalize canonicalizes an item name into its comparison key: trimmed,
// lowercased, with every run of whitespace collapsed to a single space.
// Blank input yields "". The function is total and idempotent.
//
// A Caser is stateful, so a fresh one is built per call.
func Normalize(name string) string {
	if name == "" {
		return ""
	}
	lower := cases.Lower(language.Und).String(name)
	return strings.Join(strings.Fields(lower), " ")
}
