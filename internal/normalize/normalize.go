// Package normalize canonicalizes inbound text for rule matching. The
// command interceptor and the rule resolver both use Text so the two stages
// never disagree on what a token means.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Text returns the input lowercased, without diacritics, with punctuation
// replaced by spaces and whitespace collapsed. Total over all inputs; the
// empty string maps to itself.
func Text(s string) string {
	if s == "" {
		return ""
	}
	if out, _, err := transform.String(stripMarks, s); err == nil {
		s = out
	}
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		// Everything else (punctuation, symbols, underscores, whitespace)
		// collapses into a single separating space.
		if !lastSpace {
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}
