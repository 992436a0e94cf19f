package game

import (
	"strings"
	"unicode"
)

// Normalize canonicalizes answer text for comparison: lowercase, trimmed,
// with everything that is not a letter, digit or space stripped. Applying it
// twice yields the same result as applying it once.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
