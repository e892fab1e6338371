package cupom

import "unicode/utf8"

// Snippet returns a shortened version of text for logging and bounded
// API responses. The cut backs up to a rune boundary so accented
// characters are never split.
func Snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
