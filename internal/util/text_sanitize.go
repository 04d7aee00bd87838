package util

import (
	"strings"
	"unicode/utf8"
)

// SanitizeText drops NUL bytes, invalid UTF-8 and control characters other
// than newline, carriage return and tab, then trims the result. PDF text
// extraction produces all three and Postgres text columns reject them.
func SanitizeText(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		switch {
		case ch == utf8.RuneError:
			continue
		case ch == '\n', ch == '\r', ch == '\t':
			b.WriteRune(ch)
		case ch < 0x20, ch == 0x7f:
			continue
		default:
			b.WriteRune(ch)
		}
	}
	return strings.TrimSpace(b.String())
}
