// Package textx provides small text utilities used across the project.
package textx

import (
	"strings"
)

// SanitizeText removes control characters except tab/newline/CR and trims spaces.
func SanitizeText(s string) string {
	// strip control chars outside tab/newline/carriage return
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// NormalizeForHash canonicalizes message content before digesting: control
// characters are stripped and whitespace runs collapse to one space, so
// formatting differences do not produce distinct digests.
func NormalizeForHash(s string) string {
	return strings.Join(strings.Fields(SanitizeText(s)), " ")
}

// Truncate bounds a string for log output, marking elision.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
