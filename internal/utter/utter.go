// Package utter cleans up voice-captured text before it is stored.
package utter

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var pronounRe = regexp.MustCompile(`\bi\b`)

// Normalize trims raw, capitalizes its first letter and fixes the standalone
// lowercase "i" pronoun. All other casing is left untouched.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	r, size := utf8.DecodeRuneInString(s)
	s = string(unicode.ToUpper(r)) + s[size:]

	return pronounRe.ReplaceAllString(s, "I")
}
