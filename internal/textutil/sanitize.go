// Package textutil provides text normalization shared by every loader and
// prompt builder in the engine.
package textutil

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Matches ASCII whitespace plus the Unicode separators NFKC leaves alone
// (NEL, Zs/Zl/Zp), mirroring a Unicode-aware \s.
var whitespaceRE = regexp.MustCompile(`[\s\p{Z}\x{85}]+`)

// Sanitize canonicalizes raw text: Unicode NFKC normalization, removal of
// NUL and BOM characters, collapse of all whitespace runs to a single
// space, and trimming. Sanitize is idempotent and returns "" for input
// that is empty or whitespace-only.
func Sanitize(s string) string {
	if s == "" {
		return ""
	}

	s = norm.NFKC.String(s)
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "\ufeff", "")
	s = whitespaceRE.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
