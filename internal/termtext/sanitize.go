// Package termtext cleans raw pseudo-terminal output for line-oriented display.
package termtext

import (
	"regexp"
	"strings"
)

// controlSeq matches the escape sequences a remote shell emits around its output:
// OSC (window title, terminated by BEL or ESC \), CSI (cursor and color, ending in a
// single final letter) and two-byte charset selections.
var controlSeq = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)|\x1b\[[0-9;?<=>]*[ -/]*[A-Za-z]|\x1b[()][0-9A-Za-z]`)

// Sanitize strips terminal control sequences from s.
// Sanitize(Sanitize(s)) == Sanitize(s) for every s.
func Sanitize(s string) string {
	if !strings.Contains(s, "\x1b") {
		return s
	}
	for {
		out := controlSeq.ReplaceAllString(s, "")
		if out == s {
			return out
		}
		s = out
	}
}

// NormalizeNewlines folds CRLF and lone CR line endings to LF.
func NormalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// Clean sanitizes s and normalizes its line endings.
func Clean(s string) string {
	return NormalizeNewlines(Sanitize(s))
}
