package telegram

import (
	"html"
	"strings"
	"unicode/utf8"
)

// splitText splits text into chunks of at most limit characters, preferring
// line boundaries.
func splitText(text string, limit int) []string {
	return split(text, limit, utf8.RuneCountInString)
}

// splitEscaped splits text so that every chunk stays within limit characters
// once HTML-escaped.
func splitEscaped(text string, limit int) []string {
	return split(text, limit, func(s string) int {
		return utf8.RuneCountInString(html.EscapeString(s))
	})
}

func split(text string, limit int, size func(string) int) []string {
	if size(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	curSize := 0
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curSize = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := size(line)
		if curSize+n <= limit {
			cur.WriteString(line)
			curSize += n
			continue
		}
		flush()
		if n <= limit {
			cur.WriteString(line)
			curSize = n
			continue
		}
		// A single line longer than the limit is cut by characters.
		for _, r := range line {
			s := string(r)
			rn := size(s)
			if curSize+rn > limit {
				flush()
			}
			cur.WriteString(s)
			curSize += rn
		}
	}
	flush()
	return chunks
}
