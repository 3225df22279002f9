package session

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/acolita/chat-shell-bridge/internal/termtext"
)

const truncatedNotice = "[output truncated]"

// lastLine returns the text after the final newline of sanitized output.
func lastLine(s string) string {
	s = termtext.Clean(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// frameReply turns the raw bytes read after writing line into chat text:
// control sequences removed, the echoed input and trailing prompt dropped,
// surrounding whitespace trimmed.
func frameReply(raw, line string, prompt *regexp.Regexp, truncated bool) string {
	lines := strings.Split(termtext.Clean(raw), "\n")

	if len(lines) > 0 && strings.TrimSpace(lines[0]) == strings.TrimSpace(line) && strings.TrimSpace(line) != "" {
		lines = lines[1:]
	}
	if n := len(lines); n > 0 && !truncated && prompt != nil && prompt.MatchString(lines[n-1]) {
		lines = lines[:n-1]
	}

	text := strings.TrimSpace(strings.Join(lines, "\n"))
	if truncated {
		if text != "" {
			text += "\n"
		}
		text += truncatedNotice
	}
	return text
}

// firstAbsolutePath returns the first line of sanitized output that begins
// with the path separator.
func firstAbsolutePath(raw string) (string, bool) {
	for _, line := range strings.Split(termtext.Clean(raw), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "/") {
			return line, true
		}
	}
	return "", false
}

// tidy trims text and drops a trailing prompt line.
func tidy(text string, prompt *regexp.Regexp) string {
	lines := strings.Split(strings.TrimRight(text, " \t\n"), "\n")
	if n := len(lines); n > 0 && prompt != nil && prompt.MatchString(lines[n-1]) {
		lines = lines[:n-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// joinOutput joins the non-empty parts with newlines.
func joinOutput(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}

const (
	markerPrefix = "___CSB_"
	markerSuffix = "___"
	// frameOverhead is read budget for the echoed framing and marker lines.
	frameOverhead = 512
	// tailKeep is how much output past the read budget is kept for marker matching.
	tailKeep = 256
)

// frame brackets one command line with start and end markers so the
// command's output can be cut out of the terminal stream. The end marker
// carries the exit status.
type frame struct {
	id      string
	start   string
	end     string
	startRe *regexp.Regexp
	endRe   *regexp.Regexp
}

func newFrame() *frame {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	start := markerPrefix + "START_" + id + markerSuffix
	end := markerPrefix + "END_" + id + markerSuffix
	// Markers count only alone on their line, never inside the echoed command.
	return &frame{
		id:      id,
		start:   start,
		end:     end,
		startRe: regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(start) + `[ \t]*$`),
		endRe:   regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(end) + `(\d+)[ \t]*$`),
	}
}

// framable reports whether line can be bracketed without changing how the
// shell parses it. Empty lines, comments, continuations, heredocs and
// dangling operators are sent as typed.
func framable(line string) bool {
	cmd := strings.TrimSpace(line)
	if cmd == "" || strings.ContainsAny(cmd, "\n#") || strings.Contains(cmd, "<<") {
		return false
	}
	for _, suffix := range []string{"\\", "|", "&&", ";;"} {
		if strings.HasSuffix(cmd, suffix) {
			return false
		}
	}
	return true
}

// wrap returns the line actually written for command.
func (f *frame) wrap(command string) string {
	cmd := strings.TrimSuffix(strings.TrimSpace(command), ";")
	sep := "; "
	if strings.HasSuffix(cmd, "&") {
		sep = " "
	}
	return fmt.Sprintf("echo '%s'; %s%secho '%s'$?", f.start, cmd, sep, f.end)
}

// cut splits sanitized terminal text around the frame: what came before
// the start marker, the command output so far and what followed the end
// marker. done reports that the end marker arrived.
func (f *frame) cut(clean string) (before, body, after string, done bool, code int) {
	loc := f.startRe.FindStringIndex(clean)
	if loc == nil {
		return clean, "", "", false, 0
	}
	before = clean[:loc[0]]
	rest := strings.TrimPrefix(clean[loc[1]:], "\n")
	m := f.endRe.FindStringSubmatchIndex(rest)
	if m == nil {
		return before, rest, "", false, 0
	}
	code, _ = strconv.Atoi(rest[m[2]:m[3]])
	return before, rest[:m[0]], rest[m[1]:], true, code
}

// ended reports whether the end marker is in clean and returns clean
// without it.
func (f *frame) ended(clean string) (string, bool) {
	loc := f.endRe.FindStringIndex(clean)
	if loc == nil {
		return clean, false
	}
	return clean[:loc[0]] + clean[loc[1]:], true
}

// strayOutput returns the lines of before that are neither part of the
// echoed framed line nor a bare prompt.
func (f *frame) strayOutput(before, wrapped string, prompt *regexp.Regexp) string {
	var kept []string
	for _, line := range strings.Split(before, "\n") {
		t := strings.TrimSpace(line)
		if t == "" || strings.Contains(t, f.id) || (len(t) > 3 && strings.Contains(wrapped, t)) {
			continue
		}
		if prompt != nil && prompt.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// capture accumulates shell output up to a byte budget. Output past the
// budget is dropped except for a short tail kept for marker matching.
type capture struct {
	buf       bytes.Buffer
	tail      []byte
	limit     int
	truncated bool
}

func (c *capture) write(chunk []byte) {
	room := c.limit - c.buf.Len()
	if room >= len(chunk) && !c.truncated {
		c.buf.Write(chunk)
		return
	}
	if room > 0 {
		c.buf.Write(chunk[:room])
	}
	c.truncated = true
	c.tail = append(c.tail, chunk...)
	if len(c.tail) > tailKeep {
		c.tail = c.tail[len(c.tail)-tailKeep:]
	}
}

func (c *capture) String() string { return c.buf.String() }

// recent returns the sanitized text markers are searched in after truncation.
func (c *capture) recent() string { return termtext.Clean(string(c.tail)) }
