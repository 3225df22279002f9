// Package fakepty provides a scripted interactive shell for testing session logic
// without a remote host.
package fakepty

import (
	"bytes"
	"errors"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Responder produces the terminal output for one input line. Returning
// exit=true ends the shell after the output is queued.
type Responder func(line string) (output string, exit bool)

// framed matches a command bracketed by start and end marker echoes, the way
// a session frames lines written at the prompt.
var framed = regexp.MustCompile(`^echo '([^']+)'; (.*?);? echo '([^']+)'\$\?$`)

// Shell is a fake ports.RemoteShell. Each newline-terminated write is echoed
// at once and then answered in order by a background worker, framed the way
// a pty frames it: echoed input, output, then a prompt. Framed lines also get
// their marker lines, with exit status 0.
type Shell struct {
	mu        sync.Mutex
	cond      *sync.Cond
	out       bytes.Buffer
	pending   string
	written   bytes.Buffer
	lines     []string
	queue     []string
	responder Responder
	prompt    string
	echo      bool
	delay     time.Duration
	held      bool
	closed    bool
	exited    chan struct{}
	writeErr  error
	readErr   error
}

// New creates a shell answering with responder.
func New(responder Responder) *Shell {
	s := &Shell{
		responder: responder,
		prompt:    "$ ",
		echo:      true,
		exited:    make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.work()
	return s
}

// SetPrompt sets the prompt printed after each reply.
func (s *Shell) SetPrompt(p string) *Shell {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompt = p
	return s
}

// SetEcho controls whether input lines are echoed back.
func (s *Shell) SetEcho(echo bool) *Shell {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.echo = echo
	return s
}

// SetDelay delays every reply, simulating a slow remote.
func (s *Shell) SetDelay(d time.Duration) *Shell {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
	return s
}

// FailWrites makes subsequent writes fail with err.
func (s *Shell) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// FailReads makes pending and subsequent reads fail with err.
func (s *Shell) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
	s.cond.Broadcast()
}

// Emit makes raw output readable, as if the remote printed it unprompted.
func (s *Shell) Emit(data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out.WriteString(data)
	s.cond.Broadcast()
}

// Read blocks until output is available or the shell ends.
func (s *Shell) Read(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.out.Len() == 0 && !s.closed && s.readErr == nil {
		s.cond.Wait()
	}
	if s.readErr != nil {
		return 0, s.readErr
	}
	if s.out.Len() == 0 {
		return 0, io.EOF
	}
	return s.out.Read(b)
}

// Hold makes the shell stop before printing command output, as if every
// command ran until Release.
func (s *Shell) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held = true
}

// Release lets held commands finish.
func (s *Shell) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held = false
	s.cond.Broadcast()
}

// Write records input, echoes every complete line and queues it for an answer.
func (s *Shell) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	s.written.Write(b)
	s.pending += string(b)

	for {
		i := strings.IndexByte(s.pending, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(s.pending[:i], "\r")
		s.pending = s.pending[i+1:]

		command := line
		if m := framed.FindStringSubmatch(line); m != nil {
			command = m[2]
		}
		s.lines = append(s.lines, command)
		if s.echo {
			s.out.WriteString(line + "\r\n")
		}
		s.queue = append(s.queue, line)
	}
	s.cond.Broadcast()
	return len(b), nil
}

// work answers queued lines one at a time until the shell ends.
func (s *Shell) work() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		line := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.answer(line)
	}
}

func (s *Shell) answer(line string) {
	command, start, end := line, "", ""
	if m := framed.FindStringSubmatch(line); m != nil {
		command, start, end = m[2], m[1], m[3]
	}

	s.mu.Lock()
	if start != "" {
		s.out.WriteString(start + "\r\n")
		s.cond.Broadcast()
	}
	for s.held && !s.closed {
		s.cond.Wait()
	}
	delay := s.delay
	s.mu.Unlock()

	output, exit := "", false
	if s.responder != nil {
		output, exit = s.responder(command)
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if output != "" {
		output = strings.ReplaceAll(output, "\n", "\r\n")
		if !strings.HasSuffix(output, "\r\n") {
			output += "\r\n"
		}
		s.out.WriteString(output)
	}
	if exit {
		s.finishLocked()
		return
	}
	if end != "" {
		s.out.WriteString(end + "0\r\n")
	}
	s.out.WriteString(s.prompt)
	s.cond.Broadcast()
}

// Wait blocks until the shell exits or is closed.
func (s *Shell) Wait() error {
	<-s.exited
	return nil
}

// Close ends the shell. Safe to call more than once.
func (s *Shell) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked()
	return nil
}

func (s *Shell) finishLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.exited)
	s.cond.Broadcast()
}

// --- Test inspection methods ---

// Written returns all raw input written to the shell.
func (s *Shell) Written() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.String()
}

// Lines returns the complete input lines received, in order, with any
// marker framing removed.
func (s *Shell) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// IsClosed reports whether the shell has ended.
func (s *Shell) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ErrBroken is a transport failure for tests to inject.
var ErrBroken = errors.New("fakepty: broken pipe")
