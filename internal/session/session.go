// Package session owns the live remote shells of chat users: opening them,
// exchanging command lines with them and tearing them down.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/acolita/chat-shell-bridge/internal/ports"
	"github.com/acolita/chat-shell-bridge/internal/termtext"
)

// Session is one user's interactive shell on a remote host. Exchanges with
// the shell are serialized so command lines never interleave on the pty.
type Session struct {
	user     UserID
	target   string
	conn     ports.RemoteConn
	shell    ports.RemoteShell
	settings Settings
	clock    ports.Clock

	mu      sync.Mutex // held for a whole exchange
	closed  bool
	running *frame // framed command whose end marker has not arrived
	carry   string // earlier output held for the next Send

	chunks chan []byte
	done   chan struct{}

	stateMu  sync.Mutex
	readErr  error
	cwd      string
	openedAt time.Time
	lastUsed time.Time
}

func newSession(user UserID, creds Credentials, conn ports.RemoteConn, shell ports.RemoteShell, settings Settings, clock ports.Clock) *Session {
	now := clock.Now()
	s := &Session{
		user:     user,
		target:   creds.String(),
		conn:     conn,
		shell:    shell,
		settings: settings,
		clock:    clock,
		chunks:   make(chan []byte, 64),
		done:     make(chan struct{}),
		cwd:      ".",
		openedAt: now,
		lastUsed: now,
	}
	go s.pump()
	return s
}

// pump copies shell output into chunks until the shell ends or the session closes.
func (s *Session) pump() {
	defer close(s.chunks)

	buf := make([]byte, 4096)
	for {
		n, err := s.shell.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			select {
			case s.chunks <- data:
			case <-s.done:
				return
			}
		}
		if err != nil {
			s.stateMu.Lock()
			s.readErr = err
			s.stateMu.Unlock()
			return
		}
	}
}

func (s *Session) pumpErr() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.readErr
}

// User returns the owning user.
func (s *Session) User() UserID { return s.user }

// Target returns user@host:port of the remote login.
func (s *Session) Target() string { return s.target }

// Cwd returns the last resolved working directory, "." until one is resolved.
func (s *Session) Cwd() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.cwd
}

// OpenedAt returns when the session was established.
func (s *Session) OpenedAt() time.Time { return s.openedAt }

// LastUsed returns when the last exchange finished.
func (s *Session) LastUsed() time.Time {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.lastUsed
}

// Send writes text as one input line and returns the reply. Output the
// shell produced after the previous reply comes first. A transport fault
// returns an error wrapping ErrSessionGone.
func (s *Session) Send(ctx context.Context, text string) (string, error) {
	return s.exchange(ctx, text, true)
}

// ResolveCwd asks the shell for its working directory. The tracked value is
// replaced only when the reply contains an absolute path.
func (s *Session) ResolveCwd(ctx context.Context) (string, error) {
	reply, err := s.exchange(ctx, s.settings.PwdCommand, false)
	if err != nil {
		return s.Cwd(), err
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if dir, ok := firstAbsolutePath(reply); ok {
		s.cwd = dir
	} else {
		slog.Debug("working directory reply had no path, keeping previous",
			slog.Int64("user_id", int64(s.user)),
			slog.String("cwd", s.cwd),
		)
	}
	return s.cwd, nil
}

// Settle consumes output the shell produces without input, such as the login
// banner and first prompt.
func (s *Session) Settle(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionGone
	}
	_, err := s.readRaw(ctx, "")
	return err
}

// exchange writes line and reads its reply. When the shell is at its prompt
// the line is framed with markers and the read lasts until the command
// finishes or SettleMax passes. While an earlier command is still running
// the line is sent as typed, as input for that command.
//
// Output that arrived after the previous reply is returned ahead of the
// reply when withEarlier is set, and held for the next Send otherwise.
func (s *Session) exchange(ctx context.Context, line string, withEarlier bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrSessionGone
	}

	earlier := joinOutput(s.carry, s.earlierOutput())
	s.carry = ""
	if err := s.pumpErr(); err != nil {
		return "", sessionGone(err)
	}

	var (
		reply string
		err   error
	)
	if s.running == nil && framable(line) {
		f := newFrame()
		wrapped := f.wrap(line)
		if _, werr := s.shell.Write([]byte(wrapped + "\n")); werr != nil {
			return "", sessionGone(werr)
		}
		var stray string
		stray, reply, err = s.readFramed(ctx, f, wrapped)
		earlier = joinOutput(earlier, stray)
	} else {
		if _, werr := s.shell.Write([]byte(line + "\n")); werr != nil {
			return "", sessionGone(werr)
		}
		reply, err = s.readRaw(ctx, line)
	}

	s.stateMu.Lock()
	s.lastUsed = s.clock.Now()
	s.stateMu.Unlock()

	if withEarlier {
		return joinOutput(earlier, reply), err
	}
	s.carry = earlier
	return reply, err
}

// earlierOutput takes output buffered since the last read and turns it into
// reply text. It clears the running command once its end marker shows up.
func (s *Session) earlierOutput() string {
	raw := s.drain()
	if len(raw) == 0 {
		return ""
	}
	clean := s.finishRunning(termtext.Clean(string(raw)))
	text := tidy(clean, s.settings.Prompt)
	if text != "" {
		slog.Debug("returning output that arrived after the last reply",
			slog.Int64("user_id", int64(s.user)),
			slog.Int("bytes", len(raw)),
		)
	}
	return text
}

// finishRunning strips the running command's end marker from clean and
// marks the shell idle when it is found.
func (s *Session) finishRunning(clean string) string {
	if s.running == nil {
		return clean
	}
	rest, ok := s.running.ended(clean)
	if ok {
		slog.Debug("earlier command finished", slog.Int64("user_id", int64(s.user)))
		s.running = nil
	}
	return rest
}

// drain takes output already buffered by the pump without waiting.
func (s *Session) drain() []byte {
	var out []byte
	for {
		select {
		case chunk, ok := <-s.chunks:
			if !ok {
				return out
			}
			out = append(out, chunk...)
		default:
			return out
		}
	}
}

// readFramed reads until the end marker of f arrives or SettleMax passes.
// It returns unrelated output seen before the start marker separately from
// the command's own output. A command still running when the read ends is
// remembered so its end marker is recognized later.
func (s *Session) readFramed(ctx context.Context, f *frame, wrapped string) (string, string, error) {
	c := capture{limit: s.settings.MaxOutputBytes + len(wrapped) + frameOverhead}
	deadline := s.clock.After(s.settings.SettleMax)

	for {
		select {
		case chunk, ok := <-s.chunks:
			if !ok {
				stray, reply, _ := s.framedReply(&c, f, wrapped)
				return stray, reply, sessionGone(s.pumpErr())
			}
			c.write(chunk)
			if stray, reply, done := s.framedReply(&c, f, wrapped); done {
				return stray, reply, nil
			}
		case <-deadline:
			s.running = f
			stray, reply, _ := s.framedReply(&c, f, wrapped)
			return stray, reply, nil
		case <-ctx.Done():
			s.running = f
			stray, reply, _ := s.framedReply(&c, f, wrapped)
			return stray, reply, ctx.Err()
		}
	}
}

// framedReply cuts the captured output around f and reports whether the
// command finished.
func (s *Session) framedReply(c *capture, f *frame, wrapped string) (string, string, bool) {
	before, body, after, done, code := f.cut(termtext.Clean(c.String()))
	if !done && c.truncated {
		_, done = f.ended(c.recent())
		after = ""
	}

	truncated := c.truncated
	if limit := s.settings.MaxOutputBytes; len(body) > limit {
		body = body[:limit]
		truncated = true
	}
	reply := strings.TrimSpace(body)
	if truncated {
		reply = joinOutput(reply, truncatedNotice)
	}
	if done {
		reply = joinOutput(reply, tidy(after, s.settings.Prompt))
		slog.Debug("command finished",
			slog.Int64("user_id", int64(s.user)),
			slog.Int("exit_code", code),
		)
	}

	stray := f.strayOutput(s.finishRunning(before), wrapped, s.settings.Prompt)
	return stray, reply, done
}

// readRaw reads until the shell goes quiet, a prompt shows up at the tail of
// the output, or SettleMax passes. Whatever arrived is returned in every case.
func (s *Session) readRaw(ctx context.Context, line string) (string, error) {
	c := capture{limit: s.settings.MaxOutputBytes}
	deadline := s.clock.After(s.settings.SettleMax)
	var quiet <-chan time.Time

	reply := func() string {
		clean := termtext.Clean(c.String())
		if s.running != nil {
			if c.truncated {
				if _, ok := s.running.ended(c.recent()); ok {
					s.running = nil
				}
			} else {
				clean = s.finishRunning(clean)
			}
		}
		return frameReply(clean, line, s.settings.Prompt, c.truncated)
	}

	for {
		select {
		case chunk, ok := <-s.chunks:
			if !ok {
				return reply(), sessionGone(s.pumpErr())
			}
			c.write(chunk)
			if !c.truncated && s.settings.Prompt.MatchString(lastLine(c.String())) {
				return reply(), nil
			}
			quiet = s.clock.After(s.settings.SettleQuiet)
		case <-quiet:
			return reply(), nil
		case <-deadline:
			return reply(), nil
		case <-ctx.Done():
			return reply(), ctx.Err()
		}
	}
}

// close writes the exit command, waits up to CloseTimeout for the shell to
// finish and releases the transport.
func (s *Session) close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if _, err := s.shell.Write([]byte(s.settings.ExitCommand + "\n")); err == nil {
		exited := make(chan struct{})
		go func() {
			s.shell.Wait()
			close(exited)
		}()
		select {
		case <-exited:
		case <-s.clock.After(s.settings.CloseTimeout):
			slog.Warn("shell did not exit in time, closing transport",
				slog.Int64("user_id", int64(s.user)),
				slog.String("target", s.target),
			)
		case <-ctx.Done():
		}
	}
	close(s.done)

	var errs []error
	if err := s.shell.Close(); err != nil && !isConnectionBroken(err) {
		errs = append(errs, fmt.Errorf("close shell: %w", err))
	}
	if err := s.conn.Close(); err != nil && !isConnectionBroken(err) {
		errs = append(errs, fmt.Errorf("close transport: %w", err))
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// abort releases the transport without the exit handshake.
func (s *Session) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	s.shell.Close()
	s.conn.Close()
}
