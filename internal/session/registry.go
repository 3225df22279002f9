package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/acolita/chat-shell-bridge/internal/adapters/realclock"
	"github.com/acolita/chat-shell-bridge/internal/ports"
)

// ConnectGuard throttles connect attempts per user@host.
type ConnectGuard interface {
	IsLocked(host, user string) (bool, time.Duration)
	RecordFailure(host, user string)
	RecordSuccess(host, user string)
}

// Registry holds at most one live session per user.
type Registry struct {
	connector ports.Connector
	settings  Settings
	clock     ports.Clock
	guard     ConnectGuard

	mu       sync.Mutex // guards sessions and locks only
	sessions map[UserID]*Session
	locks    map[UserID]*sync.Mutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithSettings sets how sessions read their shells.
func WithSettings(s Settings) Option {
	return func(r *Registry) {
		r.settings = s.withDefaults()
	}
}

// WithClock sets the clock used for read bounds and timestamps.
func WithClock(c ports.Clock) Option {
	return func(r *Registry) {
		r.clock = c
	}
}

// WithConnectGuard enables connect throttling.
func WithConnectGuard(g ConnectGuard) Option {
	return func(r *Registry) {
		r.guard = g
	}
}

// NewRegistry creates a registry that opens sessions through connector.
func NewRegistry(connector ports.Connector, opts ...Option) *Registry {
	r := &Registry{
		connector: connector,
		settings:  DefaultSettings(),
		clock:     realclock.New(),
		sessions:  make(map[UserID]*Session),
		locks:     make(map[UserID]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// userLock serializes lifecycle changes (open, close, teardown) for one user.
// Other users are never blocked by it.
func (r *Registry) userLock(user UserID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[user]
	if !ok {
		l = &sync.Mutex{}
		r.locks[user] = l
	}
	return l
}

func (r *Registry) get(user UserID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[user]
	return s, ok
}

func (r *Registry) take(user UserID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[user]
	if ok {
		delete(r.sessions, user)
	}
	return s, ok
}

// Open connects to the host in creds and starts a shell for user. An existing
// session for the user is closed first. Failures return a *ConnectError and
// leave the user without a session.
func (r *Registry) Open(ctx context.Context, user UserID, creds Credentials) (*Session, error) {
	lock := r.userLock(user)
	lock.Lock()
	defer lock.Unlock()

	if old, ok := r.take(user); ok {
		slog.Info("replacing existing session",
			slog.Int64("user_id", int64(user)),
			slog.String("target", old.Target()),
		)
		if err := old.close(ctx); err != nil {
			slog.Warn("closing replaced session failed",
				slog.Int64("user_id", int64(user)),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.guard != nil {
		if locked, remaining := r.guard.IsLocked(creds.Host, creds.User); locked {
			return nil, &ConnectError{Target: creds.String(), Err: ErrConnectLocked, RetryAfter: remaining}
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, r.settings.ConnectTimeout)
	defer cancel()

	conn, err := r.connector.Connect(connectCtx, creds.target())
	if err != nil {
		r.recordFailure(creds)
		slog.Warn("connect failed",
			slog.Int64("user_id", int64(user)),
			slog.Any("target", creds),
			slog.String("error", err.Error()),
		)
		return nil, &ConnectError{Target: creds.String(), Err: err}
	}

	shell, err := conn.OpenShell()
	if err != nil {
		conn.Close()
		r.recordFailure(creds)
		return nil, &ConnectError{Target: creds.String(), Err: fmt.Errorf("open shell: %w", err)}
	}
	if r.guard != nil {
		r.guard.RecordSuccess(creds.Host, creds.User)
	}

	s := newSession(user, creds, conn, shell, r.settings, r.clock)
	if err := s.Settle(ctx); err != nil {
		s.abort()
		return nil, &ConnectError{Target: creds.String(), Err: err}
	}

	r.mu.Lock()
	r.sessions[user] = s
	r.mu.Unlock()

	slog.Info("session opened",
		slog.Int64("user_id", int64(user)),
		slog.Any("target", creds),
	)
	return s, nil
}

func (r *Registry) recordFailure(creds Credentials) {
	if r.guard != nil {
		r.guard.RecordFailure(creds.Host, creds.User)
	}
}

// Send writes text to the user's shell and returns the framed output. When the
// session faults it is removed and the error wraps ErrSessionGone.
func (r *Registry) Send(ctx context.Context, user UserID, text string) (string, error) {
	s, ok := r.get(user)
	if !ok {
		return "", ErrNoSession
	}
	out, err := s.Send(ctx, text)
	if err != nil && errors.Is(err, ErrSessionGone) {
		r.drop(user, s, err)
	}
	return out, err
}

// drop removes s if it is still the user's session and releases it.
func (r *Registry) drop(user UserID, s *Session, cause error) {
	r.mu.Lock()
	if cur, ok := r.sessions[user]; ok && cur == s {
		delete(r.sessions, user)
	}
	r.mu.Unlock()

	slog.Warn("session lost",
		slog.Int64("user_id", int64(user)),
		slog.String("target", s.Target()),
		slog.String("error", cause.Error()),
	)
	s.abort()
}

// Close ends the user's session. The entry is removed even when the
// shutdown reports an error. Closing a user without a session is a no-op.
func (r *Registry) Close(ctx context.Context, user UserID) error {
	lock := r.userLock(user)
	lock.Lock()
	defer lock.Unlock()

	s, ok := r.take(user)
	if !ok {
		return nil
	}
	err := s.close(ctx)
	slog.Info("session closed",
		slog.Int64("user_id", int64(user)),
		slog.String("target", s.Target()),
	)
	return err
}

// CloseAll closes every session concurrently.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	users := make([]UserID, 0, len(r.sessions))
	for u := range r.sessions {
		users = append(users, u)
	}
	r.mu.Unlock()

	var g errgroup.Group
	for _, u := range users {
		g.Go(func() error {
			return r.Close(ctx, u)
		})
	}
	return g.Wait()
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Get returns the user's session.
func (r *Registry) Get(user UserID) (*Session, error) {
	s, ok := r.get(user)
	if !ok {
		return nil, ErrNoSession
	}
	return s, nil
}

// ResolveCwd refreshes and returns the user's working directory.
func (r *Registry) ResolveCwd(ctx context.Context, user UserID) (string, error) {
	s, ok := r.get(user)
	if !ok {
		return "", ErrNoSession
	}
	dir, err := s.ResolveCwd(ctx)
	if err != nil && errors.Is(err, ErrSessionGone) {
		r.drop(user, s, err)
	}
	return dir, err
}

// Run executes a one-shot command on the user's connection, outside the shell.
func (r *Registry) Run(ctx context.Context, user UserID, command string) (string, string, error) {
	s, ok := r.get(user)
	if !ok {
		return "", "", ErrNoSession
	}
	return s.conn.Run(ctx, command)
}

// Files returns the file transfer channel of the user's connection.
func (r *Registry) Files(user UserID) (ports.FileTransfer, error) {
	s, ok := r.get(user)
	if !ok {
		return nil, ErrNoSession
	}
	return s.conn.Files()
}
