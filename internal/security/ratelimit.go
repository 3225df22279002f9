// Package security holds the checks that stand between a chat message and the
// remote host: the command gate, connect throttling and bot token storage.
package security

import (
	"fmt"
	"sync"
	"time"

	"github.com/acolita/chat-shell-bridge/internal/adapters/realclock"
	"github.com/acolita/chat-shell-bridge/internal/ports"
)

// ConnectLimiter tracks connect failures per user@host and locks the target
// out after too many.
type ConnectLimiter struct {
	mu              sync.Mutex
	clock           ports.Clock
	failures        map[string]*connectFailure
	maxFailures     int
	lockoutDuration time.Duration
}

type connectFailure struct {
	count     int
	firstFail time.Time
	lockedAt  time.Time
}

// DefaultMaxConnectFailures is the default number of failures before lockout.
const DefaultMaxConnectFailures = 3

// DefaultLockoutDuration is the default lockout duration.
const DefaultLockoutDuration = 5 * time.Minute

// LimiterOption configures a ConnectLimiter.
type LimiterOption func(*ConnectLimiter)

// WithLimiterClock sets the clock used for lockout windows.
func WithLimiterClock(c ports.Clock) LimiterOption {
	return func(r *ConnectLimiter) {
		r.clock = c
	}
}

// NewConnectLimiter creates a limiter. Non-positive arguments use the defaults.
func NewConnectLimiter(maxFailures int, lockoutDuration time.Duration, opts ...LimiterOption) *ConnectLimiter {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxConnectFailures
	}
	if lockoutDuration <= 0 {
		lockoutDuration = DefaultLockoutDuration
	}

	r := &ConnectLimiter{
		clock:           realclock.New(),
		failures:        make(map[string]*connectFailure),
		maxFailures:     maxFailures,
		lockoutDuration: lockoutDuration,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func key(host, user string) string {
	return fmt.Sprintf("%s@%s", user, host)
}

// IsLocked reports whether host/user is locked out and for how much longer.
func (r *ConnectLimiter) IsLocked(host, user string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.failures[key(host, user)]
	if !ok || f.lockedAt.IsZero() {
		return false, 0
	}

	elapsed := r.clock.Now().Sub(f.lockedAt)
	if elapsed >= r.lockoutDuration {
		return false, 0
	}
	return true, r.lockoutDuration - elapsed
}

// RecordFailure records a failed connect.
func (r *ConnectLimiter) RecordFailure(host, user string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	k := key(host, user)
	f, ok := r.failures[k]
	if !ok {
		f = &connectFailure{firstFail: now}
		r.failures[k] = f
	}

	// Reset if lockout has expired
	if !f.lockedAt.IsZero() && now.Sub(f.lockedAt) >= r.lockoutDuration {
		f.count = 0
		f.firstFail = now
		f.lockedAt = time.Time{}
	}

	f.count++
	if f.count >= r.maxFailures {
		f.lockedAt = now
	}
}

// RecordSuccess forgets the failures of host/user.
func (r *ConnectLimiter) RecordSuccess(host, user string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, key(host, user))
}

// Cleanup removes expired entries.
func (r *ConnectLimiter) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	for k, f := range r.failures {
		if !f.lockedAt.IsZero() && now.Sub(f.lockedAt) >= r.lockoutDuration {
			delete(r.failures, k)
			continue
		}
		// No recent activity
		if now.Sub(f.firstFail) >= 2*r.lockoutDuration {
			delete(r.failures, k)
		}
	}
}

// Len returns the number of tracked targets.
func (r *ConnectLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failures)
}
