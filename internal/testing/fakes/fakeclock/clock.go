// Package fakeclock provides a controllable Clock implementation for testing.
package fakeclock

import (
	"sync"
	"time"

	"github.com/acolita/chat-shell-bridge/internal/ports"
)

// Clock only moves when Advance or Set is called.
type Clock struct {
	mu      sync.Mutex
	current time.Time
	waiters []waiter
	tickers []*Ticker
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// New creates a new fake clock initialized to the given time.
func New(initial time.Time) *Clock {
	return &Clock{current: initial}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that fires once Advance moves past d.
func (c *Clock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	deadline := c.current.Add(d)
	if !c.current.Before(deadline) {
		ch <- c.current
		return ch
	}
	c.waiters = append(c.waiters, waiter{deadline: deadline, ch: ch})
	return ch
}

// NewTicker returns a ticker that fires on Advance.
func (c *Clock) NewTicker(d time.Duration) ports.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &Ticker{interval: d, next: c.current.Add(d), ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

// Advance moves the clock forward by d, firing expired waiters and tickers.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = c.current.Add(d)
	now := c.current

	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if now.Before(w.deadline) {
			remaining = append(remaining, w)
			continue
		}
		w.ch <- now
	}
	c.waiters = remaining

	for _, t := range c.tickers {
		t.fire(now)
	}
}

// Set jumps the clock to t without firing anything.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Ticker is the fake ports.Ticker. Ticks are dropped when the reader lags,
// as with time.Ticker.
type Ticker struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
	ch       chan time.Time
	stopped  bool
}

func (t *Ticker) C() <-chan time.Time { return t.ch }

func (t *Ticker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *Ticker) fire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || now.Before(t.next) {
		return
	}
	for !now.Before(t.next) {
		t.next = t.next.Add(t.interval)
	}
	select {
	case t.ch <- now:
	default:
	}
}

var _ ports.Clock = (*Clock)(nil)
