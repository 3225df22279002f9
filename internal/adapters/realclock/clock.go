// Package realclock provides the Clock port backed by the time package.
package realclock

import (
	"time"

	"github.com/acolita/chat-shell-bridge/internal/ports"
)

// Clock implements ports.Clock with wall-clock time.
type Clock struct{}

// New returns a wall Clock.
func New() *Clock {
	return &Clock{}
}

func (c *Clock) Now() time.Time {
	return time.Now()
}

func (c *Clock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (c *Clock) NewTicker(d time.Duration) ports.Ticker {
	return ticker{time.NewTicker(d)}
}

type ticker struct {
	t *time.Ticker
}

func (t ticker) C() <-chan time.Time { return t.t.C }
func (t ticker) Stop()               { t.t.Stop() }

var _ ports.Clock = (*Clock)(nil)
