// Package ports defines interfaces for external dependencies (Ports and Adapters pattern).
package ports

import "time"

// Clock abstracts time operations for testing.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after duration d.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker firing every d.
	NewTicker(d time.Duration) Ticker
}

// Ticker wraps time.Ticker for testing.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}
