package session

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var (
	// ErrNoSession means the user has no live session.
	ErrNoSession = errors.New("no active session")

	// ErrSessionGone means the session faulted mid-exchange and was torn down.
	ErrSessionGone = errors.New("session connection lost")

	// ErrConnectLocked means too many recent connect failures for the target.
	ErrConnectLocked = errors.New("too many failed connection attempts")
)

// ConnectError reports why Open could not establish a session.
type ConnectError struct {
	Target     string
	Err        error
	RetryAfter time.Duration
}

func (e *ConnectError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("connect %s: %v (retry in %s)", e.Target, e.Err, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("connect %s: %v", e.Target, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

func sessionGone(cause error) error {
	if cause == nil {
		return ErrSessionGone
	}
	return fmt.Errorf("%w: %v", ErrSessionGone, cause)
}

// isConnectionBroken reports errors that only say the transport is already dead.
func isConnectionBroken(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "use of closed") ||
		strings.Contains(errStr, "closed network connection") ||
		strings.Contains(errStr, "channel closed")
}
