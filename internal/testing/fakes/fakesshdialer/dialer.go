// Package fakesshdialer provides a scriptable SSH dialer for testing.
package fakesshdialer

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Dialer records dial attempts and answers them with DialFunc.
type Dialer struct {
	mu       sync.Mutex
	dialFunc func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
	calls    []DialCall
}

// DialCall records a call to Dial.
type DialCall struct {
	Network string
	Addr    string
	User    string
}

// New creates a Dialer that fails every dial until configured.
func New() *Dialer {
	return &Dialer{
		dialFunc: func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
			return nil, fmt.Errorf("fakesshdialer: not configured")
		},
	}
}

// Dial records the call and delegates to the configured function.
func (d *Dialer) Dial(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d.mu.Lock()
	d.calls = append(d.calls, DialCall{Network: network, Addr: addr, User: config.User})
	fn := d.dialFunc
	d.mu.Unlock()
	return fn(network, addr, config)
}

// Calls returns a copy of the recorded calls.
func (d *Dialer) Calls() []DialCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DialCall(nil), d.calls...)
}

// SetDialFunc sets the function called by Dial.
func (d *Dialer) SetDialFunc(fn func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)) {
	d.mu.Lock()
	d.dialFunc = fn
	d.mu.Unlock()
}

// SetError makes every dial fail with err.
func (d *Dialer) SetError(err error) {
	d.SetDialFunc(func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
		return nil, err
	})
}
