// Package realsshdialer provides the SSHDialer port over TCP.
package realsshdialer

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// Dialer implements ports.SSHDialer. The handshake is bounded by config.Timeout
// as well as the TCP connect.
type Dialer struct{}

// New creates a new Dialer.
func New() *Dialer {
	return &Dialer{}
}

// Dial establishes an SSH connection to the given address.
func (d *Dialer) Dial(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	conn, err := net.DialTimeout(network, addr, config.Timeout)
	if err != nil {
		return nil, err
	}
	if config.Timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(config.Timeout)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set handshake deadline: %w", err)
		}
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}
