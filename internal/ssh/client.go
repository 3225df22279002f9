// Package ssh provides the remote login capability: authenticated transport,
// interactive pseudo-terminal shells, one-shot commands and SFTP.
package ssh

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/acolita/chat-shell-bridge/internal/adapters/realclock"
	"github.com/acolita/chat-shell-bridge/internal/adapters/realsshdialer"
	"github.com/acolita/chat-shell-bridge/internal/ports"
	"github.com/acolita/chat-shell-bridge/internal/sftp"
	"golang.org/x/crypto/ssh"
)

// Client manages one SSH connection to a remote host.
type Client struct {
	conn   *ssh.Client
	config *ssh.ClientConfig
	host   string
	port   int
	mu     sync.Mutex

	keepaliveInterval time.Duration
	keepaliveStop     chan struct{}

	// SFTP client (lazy initialized)
	sftpClient *sftp.Client

	clock  ports.Clock
	dialer ports.SSHDialer
}

// ClientOptions configures SSH client behavior.
type ClientOptions struct {
	Host              string
	Port              int
	User              string
	AuthMethods       []ssh.AuthMethod
	HostKeyCallback   ssh.HostKeyCallback
	Timeout           time.Duration
	KeepaliveInterval time.Duration
	Clock             ports.Clock
	Dialer            ports.SSHDialer
}

// NewClient creates a new SSH client with the given options. It does not dial.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if opts.User == "" {
		return nil, fmt.Errorf("user is required")
	}
	if len(opts.AuthMethods) == 0 {
		return nil, fmt.Errorf("at least one auth method is required")
	}
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.Port < 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", opts.Port)
	}
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.HostKeyCallback == nil {
		opts.HostKeyCallback = InsecureHostKeyCallback()
	}

	clk := opts.Clock
	if clk == nil {
		clk = realclock.New()
	}
	dial := opts.Dialer
	if dial == nil {
		dial = realsshdialer.New()
	}

	return &Client{
		config: &ssh.ClientConfig{
			User:            opts.User,
			Auth:            opts.AuthMethods,
			HostKeyCallback: opts.HostKeyCallback,
			Timeout:         opts.Timeout,
		},
		host:              opts.Host,
		port:              opts.Port,
		keepaliveInterval: opts.KeepaliveInterval,
		clock:             clk,
		dialer:            dial,
	}, nil
}

// Addr returns host:port of the target.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// Connect establishes the SSH connection.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	addr := c.Addr()
	conn, err := c.dialer.Dial("tcp", addr, c.config)
	if err != nil {
		return fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	c.conn = conn

	if c.keepaliveInterval > 0 {
		c.keepaliveStop = make(chan struct{})
		// The goroutine gets its own copy of the channel so it never reads the field.
		go c.keepalive(c.keepaliveStop)
	}
	return nil
}

func (c *Client) keepalive(stop <-chan struct{}) {
	ticker := c.clock.NewTicker(c.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			// A dead transport is detected by the next read or write on the shell.
			if _, _, err := conn.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				slog.Debug("ssh keepalive failed",
					slog.String("host", c.host),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// NewSession opens a new channel on the connection.
func (c *Client) NewSession() (*ssh.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	session, err := c.conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	return session, nil
}

// SFTPClient returns the SFTP client sharing this connection.
func (c *Client) SFTPClient() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	if c.sftpClient == nil {
		c.sftpClient = sftp.NewClient(c.conn)
	}
	return c.sftpClient, nil
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close closes the SSH connection and the SFTP subsystem.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.keepaliveStop != nil {
		close(c.keepaliveStop)
		c.keepaliveStop = nil
	}

	if c.sftpClient != nil {
		c.sftpClient.Close()
		c.sftpClient = nil
	}

	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
