package ssh

import (
	"context"
	"fmt"
	"time"

	"github.com/acolita/chat-shell-bridge/internal/ports"
	"golang.org/x/crypto/ssh"
)

// ConnectorOptions configures every connection a Connector opens.
type ConnectorOptions struct {
	Timeout           time.Duration
	KeepaliveInterval time.Duration
	HostKeyCallback   ssh.HostKeyCallback
	Shell             ShellOptions
	Clock             ports.Clock
	Dialer            ports.SSHDialer
}

// Connector implements ports.Connector over SSH password authentication.
type Connector struct {
	opts ConnectorOptions
}

// NewConnector creates a Connector.
func NewConnector(opts ConnectorOptions) *Connector {
	return &Connector{opts: opts}
}

// Connect dials target and authenticates with its password.
func (c *Connector) Connect(ctx context.Context, target ports.RemoteTarget) (ports.RemoteConn, error) {
	timeout := c.opts.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); timeout == 0 || remaining < timeout {
			timeout = remaining
		}
	}

	client, err := NewClient(ClientOptions{
		Host:              target.Host,
		Port:              target.Port,
		User:              target.User,
		AuthMethods:       PasswordAuthMethods(target.Password),
		HostKeyCallback:   c.opts.HostKeyCallback,
		Timeout:           timeout,
		KeepaliveInterval: c.opts.KeepaliveInterval,
		Clock:             c.opts.Clock,
		Dialer:            c.opts.Dialer,
	})
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := client.Connect(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &remoteConn{client: client, shell: c.opts.Shell}, nil
}

type remoteConn struct {
	client *Client
	shell  ShellOptions
}

func (r *remoteConn) OpenShell() (ports.RemoteShell, error) {
	return OpenShell(r.client, r.shell)
}

func (r *remoteConn) Run(ctx context.Context, command string) (string, string, error) {
	return r.client.Run(ctx, command)
}

func (r *remoteConn) Files() (ports.FileTransfer, error) {
	files, err := r.client.SFTPClient()
	if err != nil {
		return nil, fmt.Errorf("sftp: %w", err)
	}
	return files, nil
}

func (r *remoteConn) Close() error {
	return r.client.Close()
}

var _ ports.Connector = (*Connector)(nil)
