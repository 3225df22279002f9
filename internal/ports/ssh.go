// Package ports defines interfaces for external dependencies.
package ports

import (
	"context"
	"io/fs"
)

// RemoteTarget identifies a remote login.
type RemoteTarget struct {
	Host     string
	Port     int
	User     string
	Password string
}

// Connector opens authenticated connections to remote hosts.
type Connector interface {
	// Connect dials and authenticates. The returned connection owns the transport.
	Connect(ctx context.Context, target RemoteTarget) (RemoteConn, error)
}

// RemoteConn is an authenticated connection to a remote host.
type RemoteConn interface {
	// OpenShell requests a pseudo-terminal and starts an interactive shell on it.
	OpenShell() (RemoteShell, error)

	// Run executes a one-shot command and collects its output streams.
	// A non-zero exit status is not an error as long as the command ran.
	Run(ctx context.Context, command string) (stdout, stderr string, err error)

	// Files returns the file transfer channel, opening it on first use.
	Files() (FileTransfer, error)

	// Close releases the transport and everything opened on it.
	Close() error
}

// RemoteShell is an interactive shell attached to a pseudo-terminal.
type RemoteShell interface {
	// Read reads raw terminal output.
	Read(b []byte) (int, error)

	// Write writes raw terminal input.
	Write(b []byte) (int, error)

	// Close closes the shell channel.
	Close() error

	// Wait blocks until the remote shell exits.
	Wait() error
}

// FileTransfer moves files between the local disk and the remote host.
type FileTransfer interface {
	// Stat reports remote file info. A missing file yields an error
	// satisfying errors.Is(err, fs.ErrNotExist).
	Stat(remotePath string) (fs.FileInfo, error)

	// Get copies remotePath to localPath.
	Get(remotePath, localPath string) (int64, error)

	// Put copies localPath to remotePath, replacing any existing file.
	Put(localPath, remotePath string) (int64, error)

	// Remove deletes a remote file.
	Remove(remotePath string) error
}
