// Package sftp provides SFTP file transfer over an established SSH connection.
package sftp

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Client wraps an SFTP client for file transfer operations.
// It uses an existing SSH connection and opens the subsystem lazily.
type Client struct {
	sshConn    *ssh.Client
	sftpClient *sftp.Client
	mu         sync.Mutex
	closed     bool
}

// NewClient creates a new SFTP client wrapper using an existing SSH connection.
func NewClient(sshConn *ssh.Client) *Client {
	return &Client{
		sshConn: sshConn,
	}
}

// ensureConnected initializes the SFTP client if not already done.
func (c *Client) ensureConnected() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("sftp client is closed")
	}

	if c.sftpClient != nil {
		return c.sftpClient, nil
	}

	if c.sshConn == nil {
		return nil, fmt.Errorf("ssh connection is nil")
	}

	client, err := sftp.NewClient(c.sshConn)
	if err != nil {
		return nil, fmt.Errorf("create sftp client: %w", err)
	}

	c.sftpClient = client
	return client, nil
}

// Close closes the SFTP subsystem. The SSH connection is left open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.sftpClient != nil {
		err := c.sftpClient.Close()
		c.sftpClient = nil
		return err
	}
	return nil
}

// Stat returns file information for the given remote path. A missing file is
// reported with an error wrapping fs.ErrNotExist.
func (c *Client) Stat(path string) (os.FileInfo, error) {
	client, err := c.ensureConnected()
	if err != nil {
		return nil, err
	}

	info, err := client.Stat(path)
	if err != nil {
		return nil, normalizeNotExist(path, err)
	}
	return info, nil
}

// Get copies the remote file to localPath, creating or truncating it.
func (c *Client) Get(remotePath, localPath string) (int64, error) {
	client, err := c.ensureConnected()
	if err != nil {
		return 0, err
	}

	src, err := client.Open(remotePath)
	if err != nil {
		return 0, normalizeNotExist(remotePath, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", remotePath, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", remotePath)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0700); err != nil {
		return 0, fmt.Errorf("create local directory: %w", err)
	}
	dst, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return 0, fmt.Errorf("create local file: %w", err)
	}

	n, err := src.WriteTo(dst)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(localPath)
		return n, fmt.Errorf("read %s: %w", remotePath, err)
	}
	return n, nil
}

// Put copies localPath to the remote path, replacing any existing file.
func (c *Client) Put(localPath, remotePath string) (int64, error) {
	client, err := c.ensureConnected()
	if err != nil {
		return 0, err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("open local file: %w", err)
	}
	defer src.Close()

	dst, err := client.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", remotePath, err)
	}

	n, err := dst.ReadFrom(src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("write %s: %w", remotePath, err)
	}
	return n, nil
}

// Remove deletes a remote file.
func (c *Client) Remove(path string) error {
	client, err := c.ensureConnected()
	if err != nil {
		return err
	}
	return client.Remove(path)
}

func normalizeNotExist(path string, err error) error {
	var status *sftp.StatusError
	if os.IsNotExist(err) || errors.Is(err, fs.ErrNotExist) ||
		(errors.As(err, &status) && status.FxCode() == sftp.ErrSSHFxNoSuchFile) {
		return &fs.PathError{Op: "stat", Path: path, Err: fs.ErrNotExist}
	}
	return err
}
