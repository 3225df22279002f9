package ssh

import (
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/ssh"
)

// ShellOptions configures pseudo-terminal allocation.
type ShellOptions struct {
	Term string // Terminal type (default: dumb)
	Rows uint32 // Terminal rows (default: 24)
	Cols uint32 // Terminal columns (default: 120)
	Env  map[string]string
}

// DefaultShellOptions keeps prompts short and output uncolored.
func DefaultShellOptions() ShellOptions {
	return ShellOptions{
		Term: "dumb",
		Rows: 24,
		Cols: 120,
		Env: map[string]string{
			"NO_COLOR": "1",
			"PAGER":    "cat",
		},
	}
}

// Shell is an interactive shell running on an SSH pseudo-terminal.
type Shell struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	mu      sync.Mutex
	closed  bool
}

// OpenShell requests a pty on a fresh channel and starts the login shell.
func OpenShell(client *Client, opts ShellOptions) (*Shell, error) {
	if opts.Term == "" {
		opts.Term = "dumb"
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}
	if opts.Cols == 0 {
		opts.Cols = 120
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, err
	}

	for key, value := range opts.Env {
		// Servers commonly restrict AcceptEnv; a refusal is not fatal.
		session.Setenv(key, value)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(opts.Term, int(opts.Rows), int(opts.Cols), modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	return &Shell{
		session: session,
		stdin:   stdin,
		stdout:  stdout,
	}, nil
}

// Read reads raw pty output.
func (s *Shell) Read(b []byte) (int, error) {
	return s.stdout.Read(b)
}

// Write writes raw pty input.
func (s *Shell) Write(b []byte) (int, error) {
	return s.stdin.Write(b)
}

// Wait waits for the remote shell to exit.
func (s *Shell) Wait() error {
	return s.session.Wait()
}

// Close closes the channel. Safe to call more than once.
func (s *Shell) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.session.Close()
}
