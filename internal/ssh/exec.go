package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// Run executes command on its own channel and returns the collected output.
// A non-zero exit status is reported through stderr, not as an error.
func (c *Client) Run(ctx context.Context, command string) (string, string, error) {
	session, err := c.NewSession()
	if err != nil {
		return "", "", err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		session.Close()
		<-done
		return stdout.String(), stderr.String(), fmt.Errorf("run %q: %w", command, ctx.Err())
	case err = <-done:
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return stdout.String(), stderr.String(), nil
	}
	if err != nil {
		return stdout.String(), stderr.String(), fmt.Errorf("run %q: %w", command, err)
	}
	return stdout.String(), stderr.String(), nil
}
