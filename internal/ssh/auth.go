package ssh

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// PasswordAuthMethods returns password and keyboard-interactive methods for
// the same secret. Servers that disable plain password auth usually still
// accept keyboard-interactive.
func PasswordAuthMethods(password string) []ssh.AuthMethod {
	return []ssh.AuthMethod{
		PasswordAuth(password),
		KeyboardInteractiveAuth(password),
	}
}

// PasswordAuth returns a password auth method.
func PasswordAuth(password string) ssh.AuthMethod {
	return ssh.Password(password)
}

// KeyboardInteractiveAuth answers every challenge question with password.
func KeyboardInteractiveAuth(password string) ssh.AuthMethod {
	return ssh.KeyboardInteractive(keyboardInteractiveAnswers(password))
}

func keyboardInteractiveAnswers(password string) ssh.KeyboardInteractiveChallenge {
	return func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	}
}

// BuildHostKeyCallback creates a host key callback from known_hosts.
// A missing known_hosts file accepts any key.
func BuildHostKeyCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	if knownHostsPath == "" {
		knownHostsPath = "~/.ssh/known_hosts"
	}

	expanded := expandPath(knownHostsPath)

	if _, err := os.Stat(expanded); os.IsNotExist(err) {
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			return nil
		}, nil
	}

	callback, err := knownhosts.New(expanded)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return callback, nil
}

// InsecureHostKeyCallback returns a callback that accepts any host key.
func InsecureHostKeyCallback() ssh.HostKeyCallback {
	return ssh.InsecureIgnoreHostKey()
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
