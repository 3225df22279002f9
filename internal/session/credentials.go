package session

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/acolita/chat-shell-bridge/internal/ports"
)

// UserID identifies a chat user.
type UserID int64

// ErrMalformedCredentials is returned by ParseCredentials.
var ErrMalformedCredentials = errors.New("expected host,port,username,password")

// Credentials are the login details for a user's remote host. They are held in
// memory only and never logged with the password.
type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
}

// PlaceholderCredentials are assigned to a new profile until the user edits them.
func PlaceholderCredentials() Credentials {
	return Credentials{Host: "192.168.0.1", Port: 22, User: "user", Password: "pass"}
}

// ParseCredentials parses "host,port,username,password". Fields are trimmed.
// Exactly four fields are accepted, so a password cannot contain a comma.
func ParseCredentials(s string) (Credentials, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Credentials{}, ErrMalformedCredentials
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	host, portStr, user, password := parts[0], parts[1], parts[2], parts[3]
	if host == "" || user == "" {
		return Credentials{}, ErrMalformedCredentials
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Credentials{}, fmt.Errorf("invalid port %q: %w", portStr, ErrMalformedCredentials)
	}
	return Credentials{Host: host, Port: port, User: user, Password: password}, nil
}

// Addr returns host:port.
func (c Credentials) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// String renders the credentials without the password.
func (c Credentials) String() string {
	return c.User + "@" + c.Addr()
}

// MaskedPassword returns the password with every character replaced.
func (c Credentials) MaskedPassword() string {
	return strings.Repeat("*", len([]rune(c.Password)))
}

// LogValue keeps the password out of structured logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("host", c.Host),
		slog.Int("port", c.Port),
		slog.String("user", c.User),
	)
}

func (c Credentials) target() ports.RemoteTarget {
	return ports.RemoteTarget{Host: c.Host, Port: c.Port, User: c.User, Password: c.Password}
}
