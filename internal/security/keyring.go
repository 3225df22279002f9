package security

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zalando/go-keyring"
)

// ErrSecretNotFound is returned when the keyring has no entry for a key.
var ErrSecretNotFound = errors.New("secret not found in keyring")

// KeyringStore keeps the bot's secrets in the OS keyring (macOS Keychain,
// Linux Secret Service, Windows Credential Manager).
type KeyringStore struct {
	mu      sync.RWMutex
	enabled bool
	service string
}

// NewKeyringStore checks the system keyring. When it is unavailable the store
// is returned disabled.
func NewKeyringStore() *KeyringStore {
	ks := &KeyringStore{enabled: true, service: KeyringService}

	if err := keyring.Set(ks.service, keyCheck, "check"); err != nil {
		slog.Debug("keyring not available",
			slog.String("error", err.Error()),
		)
		ks.enabled = false
		return ks
	}
	_ = keyring.Delete(ks.service, keyCheck)

	slog.Debug("keyring storage enabled")
	return ks
}

// IsEnabled returns true if the keyring is available and enabled.
func (ks *KeyringStore) IsEnabled() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.enabled
}

// SetEnabled allows enabling/disabling keyring usage.
func (ks *KeyringStore) SetEnabled(enabled bool) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.enabled = enabled
}

// StoreBotToken saves the chat bot token.
func (ks *KeyringStore) StoreBotToken(token string) error {
	if !ks.IsEnabled() {
		return errors.New(errKeyringNotAvailable)
	}
	if err := keyring.Set(ks.service, keyBotToken, token); err != nil {
		return fmt.Errorf("store bot token: %w", err)
	}
	slog.Debug("stored bot token in keyring")
	return nil
}

// BotToken loads the chat bot token.
func (ks *KeyringStore) BotToken() (string, error) {
	if !ks.IsEnabled() {
		return "", errors.New(errKeyringNotAvailable)
	}
	token, err := keyring.Get(ks.service, keyBotToken)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("get bot token: %w", err)
	}
	return token, nil
}

// DeleteBotToken removes the chat bot token. A missing entry is not an error.
func (ks *KeyringStore) DeleteBotToken() error {
	if !ks.IsEnabled() {
		return errors.New(errKeyringNotAvailable)
	}
	if err := keyring.Delete(ks.service, keyBotToken); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("delete bot token: %w", err)
	}
	return nil
}
