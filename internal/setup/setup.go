// Package setup runs the interactive first-time configuration.
package setup

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/acolita/chat-shell-bridge/internal/config"
	"github.com/acolita/chat-shell-bridge/internal/ports"
)

// TokenStore keeps the bot token out of the config file.
type TokenStore interface {
	StoreBotToken(token string) error
}

// ErrTokenNotStored means a token was entered without a place to keep it.
var ErrTokenNotStored = errors.New("bot token entered but keyring storage declined; export it through the token env var instead")

// Prefill turns cfg into form defaults.
func Prefill(cfg *config.Config) ports.SetupFormData {
	users := make([]string, 0, len(cfg.Telegram.AllowedUsers))
	for _, id := range cfg.Telegram.AllowedUsers {
		users = append(users, strconv.FormatInt(id, 10))
	}
	hostKeys := "known_hosts"
	if cfg.SSH.InsecureIgnoreHostKey {
		hostKeys = "insecure"
	}
	return ports.SetupFormData{
		StoreInKeyring: cfg.Telegram.UseKeyring,
		TokenEnv:       cfg.Telegram.TokenEnv,
		AllowedUsers:   strings.Join(users, ","),
		Denylist:       strings.Join(cfg.Gate.Denylist, ","),
		PendingPolicy:  cfg.Gate.PendingPolicy,
		HostKeyPolicy:  hostKeys,
		LogLevel:       cfg.Logging.Level,
	}
}

// Apply copies the answers into cfg.
func Apply(cfg *config.Config, data ports.SetupFormData) error {
	users, err := parseUserIDs(data.AllowedUsers)
	if err != nil {
		return err
	}
	cfg.Telegram.AllowedUsers = users
	cfg.Telegram.UseKeyring = data.StoreInKeyring
	if data.TokenEnv != "" {
		cfg.Telegram.TokenEnv = data.TokenEnv
	}
	cfg.Gate.Denylist = splitList(data.Denylist)
	cfg.Gate.PendingPolicy = data.PendingPolicy
	cfg.SSH.InsecureIgnoreHostKey = data.HostKeyPolicy == "insecure"
	cfg.Logging.Level = data.LogLevel
	return cfg.Validate()
}

// Run loads the config at path, asks the form and saves the result. It
// reports whether anything was saved.
func Run(path string, form ports.SetupForm, tokens TokenStore, fsys ports.FileSystem) (bool, error) {
	cfg, err := config.Load(path, fsys)
	if err != nil {
		return false, err
	}

	data, err := form.Run(Prefill(cfg))
	if err != nil {
		return false, err
	}
	if !data.Confirmed {
		return false, nil
	}

	if err := Apply(cfg, data); err != nil {
		return false, fmt.Errorf("invalid answers: %w", err)
	}

	if data.BotToken != "" {
		if !data.StoreInKeyring {
			return false, ErrTokenNotStored
		}
		if err := tokens.StoreBotToken(data.BotToken); err != nil {
			return false, fmt.Errorf("store bot token: %w", err)
		}
	}

	if err := config.Save(cfg, path, fsys); err != nil {
		return false, err
	}
	slog.Info("configuration saved", slog.String("path", path))
	return true, nil
}

func parseUserIDs(s string) ([]int64, error) {
	var ids []int64
	for _, field := range splitList(s) {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("allowed user %q: %w", field, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func splitList(s string) []string {
	var out []string
	for _, field := range strings.Split(s, ",") {
		if field = strings.TrimSpace(field); field != "" {
			out = append(out, field)
		}
	}
	return out
}
