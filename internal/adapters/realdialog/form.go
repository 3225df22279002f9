// Package realdialog implements ports.SetupForm as a terminal form.
package realdialog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/acolita/chat-shell-bridge/internal/ports"
)

// Form runs the setup questions in the current terminal.
type Form struct{}

// New creates a Form.
func New() *Form {
	return &Form{}
}

// Run shows the form and returns the answers.
func (f *Form) Run(prefill ports.SetupFormData) (ports.SetupFormData, error) {
	result := prefill
	if result.PendingPolicy == "" {
		result.PendingPolicy = "replace"
	}
	if result.HostKeyPolicy == "" {
		result.HostKeyPolicy = "known_hosts"
	}
	if result.LogLevel == "" {
		result.LogLevel = "info"
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bot Token").
				Description("Token from @BotFather (leave empty to keep using the environment)").
				EchoMode(huh.EchoModePassword).
				Value(&result.BotToken),

			huh.NewConfirm().
				Title("Store the token in the OS keyring?").
				Value(&result.StoreInKeyring),

			huh.NewInput().
				Title("Token Env Var").
				Description("Environment variable read when the keyring has no token").
				Value(&result.TokenEnv),

			huh.NewInput().
				Title("Allowed Users").
				Description("Comma-separated Telegram user IDs (empty allows everyone)").
				Validate(validateUserIDs).
				Value(&result.AllowedUsers),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Confirmation Denylist").
				Description("Comma-separated programs that need confirmation (globs allowed)").
				Value(&result.Denylist),

			huh.NewSelect[string]().
				Title("While a command awaits confirmation, a new gated command...").
				Options(
					huh.NewOption("Replaces it", "replace"),
					huh.NewOption("Is refused", "reject"),
				).
				Value(&result.PendingPolicy),

			huh.NewSelect[string]().
				Title("Host Key Checking").
				Options(
					huh.NewOption("Verify against ~/.ssh/known_hosts", "known_hosts"),
					huh.NewOption("Accept any host key", "insecure"),
				).
				Value(&result.HostKeyPolicy),

			huh.NewSelect[string]().
				Title("Log Level").
				Options(
					huh.NewOption("Debug", "debug"),
					huh.NewOption("Info", "info"),
					huh.NewOption("Warn", "warn"),
					huh.NewOption("Error", "error"),
				).
				Value(&result.LogLevel),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save this configuration?").
				Value(&result.Confirmed),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return prefill, nil
		}
		return prefill, fmt.Errorf("form: %w", err)
	}
	return result, nil
}

func validateUserIDs(s string) error {
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if _, err := strconv.ParseInt(field, 10, 64); err != nil {
			return fmt.Errorf("%q is not a user ID", field)
		}
	}
	return nil
}

var _ ports.SetupForm = (*Form)(nil)
