package session

import (
	"regexp"
	"time"
)

// Default tuning for reading shell replies.
const (
	DefaultSettleQuiet    = 150 * time.Millisecond
	DefaultSettleMax      = 3 * time.Second
	DefaultMaxOutputBytes = 64 * 1024
	DefaultCloseTimeout   = 3 * time.Second
	DefaultConnectTimeout = 15 * time.Second
	DefaultExitCommand    = "exit"
	DefaultPwdCommand     = "pwd"
)

// defaultPrompt matches the last line of typical sh/bash/zsh/root prompts:
// "$ ", "user@host:~$ ", "[root@box log]# ", "host% ", "> ".
var defaultPrompt = regexp.MustCompile(`^[^\n]{0,160}[$#%>] ?$`)

// Settings tune how a session exchanges text with its shell.
type Settings struct {
	// SettleQuiet ends a read once no new output arrived for this long.
	SettleQuiet time.Duration
	// SettleMax bounds a read regardless of output.
	SettleMax time.Duration
	// MaxOutputBytes caps the raw output kept per exchange.
	MaxOutputBytes int
	// CloseTimeout bounds the wait for the shell to exit on close.
	CloseTimeout time.Duration
	// ConnectTimeout bounds transport setup in Open.
	ConnectTimeout time.Duration
	ExitCommand    string
	PwdCommand     string
	// Prompt recognizes a shell prompt on the last output line, which ends a
	// read early. Nil uses a pattern for common sh-family prompts.
	Prompt *regexp.Regexp
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		SettleQuiet:    DefaultSettleQuiet,
		SettleMax:      DefaultSettleMax,
		MaxOutputBytes: DefaultMaxOutputBytes,
		CloseTimeout:   DefaultCloseTimeout,
		ConnectTimeout: DefaultConnectTimeout,
		ExitCommand:    DefaultExitCommand,
		PwdCommand:     DefaultPwdCommand,
		Prompt:         defaultPrompt,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.SettleQuiet <= 0 {
		s.SettleQuiet = d.SettleQuiet
	}
	if s.SettleMax <= 0 {
		s.SettleMax = d.SettleMax
	}
	if s.MaxOutputBytes <= 0 {
		s.MaxOutputBytes = d.MaxOutputBytes
	}
	if s.CloseTimeout <= 0 {
		s.CloseTimeout = d.CloseTimeout
	}
	if s.ConnectTimeout <= 0 {
		s.ConnectTimeout = d.ConnectTimeout
	}
	if s.ExitCommand == "" {
		s.ExitCommand = d.ExitCommand
	}
	if s.PwdCommand == "" {
		s.PwdCommand = d.PwdCommand
	}
	if s.Prompt == nil {
		s.Prompt = d.Prompt
	}
	return s
}
