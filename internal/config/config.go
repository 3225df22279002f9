// Package config handles configuration parsing for chat-shell-bridge.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/acolita/chat-shell-bridge/internal/ports"
	"github.com/acolita/chat-shell-bridge/internal/security"
	"github.com/acolita/chat-shell-bridge/internal/session"
	"github.com/acolita/chat-shell-bridge/internal/ssh"
	"github.com/acolita/chat-shell-bridge/internal/transfer"
)

// DefaultConfigPath returns the default config file path:
// $XDG_CONFIG_HOME/chat-shell-bridge/config.yaml or ~/.config/chat-shell-bridge/config.yaml
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "chat-shell-bridge", "config.yaml")
}

// Config represents the top-level configuration.
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	SSH      SSHConfig      `yaml:"ssh"`
	Session  SessionConfig  `yaml:"session"`
	Gate     GateConfig     `yaml:"gate"`
	Transfer TransferConfig `yaml:"transfer"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// TelegramConfig defines the bot front end.
type TelegramConfig struct {
	TokenEnv     string  `yaml:"token_env"`     // env var containing the bot token
	UseKeyring   bool    `yaml:"use_keyring"`   // fall back to the OS keyring
	AllowedUsers []int64 `yaml:"allowed_users"` // empty allows everyone
	PollTimeout  int     `yaml:"poll_timeout"`  // long polling timeout in seconds
}

// SSHConfig defines transport settings shared by every session.
type SSHConfig struct {
	ConnectTimeout        time.Duration `yaml:"connect_timeout"`
	KeepaliveInterval     time.Duration `yaml:"keepalive_interval"`
	KnownHosts            string        `yaml:"known_hosts"`
	InsecureIgnoreHostKey bool          `yaml:"insecure_ignore_host_key"`
	Term                  string        `yaml:"term"`
	Rows                  uint32        `yaml:"rows"`
	Cols                  uint32        `yaml:"cols"`
	// Env is requested for every shell. Entries merge over the defaults; an
	// empty value drops the variable.
	Env map[string]string `yaml:"env"`
}

// SessionConfig defines how shell output is read.
type SessionConfig struct {
	SettleQuiet    time.Duration `yaml:"settle_quiet"`
	SettleMax      time.Duration `yaml:"settle_max"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
	CloseTimeout   time.Duration `yaml:"close_timeout"`
	ExitCommand    string        `yaml:"exit_command"`
	PwdCommand     string        `yaml:"pwd_command"`
	PromptPattern  string        `yaml:"prompt_pattern"` // regex matched against the last output line
}

// GateConfig defines which commands need confirmation.
type GateConfig struct {
	Denylist      []string `yaml:"denylist"`       // glob patterns matched against the program name
	PendingPolicy string   `yaml:"pending_policy"` // "replace" or "reject"
}

// TransferConfig defines file transfer limits and locations.
type TransferConfig struct {
	StagingDir       string `yaml:"staging_dir"`
	RemoteArchiveDir string `yaml:"remote_archive_dir"`
	MaxFileSize      int64  `yaml:"max_file_size"`
}

// SecurityConfig defines connect attempt limits.
type SecurityConfig struct {
	MaxConnectFailures int           `yaml:"max_connect_failures"`
	LockoutDuration    time.Duration `yaml:"lockout_duration"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // "debug", "info", "warn", "error"
	Sanitize bool   `yaml:"sanitize"` // sanitize sensitive data from logs
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	shell := ssh.DefaultShellOptions()
	return &Config{
		Telegram: TelegramConfig{
			TokenEnv:    "TELEGRAM_BOT_TOKEN",
			PollTimeout: 60,
		},
		SSH: SSHConfig{
			ConnectTimeout:    session.DefaultConnectTimeout,
			KeepaliveInterval: 30 * time.Second,
			KnownHosts:        "~/.ssh/known_hosts",
			Term:              shell.Term,
			Rows:              shell.Rows,
			Cols:              shell.Cols,
			Env:               shell.Env,
		},
		Session: SessionConfig{
			SettleQuiet:    session.DefaultSettleQuiet,
			SettleMax:      session.DefaultSettleMax,
			MaxOutputBytes: session.DefaultMaxOutputBytes,
			CloseTimeout:   session.DefaultCloseTimeout,
			ExitCommand:    session.DefaultExitCommand,
			PwdCommand:     session.DefaultPwdCommand,
		},
		Gate: GateConfig{
			Denylist:      security.DefaultDenylist(),
			PendingPolicy: string(security.PolicyReplace),
		},
		Transfer: TransferConfig{
			StagingDir:       transfer.DefaultStagingDir(),
			RemoteArchiveDir: transfer.DefaultRemoteArchiveDir,
			MaxFileSize:      transfer.DefaultMaxFileSize,
		},
		Security: SecurityConfig{
			MaxConnectFailures: security.DefaultMaxConnectFailures,
			LockoutDuration:    security.DefaultLockoutDuration,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Sanitize: true,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Load(path string, fsys ...ports.FileSystem) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	var data []byte
	var err error
	if len(fsys) > 0 && fsys[0] != nil {
		data, err = fsys[0].ReadFile(path)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// Validate fills zero values with defaults and rejects settings that cannot work.
func (c *Config) Validate() error {
	def := DefaultConfig()

	if c.Telegram.PollTimeout <= 0 {
		c.Telegram.PollTimeout = def.Telegram.PollTimeout
	}
	if c.SSH.ConnectTimeout <= 0 {
		c.SSH.ConnectTimeout = def.SSH.ConnectTimeout
	}
	if c.SSH.Term == "" {
		c.SSH.Term = def.SSH.Term
	}
	if c.SSH.Rows == 0 {
		c.SSH.Rows = def.SSH.Rows
	}
	if c.SSH.Cols == 0 {
		c.SSH.Cols = def.SSH.Cols
	}
	if c.SSH.Env == nil {
		c.SSH.Env = def.SSH.Env
	}
	if c.Session.SettleQuiet <= 0 {
		c.Session.SettleQuiet = def.Session.SettleQuiet
	}
	if c.Session.SettleMax <= 0 {
		c.Session.SettleMax = def.Session.SettleMax
	}
	if c.Session.SettleQuiet > c.Session.SettleMax {
		return fmt.Errorf("session.settle_quiet (%s) exceeds session.settle_max (%s)",
			c.Session.SettleQuiet, c.Session.SettleMax)
	}
	if c.Session.MaxOutputBytes <= 0 {
		c.Session.MaxOutputBytes = def.Session.MaxOutputBytes
	}
	if c.Session.CloseTimeout <= 0 {
		c.Session.CloseTimeout = def.Session.CloseTimeout
	}
	if c.Session.ExitCommand == "" {
		c.Session.ExitCommand = def.Session.ExitCommand
	}
	if c.Session.PwdCommand == "" {
		c.Session.PwdCommand = def.Session.PwdCommand
	}
	if c.Session.PromptPattern != "" {
		if _, err := regexp.Compile(c.Session.PromptPattern); err != nil {
			return fmt.Errorf("session.prompt_pattern: %w", err)
		}
	}
	if c.Gate.PendingPolicy == "" {
		c.Gate.PendingPolicy = def.Gate.PendingPolicy
	}
	if _, err := security.ParsePendingPolicy(c.Gate.PendingPolicy); err != nil {
		return fmt.Errorf("gate.pending_policy: %w", err)
	}
	if _, err := security.NewCommandGate(c.Gate.Denylist, security.PolicyReplace); err != nil {
		return fmt.Errorf("gate.denylist: %w", err)
	}
	if c.Transfer.StagingDir == "" {
		c.Transfer.StagingDir = def.Transfer.StagingDir
	}
	if c.Transfer.RemoteArchiveDir == "" {
		c.Transfer.RemoteArchiveDir = def.Transfer.RemoteArchiveDir
	}
	if c.Transfer.MaxFileSize <= 0 {
		c.Transfer.MaxFileSize = def.Transfer.MaxFileSize
	}
	if c.Security.MaxConnectFailures <= 0 {
		c.Security.MaxConnectFailures = def.Security.MaxConnectFailures
	}
	if c.Security.LockoutDuration <= 0 {
		c.Security.LockoutDuration = def.Security.LockoutDuration
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}

	return nil
}

// SessionSettings converts the session section for the registry.
func (c *Config) SessionSettings() session.Settings {
	s := session.Settings{
		SettleQuiet:    c.Session.SettleQuiet,
		SettleMax:      c.Session.SettleMax,
		MaxOutputBytes: c.Session.MaxOutputBytes,
		CloseTimeout:   c.Session.CloseTimeout,
		ConnectTimeout: c.SSH.ConnectTimeout,
		ExitCommand:    c.Session.ExitCommand,
		PwdCommand:     c.Session.PwdCommand,
	}
	if c.Session.PromptPattern != "" {
		// Validate has already compiled it once.
		s.Prompt = regexp.MustCompile(c.Session.PromptPattern)
	}
	return s
}

// ShellOptions converts the ssh section for pty allocation.
func (c *Config) ShellOptions() ssh.ShellOptions {
	env := make(map[string]string, len(c.SSH.Env))
	for k, v := range c.SSH.Env {
		if v != "" {
			env[k] = v
		}
	}
	return ssh.ShellOptions{
		Term: c.SSH.Term,
		Rows: c.SSH.Rows,
		Cols: c.SSH.Cols,
		Env:  env,
	}
}

// PendingPolicy returns the parsed gate policy, replace when invalid.
func (c *Config) PendingPolicy() security.PendingPolicy {
	p, err := security.ParsePendingPolicy(c.Gate.PendingPolicy)
	if err != nil {
		return security.PolicyReplace
	}
	return p
}

// Save writes the configuration to a YAML file.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Save(cfg *Config, path string, fsys ...ports.FileSystem) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if len(fsys) > 0 && fsys[0] != nil {
		if err := fsys[0].MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		return fsys[0].WriteFile(path, data, 0o600)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
