// chat-shell-bridge lets chat users drive remote SSH shells from Telegram,
// or from an MCP client over stdio.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/acolita/chat-shell-bridge/internal/adapters/realclock"
	"github.com/acolita/chat-shell-bridge/internal/adapters/realdialog"
	"github.com/acolita/chat-shell-bridge/internal/adapters/realfs"
	"github.com/acolita/chat-shell-bridge/internal/adapters/realsshdialer"
	"github.com/acolita/chat-shell-bridge/internal/chat"
	"github.com/acolita/chat-shell-bridge/internal/config"
	"github.com/acolita/chat-shell-bridge/internal/logging"
	"github.com/acolita/chat-shell-bridge/internal/mcp"
	"github.com/acolita/chat-shell-bridge/internal/security"
	"github.com/acolita/chat-shell-bridge/internal/session"
	"github.com/acolita/chat-shell-bridge/internal/setup"
	"github.com/acolita/chat-shell-bridge/internal/ssh"
	"github.com/acolita/chat-shell-bridge/internal/telegram"
	"github.com/acolita/chat-shell-bridge/internal/transfer"
)

// Version information - set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var (
		configPath  string
		frontend    string
		runSetup    bool
		showVersion bool
		debug       bool
	)

	flag.StringVar(&configPath, "config", config.DefaultConfigPath(), "Path to configuration file")
	flag.StringVar(&frontend, "frontend", "telegram", "Front end: 'telegram' or 'mcp'")
	flag.BoolVar(&runSetup, "setup", false, "Run the interactive setup and exit")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if showVersion {
		fmt.Printf("chat-shell-bridge version %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
		os.Exit(0)
	}

	if runSetup {
		saved, err := setup.Run(configPath, realdialog.New(), security.NewKeyringStore(), realfs.New())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
			os.Exit(1)
		}
		if saved {
			fmt.Printf("Configuration written to %s\n", configPath)
		}
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Sanitize)

	slog.Info("starting chat-shell-bridge",
		slog.String("version", Version),
		slog.String("frontend", frontend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, configPath, frontend, debug); err != nil {
		slog.Error("exiting", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, configPath, frontend string, debug bool) error {
	hostKeys, err := hostKeyCallback(cfg)
	if err != nil {
		return err
	}

	clock := realclock.New()
	connector := ssh.NewConnector(ssh.ConnectorOptions{
		Timeout:           cfg.SSH.ConnectTimeout,
		KeepaliveInterval: cfg.SSH.KeepaliveInterval,
		HostKeyCallback:   hostKeys,
		Shell:             cfg.ShellOptions(),
		Clock:             clock,
		Dialer:            realsshdialer.New(),
	})

	limiter := security.NewConnectLimiter(cfg.Security.MaxConnectFailures, cfg.Security.LockoutDuration,
		security.WithLimiterClock(clock))
	registry := session.NewRegistry(connector,
		session.WithSettings(cfg.SessionSettings()),
		session.WithClock(clock),
		session.WithConnectGuard(limiter),
	)
	gate, err := security.NewCommandGate(cfg.Gate.Denylist, cfg.PendingPolicy())
	if err != nil {
		return fmt.Errorf("command gate: %w", err)
	}
	coordinator := transfer.NewCoordinator(registry,
		transfer.WithStagingDir(cfg.Transfer.StagingDir),
		transfer.WithRemoteArchiveDir(cfg.Transfer.RemoteArchiveDir),
		transfer.WithMaxFileSize(cfg.Transfer.MaxFileSize),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	watcher, err := config.NewWatcher(configPath, cfg, func(newCfg *config.Config) {
		if debug {
			newCfg.Logging.Level = "debug"
		}
		applyReload(gate, newCfg)
	})
	if err != nil {
		slog.Warn("config hot-reload disabled", slog.String("error", err.Error()))
	} else {
		slog.Info("config hot-reload enabled", slog.String("path", configPath))
		g.Go(func() error { return watcher.Run(ctx) })
	}

	g.Go(func() error {
		ticker := time.NewTicker(cfg.Security.LockoutDuration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				limiter.Cleanup()
			}
		}
	})

	switch frontend {
	case "telegram":
		token, err := botToken(cfg)
		if err != nil {
			return err
		}
		api, err := tgbotapi.NewBotAPI(token)
		if err != nil {
			return fmt.Errorf("telegram login: %w", err)
		}
		slog.Info("authorized on telegram", slog.String("bot", api.Self.UserName))

		bot := telegram.New(api,
			telegram.WithAllowedUsers(cfg.Telegram.AllowedUsers),
			telegram.WithPollTimeout(cfg.Telegram.PollTimeout),
		)
		router := chat.NewRouter(chat.NewMachine(registry, gate, coordinator, bot))
		g.Go(func() error {
			defer cancel()
			defer router.Wait()
			return bot.Run(ctx, router)
		})

	case "mcp":
		server := mcp.NewServer(registry, gate, coordinator, mcp.WithVersion(Version))
		g.Go(func() error {
			// stdin closing ends the process too.
			defer cancel()
			return server.Run(ctx)
		})

	default:
		return fmt.Errorf("unknown frontend %q (want telegram or mcp)", frontend)
	}

	<-ctx.Done()
	slog.Info("shutting down", slog.Int("sessions", registry.Count()))

	closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer closeCancel()
	closeErr := registry.CloseAll(closeCtx)

	if err := g.Wait(); err != nil {
		return err
	}
	return closeErr
}

// applyReload applies the settings that can change without a restart.
func applyReload(gate *security.CommandGate, cfg *config.Config) {
	if err := gate.Update(cfg.Gate.Denylist, cfg.PendingPolicy()); err != nil {
		slog.Warn("keeping previous command gate", slog.String("error", err.Error()))
	} else {
		slog.Info("command gate updated",
			slog.Int("patterns", len(cfg.Gate.Denylist)),
			slog.String("pending_policy", string(gate.Policy())))
	}
	logging.SetLevel(cfg.Logging.Level)
}

func hostKeyCallback(cfg *config.Config) (gossh.HostKeyCallback, error) {
	if cfg.SSH.InsecureIgnoreHostKey {
		slog.Warn("host key checking disabled")
		return ssh.InsecureHostKeyCallback(), nil
	}
	cb, err := ssh.BuildHostKeyCallback(cfg.SSH.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("known hosts: %w", err)
	}
	return cb, nil
}

// botToken reads the token from the configured env var, then the keyring.
func botToken(cfg *config.Config) (string, error) {
	if cfg.Telegram.TokenEnv != "" {
		if token := os.Getenv(cfg.Telegram.TokenEnv); token != "" {
			return token, nil
		}
	}
	if cfg.Telegram.UseKeyring {
		token, err := security.NewKeyringStore().BotToken()
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, security.ErrSecretNotFound) {
			return "", fmt.Errorf("read bot token from keyring: %w", err)
		}
	}
	return "", fmt.Errorf("no bot token: set %s or run with -setup", cfg.Telegram.TokenEnv)
}
