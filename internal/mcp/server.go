// Package mcp exposes the broker's sessions, command gate and transfers as
// MCP tools so an agent can drive the same remote shells a chat user does.
package mcp

import (
	"context"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/acolita/chat-shell-bridge/internal/adapters/realfs"
	"github.com/acolita/chat-shell-bridge/internal/ports"
	"github.com/acolita/chat-shell-bridge/internal/security"
	"github.com/acolita/chat-shell-bridge/internal/session"
	"github.com/acolita/chat-shell-bridge/internal/transfer"
)

// Sessions is the session registry as the tools use it.
type Sessions interface {
	Open(ctx context.Context, user session.UserID, creds session.Credentials) (*session.Session, error)
	Send(ctx context.Context, user session.UserID, text string) (string, error)
	Close(ctx context.Context, user session.UserID) error
	Get(user session.UserID) (*session.Session, error)
	ResolveCwd(ctx context.Context, user session.UserID) (string, error)
}

// Gate holds risky commands until confirmed.
type Gate interface {
	Check(user int64, command string) security.Decision
	Confirm(user int64) (string, bool)
	Cancel(user int64) bool
	Pending(user int64) (string, bool)
	Clear(user int64)
}

// Transfers moves files between this host and the remote.
type Transfers interface {
	DownloadFile(ctx context.Context, user session.UserID, filename string, deliver transfer.DeliverFunc) error
	UploadFile(ctx context.Context, user session.UserID, filename string, content io.Reader) (transfer.UploadResult, error)
	ConfirmUpload(ctx context.Context, user session.UserID) (string, error)
	CancelUpload(user session.UserID) bool
	PrepareDirectory(ctx context.Context, user session.UserID) (string, error)
	DownloadDirectory(ctx context.Context, user session.UserID, dir string, deliver transfer.DeliverFunc) error
	DiscardUser(user session.UserID)
}

var (
	_ Sessions  = (*session.Registry)(nil)
	_ Gate      = (*security.CommandGate)(nil)
	_ Transfers = (*transfer.Coordinator)(nil)
)

// Server wraps the MCP server implementation.
type Server struct {
	mcpServer *server.MCPServer
	sessions  Sessions
	gate      Gate
	transfers Transfers
	fs        ports.FileSystem
	version   string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithFileSystem sets the filesystem local paths are read from and written to.
func WithFileSystem(fs ports.FileSystem) ServerOption {
	return func(s *Server) {
		s.fs = fs
	}
}

// WithVersion sets the version reported to clients.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// NewServer creates an MCP server over the given components.
func NewServer(sessions Sessions, gate Gate, transfers Transfers, opts ...ServerOption) *Server {
	s := &Server{
		sessions:  sessions,
		gate:      gate,
		transfers: transfers,
		fs:        realfs.New(),
		version:   "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcpServer = server.NewMCPServer(
		"chat-shell-bridge",
		s.version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)
	s.registerTools()
	return s
}

// Run serves MCP on stdio until ctx is done or stdin closes.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("starting MCP server on stdio transport")
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ServeStdio(s.mcpServer)
	}()
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}
