package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/acolita/chat-shell-bridge/internal/security"
	"github.com/acolita/chat-shell-bridge/internal/session"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTool(sessionOpenTool(), s.handleSessionOpen)
	s.mcpServer.AddTool(sessionSendTool(), s.handleSessionSend)
	s.mcpServer.AddTool(commandConfirmTool(), s.handleCommandConfirm)
	s.mcpServer.AddTool(commandCancelTool(), s.handleCommandCancel)
	s.mcpServer.AddTool(sessionStatusTool(), s.handleSessionStatus)
	s.mcpServer.AddTool(sessionCloseTool(), s.handleSessionClose)
	s.mcpServer.AddTool(fileDownloadTool(), s.handleFileDownload)
	s.mcpServer.AddTool(fileUploadTool(), s.handleFileUpload)
	s.mcpServer.AddTool(directoryDownloadTool(), s.handleDirectoryDownload)
}

// Tool definitions

func withUserID() mcp.ToolOption {
	return mcp.WithNumber("user_id",
		mcp.Required(),
		mcp.Description(descUserID),
	)
}

func sessionOpenTool() mcp.Tool {
	return mcp.NewTool("session_open",
		mcp.WithDescription("Open an SSH shell for a user, replacing any session the user already has"),
		withUserID(),
		mcp.WithString("credentials",
			mcp.Required(),
			mcp.Description("Connection line: host,port,username,password"),
		),
	)
}

func sessionSendTool() mcp.Tool {
	return mcp.NewTool("session_send",
		mcp.WithDescription(`Send one line to the user's shell and return its settled output.

Commands on the denylist (pagers, editors, full-screen tools) are held and
reported as needs_confirmation. Use command_confirm to run them anyway.`),
		withUserID(),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The line to send"),
		),
	)
}

func commandConfirmTool() mcp.Tool {
	return mcp.NewTool("command_confirm",
		mcp.WithDescription("Run the user's command that is awaiting confirmation"),
		withUserID(),
	)
}

func commandCancelTool() mcp.Tool {
	return mcp.NewTool("command_cancel",
		mcp.WithDescription("Discard the user's command that is awaiting confirmation"),
		withUserID(),
	)
}

func sessionStatusTool() mcp.Tool {
	return mcp.NewTool("session_status",
		mcp.WithDescription("Report the user's session target, working directory and any command awaiting confirmation"),
		withUserID(),
	)
}

func sessionCloseTool() mcp.Tool {
	return mcp.NewTool("session_close",
		mcp.WithDescription("Close the user's shell"),
		withUserID(),
	)
}

// Tool handlers

func parseUser(req mcp.CallToolRequest) (session.UserID, error) {
	id := mcp.ParseInt(req, "user_id", 0)
	if id == 0 {
		return 0, errors.New(errUserIDRequired)
	}
	return session.UserID(id), nil
}

func (s *Server) handleSessionOpen(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := parseUser(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	creds, err := session.ParseCredentials(mcp.ParseString(req, "credentials", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	slog.Info("opening session",
		slog.Int64("user_id", int64(user)),
		slog.Any("target", creds),
	)

	s.gate.Clear(int64(user))
	sess, err := s.sessions.Open(ctx, user, creds)
	if err != nil {
		var ce *session.ConnectError
		if errors.As(err, &ce) && ce.RetryAfter > 0 {
			return mcp.NewToolResultError(fmt.Sprintf("%v (retry after %s)", err, ce.RetryAfter)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(map[string]any{
		"status": "connected",
		"target": sess.Target(),
	})
}

func (s *Server) handleSessionSend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := parseUser(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	command := mcp.ParseString(req, "command", "")
	if strings.TrimSpace(command) == "" {
		return mcp.NewToolResultError(errCommandRequired), nil
	}

	d := s.gate.Check(int64(user), command)
	switch d.Verdict {
	case security.NeedsConfirmation:
		result := map[string]any{
			"status":  "needs_confirmation",
			"command": d.Command,
			"pattern": d.Pattern,
		}
		if d.Replaced != "" {
			result["replaced"] = d.Replaced
		}
		return jsonResult(result)
	case security.Rejected:
		return jsonResult(map[string]any{
			"status":  "rejected",
			"command": d.Command,
			"pending": d.Pending,
		})
	}

	return s.send(ctx, user, command)
}

func (s *Server) handleCommandConfirm(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := parseUser(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	command, ok := s.gate.Confirm(int64(user))
	if !ok {
		return mcp.NewToolResultError(errNothingPending), nil
	}
	return s.send(ctx, user, command)
}

func (s *Server) handleCommandCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := parseUser(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !s.gate.Cancel(int64(user)) {
		return mcp.NewToolResultError(errNothingPending), nil
	}
	return mcp.NewToolResultText("Cancelled"), nil
}

// send runs command and refreshes the working directory after a cd.
func (s *Server) send(ctx context.Context, user session.UserID, command string) (*mcp.CallToolResult, error) {
	slog.Info("executing command",
		slog.Int64("user_id", int64(user)),
		slog.String("command", command),
	)

	output, err := s.sessions.Send(ctx, user, command)
	if err != nil {
		if errors.Is(err, session.ErrSessionGone) {
			s.gate.Clear(int64(user))
		}
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := map[string]any{
		"status": "executed",
		"output": output,
	}
	if isCd(command) {
		if cwd, err := s.sessions.ResolveCwd(ctx, user); err == nil {
			result["cwd"] = cwd
		}
	}
	return jsonResult(result)
}

func isCd(command string) bool {
	fields := strings.Fields(command)
	return len(fields) > 0 && fields[0] == "cd"
}

func (s *Server) handleSessionStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := parseUser(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sess, err := s.sessions.Get(user)
	if err != nil {
		return jsonResult(map[string]any{"status": "none"})
	}
	status := map[string]any{
		"status":    "connected",
		"target":    sess.Target(),
		"cwd":       sess.Cwd(),
		"opened_at": sess.OpenedAt(),
		"last_used": sess.LastUsed(),
	}
	if cmd, ok := s.gate.Pending(int64(user)); ok {
		status["pending_command"] = cmd
	}
	return jsonResult(status)
}

func (s *Server) handleSessionClose(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := parseUser(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	slog.Info("closing session", slog.Int64("user_id", int64(user)))

	s.gate.Clear(int64(user))
	s.transfers.DiscardUser(user)
	if err := s.sessions.Close(ctx, user); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Session closed"), nil
}

// jsonResult converts a value to a JSON tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
