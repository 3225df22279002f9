package mcp

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/acolita/chat-shell-bridge/internal/transfer"
)

func fileDownloadTool() mcp.Tool {
	return mcp.NewTool("file_download",
		mcp.WithDescription("Copy a file from the user's current remote directory to a local path"),
		withUserID(),
		mcp.WithString("filename",
			mcp.Required(),
			mcp.Description("Bare file name in the remote working directory"),
		),
		mcp.WithString("local_path",
			mcp.Required(),
			mcp.Description(descLocalPath),
		),
	)
}

func fileUploadTool() mcp.Tool {
	return mcp.NewTool("file_upload",
		mcp.WithDescription("Copy a local file into the user's current remote directory"),
		withUserID(),
		mcp.WithString("local_path",
			mcp.Required(),
			mcp.Description(descLocalPath),
		),
		mcp.WithString("filename",
			mcp.Description("Remote file name (default: base name of local_path)"),
		),
		mcp.WithBoolean("overwrite",
			mcp.Description("Replace an existing remote file (default: false)"),
		),
	)
}

func directoryDownloadTool() mcp.Tool {
	return mcp.NewTool("directory_download",
		mcp.WithDescription("Archive a remote directory as .tar.gz and copy it to a local path"),
		withUserID(),
		mcp.WithString("local_path",
			mcp.Required(),
			mcp.Description(descLocalPath),
		),
		mcp.WithString("directory",
			mcp.Description("Absolute remote directory (default: current directory)"),
		),
	)
}

// copyTo returns a deliver function that copies the staged file to dst.
func (s *Server) copyTo(dst string) transfer.DeliverFunc {
	return func(ctx context.Context, staged string) error {
		data, err := s.fs.ReadFile(staged)
		if err != nil {
			return err
		}
		if dir := filepath.Dir(dst); dir != "." {
			if err := s.fs.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		return s.fs.WriteFile(dst, data, 0o644)
	}
}

func (s *Server) handleFileDownload(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := parseUser(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	filename := mcp.ParseString(req, "filename", "")
	if filename == "" {
		return mcp.NewToolResultError(errFilenameRequired), nil
	}
	localPath := mcp.ParseString(req, "local_path", "")
	if localPath == "" {
		return mcp.NewToolResultError(errLocalPathRequired), nil
	}

	if err := s.transfers.DownloadFile(ctx, user, filename, s.copyTo(localPath)); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"status":     "downloaded",
		"filename":   filename,
		"local_path": localPath,
	})
}

func (s *Server) handleFileUpload(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := parseUser(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	localPath := mcp.ParseString(req, "local_path", "")
	if localPath == "" {
		return mcp.NewToolResultError(errLocalPathRequired), nil
	}
	filename := mcp.ParseString(req, "filename", filepath.Base(localPath))
	overwrite := mcp.ParseBoolean(req, "overwrite", false)

	data, err := s.fs.ReadFile(localPath)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read local file: %v", err)), nil
	}

	res, err := s.transfers.UploadFile(ctx, user, filename, bytes.NewReader(data))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	status := "uploaded"
	remote := filename
	if res == transfer.NeedsOverwrite {
		if !overwrite {
			s.transfers.CancelUpload(user)
			return jsonResult(map[string]any{
				"status":   "exists",
				"filename": filename,
			})
		}
		remote, err = s.transfers.ConfirmUpload(ctx, user)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		status = "replaced"
	}

	slog.Info("file uploaded",
		slog.Int64("user_id", int64(user)),
		slog.String("filename", filename),
		slog.Int("bytes", len(data)),
	)
	return jsonResult(map[string]any{
		"status": status,
		"remote": remote,
		"bytes":  len(data),
	})
}

func (s *Server) handleDirectoryDownload(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := parseUser(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	localPath := mcp.ParseString(req, "local_path", "")
	if localPath == "" {
		return mcp.NewToolResultError(errLocalPathRequired), nil
	}
	dir := mcp.ParseString(req, "directory", "")
	if dir == "" {
		dir, err = s.transfers.PrepareDirectory(ctx, user)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	if err := s.transfers.DownloadDirectory(ctx, user, dir, s.copyTo(localPath)); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"status":     "downloaded",
		"directory":  dir,
		"local_path": localPath,
	})
}
