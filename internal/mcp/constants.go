package mcp

// Common error messages and descriptions used across MCP tools.
const (
	descUserID    = "Chat user the session belongs to"
	descLocalPath = "Path on this host"

	errUserIDRequired    = "user_id is required"
	errCommandRequired   = "command is required"
	errFilenameRequired  = "filename is required"
	errLocalPathRequired = "local_path is required"
	errNothingPending    = "nothing to confirm"
)
