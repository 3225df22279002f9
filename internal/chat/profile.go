package chat

import (
	"fmt"

	"github.com/acolita/chat-shell-bridge/internal/session"
)

// Mode is what the machine expects next from a user.
type Mode int

const (
	ModeIdle Mode = iota
	ModeEditingCredentials
	ModeSessionActive
	ModeAwaitingFilename
	ModeAwaitingFile
	ModeAwaitingGatedConfirmation
	ModeAwaitingOverwriteConfirmation
	ModeAwaitingArchiveConfirmation
)

var modeNames = map[Mode]string{
	ModeIdle:                          "idle",
	ModeEditingCredentials:            "editing_credentials",
	ModeSessionActive:                 "session_active",
	ModeAwaitingFilename:              "awaiting_filename",
	ModeAwaitingFile:                  "awaiting_file",
	ModeAwaitingGatedConfirmation:     "awaiting_gated_confirmation",
	ModeAwaitingOverwriteConfirmation: "awaiting_overwrite_confirmation",
	ModeAwaitingArchiveConfirmation:   "awaiting_archive_confirmation",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// HasSession reports whether the mode implies a live remote session.
func (m Mode) HasSession() bool {
	return m != ModeIdle && m != ModeEditingCredentials
}

// Profile is the in-memory state of one chat user. It is never persisted.
type Profile struct {
	Credentials session.Credentials
	Mode        Mode
	// ArchiveDir is the directory offered for archive download while the
	// confirmation is outstanding.
	ArchiveDir string
}

func newProfile() *Profile {
	return &Profile{Credentials: session.PlaceholderCredentials(), Mode: ModeIdle}
}
