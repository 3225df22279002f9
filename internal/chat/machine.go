package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/acolita/chat-shell-bridge/internal/security"
	"github.com/acolita/chat-shell-bridge/internal/session"
	"github.com/acolita/chat-shell-bridge/internal/transfer"
)

// Sessions is the session registry as the machine uses it.
type Sessions interface {
	Open(ctx context.Context, user session.UserID, creds session.Credentials) (*session.Session, error)
	Send(ctx context.Context, user session.UserID, text string) (string, error)
	Close(ctx context.Context, user session.UserID) error
	ResolveCwd(ctx context.Context, user session.UserID) (string, error)
}

// Gate holds risky commands until confirmed.
type Gate interface {
	Check(user int64, command string) security.Decision
	Confirm(user int64) (string, bool)
	Cancel(user int64) bool
	Clear(user int64)
}

// Transfers moves files between the chat and the remote.
type Transfers interface {
	DownloadFile(ctx context.Context, user session.UserID, filename string, deliver transfer.DeliverFunc) error
	UploadFile(ctx context.Context, user session.UserID, filename string, content io.Reader) (transfer.UploadResult, error)
	ConfirmUpload(ctx context.Context, user session.UserID) (string, error)
	CancelUpload(user session.UserID) bool
	PrepareDirectory(ctx context.Context, user session.UserID) (string, error)
	DownloadDirectory(ctx context.Context, user session.UserID, dir string, deliver transfer.DeliverFunc) error
	Pending(user session.UserID) (transfer.PendingUpload, bool)
	DiscardUser(user session.UserID)
	MaxFileSize() int64
}

// Machine routes each user's messages according to the mode they are in.
// Events of one user must not be handled concurrently; Router provides that.
type Machine struct {
	sessions  Sessions
	gate      Gate
	transfers Transfers
	out       Outbox

	mu       sync.Mutex
	profiles map[session.UserID]*Profile
}

// NewMachine creates a Machine.
func NewMachine(sessions Sessions, gate Gate, transfers Transfers, out Outbox) *Machine {
	return &Machine{
		sessions:  sessions,
		gate:      gate,
		transfers: transfers,
		out:       out,
		profiles:  make(map[session.UserID]*Profile),
	}
}

func (m *Machine) profile(user session.UserID) (*Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[user]
	return p, ok
}

// Profile returns a copy of the user's profile.
func (m *Machine) Profile(user session.UserID) (Profile, bool) {
	p, ok := m.profile(user)
	if !ok {
		return Profile{}, false
	}
	return *p, true
}

// Mode returns the user's current mode, ModeIdle for unknown users.
func (m *Machine) Mode(user session.UserID) Mode {
	p, ok := m.profile(user)
	if !ok {
		return ModeIdle
	}
	return p.Mode
}

// Handle processes one event.
func (m *Machine) Handle(ctx context.Context, ev Event) error {
	text := strings.TrimSpace(ev.Text)

	if text == "/start" {
		return m.start(ctx, ev.User)
	}

	p, ok := m.profile(ev.User)
	if !ok {
		return m.reply(ctx, ev.User, Reply{Text: msgNotInitialized})
	}

	if ev.Action != "" {
		return m.handleAction(ctx, ev.User, p, ev.Action)
	}
	if ev.File != nil {
		return m.handleFile(ctx, ev.User, p, ev.File)
	}

	switch text {
	case BtnUser:
		return m.reply(ctx, ev.User, Reply{Text: profileText(p.Credentials), Buttons: editButtons()})
	case BtnTools:
		return m.reply(ctx, ev.User, Reply{Text: msgChooseTool, Keyboard: toolsKeyboard(p.Mode.HasSession())})
	case BtnBack:
		return m.back(ctx, ev.User, p)
	}

	if p.Mode == ModeEditingCredentials {
		return m.editCredentials(ctx, ev.User, p, text)
	}

	switch text {
	case BtnSessionOff, BtnSessionOn:
		return m.toggleSession(ctx, ev.User, p)
	case BtnDownloadFile, BtnUploadFile, BtnDownloadDir:
		return m.startTransfer(ctx, ev.User, p, text)
	}

	switch p.Mode {
	case ModeIdle:
		return nil
	case ModeSessionActive, ModeAwaitingGatedConfirmation:
		if p.Mode == ModeAwaitingGatedConfirmation {
			if yes, no := confirmWord(text); yes {
				return m.confirmGated(ctx, ev.User, p)
			} else if no {
				return m.cancelGated(ctx, ev.User, p)
			}
		}
		return m.command(ctx, ev.User, p, ev.Text)
	case ModeAwaitingFilename:
		if isCancelWord(text) {
			return m.leaveTransfer(ctx, ev.User, p)
		}
		return m.downloadFile(ctx, ev.User, p, text)
	case ModeAwaitingFile:
		// Anything but a document abandons the upload without a reply.
		m.transfers.CancelUpload(ev.User)
		p.Mode = ModeSessionActive
		return nil
	case ModeAwaitingOverwriteConfirmation:
		switch strings.ToLower(text) {
		case "replace":
			return m.replaceUpload(ctx, ev.User, p)
		case "cancel", "no":
			return m.cancelUpload(ctx, ev.User, p)
		}
		return m.reply(ctx, ev.User, Reply{Text: sprintfAnswer("replace or cancel")})
	case ModeAwaitingArchiveConfirmation:
		if yes, no := confirmWord(text); yes {
			return m.confirmArchive(ctx, ev.User, p)
		} else if no {
			return m.cancelArchive(ctx, ev.User, p)
		}
		return m.reply(ctx, ev.User, Reply{Text: sprintfAnswer("yes or no")})
	}
	return nil
}

func (m *Machine) start(ctx context.Context, user session.UserID) error {
	m.mu.Lock()
	if _, ok := m.profiles[user]; !ok {
		m.profiles[user] = newProfile()
		slog.Info("profile created", slog.Int64("user_id", int64(user)))
	}
	m.mu.Unlock()
	return m.reply(ctx, user, Reply{Text: msgWelcome, Keyboard: mainKeyboard()})
}

func (m *Machine) handleAction(ctx context.Context, user session.UserID, p *Profile, action string) error {
	switch action {
	case ActionEditProfile:
		return m.beginEdit(ctx, user, p)
	case ActionGateConfirm:
		return m.confirmGated(ctx, user, p)
	case ActionGateCancel:
		return m.cancelGated(ctx, user, p)
	case ActionUploadReplace:
		return m.replaceUpload(ctx, user, p)
	case ActionUploadCancel:
		return m.cancelUpload(ctx, user, p)
	case ActionArchiveConfirm:
		return m.confirmArchive(ctx, user, p)
	case ActionArchiveCancel:
		return m.cancelArchive(ctx, user, p)
	}
	slog.Debug("unknown action", slog.Int64("user_id", int64(user)), slog.String("action", action))
	return nil
}

func (m *Machine) back(ctx context.Context, user session.UserID, p *Profile) error {
	switch p.Mode {
	case ModeEditingCredentials:
		p.Mode = ModeIdle
	case ModeAwaitingFilename, ModeAwaitingFile, ModeAwaitingOverwriteConfirmation, ModeAwaitingArchiveConfirmation:
		m.transfers.CancelUpload(user)
		p.ArchiveDir = ""
		p.Mode = ModeSessionActive
	}
	return m.reply(ctx, user, Reply{Text: msgMainMenu, Keyboard: mainKeyboard()})
}

// --- credentials ---

func (m *Machine) beginEdit(ctx context.Context, user session.UserID, p *Profile) error {
	if p.Mode.HasSession() {
		m.shutdown(ctx, user, p)
	}
	p.Mode = ModeEditingCredentials
	return m.reply(ctx, user, Reply{Text: msgEditPrompt})
}

func (m *Machine) editCredentials(ctx context.Context, user session.UserID, p *Profile, text string) error {
	creds, err := session.ParseCredentials(text)
	if err != nil {
		return m.reply(ctx, user, Reply{Text: msgBadCredentials})
	}
	p.Credentials = creds
	p.Mode = ModeIdle
	slog.Info("credentials updated", slog.Int64("user_id", int64(user)), slog.Any("target", creds))
	return m.reply(ctx, user, Reply{Text: msgCredentialsSaved, Keyboard: mainKeyboard()})
}

// --- session ---

func (m *Machine) toggleSession(ctx context.Context, user session.UserID, p *Profile) error {
	if p.Mode.HasSession() {
		m.shutdown(ctx, user, p)
		return m.reply(ctx, user, Reply{Text: sessionToggledText(false), Keyboard: toolsKeyboard(false)})
	}

	if _, err := m.sessions.Open(ctx, user, p.Credentials); err != nil {
		return m.reply(ctx, user, Reply{Text: connectFailedText(err)})
	}
	p.Mode = ModeSessionActive
	return m.reply(ctx, user, Reply{Text: sessionToggledText(true), Keyboard: toolsKeyboard(true)})
}

// shutdown closes the user's session and abandons everything pending on it.
func (m *Machine) shutdown(ctx context.Context, user session.UserID, p *Profile) {
	if err := m.sessions.Close(ctx, user); err != nil {
		slog.Warn("session close reported an error",
			slog.Int64("user_id", int64(user)),
			slog.String("error", err.Error()),
		)
	}
	m.abandon(user, p)
}

func (m *Machine) abandon(user session.UserID, p *Profile) {
	m.gate.Clear(int64(user))
	m.transfers.DiscardUser(user)
	p.ArchiveDir = ""
	p.Mode = ModeIdle
}

// sessionFault reports whether err means the session is no longer usable,
// resetting the user to idle if so.
func (m *Machine) sessionFault(ctx context.Context, user session.UserID, p *Profile, err error) (bool, error) {
	if !errors.Is(err, session.ErrSessionGone) && !errors.Is(err, session.ErrNoSession) {
		return false, nil
	}
	m.abandon(user, p)
	return true, m.reply(ctx, user, Reply{Text: sessionLostText(err), Keyboard: toolsKeyboard(false)})
}

func (m *Machine) command(ctx context.Context, user session.UserID, p *Profile, text string) error {
	d := m.gate.Check(int64(user), text)
	switch d.Verdict {
	case security.NeedsConfirmation:
		p.Mode = ModeAwaitingGatedConfirmation
		slog.Info("command held for confirmation",
			slog.Int64("user_id", int64(user)),
			slog.String("pattern", d.Pattern),
		)
		return m.reply(ctx, user, Reply{Text: gatePromptText(d.Command, d.Replaced), Buttons: gateButtons()})
	case security.Rejected:
		return m.reply(ctx, user, Reply{Text: gateRejectedText(d.Pending), Buttons: gateButtons()})
	}
	return m.execute(ctx, user, p, text)
}

func (m *Machine) execute(ctx context.Context, user session.UserID, p *Profile, text string) error {
	out, err := m.sessions.Send(ctx, user, text)
	if err != nil {
		if gone, rerr := m.sessionFault(ctx, user, p, err); gone {
			return rerr
		}
		return m.reply(ctx, user, Reply{Text: "❌ " + err.Error()})
	}

	if isCd(text) {
		if _, err := m.sessions.ResolveCwd(ctx, user); err != nil {
			if gone, rerr := m.sessionFault(ctx, user, p, err); gone {
				return rerr
			}
		}
	}

	if out == "" {
		return m.reply(ctx, user, Reply{Text: msgNoOutput})
	}
	return m.reply(ctx, user, Reply{Text: out, Monospace: true})
}

func (m *Machine) confirmGated(ctx context.Context, user session.UserID, p *Profile) error {
	cmd, ok := m.gate.Confirm(int64(user))
	if !ok {
		return m.reply(ctx, user, Reply{Text: msgNothingToConfirm})
	}
	if p.Mode == ModeAwaitingGatedConfirmation {
		p.Mode = ModeSessionActive
	}
	return m.execute(ctx, user, p, cmd)
}

func (m *Machine) cancelGated(ctx context.Context, user session.UserID, p *Profile) error {
	if !m.gate.Cancel(int64(user)) {
		return m.reply(ctx, user, Reply{Text: msgNothingToConfirm})
	}
	if p.Mode == ModeAwaitingGatedConfirmation {
		p.Mode = ModeSessionActive
	}
	return m.reply(ctx, user, Reply{Text: msgCancelled})
}

// --- transfers ---

func (m *Machine) startTransfer(ctx context.Context, user session.UserID, p *Profile, button string) error {
	if !p.Mode.HasSession() {
		return m.reply(ctx, user, Reply{Text: msgSessionRequired})
	}

	m.gate.Clear(int64(user))
	m.transfers.CancelUpload(user)
	p.ArchiveDir = ""
	p.Mode = ModeSessionActive

	switch button {
	case BtnDownloadFile:
		cwd, err := m.sessions.ResolveCwd(ctx, user)
		if err != nil {
			return m.transferFailed(ctx, user, p, err)
		}
		p.Mode = ModeAwaitingFilename
		return m.reply(ctx, user, Reply{Text: filenamePromptText(cwd)})
	case BtnUploadFile:
		cwd, err := m.sessions.ResolveCwd(ctx, user)
		if err != nil {
			return m.transferFailed(ctx, user, p, err)
		}
		p.Mode = ModeAwaitingFile
		return m.reply(ctx, user, Reply{Text: uploadPromptText(cwd)})
	default:
		dir, err := m.transfers.PrepareDirectory(ctx, user)
		if err != nil {
			return m.transferFailed(ctx, user, p, err)
		}
		p.ArchiveDir = dir
		p.Mode = ModeAwaitingArchiveConfirmation
		return m.reply(ctx, user, Reply{Text: archivePromptText(dir), Buttons: archiveButtons()})
	}
}

// transferFailed reports a transfer error and returns the user to the
// session, or to idle if the session itself is gone.
func (m *Machine) transferFailed(ctx context.Context, user session.UserID, p *Profile, err error) error {
	if gone, rerr := m.sessionFault(ctx, user, p, err); gone {
		return rerr
	}
	p.ArchiveDir = ""
	p.Mode = ModeSessionActive
	slog.Warn("transfer failed", slog.Int64("user_id", int64(user)), slog.String("error", err.Error()))
	return m.reply(ctx, user, Reply{Text: transferFailedText(err)})
}

func (m *Machine) leaveTransfer(ctx context.Context, user session.UserID, p *Profile) error {
	m.transfers.CancelUpload(user)
	p.ArchiveDir = ""
	p.Mode = ModeSessionActive
	return m.reply(ctx, user, Reply{Text: msgCancelled})
}

func (m *Machine) deliverTo(user session.UserID, caption string) transfer.DeliverFunc {
	return func(ctx context.Context, localPath string) error {
		return m.out.SendFile(ctx, user, localPath, caption)
	}
}

func (m *Machine) downloadFile(ctx context.Context, user session.UserID, p *Profile, name string) error {
	err := m.transfers.DownloadFile(ctx, user, name, m.deliverTo(user, name))
	if err != nil {
		return m.transferFailed(ctx, user, p, err)
	}
	p.Mode = ModeSessionActive
	return nil
}

func (m *Machine) handleFile(ctx context.Context, user session.UserID, p *Profile, f *Attachment) error {
	if p.Mode != ModeAwaitingFile {
		if p.Mode == ModeIdle {
			return nil
		}
		return m.reply(ctx, user, Reply{Text: msgUploadFirst})
	}

	name := f.Name
	if err := transfer.ValidateFilename(name); err != nil {
		return m.transferFailed(ctx, user, p, err)
	}
	if limit := m.transfers.MaxFileSize(); f.Size > limit {
		return m.transferFailed(ctx, user, p, &transfer.Error{
			Op:   "upload",
			Path: name,
			Err:  fmt.Errorf("%w: %d bytes", transfer.ErrTooLarge, f.Size),
		})
	}
	rc, err := f.Open(ctx)
	if err != nil {
		return m.transferFailed(ctx, user, p, err)
	}
	defer rc.Close()

	res, err := m.transfers.UploadFile(ctx, user, name, rc)
	if err != nil {
		return m.transferFailed(ctx, user, p, err)
	}
	if res == transfer.NeedsOverwrite {
		p.Mode = ModeAwaitingOverwriteConfirmation
		remote := name
		if pending, ok := m.transfers.Pending(user); ok {
			remote = pending.RemotePath
		}
		return m.reply(ctx, user, Reply{Text: overwritePromptText(remote), Buttons: overwriteButtons()})
	}
	p.Mode = ModeSessionActive
	return m.reply(ctx, user, Reply{Text: "✅ Uploaded " + name})
}

func (m *Machine) replaceUpload(ctx context.Context, user session.UserID, p *Profile) error {
	remote, err := m.transfers.ConfirmUpload(ctx, user)
	if errors.Is(err, transfer.ErrNoPendingUpload) {
		return m.reply(ctx, user, Reply{Text: msgNothingToConfirm})
	}
	if err != nil {
		return m.transferFailed(ctx, user, p, err)
	}
	p.Mode = ModeSessionActive
	return m.reply(ctx, user, Reply{Text: "✅ Replaced " + remote})
}

func (m *Machine) cancelUpload(ctx context.Context, user session.UserID, p *Profile) error {
	if !m.transfers.CancelUpload(user) {
		return m.reply(ctx, user, Reply{Text: msgNothingToConfirm})
	}
	p.Mode = ModeSessionActive
	return m.reply(ctx, user, Reply{Text: msgCancelled})
}

func (m *Machine) confirmArchive(ctx context.Context, user session.UserID, p *Profile) error {
	if p.Mode != ModeAwaitingArchiveConfirmation || p.ArchiveDir == "" {
		return m.reply(ctx, user, Reply{Text: msgNothingToConfirm})
	}
	dir := p.ArchiveDir
	p.ArchiveDir = ""

	if err := m.transfers.DownloadDirectory(ctx, user, dir, m.deliverTo(user, dir)); err != nil {
		return m.transferFailed(ctx, user, p, err)
	}
	p.Mode = ModeSessionActive
	return nil
}

func (m *Machine) cancelArchive(ctx context.Context, user session.UserID, p *Profile) error {
	if p.Mode != ModeAwaitingArchiveConfirmation {
		return m.reply(ctx, user, Reply{Text: msgNothingToConfirm})
	}
	p.ArchiveDir = ""
	p.Mode = ModeSessionActive
	return m.reply(ctx, user, Reply{Text: msgCancelled})
}

func (m *Machine) reply(ctx context.Context, user session.UserID, r Reply) error {
	if err := m.out.Send(ctx, user, r); err != nil {
		slog.Warn("failed to send reply",
			slog.Int64("user_id", int64(user)),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// --- input helpers ---

func confirmWord(text string) (yes, no bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "yes", "y":
		return true, false
	case "no", "n", "cancel":
		return false, true
	}
	return false, false
}

func isCancelWord(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), "cancel")
}

func isCd(command string) bool {
	fields := strings.Fields(command)
	return len(fields) > 0 && fields[0] == "cd"
}

func sprintfAnswer(choices string) string {
	return fmt.Sprintf(msgAnswerButtons, choices)
}
