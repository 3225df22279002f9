// Package transfer moves single files and directory archives between a chat
// user and the working directory of their remote session.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/acolita/chat-shell-bridge/internal/adapters/realfs"
	"github.com/acolita/chat-shell-bridge/internal/ports"
	"github.com/acolita/chat-shell-bridge/internal/session"
)

// Defaults for a Coordinator.
const (
	DefaultMaxFileSize      = 50 << 20
	DefaultRemoteArchiveDir = "/tmp"
)

// DefaultStagingDir is where files are staged locally between the chat and the remote.
func DefaultStagingDir() string {
	return filepath.Join(os.TempDir(), "chat-shell-bridge")
}

// Sessions is the part of the session registry transfers need.
type Sessions interface {
	ResolveCwd(ctx context.Context, user session.UserID) (string, error)
	Run(ctx context.Context, user session.UserID, command string) (stdout, stderr string, err error)
	Files(user session.UserID) (ports.FileTransfer, error)
}

// DeliverFunc hands a staged local file to the user. The file is removed
// after it returns.
type DeliverFunc func(ctx context.Context, localPath string) error

// UploadResult tells the caller whether an upload finished or is waiting on
// an overwrite decision.
type UploadResult int

const (
	// Uploaded means the file is on the remote.
	Uploaded UploadResult = iota
	// NeedsOverwrite means a same-named remote file exists; call ConfirmUpload
	// or CancelUpload.
	NeedsOverwrite
)

// PendingUpload is a staged upload waiting for the replace/cancel decision.
type PendingUpload struct {
	Filename   string
	LocalPath  string
	RemotePath string
}

// Coordinator runs file transfers against users' sessions.
type Coordinator struct {
	sessions   Sessions
	fs         ports.FileSystem
	stagingDir string
	archiveDir string
	maxSize    int64

	mu      sync.Mutex
	pending map[session.UserID]PendingUpload
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithFileSystem sets the local filesystem used for staging.
func WithFileSystem(fs ports.FileSystem) Option {
	return func(c *Coordinator) {
		c.fs = fs
	}
}

// WithStagingDir sets the local staging root.
func WithStagingDir(dir string) Option {
	return func(c *Coordinator) {
		if dir != "" {
			c.stagingDir = dir
		}
	}
}

// WithRemoteArchiveDir sets the remote directory that holds directory archives
// while they are fetched.
func WithRemoteArchiveDir(dir string) Option {
	return func(c *Coordinator) {
		if dir != "" {
			c.archiveDir = dir
		}
	}
}

// WithMaxFileSize caps the size of a single transferred file.
func WithMaxFileSize(n int64) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// NewCoordinator creates a Coordinator over sessions.
func NewCoordinator(sessions Sessions, opts ...Option) *Coordinator {
	c := &Coordinator{
		sessions:   sessions,
		fs:         realfs.New(),
		stagingDir: DefaultStagingDir(),
		archiveDir: DefaultRemoteArchiveDir,
		maxSize:    DefaultMaxFileSize,
		pending:    make(map[session.UserID]PendingUpload),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxFileSize returns the size limit for one file.
func (c *Coordinator) MaxFileSize() int64 {
	return c.maxSize
}

func (c *Coordinator) userDir(user session.UserID) string {
	return filepath.Join(c.stagingDir, strconv.FormatInt(int64(user), 10))
}

func (c *Coordinator) stagingPath(user session.UserID, name string) (string, error) {
	dir := c.userDir(user)
	if err := c.fs.MkdirAll(dir, 0700); err != nil {
		return "", &Error{Op: "stage", Path: dir, Err: err}
	}
	return filepath.Join(dir, name), nil
}

func (c *Coordinator) removeLocal(p string) {
	if err := c.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to remove staged file",
			slog.String("path", p),
			slog.String("error", err.Error()),
		)
	}
}

// DownloadFile fetches filename from the user's current remote directory and
// hands it to deliver.
func (c *Coordinator) DownloadFile(ctx context.Context, user session.UserID, filename string, deliver DeliverFunc) error {
	if err := ValidateFilename(filename); err != nil {
		return err
	}
	cwd, err := c.sessions.ResolveCwd(ctx, user)
	if err != nil {
		return err
	}
	files, err := c.sessions.Files(user)
	if err != nil {
		return err
	}

	remote := remoteJoin(cwd, filename)
	op := uuid.NewString()
	log := slog.With(
		slog.String("transfer_id", op),
		slog.Int64("user_id", int64(user)),
		slog.String("remote_path", remote),
	)

	info, err := files.Stat(remote)
	if err != nil {
		return &Error{Op: "download", Path: remote, Err: err}
	}
	if !info.Mode().IsRegular() {
		return &Error{Op: "download", Path: remote, Err: ErrNotRegularFile}
	}
	if info.Size() > c.maxSize {
		return &Error{Op: "download", Path: remote, Err: fmt.Errorf("%w: %d bytes", ErrTooLarge, info.Size())}
	}

	local, err := c.stagingPath(user, filename)
	if err != nil {
		return err
	}
	defer c.removeLocal(local)

	n, err := files.Get(remote, local)
	if err != nil {
		return &Error{Op: "download", Path: remote, Err: err}
	}
	log.Info("file fetched", slog.Int64("bytes", n))

	if err := deliver(ctx, local); err != nil {
		return &Error{Op: "deliver", Path: filename, Err: err}
	}
	return nil
}

// UploadFile stages content and writes it to filename in the user's current
// remote directory. When a file of that name exists the upload is held and
// NeedsOverwrite returned.
func (c *Coordinator) UploadFile(ctx context.Context, user session.UserID, filename string, content io.Reader) (UploadResult, error) {
	if err := ValidateFilename(filename); err != nil {
		return Uploaded, err
	}
	cwd, err := c.sessions.ResolveCwd(ctx, user)
	if err != nil {
		return Uploaded, err
	}
	files, err := c.sessions.Files(user)
	if err != nil {
		return Uploaded, err
	}

	local, err := c.stagingPath(user, filename)
	if err != nil {
		return Uploaded, err
	}
	c.CancelUpload(user)
	if err := c.stage(local, content); err != nil {
		c.removeLocal(local)
		return Uploaded, err
	}

	remote := remoteJoin(cwd, filename)
	_, err = files.Stat(remote)
	switch {
	case err == nil:
		c.mu.Lock()
		c.pending[user] = PendingUpload{Filename: filename, LocalPath: local, RemotePath: remote}
		c.mu.Unlock()
		slog.Info("upload waiting for overwrite decision",
			slog.Int64("user_id", int64(user)),
			slog.String("remote_path", remote),
		)
		return NeedsOverwrite, nil
	case errors.Is(err, fs.ErrNotExist):
		defer c.removeLocal(local)
		if err := c.put(files, user, local, remote); err != nil {
			return Uploaded, err
		}
		return Uploaded, nil
	default:
		c.removeLocal(local)
		return Uploaded, &Error{Op: "stat", Path: remote, Err: err}
	}
}

func (c *Coordinator) stage(local string, content io.Reader) error {
	w, err := c.fs.Create(local)
	if err != nil {
		return &Error{Op: "stage", Path: local, Err: err}
	}
	n, err := io.Copy(w, io.LimitReader(content, c.maxSize+1))
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &Error{Op: "stage", Path: local, Err: err}
	}
	if n > c.maxSize {
		return &Error{Op: "stage", Path: local, Err: ErrTooLarge}
	}
	return nil
}

func (c *Coordinator) put(files ports.FileTransfer, user session.UserID, local, remote string) error {
	n, err := files.Put(local, remote)
	if err != nil {
		return &Error{Op: "upload", Path: remote, Err: err}
	}
	slog.Info("file uploaded",
		slog.String("transfer_id", uuid.NewString()),
		slog.Int64("user_id", int64(user)),
		slog.String("remote_path", remote),
		slog.Int64("bytes", n),
	)
	return nil
}

// Pending returns the user's upload awaiting an overwrite decision.
func (c *Coordinator) Pending(user session.UserID) (PendingUpload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[user]
	return p, ok
}

func (c *Coordinator) takePending(user session.UserID) (PendingUpload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[user]
	delete(c.pending, user)
	return p, ok
}

// ConfirmUpload replaces the remote file with the held upload and returns the
// remote path. The held upload is discarded whatever the outcome.
func (c *Coordinator) ConfirmUpload(ctx context.Context, user session.UserID) (string, error) {
	p, ok := c.takePending(user)
	if !ok {
		return "", ErrNoPendingUpload
	}
	defer c.removeLocal(p.LocalPath)

	files, err := c.sessions.Files(user)
	if err != nil {
		return "", err
	}
	if err := c.put(files, user, p.LocalPath, p.RemotePath); err != nil {
		return "", err
	}
	return p.RemotePath, nil
}

// CancelUpload discards the held upload without touching the remote and
// reports whether there was one.
func (c *Coordinator) CancelUpload(user session.UserID) bool {
	p, ok := c.takePending(user)
	if ok {
		c.removeLocal(p.LocalPath)
	}
	return ok
}

// PrepareDirectory resolves the directory a DownloadDirectory would archive.
func (c *Coordinator) PrepareDirectory(ctx context.Context, user session.UserID) (string, error) {
	return c.sessions.ResolveCwd(ctx, user)
}

// DownloadDirectory archives dir on the remote, fetches the archive and hands
// it to deliver. Anything the archive command writes to stderr aborts the
// download before a fetch is attempted.
func (c *Coordinator) DownloadDirectory(ctx context.Context, user session.UserID, dir string, deliver DeliverFunc) error {
	if err := validateDir(dir); err != nil {
		return err
	}
	files, err := c.sessions.Files(user)
	if err != nil {
		return err
	}

	op := uuid.NewString()
	archive := remoteJoin(c.archiveDir, "chat-shell-bridge-"+op+".tar.gz")
	log := slog.With(
		slog.String("transfer_id", op),
		slog.Int64("user_id", int64(user)),
		slog.String("remote_path", dir),
	)

	cmd := fmt.Sprintf("tar -czf %s -C %s .", shellQuote(archive), shellQuote(dir))
	_, stderr, err := c.sessions.Run(ctx, user, cmd)
	defer c.removeRemote(files, archive)
	if err != nil {
		return &Error{Op: "archive", Path: dir, Err: err}
	}
	if msg := strings.TrimSpace(stderr); msg != "" {
		log.Warn("archive command reported errors", slog.String("stderr", msg))
		return &Error{Op: "archive", Path: dir, Err: fmt.Errorf("%w: %s", ErrArchiveFailed, msg)}
	}

	info, err := files.Stat(archive)
	if err != nil {
		return &Error{Op: "archive", Path: dir, Err: err}
	}
	if info.Size() > c.maxSize {
		return &Error{Op: "archive", Path: dir, Err: fmt.Errorf("%w: %d bytes", ErrTooLarge, info.Size())}
	}

	local, err := c.stagingPath(user, archiveName(dir))
	if err != nil {
		return err
	}
	defer c.removeLocal(local)

	n, err := files.Get(archive, local)
	if err != nil {
		return &Error{Op: "download", Path: archive, Err: err}
	}
	log.Info("directory archive fetched", slog.Int64("bytes", n))

	if err := deliver(ctx, local); err != nil {
		return &Error{Op: "deliver", Path: filepath.Base(local), Err: err}
	}
	return nil
}

func (c *Coordinator) removeRemote(files ports.FileTransfer, remote string) {
	if err := files.Remove(remote); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Debug("failed to remove remote archive",
			slog.String("remote_path", remote),
			slog.String("error", err.Error()),
		)
	}
}

// DiscardUser drops the user's held upload and staging directory.
func (c *Coordinator) DiscardUser(user session.UserID) {
	c.CancelUpload(user)
	c.removeLocal(c.userDir(user))
}
