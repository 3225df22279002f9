package transfer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/acolita/chat-shell-bridge/internal/session"
	"github.com/acolita/chat-shell-bridge/internal/testing/fakes/fakessh"
)

const testUser session.UserID = 42

type fixture struct {
	host    *fakessh.Host
	reg     *session.Registry
	coord   *Coordinator
	staging string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	host := fakessh.New()
	reg := session.NewRegistry(host, session.WithSettings(session.Settings{
		SettleQuiet: 20 * time.Millisecond,
		SettleMax:   2 * time.Second,
	}))
	staging := t.TempDir()
	coord := NewCoordinator(reg, append([]Option{WithStagingDir(staging)}, opts...)...)

	creds := session.Credentials{Host: "10.0.0.5", Port: 22, User: "admin", Password: "pw"}
	if _, err := reg.Open(context.Background(), testUser, creds); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { reg.CloseAll(context.Background()) })
	return &fixture{host: host, reg: reg, coord: coord, staging: staging}
}

// stagedFiles lists every regular file left under the staging root.
func (f *fixture) stagedFiles(t *testing.T) []string {
	t.Helper()
	var out []string
	filepath.Walk(f.staging, func(p string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			out = append(out, p)
		}
		return nil
	})
	return out
}

type capture struct {
	path string
	data []byte
}

func (c *capture) deliver(ctx context.Context, localPath string) error {
	c.path = localPath
	data, err := os.ReadFile(localPath)
	c.data = data
	return err
}

func TestValidateFilename(t *testing.T) {
	valid := []string{"report.txt", ".bashrc", "a b.log", "archive.tar.gz", "..hidden"}
	invalid := []string{"", ".", "..", "../etc/passwd", "dir/file", `dir\file`, "/etc/passwd", "a\x00b", " padded", "line\nbreak"}

	for _, name := range valid {
		if err := ValidateFilename(name); err != nil {
			t.Errorf("ValidateFilename(%q) error = %v", name, err)
		}
	}
	for _, name := range invalid {
		if err := ValidateFilename(name); !errors.Is(err, ErrInvalidFilename) {
			t.Errorf("ValidateFilename(%q) error = %v, want ErrInvalidFilename", name, err)
		}
	}
}

func TestDownloadFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.host.SetFile("/home/user/notes.txt", []byte("remember the milk"))

	var got capture
	if err := f.coord.DownloadFile(ctx, testUser, "notes.txt", got.deliver); err != nil {
		t.Fatalf("DownloadFile() error = %v", err)
	}
	if string(got.data) != "remember the milk" {
		t.Errorf("delivered %q", got.data)
	}
	if want := filepath.Join(f.staging, "42", "notes.txt"); got.path != want {
		t.Errorf("staged at %q, want %q", got.path, want)
	}
	if left := f.stagedFiles(t); len(left) != 0 {
		t.Errorf("staging not cleaned: %v", left)
	}
}

func TestDownloadFile_FollowsWorkingDirectory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.host.SetFile("/var/log/syslog", []byte("kernel: hello"))

	if _, err := f.reg.Send(ctx, testUser, "cd /var/log"); err != nil {
		t.Fatal(err)
	}
	var got capture
	if err := f.coord.DownloadFile(ctx, testUser, "syslog", got.deliver); err != nil {
		t.Fatalf("DownloadFile() error = %v", err)
	}
	if gets := f.host.Gets(); len(gets) != 1 || gets[0] != "/var/log/syslog" {
		t.Errorf("fetched %v", gets)
	}
}

func TestDownloadFile_NotFound(t *testing.T) {
	f := newFixture(t)

	err := f.coord.DownloadFile(context.Background(), testUser, "missing.txt", func(context.Context, string) error {
		t.Error("deliver called for a missing file")
		return nil
	})
	if !errors.Is(err, ErrRemoteNotFound) {
		t.Fatalf("DownloadFile() error = %v, want ErrRemoteNotFound", err)
	}
	var terr *Error
	if !errors.As(err, &terr) || terr.Path != "/home/user/missing.txt" {
		t.Errorf("error = %#v", err)
	}
	if len(f.host.Gets()) != 0 {
		t.Error("missing file was fetched")
	}
}

func TestDownloadFile_RejectsTraversal(t *testing.T) {
	f := newFixture(t)

	for _, name := range []string{"../../etc/shadow", "/etc/shadow", ".."} {
		err := f.coord.DownloadFile(context.Background(), testUser, name, func(context.Context, string) error { return nil })
		if !errors.Is(err, ErrInvalidFilename) {
			t.Errorf("DownloadFile(%q) error = %v, want ErrInvalidFilename", name, err)
		}
	}
	if len(f.host.Gets()) != 0 {
		t.Error("traversal name reached the remote")
	}
}

func TestDownloadFile_TooLarge(t *testing.T) {
	f := newFixture(t, WithMaxFileSize(4))
	f.host.SetFile("/home/user/big.bin", []byte("0123456789"))

	err := f.coord.DownloadFile(context.Background(), testUser, "big.bin", func(context.Context, string) error { return nil })
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("DownloadFile() error = %v, want ErrTooLarge", err)
	}
}

func TestDownloadFile_DeliverFailureCleansStaging(t *testing.T) {
	f := newFixture(t)
	f.host.SetFile("/home/user/a.txt", []byte("a"))

	err := f.coord.DownloadFile(context.Background(), testUser, "a.txt", func(context.Context, string) error {
		return errors.New("chat unavailable")
	})
	if err == nil || !strings.Contains(err.Error(), "chat unavailable") {
		t.Errorf("DownloadFile() error = %v", err)
	}
	if left := f.stagedFiles(t); len(left) != 0 {
		t.Errorf("staging not cleaned: %v", left)
	}
}

func TestDownloadFile_NoSession(t *testing.T) {
	f := newFixture(t)

	err := f.coord.DownloadFile(context.Background(), 7, "a.txt", func(context.Context, string) error { return nil })
	if !errors.Is(err, session.ErrNoSession) {
		t.Errorf("DownloadFile() error = %v, want ErrNoSession", err)
	}
}

func TestUploadFile_NewFileTransfersImmediately(t *testing.T) {
	f := newFixture(t)

	res, err := f.coord.UploadFile(context.Background(), testUser, "hello.txt", strings.NewReader("hi there"))
	if err != nil {
		t.Fatalf("UploadFile() error = %v", err)
	}
	if res != Uploaded {
		t.Errorf("UploadFile() = %v, want Uploaded", res)
	}
	data, ok := f.host.File("/home/user/hello.txt")
	if !ok || string(data) != "hi there" {
		t.Errorf("remote file = %q, %v", data, ok)
	}
	if _, ok := f.coord.Pending(testUser); ok {
		t.Error("new file left a pending upload")
	}
	if left := f.stagedFiles(t); len(left) != 0 {
		t.Errorf("staging not cleaned: %v", left)
	}
}

func TestUploadFile_ExistingFilePrompts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.host.SetFile("/home/user/config.yaml", []byte("old"))

	res, err := f.coord.UploadFile(ctx, testUser, "config.yaml", strings.NewReader("new"))
	if err != nil {
		t.Fatalf("UploadFile() error = %v", err)
	}
	if res != NeedsOverwrite {
		t.Fatalf("UploadFile() = %v, want NeedsOverwrite", res)
	}
	p, ok := f.coord.Pending(testUser)
	if !ok || p.RemotePath != "/home/user/config.yaml" || p.Filename != "config.yaml" {
		t.Errorf("Pending() = %+v, %v", p, ok)
	}
	if len(f.host.Puts()) != 0 {
		t.Error("remote written before confirmation")
	}

	t.Run("cancel leaves remote untouched", func(t *testing.T) {
		if !f.coord.CancelUpload(testUser) {
			t.Fatal("CancelUpload() = false")
		}
		data, _ := f.host.File("/home/user/config.yaml")
		if string(data) != "old" {
			t.Errorf("remote = %q, want old", data)
		}
		if len(f.host.Puts()) != 0 {
			t.Error("cancel wrote to the remote")
		}
		if left := f.stagedFiles(t); len(left) != 0 {
			t.Errorf("staging not cleaned: %v", left)
		}
		if _, err := f.coord.ConfirmUpload(ctx, testUser); !errors.Is(err, ErrNoPendingUpload) {
			t.Errorf("ConfirmUpload() after cancel error = %v", err)
		}
	})
}

func TestUploadFile_ConfirmReplaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.host.SetFile("/home/user/config.yaml", []byte("old"))

	if _, err := f.coord.UploadFile(ctx, testUser, "config.yaml", strings.NewReader("new")); err != nil {
		t.Fatal(err)
	}
	remote, err := f.coord.ConfirmUpload(ctx, testUser)
	if err != nil {
		t.Fatalf("ConfirmUpload() error = %v", err)
	}
	if remote != "/home/user/config.yaml" {
		t.Errorf("ConfirmUpload() = %q", remote)
	}
	data, _ := f.host.File("/home/user/config.yaml")
	if string(data) != "new" {
		t.Errorf("remote = %q, want new", data)
	}
	if _, ok := f.coord.Pending(testUser); ok {
		t.Error("pending upload kept after confirm")
	}
	if left := f.stagedFiles(t); len(left) != 0 {
		t.Errorf("staging not cleaned: %v", left)
	}
}

func TestUploadFile_ConfirmFailureDiscardsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.host.SetFile("/home/user/a.txt", []byte("old"))

	if _, err := f.coord.UploadFile(ctx, testUser, "a.txt", strings.NewReader("new")); err != nil {
		t.Fatal(err)
	}
	f.host.SetPutError(errors.New("permission denied"))

	_, err := f.coord.ConfirmUpload(ctx, testUser)
	var terr *Error
	if !errors.As(err, &terr) || terr.Op != "upload" {
		t.Fatalf("ConfirmUpload() error = %v, want upload *Error", err)
	}
	if _, ok := f.coord.Pending(testUser); ok {
		t.Error("pending upload kept after failure")
	}
	if left := f.stagedFiles(t); len(left) != 0 {
		t.Errorf("staging not cleaned: %v", left)
	}
}

func TestUploadFile_StatFailure(t *testing.T) {
	f := newFixture(t)
	f.host.SetStatError(errors.New("sftp: permission denied"))

	_, err := f.coord.UploadFile(context.Background(), testUser, "a.txt", strings.NewReader("x"))
	var terr *Error
	if !errors.As(err, &terr) || terr.Op != "stat" {
		t.Fatalf("UploadFile() error = %v, want stat *Error", err)
	}
	if len(f.host.Puts()) != 0 {
		t.Error("file written despite stat failure")
	}
	if left := f.stagedFiles(t); len(left) != 0 {
		t.Errorf("staging not cleaned: %v", left)
	}
}

func TestUploadFile_TooLarge(t *testing.T) {
	f := newFixture(t, WithMaxFileSize(3))

	_, err := f.coord.UploadFile(context.Background(), testUser, "a.txt", strings.NewReader("abcdef"))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("UploadFile() error = %v, want ErrTooLarge", err)
	}
	if len(f.host.Puts()) != 0 {
		t.Error("oversized file written")
	}
}

func TestUploadFile_RejectsTraversal(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.UploadFile(context.Background(), testUser, "../.ssh/authorized_keys", strings.NewReader("key"))
	if !errors.Is(err, ErrInvalidFilename) {
		t.Fatalf("UploadFile() error = %v, want ErrInvalidFilename", err)
	}
	if len(f.host.Puts()) != 0 {
		t.Error("traversal name reached the remote")
	}
}

func TestUploadThenDownloadRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload := bytes.Repeat([]byte{0x00, 0xff, 'a', '\n'}, 1024)

	if _, err := f.reg.Send(ctx, testUser, "cd /srv/data"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.coord.UploadFile(ctx, testUser, "blob.bin", bytes.NewReader(payload)); err != nil {
		t.Fatalf("UploadFile() error = %v", err)
	}

	var got capture
	if err := f.coord.DownloadFile(ctx, testUser, "blob.bin", got.deliver); err != nil {
		t.Fatalf("DownloadFile() error = %v", err)
	}
	if !bytes.Equal(got.data, payload) {
		t.Errorf("round trip changed content: %d bytes, want %d", len(got.data), len(payload))
	}
	if puts := f.host.Puts(); len(puts) != 1 || puts[0] != "/srv/data/blob.bin" {
		t.Errorf("puts = %v", puts)
	}
}

func TestDownloadDirectory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dir, err := f.coord.PrepareDirectory(ctx, testUser)
	if err != nil {
		t.Fatalf("PrepareDirectory() error = %v", err)
	}
	if dir != "/home/user" {
		t.Errorf("PrepareDirectory() = %q", dir)
	}

	var got capture
	if err := f.coord.DownloadDirectory(ctx, testUser, dir, got.deliver); err != nil {
		t.Fatalf("DownloadDirectory() error = %v", err)
	}
	if string(got.data) != "archive of /home/user" {
		t.Errorf("delivered %q", got.data)
	}
	if filepath.Base(got.path) != "user.tar.gz" {
		t.Errorf("archive staged as %q", got.path)
	}

	runs := f.host.Runs()
	if len(runs) != 1 || !strings.HasPrefix(runs[0], "tar -czf '/tmp/chat-shell-bridge-") || !strings.HasSuffix(runs[0], " -C '/home/user' .") {
		t.Errorf("runs = %q", runs)
	}
	removals := f.host.Removals()
	if len(removals) != 1 || !strings.HasPrefix(removals[0], "/tmp/chat-shell-bridge-") {
		t.Errorf("remote archive not removed: %v", removals)
	}
	if left := f.stagedFiles(t); len(left) != 0 {
		t.Errorf("staging not cleaned: %v", left)
	}
}

func TestDownloadDirectory_StderrAbortsBeforeFetch(t *testing.T) {
	f := newFixture(t)
	f.host.SetRunFunc(func(string) (string, string, error) {
		return "", "tar: ./secret: Cannot open: Permission denied\n", nil
	})

	err := f.coord.DownloadDirectory(context.Background(), testUser, "/etc", func(context.Context, string) error {
		t.Error("deliver called after archive errors")
		return nil
	})
	if !errors.Is(err, ErrArchiveFailed) {
		t.Fatalf("DownloadDirectory() error = %v, want ErrArchiveFailed", err)
	}
	if !strings.Contains(err.Error(), "Permission denied") {
		t.Errorf("error %q does not carry stderr", err)
	}
	if len(f.host.Gets()) != 0 {
		t.Errorf("archive fetched despite stderr: %v", f.host.Gets())
	}
}

func TestDownloadDirectory_RunFailure(t *testing.T) {
	f := newFixture(t)
	f.host.SetRunFunc(func(string) (string, string, error) {
		return "", "", errors.New("session channel refused")
	})

	err := f.coord.DownloadDirectory(context.Background(), testUser, "/etc", func(context.Context, string) error { return nil })
	var terr *Error
	if !errors.As(err, &terr) || terr.Op != "archive" {
		t.Fatalf("DownloadDirectory() error = %v, want archive *Error", err)
	}
	if len(f.host.Gets()) != 0 {
		t.Error("archive fetched despite exec failure")
	}
}

func TestDownloadDirectory_QuotesDirectory(t *testing.T) {
	f := newFixture(t)
	var cmd string
	f.host.SetRunFunc(func(c string) (string, string, error) {
		cmd = c
		return "", "boom", nil
	})

	f.coord.DownloadDirectory(context.Background(), testUser, "/tmp/it's; rm -rf ~", func(context.Context, string) error { return nil })
	if !strings.Contains(cmd, `-C '/tmp/it'\''s; rm -rf ~' .`) {
		t.Errorf("directory not quoted: %q", cmd)
	}
}

func TestDiscardUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.host.SetFile("/home/user/a.txt", []byte("old"))

	if _, err := f.coord.UploadFile(ctx, testUser, "a.txt", strings.NewReader("new")); err != nil {
		t.Fatal(err)
	}
	f.coord.DiscardUser(testUser)

	if _, ok := f.coord.Pending(testUser); ok {
		t.Error("pending upload kept after DiscardUser")
	}
	if _, err := os.Stat(filepath.Join(f.staging, "42")); !os.IsNotExist(err) {
		t.Errorf("user staging dir still present: %v", err)
	}
}

func TestArchiveName(t *testing.T) {
	tests := map[string]string{
		"/var/log":  "log.tar.gz",
		"/var/log/": "log.tar.gz",
		"/":         "root.tar.gz",
		".":         "archive.tar.gz",
	}
	for in, want := range tests {
		if got := archiveName(in); got != want {
			t.Errorf("archiveName(%q) = %q, want %q", in, got, want)
		}
	}
}
