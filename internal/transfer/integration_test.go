//go:build integration

package transfer_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/acolita/chat-shell-bridge/internal/session"
	"github.com/acolita/chat-shell-bridge/internal/ssh"
	"github.com/acolita/chat-shell-bridge/internal/testing/mockssh"
	"github.com/acolita/chat-shell-bridge/internal/transfer"
)

// TestOverSSH drives a registry and coordinator against a real SSH server
// running local shells.
func TestOverSSH(t *testing.T) {
	remoteDir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	server, err := mockssh.New(mockssh.WithUser("alice", "wonderland"), mockssh.WithDir(remoteDir))
	if err != nil {
		t.Fatalf("mockssh.New() error = %v", err)
	}
	defer server.Close()

	connector := ssh.NewConnector(ssh.ConnectorOptions{
		Timeout:         5 * time.Second,
		HostKeyCallback: ssh.InsecureHostKeyCallback(),
		Shell:           ssh.DefaultShellOptions(),
	})
	reg := session.NewRegistry(connector)
	defer reg.CloseAll(context.Background())
	coord := transfer.NewCoordinator(reg,
		transfer.WithStagingDir(t.TempDir()),
		transfer.WithRemoteArchiveDir(t.TempDir()),
	)

	ctx := context.Background()
	const user session.UserID = 1
	creds := session.Credentials{Host: server.Host(), Port: server.Port(), User: "alice", Password: "wonderland"}
	if _, err := reg.Open(ctx, user, creds); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	out, err := reg.Send(ctx, user, "echo marker-$((40+2))")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !strings.Contains(out, "marker-42") {
		t.Errorf("Send() = %q, want marker-42", out)
	}

	out, err = reg.Send(ctx, user, "sleep 0.5; echo slow-result")
	if err != nil {
		t.Fatalf("Send(slow) error = %v", err)
	}
	if out != "slow-result" {
		t.Errorf("Send(slow) = %q, want slow-result", out)
	}

	sub := filepath.Join(remoteDir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Send(ctx, user, "cd "+sub); err != nil {
		t.Fatalf("Send(cd) error = %v", err)
	}
	cwd, err := reg.ResolveCwd(ctx, user)
	if err != nil {
		t.Fatalf("ResolveCwd() error = %v", err)
	}
	if cwd != sub {
		t.Errorf("ResolveCwd() = %q, want %q", cwd, sub)
	}

	res, err := coord.UploadFile(ctx, user, "notes.txt", strings.NewReader("over the wire\n"))
	if err != nil || res != transfer.Uploaded {
		t.Fatalf("UploadFile() = %v, %v", res, err)
	}
	if data, _ := os.ReadFile(filepath.Join(sub, "notes.txt")); string(data) != "over the wire\n" {
		t.Errorf("remote content = %q", data)
	}

	var fetched []byte
	err = coord.DownloadFile(ctx, user, "notes.txt", func(_ context.Context, local string) error {
		fetched, err = os.ReadFile(local)
		return err
	})
	if err != nil {
		t.Fatalf("DownloadFile() error = %v", err)
	}
	if string(fetched) != "over the wire\n" {
		t.Errorf("downloaded = %q", fetched)
	}

	var archiveSize int64
	err = coord.DownloadDirectory(ctx, user, sub, func(_ context.Context, local string) error {
		info, err := os.Stat(local)
		if err != nil {
			return err
		}
		archiveSize = info.Size()
		return nil
	})
	if err != nil {
		t.Fatalf("DownloadDirectory() error = %v", err)
	}
	if archiveSize == 0 {
		t.Error("archive is empty")
	}

	if err := reg.Close(ctx, user); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
