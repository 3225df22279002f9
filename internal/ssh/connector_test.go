package ssh

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/acolita/chat-shell-bridge/internal/ports"
	"github.com/acolita/chat-shell-bridge/internal/testing/mockssh"
)

func startServer(t *testing.T, dir string) *mockssh.Server {
	t.Helper()
	if testing.Short() {
		t.Skip("starts an SSH server with local shells")
	}
	server, err := mockssh.New(mockssh.WithUser("alice", "wonderland"), mockssh.WithDir(dir))
	if err != nil {
		t.Fatalf("mockssh.New() error = %v", err)
	}
	t.Cleanup(func() { server.Close() })
	return server
}

func connect(t *testing.T, server *mockssh.Server, password string) (ports.RemoteConn, error) {
	t.Helper()
	c := NewConnector(ConnectorOptions{
		Timeout:         5 * time.Second,
		HostKeyCallback: InsecureHostKeyCallback(),
		Shell:           DefaultShellOptions(),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.Connect(ctx, ports.RemoteTarget{
		Host:     server.Host(),
		Port:     server.Port(),
		User:     "alice",
		Password: password,
	})
}

func TestConnector_BadPassword(t *testing.T) {
	server := startServer(t, t.TempDir())
	if _, err := connect(t, server, "wrong"); err == nil {
		t.Fatal("Connect() expected auth failure")
	}
}

func TestConnector_ShellAndRun(t *testing.T) {
	server := startServer(t, t.TempDir())
	conn, err := connect(t, server, "wonderland")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer conn.Close()

	stdout, stderr, err := conn.Run(context.Background(), "echo out; echo err 1>&2; exit 3")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.TrimSpace(stdout) != "out" || strings.TrimSpace(stderr) != "err" {
		t.Errorf("Run() = (%q, %q), want (out, err)", stdout, stderr)
	}

	shell, err := conn.OpenShell()
	if err != nil {
		t.Fatalf("OpenShell() error = %v", err)
	}
	defer shell.Close()

	if _, err := shell.Write([]byte("echo marker-$((40+2))\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got := make(chan string, 1)
	go func() {
		var buf bytes.Buffer
		chunk := make([]byte, 1024)
		for {
			n, err := shell.Read(chunk)
			buf.Write(chunk[:n])
			if strings.Contains(buf.String(), "marker-42") || err != nil {
				got <- buf.String()
				return
			}
		}
	}()

	select {
	case out := <-got:
		if !strings.Contains(out, "marker-42") {
			t.Errorf("shell output %q missing marker-42", out)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for shell output")
	}
}

func TestConnector_FileTransfer(t *testing.T) {
	remoteDir := t.TempDir()
	server := startServer(t, remoteDir)
	conn, err := connect(t, server, "wonderland")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer conn.Close()

	files, err := conn.Files()
	if err != nil {
		t.Fatalf("Files() error = %v", err)
	}

	remote := filepath.Join(remoteDir, "report.txt")
	if _, err := files.Stat(remote); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Stat(missing) error = %v, want fs.ErrNotExist", err)
	}

	local := filepath.Join(t.TempDir(), "in.txt")
	content := []byte("quarterly numbers\n")
	if err := os.WriteFile(local, content, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := files.Put(local, remote); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if info, err := files.Stat(remote); err != nil || info.Size() != int64(len(content)) {
		t.Fatalf("Stat() = %v, %v", info, err)
	}

	back := filepath.Join(t.TempDir(), "out", "report.txt")
	if _, err := files.Get(remote, back); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	data, err := os.ReadFile(back)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, content) {
		t.Errorf("round trip = %q, want %q", data, content)
	}

	if err := files.Remove(remote); err != nil {
		t.Errorf("Remove() error = %v", err)
	}
}
