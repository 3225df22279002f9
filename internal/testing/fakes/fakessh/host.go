// Package fakessh provides an in-memory remote host implementing the remote
// capability ports: connect, interactive shell, one-shot commands and file transfer.
package fakessh

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/acolita/chat-shell-bridge/internal/ports"
	"github.com/acolita/chat-shell-bridge/internal/testing/fakes/fakepty"
)

// Banner is printed by every new shell before its first prompt.
const Banner = "Welcome to fakessh"

// RunFunc answers a one-shot command.
type RunFunc func(command string) (stdout, stderr string, err error)

// Host is a fake remote machine. Its zero value is not usable; call New.
type Host struct {
	mu    sync.Mutex
	home  string
	files map[string][]byte

	connectErr  error
	connectHook func(ports.RemoteTarget) error
	shellErr    error
	statErr     error
	getErr      error
	putErr      error
	runFunc     RunFunc
	commands    map[string]string
	delay       time.Duration

	targets  []ports.RemoteTarget
	conns    []*Conn
	shells   []*fakepty.Shell
	runs     []string
	gets     []string
	puts     []string
	removals []string
}

// New creates a host whose shells start in /home/user.
func New() *Host {
	return &Host{
		home:     "/home/user",
		files:    make(map[string][]byte),
		commands: make(map[string]string),
	}
}

// --- Configuration ---

// SetConnectError makes Connect fail with err.
func (h *Host) SetConnectError(err error) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connectErr = err
	return h
}

// SetConnectHook runs fn at the start of every Connect; a non-nil result fails it.
func (h *Host) SetConnectHook(fn func(ports.RemoteTarget) error) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connectHook = fn
	return h
}

// SetShellError makes OpenShell fail with err.
func (h *Host) SetShellError(err error) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shellErr = err
	return h
}

// SetStatError makes Stat fail with err for every path.
func (h *Host) SetStatError(err error) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statErr = err
	return h
}

// SetGetError makes Get fail with err.
func (h *Host) SetGetError(err error) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.getErr = err
	return h
}

// SetPutError makes Put fail with err.
func (h *Host) SetPutError(err error) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.putErr = err
	return h
}

// SetRunFunc replaces the default one-shot command behavior.
func (h *Host) SetRunFunc(fn RunFunc) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runFunc = fn
	return h
}

// SetCommand makes the interactive shell print output for line.
func (h *Host) SetCommand(line, output string) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands[line] = output
	return h
}

// SetShellDelay delays every shell reply.
func (h *Host) SetShellDelay(d time.Duration) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.delay = d
	return h
}

// SetFile stores a remote file.
func (h *Host) SetFile(remotePath string, data []byte) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[remotePath] = append([]byte(nil), data...)
	return h
}

// --- Inspection ---

// File returns a remote file's content.
func (h *Host) File(remotePath string) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, ok := h.files[remotePath]
	return data, ok
}

// Targets returns every target passed to Connect.
func (h *Host) Targets() []ports.RemoteTarget {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ports.RemoteTarget(nil), h.targets...)
}

// Conns returns every connection handed out.
func (h *Host) Conns() []*Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Conn(nil), h.conns...)
}

// Shells returns every shell opened, oldest first.
func (h *Host) Shells() []*fakepty.Shell {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*fakepty.Shell(nil), h.shells...)
}

// Runs returns the one-shot commands executed.
func (h *Host) Runs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.runs...)
}

// Gets returns the remote paths fetched.
func (h *Host) Gets() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.gets...)
}

// Puts returns the remote paths written.
func (h *Host) Puts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.puts...)
}

// Removals returns the remote paths deleted.
func (h *Host) Removals() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.removals...)
}

// --- ports.Connector ---

// Connect hands out a new connection unless configured to fail.
func (h *Host) Connect(ctx context.Context, target ports.RemoteTarget) (ports.RemoteConn, error) {
	h.mu.Lock()
	h.targets = append(h.targets, target)
	hook := h.connectHook
	err := h.connectErr
	h.mu.Unlock()

	if hook != nil {
		if herr := hook(target); herr != nil {
			return nil, herr
		}
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := &Conn{host: h, target: target}
	h.mu.Lock()
	h.conns = append(h.conns, c)
	h.mu.Unlock()
	return c, nil
}

// Conn is a fake ports.RemoteConn.
type Conn struct {
	host   *Host
	target ports.RemoteTarget
	mu     sync.Mutex
	closed bool
	shells []*fakepty.Shell
}

// OpenShell starts a scripted shell with its own working directory.
func (c *Conn) OpenShell() (ports.RemoteShell, error) {
	h := c.host
	h.mu.Lock()
	err := h.shellErr
	delay := h.delay
	home := h.home
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}

	shell := fakepty.New(h.responder(home)).SetDelay(delay)
	shell.Emit(Banner + "\r\n$ ")

	c.mu.Lock()
	c.shells = append(c.shells, shell)
	c.mu.Unlock()
	h.mu.Lock()
	h.shells = append(h.shells, shell)
	h.mu.Unlock()
	return shell, nil
}

// Run executes a one-shot command. By default it understands the archive
// command used for directory downloads and stores a fake archive.
func (c *Conn) Run(ctx context.Context, command string) (string, string, error) {
	h := c.host
	h.mu.Lock()
	h.runs = append(h.runs, command)
	fn := h.runFunc
	h.mu.Unlock()

	if fn != nil {
		return fn(command)
	}

	fields := strings.Fields(command)
	if len(fields) >= 6 && fields[0] == "tar" && fields[1] == "-czf" && fields[3] == "-C" {
		archive, dir := unquote(fields[2]), unquote(fields[4])
		h.SetFile(archive, []byte("archive of "+dir))
		return "", "", nil
	}
	return "", "", nil
}

// Files returns the in-memory file transfer channel.
func (c *Conn) Files() (ports.FileTransfer, error) {
	return transfer{c.host}, nil
}

// Close marks the connection closed and ends its shells.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, s := range c.shells {
		s.Close()
	}
	return nil
}

// IsClosed reports whether Close was called.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Target returns the target this connection was opened for.
func (c *Conn) Target() ports.RemoteTarget {
	return c.target
}

func (h *Host) responder(home string) fakepty.Responder {
	cwd := home
	return func(line string) (string, bool) {
		line = strings.TrimSpace(line)
		h.mu.Lock()
		out, ok := h.commands[line]
		h.mu.Unlock()
		if ok {
			return out, false
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			return "", false
		}
		switch fields[0] {
		case "exit":
			return "logout", true
		case "pwd":
			return cwd, false
		case "cd":
			target := home
			if len(fields) > 1 {
				target = fields[1]
			}
			if !path.IsAbs(target) {
				target = path.Join(cwd, target)
			}
			cwd = path.Clean(target)
			return "", false
		case "echo":
			return strings.Join(fields[1:], " "), false
		}
		return fmt.Sprintf("sh: %s: command not found", fields[0]), false
	}
}

type transfer struct {
	h *Host
}

func (t transfer) Stat(remotePath string) (fs.FileInfo, error) {
	t.h.mu.Lock()
	defer t.h.mu.Unlock()
	if t.h.statErr != nil {
		return nil, t.h.statErr
	}
	data, ok := t.h.files[remotePath]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: remotePath, Err: fs.ErrNotExist}
	}
	return fileInfo{name: path.Base(remotePath), size: int64(len(data))}, nil
}

func (t transfer) Get(remotePath, localPath string) (int64, error) {
	t.h.mu.Lock()
	t.h.gets = append(t.h.gets, remotePath)
	err := t.h.getErr
	data, ok := t.h.files[remotePath]
	t.h.mu.Unlock()

	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, &fs.PathError{Op: "open", Path: remotePath, Err: fs.ErrNotExist}
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0700); err != nil {
		return 0, err
	}
	if err := os.WriteFile(localPath, data, 0600); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (t transfer) Put(localPath, remotePath string) (int64, error) {
	t.h.mu.Lock()
	err := t.h.putErr
	t.h.mu.Unlock()
	if err != nil {
		return 0, err
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return 0, err
	}

	t.h.mu.Lock()
	defer t.h.mu.Unlock()
	t.h.puts = append(t.h.puts, remotePath)
	t.h.files[remotePath] = data
	return int64(len(data)), nil
}

func (t transfer) Remove(remotePath string) error {
	t.h.mu.Lock()
	defer t.h.mu.Unlock()
	t.h.removals = append(t.h.removals, remotePath)
	if _, ok := t.h.files[remotePath]; !ok {
		return &fs.PathError{Op: "remove", Path: remotePath, Err: fs.ErrNotExist}
	}
	delete(t.h.files, remotePath)
	return nil
}

type fileInfo struct {
	name string
	size int64
}

func (f fileInfo) Name() string       { return f.name }
func (f fileInfo) Size() int64        { return f.size }
func (f fileInfo) Mode() fs.FileMode  { return 0644 }
func (f fileInfo) ModTime() time.Time { return time.Time{} }
func (f fileInfo) IsDir() bool        { return false }
func (f fileInfo) Sys() any           { return nil }

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return strings.ReplaceAll(s[1:len(s)-1], `'\''`, `'`)
	}
	return s
}

var (
	_ ports.Connector    = (*Host)(nil)
	_ ports.RemoteConn   = (*Conn)(nil)
	_ ports.FileTransfer = transfer{}
)
