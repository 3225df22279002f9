// Package mockssh provides an in-process SSH server for adapter tests. It serves
// password logins, pty shells, exec requests and the sftp subsystem against the
// local machine.
package mockssh

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Server is a mock SSH server for testing.
type Server struct {
	listener net.Listener
	config   *ssh.ServerConfig
	addr     string
	shell    string
	dir      string
	users    map[string]string // username -> password
	mu       sync.RWMutex
	done     chan struct{}
	wg       sync.WaitGroup

	procsMu sync.Mutex
	procs   []*exec.Cmd
	conns   []net.Conn
}

// Option configures the mock SSH server.
type Option func(*Server)

// WithShell sets the shell used for pty shells and exec requests.
func WithShell(shell string) Option {
	return func(s *Server) {
		s.shell = shell
	}
}

// WithUser adds a user/password pair for authentication.
func WithUser(username, password string) Option {
	return func(s *Server) {
		s.users[username] = password
	}
}

// WithDir sets the working directory of shells and commands.
func WithDir(dir string) Option {
	return func(s *Server) {
		s.dir = dir
	}
}

// New starts a server on a random loopback port.
func New(opts ...Option) (*Server, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	s := &Server{
		shell: "/bin/sh",
		users: map[string]string{
			"test": "test",
		},
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.config = &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			s.mu.RLock()
			expected, ok := s.users[c.User()]
			s.mu.RUnlock()
			if ok && string(password) == expected {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
	}
	s.config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.addr = listener.Addr().String()

	s.wg.Add(1)
	go s.acceptLoop()

	slog.Debug("mock SSH server started", slog.String("addr", s.addr))
	return s, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.addr
}

// Host returns the host part of the address.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.addr)
	return host
}

// Port returns the port the server is listening on.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Close shuts the server down and kills any shells still running.
func (s *Server) Close() error {
	close(s.done)
	err := s.listener.Close()

	s.procsMu.Lock()
	for _, cmd := range s.procs {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
	}
	s.procs = nil
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
	s.procsMu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				slog.Debug("accept error", slog.String("error", err.Error()))
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(netConn net.Conn) {
	defer s.wg.Done()
	defer netConn.Close()

	s.procsMu.Lock()
	s.conns = append(s.conns, netConn)
	s.procsMu.Unlock()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		slog.Debug("SSH handshake failed", slog.String("error", err.Error()))
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			slog.Debug("channel accept failed", slog.String("error", err.Error()))
			continue
		}
		s.wg.Add(1)
		go s.handleChannel(channel, requests)
	}
}

// handleChannel replies to each request before starting the work it asks for,
// since clients block on the reply.
func (s *Server) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer s.wg.Done()

	var win *pty.Winsize
	started := false

	for req := range requests {
		ok := false
		switch req.Type {
		case "env":
			ok = true
		case "pty-req":
			win = parsePtyRequest(req.Payload)
			ok = true
		case "window-change":
			ok = true
		case "shell", "exec", "subsystem":
			if started {
				break
			}
			started, ok = true, true
			if req.WantReply {
				req.Reply(true, nil)
			}
			s.wg.Add(1)
			go s.serve(channel, req.Type, parseString(req.Payload), win)
			continue
		}
		if req.WantReply {
			req.Reply(ok, nil)
		}
	}
}

func (s *Server) serve(channel ssh.Channel, kind, arg string, win *pty.Winsize) {
	defer s.wg.Done()

	switch kind {
	case "subsystem":
		if arg != "sftp" {
			sendExitStatus(channel, 1)
			return
		}
		s.serveSFTP(channel)
	case "shell":
		s.runCommand(channel, exec.Command(s.shell), win)
	case "exec":
		s.runCommand(channel, exec.Command(s.shell, "-c", arg), win)
	}
}

func (s *Server) serveSFTP(channel ssh.Channel) {
	var opts []sftp.ServerOption
	if s.dir != "" {
		opts = append(opts, sftp.WithServerWorkingDirectory(s.dir))
	}
	server, err := sftp.NewServer(channel, opts...)
	if err != nil {
		slog.Debug("sftp server init failed", slog.String("error", err.Error()))
		sendExitStatus(channel, 1)
		return
	}
	if err := server.Serve(); err != nil && !errors.Is(err, io.EOF) {
		slog.Debug("sftp server stopped", slog.String("error", err.Error()))
	}
	server.Close()
	sendExitStatus(channel, 0)
}

func (s *Server) runCommand(channel ssh.Channel, cmd *exec.Cmd, win *pty.Winsize) {
	cmd.Env = append(os.Environ(), "PS1=$ ", "TERM=dumb")
	cmd.Dir = s.dir

	if win == nil {
		cmd.Stdin = channel
		cmd.Stdout = channel
		cmd.Stderr = channel.Stderr()
		if err := cmd.Start(); err != nil {
			sendExitStatus(channel, 127)
			return
		}
		s.track(cmd)
		sendExitStatus(channel, exitCode(cmd.Wait()))
		return
	}

	ptmx, err := pty.StartWithSize(cmd, win)
	if err != nil {
		slog.Debug("pty start failed", slog.String("error", err.Error()))
		sendExitStatus(channel, 1)
		return
	}
	s.track(cmd)

	done := make(chan struct{})
	go func() {
		io.Copy(channel, ptmx)
		close(done)
	}()
	go io.Copy(ptmx, channel)

	code := exitCode(cmd.Wait())
	ptmx.Close()
	<-done
	sendExitStatus(channel, code)
}

func (s *Server) track(cmd *exec.Cmd) {
	s.procsMu.Lock()
	s.procs = append(s.procs, cmd)
	s.procsMu.Unlock()
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

func sendExitStatus(channel ssh.Channel, code int) {
	channel.CloseWrite()
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(code))
	channel.SendRequest("exit-status", false, payload)
	channel.Close()
}

// parseString decodes the single SSH string carried by exec and subsystem requests.
func parseString(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := binary.BigEndian.Uint32(payload)
	if uint32(len(payload)-4) < n {
		return ""
	}
	return string(payload[4 : 4+n])
}

func parsePtyRequest(payload []byte) *pty.Winsize {
	win := &pty.Winsize{Rows: 24, Cols: 80}
	term := parseString(payload)
	rest := payload[min(len(payload), 4+len(term)):]
	if len(rest) < 8 {
		return win
	}
	win.Cols = uint16(binary.BigEndian.Uint32(rest[0:4]))
	win.Rows = uint16(binary.BigEndian.Uint32(rest[4:8]))
	return win
}
