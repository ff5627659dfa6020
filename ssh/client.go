package ssh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Params identify a remote endpoint and how to authenticate against it.
// Reconnection reuses the exact same values.
type Params struct {
	Host     string
	Port     int
	User     string
	KeyPath  string
	Password string
}

func (p Params) Addr() string {
	port := p.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(p.Host, fmt.Sprintf("%d", port))
}

type Client struct {
	defaultUser    string
	defaultKeyPath string
}

func NewClient(defaultUser, defaultKeyPath string) *Client {
	return &Client{defaultUser: defaultUser, defaultKeyPath: defaultKeyPath}
}

// Connect dials the endpoint and returns a live session. One session
// carries any number of shell channels; panes attach to channels.
func (c *Client) Connect(params Params) (*Session, error) {
	if params.User == "" {
		params.User = c.defaultUser
	}
	if params.KeyPath == "" && params.Password == "" {
		params.KeyPath = c.defaultKeyPath
	}

	auth, err := authMethods(params)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            params.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	conn, err := ssh.Dial("tcp", params.Addr(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", params.Addr(), err)
	}

	s := &Session{
		id:       "sess_" + uuid.New().String()[:8],
		params:   params,
		conn:     conn,
		channels: make(map[string]*Channel),
		done:     make(chan struct{}),
	}
	go s.watchDisconnect()
	return s, nil
}

func authMethods(params Params) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if params.KeyPath != "" {
		keyBytes, err := os.ReadFile(params.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if params.Password != "" {
		methods = append(methods, ssh.Password(params.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no authentication method for %s", params.Addr())
	}
	return methods, nil
}

// Session is one authenticated connection to a remote host.
type Session struct {
	id     string
	params Params
	conn   *ssh.Client

	mu       sync.Mutex
	channels map[string]*Channel
	home     string
	closed   bool

	done      chan struct{}
	closeOnce sync.Once

	// OnOutput, OnExit and OnDisconnect must be set before the first
	// OpenShell call. They are invoked from reader goroutines.
	OnOutput     func(channelID string, data []byte)
	OnExit       func(channelID string)
	OnDisconnect func(sessionID string)
}

func (s *Session) ID() string     { return s.id }
func (s *Session) Params() Params { return s.params }

// Channel is one interactive shell on a session.
type Channel struct {
	id    string
	sess  *ssh.Session
	stdin io.WriteCloser
	mu    sync.Mutex
}

// OpenShell starts a PTY-backed shell channel. A non-empty cwd starts
// the shell in that directory (used by reconnection to restore the last
// known working directory).
func (s *Session) OpenShell(cwd string, cols, rows int) (string, error) {
	sess, err := s.conn.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create channel: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm-256color", rows, cols, modes); err != nil {
		sess.Close()
		return "", fmt.Errorf("failed to request pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return "", fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return "", fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	if cwd != "" {
		cmd := fmt.Sprintf("cd %s && exec \"${SHELL:-/bin/sh}\" -l", shellQuote(cwd))
		if err := sess.Start(cmd); err != nil {
			sess.Close()
			return "", fmt.Errorf("failed to start shell: %w", err)
		}
	} else if err := sess.Shell(); err != nil {
		sess.Close()
		return "", fmt.Errorf("failed to start shell: %w", err)
	}

	ch := &Channel{
		id:    "ch_" + uuid.New().String()[:8],
		sess:  sess,
		stdin: stdin,
	}

	s.mu.Lock()
	s.channels[ch.id] = ch
	s.mu.Unlock()

	go s.readLoop(ch, stdout)
	return ch.id, nil
}

func (s *Session) readLoop(ch *Channel, stdout io.Reader) {
	buf := make([]byte, 8192)
	for {
		n, err := stdout.Read(buf)
		if n > 0 && s.OnOutput != nil {
			s.OnOutput(ch.id, buf[:n])
		}
		if err != nil {
			s.mu.Lock()
			delete(s.channels, ch.id)
			s.mu.Unlock()
			if s.OnExit != nil {
				s.OnExit(ch.id)
			}
			return
		}
	}
}

func (s *Session) Write(channelID string, data []byte) error {
	ch, err := s.channel(channelID)
	if err != nil {
		return err
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	_, err = ch.stdin.Write(data)
	return err
}

func (s *Session) Resize(channelID string, cols, rows int) error {
	ch, err := s.channel(channelID)
	if err != nil {
		return err
	}
	return ch.sess.WindowChange(rows, cols)
}

func (s *Session) CloseChannel(channelID string) error {
	s.mu.Lock()
	ch, ok := s.channels[channelID]
	delete(s.channels, channelID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("channel %s not found", channelID)
	}
	ch.stdin.Close()
	return ch.sess.Close()
}

// ChannelCount reports how many shell channels the session carries.
func (s *Session) ChannelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

func (s *Session) channel(id string) (*Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[id]
	if !ok {
		return nil, fmt.Errorf("channel %s not found", id)
	}
	return ch, nil
}

// Run executes a command on a fresh exec channel and returns its
// stdout. Used for helper-agent queries.
func (s *Session) Run(ctx context.Context, command string) ([]byte, error) {
	sess, err := s.conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create exec channel: %w", err)
	}
	defer sess.Close()

	var stdout bytes.Buffer
	sess.Stdout = &stdout

	errc := make(chan error, 1)
	go func() { errc <- sess.Run(command) }()

	select {
	case err := <-errc:
		if err != nil {
			return nil, fmt.Errorf("remote command failed: %w", err)
		}
		return stdout.Bytes(), nil
	case <-ctx.Done():
		sess.Close()
		return nil, ctx.Err()
	}
}

// HomeDir returns the session user's home directory, resolved once via
// SFTP and cached for the life of the connection.
func (s *Session) HomeDir() (string, error) {
	s.mu.Lock()
	if s.home != "" {
		home := s.home
		s.mu.Unlock()
		return home, nil
	}
	s.mu.Unlock()

	client, err := sftp.NewClient(s.conn)
	if err != nil {
		return "", fmt.Errorf("failed to open sftp: %w", err)
	}
	defer client.Close()

	home, err := client.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home: %w", err)
	}

	s.mu.Lock()
	s.home = home
	s.mu.Unlock()
	return home, nil
}

// KeepAlive sends server keepalives until the session closes.
func (s *Session) KeepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, _, err := s.conn.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// watchDisconnect fires OnDisconnect when the transport drops without a
// deliberate Close. A clean server-side goodbye (after the last shell
// exits) is not a drop and does not start reconnection.
func (s *Session) watchDisconnect() {
	err := s.conn.Wait()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	s.closeOnce.Do(func() { close(s.done) })

	if !closed && IsConnectionError(err) && s.OnDisconnect != nil {
		s.OnDisconnect(s.id)
	}
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	channels := make([]*Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, ch)
	}
	s.channels = make(map[string]*Channel)
	s.mu.Unlock()

	for _, ch := range channels {
		ch.stdin.Close()
		ch.sess.Close()
	}

	s.closeOnce.Do(func() { close(s.done) })
	return s.conn.Close()
}

// IsConnectionError reports whether err looks like a dropped transport
// rather than an application failure.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := err.(*net.OpError); ok {
		return true
	}
	if err == io.EOF {
		return true
	}
	return strings.Contains(err.Error(), "connection reset")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
