// Package session unifies local pty panes and remote ssh channels
// behind one manager. The store drives it through its interfaces; raw
// pane output, directory announcements, exits and disconnects flow back
// up through the callbacks.
package session

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"termmux/gitsvc"
	"termmux/logging"
	"termmux/pty"
	"termmux/ssh"
	"termmux/store"
)

const keepAliveInterval = 30 * time.Second

// Manager owns all shells. Pane ids are globally unique across local
// and remote panes; the pty_/ch_ prefixes make routing unambiguous.
type Manager struct {
	ptys     *pty.Manager
	ssh      *ssh.Client
	localGit gitsvc.Service
	log      *logging.Logger

	mu           sync.Mutex
	sessions     map[string]*ssh.Session
	paneSessions map[string]string // channel pane id -> session id
	primaries    map[string]string // session id -> authoritative channel id
	scanners     map[string]*oscScanner
	sinks        map[string]func([]byte)

	// Set before the first pane is opened. All fire on reader
	// goroutines.
	OnDirectory  func(paneID, rawDir string)
	OnExit       func(paneID string)
	OnDisconnect func(sessionID string)
}

func NewManager(ptys *pty.Manager, sshClient *ssh.Client, localGit gitsvc.Service, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Default()
	}
	m := &Manager{
		ptys:         ptys,
		ssh:          sshClient,
		localGit:     localGit,
		log:          log,
		sessions:     make(map[string]*ssh.Session),
		paneSessions: make(map[string]string),
		primaries:    make(map[string]string),
		scanners:     make(map[string]*oscScanner),
		sinks:        make(map[string]func([]byte)),
	}
	ptys.OnOutput = func(paneID string, data []byte) { m.routeOutput(paneID, data, true) }
	ptys.OnExit = m.handleExit
	return m
}

// OpenLocalPane spawns a local shell pane.
func (m *Manager) OpenLocalPane(cwd string, cols, rows int) (string, error) {
	paneID, err := m.ptys.Open(cwd, cols, rows)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.scanners[paneID] = &oscScanner{}
	m.mu.Unlock()
	return paneID, nil
}

// Connect establishes a remote session. Channels are opened separately
// through OpenRemotePane.
func (m *Manager) Connect(cfg store.RemoteConfig) (string, error) {
	sess, err := m.ssh.Connect(ssh.Params{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		KeyPath:  cfg.KeyPath,
		Password: cfg.Password,
	})
	if err != nil {
		return "", err
	}

	sessionID := sess.ID()
	sess.OnOutput = func(channelID string, data []byte) {
		m.routeOutput(channelID, data, m.isPrimary(sessionID, channelID))
	}
	sess.OnExit = m.handleExit
	sess.OnDisconnect = func(id string) {
		if m.OnDisconnect != nil {
			m.OnDisconnect(id)
		}
	}

	m.mu.Lock()
	m.sessions[sessionID] = sess
	m.mu.Unlock()

	go sess.KeepAlive(keepAliveInterval)
	m.log.Info("session connected", "session_id", sessionID, "host", cfg.Host)
	return sessionID, nil
}

// OpenRemotePane opens a shell channel on an existing session. The
// first channel of a session becomes its primary.
func (m *Manager) OpenRemotePane(sessionID, cwd string, cols, rows int) (string, error) {
	sess, err := m.session(sessionID)
	if err != nil {
		return "", err
	}
	paneID, err := sess.OpenShell(cwd, cols, rows)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.paneSessions[paneID] = sessionID
	m.scanners[paneID] = &oscScanner{}
	if _, ok := m.primaries[sessionID]; !ok {
		m.primaries[sessionID] = paneID
	}
	m.mu.Unlock()
	return paneID, nil
}

// Disconnect deliberately closes a session and all its channels.
func (m *Manager) Disconnect(sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	delete(m.primaries, sessionID)
	for paneID, sid := range m.paneSessions {
		if sid == sessionID {
			delete(m.paneSessions, paneID)
			delete(m.scanners, paneID)
			delete(m.sinks, paneID)
		}
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	m.log.Info("session disconnected", "session_id", sessionID, "host", sess.Params().Host)
	return sess.Close()
}

// ClosePane terminates the shell behind a pane, local or remote.
func (m *Manager) ClosePane(paneID string) error {
	m.mu.Lock()
	sessionID, remote := m.paneSessions[paneID]
	delete(m.paneSessions, paneID)
	delete(m.scanners, paneID)
	delete(m.sinks, paneID)
	sess := m.sessions[sessionID]
	if m.primaries[sessionID] == paneID {
		delete(m.primaries, sessionID)
	}
	m.mu.Unlock()

	if !remote {
		return m.ptys.Close(paneID)
	}
	if sess == nil {
		return fmt.Errorf("session %s not found for pane %s", sessionID, paneID)
	}
	err := sess.CloseChannel(paneID)
	m.log.Debug("channel closed", "pane_id", paneID, "session_id", sessionID, "remaining", sess.ChannelCount())
	return err
}

// RequestCWD reads a local pane's working directory straight from its
// shell process and feeds it into the directory pipeline. Remote panes
// announce via their prompt hook only.
func (m *Manager) RequestCWD(paneID string) {
	pid, err := m.ptys.PID(paneID)
	if err != nil {
		return
	}
	cwd, err := processCWD(pid)
	if err != nil {
		m.log.Debug("could not read process cwd", "pane_id", paneID, "error", err)
		return
	}
	if m.OnDirectory != nil {
		m.OnDirectory(paneID, cwd)
	}
}

// SetPrimary marks which channel of a session feeds the directory
// pipeline.
func (m *Manager) SetPrimary(sessionID, paneID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	m.primaries[sessionID] = paneID
	return nil
}

// HomeDir returns the remote user's home directory.
func (m *Manager) HomeDir(sessionID string) (string, error) {
	sess, err := m.session(sessionID)
	if err != nil {
		return "", err
	}
	return sess.HomeDir()
}

// Write sends input to a pane's shell.
func (m *Manager) Write(paneID string, data []byte) error {
	m.mu.Lock()
	sessionID, remote := m.paneSessions[paneID]
	sess := m.sessions[sessionID]
	m.mu.Unlock()

	if !remote {
		return m.ptys.Write(paneID, data)
	}
	if sess == nil {
		return fmt.Errorf("session %s not found for pane %s", sessionID, paneID)
	}
	return sess.Write(paneID, data)
}

// Resize changes a pane's terminal dimensions.
func (m *Manager) Resize(paneID string, cols, rows int) error {
	m.mu.Lock()
	sessionID, remote := m.paneSessions[paneID]
	sess := m.sessions[sessionID]
	m.mu.Unlock()

	if !remote {
		return m.ptys.Resize(paneID, cols, rows)
	}
	if sess == nil {
		return fmt.Errorf("session %s not found for pane %s", sessionID, paneID)
	}
	return sess.Resize(paneID, cols, rows)
}

// AttachSink registers the consumer of a pane's raw output, replacing
// any previous one. A nil sink detaches.
func (m *Manager) AttachSink(paneID string, sink func([]byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sink == nil {
		delete(m.sinks, paneID)
		return
	}
	m.sinks[paneID] = sink
}

// Status implements the store's git interface: empty sessionID queries
// the local machine, otherwise the helper agent over the session's exec
// channel.
func (m *Manager) Status(ctx context.Context, sessionID, dir string) (gitsvc.Status, error) {
	svc, err := m.gitService(sessionID)
	if err != nil {
		return gitsvc.Status{}, err
	}
	return svc.Status(ctx, dir)
}

func (m *Manager) Changes(ctx context.Context, sessionID, dir string) ([]gitsvc.Change, error) {
	svc, err := m.gitService(sessionID)
	if err != nil {
		return nil, err
	}
	return svc.Changes(ctx, dir)
}

func (m *Manager) gitService(sessionID string) (gitsvc.Service, error) {
	if sessionID == "" {
		return m.localGit, nil
	}
	sess, err := m.session(sessionID)
	if err != nil {
		return nil, err
	}
	return gitsvc.NewRemoteService(sess), nil
}

func (m *Manager) session(sessionID string) (*ssh.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	return sess, nil
}

func (m *Manager) isPrimary(sessionID, channelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.primaries[sessionID] == channelID
}

// routeOutput forwards raw output to the pane's sink and, for panes
// feeding the directory pipeline, extracts OSC 7 announcements.
func (m *Manager) routeOutput(paneID string, data []byte, scan bool) {
	m.mu.Lock()
	sink := m.sinks[paneID]
	scanner := m.scanners[paneID]
	m.mu.Unlock()

	if sink != nil {
		sink(data)
	}
	if !scan || scanner == nil || m.OnDirectory == nil {
		return
	}
	for _, uri := range scanner.feed(data) {
		m.OnDirectory(paneID, uri)
	}
}

func (m *Manager) handleExit(paneID string) {
	m.mu.Lock()
	delete(m.paneSessions, paneID)
	delete(m.scanners, paneID)
	delete(m.sinks, paneID)
	m.mu.Unlock()

	if m.OnExit != nil {
		m.OnExit(paneID)
	}
}

// processCWD resolves a process's working directory. Linux reads the
// proc link; elsewhere it falls back to lsof the way desktop terminals
// do.
func processCWD(pid int) (string, error) {
	if link, err := os.Readlink(fmt.Sprintf("/proc/%d/cwd", pid)); err == nil {
		return link, nil
	}
	out, err := exec.Command("lsof", "-a", "-p", strconv.Itoa(pid), "-d", "cwd", "-Fn").Output()
	if err != nil {
		return "", fmt.Errorf("resolve cwd of pid %d: %w", pid, err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "n") {
			return line[1:], nil
		}
	}
	return "", fmt.Errorf("no cwd record for pid %d", pid)
}
