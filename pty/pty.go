// Package pty spawns and tracks the local shell processes behind
// local panes.
package pty

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/creack/pty"
	"github.com/google/uuid"
)

// Manager owns all local shell processes. Output and exit are
// delivered on reader goroutines through the callbacks, which must be
// set before the first Open.
type Manager struct {
	shell string

	mu    sync.Mutex
	panes map[string]*Pane

	OnOutput func(paneID string, data []byte)
	OnExit   func(paneID string)
}

type Pane struct {
	id   string
	cmd  *exec.Cmd
	file *os.File
	mu   sync.Mutex
}

// NewManager creates a manager spawning the given shell, or $SHELL when
// empty.
func NewManager(shell string) *Manager {
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}
	return &Manager{shell: shell, panes: make(map[string]*Pane)}
}

// Open spawns a shell in cwd and returns the new pane id.
func (m *Manager) Open(cwd string, cols, rows int) (string, error) {
	if cols <= 0 {
		cols = 120
	}
	if rows <= 0 {
		rows = 30
	}

	cmd := exec.Command(m.shell, loginArgs(m.shell)...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	cmd.Env = append(os.Environ(), "TERM=xterm-256color", "COLORTERM=truecolor")

	file, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return "", fmt.Errorf("failed to start shell: %w", err)
	}

	p := &Pane{
		id:   "pty_" + uuid.New().String()[:8],
		cmd:  cmd,
		file: file,
	}

	m.mu.Lock()
	m.panes[p.id] = p
	m.mu.Unlock()

	go m.readLoop(p)
	return p.id, nil
}

func (m *Manager) readLoop(p *Pane) {
	buf := make([]byte, 8192)
	for {
		n, err := p.file.Read(buf)
		if n > 0 && m.OnOutput != nil {
			m.OnOutput(p.id, buf[:n])
		}
		if err != nil {
			m.mu.Lock()
			delete(m.panes, p.id)
			m.mu.Unlock()
			p.cmd.Wait()
			if m.OnExit != nil {
				m.OnExit(p.id)
			}
			return
		}
	}
}

func (m *Manager) Write(paneID string, data []byte) error {
	p, err := m.pane(paneID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = p.file.Write(data)
	return err
}

func (m *Manager) Resize(paneID string, cols, rows int) error {
	p, err := m.pane(paneID)
	if err != nil {
		return err
	}
	return pty.Setsize(p.file, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Close terminates a pane's shell process. The read loop observes EOF
// and fires OnExit.
func (m *Manager) Close(paneID string) error {
	p, err := m.pane(paneID)
	if err != nil {
		return err
	}
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	return p.file.Close()
}

// PID returns the shell process id behind a pane.
func (m *Manager) PID(paneID string) (int, error) {
	p, err := m.pane(paneID)
	if err != nil {
		return 0, err
	}
	if p.cmd.Process == nil {
		return 0, fmt.Errorf("pane %s has no process", paneID)
	}
	return p.cmd.Process.Pid, nil
}

func (m *Manager) pane(id string) (*Pane, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.panes[id]
	if !ok {
		return nil, fmt.Errorf("pane %s not found", id)
	}
	return p, nil
}

// loginArgs returns the flags that make a shell behave as a login shell
// on macOS, where PATH customizations live in profile files. Mirrors
// how Terminal.app launches shells.
func loginArgs(shell string) []string {
	if runtime.GOOS != "darwin" {
		return nil
	}
	switch filepath.Base(shell) {
	case "zsh", "bash", "fish":
		return []string{"-l"}
	}
	return nil
}
