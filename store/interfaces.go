package store

import (
	"context"

	"termmux/gitsvc"
	"termmux/layout"
)

// SessionManager opens and closes the shells behind panes. Pane and
// session identifiers are opaque to the store.
type SessionManager interface {
	// OpenLocalPane spawns a local shell and returns its pane id.
	OpenLocalPane(cwd string, cols, rows int) (string, error)

	// Connect establishes a remote session.
	Connect(cfg RemoteConfig) (string, error)

	// OpenRemotePane opens a shell channel on an existing session.
	OpenRemotePane(sessionID, cwd string, cols, rows int) (string, error)

	// Disconnect tears down a remote session and all its channels.
	Disconnect(sessionID string) error

	// ClosePane terminates the shell behind a pane.
	ClosePane(paneID string) error

	// RequestCWD asks a local shell to announce its working directory
	// one last time, so a closing tab can be recorded as a recent
	// session. Fire and forget.
	RequestCWD(paneID string)

	// SetPrimary tells a remote session which of its channels is now
	// the authoritative one for directory and git reporting.
	SetPrimary(sessionID, paneID string) error

	// HomeDir returns the remote user's home directory.
	HomeDir(sessionID string) (string, error)
}

// PathResolver turns a raw local directory string into an absolute
// path.
type PathResolver interface {
	Abs(raw string) (string, error)
}

// GitService answers status and changed-file queries, scoped to a
// remote session or (empty sessionID) the local machine.
type GitService interface {
	Status(ctx context.Context, sessionID, dir string) (gitsvc.Status, error)
	Changes(ctx context.Context, sessionID, dir string) ([]gitsvc.Change, error)
}

// RecentsRecorder persists reusable recent-session records.
type RecentsRecorder interface {
	RecordRecent(path string, shape *layout.Shape)
}
