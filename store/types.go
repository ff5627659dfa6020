package store

import (
	"time"

	"termmux/gitsvc"
	"termmux/layout"
)

type TabKind string

const (
	TabLocal    TabKind = "local"
	TabRemote   TabKind = "remote"
	TabSettings TabKind = "settings"
)

// LauncherTabID is the fixed, non-closable tab that always exists.
const LauncherTabID = "launcher"

// PanelView is which side panel the UI shows for a tab.
type PanelView string

const (
	PanelTerminal PanelView = "terminal"
	PanelGit      PanelView = "git"
	PanelFiles    PanelView = "files"
)

// RemoteConfig is everything needed to (re)establish a tab's remote
// session.
type RemoteConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	KeyPath  string `json:"keyPath,omitempty"`
	Password string `json:"-"`
}

// TabStatus is the per-tab state the UI's status bar and git panel
// render. Branch "-" marks a confirmed non-repository directory.
type TabStatus struct {
	CWD      string        `json:"cwd"`
	Git      gitsvc.Status `json:"git"`
	HelperOK bool          `json:"helperOk"`
}

// ReconnectState tracks an in-flight reconnection loop.
type ReconnectState struct {
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"maxAttempts"`
	LastAttempt time.Time `json:"lastAttempt"`
}

// dirReport is the timestamp-tagged latest-report cell. Staleness is
// decided by comparing a captured cell against the tab's current one,
// never by timer identity.
type dirReport struct {
	raw  string
	pane string
	at   time.Time
}

// Tab aggregates everything the store knows about one workspace tab.
type Tab struct {
	ID          string
	Kind        TabKind
	Title       string
	Panes       []string
	ActivePane  string
	PrimaryPane string
	Status      TabStatus
	Layout      layout.Node // nil = unordered pane list
	Panel       PanelView

	SessionID        string // primary remote session
	Remote           *RemoteConfig
	ReconnectEnabled bool
	Reconnect        *ReconnectState

	lastReport    dirReport
	lastProcessed string // normalized path, also set for non-repositories
}

// TabView is the immutable snapshot of a tab sent to the UI.
type TabView struct {
	ID          string          `json:"id"`
	Kind        TabKind         `json:"kind"`
	Title       string          `json:"title"`
	Panes       []string        `json:"panes"`
	ActivePane  string          `json:"activePane,omitempty"`
	PrimaryPane string          `json:"primaryPane,omitempty"`
	Status      TabStatus       `json:"status"`
	Layout      *LayoutView     `json:"layout,omitempty"`
	Panel       PanelView       `json:"panel"`
	Reconnect   *ReconnectState `json:"reconnect,omitempty"`
}

// LayoutView is the pane-id-bearing tree the UI renders, as opposed to
// layout.Shape which is the id-free persistence form.
type LayoutView struct {
	Kind      string           `json:"kind"`
	PaneID    string           `json:"paneId,omitempty"`
	Direction layout.Direction `json:"direction,omitempty"`
	Sizes     []float64        `json:"sizes,omitempty"`
	Children  []*LayoutView    `json:"children,omitempty"`
}

func newLayoutView(n layout.Node) *LayoutView {
	switch v := n.(type) {
	case *layout.Leaf:
		return &LayoutView{Kind: "leaf", PaneID: v.PaneID}
	case *layout.Split:
		children := make([]*LayoutView, len(v.Children))
		for i, c := range v.Children {
			children[i] = newLayoutView(c)
		}
		return &LayoutView{Kind: "split", Direction: v.Direction, Sizes: v.Sizes, Children: children}
	default:
		return nil
	}
}

func (t *Tab) view() TabView {
	var rec *ReconnectState
	if t.Reconnect != nil {
		r := *t.Reconnect
		rec = &r
	}
	return TabView{
		ID:          t.ID,
		Kind:        t.Kind,
		Title:       t.Title,
		Panes:       append([]string(nil), t.Panes...),
		ActivePane:  t.ActivePane,
		PrimaryPane: t.PrimaryPane,
		Status:      t.Status,
		Layout:      newLayoutView(t.Layout),
		Panel:       t.Panel,
		Reconnect:   rec,
	}
}

// Workspace is the persisted shape of all restorable tabs.
type Workspace struct {
	ActiveIndex int            `json:"activeIndex"`
	Tabs        []WorkspaceTab `json:"tabs"`
}

type WorkspaceTab struct {
	Kind   TabKind       `json:"kind"`
	Title  string        `json:"title"`
	Path   string        `json:"path"`
	Layout *layout.Shape `json:"layout,omitempty"`
	Remote *RemoteConfig `json:"remote,omitempty"`
}
