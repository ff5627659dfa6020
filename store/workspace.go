package store

import (
	"errors"

	"termmux/layout"

	"github.com/google/uuid"
)

var errMissingRemote = errors.New("remote tab has no connection parameters")

// Snapshot captures the restorable shape of the workspace: active tab
// index, per-tab path, title and serialized layout. The launcher tab is
// implicit and never persisted.
func (s *Store) Snapshot() Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws := Workspace{}
	for i, id := range s.order {
		tab, ok := s.tabs[id]
		if !ok || tab.Kind == TabSettings {
			continue
		}
		if id == s.activeTab {
			ws.ActiveIndex = i
		}
		wt := WorkspaceTab{
			Kind:   tab.Kind,
			Title:  tab.Title,
			Path:   tab.Status.CWD,
			Layout: layout.Serialize(tab.Layout),
		}
		if tab.Remote != nil {
			r := *tab.Remote
			wt.Remote = &r
		}
		ws.Tabs = append(ws.Tabs, wt)
	}
	return ws
}

// Restore rebuilds tabs from a persisted workspace. For each tab the
// backing sessions are opened first, then attached to the layout
// shape's leaves in depth-first order. Tabs whose sessions fail to open
// are skipped with a notice; restore never fails as a whole.
func (s *Store) Restore(ws Workspace) {
	for _, wt := range ws.Tabs {
		if err := s.restoreTab(wt); err != nil {
			s.deps.Log.Warn("tab restore failed", "title", wt.Title, "error", err)
			s.emit(Notice{Level: "error", Title: "Could not restore tab", Message: wt.Title})
		}
	}

	s.mu.Lock()
	if ws.ActiveIndex >= 0 && ws.ActiveIndex < len(s.order) {
		s.activeTab = s.order[ws.ActiveIndex]
	}
	s.mu.Unlock()
}

func (s *Store) restoreTab(wt WorkspaceTab) error {
	count := layout.LeafCount(wt.Layout)
	if count == 0 {
		count = 1
	}

	var sessionID string
	var paneIDs []string
	openPane := func() (string, error) {
		if wt.Kind == TabRemote {
			return s.deps.Sessions.OpenRemotePane(sessionID, wt.Path, s.cfg.Cols, s.cfg.Rows)
		}
		return s.deps.Sessions.OpenLocalPane(wt.Path, s.cfg.Cols, s.cfg.Rows)
	}

	if wt.Kind == TabRemote {
		if wt.Remote == nil {
			return errMissingRemote
		}
		sid, err := s.deps.Sessions.Connect(*wt.Remote)
		if err != nil {
			return err
		}
		sessionID = sid
	}

	cleanup := func() {
		for _, p := range paneIDs {
			s.deps.Sessions.ClosePane(p)
		}
		if sessionID != "" {
			s.deps.Sessions.Disconnect(sessionID)
		}
	}

	for i := 0; i < count; i++ {
		paneID, err := openPane()
		if err != nil {
			cleanup()
			return err
		}
		paneIDs = append(paneIDs, paneID)
	}

	var tree layout.Node
	if wt.Layout != nil {
		t, err := layout.Materialize(wt.Layout, paneIDs)
		if err != nil {
			cleanup()
			return err
		}
		tree = t
	} else {
		tree = &layout.Leaf{PaneID: paneIDs[0]}
	}

	s.mu.Lock()
	tab := &Tab{
		ID:          "tab_" + uuid.New().String()[:8],
		Kind:        wt.Kind,
		Title:       wt.Title,
		Panes:       paneIDs,
		ActivePane:  paneIDs[0],
		PrimaryPane: paneIDs[0],
		Layout:      tree,
		Panel:       PanelTerminal,
		Status:      TabStatus{CWD: wt.Path, Git: notRepoStatus()},
	}
	if wt.Kind == TabRemote {
		r := *wt.Remote
		tab.Remote = &r
		tab.SessionID = sessionID
		tab.ReconnectEnabled = true
	}
	s.addTabLocked(tab, paneIDs...)
	if wt.Kind == TabRemote {
		for _, p := range paneIDs {
			s.channelSessions[p] = sessionID
		}
	}
	view := tab.view()
	s.mu.Unlock()

	s.emit(TabOpened{Tab: view})
	return nil
}
