// Package store is the aggregate root for all tab, pane and session
// state. Every mutation goes through its operations; collaborators
// report raw events up to it and the UI observes it through emitted
// events only.
package store

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"termmux/gitsvc"
	"termmux/layout"
	"termmux/logging"
	"termmux/pathutil"

	"github.com/google/uuid"
)

type Config struct {
	DebounceWindow time.Duration
	Retry          RetryPolicy
	Cols           int
	Rows           int
}

type Deps struct {
	Sessions SessionManager
	Resolver PathResolver
	Git      GitService
	Recents  RecentsRecorder
	Log      *logging.Logger
}

type Store struct {
	cfg  Config
	deps Deps

	mu              sync.Mutex
	tabs            map[string]*Tab
	order           []string
	activeTab       string
	channelSessions map[string]string // pane id -> owning remote session id
	paneTabs        map[string]string // pane id -> tab id

	timers *timerMap
	events chan Event
}

func New(cfg Config, deps Deps) *Store {
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = 250 * time.Millisecond
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Cols <= 0 {
		cfg.Cols = 120
	}
	if cfg.Rows <= 0 {
		cfg.Rows = 30
	}
	if deps.Log == nil {
		deps.Log = logging.Default()
	}

	s := &Store{
		cfg:             cfg,
		deps:            deps,
		tabs:            make(map[string]*Tab),
		channelSessions: make(map[string]string),
		paneTabs:        make(map[string]string),
		timers:          newTimerMap(),
		events:          make(chan Event, 256),
	}

	launcher := &Tab{
		ID:    LauncherTabID,
		Kind:  TabSettings,
		Title: "Home",
		Panel: PanelTerminal,
	}
	s.tabs[launcher.ID] = launcher
	s.order = append(s.order, launcher.ID)
	s.activeTab = launcher.ID
	return s
}

// Events is the store's outbound notification stream.
func (s *Store) Events() <-chan Event {
	return s.events
}

func (s *Store) emit(e Event) {
	select {
	case s.events <- e:
	default:
		s.deps.Log.Warn("event dropped, consumer too slow", "event", fmt.Sprintf("%T", e))
	}
}

// OpenLocal opens a new local tab with one shell pane in cwd (empty =
// shell default). The tab is only created once the pane opened; a
// session-open failure surfaces as a notice and leaves no tab behind.
func (s *Store) OpenLocal(cwd string) (TabView, error) {
	if cwd != "" {
		if abs, err := s.deps.Resolver.Abs(cwd); err == nil {
			cwd = abs
		}
	}

	paneID, err := s.deps.Sessions.OpenLocalPane(cwd, s.cfg.Cols, s.cfg.Rows)
	if err != nil {
		s.emit(Notice{Level: "error", Title: "Failed to open terminal", Message: err.Error()})
		return TabView{}, fmt.Errorf("open local pane: %w", err)
	}

	s.mu.Lock()
	tab := &Tab{
		ID:          "tab_" + uuid.New().String()[:8],
		Kind:        TabLocal,
		Title:       titleForPath(cwd, "Terminal"),
		Panes:       []string{paneID},
		ActivePane:  paneID,
		PrimaryPane: paneID,
		Layout:      &layout.Leaf{PaneID: paneID},
		Panel:       PanelTerminal,
		Status:      TabStatus{CWD: cwd, Git: notRepoStatus()},
	}
	s.addTabLocked(tab, paneID)
	view := tab.view()
	s.mu.Unlock()

	s.emit(TabOpened{Tab: view})
	return view, nil
}

// OpenRemote connects a new remote session and opens a tab with one
// shell channel pane.
func (s *Store) OpenRemote(cfg RemoteConfig, cwd string) (TabView, error) {
	sessionID, err := s.deps.Sessions.Connect(cfg)
	if err != nil {
		s.emit(Notice{Level: "error", Title: "Connection failed", Message: err.Error()})
		return TabView{}, fmt.Errorf("connect %s: %w", cfg.Host, err)
	}

	paneID, err := s.deps.Sessions.OpenRemotePane(sessionID, cwd, s.cfg.Cols, s.cfg.Rows)
	if err != nil {
		s.deps.Sessions.Disconnect(sessionID)
		s.emit(Notice{Level: "error", Title: "Connection failed", Message: err.Error()})
		return TabView{}, fmt.Errorf("open remote pane: %w", err)
	}

	s.mu.Lock()
	tab := &Tab{
		ID:               "tab_" + uuid.New().String()[:8],
		Kind:             TabRemote,
		Title:            cfg.User + "@" + cfg.Host,
		Panes:            []string{paneID},
		ActivePane:       paneID,
		PrimaryPane:      paneID,
		Layout:           &layout.Leaf{PaneID: paneID},
		Panel:            PanelTerminal,
		Status:           TabStatus{CWD: cwd, Git: notRepoStatus()},
		SessionID:        sessionID,
		Remote:           &cfg,
		ReconnectEnabled: true,
	}
	s.addTabLocked(tab, paneID)
	s.channelSessions[paneID] = sessionID
	view := tab.view()
	s.mu.Unlock()

	s.emit(TabOpened{Tab: view})
	return view, nil
}

func (s *Store) addTabLocked(tab *Tab, panes ...string) {
	s.tabs[tab.ID] = tab
	s.order = append(s.order, tab.ID)
	s.activeTab = tab.ID
	for _, p := range panes {
		s.paneTabs[p] = tab.ID
	}
}

// SplitPane opens a new pane next to paneID. Remote splits share the
// target pane's session; use SplitPaneConnect to give the new pane its
// own connection.
func (s *Store) SplitPane(tabID, paneID string, dir layout.Direction) (string, error) {
	return s.splitPane(tabID, paneID, dir, nil)
}

// SplitPaneConnect splits like SplitPane, but backs the new pane with
// an independent remote connection.
func (s *Store) SplitPaneConnect(tabID, paneID string, dir layout.Direction, cfg RemoteConfig) (string, error) {
	return s.splitPane(tabID, paneID, dir, &cfg)
}

func (s *Store) splitPane(tabID, paneID string, dir layout.Direction, newConn *RemoteConfig) (string, error) {
	s.mu.Lock()
	tab, ok := s.tabs[tabID]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("tab %s not found", tabID)
	}
	if !containsPane(tab.Panes, paneID) {
		s.mu.Unlock()
		return "", fmt.Errorf("pane %s not in tab %s", paneID, tabID)
	}
	if tab.Kind == TabSettings {
		s.mu.Unlock()
		return "", fmt.Errorf("tab %s has no splittable panes", tabID)
	}
	kind := tab.Kind
	cwd := tab.Status.CWD
	sessionID := s.channelSessions[paneID]
	s.mu.Unlock()

	var newPane, newSession string
	var err error
	switch {
	case kind == TabLocal:
		newPane, err = s.deps.Sessions.OpenLocalPane(cwd, s.cfg.Cols, s.cfg.Rows)
	case newConn != nil:
		newSession, err = s.deps.Sessions.Connect(*newConn)
		if err == nil {
			newPane, err = s.deps.Sessions.OpenRemotePane(newSession, cwd, s.cfg.Cols, s.cfg.Rows)
			if err != nil {
				s.deps.Sessions.Disconnect(newSession)
			}
		}
	default:
		newSession = sessionID
		newPane, err = s.deps.Sessions.OpenRemotePane(sessionID, cwd, s.cfg.Cols, s.cfg.Rows)
	}
	if err != nil {
		s.emit(Notice{Level: "error", Title: "Split failed", Message: err.Error()})
		return "", fmt.Errorf("split pane: %w", err)
	}

	s.mu.Lock()
	// Re-validate: the tab or target pane may have gone away while the
	// session was opening.
	tab, ok = s.tabs[tabID]
	if !ok || !containsPane(tab.Panes, paneID) {
		s.mu.Unlock()
		s.deps.Sessions.ClosePane(newPane)
		if newSession != "" && newConn != nil {
			s.deps.Sessions.Disconnect(newSession)
		}
		return "", fmt.Errorf("tab %s changed during split", tabID)
	}

	tab.Panes = append(tab.Panes, newPane)
	if tab.Layout == nil {
		tab.Layout = &layout.Leaf{PaneID: paneID}
	}
	tab.Layout = layout.SplitLeaf(tab.Layout, paneID, dir, newPane)
	tab.ActivePane = newPane
	s.paneTabs[newPane] = tabID
	if newSession != "" {
		s.channelSessions[newPane] = newSession
	}
	view := tab.view()
	s.mu.Unlock()

	s.emit(TabUpdated{Tab: view})
	return newPane, nil
}

// ClosePane closes one pane. A remote pane tears down its session when
// no other pane shares it; a local pane is asked for a final directory
// announcement before its process is terminated. Closing a tab's last
// pane closes the tab.
func (s *Store) ClosePane(tabID, paneID string) error {
	s.mu.Lock()
	tab, ok := s.tabs[tabID]
	if !ok || !containsPane(tab.Panes, paneID) {
		s.mu.Unlock()
		return fmt.Errorf("pane %s not found in tab %s", paneID, tabID)
	}
	kind := tab.Kind
	s.mu.Unlock()

	if kind == TabLocal {
		// Final cwd announcement feeds the recent-sessions list.
		s.deps.Sessions.RequestCWD(paneID)
	}
	s.deps.Sessions.ClosePane(paneID)

	s.removePane(tabID, paneID)
	return nil
}

// HandlePaneExit is called by the session collaborator when a pane's
// shell exits on its own.
func (s *Store) HandlePaneExit(paneID string) {
	s.mu.Lock()
	tabID, ok := s.paneTabs[paneID]
	s.mu.Unlock()
	if !ok {
		return
	}
	s.removePane(tabID, paneID)
}

// removePane detaches a pane from its tab, promotes a new primary if
// needed, tears down a session this pane exclusively owned, and closes
// the tab when it was the last pane.
func (s *Store) removePane(tabID, paneID string) {
	var post []func()

	s.mu.Lock()
	tab, ok := s.tabs[tabID]
	if !ok || !containsPane(tab.Panes, paneID) {
		s.mu.Unlock()
		return
	}

	wasLast := len(tab.Panes) == 1
	var recentShape *layout.Shape
	if wasLast && tab.Kind != TabRemote && tab.Kind != TabSettings {
		recentShape = layout.Serialize(tab.Layout)
	}

	tab.Panes = removePaneID(tab.Panes, paneID)
	if tab.Layout != nil {
		tab.Layout = layout.RemoveLeaf(tab.Layout, paneID)
	}
	delete(s.paneTabs, paneID)

	sessionID, owned := s.channelSessions[paneID]
	if owned {
		delete(s.channelSessions, paneID)
		if !s.sessionInUseLocked(sessionID) && sessionID != tab.SessionID {
			// A split-spawned connection nothing else references.
			sid := sessionID
			post = append(post, func() { s.deps.Sessions.Disconnect(sid) })
		}
	}

	if tab.ActivePane == paneID && len(tab.Panes) > 0 {
		tab.ActivePane = tab.Panes[0]
	}
	if tab.PrimaryPane == paneID && len(tab.Panes) > 0 {
		tab.PrimaryPane = tab.Panes[0]
		if tab.Kind == TabRemote {
			sid := s.channelSessions[tab.PrimaryPane]
			pid := tab.PrimaryPane
			post = append(post, func() { s.deps.Sessions.SetPrimary(sid, pid) })
		}
	}

	if len(tab.Panes) == 0 {
		if recentShape != nil && s.deps.Recents != nil {
			// The recent records where the shell actually was, not where
			// the last committed sync left it: a close-time announcement
			// still sitting in the debounce window would otherwise be
			// lost when closeTabLocked cancels the sync timer.
			path := tab.Status.CWD
			finalRaw := tab.lastReport.raw
			shape := recentShape
			post = append(post, func() {
				if finalRaw != "" {
					if abs, err := s.deps.Resolver.Abs(pathutil.FromOSC7(finalRaw)); err == nil {
						path = abs
					}
				}
				if path != "" {
					s.deps.Recents.RecordRecent(path, shape)
				}
			})
		}
		post = append(post, s.closeTabLocked(tab, "last pane closed"))
	} else {
		view := tab.view()
		post = append(post, func() { s.emit(TabUpdated{Tab: view}) })
	}
	s.mu.Unlock()

	for _, fn := range post {
		fn()
	}
}

// SetPrimaryPane marks a pane as the tab's authoritative pane for
// directory and git status.
func (s *Store) SetPrimaryPane(tabID, paneID string) error {
	s.mu.Lock()
	tab, ok := s.tabs[tabID]
	if !ok || !containsPane(tab.Panes, paneID) {
		s.mu.Unlock()
		return fmt.Errorf("pane %s not found in tab %s", paneID, tabID)
	}
	tab.PrimaryPane = paneID
	remote := tab.Kind == TabRemote
	sessionID := s.channelSessions[paneID]
	view := tab.view()
	s.mu.Unlock()

	if remote {
		s.deps.Sessions.SetPrimary(sessionID, paneID)
	}
	s.emit(TabUpdated{Tab: view})
	return nil
}

// SetActivePane records which pane has focus.
func (s *Store) SetActivePane(tabID, paneID string) error {
	s.mu.Lock()
	tab, ok := s.tabs[tabID]
	if !ok || !containsPane(tab.Panes, paneID) {
		s.mu.Unlock()
		return fmt.Errorf("pane %s not found in tab %s", paneID, tabID)
	}
	tab.ActivePane = paneID
	view := tab.view()
	s.mu.Unlock()

	s.emit(TabUpdated{Tab: view})
	return nil
}

// SetActiveTab records which tab is selected.
func (s *Store) SetActiveTab(tabID string) error {
	s.mu.Lock()
	if _, ok := s.tabs[tabID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("tab %s not found", tabID)
	}
	s.activeTab = tabID
	s.mu.Unlock()
	return nil
}

// SetPanelView records which side panel the UI shows for a tab.
func (s *Store) SetPanelView(tabID string, panel PanelView) error {
	s.mu.Lock()
	tab, ok := s.tabs[tabID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("tab %s not found", tabID)
	}
	tab.Panel = panel
	s.mu.Unlock()

	s.emit(PanelChanged{TabID: tabID, Panel: panel})
	return nil
}

// CloseTab closes a tab and everything behind it. The launcher tab
// cannot be closed.
func (s *Store) CloseTab(tabID string) error {
	if tabID == LauncherTabID {
		return fmt.Errorf("launcher tab cannot be closed")
	}

	s.mu.Lock()
	tab, ok := s.tabs[tabID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("tab %s not found", tabID)
	}
	post := s.closeTabLocked(tab, "closed")
	s.mu.Unlock()

	post()
	return nil
}

// closeTabLocked removes the tab from the store and returns the
// side-effect closure (session teardown, event emission) to run after
// the lock is released.
func (s *Store) closeTabLocked(tab *Tab, reason string) func() {
	panes := append([]string(nil), tab.Panes...)
	sessions := make(map[string]bool)
	if tab.SessionID != "" {
		sessions[tab.SessionID] = true
	}
	for _, p := range panes {
		if sid, ok := s.channelSessions[p]; ok {
			sessions[sid] = true
		}
		delete(s.channelSessions, p)
		delete(s.paneTabs, p)
	}

	delete(s.tabs, tab.ID)
	s.order = removePaneID(s.order, tab.ID)
	if s.activeTab == tab.ID {
		s.activeTab = LauncherTabID
		if n := len(s.order); n > 0 {
			s.activeTab = s.order[n-1]
		}
	}

	tabID := tab.ID
	return func() {
		s.timers.Cancel(syncKey(tabID))
		s.timers.Cancel(reconnectKey(tabID))
		for _, p := range panes {
			s.deps.Sessions.ClosePane(p)
		}
		for sid := range sessions {
			s.deps.Sessions.Disconnect(sid)
		}
		s.emit(TabClosed{TabID: tabID, Reason: reason})
	}
}

// TabForPane resolves which tab a pane belongs to.
func (s *Store) TabForPane(paneID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tabID, ok := s.paneTabs[paneID]
	return tabID, ok
}

// Tabs returns views of all tabs in display order.
func (s *Store) Tabs() []TabView {
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]TabView, 0, len(s.order))
	for _, id := range s.order {
		if tab, ok := s.tabs[id]; ok {
			views = append(views, tab.view())
		}
	}
	return views
}

// Tab returns a view of one tab.
func (s *Store) Tab(tabID string) (TabView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab, ok := s.tabs[tabID]
	if !ok {
		return TabView{}, false
	}
	return tab.view(), true
}

// ActiveTab returns the selected tab's id.
func (s *Store) ActiveTab() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeTab
}

func (s *Store) sessionInUseLocked(sessionID string) bool {
	for _, sid := range s.channelSessions {
		if sid == sessionID {
			return true
		}
	}
	return false
}

func containsPane(panes []string, paneID string) bool {
	for _, p := range panes {
		if p == paneID {
			return true
		}
	}
	return false
}

func removePaneID(panes []string, paneID string) []string {
	out := panes[:0]
	for _, p := range panes {
		if p != paneID {
			out = append(out, p)
		}
	}
	return out
}

func titleForPath(path, fallback string) string {
	if path == "" {
		return fallback
	}
	if i := strings.LastIndex(strings.TrimSuffix(path, "/"), "/"); i >= 0 {
		if base := strings.TrimSuffix(path, "/")[i+1:]; base != "" {
			return base
		}
	}
	return path
}

func notRepoStatus() gitsvc.Status {
	return gitsvc.Status{Branch: "-"}
}

func syncKey(tabID string) string      { return "sync:" + tabID }
func reconnectKey(tabID string) string { return "reconnect:" + tabID }
