package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"termmux/gitsvc"
	"termmux/layout"
)

// Mock implementations

type mockSessions struct {
	mu           sync.Mutex
	nextPane     int
	nextSession  int
	closedPanes  []string
	disconnected []string
	cwdRequests  []string
	primaryCalls [][2]string
	home         string

	openLocalFn  func(cwd string, cols, rows int) (string, error)
	connectFn    func(cfg RemoteConfig) (string, error)
	openRemoteFn func(sessionID, cwd string, cols, rows int) (string, error)
	homeDirFn    func(sessionID string) (string, error)
}

func newMockSessions() *mockSessions {
	return &mockSessions{home: "/home/alice"}
}

func (m *mockSessions) OpenLocalPane(cwd string, cols, rows int) (string, error) {
	if m.openLocalFn != nil {
		return m.openLocalFn(cwd, cols, rows)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPane++
	return fmt.Sprintf("pty_%d", m.nextPane), nil
}

func (m *mockSessions) Connect(cfg RemoteConfig) (string, error) {
	if m.connectFn != nil {
		return m.connectFn(cfg)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSession++
	return fmt.Sprintf("sess_%d", m.nextSession), nil
}

func (m *mockSessions) OpenRemotePane(sessionID, cwd string, cols, rows int) (string, error) {
	if m.openRemoteFn != nil {
		return m.openRemoteFn(sessionID, cwd, cols, rows)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPane++
	return fmt.Sprintf("ch_%d", m.nextPane), nil
}

func (m *mockSessions) Disconnect(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = append(m.disconnected, sessionID)
	return nil
}

func (m *mockSessions) ClosePane(paneID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closedPanes = append(m.closedPanes, paneID)
	return nil
}

func (m *mockSessions) RequestCWD(paneID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cwdRequests = append(m.cwdRequests, paneID)
}

func (m *mockSessions) SetPrimary(sessionID, paneID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.primaryCalls = append(m.primaryCalls, [2]string{sessionID, paneID})
	return nil
}

func (m *mockSessions) HomeDir(sessionID string) (string, error) {
	if m.homeDirFn != nil {
		return m.homeDirFn(sessionID)
	}
	return m.home, nil
}

func (m *mockSessions) disconnects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.disconnected...)
}

type mockResolver struct {
	absFn func(raw string) (string, error)
}

func (m *mockResolver) Abs(raw string) (string, error) {
	if m.absFn != nil {
		return m.absFn(raw)
	}
	if len(raw) > 0 && raw[0] == '/' {
		return raw, nil
	}
	return "/abs/" + raw, nil
}

type mockGit struct {
	mu        sync.Mutex
	statusLog []string
	statusFn  func(ctx context.Context, sessionID, dir string) (gitsvc.Status, error)
	changesFn func(ctx context.Context, sessionID, dir string) ([]gitsvc.Change, error)
}

func (m *mockGit) Status(ctx context.Context, sessionID, dir string) (gitsvc.Status, error) {
	m.mu.Lock()
	m.statusLog = append(m.statusLog, dir)
	m.mu.Unlock()
	if m.statusFn != nil {
		return m.statusFn(ctx, sessionID, dir)
	}
	return gitsvc.Status{Branch: "main"}, nil
}

func (m *mockGit) Changes(ctx context.Context, sessionID, dir string) ([]gitsvc.Change, error) {
	if m.changesFn != nil {
		return m.changesFn(ctx, sessionID, dir)
	}
	return nil, nil
}

func (m *mockGit) queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.statusLog...)
}

type mockRecents struct {
	mu      sync.Mutex
	records []string
	shapes  []*layout.Shape
}

func (m *mockRecents) RecordRecent(path string, shape *layout.Shape) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, path)
	m.shapes = append(m.shapes, shape)
}

func (m *mockRecents) paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.records...)
}

type fixture struct {
	store    *Store
	sessions *mockSessions
	git      *mockGit
	recents  *mockRecents
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	sessions := newMockSessions()
	git := &mockGit{}
	recents := &mockRecents{}
	s := New(cfg, Deps{
		Sessions: sessions,
		Resolver: &mockResolver{},
		Git:      git,
		Recents:  recents,
	})
	return &fixture{store: s, sessions: sessions, git: git, recents: recents}
}

// drain discards buffered events so later assertions see fresh ones.
func (f *fixture) drain() {
	for {
		select {
		case <-f.store.Events():
		default:
			return
		}
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// Tests

func TestNew_LauncherAlwaysExists(t *testing.T) {
	f := newFixture(t, Config{})

	tabs := f.store.Tabs()
	if len(tabs) != 1 || tabs[0].ID != LauncherTabID {
		t.Fatalf("expected only the launcher tab, got %v", tabs)
	}
	if err := f.store.CloseTab(LauncherTabID); err == nil {
		t.Error("launcher tab must not be closable")
	}
}

func TestOpenLocal(t *testing.T) {
	f := newFixture(t, Config{})

	view, err := f.store.OpenLocal("/home/alice/proj")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.Kind != TabLocal {
		t.Errorf("expected local tab, got %s", view.Kind)
	}
	if len(view.Panes) != 1 || view.PrimaryPane != view.Panes[0] {
		t.Errorf("expected one primary pane, got %+v", view)
	}
	if view.Layout == nil || view.Layout.Kind != "leaf" {
		t.Errorf("expected leaf layout, got %+v", view.Layout)
	}
	if view.Title != "proj" {
		t.Errorf("expected title from path, got %q", view.Title)
	}

	select {
	case e := <-f.store.Events():
		if _, ok := e.(TabOpened); !ok {
			t.Errorf("expected TabOpened, got %T", e)
		}
	default:
		t.Error("expected an event")
	}
}

func TestOpenLocal_FailureLeavesNoTab(t *testing.T) {
	f := newFixture(t, Config{})
	f.sessions.openLocalFn = func(cwd string, cols, rows int) (string, error) {
		return "", fmt.Errorf("shell not found")
	}

	if _, err := f.store.OpenLocal("/tmp"); err == nil {
		t.Fatal("expected error")
	}
	if got := len(f.store.Tabs()); got != 1 {
		t.Errorf("expected only launcher to remain, got %d tabs", got)
	}

	select {
	case e := <-f.store.Events():
		n, ok := e.(Notice)
		if !ok || n.Level != "error" {
			t.Errorf("expected error notice, got %#v", e)
		}
	default:
		t.Error("expected a notice")
	}
}

func TestSplitPane_Local(t *testing.T) {
	f := newFixture(t, Config{})
	view, _ := f.store.OpenLocal("/home/alice/proj")
	f.drain()

	newPane, err := f.store.SplitPane(view.ID, view.Panes[0], layout.Row)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := f.store.Tab(view.ID)
	if len(got.Panes) != 2 {
		t.Fatalf("expected 2 panes, got %d", len(got.Panes))
	}
	if got.Layout.Kind != "split" || len(got.Layout.Children) != 2 {
		t.Fatalf("expected 2-child split, got %+v", got.Layout)
	}
	if got.Layout.Children[1].PaneID != newPane {
		t.Errorf("expected new pane in second slot, got %+v", got.Layout.Children[1])
	}
	if got.ActivePane != newPane {
		t.Errorf("expected new pane active, got %s", got.ActivePane)
	}
}

func TestSplitPane_RemoteSharesSession(t *testing.T) {
	f := newFixture(t, Config{})
	view, _ := f.store.OpenRemote(RemoteConfig{Host: "dev", User: "alice"}, "")
	f.drain()

	if _, err := f.store.SplitPane(view.ID, view.Panes[0], layout.Column); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.sessions.mu.Lock()
	sessionsOpened := f.sessions.nextSession
	f.sessions.mu.Unlock()
	if sessionsOpened != 1 {
		t.Errorf("expected the split to reuse the session, got %d connections", sessionsOpened)
	}
}

func TestSplitPaneConnect_OwnsDistinctSession(t *testing.T) {
	f := newFixture(t, Config{})
	view, _ := f.store.OpenRemote(RemoteConfig{Host: "dev", User: "alice"}, "")
	f.drain()

	newPane, err := f.store.SplitPaneConnect(view.ID, view.Panes[0], layout.Row, RemoteConfig{Host: "dev", User: "alice"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Closing the split pane must tear down its own connection but not
	// the tab's primary session.
	if err := f.store.ClosePane(view.ID, newPane); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.sessions.disconnects(); len(got) != 1 || got[0] != "sess_2" {
		t.Errorf("expected only the split's session torn down, got %v", got)
	}
	if _, ok := f.store.Tab(view.ID); !ok {
		t.Error("tab should survive closing a non-last pane")
	}
}

func TestClosePane_PrimaryPromotion(t *testing.T) {
	f := newFixture(t, Config{})
	view, _ := f.store.OpenRemote(RemoteConfig{Host: "dev", User: "alice"}, "")
	f.store.SplitPane(view.ID, view.Panes[0], layout.Row)
	f.drain()

	if err := f.store.ClosePane(view.ID, view.Panes[0]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := f.store.Tab(view.ID)
	if !ok {
		t.Fatal("tab should still exist")
	}
	if got.PrimaryPane == view.Panes[0] || got.PrimaryPane == "" {
		t.Errorf("expected a new primary pane, got %q", got.PrimaryPane)
	}

	f.sessions.mu.Lock()
	primaryCalls := len(f.sessions.primaryCalls)
	f.sessions.mu.Unlock()
	if primaryCalls != 1 {
		t.Errorf("expected the backing session to be notified once, got %d", primaryCalls)
	}
}

func TestClosePane_LocalRequestsFinalCWD(t *testing.T) {
	f := newFixture(t, Config{})
	view, _ := f.store.OpenLocal("/home/alice/proj")
	f.drain()

	f.store.ClosePane(view.ID, view.Panes[0])

	f.sessions.mu.Lock()
	defer f.sessions.mu.Unlock()
	if len(f.sessions.cwdRequests) != 1 || f.sessions.cwdRequests[0] != view.Panes[0] {
		t.Errorf("expected final cwd request for the pane, got %v", f.sessions.cwdRequests)
	}
}

func TestClosePane_LastPaneRecordsRecentAndClosesTab(t *testing.T) {
	f := newFixture(t, Config{})
	view, _ := f.store.OpenLocal("/home/alice/proj")
	f.store.SplitPane(view.ID, view.Panes[0], layout.Row)
	f.drain()

	got, _ := f.store.Tab(view.ID)
	for _, pane := range got.Panes {
		f.store.ClosePane(view.ID, pane)
	}

	if _, ok := f.store.Tab(view.ID); ok {
		t.Error("tab should close with its last pane")
	}
	paths := f.recents.paths()
	if len(paths) != 1 || paths[0] != "/home/alice/proj" {
		t.Errorf("expected one recent for the tab path, got %v", paths)
	}
	f.recents.mu.Lock()
	shape := f.recents.shapes[0]
	f.recents.mu.Unlock()
	if shape == nil || shape.Kind != "leaf" {
		t.Errorf("expected the pre-close layout shape, got %+v", shape)
	}
}

func TestClosePane_FinalReportFeedsRecent(t *testing.T) {
	f := newFixture(t, Config{DebounceWindow: 50 * time.Millisecond})
	view, _ := f.store.OpenLocal("/home/alice/old")
	f.drain()

	// The shell moved after the tab opened; its final announcement
	// arrives just before the pane is torn down, still inside the
	// debounce window.
	f.store.ReportDirectory(view.ID, "/home/alice/new", view.Panes[0])
	f.store.ClosePane(view.ID, view.Panes[0])

	paths := f.recents.paths()
	if len(paths) != 1 || paths[0] != "/home/alice/new" {
		t.Errorf("expected the final directory in the recent, got %v", paths)
	}
}

func TestClosePane_LastPaneAutoClosesRemoteTab(t *testing.T) {
	f := newFixture(t, Config{})
	view, _ := f.store.OpenRemote(RemoteConfig{Host: "dev", User: "alice"}, "")
	f.drain()

	f.store.ClosePane(view.ID, view.Panes[0])

	if _, ok := f.store.Tab(view.ID); ok {
		t.Error("remote tab should auto-close with its last pane")
	}
	if got := f.recents.paths(); len(got) != 0 {
		t.Errorf("remote tabs must not record recents, got %v", got)
	}
	if got := f.sessions.disconnects(); len(got) != 1 {
		t.Errorf("expected the session torn down, got %v", got)
	}
}

func TestScenario_CloseSecondPaneCollapsesSplit(t *testing.T) {
	// Panes [A,B] as Split(row, [Leaf(A), Leaf(B)]); closing B yields
	// Leaf(A), panes=[A].
	f := newFixture(t, Config{})
	view, _ := f.store.OpenLocal("/home/alice/proj")
	paneA := view.Panes[0]
	paneB, _ := f.store.SplitPane(view.ID, paneA, layout.Row)
	f.drain()

	f.store.ClosePane(view.ID, paneB)

	got, _ := f.store.Tab(view.ID)
	if len(got.Panes) != 1 || got.Panes[0] != paneA {
		t.Errorf("expected panes [A], got %v", got.Panes)
	}
	if got.Layout.Kind != "leaf" || got.Layout.PaneID != paneA {
		t.Errorf("expected Leaf(A), got %+v", got.Layout)
	}
}

func TestHandlePaneExit(t *testing.T) {
	f := newFixture(t, Config{})
	view, _ := f.store.OpenLocal("/home/alice/proj")
	f.store.SplitPane(view.ID, view.Panes[0], layout.Row)
	f.drain()

	f.store.HandlePaneExit(view.Panes[0])

	got, _ := f.store.Tab(view.ID)
	if len(got.Panes) != 1 {
		t.Errorf("expected 1 pane after exit, got %d", len(got.Panes))
	}
	// Exit means the shell is already gone; the store must not close it
	// again.
	f.sessions.mu.Lock()
	closed := len(f.sessions.closedPanes)
	f.sessions.mu.Unlock()
	if closed != 0 {
		t.Errorf("expected no backend close for an exited pane, got %d", closed)
	}
}

func TestCloseTab_TearsDownEverything(t *testing.T) {
	f := newFixture(t, Config{})
	view, _ := f.store.OpenRemote(RemoteConfig{Host: "dev", User: "alice"}, "")
	f.store.SplitPane(view.ID, view.Panes[0], layout.Row)
	f.drain()

	if err := f.store.CloseTab(view.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := f.store.Tab(view.ID); ok {
		t.Error("tab should be gone")
	}
	f.sessions.mu.Lock()
	closed := len(f.sessions.closedPanes)
	f.sessions.mu.Unlock()
	if closed != 2 {
		t.Errorf("expected both panes closed, got %d", closed)
	}
	if got := f.sessions.disconnects(); len(got) != 1 {
		t.Errorf("expected one session disconnect, got %v", got)
	}
	if f.store.ActiveTab() == view.ID {
		t.Error("active tab should move off the closed tab")
	}
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	f := newFixture(t, Config{})
	view, _ := f.store.OpenLocal("/home/alice/proj")
	f.store.SplitPane(view.ID, view.Panes[0], layout.Row)
	f.drain()

	ws := f.store.Snapshot()
	if len(ws.Tabs) != 1 {
		t.Fatalf("expected 1 persisted tab, got %d", len(ws.Tabs))
	}
	if ws.Tabs[0].Layout == nil || ws.Tabs[0].Layout.Kind != "split" {
		t.Fatalf("expected split shape, got %+v", ws.Tabs[0].Layout)
	}

	// Restore into a fresh store: sessions open first, then attach to
	// the shape's leaves in order.
	f2 := newFixture(t, Config{})
	f2.store.Restore(ws)

	tabs := f2.store.Tabs()
	if len(tabs) != 2 {
		t.Fatalf("expected launcher + restored tab, got %d", len(tabs))
	}
	restored := tabs[1]
	if len(restored.Panes) != 2 {
		t.Errorf("expected 2 panes restored, got %d", len(restored.Panes))
	}
	if restored.Layout == nil || restored.Layout.Kind != "split" {
		t.Errorf("expected split layout restored, got %+v", restored.Layout)
	}
	if restored.Status.CWD != "/home/alice/proj" {
		t.Errorf("expected path restored, got %q", restored.Status.CWD)
	}
}
