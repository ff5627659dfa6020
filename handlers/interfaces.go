package handlers

import (
	"context"

	"termmux/layout"
	"termmux/persist"
	"termmux/store"
)

// TabStore defines the store operations needed by TabHandler
type TabStore interface {
	Tabs() []store.TabView
	Tab(tabID string) (store.TabView, bool)
	ActiveTab() string
	OpenLocal(cwd string) (store.TabView, error)
	OpenRemote(cfg store.RemoteConfig, cwd string) (store.TabView, error)
	CloseTab(tabID string) error
	SetActiveTab(tabID string) error
	SetPanelView(tabID string, panel store.PanelView) error
	SplitPane(tabID, paneID string, dir layout.Direction) (string, error)
	SplitPaneConnect(tabID, paneID string, dir layout.Direction, cfg store.RemoteConfig) (string, error)
	ClosePane(tabID, paneID string) error
	SetPrimaryPane(tabID, paneID string) error
	SetActivePane(tabID, paneID string) error
	CancelReconnect(tabID string) error
}

// PaneIO defines the session operations needed by the pane IO socket
type PaneIO interface {
	Write(paneID string, data []byte) error
	Resize(paneID string, cols, rows int) error
	AttachSink(paneID string, sink func([]byte))
}

// RecentsStore defines the persistence operations needed by RecentsHandler
type RecentsStore interface {
	ListRecents(ctx context.Context) ([]persist.Recent, error)
	RemoveRecent(ctx context.Context, path string) error
}
