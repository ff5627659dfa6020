package store

import "termmux/gitsvc"

// Event is a change notification emitted by the store. The UI surface
// type-switches over the concrete variants; there is no callback path
// back into the store from event consumers.
type Event interface {
	event()
}

type TabOpened struct {
	Tab TabView
}

type TabClosed struct {
	TabID  string
	Reason string
}

// TabUpdated covers pane additions and removals, layout changes and
// active/primary pane moves.
type TabUpdated struct {
	Tab TabView
}

type StatusUpdated struct {
	TabID   string
	Status  TabStatus
	Changes []gitsvc.Change
}

type ReconnectChanged struct {
	TabID string
	State *ReconnectState // nil = no longer reconnecting
}

type PanelChanged struct {
	TabID string
	Panel PanelView
}

// Notice is a user-visible notification.
type Notice struct {
	Level   string // "info", "error"
	Title   string
	Message string
}

func (TabOpened) event()        {}
func (TabClosed) event()        {}
func (TabUpdated) event()       {}
func (StatusUpdated) event()    {}
func (ReconnectChanged) event() {}
func (PanelChanged) event()     {}
func (Notice) event()           {}
