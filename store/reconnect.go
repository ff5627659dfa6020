package store

import (
	"fmt"
	"math"
	"time"

	"termmux/layout"
)

// RetryPolicy is the backoff schedule for reconnection, independent of
// the timer primitive driving it.
type RetryPolicy struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxAttempts int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{BaseDelay: 5 * time.Second, Multiplier: 1.5, MaxAttempts: 5}
}

// Delay returns the wait before the given zero-based attempt:
// BaseDelay * Multiplier^attempt. No jitter.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt)))
}

// HandleDisconnect reacts to an unexpected remote session drop. For a
// reconnect-enabled tab with no reconnection already in flight it
// starts the retry loop; duplicate signals are no-ops. Tabs with
// reconnection disabled are closed with a notice.
func (s *Store) HandleDisconnect(sessionID string) {
	s.mu.Lock()
	tab := s.tabForSessionLocked(sessionID)
	if tab == nil {
		s.mu.Unlock()
		return
	}
	if tab.Reconnect != nil {
		// Already reconnecting; disconnect signals are not reentrant.
		s.mu.Unlock()
		return
	}
	if !tab.ReconnectEnabled {
		post := s.closeTabLocked(tab, "disconnected")
		title := tab.Title
		s.mu.Unlock()
		s.emit(Notice{Level: "error", Title: "Disconnected", Message: title})
		post()
		return
	}

	tab.Reconnect = &ReconnectState{MaxAttempts: s.cfg.Retry.MaxAttempts}
	tabID := tab.ID
	state := *tab.Reconnect
	s.mu.Unlock()

	s.emit(ReconnectChanged{TabID: tabID, State: &state})
	s.timers.Schedule(reconnectKey(tabID), s.cfg.Retry.Delay(0), func() {
		s.attemptReconnect(tabID)
	})
}

// CancelReconnect aborts a pending reconnection and closes the tab
// immediately.
func (s *Store) CancelReconnect(tabID string) error {
	s.timers.Cancel(reconnectKey(tabID))

	s.mu.Lock()
	tab, ok := s.tabs[tabID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("tab %s not found", tabID)
	}
	if tab.Reconnect == nil {
		s.mu.Unlock()
		return fmt.Errorf("tab %s is not reconnecting", tabID)
	}
	tab.Reconnect = nil
	post := s.closeTabLocked(tab, "reconnection cancelled")
	s.mu.Unlock()

	post()
	return nil
}

// attemptReconnect runs when the backoff timer fires: clear all panes,
// reopen the remote session with the original connection parameters
// and the last known working directory.
func (s *Store) attemptReconnect(tabID string) {
	log := s.deps.Log.With("tab_id", tabID)

	s.mu.Lock()
	tab, ok := s.tabs[tabID]
	if !ok || tab.Reconnect == nil || tab.Remote == nil {
		s.mu.Unlock()
		return
	}
	tab.Reconnect.Attempts++
	tab.Reconnect.LastAttempt = time.Now()
	attempt := tab.Reconnect.Attempts
	state := *tab.Reconnect
	cfg := *tab.Remote
	cwd := tab.Status.CWD

	oldPanes := append([]string(nil), tab.Panes...)
	oldSession := tab.SessionID
	for _, p := range oldPanes {
		delete(s.channelSessions, p)
		delete(s.paneTabs, p)
	}
	tab.Panes = nil
	tab.Layout = nil
	tab.ActivePane = ""
	tab.PrimaryPane = ""
	tab.SessionID = ""
	s.mu.Unlock()

	s.emit(ReconnectChanged{TabID: tabID, State: &state})
	log.Info("reconnecting", "host", cfg.Host, "attempt", attempt)

	for _, p := range oldPanes {
		s.deps.Sessions.ClosePane(p)
	}
	if oldSession != "" {
		s.deps.Sessions.Disconnect(oldSession)
	}

	sessionID, err := s.deps.Sessions.Connect(cfg)
	var paneID string
	if err == nil {
		paneID, err = s.deps.Sessions.OpenRemotePane(sessionID, cwd, s.cfg.Cols, s.cfg.Rows)
		if err != nil {
			s.deps.Sessions.Disconnect(sessionID)
		}
	}

	s.mu.Lock()
	tab, ok = s.tabs[tabID]
	if !ok || tab.Reconnect == nil {
		// Cancelled while connecting.
		s.mu.Unlock()
		if err == nil {
			s.deps.Sessions.Disconnect(sessionID)
		}
		return
	}

	if err == nil {
		tab.SessionID = sessionID
		tab.Panes = []string{paneID}
		tab.ActivePane = paneID
		tab.PrimaryPane = paneID
		tab.Layout = &layout.Leaf{PaneID: paneID}
		tab.Reconnect = nil
		tab.lastProcessed = ""
		s.channelSessions[paneID] = sessionID
		s.paneTabs[paneID] = tabID
		view := tab.view()
		title := tab.Title
		s.mu.Unlock()

		s.emit(ReconnectChanged{TabID: tabID, State: nil})
		s.emit(TabUpdated{Tab: view})
		s.emit(Notice{Level: "info", Title: "Reconnected", Message: title})
		log.Info("reconnected", "host", cfg.Host, "attempt", attempt)
		return
	}

	if attempt < s.cfg.Retry.MaxAttempts {
		delay := s.cfg.Retry.Delay(attempt)
		s.mu.Unlock()

		log.Warn("reconnect attempt failed", "host", cfg.Host, "attempt", attempt, "error", err, "next_in", delay)
		s.timers.Schedule(reconnectKey(tabID), delay, func() {
			s.attemptReconnect(tabID)
		})
		return
	}

	// Out of attempts: notify failure and close the tab.
	tab.Reconnect = nil
	title := tab.Title
	post := s.closeTabLocked(tab, "reconnection failed")
	s.mu.Unlock()

	log.Error("reconnection exhausted", "host", cfg.Host, "attempts", attempt)
	s.emit(Notice{Level: "error", Title: "Reconnection failed", Message: title})
	post()
}

func (s *Store) tabForSessionLocked(sessionID string) *Tab {
	for _, tab := range s.tabs {
		if tab.SessionID == sessionID {
			return tab
		}
	}
	for paneID, sid := range s.channelSessions {
		if sid == sessionID {
			if tabID, ok := s.paneTabs[paneID]; ok {
				return s.tabs[tabID]
			}
		}
	}
	return nil
}
