package store

import (
	"context"
	"errors"
	"time"

	"termmux/gitsvc"
	"termmux/pathutil"
)

const queryTimeout = 15 * time.Second

// ReportDirectory feeds a raw directory string announced by a pane's
// shell into the sync pipeline. Reports are debounced per tab; only the
// most recent report inside the quiescence window is acted on.
func (s *Store) ReportDirectory(tabID, rawDir, paneID string) {
	s.mu.Lock()
	tab, ok := s.tabs[tabID]
	if !ok {
		s.mu.Unlock()
		return
	}
	// On remote tabs only the primary pane's session is authoritative.
	if tab.Kind == TabRemote && paneID != tab.PrimaryPane {
		s.mu.Unlock()
		return
	}
	rep := dirReport{raw: rawDir, pane: paneID, at: time.Now()}
	tab.lastReport = rep
	s.mu.Unlock()

	s.timers.Schedule(syncKey(tabID), s.cfg.DebounceWindow, func() {
		s.processReport(tabID, rep)
	})
}

// processReport runs after the quiescence window. Every suspension
// point below re-validates the captured report against the tab's
// current latest-report cell: the debounce only guards dispatch, not
// completion of in-flight queries.
func (s *Store) processReport(tabID string, rep dirReport) {
	log := s.deps.Log.With("tab_id", tabID)

	s.mu.Lock()
	tab, ok := s.tabs[tabID]
	if !ok || tab.lastReport != rep {
		s.mu.Unlock()
		return
	}
	kind := tab.Kind
	sessionID := s.channelSessions[rep.pane]
	s.mu.Unlock()

	raw := pathutil.FromOSC7(rep.raw)

	var normalized string
	var err error
	if kind == TabRemote {
		var home string
		home, err = s.deps.Sessions.HomeDir(sessionID)
		if err == nil {
			normalized, err = pathutil.ResolveRemote(raw, home)
		}
	} else {
		normalized, err = s.deps.Resolver.Abs(raw)
	}
	if err != nil {
		log.Warn("directory normalization failed", "raw", raw, "error", err)
		return
	}

	s.mu.Lock()
	tab, ok = s.tabs[tabID]
	if !ok || tab.lastReport != rep {
		s.mu.Unlock()
		return
	}
	if normalized == tab.lastProcessed {
		// Already processed, including directories confirmed not to be
		// repositories. No query.
		s.mu.Unlock()
		return
	}
	gitSession := ""
	if kind == TabRemote {
		gitSession = sessionID
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	status, statusErr := s.deps.Git.Status(ctx, gitSession, normalized)
	var changes []gitsvc.Change
	if statusErr == nil {
		var changesErr error
		changes, changesErr = s.deps.Git.Changes(ctx, gitSession, normalized)
		if changesErr != nil {
			log.Warn("changed-files query failed", "dir", normalized, "error", changesErr)
		}
	}

	s.mu.Lock()
	tab, ok = s.tabs[tabID]
	if !ok || tab.lastReport != rep {
		// A newer report won the race while the query was in flight;
		// its result must not be overwritten by this stale one.
		s.mu.Unlock()
		return
	}

	tab.lastProcessed = normalized
	tab.Status.CWD = normalized

	var panelFellBack bool
	if statusErr != nil {
		if errors.Is(statusErr, gitsvc.ErrNotRepo) {
			log.Debug("not a repository", "dir", normalized)
			tab.Status.HelperOK = true
		} else {
			log.Warn("git status query failed", "dir", normalized, "error", statusErr)
			tab.Status.HelperOK = false
		}
		tab.Status.Git = notRepoStatus()
		if tab.Panel == PanelGit {
			tab.Panel = PanelTerminal
			panelFellBack = true
		}
	} else {
		tab.Status.Git = status
		tab.Status.HelperOK = true
	}

	view := tab.Status
	s.mu.Unlock()

	if panelFellBack {
		s.emit(PanelChanged{TabID: tabID, Panel: PanelTerminal})
	}
	s.emit(StatusUpdated{TabID: tabID, Status: view, Changes: changes})
}
