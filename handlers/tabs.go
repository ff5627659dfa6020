package handlers

import (
	"encoding/json"
	"net/http"

	"termmux/layout"
	"termmux/logging"
	"termmux/persist"
	"termmux/pty"
	"termmux/store"

	"github.com/go-chi/chi/v5"
)

// TabHandler exposes the store's tab and pane operations over REST.
type TabHandler struct {
	store TabStore
}

func NewTabHandler(tabStore TabStore) *TabHandler {
	return &TabHandler{store: tabStore}
}

type tabsResponse struct {
	Tabs      []store.TabView `json:"tabs"`
	ActiveTab string          `json:"activeTab"`
}

func (h *TabHandler) ListTabs(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, tabsResponse{
		Tabs:      h.store.Tabs(),
		ActiveTab: h.store.ActiveTab(),
	})
}

func (h *TabHandler) GetTab(w http.ResponseWriter, r *http.Request) {
	tab, ok := h.store.Tab(chi.URLParam(r, "id"))
	if !ok {
		WriteError(w, http.StatusNotFound, "tab not found")
		return
	}
	WriteJSON(w, http.StatusOK, tab)
}

type openLocalRequest struct {
	CWD string `json:"cwd"`
}

func (h *TabHandler) OpenLocal(w http.ResponseWriter, r *http.Request) {
	var req openLocalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tab, err := h.store.OpenLocal(req.CWD)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to open local tab", "error", err)
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, tab)
}

type openRemoteRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	KeyPath  string `json:"keyPath"`
	Password string `json:"password"`
	CWD      string `json:"cwd"`
}

func (h *TabHandler) OpenRemote(w http.ResponseWriter, r *http.Request) {
	var req openRemoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Host == "" {
		WriteError(w, http.StatusBadRequest, "host is required")
		return
	}

	tab, err := h.store.OpenRemote(store.RemoteConfig{
		Host:     req.Host,
		Port:     req.Port,
		User:     req.User,
		KeyPath:  req.KeyPath,
		Password: req.Password,
	}, req.CWD)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to open remote tab", "host", req.Host, "error", err)
		WriteError(w, http.StatusBadGateway, err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, tab)
}

func (h *TabHandler) CloseTab(w http.ResponseWriter, r *http.Request) {
	if err := h.store.CloseTab(chi.URLParam(r, "id")); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TabHandler) ActivateTab(w http.ResponseWriter, r *http.Request) {
	if err := h.store.SetActiveTab(chi.URLParam(r, "id")); err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type panelRequest struct {
	Panel store.PanelView `json:"panel"`
}

func (h *TabHandler) SetPanel(w http.ResponseWriter, r *http.Request) {
	var req panelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch req.Panel {
	case store.PanelTerminal, store.PanelGit, store.PanelFiles:
	default:
		WriteError(w, http.StatusBadRequest, "unknown panel")
		return
	}
	if err := h.store.SetPanelView(chi.URLParam(r, "id"), req.Panel); err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type splitRequest struct {
	Direction layout.Direction   `json:"direction"`
	Connect   bool               `json:"connect"`
	Remote    *openRemoteRequest `json:"remote,omitempty"`
}

func (h *TabHandler) SplitPane(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "id")
	paneID := chi.URLParam(r, "paneID")

	var req splitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Direction != layout.Row && req.Direction != layout.Column {
		WriteError(w, http.StatusBadRequest, "direction must be row or column")
		return
	}

	var newPane string
	var err error
	if req.Connect {
		if req.Remote == nil || req.Remote.Host == "" {
			WriteError(w, http.StatusBadRequest, "remote config is required for a connecting split")
			return
		}
		newPane, err = h.store.SplitPaneConnect(tabID, paneID, req.Direction, store.RemoteConfig{
			Host:     req.Remote.Host,
			Port:     req.Remote.Port,
			User:     req.Remote.User,
			KeyPath:  req.Remote.KeyPath,
			Password: req.Remote.Password,
		})
	} else {
		newPane, err = h.store.SplitPane(tabID, paneID, req.Direction)
	}
	if err != nil {
		ctx := logging.WithTabID(r.Context(), tabID)
		ctx = logging.WithPaneID(ctx, paneID)
		logging.FromContext(ctx).Warn("split failed", "error", err)
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]string{"paneId": newPane})
}

func (h *TabHandler) ClosePane(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ClosePane(chi.URLParam(r, "id"), chi.URLParam(r, "paneID")); err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TabHandler) SetPrimaryPane(w http.ResponseWriter, r *http.Request) {
	if err := h.store.SetPrimaryPane(chi.URLParam(r, "id"), chi.URLParam(r, "paneID")); err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TabHandler) FocusPane(w http.ResponseWriter, r *http.Request) {
	if err := h.store.SetActivePane(chi.URLParam(r, "id"), chi.URLParam(r, "paneID")); err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TabHandler) CancelReconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.store.CancelReconnect(chi.URLParam(r, "id")); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecentsHandler serves the launcher's recent-sessions list.
type RecentsHandler struct {
	recents RecentsStore
}

func NewRecentsHandler(recents RecentsStore) *RecentsHandler {
	return &RecentsHandler{recents: recents}
}

func (h *RecentsHandler) ListRecents(w http.ResponseWriter, r *http.Request) {
	recents, err := h.recents.ListRecents(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to list recents", "error", err)
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recents == nil {
		recents = []persist.Recent{}
	}
	WriteJSON(w, http.StatusOK, recents)
}

func (h *RecentsHandler) RemoveRecent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		WriteError(w, http.StatusBadRequest, "path is required")
		return
	}
	if err := h.recents.RemoveRecent(r.Context(), req.Path); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ShellsHandler lists installed login shells for the settings screen.
type ShellsHandler struct{}

func (h *ShellsHandler) ListShells(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, pty.AvailableShells())
}
