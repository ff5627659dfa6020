package handlers

import (
	"net/http"
	"sync"
	"time"

	"termmux/logging"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 65536
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	Subprotocols: []string{"bearer"},
}

// WSMessage is the frame format of the pane IO socket.
type WSMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

// PaneIOHandler relays raw bytes between a pane's shell and the UI's
// terminal renderer.
type PaneIOHandler struct {
	sessions PaneIO
	log      *logging.Logger
}

func NewPaneIOHandler(sessions PaneIO, log *logging.Logger) *PaneIOHandler {
	if log == nil {
		log = logging.Default()
	}
	return &PaneIOHandler{sessions: sessions, log: log}
}

func (h *PaneIOHandler) HandlePane(w http.ResponseWriter, r *http.Request) {
	paneID := chi.URLParam(r, "paneID")
	log := h.log.With("pane_id", paneID)

	responseHeader := http.Header{}
	if websocket.Subprotocols(r) != nil {
		responseHeader.Set("Sec-WebSocket-Protocol", "bearer")
	}

	conn, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		log.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() { closeOnce.Do(func() { close(done) }) }
	var wsMu sync.Mutex

	// Shell output is pushed from the session reader goroutine; the
	// sink serializes writes onto this socket.
	h.sessions.AttachSink(paneID, func(data []byte) {
		msg := WSMessage{Type: "output", Data: string(data)}
		wsMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteJSON(msg)
		wsMu.Unlock()
		if err != nil {
			closeDone()
		}
	})
	defer h.sessions.AttachSink(paneID, nil)

	go pingLoop(conn, done, &wsMu)

	go func() {
		h.readFromClient(conn, paneID, closeDone)
	}()

	<-done
	log.Debug("pane socket closed")
}

func (h *PaneIOHandler) readFromClient(conn *websocket.Conn, paneID string, closeDone func()) {
	defer closeDone()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("pane socket read failed", "pane_id", paneID, "error", err)
			}
			return
		}

		switch msg.Type {
		case "input":
			if err := h.sessions.Write(paneID, []byte(msg.Data)); err != nil {
				h.log.Warn("pane write failed", "pane_id", paneID, "error", err)
				return
			}

		case "resize":
			if msg.Cols > 0 && msg.Rows > 0 {
				if err := h.sessions.Resize(paneID, msg.Cols, msg.Rows); err != nil {
					h.log.Warn("pane resize failed", "pane_id", paneID, "error", err)
				}
			}
		}
	}
}
