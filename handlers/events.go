package handlers

import (
	"net/http"
	"sync"
	"time"

	"termmux/gitsvc"
	"termmux/logging"
	"termmux/store"

	"github.com/gorilla/websocket"
)

// wsEvent is the wire form of a store event.
type wsEvent struct {
	Type      string                `json:"type"`
	Tab       *store.TabView        `json:"tab,omitempty"`
	TabID     string                `json:"tabId,omitempty"`
	Reason    string                `json:"reason,omitempty"`
	Status    *store.TabStatus      `json:"status,omitempty"`
	Changes   []gitsvc.Change       `json:"changes,omitempty"`
	Reconnect *store.ReconnectState `json:"reconnect,omitempty"`
	Panel     store.PanelView       `json:"panel,omitempty"`
	Level     string                `json:"level,omitempty"`
	Title     string                `json:"title,omitempty"`
	Message   string                `json:"message,omitempty"`
}

func envelope(e store.Event) wsEvent {
	switch v := e.(type) {
	case store.TabOpened:
		tab := v.Tab
		return wsEvent{Type: "tab_opened", Tab: &tab}
	case store.TabUpdated:
		tab := v.Tab
		return wsEvent{Type: "tab_updated", Tab: &tab}
	case store.TabClosed:
		return wsEvent{Type: "tab_closed", TabID: v.TabID, Reason: v.Reason}
	case store.StatusUpdated:
		status := v.Status
		return wsEvent{Type: "status_updated", TabID: v.TabID, Status: &status, Changes: v.Changes}
	case store.ReconnectChanged:
		return wsEvent{Type: "reconnect_changed", TabID: v.TabID, Reconnect: v.State}
	case store.PanelChanged:
		return wsEvent{Type: "panel_changed", TabID: v.TabID, Panel: v.Panel}
	case store.Notice:
		return wsEvent{Type: "notice", Level: v.Level, Title: v.Title, Message: v.Message}
	default:
		return wsEvent{Type: "unknown"}
	}
}

// EventBroker fans the store's single event stream out to every
// connected UI socket. Slow subscribers are dropped rather than allowed
// to stall the rest.
type EventBroker struct {
	log *logging.Logger

	mu   sync.Mutex
	subs map[chan wsEvent]struct{}
}

func NewEventBroker(log *logging.Logger) *EventBroker {
	if log == nil {
		log = logging.Default()
	}
	return &EventBroker{log: log, subs: make(map[chan wsEvent]struct{})}
}

// Run consumes the store's event channel until it is closed.
func (b *EventBroker) Run(events <-chan store.Event) {
	for e := range events {
		msg := envelope(e)
		b.mu.Lock()
		for sub := range b.subs {
			select {
			case sub <- msg:
			default:
				delete(b.subs, sub)
				close(sub)
				b.log.Warn("event subscriber dropped, too slow")
			}
		}
		b.mu.Unlock()
	}
}

func (b *EventBroker) subscribe() chan wsEvent {
	sub := make(chan wsEvent, 64)
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *EventBroker) unsubscribe(sub chan wsEvent) {
	b.mu.Lock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub)
	}
	b.mu.Unlock()
}

// EventsHandler streams store events to the UI over a WebSocket.
type EventsHandler struct {
	broker *EventBroker
	log    *logging.Logger
}

func NewEventsHandler(broker *EventBroker, log *logging.Logger) *EventsHandler {
	if log == nil {
		log = logging.Default()
	}
	return &EventsHandler{broker: broker, log: log}
}

func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	responseHeader := http.Header{}
	if websocket.Subprotocols(r) != nil {
		responseHeader.Set("Sec-WebSocket-Protocol", "bearer")
	}

	conn, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.broker.subscribe()
	defer h.broker.unsubscribe(sub)

	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() { closeOnce.Do(func() { close(done) }) }
	var wsMu sync.Mutex

	// Drain client frames to observe closes and keep pongs flowing.
	go func() {
		conn.SetReadLimit(maxMessageSize)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeDone()
				return
			}
		}
	}()

	go pingLoop(conn, done, &wsMu)

	for {
		select {
		case <-done:
			return
		case msg, ok := <-sub:
			if !ok {
				return
			}
			wsMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteJSON(msg)
			wsMu.Unlock()
			if err != nil {
				closeDone()
				return
			}
		}
	}
}

func pingLoop(conn *websocket.Conn, done chan struct{}, wsMu *sync.Mutex) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			wsMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			wsMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
