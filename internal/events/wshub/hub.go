// Package wshub streams supervisor events to WebSocket subscribers,
// adapted from the teacher's internal/server WSHub/ws_handlers pattern
// (per-connection write mutex, marshal-once broadcast, permissive
// CheckOrigin for a local single-operator deployment).
//
// This is the concrete realization of spec section 9's "UI callbacks ...
// become observer channels": the supervisor publishes to an events.Bus,
// and Hub is one subscriber that fans those events out over WebSocket.
package wshub

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/CK6170/cartridge-scan-supervisor/internal/events"
)

// wsMessage is the wire envelope sent to every connected client, mirroring
// the teacher's WSMessage{Type, Data}.
type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// client wraps a connection with a write mutex; gorilla/websocket forbids
// concurrent writes on one *websocket.Conn.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// Hub is a lightweight broadcast hub for the operator UI's event stream.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Single-operator local deployment; restrict if ever exposed
		// beyond localhost.
		return true
	},
}

// ServeHTTP upgrades the request to a WebSocket and streams events until
// the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.mu.Lock()
			delete(h.clients, c)
			h.mu.Unlock()
			_ = conn.Close()
			return
		}
	}
}

// Run subscribes to bus and forwards every event to all connected clients
// until ctx's done channel (passed indirectly via stop) closes.
func (h *Hub) Run(bus *events.Bus, stop <-chan struct{}) {
	ch, token := bus.Subscribe(64)
	defer bus.Unsubscribe(token)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(ev)
		case <-stop:
			return
		}
	}
}

func (h *Hub) broadcast(ev events.Event) {
	msg := wsMessage{Type: ev.Kind.String(), Data: ev}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		_ = c.send(b)
	}
}
