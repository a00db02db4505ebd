// Package dashboard adapts the teacher's consumer/websocket.go hub into a
// dependency-injected collaborator (the teacher's wsHub/bicMapMutex become
// fields on Hub; the websocket upgrader stays a package-level value) that
// broadcasts audit events consumed from internal/auditbus to connected
// operator dashboards.
package dashboard

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/paynet/fep/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client is one connected dashboard, mirroring the teacher's
// WebSocketClient.
type client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
	mu   sync.Mutex
}

// Hub manages connected dashboard clients and broadcasts JSON-encoded
// events to all of them, generalized from the teacher's WebSocketHub
// (which only ever broadcast transaction/metrics/balance messages) to any
// typed Message.
type Hub struct {
	logger *zap.Logger

	mu         sync.RWMutex
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
}

// NewHub constructs a Hub; call Run in its own goroutine to start the event
// loop.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:     logger.With(zap.String("component", "dashboard")),
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
	}
}

// Run drives the hub's event loop until the caller closes stop (the teacher's Run() never returned; this adds a stop
// channel so tests and graceful shutdown can end it).
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("dashboard client connected", zap.Int("total", len(h.clients)))
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("dashboard client disconnected", zap.Int("total", len(h.clients)))
		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ClientCount reports the number of currently connected dashboard clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Message is the envelope every broadcast carries, matching the teacher's
// WebSocketMessage{Type, Data} shape.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Broadcast marshals and fans msg out to every connected client,
// best-effort: a full client send buffer drops that client rather than
// blocking the broadcaster.
func (h *Hub) Broadcast(msgType string, data interface{}) error {
	payload, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("dashboard broadcast channel full, message dropped")
	}
	return nil
}

// BroadcastAuditRecord publishes one audit event to every connected
// dashboard, the wiring point fed by internal/auditbus.Subscriber.
func (h *Hub) BroadcastAuditRecord(rec model.AuditRecord) error {
	return h.Broadcast("audit", rec)
}

// ServeHTTP implements http.Handler so a Hub can be mounted directly on a
// mux (e.g. at "/ws").
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) { h.ServeWS(w, r) }

// ServeWS upgrades an HTTP request to a WebSocket connection and registers
// the resulting client with the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 256), hub: h}
	h.register <- c

	go c.writePump()
	c.readPump()
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
