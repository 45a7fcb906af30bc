package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one live streaming connection
type Client struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time
	conn        *websocket.Conn
}

// Hub tracks live streaming connections
type Hub struct {
	clients map[string]*Client
	mu      sync.RWMutex
	logger  *slog.Logger
}

// NewHub creates an empty hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger.With("component", "ws"),
	}
}

// Register adds a connection
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("client registered", "connection_id", c.ID, "remote", c.RemoteAddr, "total", total)
}

// Unregister removes a connection
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	_, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()

	if ok {
		h.logger.Info("client unregistered", "connection_id", id)
	}
}

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IDs returns the ids of all connected clients
func (h *Hub) IDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

// CloseAll sends a going-away close frame to every client and closes the
// sockets. Each connection's read loop then runs its own cleanup.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	deadline := time.Now().Add(time.Second)
	for _, c := range clients {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			h.logger.Debug("close frame not sent", "connection_id", c.ID, "error", err)
		}
		c.conn.Close()
	}
}
