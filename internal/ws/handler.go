// Package ws carries the frame/emotion streaming protocol over WebSocket.
package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"neurolens/internal/stream"
)

// FrameHandler processes one frame for a connection
type FrameHandler interface {
	Handle(ctx context.Context, connectionID string, ev stream.FrameEvent) stream.EmotionEvent
}

// SessionCleaner drops a connection's sessions on disconnect
type SessionCleaner interface {
	DeleteAllForConnection(connectionID string) int
}

// Config tunes the WebSocket endpoint
type Config struct {
	ReadLimit      int64
	PongWait       time.Duration
	PingPeriod     time.Duration
	WriteWait      time.Duration
	AllowedOrigins []string // empty or "*" allows any origin
}

func (c *Config) applyDefaults() {
	if c.ReadLimit <= 0 {
		c.ReadLimit = 16 << 20
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
}

// Handler upgrades requests and serves one streaming connection per request
type Handler struct {
	hub      *Hub
	frames   FrameHandler
	sessions SessionCleaner
	config   Config
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	closing bool
	active  sync.WaitGroup
}

// NewHandler creates a WebSocket handler
func NewHandler(hub *Hub, frames FrameHandler, sessions SessionCleaner, config Config, logger *slog.Logger) *Handler {
	config.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		hub:      hub,
		frames:   frames,
		sessions: sessions,
		config:   config,
		logger:   logger.With("component", "ws"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  64 * 1024, // base64 frames
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
		// Browser extensions send chrome-extension://<id>; allow by scheme
		if u, err := url.Parse(origin); err == nil && strings.EqualFold(allowed, u.Scheme+"://*") {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request and runs the connection until it closes
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return
	}
	h.active.Add(1)
	h.mu.Unlock()
	defer h.active.Done()

	client := &Client{
		ID:          uuid.NewString(),
		RemoteAddr:  r.RemoteAddr,
		ConnectedAt: time.Now(),
		conn:        conn,
	}
	h.hub.Register(client)
	h.serve(r.Context(), client)
}

// Shutdown refuses new connections, closes the live ones and waits until
// every connection goroutine has finished its cleanup or ctx is done.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	h.hub.CloseAll()

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// serve reads, processes and answers frames strictly one at a time. When the
// read loop ends the connection's sessions are dropped before returning.
func (h *Handler) serve(ctx context.Context, c *Client) {
	done := make(chan struct{})
	defer func() {
		close(done)
		h.hub.Unregister(c.ID)
		removed := h.sessions.DeleteAllForConnection(c.ID)
		c.conn.Close()
		h.logger.Info("client disconnected", "connection_id", c.ID, "sessions_removed", removed)
	}()

	conn := c.conn
	conn.SetReadLimit(h.config.ReadLimit)
	conn.SetReadDeadline(time.Now().Add(h.config.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.config.PongWait))
	})

	go h.pingLoop(conn, done)

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("read error", "connection_id", c.ID, "error", err)
			}
			return
		}
		// Any inbound traffic proves liveness
		conn.SetReadDeadline(time.Now().Add(h.config.PongWait))

		reply, ok := h.dispatch(ctx, c.ID, messageType, payload)
		if !ok {
			continue
		}

		data, err := encodeEmotion(messageType, reply)
		if err != nil {
			h.logger.Error("encode reply failed", "connection_id", c.ID, "error", err)
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(h.config.WriteWait))
		if err := conn.WriteMessage(messageType, data); err != nil {
			h.logger.Warn("write error", "connection_id", c.ID, "error", err)
			return
		}
	}
}

// dispatch decodes one message and runs it through the frame handler. It
// reports false for messages that need no reply.
func (h *Handler) dispatch(ctx context.Context, connectionID string, messageType int, payload []byte) (stream.EmotionEvent, bool) {
	msg, err := decodeFrame(messageType, payload)
	if err != nil {
		h.logger.Debug("bad message", "connection_id", connectionID, "error", err)
		return stream.Degenerate(stream.FrameEvent{}, fmt.Errorf("%w: %v", stream.ErrInvalidRequest, err)), true
	}
	if msg.Event != stream.EventFrame {
		h.logger.Debug("ignoring event", "connection_id", connectionID, "event", msg.Event)
		return stream.EmotionEvent{}, false
	}
	return h.frames.Handle(ctx, connectionID, msg.Data), true
}

func (h *Handler) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(h.config.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(h.config.WriteWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				h.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}
