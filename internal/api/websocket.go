package api

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sentinelsec/sentinel/internal/event"
)

// newUpgrader creates a WebSocket upgrader. When allowAllOrigins is false,
// only same-origin requests are accepted (Origin header must match Host).
func newUpgrader(allowAllOrigins bool) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if allowAllOrigins {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients don't send Origin
			}
			return strings.Contains(origin, r.Host)
		},
	}
}

// wsClient is one connected subscriber. Envelopes are buffered per client;
// a client that cannot keep up loses events rather than stalling dispatch.
type wsClient struct {
	conn        *websocket.Conn
	send        chan event.Envelope
	done        chan struct{}
	unsubscribe func()
}

// WebSocketHub bridges the event orchestrator onto WebSocket connections.
// Each connection subscribes to exactly one session's event stream.
type WebSocketHub struct {
	mu       sync.RWMutex
	clients  map[*wsClient]bool
	events   *event.Orchestrator
	upgrader websocket.Upgrader
	logger   *slog.Logger
	closed   bool
}

// NewWebSocketHub creates a new WebSocket hub.
func NewWebSocketHub(events *event.Orchestrator, logger *slog.Logger, allowAllOrigins bool) *WebSocketHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHub{
		clients:  make(map[*wsClient]bool),
		events:   events,
		upgrader: newUpgrader(allowAllOrigins),
		logger:   logger.With("component", "api.WebSocketHub"),
	}
}

// Close shuts down the hub and all connections.
func (h *WebSocketHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for client := range h.clients {
		client.unsubscribe()
		close(client.done)
		_ = client.conn.Close()
		delete(h.clients, client)
	}
}

// HandleWebSocket upgrades the connection and streams the session's events.
// The session is selected with the session_id query parameter.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'session_id' is required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan event.Envelope, 64),
		done: make(chan struct{}),
	}
	client.unsubscribe = h.events.Subscribe(sessionID, func(env event.Envelope) {
		select {
		case client.send <- env:
		default:
			// slow client, drop
		}
	})

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		client.unsubscribe()
		_ = conn.Close()
		return
	}
	h.clients[client] = true
	h.mu.Unlock()

	h.logger.Debug("websocket client connected",
		"remote", conn.RemoteAddr(),
		"session_id", sessionID,
	)

	// Replay history so a late subscriber sees the session so far.
	for _, env := range h.events.History(sessionID) {
		select {
		case client.send <- env:
		default:
		}
	}

	go h.writePump(client)
	go h.readPump(client, sessionID)
}

// writePump drains the client's buffer onto the wire.
func (h *WebSocketHub) writePump(client *wsClient) {
	for {
		select {
		case env := <-client.send:
			if err := client.conn.WriteJSON(env); err != nil {
				h.logger.Debug("failed to write to websocket client", "error", err)
				h.drop(client)
				return
			}
		case <-client.done:
			return
		}
	}
}

// readPump keeps the connection alive and handles client disconnect.
func (h *WebSocketHub) readPump(client *wsClient, sessionID string) {
	defer func() {
		h.drop(client)
		h.logger.Debug("websocket client disconnected",
			"remote", client.conn.RemoteAddr(),
			"session_id", sessionID,
		)
	}()

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WebSocketHub) drop(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	client.unsubscribe()
	close(client.done)
	_ = client.conn.Close()
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
