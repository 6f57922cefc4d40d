package realtime

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cuonglevan23/taskflow-backend-sub003/pkg/logger"
	"github.com/cuonglevan23/taskflow-backend-sub003/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 16 // 64 KiB; clients only send small control frames

	defaultBufferSize = 64
)

// Message represents a JSON payload delivered to a connected client.
type Message struct {
	Event string         `json:"event"`
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
}

type controlMessage struct {
	Action string `json:"action"`
}

// ConnectionListener receives transport-level lifecycle events. Each handler
// is invoked from the goroutine serving that connection, so implementations
// must be safe for concurrent use across sessions. OnConnect runs before the
// connection starts receiving pushes; returning an error rejects the connect.
// OnReady fires once the session can receive pushes.
type ConnectionListener interface {
	OnConnect(ctx context.Context, userID, sessionID, deviceInfo string) error
	OnReady(ctx context.Context, userID, sessionID string)
	OnDisconnect(ctx context.Context, sessionID string)
	OnHeartbeat(ctx context.Context, sessionID string)
}

// Hub owns the websocket connections of this instance, keyed by session ID.
// It assigns the opaque session identifier at upgrade time and reports
// lifecycle transitions to the registered listener.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*connection
	byUser   map[string]map[string]*connection
	listener ConnectionListener
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHub constructs a Hub with no listener attached.
func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]*connection),
		byUser:   make(map[string]map[string]*connection),
		log:      logger.WithModule("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Allow same-origin requests and explicit localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
	}
}

// RegisterListener subscribes the lifecycle handler for connect, disconnect
// and heartbeat events. It must be called before Serve.
func (h *Hub) RegisterListener(listener ConnectionListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listener = listener
}

// Serve upgrades the HTTP connection to a WebSocket, registers the session and
// blocks until the connection closes. The supplied userID must already be
// authenticated by the caller.
func (h *Hub) Serve(userID, deviceInfo string, w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(userID) == "" {
		h.log.Warn("rejecting connect without user identity")
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sessionID := uuid.NewString()
	client := &connection{
		hub:       h,
		socket:    socket,
		userID:    userID,
		sessionID: sessionID,
		send:      make(chan Message, defaultBufferSize),
	}

	listener := h.currentListener()
	if listener != nil {
		if err := listener.OnConnect(r.Context(), userID, sessionID, deviceInfo); err != nil {
			h.log.Warn("connect rejected",
				zap.String("user_id", userID),
				zap.String("session_id", sessionID),
				zap.Error(err))
			_ = socket.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "connect rejected"),
				time.Now().Add(writeWait))
			_ = socket.Close()
			return
		}
	}

	h.register(client)
	metrics.ActiveConnections.Inc()

	client.enqueue(Message{Event: "connected", Meta: map[string]any{"session_id": sessionID}})

	go client.writeLoop()
	if listener != nil {
		// Run off the read path: a slow backlog replay must not delay the
		// first read deadline.
		go listener.OnReady(context.Background(), userID, sessionID)
	}
	client.readLoop()
}

// PushToSession delivers a message to a single session. It reports false when
// the session is not connected to this instance or its buffer is full.
func (h *Hub) PushToSession(sessionID string, message Message) bool {
	h.mu.RLock()
	client := h.sessions[sessionID]
	h.mu.RUnlock()

	if client == nil {
		return false
	}
	return client.enqueue(message)
}

// PushToUser delivers a message to every session of the user connected to this
// instance, returning the number of sessions reached. The session set is
// snapshotted before iterating so a concurrent disconnect cannot corrupt the
// fan-out.
func (h *Hub) PushToUser(userID string, message Message) int {
	h.mu.RLock()
	targets := make([]*connection, 0, len(h.byUser[userID]))
	for _, client := range h.byUser[userID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, client := range targets {
		if client.enqueue(message) {
			delivered++
		}
	}
	return delivered
}

// SessionCount returns the number of connections currently registered.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) currentListener() ConnectionListener {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.listener
}

func (h *Hub) register(client *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sessions[client.sessionID] = client
	if h.byUser[client.userID] == nil {
		h.byUser[client.userID] = make(map[string]*connection)
	}
	h.byUser[client.userID][client.sessionID] = client
}

func (h *Hub) unregister(client *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[client.sessionID]; !ok {
		return
	}
	delete(h.sessions, client.sessionID)

	if userClients := h.byUser[client.userID]; userClients != nil {
		delete(userClients, client.sessionID)
		if len(userClients) == 0 {
			delete(h.byUser, client.userID)
		}
	}
}

type connection struct {
	hub       *Hub
	socket    *websocket.Conn
	userID    string
	sessionID string
	send      chan Message
	once      sync.Once

	sendMu sync.Mutex
	closed bool
}

// enqueue buffers a message for delivery, dropping it when the client cannot
// keep up or has gone away. Dropped pushes are recovered through the sync
// protocol.
func (c *connection) enqueue(message Message) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- message:
		return true
	default:
		c.hub.log.Warn("dropping push for slow client",
			zap.String("user_id", c.userID),
			zap.String("session_id", c.sessionID))
		return false
	}
}

func (c *connection) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		c.notifyHeartbeat()
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("unexpected close",
					zap.String("user_id", c.userID),
					zap.String("session_id", c.sessionID),
					zap.Error(err))
			}
			break
		}

		if len(payload) == 0 {
			continue
		}

		var ctrl controlMessage
		if err := json.Unmarshal(payload, &ctrl); err != nil {
			c.hub.log.Debug("invalid control payload",
				zap.String("session_id", c.sessionID),
				zap.Error(err))
			continue
		}

		switch strings.ToLower(strings.TrimSpace(ctrl.Action)) {
		case "ping":
			// Application-level heartbeat for clients without pong support.
			c.notifyHeartbeat()
			c.enqueue(Message{Event: "pong"})
		default:
			c.hub.log.Debug("unsupported control action",
				zap.String("action", ctrl.Action),
				zap.String("session_id", c.sessionID))
		}
	}
}

func (c *connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) notifyHeartbeat() {
	if listener := c.hub.currentListener(); listener != nil {
		listener.OnHeartbeat(context.Background(), c.sessionID)
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		c.hub.unregister(c)
		metrics.ActiveConnections.Dec()
		if listener := c.hub.currentListener(); listener != nil {
			listener.OnDisconnect(context.Background(), c.sessionID)
		}
		c.sendMu.Lock()
		c.closed = true
		close(c.send)
		c.sendMu.Unlock()
		_ = c.socket.Close()
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
