package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"market-insight-lab/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 8
)

// Hub fans dashboard updates out to the websocket clients of each session.
type Hub struct {
	metrics *observability.Metrics
	logger  zerolog.Logger

	mu      sync.Mutex
	clients map[string]map[*client]struct{}
}

// NewHub creates an empty hub.
func NewHub(metrics *observability.Metrics, logger zerolog.Logger) *Hub {
	return &Hub{
		metrics: metrics,
		logger:  logger,
		clients: make(map[string]map[*client]struct{}),
	}
}

type client struct {
	hub       *Hub
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
	closed    bool // guarded by hub.mu
}

// Attach registers conn for sessionID and starts its pumps. initial, when
// non-nil, is the first message the client receives.
func (h *Hub) Attach(sessionID string, conn *websocket.Conn, initial []byte) {
	c := &client{
		hub:       h,
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
	}
	if initial != nil {
		c.send <- initial
	}

	h.mu.Lock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = make(map[*client]struct{})
	}
	h.clients[sessionID][c] = struct{}{}
	h.mu.Unlock()

	h.metrics.ClientConnected()
	h.logger.Debug().Str("session_id", sessionID).Str("remote", conn.RemoteAddr().String()).Msg("websocket client attached")

	go c.writePump()
	go c.readPump()
}

// Broadcast queues msg for every client of sessionID and returns how many
// accepted it. A client whose buffer is full misses the message.
func (h *Hub) Broadcast(sessionID string, msg []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for c := range h.clients[sessionID] {
		select {
		case c.send <- msg:
			delivered++
		default:
			h.logger.Warn().Str("session_id", sessionID).Msg("websocket client buffer full, dropping update")
		}
	}
	return delivered
}

// Len returns the number of clients attached to sessionID.
func (h *Hub) Len(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[sessionID])
}

// CloseSession disconnects every client of sessionID.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[sessionID] {
		h.removeLocked(c)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)

	set := h.clients[c.sessionID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.sessionID)
	}
	h.metrics.ClientDisconnected()
}

// readPump only handles control frames; client messages are ignored.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
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
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.remove(c)
				return
			}
		}
	}
}
