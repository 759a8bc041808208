// Package websocket streams engine events to connected clients.
package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lerian-entity-resolver/internal/engine"
	"lerian-entity-resolver/internal/logging"
	"lerian-entity-resolver/internal/types"
)

// Control events sent by the stream itself
const (
	EventConnected engine.EventType = "connection"
	EventHeartbeat engine.EventType = "heartbeat"
	EventPong      engine.EventType = "pong"
)

// Client represents a WebSocket client watching one user
type Client struct {
	ID     string
	UserID types.UserID
	conn   *websocket.Conn
	send   chan engine.Event
	hub    *Hub
	closed bool
	mu     sync.Mutex
}

// SafeClose closes the client's send channel once
func (c *Client) SafeClose() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.send)
		c.closed = true
	}
}

// Hub manages WebSocket connections and fans events out to them
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan engine.Event
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logging.ComponentLogger
}

// NewHub creates a new WebSocket hub
func NewHub(logger logging.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan engine.Event, 256),
		done:       make(chan struct{}),
		logger:     logging.NewComponentLogger(logger, "websocket"),
	}
}

// Run starts the hub's main loop; it returns when ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		h.mutex.Lock()
		for client := range h.clients {
			h.removeClientUnsafe(client)
		}
		h.mutex.Unlock()
	}()

	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("WebSocket client registered", "client_id", client.ID, "user_id", client.UserID.String(), "total", total)

			welcome := engine.Event{
				Type:      EventConnected,
				UserID:    client.UserID,
				Timestamp: time.Now(),
				Data:      map[string]interface{}{"client_id": client.ID},
			}
			select {
			case client.send <- welcome:
			default:
				h.removeClient(client)
			}

		case client := <-h.unregister:
			h.removeClient(client)

		case event := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				if client.UserID != event.UserID {
					continue
				}
				select {
				case client.send <- event:
				default:
					// slow consumer
					h.removeClientUnsafe(client)
				}
			}
			h.mutex.Unlock()

		case <-ctx.Done():
			h.logger.Info("WebSocket hub shutting down")
			return
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.removeClientUnsafe(client)
}

// removeClientUnsafe assumes the lock is held
func (h *Hub) removeClientUnsafe(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.SafeClose()
		_ = client.conn.Close()
		h.logger.Info("WebSocket client disconnected", "client_id", client.ID, "total", len(h.clients))
	}
}

// RegisterClient registers a client; it returns false once the hub stopped
func (h *Hub) RegisterClient(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// UnregisterClient unregisters a client from the hub
func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish queues an event for the clients of its user without blocking
func (h *Hub) Publish(event engine.Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("Broadcast channel full, dropping event", "type", string(event.Type), "user_id", event.UserID.String())
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// NewClient creates a new WebSocket client
func NewClient(id string, userID types.UserID, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		conn:   conn,
		send:   make(chan engine.Event, 64),
		hub:    hub,
	}
}

// WritePump pumps events from the hub to the connection
func (c *Client) WritePump(pingInterval, writeTimeout time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(engine.Event{Type: EventHeartbeat, UserID: c.UserID, Timestamp: time.Now()}); err != nil {
				return
			}
		}
	}
}

// ReadPump reads client messages until the connection drops
func (c *Client) ReadPump(maxMessageSize int64, readTimeout time.Duration) {
	defer func() {
		c.hub.UnregisterClient(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		var msg map[string]interface{}
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket read failed", "client_id", c.ID, "error", err.Error())
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		c.handleClientMessage(msg)
	}
}

// handleClientMessage answers pings; other messages are ignored
func (c *Client) handleClientMessage(msg map[string]interface{}) {
	if msgType, _ := msg["type"].(string); msgType != "ping" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- engine.Event{Type: EventPong, UserID: c.UserID, Timestamp: time.Now()}:
	default:
	}
}
