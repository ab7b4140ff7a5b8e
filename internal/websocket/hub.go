package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mahesa/swara/internal/diagnostics"
	"github.com/mahesa/swara/internal/engine"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Feed clients only send small
	// control messages.
	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The feed is token-gated upstream; origin is not the boundary.
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub maintains the set of connected feed clients and broadcasts playback
// state and diagnostics snapshots to them.
type Hub struct {
	// Registered clients.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	// Last broadcast state, replayed to newly connected clients.
	lastState   engine.StateSnapshot
	hasState    bool
	diagnostics *diagnostics.Recorder

	logger *zap.Logger
}

// NewHub creates a new feed hub. diag may be nil when the diagnostics feed
// is disabled.
func NewHub(diag *diagnostics.Recorder, logger *zap.Logger) *Hub {
	return &Hub{
		clients:     make(map[string]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		diagnostics: diag,
		logger:      logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if old, ok := h.clients[client.clientID]; ok {
				close(old.send)
			}
			h.clients[client.clientID] = client
			state, hasState := h.lastState, h.hasState
			h.mu.Unlock()
			h.logger.Info("Feed client registered", zap.String("clientID", client.clientID))

			if hasState {
				client.enqueue(CreateStateMessage(state))
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.clientID]; ok && current == client {
				delete(h.clients, client.clientID)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("Feed client unregistered", zap.String("clientID", client.clientID))
		}
	}
}

// BroadcastState pushes a state snapshot to every connected client.
func (h *Hub) BroadcastState(state engine.StateSnapshot) {
	payload, err := json.Marshal(CreateStateMessage(state))
	if err != nil {
		h.logger.Error("Failed to marshal state update", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.lastState = state
	h.hasState = true
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.enqueueRaw(WriteData{Type: websocket.TextMessage, Payload: payload})
	}
}

// BroadcastDiagnostics pushes the current diagnostics counters to every
// connected client.
func (h *Hub) BroadcastDiagnostics() {
	if h.diagnostics == nil {
		return
	}
	payload, err := json.Marshal(CreateDiagnosticsMessage(h.diagnostics.TakeSnapshot()))
	if err != nil {
		h.logger.Error("Failed to marshal diagnostics", zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.enqueueRaw(WriteData{Type: websocket.TextMessage, Payload: payload})
	}
}

// ClientCount returns the number of connected feed clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SendTo delivers a payload to one client.
func (h *Hub) SendTo(clientID string, payload []byte) error {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("feed client %s not connected", clientID)
	}
	client.enqueueRaw(WriteData{Type: websocket.TextMessage, Payload: payload})
	return nil
}

type WriteData struct {
	// Type is the websocket frame type, websocket.TextMessage or
	// websocket.BinaryMessage.
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	// Authenticated id for this feed consumer.
	clientID string

	validator *MessageValidator

	logger *zap.Logger
}

// ServeFeed upgrades an authenticated request into a feed client connection.
func ServeFeed(hub *Hub, c echo.Context, clientID string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan WriteData, 256),
		clientID:  clientID,
		validator: NewMessageValidator(),
		logger:    logger,
	}

	client.hub.register <- client

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

func (c *Client) enqueue(msg interface{}) {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to marshal feed message", zap.Error(err))
		return
	}
	c.enqueueRaw(WriteData{Type: websocket.TextMessage, Payload: payload})
}

func (c *Client) enqueueRaw(data WriteData) {
	select {
	case c.send <- data:
	default:
		c.logger.Warn("Feed client send buffer full, dropping message",
			zap.String("clientID", c.clientID))
	}
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
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

// processMessage processes incoming control messages from a feed client
func (c *Client) processMessage(message []byte) {
	parsed, err := c.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Invalid feed message",
			zap.String("clientID", c.clientID),
			zap.Error(err))
		c.enqueue(CreateErrorMessage("invalid_message", err.Error()))
		return
	}

	switch msg := parsed.(type) {
	case *PingMessage:
		c.enqueue(CreatePongMessage(msg.Data))

	case *SnapshotRequestMessage:
		c.hub.mu.RLock()
		state, hasState := c.hub.lastState, c.hub.hasState
		c.hub.mu.RUnlock()
		if hasState {
			c.enqueue(CreateStateMessage(state))
		}
		if msg.IncludeDiagnostics && c.hub.diagnostics != nil {
			c.enqueue(CreateDiagnosticsMessage(c.hub.diagnostics.TakeSnapshot()))
		}
	}
}
