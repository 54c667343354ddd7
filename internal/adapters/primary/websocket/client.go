package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lorrc/carenet-sync/internal/core/domain"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 1024
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	Hub *Hub

	// The websocket connection.
	Conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan domain.ScreenUpdate

	// ViewerID is the authenticated viewer owning this connection.
	ViewerID string

	// subscriptions holds the screen IDs this client watches.
	subscriptions map[string]bool
	mu            sync.RWMutex

	// sendMu guards Send against a send racing its close.
	sendMu sync.Mutex
	closed bool

	logger *slog.Logger
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, viewerID string, logger *slog.Logger) *Client {
	return &Client{
		Hub:           hub,
		Conn:          conn,
		Send:          make(chan domain.ScreenUpdate, hub.cfg.SendBuffer),
		ViewerID:      viewerID,
		subscriptions: make(map[string]bool),
		logger:        logger.With("viewer_id", viewerID),
	}
}

// CloseSend safely closes the Send channel exactly once
func (c *Client) CloseSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (c *Client) isClosed() bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.closed
}

// trySend queues update without blocking. It reports false when the buffer
// is full; sends after close are dropped and reported as delivered.
func (c *Client) trySend(update domain.ScreenUpdate) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.Send <- update:
		return true
	default:
		return false
	}
}

func (c *Client) sendControl(kind domain.UpdateType, screenID string, payload interface{}) {
	if !c.trySend(domain.ScreenUpdate{Type: kind, ScreenID: screenID, Payload: payload}) {
		c.logger.Debug("dropping control message", "type", kind)
	}
}

// AddSubscription records a watched screen
func (c *Client) AddSubscription(screenID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[screenID] = true
}

// RemoveSubscription forgets a watched screen
func (c *Client) RemoveSubscription(screenID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, screenID)
}

// HasSubscription checks if the client watches a screen
func (c *Client) HasSubscription(screenID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[screenID]
}

// GetSubscriptions returns a copy of all subscriptions
func (c *Client) GetSubscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	subs := make([]string, 0, len(c.subscriptions))
	for screenID := range c.subscriptions {
		subs = append(subs, screenID)
	}
	return subs
}

// ReadPump pumps messages from the websocket connection to the hub.
// This method runs in its own goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		_ = c.Conn.Close()
	}()

	pongWait := c.Hub.cfg.PongWait
	c.Conn.SetReadLimit(maxMessageSize)
	if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error("failed to set read deadline", "error", err)
		return
	}

	c.Conn.SetPongHandler(func(string) error {
		if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Error("failed to set read deadline in pong handler", "error", err)
		}
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			break
		}

		c.handleIncomingMessage(message)
	}
}

// WritePump pumps messages from the hub to the websocket connection.
// This method runs in its own goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.Hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case update, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("failed to set write deadline", "error", err)
				return
			}

			if !ok {
				// The hub closed the channel.
				if err := c.Conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					c.logger.Debug("failed to send close message", "error", err)
				}
				return
			}

			if err := c.Conn.WriteJSON(update); err != nil {
				c.logger.Error("failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("failed to set write deadline for ping", "error", err)
				return
			}

			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
				return
			}
		}
	}
}

// --- Incoming Message Handling ---

// ClientMessage is the structure for messages sent from the client.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SubscribePayload is the payload for subscribe/unsubscribe messages
type SubscribePayload struct {
	ScreenID string `json:"screenId"`
}

// handleIncomingMessage processes messages received from the client
func (c *Client) handleIncomingMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Warn("failed to unmarshal client message", "error", err)
		return
	}

	switch msg.Type {
	case "SUBSCRIBE_TO_SCREEN":
		if screenID, ok := c.screenID(msg.Payload); ok {
			c.Hub.Subscribe(c, screenID)
		}

	case "UNSUBSCRIBE_FROM_SCREEN":
		if screenID, ok := c.screenID(msg.Payload); ok {
			c.Hub.Unsubscribe(c, screenID)
		}

	case "PING":
		c.sendControl(UpdatePong, "", nil)

	default:
		c.logger.Debug("received unknown message type", "type", msg.Type)
	}
}

func (c *Client) screenID(payload json.RawMessage) (string, bool) {
	var p SubscribePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.logger.Warn("failed to unmarshal subscription payload", "error", err)
		return "", false
	}
	if p.ScreenID == "" {
		c.sendControl(UpdateError, "", "screenId is required")
		return "", false
	}
	return p.ScreenID, true
}
