package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lorrc/carenet-sync/internal/core/domain"
	"github.com/lorrc/carenet-sync/internal/core/ports"
	"github.com/lorrc/carenet-sync/internal/infrastructure/metrics"
)

// Control messages the hub sends besides screen updates.
const (
	UpdateSubscribed   domain.UpdateType = "SUBSCRIBED"
	UpdateUnsubscribed domain.UpdateType = "UNSUBSCRIBED"
	UpdateError        domain.UpdateType = "ERROR"
	UpdatePong         domain.UpdateType = "PONG"
)

// ScreenLookup resolves a viewer's open screen.
type ScreenLookup interface {
	Get(viewerID, screenID string) (ports.Screen, error)
}

// Config tunes buffering and keep-alive.
type Config struct {
	UpdateBuffer int
	SendBuffer   int
	PingInterval time.Duration
	PongWait     time.Duration
}

// DefaultConfig returns the keep-alive timings browsers tolerate.
func DefaultConfig() Config {
	return Config{
		UpdateBuffer: 256,
		SendBuffer:   256,
		PingInterval: 54 * time.Second,
		PongWait:     60 * time.Second,
	}
}

// Hub fans screen updates out to the websocket clients watching each screen.
// It is the Presenter every screen renders through.
type Hub struct {
	// clients maps viewer IDs to their active connections
	// A viewer can have multiple connections (multiple tabs/devices)
	clients map[string]map[*Client]bool

	// rooms maps screen IDs to subscribed clients
	rooms map[string]map[*Client]bool

	updates chan domain.ScreenUpdate

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// mu protects the clients and rooms maps
	mu sync.RWMutex

	screens ScreenLookup
	cfg     Config
	logger  *slog.Logger
}

var _ ports.Presenter = (*Hub)(nil)

// NewHub creates a new WebSocket hub
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if cfg.UpdateBuffer < 1 {
		cfg.UpdateBuffer = DefaultConfig().UpdateBuffer
	}
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = DefaultConfig().SendBuffer
	}
	if cfg.PongWait <= 0 || cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval, cfg.PongWait = DefaultConfig().PingInterval, DefaultConfig().PongWait
	}
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		updates:    make(chan domain.ScreenUpdate, cfg.UpdateBuffer),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		cfg:        cfg,
		logger:     logger.With("component", "websocket_hub"),
	}
}

// UseScreens sets the lookup that authorizes subscriptions. The screen
// manager needs the hub as its presenter, so this is wired after both exist.
func (h *Hub) UseScreens(screens ScreenLookup) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.screens = screens
}

// Reveal pushes a screen's first complete snapshot.
func (h *Hub) Reveal(snapshot domain.ScreenSnapshot) {
	h.enqueue(domain.ScreenUpdate{
		Type:     domain.UpdateReveal,
		ScreenID: snapshot.ScreenID,
		Payload:  snapshot,
	})
}

// Refresh pushes an incremental change.
func (h *Hub) Refresh(update domain.ScreenUpdate) {
	h.enqueue(update)
}

// enqueue never blocks: screens render from the bus dispatch goroutine.
// Clients that miss an update resynchronize from the snapshot endpoint.
func (h *Hub) enqueue(update domain.ScreenUpdate) {
	select {
	case h.updates <- update:
	default:
		h.logger.Warn("update channel full, dropping update",
			"update_type", update.Type,
			"screen_id", update.ScreenID,
		)
	}
}

// Run starts the hub's event loop until ctx is done. This MUST be run as a goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case update := <-h.updates:
			h.broadcastUpdate(update)
		}
	}
}

// registerClient adds a client to the hub
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.ViewerID] == nil {
		h.clients[client.ViewerID] = make(map[*Client]bool)
	}
	h.clients[client.ViewerID][client] = true
	metrics.SetWebSocketClients(h.countLocked())

	h.logger.Info("client registered",
		"viewer_id", client.ViewerID,
		"total_connections", len(h.clients[client.ViewerID]),
	)
}

// unregisterClient removes a client from the hub and all rooms
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client)
}

func (h *Hub) removeLocked(client *Client) {
	if viewerClients, ok := h.clients[client.ViewerID]; ok {
		delete(viewerClients, client)
		if len(viewerClients) == 0 {
			delete(h.clients, client.ViewerID)
		}
	}

	for _, screenID := range client.GetSubscriptions() {
		h.leaveRoomLocked(client, screenID)
	}

	client.CloseSend()
	metrics.SetWebSocketClients(h.countLocked())

	h.logger.Info("client unregistered", "viewer_id", client.ViewerID)
}

func (h *Hub) leaveRoomLocked(client *Client, screenID string) {
	if room, ok := h.rooms[screenID]; ok {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, screenID)
		}
	}
	client.RemoveSubscription(screenID)
}

// broadcastUpdate sends an update to all clients watching the screen
func (h *Hub) broadcastUpdate(update domain.ScreenUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[update.ScreenID]
	if !ok {
		return
	}

	h.logger.Debug("broadcasting update",
		"update_type", update.Type,
		"screen_id", update.ScreenID,
		"client_count", len(room),
	)

	for client := range room {
		if !client.trySend(update) {
			h.logger.Warn("client send buffer full, unregistering",
				"viewer_id", client.ViewerID,
			)
			h.removeLocked(client)
		}
	}
}

// Subscribe attaches client to one of its viewer's screens. A screen that
// already revealed is sent to the client right away.
func (h *Hub) Subscribe(client *Client, screenID string) {
	h.mu.Lock()
	screens := h.screens
	h.mu.Unlock()

	if screens == nil {
		client.sendControl(UpdateError, screenID, "subscriptions are unavailable")
		return
	}
	screen, err := screens.Get(client.ViewerID, screenID)
	if err != nil {
		client.sendControl(UpdateError, screenID, err.Error())
		return
	}

	h.mu.Lock()
	if client.isClosed() {
		h.mu.Unlock()
		return
	}
	if h.rooms[screenID] == nil {
		h.rooms[screenID] = make(map[*Client]bool)
	}
	h.rooms[screenID][client] = true
	client.AddSubscription(screenID)
	h.mu.Unlock()

	h.logger.Debug("client subscribed to screen",
		"viewer_id", client.ViewerID,
		"screen_id", screenID,
	)

	client.sendControl(UpdateSubscribed, screenID, nil)
	if screen.Loaded() {
		snapshot := screen.Snapshot()
		client.trySend(domain.ScreenUpdate{
			Type:     domain.UpdateReveal,
			ScreenID: screenID,
			Payload:  snapshot,
		})
	}
}

// Unsubscribe detaches client from a screen.
func (h *Hub) Unsubscribe(client *Client, screenID string) {
	h.mu.Lock()
	h.leaveRoomLocked(client, screenID)
	h.mu.Unlock()

	client.sendControl(UpdateUnsubscribed, screenID, nil)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, viewerClients := range h.clients {
		for client := range viewerClients {
			client.CloseSend()
		}
	}
	h.clients = make(map[string]map[*Client]bool)
	h.rooms = make(map[string]map[*Client]bool)
	metrics.SetWebSocketClients(0)
	h.logger.Info("websocket hub stopped")
}

func (h *Hub) countLocked() int {
	count := 0
	for _, viewerClients := range h.clients {
		count += len(viewerClients)
	}
	return count
}

// GetClientCount returns the total number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.countLocked()
}

// GetClientsInRoom returns the number of clients watching a screen
func (h *Hub) GetClientsInRoom(screenID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[screenID])
}
