package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Hub maintains room code -> set of connections and delivers messages.
// Room membership is decided by the coordinator (after a successful
// create/join), not at upgrade time.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client            // connection id -> client
	rooms   map[string]map[string]*Client // room code -> connection id -> client
	logger  *zap.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		logger:  logger,
	}
}

// Register adds a newly upgraded connection, not yet in any room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("client_id", c.ID))
}

// Unregister removes a connection from its room (if any) and the hub.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	h.leaveLocked(c)
	h.mu.Unlock()
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID))
}

// JoinRoom moves a connection into a room's broadcast group. A connection
// belongs to at most one room; joining again replaces the membership.
func (h *Hub) JoinRoom(connID, roomCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	h.leaveLocked(c)
	if h.rooms[roomCode] == nil {
		h.rooms[roomCode] = make(map[string]*Client)
	}
	h.rooms[roomCode][c.ID] = c
	c.roomCode = roomCode
}

// BroadcastToRoom sends a message to every connection in a room.
func (h *Hub) BroadcastToRoom(roomCode, event string, payload interface{}) {
	msg, err := encode(event, payload)
	if err != nil {
		return
	}
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[roomCode]))
	for _, c := range h.rooms[roomCode] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(msg)
	}
}

// SendToClient sends a message to a single connection.
func (h *Hub) SendToClient(connID, event string, payload interface{}) {
	msg, err := encode(event, payload)
	if err != nil {
		return
	}
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if ok {
		c.enqueue(msg)
	}
}

// CloseClient severs a connection. The client's read loop observes the
// close and runs the normal disconnect cleanup.
func (h *Hub) CloseClient(connID string) {
	h.mu.Lock()
	c, ok := h.clients[connID]
	if ok {
		h.leaveLocked(c)
	}
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

// ConnectionCount returns the number of connections in a room.
func (h *Hub) ConnectionCount(roomCode string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomCode])
}

func (h *Hub) leaveLocked(c *Client) {
	if c.roomCode == "" {
		return
	}
	if m, ok := h.rooms[c.roomCode]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.rooms, c.roomCode)
		}
	}
	c.roomCode = ""
}

func encode(event string, payload interface{}) (WSMessage, error) {
	switch v := payload.(type) {
	case []byte:
		return WSMessage{Event: event, Data: v}, nil
	case json.RawMessage:
		return WSMessage{Event: event, Data: v}, nil
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return WSMessage{}, err
		}
		return WSMessage{Event: event, Data: data}, nil
	}
}
