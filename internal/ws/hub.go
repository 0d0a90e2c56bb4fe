package ws

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"mentorship-chat/internal/observability"
)

// Hub tracks the open view sockets per connection.
type Hub struct {
	rooms map[string]map[*websocket.Conn]ConnInfo
	mu    sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*websocket.Conn]ConnInfo)}
}

// Add registers a socket viewing info.ConnectionID.
func (h *Hub) Add(conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[info.ConnectionID]; !ok {
		h.rooms[info.ConnectionID] = make(map[*websocket.Conn]ConnInfo)
	}
	h.rooms[info.ConnectionID][conn] = info
	observability.IncWSActive()
}

// Remove unregisters a socket. Unknown sockets are ignored.
func (h *Hub) Remove(connectionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.rooms[connectionID]
	if !ok {
		return
	}
	if _, ok := conns[conn]; !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.rooms, connectionID)
	}
	observability.DecWSActive()
}

// Viewers returns how many sockets have connectionID open.
func (h *Hub) Viewers(connectionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[connectionID])
}

func publishWSEvent(ctx context.Context, name string, info ConnInfo, reason string) {
	observability.IncWSEvent(name)
	_ = observability.PublishEvent(ctx, observability.WSRoutingKey,
		observability.NewWSEvent(name, info.payload(reason), info.RequestID, info.TraceID))
}
