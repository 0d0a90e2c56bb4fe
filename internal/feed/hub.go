package feed

import (
	"sync"

	"go.uber.org/zap"

	"mentorship-chat/internal/models"
)

// DefaultBuffer is the per-subscription event buffer.
const DefaultBuffer = 64

// Hub fans change feed events out to subscribers keyed by connection id.
type Hub struct {
	rooms  map[string]map[*Subscription]struct{}
	buffer int
	log    *zap.Logger
	mu     sync.RWMutex
}

// NewHub creates an empty hub. A buffer below one uses DefaultBuffer.
func NewHub(buffer int, log *zap.Logger) *Hub {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	return &Hub{
		rooms:  make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		log:    log,
	}
}

// Subscription receives the events of one connection until closed.
type Subscription struct {
	hub          *Hub
	connectionID string
	events       chan models.MessageEvent
	once         sync.Once
}

// Subscribe registers a subscription for connectionID.
func (h *Hub) Subscribe(connectionID string) *Subscription {
	sub := &Subscription{
		hub:          h,
		connectionID: connectionID,
		events:       make(chan models.MessageEvent, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[connectionID]; !ok {
		h.rooms[connectionID] = make(map[*Subscription]struct{})
	}
	h.rooms[connectionID][sub] = struct{}{}
	return sub
}

// Events is closed once the subscription is closed.
func (s *Subscription) Events() <-chan models.MessageEvent {
	return s.events
}

// ConnectionID returns the connection the subscription is keyed by.
func (s *Subscription) ConnectionID() string {
	return s.connectionID
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		defer h.mu.Unlock()
		if subs, ok := h.rooms[s.connectionID]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(h.rooms, s.connectionID)
			}
		}
		close(s.events)
	})
}

// Publish delivers ev to every subscriber of its connection. A subscriber whose
// buffer is full misses the event.
func (h *Hub) Publish(ev models.MessageEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.rooms[ev.Row.ConnectionID] {
		select {
		case sub.events <- ev:
		default:
			h.log.Warn("feed subscriber buffer full, dropping event",
				zap.String("connection_id", ev.Row.ConnectionID),
				zap.String("message_id", ev.Row.ID),
				zap.String("op", ev.Op))
		}
	}
}

// Subscribers reports how many subscriptions are open for connectionID.
func (h *Hub) Subscribers(connectionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[connectionID])
}
