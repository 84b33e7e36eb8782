package realtime

import (
	"context"
	"sync"

	"github.com/nikhil/eavenchat/internal/logger"
	"github.com/nikhil/eavenchat/internal/models"
)

// signalBuffer is how many pending signals a subscriber may hold before new
// ones are dropped. Signals only say "something changed", so dropping is safe.
const signalBuffer = 16

// Relay forwards signals to other server instances.
type Relay interface {
	Publish(ctx context.Context, room string, sig models.Signal) error
}

// Hub is the publish/subscribe fabric keyed by room name.
type Hub struct {
	// Subscriptions per room
	rooms map[string]map[*Subscription]struct{}

	relay Relay
	log   *logger.Logger

	mu sync.RWMutex
}

// Subscription is one listener on one room.
type Subscription struct {
	Room string
	C    <-chan models.Signal

	c    chan models.Signal
	hub  *Hub
	once sync.Once
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]map[*Subscription]struct{}),
		log:   log,
	}
}

// SetRelay attaches a cross-instance relay. Call before serving traffic.
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
}

// Subscribe registers a new listener on room.
func (h *Hub) Subscribe(room string) *Subscription {
	c := make(chan models.Signal, signalBuffer)
	sub := &Subscription{Room: room, C: c, c: c, hub: h}

	h.mu.Lock()
	if _, exists := h.rooms[room]; !exists {
		h.rooms[room] = make(map[*Subscription]struct{})
	}
	h.rooms[room][sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Close unregisters the subscription and closes its channel. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		if subs, ok := h.rooms[s.Room]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(h.rooms, s.Room)
			}
		}
		close(s.c)
		h.mu.Unlock()
	})
}

// Publish delivers sig to local subscribers of room and hands it to the relay.
func (h *Hub) Publish(ctx context.Context, room string, sig models.Signal) int {
	delivered := h.Deliver(room, sig)

	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay != nil {
		if err := relay.Publish(ctx, room, sig); err != nil {
			h.log.Warn("Failed to relay signal", "room", room, "error", err)
		}
	}
	return delivered
}

// Deliver fans sig out to local subscribers only and reports how many got it.
func (h *Hub) Deliver(room string, sig models.Signal) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.rooms[room] {
		select {
		case sub.c <- sig:
			delivered++
		default:
			h.log.Debug("Dropping signal for slow subscriber", "room", room)
		}
	}
	return delivered
}

// Subscribers returns the number of listeners on room.
func (h *Hub) Subscribers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Close drops every subscription.
func (h *Hub) Close() {
	h.mu.RLock()
	var subs []*Subscription
	for _, room := range h.rooms {
		for sub := range room {
			subs = append(subs, sub)
		}
	}
	h.mu.RUnlock()
	for _, sub := range subs {
		sub.Close()
	}
}
