// Package notify fans extraction and sync events out to live channels.
// A single Hub feeds both WebSocket and SSE subscribers; events for users
// with no open channel are dropped rather than queued.
package notify

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/soulprint/soulprint-sync/internal/model"
)

const subscriberBuffer = 16

// Hub routes update events to per-user subscribers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan model.UpdateEvent]struct{}
	log  zerolog.Logger
}

// NewHub constructs an empty Hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		subs: make(map[string]map[chan model.UpdateEvent]struct{}),
		log:  log.With().Str("component", "notify").Logger(),
	}
}

// Subscribe opens a channel for one user's events. The returned cancel
// function must be called when the consumer goes away.
func (h *Hub) Subscribe(userID string) (<-chan model.UpdateEvent, func()) {
	ch := make(chan model.UpdateEvent, subscriberBuffer)

	h.mu.Lock()
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[chan model.UpdateEvent]struct{})
		h.subs[userID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[userID]; ok {
			if _, present := set[ch]; present {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.subs, userID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to every open channel for its user. Delivery is
// best effort: a subscriber that cannot keep up loses events instead of
// blocking the publisher.
func (h *Hub) Publish(event model.UpdateEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set, ok := h.subs[event.UserID]
	if !ok {
		return
	}
	for ch := range set {
		select {
		case ch <- event:
		default:
			h.log.Debug().
				Str("userId", event.UserID).
				Str("type", event.Type).
				Msg("subscriber too slow, dropping event")
		}
	}
}

// SubscriberCount reports how many channels a user has open.
func (h *Hub) SubscriberCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}
