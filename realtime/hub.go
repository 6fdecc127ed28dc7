package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"learnkit/core"
)

// Filter selects which events a subscriber receives. A nil Filter receives everything.
type Filter func(core.Event) bool

// ForUser keeps only events about one learner.
func ForUser(user core.UserID) Filter {
	return func(ev core.Event) bool { return ev.UserID == user }
}

type subscriber struct {
	ch     chan core.Event
	filter Filter
}

// Hub is a simple pub/sub for broadcasting progression events to channels.
// Slow subscribers lose events rather than blocking the publisher.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	dropped atomic.Int64
}

func NewHub() *Hub { return &Hub{subs: map[int]subscriber{}} }

func (h *Hub) Subscribe(buffer int, filter Filter) (int, <-chan core.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	ch := make(chan core.Event, buffer)
	h.subs[id] = subscriber{ch: ch, filter: filter}
	return id, ch
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(s.ch)
	}
}

// Broadcast fans ev out to matching subscribers. It never fails; the error return
// lets the hub act as an engine broadcaster.
func (h *Hub) Broadcast(_ context.Context, ev core.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if s.filter != nil && !s.filter(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribers reports the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// MarshalJSON is a helper to convert events to JSON bytes for WebSocket/SSE.
func MarshalJSON(ev core.Event) []byte {
	b, _ := json.Marshal(ev)
	return b
}
