// Package push fans message change events out to connected clients.
package push

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"inbox/internal/adapters/http/perf"
	"inbox/internal/contract"
	"inbox/internal/domain/message"
)

// DefaultBuffer is the per-subscription queue length.
const DefaultBuffer = 64

type key struct {
	userID string
	scope  message.Scope
}

// Subscription receives the events of one user for a set of scopes.
// C is closed when the subscription ends, either by Close or because it fell behind.
type Subscription struct {
	hub    *Hub
	userID string
	scopes []message.Scope
	ch     chan contract.PushEvent
	once   sync.Once
}

// C returns the event channel.
func (s *Subscription) C() <-chan contract.PushEvent {
	return s.ch
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Hub keeps subscribers keyed by (user, scope). Publish never blocks.
type Hub struct {
	mu        sync.RWMutex
	subs      map[key]map[*Subscription]struct{}
	buffer    int
	collector *perf.Collector
}

// NewHub creates an empty hub. collector may be nil.
func NewHub(buffer int, collector *perf.Collector) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:      make(map[key]map[*Subscription]struct{}),
		buffer:    buffer,
		collector: collector,
	}
}

// Subscribe registers interest in userID's events for the given scopes.
// PRE: userID is non-empty; every scope is valid
// POST: Returns a live subscription
func (h *Hub) Subscribe(userID string, scopes ...message.Scope) *Subscription {
	s := &Subscription{
		hub:    h,
		userID: userID,
		scopes: scopes,
		ch:     make(chan contract.PushEvent, h.buffer),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sc := range scopes {
		k := key{userID: userID, scope: sc}
		if h.subs[k] == nil {
			h.subs[k] = make(map[*Subscription]struct{})
		}
		h.subs[k][s] = struct{}{}
	}
	return s
}

// Publish delivers e to every subscriber of (e.UserID, e.Scope).
// A subscriber whose queue is full is dropped; its client reconnects and refetches.
func (h *Hub) Publish(_ context.Context, e message.ChangeEvent) {
	start := time.Now()
	frame := contract.FromChangeEvent(e)

	// Sends happen under the read lock so remove cannot close a channel mid-send.
	var slow []*Subscription
	h.mu.RLock()
	for s := range h.subs[key{e.UserID, e.Scope}] {
		select {
		case s.ch <- frame:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		slog.Warn("push_event", "event", "subscriber_dropped", "user_id", s.userID, "scope", e.Scope)
		h.remove(s)
	}

	if h.collector != nil {
		h.collector.Record(perf.Entry{
			Kind:       perf.KindPush,
			Path:       string(e.Scope),
			DurationMs: float64(time.Since(start).Microseconds()) / 1000.0,
			Timestamp:  start,
		})
	}
}

// Subscribers returns how many subscriptions currently listen to (userID, scope).
func (h *Hub) Subscribers(userID string, scope message.Scope) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key{userID, scope}])
}

func (h *Hub) remove(s *Subscription) {
	s.once.Do(func() {
		h.mu.Lock()
		for _, sc := range s.scopes {
			k := key{userID: s.userID, scope: sc}
			delete(h.subs[k], s)
			if len(h.subs[k]) == 0 {
				delete(h.subs, k)
			}
		}
		close(s.ch)
		h.mu.Unlock()
	})
}
