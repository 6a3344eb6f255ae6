// Package events fans command outcomes out to streaming subscribers.
package events

import (
	"sync"
	"time"
)

// Event describes one handled command, published after the reply is formed.
type Event struct {
	Type       string    `json:"type"`
	CommandID  string    `json:"command_id"`
	UserID     string    `json:"user_id"`
	Verb       string    `json:"verb"`
	Outcome    string    `json:"outcome"`
	ExitCode   int       `json:"exit_code"`
	DurationMS int64     `json:"duration_ms"`
	At         time.Time `json:"at"`
}

const subscriberBuffer = 64

// Hub is a non-blocking publish/subscribe fanout. A subscriber that stops
// draining its channel loses events rather than stalling the publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Publish delivers event to every subscriber, dropping it for any whose
// buffer is full.
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function must be
// called to release it; the channel is closed on cancel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
