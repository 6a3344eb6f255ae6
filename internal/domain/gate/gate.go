// Package gate provides per-user mutual exclusion for command handling.
//
// Each chat user may have at most one command in flight. A second message
// arriving while the first is still running is rejected immediately rather
// than queued, so the user always knows which command their reply belongs to.
package gate

import "sync"

// Gate tracks which users currently hold their slot.
type Gate struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

// New creates an empty gate.
func New() *Gate {
	return &Gate{busy: make(map[string]struct{})}
}

// Acquire claims the slot for userID. It returns false without blocking if
// the user already has a command in flight.
func (g *Gate) Acquire(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.busy[userID]; held {
		return false
	}
	g.busy[userID] = struct{}{}
	return true
}

// Release frees the slot for userID. Releasing an unheld slot is a no-op.
func (g *Gate) Release(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.busy, userID)
}

// InFlight reports how many users currently hold a slot.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.busy)
}
