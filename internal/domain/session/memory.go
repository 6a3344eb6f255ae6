package session

import (
	"context"
	"sync"
)

// Memory is an in-process Store with the same CAS semantics as the Redis
// implementation. Suitable for tests and single-node development.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]*Session)}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// CreateIfAbsent implements Store.
func (m *Memory) CreateIfAbsent(_ context.Context, userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[userID]; ok {
		return s.Clone(), nil
	}
	s := New(userID)
	m.sessions[userID] = s
	return s.Clone(), nil
}

// PutIfRevision implements Store.
func (m *Memory) PutIfRevision(_ context.Context, s *Session, expected uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.sessions[s.UserID]
	if !ok {
		return ErrNotFound
	}
	if cur.Revision != expected {
		return ErrRevisionConflict
	}
	next := s.Clone()
	next.Revision = expected + 1
	m.sessions[s.UserID] = next
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, userID)
	return nil
}

// Scan implements Store.
func (m *Memory) Scan(_ context.Context, fn func(*Session) bool) error {
	m.mu.Lock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s.Clone())
	}
	m.mu.Unlock()

	for _, s := range snapshot {
		if !fn(s) {
			break
		}
	}
	return nil
}

// Len returns the number of stored sessions.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
