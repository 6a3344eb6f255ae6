package session

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates no session exists for the user.
	ErrNotFound = errors.New("session not found")

	// ErrRevisionConflict indicates the stored revision no longer matches the
	// expected one; another delivery won the race.
	ErrRevisionConflict = errors.New("session revision conflict")

	// ErrStoreUnavailable indicates the backing store could not be reached.
	// Callers must fail closed: never execute commands against unknown state.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Store is the durable mapping from user identity to session state.
type Store interface {
	// Get returns the session for userID, or ErrNotFound.
	Get(ctx context.Context, userID string) (*Session, error)

	// CreateIfAbsent atomically creates a fresh session for userID if none
	// exists and returns the session now present (fresh or preexisting).
	CreateIfAbsent(ctx context.Context, userID string) (*Session, error)

	// PutIfRevision stores s if the current stored revision equals expected,
	// bumping the persisted revision to expected+1. Returns
	// ErrRevisionConflict when another writer got there first.
	PutIfRevision(ctx context.Context, s *Session, expected uint64) error

	// Delete removes the session for userID. Deleting an absent session is
	// not an error.
	Delete(ctx context.Context, userID string) error

	// Scan visits every stored session until fn returns false.
	Scan(ctx context.Context, fn func(*Session) bool) error
}
