// Package session holds the per-user execution context and its durable store.
//
// A Session records which container a user is attached to, their working
// directory, and accumulated environment overrides. Sessions are shared
// between concurrent deliveries through the store, never owned by a single
// goroutine, so every update goes through a compare-and-swap on the revision
// counter. Two implementations are provided: Redis (production) and an
// in-memory store with identical CAS semantics (tests, single-node dev).
package session
