// Package resilience provides a circuit breaker for calls to external
// collaborators. The session store wraps its Redis access in a breaker so a
// dead store fails fast instead of stalling every message delivery.
package resilience
