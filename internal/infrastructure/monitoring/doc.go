// Package monitoring provides Prometheus metrics collection.
//
// Each Metrics instance owns its own registry, exposed via Handler, so the
// package can be instantiated freely in tests without duplicate-registration
// panics.
package monitoring
