// Package server assembles configuration, the session manager and its
// collaborators into a runnable HTTP service.
package server
