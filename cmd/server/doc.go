// Command server runs the termgate service: a chat-driven remote terminal
// that maps chat users to persistent shell sessions inside containers.
package main
