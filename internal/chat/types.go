// Package chat defines the chat transport boundary: the inbound message event
// shape, the outbound reply shape, and an asynchronous reply notifier.
package chat

import "time"

// Inbound is one chat message delivery. Deliveries are discrete and may
// arrive out of order or duplicated; MessageID disambiguates duplicates in
// logs.
type Inbound struct {
	UserID    string    `json:"user_id" binding:"required"`
	MessageID string    `json:"message_id" binding:"required"`
	Text      string    `json:"text" binding:"required"`
	Timestamp time.Time `json:"ts"`
}

// Reply is the outbound reply for one delivery.
type Reply struct {
	UserID    string `json:"user_id"`
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated,omitempty"`
}
