package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Publish(Event{Type: "command", UserID: "alice", Verb: "shell", Outcome: "applied"})

	select {
	case got := <-ch:
		assert.Equal(t, "alice", got.UserID)
		assert.Equal(t, "applied", got.Outcome)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestFanout(t *testing.T) {
	hub := NewHub()
	a, cancelA := hub.Subscribe()
	b, cancelB := hub.Subscribe()
	defer cancelA()
	defer cancelB()

	assert.Equal(t, 2, hub.Subscribers())
	hub.Publish(Event{UserID: "alice"})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case got := <-ch:
			assert.Equal(t, "alice", got.UserID)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed event")
		}
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	// Overfill the buffer; Publish must never block
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			hub.Publish(Event{ExitCode: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}

	// The buffer holds the first events; the overflow was dropped
	got := <-ch
	assert.Equal(t, 0, got.ExitCode)
	assert.Len(t, ch, subscriberBuffer-1)
}

func TestCancelClosesChannel(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()

	cancel()
	cancel() // idempotent

	_, open := <-ch
	require.False(t, open)
	assert.Equal(t, 0, hub.Subscribers())

	// Publishing after cancel reaches nobody and does not panic
	hub.Publish(Event{})
}
