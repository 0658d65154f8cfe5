// Package broadcast defines the port for distributing context events to live subscribers.
package broadcast

import (
	"context"
	"time"
)

// Event types pushed to stream clients.
const (
	EventContextInitialized = "CONTEXT_INITIALIZED"
	EventAdded              = "EVENT_ADDED"
	EventUIRequest          = "UI_REQUEST"
	EventTaskCompleted      = "TASK_COMPLETED"
	EventError              = "ERROR"
)

// Event is one message delivered to subscribers of a context.
// Sequence is the history sequence the event reflects, 0 when it has none.
type Event struct {
	Type      string    `json:"type"`
	ContextID string    `json:"context_id"`
	Sequence  int64     `json:"sequence,omitempty"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler receives events. It is invoked synchronously on the broadcaster's
// goroutine and must not block.
type Handler func(ev Event)

// Bus is a per-context publish/subscribe channel. Delivery is at-most-once with
// no replay buffer: a subscriber that joins late misses earlier live events.
type Bus interface {
	// Broadcast delivers ev to every current subscriber of contextID.
	Broadcast(ctx context.Context, contextID string, ev Event)

	// Subscribe registers handler for contextID. With skipHistory false, the
	// persisted history is replayed to handler as EVENT_ADDED events first.
	// The returned function removes the subscription and is safe to call twice.
	Subscribe(ctx context.Context, contextID, subscriberID string, handler Handler, skipHistory bool) (unsubscribe func(), err error)
}
