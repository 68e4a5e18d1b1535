package core

import (
	"time"

	"github.com/google/uuid"
)

// EventKind distinguishes interactive channel traffic from scheduled
// heartbeat triggers. Both kinds flow through the same dispatcher but enter
// via different paths (ingest buffer vs. direct lane enqueue).
type EventKind string

const (
	// KindInteractive marks an event produced by a channel collaborator.
	KindInteractive EventKind = "interactive"
	// KindScheduled marks a synthetic event emitted by the heartbeat scheduler.
	KindScheduled EventKind = "scheduled"
)

// InboundEvent is one unit of input to the pipeline. It is created by a
// channel collaborator (or the scheduler), batched by the ingest buffer and
// discarded once its batch has been dispatched.
type InboundEvent struct {
	ID              string    `json:"id"`
	ConversationKey string    `json:"conversation_key"`
	Kind            EventKind `json:"kind"`
	Text            string    `json:"text"`
	Sender          string    `json:"sender,omitempty"`
	ReceivedAt      time.Time `json:"received_at"`
}

// NewInboundEvent creates an interactive event for the given conversation key.
func NewInboundEvent(conversationKey, text, sender string) InboundEvent {
	return InboundEvent{
		ID:              NewID(),
		ConversationKey: conversationKey,
		Kind:            KindInteractive,
		Text:            text,
		Sender:          sender,
		ReceivedAt:      time.Now().UTC(),
	}
}

// NewScheduledEvent creates a synthetic scheduled event. Heartbeats bypass
// the ingest buffer, so the scheduler enqueues these directly.
func NewScheduledEvent(conversationKey, text string) InboundEvent {
	return InboundEvent{
		ID:              NewID(),
		ConversationKey: conversationKey,
		Kind:            KindScheduled,
		Text:            text,
		Sender:          "system",
		ReceivedAt:      time.Now().UTC(),
	}
}

// ReleasedBatch is the unit the ingest buffer hands to the dispatcher once a
// conversation key's quiet period has elapsed. Events preserve arrival order.
type ReleasedBatch struct {
	ConversationKey string
	Events          []InboundEvent
}

// NewID generates a unique identifier for events and turns.
func NewID() string { return uuid.NewString() }
