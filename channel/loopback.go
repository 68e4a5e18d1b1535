package channel

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/sidekick/core"
)

// Loopback is an in-process channel: events are injected programmatically and
// replies are collected on a Go channel. Used by the example binary and tests.
type Loopback struct {
	mu      sync.Mutex
	sink    Sink
	replies chan Reply
	dropped atomic.Int64
}

// Reply is one delivered reply with its conversation key.
type Reply struct {
	ConversationKey string
	Text            string
}

// NewLoopback creates a loopback channel with a buffered reply stream.
func NewLoopback() *Loopback {
	return &Loopback{replies: make(chan Reply, 64)}
}

// Name implements Channel.
func (l *Loopback) Name() string { return "loopback" }

// Start implements Channel. It records the sink and returns; delivery happens
// on Inject.
func (l *Loopback) Start(ctx context.Context, sink Sink) error {
	l.mu.Lock()
	l.sink = sink
	l.mu.Unlock()
	return nil
}

// Send implements Channel by queueing the reply for Replies consumers. A full
// buffer drops the reply: a missing consumer must never stall the sender.
func (l *Loopback) Send(conversationKey, text string) error {
	select {
	case l.replies <- Reply{ConversationKey: conversationKey, Text: text}:
	default:
		l.dropped.Add(1)
	}
	return nil
}

// Dropped reports how many replies were discarded on a full buffer.
func (l *Loopback) Dropped() int64 { return l.dropped.Load() }

// Inject delivers an event to the sink, as if it arrived from a transport.
// Events injected before Start are dropped.
func (l *Loopback) Inject(event core.InboundEvent) {
	l.mu.Lock()
	sink := l.sink
	l.mu.Unlock()
	if sink != nil {
		sink(event)
	}
}

// Replies exposes the delivered replies.
func (l *Loopback) Replies() <-chan Reply { return l.replies }
