// Package ingest implements the debounced ingestion buffer: inbound events
// accumulate per conversation key and are released as one ordered batch after
// a quiet period with no further arrivals. Rapid message bursts from the same
// conversation are thereby handled as a single agent turn.
package ingest

import (
	"sync"
	"time"

	"github.com/hupe1980/sidekick/core"
	"github.com/hupe1980/sidekick/logging"
)

// BatchHandler consumes a released batch. The dispatcher registers itself
// here. The handler is invoked from the buffer's timer goroutine, never while
// the buffer lock is held.
type BatchHandler func(batch core.ReleasedBatch)

// Options configures the buffer.
type Options struct {
	// QuietPeriod is how long a conversation key must stay silent before its
	// pending events are released as a batch. Zero releases immediately.
	QuietPeriod time.Duration
	// Logger receives buffer diagnostics.
	Logger logging.Logger
}

// Buffer accumulates inbound events per conversation key. At most one pending
// batch exists per key at a time; a new event for a key with a pending batch
// appends to it and resets the countdown. Safe for concurrent use.
type Buffer struct {
	quiet   time.Duration
	handler BatchHandler
	logger  logging.Logger

	mu      sync.Mutex
	pending map[string]*pendingBatch
	closed  bool
}

// pendingBatch holds events awaiting release and the active deadline timer.
// seq invalidates timer fires scheduled before the latest reset, so a fire
// racing a concurrent Submit never releases early.
type pendingBatch struct {
	events []core.InboundEvent
	timer  *time.Timer
	seq    uint64
}

// NewBuffer creates a buffer delivering released batches to handler.
func NewBuffer(handler BatchHandler, optFns ...func(o *Options)) *Buffer {
	opts := Options{
		QuietPeriod: 2 * time.Second,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Buffer{
		quiet:   opts.QuietPeriod,
		handler: handler,
		logger:  opts.Logger,
		pending: make(map[string]*pendingBatch),
	}
}

// Submit appends the event to its key's pending batch, (re)starting the quiet
// period countdown. Timer management only; no I/O happens here.
func (b *Buffer) Submit(ev core.InboundEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	key := ev.ConversationKey
	p, ok := b.pending[key]
	if !ok {
		p = &pendingBatch{}
		b.pending[key] = p
	}
	p.events = append(p.events, ev)
	p.seq++

	seq := p.seq
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(b.quiet, func() { b.release(key, seq) })
}

// release fires when a key's quiet period elapsed. A stale seq means another
// Submit arrived after this timer was scheduled; that Submit's own timer owns
// the release.
func (b *Buffer) release(key string, seq uint64) {
	b.mu.Lock()
	p, ok := b.pending[key]
	if !ok || p.seq != seq {
		b.mu.Unlock()
		return
	}
	delete(b.pending, key)
	events := p.events
	b.mu.Unlock()

	if len(events) == 0 {
		return
	}
	b.logger.Debug("releasing batch", "conversation_key", key, "events", len(events))
	b.handler(core.ReleasedBatch{ConversationKey: key, Events: events})
}

// Pending reports the number of conversation keys with an unreleased batch.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close stops all countdown timers and discards unreleased events. Further
// Submit calls are ignored.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for key, p := range b.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(b.pending, key)
	}
}
