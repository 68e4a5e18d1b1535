package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/sidekick/core"
	"github.com/hupe1980/sidekick/logging"
	"github.com/hupe1980/sidekick/session"
)

// LaneID names an execution lane.
type LaneID string

const (
	// LaneInteractive carries user-originated batches.
	LaneInteractive LaneID = "interactive"
	// LaneScheduled carries heartbeat self-prompts.
	LaneScheduled LaneID = "scheduled"
)

// WorkItem is one unit of lane work: a batch of events for a single
// conversation key.
type WorkItem struct {
	ConversationKey string
	Lane            LaneID
	Events          []core.InboundEvent
}

// SessionFlusher persists a drained session. Satisfied by memory.Store.
type SessionFlusher interface {
	AppendSessionLog(conversationKey string, turns []core.Turn) error
}

// Options configures the dispatcher.
type Options struct {
	// TurnTimeout bounds a single agent turn. Zero means no deadline.
	TurnTimeout time.Duration
	// IdleTimeout is how long a conversation may sit quiet before its
	// session rotates into the session log.
	IdleTimeout time.Duration
	// ReapInterval is how often idle sessions are scanned for.
	ReapInterval time.Duration
	// Curator, when set, runs one extra agent turn over the session
	// transcript before it is flushed at rotation. The curator may update
	// the curated notes internally; its failure never blocks the flush.
	Curator core.TurnRunner
	Logger  logging.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Dispatcher owns the two lanes and the session lifecycle. One worker
// goroutine per lane guarantees serial turn execution within a lane while the
// lanes stay independent of each other.
type Dispatcher struct {
	runner   core.TurnRunner
	sessions *session.Store
	flusher  SessionFlusher
	sender   core.ReplySender
	logger   logging.Logger
	opts     Options

	lanes map[LaneID]*laneQueue

	mu           sync.Mutex
	lastActivity map[string]time.Time
	keyLocks     map[string]*sync.Mutex

	workerWg sync.WaitGroup
	reaperWg sync.WaitGroup
	cancel   context.CancelFunc
}

// NewDispatcher wires the dispatcher to its collaborators. sender may be nil
// when replies have nowhere to go (tests, batch tooling).
func NewDispatcher(runner core.TurnRunner, sessions *session.Store, flusher SessionFlusher, sender core.ReplySender, optFns ...func(o *Options)) *Dispatcher {
	opts := Options{
		TurnTimeout:  5 * time.Minute,
		IdleTimeout:  30 * time.Minute,
		ReapInterval: time.Minute,
		Logger:       logging.NoOpLogger{},
		Now:          time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Dispatcher{
		runner:   runner,
		sessions: sessions,
		flusher:  flusher,
		sender:   sender,
		logger:   opts.Logger,
		opts:     opts,
		lanes: map[LaneID]*laneQueue{
			LaneInteractive: newLaneQueue(),
			LaneScheduled:   newLaneQueue(),
		},
		lastActivity: make(map[string]time.Time),
		keyLocks:     make(map[string]*sync.Mutex),
	}
}

// Start launches the lane workers and the idle-session reaper.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)

	for lane, queue := range d.lanes {
		d.workerWg.Add(1)
		go d.worker(ctx, lane, queue)
	}

	d.reaperWg.Add(1)
	go d.reaper(ctx)
}

// Enqueue places a batch on its lane. Never blocks.
func (d *Dispatcher) Enqueue(item WorkItem) {
	queue, ok := d.lanes[item.Lane]
	if !ok {
		d.logger.Warn("dropping work for unknown lane", "lane", string(item.Lane), "key", item.ConversationKey)
		return
	}
	queue.push(item)
}

// HandleBatch adapts the ingestion buffer's release callback: released batches
// always ride the interactive lane.
func (d *Dispatcher) HandleBatch(batch core.ReleasedBatch) {
	d.Enqueue(WorkItem{
		ConversationKey: batch.ConversationKey,
		Lane:            LaneInteractive,
		Events:          batch.Events,
	})
}

// Shutdown stops accepting work, lets queued turns finish and flushes every
// remaining session to the session log. The lane workers drain their queues
// before exiting; only then is the reaper cancelled.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	for _, queue := range d.lanes {
		queue.close()
	}

	done := make(chan struct{})
	go func() {
		d.workerWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if d.cancel != nil {
		d.cancel()
	}
	d.reaperWg.Wait()

	for _, key := range d.sessions.ActiveKeys() {
		d.rotate(key, true)
	}
	return nil
}

func (d *Dispatcher) worker(ctx context.Context, lane LaneID, queue *laneQueue) {
	defer d.workerWg.Done()
	for {
		item, ok := queue.pop()
		if !ok {
			return
		}
		d.process(ctx, lane, item)
	}
}

// process runs one turn for one batch. Turn failures are logged and the lane
// moves on; a single bad turn must not wedge the lane.
func (d *Dispatcher) process(ctx context.Context, lane LaneID, item WorkItem) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("turn panicked", "lane", string(lane), "key", item.ConversationKey, "panic", fmt.Sprint(r))
		}
	}()

	if len(item.Events) == 0 {
		return
	}

	lock := d.keyLock(item.ConversationKey)
	lock.Lock()
	defer lock.Unlock()

	d.touch(item.ConversationKey)

	prompt := combinePrompt(item.Events)
	d.sessions.Append(item.ConversationKey, core.NewTurn(item.Events[0].Sender, prompt))

	turnCtx := ctx
	if d.opts.TurnTimeout > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeout(ctx, d.opts.TurnTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := d.runner.RunTurn(turnCtx, item.ConversationKey, prompt)
	if sl, ok := d.logger.(*logging.SidekickLogger); ok {
		sl.LogTurn(string(lane), time.Since(start), err == nil, err)
	}
	if err != nil {
		d.logger.Error("turn failed", "lane", string(lane), "key", item.ConversationKey, "error", err)
		return
	}
	if result.Text == "" {
		return
	}

	d.sessions.Append(item.ConversationKey, core.NewTurn("assistant", result.Text))
	d.touch(item.ConversationKey)

	if d.sender != nil {
		if err := d.sender.Send(item.ConversationKey, result.Text); err != nil {
			d.logger.Error("reply delivery failed", "key", item.ConversationKey, "error", err)
		}
	}
}

// reaper periodically rotates sessions whose conversations have gone idle.
func (d *Dispatcher) reaper(ctx context.Context) {
	defer d.reaperWg.Done()
	ticker := time.NewTicker(d.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.reapIdle()
		}
	}
}

func (d *Dispatcher) reapIdle() {
	now := d.opts.Now()

	d.mu.Lock()
	var idle []string
	for key, last := range d.lastActivity {
		if now.Sub(last) >= d.opts.IdleTimeout {
			idle = append(idle, key)
		}
	}
	d.mu.Unlock()

	for _, key := range idle {
		d.rotate(key, false)
	}
}

// rotate drains the session for key into the session log. Unless forced, the
// idle check is repeated under the key lock so a turn that slipped in between
// scan and rotation keeps its session.
func (d *Dispatcher) rotate(key string, force bool) {
	lock := d.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if !force {
		d.mu.Lock()
		last, ok := d.lastActivity[key]
		fresh := ok && d.opts.Now().Sub(last) < d.opts.IdleTimeout
		d.mu.Unlock()
		if fresh {
			return
		}
	}

	if d.opts.Curator != nil {
		d.curate(key)
	}

	turns := d.sessions.Drain(key)
	if len(turns) > 0 {
		if err := d.flusher.AppendSessionLog(key, turns); err != nil {
			d.logger.Error("session log flush failed", "key", key, "error", err)
		} else {
			d.logger.Info("session rotated", "key", key, "turns", len(turns))
		}
	}

	d.mu.Lock()
	delete(d.lastActivity, key)
	d.mu.Unlock()
}

// curate runs the curation turn over the session transcript. Called with the
// key lock held, before the session is drained, so the curator sees the full
// history exactly once.
func (d *Dispatcher) curate(key string) {
	turns := d.sessions.Turns(key)
	if len(turns) == 0 {
		return
	}

	lines := make([]string, 0, len(turns)+2)
	lines = append(lines,
		"Review this conversation and update the long-term notes with anything worth keeping. Reply with an empty message.",
		"")
	for _, turn := range turns {
		lines = append(lines, fmt.Sprintf("%s: %s", turn.Author, turn.Text))
	}

	ctx := context.Background()
	if d.opts.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.TurnTimeout)
		defer cancel()
	}

	if _, err := d.opts.Curator.RunTurn(ctx, key, strings.Join(lines, "\n")); err != nil {
		d.logger.Warn("curation turn failed, flushing anyway", "key", key, "error", err)
	}
}

func (d *Dispatcher) touch(key string) {
	d.mu.Lock()
	d.lastActivity[key] = d.opts.Now()
	d.mu.Unlock()
}

func (d *Dispatcher) keyLock(key string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		d.keyLocks[key] = lock
	}
	return lock
}

// combinePrompt renders a batch as a single prompt. A lone event passes
// through verbatim; multiple debounced events become one message with sender
// prefixes so the agent sees them as a unit.
func combinePrompt(events []core.InboundEvent) string {
	if len(events) == 1 {
		return events[0].Text
	}
	lines := make([]string, len(events))
	for i, ev := range events {
		lines[i] = fmt.Sprintf("%s: %s", ev.Sender, ev.Text)
	}
	return strings.Join(lines, "\n")
}
