package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sidekick/core"
	"github.com/hupe1980/sidekick/session"
)

// recordingRunner captures prompts in arrival order and replies per script.
type recordingRunner struct {
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string) (core.TurnResult, error)
	done    chan string
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{
		reply: func(prompt string) (core.TurnResult, error) {
			return core.TurnResult{Text: "ack: " + prompt}, nil
		},
		done: make(chan string, 32),
	}
}

func (r *recordingRunner) RunTurn(_ context.Context, _ string, prompt string) (core.TurnResult, error) {
	r.mu.Lock()
	r.prompts = append(r.prompts, prompt)
	r.mu.Unlock()
	result, err := r.reply(prompt)
	r.done <- prompt
	return result, err
}

func (r *recordingRunner) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.prompts))
	copy(out, r.prompts)
	return out
}

func (r *recordingRunner) waitForTurns(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for turn %d of %d", i+1, n)
		}
	}
}

// recordingFlusher captures session log flushes.
type recordingFlusher struct {
	mu      sync.Mutex
	flushes map[string][][]core.Turn
}

func newRecordingFlusher() *recordingFlusher {
	return &recordingFlusher{flushes: make(map[string][][]core.Turn)}
}

func (f *recordingFlusher) AppendSessionLog(key string, turns []core.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes[key] = append(f.flushes[key], turns)
	return nil
}

func (f *recordingFlusher) flushCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.flushes[key])
}

// flusherFunc adapts a function to the SessionFlusher interface.
type flusherFunc func(key string, turns []core.Turn) error

func (f flusherFunc) AppendSessionLog(key string, turns []core.Turn) error { return f(key, turns) }

// recordingSender captures delivered replies.
type recordingSender struct {
	mu      sync.Mutex
	replies []string
}

func (s *recordingSender) Send(_ string, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, text)
	return nil
}

func (s *recordingSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.replies))
	copy(out, s.replies)
	return out
}

func interactiveItem(key string, texts ...string) WorkItem {
	events := make([]core.InboundEvent, len(texts))
	for i, text := range texts {
		events[i] = core.NewInboundEvent(key, text, "alice")
	}
	return WorkItem{ConversationKey: key, Lane: LaneInteractive, Events: events}
}

func TestDispatcher_SerialOrderWithinLane(t *testing.T) {
	runner := newRecordingRunner()
	sessions := session.NewStore()
	d := NewDispatcher(runner, sessions, newRecordingFlusher(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	d.Enqueue(interactiveItem("chat-1", "one"))
	d.Enqueue(interactiveItem("chat-1", "two"))
	d.Enqueue(interactiveItem("chat-1", "three"))

	runner.waitForTurns(t, 3)
	assert.Equal(t, []string{"one", "two", "three"}, runner.recorded())
}

func TestDispatcher_LanesRunIndependently(t *testing.T) {
	block := make(chan struct{})
	runner := newRecordingRunner()
	runner.reply = func(prompt string) (core.TurnResult, error) {
		if prompt == "slow heartbeat" {
			<-block
		}
		return core.TurnResult{Text: "ok"}, nil
	}

	sessions := session.NewStore()
	d := NewDispatcher(runner, sessions, newRecordingFlusher(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	// The scheduled lane is wedged on a slow turn.
	d.Enqueue(WorkItem{
		ConversationKey: "admin",
		Lane:            LaneScheduled,
		Events:          []core.InboundEvent{core.NewScheduledEvent("admin", "slow heartbeat")},
	})

	// Interactive traffic still flows.
	d.Enqueue(interactiveItem("chat-1", "hello"))
	runner.waitForTurns(t, 1)
	assert.Contains(t, runner.recorded(), "hello")

	close(block)
	runner.waitForTurns(t, 1)
}

func TestDispatcher_TurnErrorDoesNotWedgeLane(t *testing.T) {
	runner := newRecordingRunner()
	runner.reply = func(prompt string) (core.TurnResult, error) {
		if prompt == "bad" {
			return core.TurnResult{}, errors.New("model exploded")
		}
		return core.TurnResult{Text: "ok"}, nil
	}

	sender := &recordingSender{}
	sessions := session.NewStore()
	d := NewDispatcher(runner, sessions, newRecordingFlusher(), sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	d.Enqueue(interactiveItem("chat-1", "bad"))
	d.Enqueue(interactiveItem("chat-1", "good"))

	runner.waitForTurns(t, 2)
	assert.Equal(t, []string{"bad", "good"}, runner.recorded())
	assert.Eventually(t, func() bool {
		sent := sender.sent()
		return len(sent) == 1 && sent[0] == "ok"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcher_EmptyReplyNotSentNotRecorded(t *testing.T) {
	runner := newRecordingRunner()
	runner.reply = func(string) (core.TurnResult, error) {
		return core.TurnResult{}, nil
	}

	sender := &recordingSender{}
	sessions := session.NewStore()
	d := NewDispatcher(runner, sessions, newRecordingFlusher(), sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	d.Enqueue(interactiveItem("chat-1", "hello"))
	runner.waitForTurns(t, 1)

	assert.Empty(t, sender.sent())
	turns := sessions.Turns("chat-1")
	require.Len(t, turns, 1, "only the user turn is recorded")
	assert.Equal(t, "hello", turns[0].Text)
}

func TestDispatcher_SessionAccumulatesTurns(t *testing.T) {
	runner := newRecordingRunner()
	sessions := session.NewStore()
	d := NewDispatcher(runner, sessions, newRecordingFlusher(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	d.Enqueue(interactiveItem("chat-1", "hello"))
	runner.waitForTurns(t, 1)

	require.Eventually(t, func() bool {
		return len(sessions.Turns("chat-1")) == 2
	}, 2*time.Second, 10*time.Millisecond)

	turns := sessions.Turns("chat-1")
	assert.Equal(t, "alice", turns[0].Author)
	assert.Equal(t, "hello", turns[0].Text)
	assert.Equal(t, "assistant", turns[1].Author)
	assert.Equal(t, "ack: hello", turns[1].Text)
}

func TestDispatcher_IdleSessionRotatesOnce(t *testing.T) {
	now := time.Now()
	var nowMu sync.Mutex
	clock := func() time.Time {
		nowMu.Lock()
		defer nowMu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		nowMu.Lock()
		now = now.Add(d)
		nowMu.Unlock()
	}

	runner := newRecordingRunner()
	flusher := newRecordingFlusher()
	sessions := session.NewStore()
	d := NewDispatcher(runner, sessions, flusher, nil, func(o *Options) {
		o.IdleTimeout = 10 * time.Minute
		o.ReapInterval = time.Hour // reap driven manually
		o.Now = clock
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	d.Enqueue(interactiveItem("chat-1", "hello"))
	runner.waitForTurns(t, 1)

	// Not yet idle.
	d.reapIdle()
	assert.Equal(t, 0, flusher.flushCount("chat-1"))

	advance(11 * time.Minute)
	d.reapIdle()
	require.Equal(t, 1, flusher.flushCount("chat-1"))
	assert.Nil(t, sessions.Turns("chat-1"), "session restarts after rotation")

	// A second reap has nothing left to rotate.
	d.reapIdle()
	assert.Equal(t, 1, flusher.flushCount("chat-1"))
}

func TestDispatcher_CuratorRunsBeforeRotationFlush(t *testing.T) {
	var mu sync.Mutex
	var order []string

	curator := core.TurnRunnerFunc(func(_ context.Context, key, prompt string) (core.TurnResult, error) {
		mu.Lock()
		order = append(order, "curate:"+key)
		mu.Unlock()
		assert.Contains(t, prompt, "alice: hello")
		assert.Contains(t, prompt, "assistant: ack: hello")
		return core.TurnResult{}, nil
	})

	flusher := newRecordingFlusher()
	orderedFlusher := flusherFunc(func(key string, turns []core.Turn) error {
		mu.Lock()
		order = append(order, "flush:"+key)
		mu.Unlock()
		return flusher.AppendSessionLog(key, turns)
	})

	runner := newRecordingRunner()
	sessions := session.NewStore()
	d := NewDispatcher(runner, sessions, orderedFlusher, nil, func(o *Options) {
		o.Curator = curator
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	d.Enqueue(interactiveItem("chat-1", "hello"))
	runner.waitForTurns(t, 1)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	require.NoError(t, d.Shutdown(shutdownCtx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"curate:chat-1", "flush:chat-1"}, order)
}

func TestDispatcher_CuratorErrorStillFlushes(t *testing.T) {
	curator := core.TurnRunnerFunc(func(context.Context, string, string) (core.TurnResult, error) {
		return core.TurnResult{}, errors.New("curation model unavailable")
	})

	runner := newRecordingRunner()
	flusher := newRecordingFlusher()
	sessions := session.NewStore()
	d := NewDispatcher(runner, sessions, flusher, nil, func(o *Options) {
		o.Curator = curator
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	d.Enqueue(interactiveItem("chat-1", "hello"))
	runner.waitForTurns(t, 1)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	require.NoError(t, d.Shutdown(shutdownCtx))

	assert.Equal(t, 1, flusher.flushCount("chat-1"))
}

func TestDispatcher_ShutdownFlushesActiveSessions(t *testing.T) {
	runner := newRecordingRunner()
	flusher := newRecordingFlusher()
	sessions := session.NewStore()
	d := NewDispatcher(runner, sessions, flusher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	d.Enqueue(interactiveItem("chat-1", "hello"))
	d.Enqueue(interactiveItem("chat-2", "hi"))
	runner.waitForTurns(t, 2)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	require.NoError(t, d.Shutdown(shutdownCtx))

	assert.Equal(t, 1, flusher.flushCount("chat-1"))
	assert.Equal(t, 1, flusher.flushCount("chat-2"))
}

func TestCombinePrompt(t *testing.T) {
	single := []core.InboundEvent{core.NewInboundEvent("k", "just this", "alice")}
	assert.Equal(t, "just this", combinePrompt(single))

	multi := []core.InboundEvent{
		core.NewInboundEvent("k", "first part", "alice"),
		core.NewInboundEvent("k", "second part", "alice"),
	}
	assert.Equal(t, "alice: first part\nalice: second part", combinePrompt(multi))
}

func TestLaneQueue_FIFOAndClose(t *testing.T) {
	q := newLaneQueue()
	q.push(WorkItem{ConversationKey: "a"})
	q.push(WorkItem{ConversationKey: "b"})
	q.close()

	item, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, "a", item.ConversationKey)

	item, ok = q.pop()
	require.True(t, ok)
	assert.Equal(t, "b", item.ConversationKey)

	_, ok = q.pop()
	assert.False(t, ok)

	// Push after close is dropped.
	q.push(WorkItem{ConversationKey: "c"})
	_, ok = q.pop()
	assert.False(t, ok)
}
