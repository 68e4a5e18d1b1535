// Package sidekick wires the assistant backbone: debounced ingestion, dual
// lane dispatch, heartbeat scheduling, the markdown memory store and the
// hybrid search engine. The façade owns component lifecycle; callers inject
// the turn runner, reply sender and embedder collaborators.
package sidekick

import (
	"context"
	"fmt"

	"github.com/hupe1980/sidekick/config"
	"github.com/hupe1980/sidekick/core"
	"github.com/hupe1980/sidekick/dispatch"
	"github.com/hupe1980/sidekick/embedding"
	"github.com/hupe1980/sidekick/heartbeat"
	"github.com/hupe1980/sidekick/ingest"
	"github.com/hupe1980/sidekick/logging"
	"github.com/hupe1980/sidekick/memory"
	"github.com/hupe1980/sidekick/search"
	"github.com/hupe1980/sidekick/session"
)

// Options configures the façade.
type Options struct {
	Logger logging.Logger
	// Embedder enables the vector sub-ranker. Nil means keyword-only search.
	Embedder embedding.Embedder
	// Sender delivers agent replies. Nil discards them.
	Sender core.ReplySender
	// Curator, when set, runs a memory-curation turn over each session
	// before it rotates into the session log.
	Curator core.TurnRunner
}

// Sidekick is the assembled assistant backbone.
type Sidekick struct {
	cfg       *config.Config
	logger    logging.Logger
	store     *memory.Store
	sessions  *session.Store
	engine    *search.Engine
	buffer    *ingest.Buffer
	disp      *dispatch.Dispatcher
	scheduler *heartbeat.Scheduler
	cancel    context.CancelFunc
}

// New assembles a sidekick from the configuration and the injected turn
// runner. The runner is constructed by the caller because it usually needs
// the engine and session store; use NewParts first when that is the case.
func New(cfg *config.Config, runner core.TurnRunner, optFns ...func(o *Options)) (*Sidekick, error) {
	parts, err := NewParts(cfg, optFns...)
	if err != nil {
		return nil, err
	}
	return parts.Assemble(runner), nil
}

// Parts holds the passive components that exist before the turn runner does.
// The runner typically wants the engine and sessions at construction time,
// which is why assembly happens in two steps.
type Parts struct {
	Config   *config.Config
	Logger   logging.Logger
	Store    *memory.Store
	Sessions *session.Store
	Engine   *search.Engine

	sender  core.ReplySender
	curator core.TurnRunner
}

// NewParts builds the store, session store and search engine.
func NewParts(cfg *config.Config, optFns ...func(o *Options)) (*Parts, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	store, err := memory.NewStore(cfg.BaseDir, func(o *memory.Options) {
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, fmt.Errorf("create memory store: %w", err)
	}

	engine, err := search.NewEngine(store, opts.Embedder, func(o *search.Options) {
		o.TopK = cfg.Search.TopK
		o.RRFConstant = cfg.Search.RRFConstant
		o.BM25K1 = cfg.Search.BM25K1
		o.BM25B = cfg.Search.BM25B
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, fmt.Errorf("create search engine: %w", err)
	}

	return &Parts{
		Config:   cfg,
		Logger:   opts.Logger,
		Store:    store,
		Sessions: session.NewStore(),
		Engine:   engine,
		sender:   opts.Sender,
		curator:  opts.Curator,
	}, nil
}

// Assemble wires the dispatcher, ingest buffer and heartbeat scheduler around
// the runner and returns the ready-to-start sidekick.
func (p *Parts) Assemble(runner core.TurnRunner) *Sidekick {
	cfg := p.Config

	disp := dispatch.NewDispatcher(runner, p.Sessions, p.Store, p.sender, func(o *dispatch.Options) {
		o.TurnTimeout = cfg.TurnTimeout
		o.IdleTimeout = cfg.SessionIdleTimeout
		o.Curator = p.curator
		o.Logger = p.Logger
	})

	buffer := ingest.NewBuffer(disp.HandleBatch, func(o *ingest.Options) {
		o.QuietPeriod = cfg.Debounce
		o.Logger = p.Logger
	})

	s := &Sidekick{
		cfg:      cfg,
		logger:   p.Logger,
		store:    p.Store,
		sessions: p.Sessions,
		engine:   p.Engine,
		buffer:   buffer,
		disp:     disp,
	}

	s.scheduler = heartbeat.NewScheduler(cfg.BaseDir, s.fireHeartbeat, func(o *heartbeat.Options) {
		o.Interval = cfg.HeartbeatInterval
		o.Logger = p.Logger
	})

	return s
}

// Start launches the dispatcher lanes and the heartbeat loop.
func (s *Sidekick) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.disp.Start(ctx)
	go s.scheduler.Run(ctx)
	s.logger.Info("sidekick started", "base_dir", s.cfg.BaseDir)
}

// Submit feeds an inbound event into the debounced ingestion buffer.
func (s *Sidekick) Submit(event core.InboundEvent) {
	s.buffer.Submit(event)
}

// Search runs a hybrid query over memory. k <= 0 uses the configured default.
func (s *Sidekick) Search(ctx context.Context, query string, k int) ([]search.Result, error) {
	return s.engine.Search(ctx, query, k)
}

// Memory exposes the markdown store for curated note operations.
func (s *Sidekick) Memory() *memory.Store { return s.store }

// Scheduler exposes the heartbeat scheduler for schedule management.
func (s *Sidekick) Scheduler() *heartbeat.Scheduler { return s.scheduler }

// Shutdown stops ingestion and the heartbeat, drains the lanes and flushes
// every active session to the session log.
func (s *Sidekick) Shutdown(ctx context.Context) error {
	s.buffer.Close()
	if err := s.disp.Shutdown(ctx); err != nil {
		return fmt.Errorf("dispatcher shutdown: %w", err)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("sidekick stopped")
	return nil
}

// fireHeartbeat translates a due schedule entry into a scheduled-lane event
// for the admin conversation. Without an admin conversation key there is no
// target, so the fire is skipped with a warning.
func (s *Sidekick) fireHeartbeat(entry heartbeat.Entry) {
	if s.cfg.AdminConversationKey == "" {
		s.logger.Warn("heartbeat skipped, no admin conversation key configured", "entry", entry.ID)
		return
	}
	text := fmt.Sprintf("[Heartbeat — %s]\n%s", entry.CadenceText, entry.Prompt)
	event := core.NewScheduledEvent(s.cfg.AdminConversationKey, text)
	s.disp.Enqueue(dispatch.WorkItem{
		ConversationKey: event.ConversationKey,
		Lane:            dispatch.LaneScheduled,
		Events:          []core.InboundEvent{event},
	})
}
