package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/sidekick/logging"
)

const (
	builtinFile = "HEARTBEAT.md"
	userFile    = "HEARTBEAT_USER.md"
)

// FireFunc receives a due entry. Implementations inject the prompt into the
// system; firing is fire-and-forget from the scheduler's point of view.
type FireFunc func(entry Entry)

// Options configures the scheduler.
type Options struct {
	// Interval is the tick period. Cadence resolution is bounded by it.
	Interval time.Duration
	Logger   logging.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Scheduler drives the heartbeat loop: on each tick it re-reads both schedule
// documents, evaluates every entry's cadence against its last fire and calls
// the fire function for due entries. Last-fired state lives in memory only;
// a restart grants each entry one catch-up fire.
type Scheduler struct {
	builtinPath string
	userPath    string
	fire        FireFunc
	logger      logging.Logger
	interval    time.Duration
	now         func() time.Time

	mu        sync.Mutex
	lastFired map[string]time.Time
}

// NewScheduler creates a scheduler over the schedule documents in baseDir.
func NewScheduler(baseDir string, fire FireFunc, optFns ...func(o *Options)) *Scheduler {
	opts := Options{
		Interval: time.Minute,
		Logger:   logging.NoOpLogger{},
		Now:      time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Scheduler{
		builtinPath: filepath.Join(baseDir, builtinFile),
		userPath:    filepath.Join(baseDir, userFile),
		fire:        fire,
		logger:      opts.Logger,
		interval:    opts.Interval,
		now:         opts.Now,
		lastFired:   make(map[string]time.Time),
	}
}

// Run ticks until the context is cancelled. The first tick happens after one
// interval, not immediately.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick evaluates all entries once. Exposed so hosts with their own loop (and
// tests) can drive the scheduler directly.
func (s *Scheduler) Tick() {
	entries := s.loadEntries()
	now := s.now()

	for _, entry := range entries {
		s.mu.Lock()
		last := s.lastFired[entry.ID]
		due := shouldFire(entry.Cadence, last, now)
		if due {
			s.lastFired[entry.ID] = now
		}
		s.mu.Unlock()

		if due {
			s.logger.Info("heartbeat firing", "entry", entry.ID, "origin", string(entry.Origin))
			s.fire(entry)
		}
	}
}

// loadEntries reads both documents and returns the valid entries, builtin
// first. Entries whose heading does not parse as a cadence are skipped with a
// warning. A user entry with the same ID as a builtin one shadows it.
func (s *Scheduler) loadEntries() []Entry {
	var entries []Entry
	seen := make(map[string]int)

	load := func(path string, origin Origin) {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				s.logger.Warn("read schedule document failed", "path", path, "error", err)
			}
			return
		}
		for _, raw := range parseDocument(string(data)) {
			cadence, err := ParseCadence(raw.heading)
			if err != nil {
				s.logger.Warn("skipping schedule entry", "heading", raw.heading, "error", err)
				continue
			}
			entry := Entry{
				ID:          EntryID(raw.heading),
				CadenceText: raw.heading,
				Cadence:     cadence,
				Prompt:      raw.prompt,
				Origin:      origin,
			}
			if i, ok := seen[entry.ID]; ok {
				entries[i] = entry
				continue
			}
			seen[entry.ID] = len(entries)
			entries = append(entries, entry)
		}
	}

	load(s.builtinPath, OriginBuiltin)
	load(s.userPath, OriginUser)
	return entries
}

// ListEntries returns the current schedule, builtin and user, in document
// order with user entries shadowing builtin ones of the same ID.
func (s *Scheduler) ListEntries() []Entry {
	return s.loadEntries()
}

// AddEntry validates the cadence and appends a new section to the user
// document. Returns the created entry.
func (s *Scheduler) AddEntry(cadenceText, prompt string) (Entry, error) {
	cadence, err := ParseCadence(cadenceText)
	if err != nil {
		return Entry{}, err
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Entry{}, fmt.Errorf("prompt must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.userPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return Entry{}, fmt.Errorf("open user schedule: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "# %s\n\n%s\n\n", cadenceText, prompt); err != nil {
		return Entry{}, fmt.Errorf("append user schedule: %w", err)
	}

	return Entry{
		ID:          EntryID(cadenceText),
		CadenceText: cadenceText,
		Cadence:     cadence,
		Prompt:      prompt,
		Origin:      OriginUser,
	}, nil
}

// RemoveEntry deletes the user entry with the given ID by rewriting the user
// document without it. Builtin entries cannot be removed.
func (s *Scheduler) RemoveEntry(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.userPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("entry %q not found", id)
		}
		return fmt.Errorf("read user schedule: %w", err)
	}

	var kept []string
	found := false
	for _, raw := range parseDocument(string(data)) {
		if EntryID(raw.heading) == id {
			found = true
			continue
		}
		kept = append(kept, fmt.Sprintf("# %s\n\n%s", raw.heading, raw.prompt))
	}
	if !found {
		return fmt.Errorf("entry %q not found", id)
	}

	out := ""
	if len(kept) > 0 {
		out = strings.Join(kept, "\n\n") + "\n"
	}
	if err := os.WriteFile(s.userPath, []byte(out), 0o644); err != nil {
		return fmt.Errorf("rewrite user schedule: %w", err)
	}

	delete(s.lastFired, id)
	return nil
}
