package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/sidekick/core"
	"github.com/hupe1980/sidekick/logging"
)

// Tier identifies which memory tier a document belongs to.
type Tier string

const (
	// TierCurated is the single mutable long-term notes document.
	TierCurated Tier = "curated"
	// TierSessionLog is the append-only dated log tier.
	TierSessionLog Tier = "session-log"
)

const curatedFile = "MEMORY.md"

// Document is one on-disk memory document plus its provenance.
type Document struct {
	Source     string // path relative to the base dir, e.g. "memory/MEMORY.md"
	Tier       Tier
	Text       string
	ModifiedAt time.Time
}

// Options configures the store.
type Options struct {
	Logger logging.Logger
	// Now supplies timestamps for log sections; overridable in tests.
	Now func() time.Time
}

// Store owns the markdown memory documents under <baseDir>/memory. All
// mutations are serialized by an internal mutex so both dispatcher lanes can
// write without interleaving partial sections. Every successful write bumps
// the version counter.
type Store struct {
	baseDir string
	logger  logging.Logger
	now     func() time.Time

	mu      sync.Mutex
	version atomic.Int64
}

// NewStore creates the store and its directory layout.
func NewStore(baseDir string, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Now:    func() time.Time { return time.Now().UTC() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := os.MkdirAll(filepath.Join(baseDir, "memory"), 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}

	return &Store{baseDir: baseDir, logger: opts.Logger, now: opts.Now}, nil
}

// Version returns the current write version. The search engine compares this
// against the version its index was built from; any difference means stale.
func (s *Store) Version() int64 { return s.version.Load() }

func (s *Store) curatedPath() string {
	return filepath.Join(s.baseDir, "memory", curatedFile)
}

func (s *Store) sessionLogPath(day time.Time) string {
	return filepath.Join(s.baseDir, "memory", day.Format("2006-01-02")+".md")
}

// AppendSessionLog writes the given turns as a timestamped section of today's
// session log. Errors are surfaced to the caller; a silently lost write would
// corrupt the append-only tier.
func (s *Store) AppendSessionLog(conversationKey string, turns []core.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	path := s.sessionLogPath(now)

	var sb strings.Builder
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(&sb, "# Session Log — %s\n\n", now.Format("2006-01-02"))
	}
	fmt.Fprintf(&sb, "## %s\n\n", now.Format("15:04"))
	for _, turn := range turns {
		text := strings.TrimSpace(turn.Text)
		if text == "" {
			continue
		}
		ts := turn.Timestamp
		if ts.IsZero() {
			ts = now
		}
		fmt.Fprintf(&sb, "**[%s] %s**: %s\n", ts.Format("15:04:05"), turn.Author, text)
	}
	sb.WriteString("\n")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(sb.String()); err != nil {
		return fmt.Errorf("append session log: %w", err)
	}

	s.version.Add(1)
	s.logger.Info("flushed session to daily log", "conversation_key", conversationKey, "turns", len(turns), "file", path)
	return nil
}

// ReadCuratedNotes returns the curated tier's full text. A missing file reads
// as empty. Reads take the store mutex so a concurrent rewrite is never
// observed half-written.
func (s *Store) ReadCuratedNotes() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.curatedPath())
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read curated notes: %w", err)
	}
	return string(data), nil
}

// WriteCuratedNotes overwrites the curated tier.
func (s *Store) WriteCuratedNotes(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.curatedPath(), []byte(text), 0o644); err != nil {
		return fmt.Errorf("write curated notes: %w", err)
	}
	s.version.Add(1)
	return nil
}

// UpsertSection inserts or replaces a section of the curated notes by
// matching its leading top-level heading. Content without a heading is
// appended verbatim at the end.
func (s *Store) UpsertSection(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	existing := ""
	if data, err := os.ReadFile(s.curatedPath()); err == nil {
		existing = string(data)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read curated notes: %w", err)
	}

	heading := leadingHeading(text)
	if heading == "" {
		if existing != "" && !strings.HasSuffix(existing, "\n") {
			existing += "\n"
		}
		if err := os.WriteFile(s.curatedPath(), []byte(existing+"\n"+text+"\n"), 0o644); err != nil {
			return fmt.Errorf("append curated notes: %w", err)
		}
		s.version.Add(1)
		s.logger.Info("appended to curated notes (no heading)")
		return nil
	}

	sections := splitSections(existing)
	replaced := false
	for i, sec := range sections {
		if sec.heading == heading {
			sections[i].block = text
			replaced = true
			break
		}
	}
	if !replaced {
		sections = append(sections, section{heading: heading, block: text})
	}

	if err := os.WriteFile(s.curatedPath(), []byte(joinSections(sections)), 0o644); err != nil {
		return fmt.Errorf("write curated notes: %w", err)
	}
	s.version.Add(1)
	action := "appended"
	if replaced {
		action = "replaced"
	}
	s.logger.Info("upserted curated section", "heading", heading, "action", action)
	return nil
}

// Documents lists every memory document: the curated notes first, then the
// session logs in filename (date) order. Holds the store mutex for the whole
// listing so the snapshot is consistent with respect to in-flight writes.
func (s *Store) Documents() ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.baseDir, "memory")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list memory dir: %w", err)
	}

	var docs []Document
	appendDoc := func(name string, tier Tier) error {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat %s: %w", name, err)
		}
		docs = append(docs, Document{
			Source:     filepath.Join("memory", name),
			Tier:       tier,
			Text:       string(data),
			ModifiedAt: info.ModTime().UTC(),
		})
		return nil
	}

	names := make([]string, 0, len(entries))
	hasCurated := false
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		if e.Name() == curatedFile {
			hasCurated = true
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	if hasCurated {
		if err := appendDoc(curatedFile, TierCurated); err != nil {
			return nil, err
		}
	}
	for _, name := range names {
		if err := appendDoc(name, TierSessionLog); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// section is one top-level heading block of the curated notes.
type section struct {
	heading string
	block   string
}

// leadingHeading returns the text of a leading "# Heading" line, or "" when
// the content starts with anything else.
func leadingHeading(text string) string {
	for _, line := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(line)
		if strings.HasPrefix(stripped, "# ") {
			return strings.TrimSpace(stripped[2:])
		}
		if stripped != "" {
			return ""
		}
	}
	return ""
}

// splitSections splits curated notes into blocks at top-level "# " headings.
// Content before the first heading keeps an empty heading so it survives a
// rewrite untouched.
func splitSections(text string) []section {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var sections []section
	var current *section
	var lines []string

	flush := func() {
		if current == nil && len(lines) == 0 {
			return
		}
		block := strings.TrimSpace(strings.Join(lines, "\n"))
		if current != nil {
			current.block = block
			sections = append(sections, *current)
		} else if block != "" {
			sections = append(sections, section{block: block})
		}
		current = nil
		lines = nil
	}

	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "# ") {
			flush()
			current = &section{heading: strings.TrimSpace(line[2:])}
			lines = []string{line}
			continue
		}
		lines = append(lines, line)
	}
	flush()
	return sections
}

// joinSections reassembles sections with one blank line between them.
func joinSections(sections []section) string {
	blocks := make([]string, 0, len(sections))
	for _, sec := range sections {
		if sec.block != "" {
			blocks = append(blocks, sec.block)
		}
	}
	return strings.Join(blocks, "\n\n") + "\n"
}
