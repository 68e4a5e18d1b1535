package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sidekick/core"
)

func fixedNow() time.Time {
	return time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), func(o *Options) {
		o.Now = fixedNow
	})
	require.NoError(t, err)
	return store
}

func TestAppendSessionLog_NewFileGetsHeader(t *testing.T) {
	store := newTestStore(t)

	err := store.AppendSessionLog("chat-1", []core.Turn{
		{Author: "alice", Text: "hello", Timestamp: fixedNow()},
		{Author: "assistant", Text: "hi", Timestamp: fixedNow().Add(2 * time.Second)},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(store.baseDir, "memory", "2025-03-14.md"))
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, "# Session Log — 2025-03-14")
	assert.Contains(t, content, "## 09:26")
	assert.Contains(t, content, "**[09:26:53] alice**: hello")
	assert.Contains(t, content, "**[09:26:55] assistant**: hi")
}

func TestAppendSessionLog_SecondSectionNoDuplicateHeader(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.AppendSessionLog("chat-1", []core.Turn{{Author: "a", Text: "one", Timestamp: fixedNow()}}))
	require.NoError(t, store.AppendSessionLog("chat-2", []core.Turn{{Author: "b", Text: "two", Timestamp: fixedNow()}}))

	data, err := os.ReadFile(filepath.Join(store.baseDir, "memory", "2025-03-14.md"))
	require.NoError(t, err)

	content := string(data)
	assert.Equal(t, 1, countOccurrences(content, "# Session Log"))
	assert.Equal(t, 2, countOccurrences(content, "## 09:26"))
}

func TestAppendSessionLog_EmptyTurnsNoop(t *testing.T) {
	store := newTestStore(t)
	before := store.Version()
	require.NoError(t, store.AppendSessionLog("chat-1", nil))
	assert.Equal(t, before, store.Version())
}

func TestUpsertSection_ReplaceInPlace(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.UpsertSection("# Preferences\n\nLikes coffee."))
	require.NoError(t, store.UpsertSection("# Projects\n\nBuilding a birdhouse."))
	require.NoError(t, store.UpsertSection("# Preferences\n\nLikes tea now."))

	text, err := store.ReadCuratedNotes()
	require.NoError(t, err)

	assert.Contains(t, text, "Likes tea now.")
	assert.NotContains(t, text, "Likes coffee.")
	// Replaced section keeps its position before Projects.
	assert.Less(t, indexOf(text, "# Preferences"), indexOf(text, "# Projects"))
}

func TestUpsertSection_NoHeadingAppends(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.UpsertSection("# Notes\n\nSomething."))
	require.NoError(t, store.UpsertSection("A loose remark without a heading."))

	text, err := store.ReadCuratedNotes()
	require.NoError(t, err)
	assert.Contains(t, text, "A loose remark without a heading.")
	assert.Less(t, indexOf(text, "# Notes"), indexOf(text, "A loose remark"))
}

func TestVersion_BumpsOnEveryWrite(t *testing.T) {
	store := newTestStore(t)
	require.Equal(t, int64(0), store.Version())

	require.NoError(t, store.UpsertSection("# A\n\ncontent"))
	assert.Equal(t, int64(1), store.Version())

	require.NoError(t, store.AppendSessionLog("k", []core.Turn{{Author: "a", Text: "x", Timestamp: fixedNow()}}))
	assert.Equal(t, int64(2), store.Version())

	require.NoError(t, store.WriteCuratedNotes("# A\n\nrewritten\n"))
	assert.Equal(t, int64(3), store.Version())
}

func TestDocuments_CuratedFirstThenLogsByDate(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.AppendSessionLog("k", []core.Turn{{Author: "a", Text: "x", Timestamp: fixedNow()}}))
	require.NoError(t, store.UpsertSection("# Notes\n\ncurated content"))

	// An older log written out of band.
	older := filepath.Join(store.baseDir, "memory", "2025-03-10.md")
	require.NoError(t, os.WriteFile(older, []byte("# Session Log — 2025-03-10\n\n## 08:00\n\n**[08:00:00] a**: old\n"), 0o644))

	docs, err := store.Documents()
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, TierCurated, docs[0].Tier)
	assert.Equal(t, "memory/MEMORY.md", filepath.ToSlash(docs[0].Source))
	assert.Equal(t, "memory/2025-03-10.md", filepath.ToSlash(docs[1].Source))
	assert.Equal(t, "memory/2025-03-14.md", filepath.ToSlash(docs[2].Source))
}

func TestReadCuratedNotes_NeverTornUnderConcurrentWrites(t *testing.T) {
	store := newTestStore(t)

	a := "# A\n\n" + strings.Repeat("alpha content line\n", 200)
	b := "# B\n\n" + strings.Repeat("beta content line\n", 200)
	require.NoError(t, store.WriteCuratedNotes(a))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_ = store.WriteCuratedNotes(a)
			_ = store.WriteCuratedNotes(b)
		}
	}()

	for i := 0; i < 200; i++ {
		text, err := store.ReadCuratedNotes()
		require.NoError(t, err)
		if text != a && text != b {
			t.Fatalf("read a torn document (%d bytes)", len(text))
		}
	}
	<-done
}

func TestDocuments_EmptyStore(t *testing.T) {
	store := newTestStore(t)
	docs, err := store.Documents()
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func countOccurrences(s, sub string) int { return strings.Count(s, sub) }

func indexOf(s, sub string) int { return strings.Index(s, sub) }
