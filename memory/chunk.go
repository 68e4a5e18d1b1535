package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Chunk is the unit of retrieval: one heading-delimited section of a memory
// document, carrying the full heading path for attribution.
type Chunk struct {
	ID          string
	Source      string
	Tier        Tier
	HeadingPath []string
	Text        string
	ModifiedAt  time.Time
}

// Heading returns the innermost heading title, or "" for preamble chunks.
func (c Chunk) Heading() string {
	if len(c.HeadingPath) == 0 {
		return ""
	}
	return c.HeadingPath[len(c.HeadingPath)-1]
}

// Label renders the chunk's provenance for prompt injection, e.g.
// "memory/MEMORY.md — Preferences".
func (c Chunk) Label() string {
	if h := c.Heading(); h != "" {
		return c.Source + " — " + h
	}
	return c.Source
}

// ChunkDocument splits a heading-structured document into chunks. Each chunk
// covers the body text between one heading and the next; nested headings
// extend the heading path. Chunk identity is a stable hash of the source file
// plus the heading path, so re-parsing unchanged content yields the same ids
// and index entries can be diffed across rebuilds. Duplicate heading paths
// within one document (common in session logs where the same "## HH:MM" can
// recur) get an occurrence suffix to stay distinct.
func ChunkDocument(doc Document) []Chunk {
	var chunks []Chunk
	var path []string
	var lines []string
	seen := make(map[string]int)

	flush := func() {
		text := strings.TrimSpace(strings.Join(lines, "\n"))
		lines = nil
		if text == "" {
			return
		}
		pathCopy := make([]string, len(path))
		copy(pathCopy, path)
		chunks = append(chunks, Chunk{
			ID:          chunkID(doc.Source, pathCopy, seen),
			Source:      doc.Source,
			Tier:        doc.Tier,
			HeadingPath: pathCopy,
			Text:        text,
			ModifiedAt:  doc.ModifiedAt,
		})
	}

	for _, line := range strings.Split(doc.Text, "\n") {
		level, title := headingLine(line)
		if level == 0 {
			lines = append(lines, line)
			continue
		}
		flush()
		if level-1 < len(path) {
			path = path[:level-1]
		}
		path = append(path, title)
	}
	flush()

	return chunks
}

// headingLine reports the heading level (0 for non-headings) and title.
func headingLine(line string) (int, string) {
	if !strings.HasPrefix(line, "#") {
		return 0, ""
	}
	rest := strings.TrimLeft(line, "#")
	level := len(line) - len(rest)
	if level > 6 {
		return 0, ""
	}
	return level, strings.TrimSpace(rest)
}

// chunkID hashes source file + heading path into a stable 16-byte hex id.
func chunkID(source string, path []string, seen map[string]int) string {
	key := source + "\x00" + strings.Join(path, "\x00")
	if n := seen[key]; n > 0 {
		key = fmt.Sprintf("%s\x00#%d", key, n)
	}
	seen[source+"\x00"+strings.Join(path, "\x00")]++
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}
