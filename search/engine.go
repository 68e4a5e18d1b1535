// Package search implements the hybrid retrieval engine over memory chunks:
// a BM25 keyword sub-ranker and a vector sub-ranker fused with Reciprocal
// Rank Fusion. The derived index is disposable and lazily rebuilt: any write
// to the memory store makes it stale, and the next Search call re-chunks all
// documents and builds a fresh index before ranking. A rebuild never mutates
// the live index; it populates a new one and swaps it atomically, so
// concurrent readers never observe a half-built index.
package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	chromem "github.com/philippgille/chromem-go"

	"github.com/hupe1980/sidekick/embedding"
	"github.com/hupe1980/sidekick/logging"
	"github.com/hupe1980/sidekick/memory"
)

// Result is one ranked chunk: the chunk itself, its fused score and which
// sub-rankers surfaced it.
type Result struct {
	Chunk   memory.Chunk
	Score   float64
	Sources []string
}

// Options configures the engine.
type Options struct {
	// TopK is the default result count when Search is called with k <= 0.
	TopK int
	// RRFConstant is the C in 1/(C + rank).
	RRFConstant float64
	// BM25K1 and BM25B tune keyword scoring.
	BM25K1 float64
	BM25B  float64
	// CandidateFactor widens the per-ranker candidate lists relative to k
	// before fusion.
	CandidateFactor int
	// CacheMaxCost bounds the embedding cache size in bytes.
	CacheMaxCost int64
	Logger       logging.Logger
}

// Engine answers hybrid queries over the memory store. Safe for concurrent
// use; rebuilds are serialized, reads are lock-free pointer loads.
type Engine struct {
	store    *memory.Store
	embedder embedding.Embedder
	cache    *ristretto.Cache
	logger   logging.Logger
	opts     Options

	mu       sync.Mutex
	idx      atomic.Pointer[index]
	rebuilds atomic.Int64
}

// index is one immutable build of both sub-indices. version records the store
// version it reflects; -1 marks a degraded keyword-only build that must be
// retried on the next call.
type index struct {
	version int64
	chunks  map[string]memory.Chunk
	keyword *bm25Index
	vectors *chromem.Collection
	count   int
}

// NewEngine creates the engine. A nil embedder disables the vector sub-ranker
// entirely; searches are then keyword-only without being considered degraded.
func NewEngine(store *memory.Store, embedder embedding.Embedder, optFns ...func(o *Options)) (*Engine, error) {
	opts := Options{
		TopK:            5,
		RRFConstant:     60,
		BM25K1:          1.5,
		BM25B:           0.75,
		CandidateFactor: 2,
		CacheMaxCost:    64 << 20,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     opts.CacheMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	return &Engine{
		store:    store,
		embedder: embedder,
		cache:    cache,
		logger:   opts.Logger,
		opts:     opts,
	}, nil
}

// Rebuilds reports how many index builds have run. Exposed for tests of the
// lazy-rebuild contract.
func (e *Engine) Rebuilds() int64 { return e.rebuilds.Load() }

// Search returns the top k fused results for the query. k <= 0 uses the
// configured default. The call always sees a fresh index: if the store has
// been written since the last build, the index is rebuilt first. When the
// embedding collaborator fails mid-rebuild the call degrades to keyword-only
// ranking and the staleness sticks, so the next call retries the full build.
func (e *Engine) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if k <= 0 {
		k = e.opts.TopK
	}

	idx, err := e.ensureFresh(ctx)
	if err != nil {
		return nil, err
	}
	if idx.count == 0 {
		return nil, nil
	}

	candidates := k * e.opts.CandidateFactor
	rankings := map[string][]string{
		SourceKeyword: idx.keyword.rank(query, candidates),
	}

	if idx.vectors != nil {
		vecRank, err := e.vectorRank(ctx, idx, query, candidates)
		if err != nil {
			// Degrade this call to keyword-only rather than failing outright.
			e.logger.Warn("vector ranking failed, using keyword-only results", "error", err)
		} else if len(vecRank) > 0 {
			rankings[SourceVector] = vecRank
		}
	}

	order, scores, sources := fuse(rankings, e.opts.RRFConstant)
	if len(order) > k {
		order = order[:k]
	}

	results := make([]Result, 0, len(order))
	for _, id := range order {
		chunk, ok := idx.chunks[id]
		if !ok {
			continue
		}
		results = append(results, Result{Chunk: chunk, Score: scores[id], Sources: sources[id]})
	}
	return results, nil
}

// ensureFresh returns the current index, rebuilding it first when the store
// version has moved. Double-checked under the rebuild mutex so concurrent
// searches trigger at most one build.
func (e *Engine) ensureFresh(ctx context.Context) (*index, error) {
	version := e.store.Version()
	if idx := e.idx.Load(); idx != nil && idx.version == version {
		return idx, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	version = e.store.Version()
	if idx := e.idx.Load(); idx != nil && idx.version == version {
		return idx, nil
	}

	idx, err := e.build(ctx, version)
	if err != nil {
		return nil, err
	}
	e.idx.Store(idx)
	e.rebuilds.Add(1)
	return idx, nil
}

// build re-chunks every document and constructs both sub-indices.
func (e *Engine) build(ctx context.Context, version int64) (*index, error) {
	start := time.Now()

	docs, err := e.store.Documents()
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	var chunks []memory.Chunk
	for _, doc := range docs {
		chunks = append(chunks, memory.ChunkDocument(doc)...)
	}

	ids := make([]string, len(chunks))
	texts := make([]string, len(chunks))
	byID := make(map[string]memory.Chunk, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		texts[i] = c.Text
		byID[c.ID] = c
	}

	idx := &index{
		version: version,
		chunks:  byID,
		keyword: newBM25Index(ids, texts, e.opts.BM25K1, e.opts.BM25B),
		count:   len(chunks),
	}

	if e.embedder != nil && len(chunks) > 0 {
		collection, err := e.buildVectors(ctx, chunks)
		if err != nil {
			// Keyword-only fallback: usable now, stale until a full build succeeds.
			e.logger.Warn("vector index build failed, keyword-only until retry", "error", err)
			idx.version = -1
		} else {
			idx.vectors = collection
		}
	}

	e.logger.Debug("index built", "chunks", idx.count, "duration", time.Since(start), "vector", idx.vectors != nil)
	if sl, ok := e.logger.(*logging.SidekickLogger); ok {
		sl.LogRebuild(idx.count, time.Since(start), idx.vectors != nil)
	}
	return idx, nil
}

// buildVectors embeds every chunk (cache permitting) into a fresh chromem
// collection. The collection is private to one index build, which is what
// makes the atomic swap safe.
func (e *Engine) buildVectors(ctx context.Context, chunks []memory.Chunk) (*chromem.Collection, error) {
	db := chromem.NewDB()
	collection, err := db.CreateCollection("chunks", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	for _, chunk := range chunks {
		vec, err := e.embedChunk(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("embed chunk %s: %w", chunk.ID, err)
		}
		doc := chromem.Document{
			ID:        chunk.ID,
			Content:   chunk.Text,
			Embedding: vec,
			Metadata:  map[string]string{"source": chunk.Source, "tier": string(chunk.Tier)},
		}
		if err := collection.AddDocument(ctx, doc); err != nil {
			return nil, fmt.Errorf("add document %s: %w", chunk.ID, err)
		}
	}
	e.cache.Wait()
	return collection, nil
}

// embedChunk returns the chunk's embedding, reusing the cache keyed by the
// chunk's content hash so unchanged chunks survive rebuilds without another
// embedding call.
func (e *Engine) embedChunk(ctx context.Context, chunk memory.Chunk) ([]float32, error) {
	key := contentHash(chunk)
	if v, ok := e.cache.Get(key); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}
	vec, err := e.embedder.Embed(ctx, chunk.Text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, vec, int64(4*len(vec)))
	return vec, nil
}

// vectorRank embeds the query and ranks chunks by cosine similarity.
func (e *Engine) vectorRank(ctx context.Context, idx *index, query string, limit int) ([]string, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	// chromem rejects nResults larger than the collection.
	if limit > idx.count {
		limit = idx.count
	}
	if limit <= 0 {
		return nil, nil
	}
	results, err := idx.vectors.QueryEmbedding(ctx, vec, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids, nil
}

// contentHash keys the embedding cache: same source, heading and text means
// the cached vector is still valid.
func contentHash(chunk memory.Chunk) string {
	sum := sha256.Sum256([]byte(chunk.Source + "|" + chunk.Heading() + "|" + chunk.Text))
	return hex.EncodeToString(sum[:])
}
