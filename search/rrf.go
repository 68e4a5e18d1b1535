package search

import "sort"

// Provenance labels for the sub-rankers that surfaced a result.
const (
	SourceKeyword = "keyword"
	SourceVector  = "vector"
)

// fuse combines rank-ordered id lists via Reciprocal Rank Fusion:
// fused(id) = sum over rankings containing id of 1/(c + rank), rank 1-based.
// Ids absent from a ranking contribute nothing from it. The returned order is
// fused score descending, id ascending on ties, so identical inputs always
// produce identical output.
func fuse(rankings map[string][]string, c float64) (order []string, scores map[string]float64, sources map[string][]string) {
	scores = make(map[string]float64)
	sources = make(map[string][]string)

	// Deterministic ranking iteration: keyword first, then vector.
	for _, name := range []string{SourceKeyword, SourceVector} {
		ranked, ok := rankings[name]
		if !ok {
			continue
		}
		for i, id := range ranked {
			scores[id] += 1 / (c + float64(i+1))
			sources[id] = append(sources[id], name)
		}
	}

	order = make([]string, 0, len(scores))
	for id := range scores {
		order = append(order, id)
	}
	sort.Slice(order, func(a, b int) bool {
		if scores[order[a]] != scores[order[b]] {
			return scores[order[a]] > scores[order[b]]
		}
		return order[a] < order[b]
	})
	return order, scores, sources
}
