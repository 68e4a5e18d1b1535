package search

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var tokenRE = regexp.MustCompile(`\w+`)

// tokenize lowercases and splits text into word tokens.
func tokenize(text string) []string {
	return tokenRE.FindAllString(strings.ToLower(text), -1)
}

// bm25Index is the sparse keyword sub-index: per-document term frequencies
// plus the corpus statistics BM25 needs. Built once per rebuild, read-only
// afterwards.
type bm25Index struct {
	k1, b float64

	ids    []string
	tf     []map[string]int
	docLen []int
	avgLen float64
	df     map[string]int
}

// newBM25Index builds the index over (id, text) pairs in order.
func newBM25Index(ids []string, texts []string, k1, b float64) *bm25Index {
	idx := &bm25Index{
		k1:     k1,
		b:      b,
		ids:    ids,
		tf:     make([]map[string]int, len(ids)),
		docLen: make([]int, len(ids)),
		df:     make(map[string]int),
	}

	total := 0
	for i, text := range texts {
		tokens := tokenize(text)
		freqs := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			freqs[tok]++
		}
		idx.tf[i] = freqs
		idx.docLen[i] = len(tokens)
		total += len(tokens)
		for tok := range freqs {
			idx.df[tok]++
		}
	}
	if len(ids) > 0 {
		idx.avgLen = float64(total) / float64(len(ids))
	}
	return idx
}

// idf uses the standard Okapi formulation; terms in every document still get
// a small positive weight via the +1 inside the log.
func (idx *bm25Index) idf(term string) float64 {
	df := idx.df[term]
	if df == 0 {
		return 0
	}
	n := float64(len(idx.ids))
	return math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
}

// rank scores the query against every document and returns the ids of
// positively scoring documents, best first, capped at limit. Ties break by id
// ascending for reproducibility.
func (idx *bm25Index) rank(query string, limit int) []string {
	terms := tokenize(query)
	if len(terms) == 0 || len(idx.ids) == 0 {
		return nil
	}

	type scored struct {
		id    string
		score float64
	}
	var results []scored
	for i, id := range idx.ids {
		score := 0.0
		for _, term := range terms {
			tf := float64(idx.tf[i][term])
			if tf == 0 {
				continue
			}
			norm := 1 - idx.b + idx.b*float64(idx.docLen[i])/idx.avgLen
			score += idx.idf(term) * (tf * (idx.k1 + 1)) / (tf + idx.k1*norm)
		}
		if score > 0 {
			results = append(results, scored{id: id, score: score})
		}
	}

	sort.Slice(results, func(a, b int) bool {
		if results[a].score != results[b].score {
			return results[a].score > results[b].score
		}
		return results[a].id < results[b].id
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.id
	}
	return ids
}
