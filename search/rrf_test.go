package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuse_CombinesRankings(t *testing.T) {
	rankings := map[string][]string{
		SourceKeyword: {"A", "B", "C"},
		SourceVector:  {"B", "C", "A"},
	}

	order, scores, sources := fuse(rankings, 60)
	require.Len(t, order, 3)

	// B: 1/62 + 1/61 beats A: 1/61 + 1/63 beats C: 1/63 + 1/62.
	assert.Equal(t, []string{"B", "A", "C"}, order)
	assert.InDelta(t, 1.0/62+1.0/61, scores["B"], 1e-12)
	assert.InDelta(t, 1.0/61+1.0/63, scores["A"], 1e-12)
	assert.InDelta(t, 1.0/63+1.0/62, scores["C"], 1e-12)

	assert.Equal(t, []string{SourceKeyword, SourceVector}, sources["A"])
}

func TestFuse_SingleRanking(t *testing.T) {
	order, scores, sources := fuse(map[string][]string{
		SourceKeyword: {"x", "y"},
	}, 60)

	assert.Equal(t, []string{"x", "y"}, order)
	assert.InDelta(t, 1.0/61, scores["x"], 1e-12)
	assert.Equal(t, []string{SourceKeyword}, sources["x"])
}

func TestFuse_TieBreaksByIDAscending(t *testing.T) {
	// Same rank position in disjoint rankings gives identical scores.
	order, _, _ := fuse(map[string][]string{
		SourceKeyword: {"zz"},
		SourceVector:  {"aa"},
	}, 60)
	assert.Equal(t, []string{"aa", "zz"}, order)
}

func TestFuse_Deterministic(t *testing.T) {
	rankings := map[string][]string{
		SourceKeyword: {"A", "B", "C", "D"},
		SourceVector:  {"D", "C", "B", "A"},
	}
	first, _, _ := fuse(rankings, 60)
	for i := 0; i < 10; i++ {
		again, _, _ := fuse(rankings, 60)
		assert.Equal(t, first, again)
	}
}

func TestFuse_Empty(t *testing.T) {
	order, scores, sources := fuse(nil, 60)
	assert.Empty(t, order)
	assert.Empty(t, scores)
	assert.Empty(t, sources)
}
