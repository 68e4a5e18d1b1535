package mock

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbed_Deterministic(t *testing.T) {
	e := New()
	ctx := context.Background()

	a, err := e.Embed(ctx, "hello world")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "hello world")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := e.Embed(ctx, "different text")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestEmbed_UnitVector(t *testing.T) {
	e := New()
	vec, err := e.Embed(context.Background(), "some text")
	require.NoError(t, err)
	require.Len(t, vec, e.Dimensions())

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-4)
}
