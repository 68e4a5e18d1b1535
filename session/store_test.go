package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sidekick/core"
)

func TestStore_AppendAndTurns(t *testing.T) {
	store := NewStore()

	store.Append("chat-1", core.NewTurn("alice", "hello"))
	store.Append("chat-1", core.NewTurn("assistant", "hi there"))

	turns := store.Turns("chat-1")
	require.Len(t, turns, 2)
	assert.Equal(t, "alice", turns[0].Author)
	assert.Equal(t, "assistant", turns[1].Author)

	// Returned slice is a copy.
	turns[0].Text = "mutated"
	assert.Equal(t, "hello", store.Turns("chat-1")[0].Text)
}

func TestStore_TurnsUnknownKey(t *testing.T) {
	store := NewStore()
	assert.Nil(t, store.Turns("nope"))
}

func TestStore_Drain(t *testing.T) {
	store := NewStore()
	store.Append("chat-1", core.NewTurn("alice", "hello"))

	turns := store.Drain("chat-1")
	require.Len(t, turns, 1)
	assert.Nil(t, store.Turns("chat-1"))
	assert.Empty(t, store.ActiveKeys())

	// Draining again is harmless.
	assert.Nil(t, store.Drain("chat-1"))
}

func TestStore_ActiveKeys(t *testing.T) {
	store := NewStore()
	store.Append("a", core.NewTurn("x", "1"))
	store.Append("b", core.NewTurn("y", "2"))

	keys := store.ActiveKeys()
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}
