package core

import (
	"context"
	"time"
)

// Turn is one utterance inside a conversation session: who said it, what was
// said and when. Sessions accumulate turns until rotation flushes them to the
// memory store's session-log tier.
type Turn struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn creates a turn stamped with the current UTC time.
func NewTurn(author, text string) Turn {
	return Turn{Author: author, Text: text, Timestamp: time.Now().UTC()}
}

// TurnResult is the outcome of a single agent turn. An empty Text means the
// agent chose not to reply (common for heartbeat turns).
type TurnResult struct {
	Text string
}

// TurnRunner is the agent-turn collaborator. Implementations may call the
// hybrid search engine and write to the memory store internally; the
// dispatcher only sees the final result. RunTurn must respect ctx: the
// dispatcher bounds each turn with a deadline and treats expiry as a turn
// failure.
type TurnRunner interface {
	RunTurn(ctx context.Context, conversationKey, prompt string) (TurnResult, error)
}

// TurnRunnerFunc adapts a plain function to the TurnRunner interface.
type TurnRunnerFunc func(ctx context.Context, conversationKey, prompt string) (TurnResult, error)

// RunTurn calls f.
func (f TurnRunnerFunc) RunTurn(ctx context.Context, conversationKey, prompt string) (TurnResult, error) {
	return f(ctx, conversationKey, prompt)
}

// ReplySender delivers an agent reply back to a conversation. The channel
// collaborator behind it owns transport-specific chunking and formatting.
type ReplySender interface {
	Send(conversationKey, text string) error
}

// ReplySenderFunc adapts a plain function to the ReplySender interface.
type ReplySenderFunc func(conversationKey, text string) error

// Send calls f.
func (f ReplySenderFunc) Send(conversationKey, text string) error {
	return f(conversationKey, text)
}
