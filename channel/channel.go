// Package channel defines the transport contract for conversations: where
// inbound events come from and where replies go. Implementations own
// transport-specific concerns like chunking and formatting; the rest of the
// system only sees events and reply text.
package channel

import (
	"context"

	"github.com/hupe1980/sidekick/core"
)

// Sink receives inbound events from a channel.
type Sink func(event core.InboundEvent)

// Channel is a bidirectional conversation transport.
type Channel interface {
	// Name identifies the transport, e.g. "loopback" or "slack".
	Name() string
	// Start begins delivering inbound events to sink until ctx is
	// cancelled.
	Start(ctx context.Context, sink Sink) error
	// Send delivers a reply to the conversation.
	Send(conversationKey, text string) error
}
