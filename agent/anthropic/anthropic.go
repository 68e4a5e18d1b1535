// Package anthropic implements the agent-turn collaborator on the Anthropic
// Messages API. A turn retrieves memory context through the hybrid search
// engine, replays the session history and asks the model for the next reply.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/sidekick/core"
	"github.com/hupe1980/sidekick/logging"
	"github.com/hupe1980/sidekick/search"
	"github.com/hupe1980/sidekick/session"
)

const defaultSystemPrompt = `You are a personal assistant with a persistent markdown memory.
Relevant memory excerpts are provided below; use them when they help, ignore them when they do not.
Messages prefixed with "[Heartbeat" are scheduled self-prompts: act on them if there is something useful to do, otherwise reply with an empty message.`

// Options configures the runner.
type Options struct {
	Model        anthropic.Model
	MaxTokens    int64
	Temperature  float64
	APIKey       string
	SystemPrompt string
	// TopK is how many memory chunks a turn retrieves for context.
	TopK   int
	Logger logging.Logger
}

// Runner is the Messages API implementation of core.TurnRunner.
type Runner struct {
	client   anthropic.Client
	engine   *search.Engine
	sessions *session.Store
	logger   logging.Logger
	opts     Options
}

var _ core.TurnRunner = (*Runner)(nil)

// NewRunner creates a runner. engine may be nil to disable memory retrieval.
func NewRunner(engine *search.Engine, sessions *session.Store, optFns ...func(o *Options)) *Runner {
	opts := Options{
		Model:        anthropic.ModelClaude3_5SonnetLatest,
		MaxTokens:    4096,
		Temperature:  1.0,
		SystemPrompt: defaultSystemPrompt,
		TopK:         5,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	return &Runner{
		client:   anthropic.NewClient(clientOpts...),
		engine:   engine,
		sessions: sessions,
		logger:   opts.Logger,
		opts:     opts,
	}
}

// RunTurn executes one agent turn for the conversation. Retrieval failures are
// logged and the turn proceeds without memory context; only the model call
// itself can fail the turn.
func (r *Runner) RunTurn(ctx context.Context, conversationKey, prompt string) (core.TurnResult, error) {
	system := r.opts.SystemPrompt
	if excerpts := r.retrieve(ctx, prompt); excerpts != "" {
		system = system + "\n\n## Memory excerpts\n\n" + excerpts
	}

	messages := r.history(conversationKey)
	if len(messages) == 0 {
		messages = []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		}
	}

	resp, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       r.opts.Model,
		MaxTokens:   r.opts.MaxTokens,
		Temperature: anthropic.Float(r.opts.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: messages,
	})
	if err != nil {
		return core.TurnResult{}, fmt.Errorf("anthropic api error: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	return core.TurnResult{Text: strings.TrimSpace(sb.String())}, nil
}

// retrieve runs the hybrid search for the prompt and renders the hits as a
// labelled excerpt list.
func (r *Runner) retrieve(ctx context.Context, prompt string) string {
	if r.engine == nil {
		return ""
	}
	results, err := r.engine.Search(ctx, prompt, r.opts.TopK)
	if err != nil {
		r.logger.Warn("memory retrieval failed, continuing without context", "error", err)
		return ""
	}
	if len(results) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, res := range results {
		fmt.Fprintf(&sb, "### %s\n\n%s\n\n", res.Chunk.Label(), res.Chunk.Text)
	}
	return strings.TrimSpace(sb.String())
}

// history replays the session as alternating messages. The session already
// contains the current prompt as its latest user turn, appended by the
// dispatcher before the turn runs.
func (r *Runner) history(conversationKey string) []anthropic.MessageParam {
	turns := r.sessions.Turns(conversationKey)
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, turn := range turns {
		if turn.Author == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Text)))
			continue
		}
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Text)))
	}
	return messages
}
