package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	openaisdk "github.com/openai/openai-go"
	"github.com/spf13/cobra"

	"github.com/hupe1980/sidekick"
	agentanthropic "github.com/hupe1980/sidekick/agent/anthropic"
	"github.com/hupe1980/sidekick/channel"
	"github.com/hupe1980/sidekick/core"
	embeddingopenai "github.com/hupe1980/sidekick/embedding/openai"
)

func newServeCmd() *cobra.Command {
	var conversationKey string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant with an interactive stdin conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.AdminConversationKey == "" {
				cfg.AdminConversationKey = conversationKey
			}
			logger := newLogger(cfg)

			loop := channel.NewLoopback()

			parts, err := sidekick.NewParts(cfg, func(o *sidekick.Options) {
				o.Logger = logger
				o.Sender = loop
				o.Embedder = embeddingopenai.New(func(eo *embeddingopenai.Options) {
					eo.Model = openaisdk.EmbeddingModel(cfg.Model.EmbeddingModel)
				})
			})
			if err != nil {
				return err
			}

			runner := agentanthropic.NewRunner(parts.Engine, parts.Sessions, func(o *agentanthropic.Options) {
				o.Model = anthropicsdk.Model(cfg.Model.AnthropicModel)
				o.MaxTokens = cfg.Model.MaxTokens
				o.TopK = cfg.Search.TopK
				o.Logger = logger
			})

			sk := parts.Assemble(runner)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sk.Start(ctx)
			if err := loop.Start(ctx, sk.Submit); err != nil {
				return err
			}

			go func() {
				for reply := range loop.Replies() {
					fmt.Printf("\nassistant> %s\n> ", reply.Text)
				}
			}()

			go func() {
				scanner := bufio.NewScanner(os.Stdin)
				fmt.Print("> ")
				for scanner.Scan() {
					text := strings.TrimSpace(scanner.Text())
					if text == "" {
						fmt.Print("> ")
						continue
					}
					loop.Inject(core.NewInboundEvent(conversationKey, text, "user"))
				}
				stop()
			}()

			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return sk.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&conversationKey, "conversation", "cli", "conversation key for stdin messages")
	return cmd
}
