package cli

import (
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/spf13/cobra"

	"github.com/hupe1980/sidekick"
	embeddingopenai "github.com/hupe1980/sidekick/embedding/openai"
)

func newSearchCmd() *cobra.Command {
	var (
		topK        int
		keywordOnly bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a hybrid search over the memory store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			parts, err := sidekick.NewParts(cfg, func(o *sidekick.Options) {
				o.Logger = logger
				if !keywordOnly {
					o.Embedder = embeddingopenai.New(func(eo *embeddingopenai.Options) {
						eo.Model = openaisdk.EmbeddingModel(cfg.Model.EmbeddingModel)
					})
				}
			})
			if err != nil {
				return err
			}

			query := strings.Join(args, " ")
			results, err := parts.Engine.Search(cmd.Context(), query, topK)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("no results")
				return nil
			}
			for i, res := range results {
				fmt.Printf("%d. %s (score %.4f, %s)\n", i+1, res.Chunk.Label(), res.Score, strings.Join(res.Sources, "+"))
				for _, line := range strings.Split(res.Chunk.Text, "\n") {
					fmt.Printf("   %s\n", line)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&topK, "top-k", 0, "number of results (0 uses the configured default)")
	cmd.Flags().BoolVar(&keywordOnly, "keyword-only", false, "skip the vector sub-ranker")
	return cmd
}
