// Package cli implements the sidekick command line: a serve loop plus
// maintenance commands for memory search, curated notes and the heartbeat
// schedule.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/sidekick/config"
	"github.com/hupe1980/sidekick/logging"
)

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sidekick",
		Short:         "Personal assistant backbone with markdown memory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newServeCmd(),
		newSearchCmd(),
		newNotesCmd(),
		newScheduleCmd(),
	)
	return cmd
}

// loadConfig layers .env and environment variables over the defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.SidekickLogger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
}
