package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/sidekick/heartbeat"
)

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage the heartbeat schedule",
	}
	cmd.AddCommand(newScheduleListCmd(), newScheduleAddCmd(), newScheduleRemoveCmd())
	return cmd
}

func scheduler() (*heartbeat.Scheduler, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	// Fire function unused; the CLI only edits the documents.
	return heartbeat.NewScheduler(cfg.BaseDir, func(heartbeat.Entry) {}), nil
}

func newScheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the current schedule entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := scheduler()
			if err != nil {
				return err
			}
			entries := s.ListEntries()
			if len(entries) == 0 {
				fmt.Println("no schedule entries")
				return nil
			}
			for _, entry := range entries {
				fmt.Printf("[%s] %s\n    %s\n", entry.Origin, entry.CadenceText, entry.Prompt)
			}
			return nil
		},
	}
}

func newScheduleAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <cadence> <prompt>",
		Short: `Add a user schedule entry, e.g. add "Every 2 hours" "Check the inbox"`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := scheduler()
			if err != nil {
				return err
			}
			entry, err := s.AddEntry(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("added %q\n", entry.ID)
			return nil
		},
	}
}

func newScheduleRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a user schedule entry by id (the lowercased cadence text)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := scheduler()
			if err != nil {
				return err
			}
			if err := s.RemoveEntry(args[0]); err != nil {
				return err
			}
			fmt.Printf("removed %q\n", args[0])
			return nil
		},
	}
}
