package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/sidekick/memory"
)

func newNotesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notes",
		Short: "Inspect and edit the curated memory notes",
	}
	cmd.AddCommand(newNotesShowCmd(), newNotesUpsertCmd())
	return cmd
}

func notesStore() (*memory.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return memory.NewStore(cfg.BaseDir)
}

func newNotesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the curated notes document",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := notesStore()
			if err != nil {
				return err
			}
			text, err := store.ReadCuratedNotes()
			if err != nil {
				return err
			}
			if text == "" {
				fmt.Println("(empty)")
				return nil
			}
			fmt.Print(text)
			return nil
		},
	}
}

func newNotesUpsertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upsert [section]",
		Short: "Replace or append a curated notes section from stdin",
		Long: `Reads markdown from stdin and merges it into the curated notes.
When the input starts with a heading, an existing section with the same
heading is replaced in place; otherwise the input is appended.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := notesStore()
			if err != nil {
				return err
			}
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			text := strings.TrimSpace(string(data))
			if text == "" {
				return fmt.Errorf("empty input")
			}
			return store.UpsertSection(text)
		},
	}
}
