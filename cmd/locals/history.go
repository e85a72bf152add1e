package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shbozz/locals/internal/engine"
	"github.com/shbozz/locals/internal/store"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the recent messages of a room",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.Normalize()
		if cfg.Room == "" {
			return errors.New("room name is required")
		}
		path := store.Path(cfg.DataDir, cfg.Room)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("no history for room %q: %w", cfg.Room, err)
		}

		ctx := context.Background()
		// the local peer row already exists, so the nick is not used here
		st, _, err := store.Open(ctx, path, cfg.Nick, storeOptions(cfg.Store))
		if err != nil {
			return err
		}
		defer st.Close(ctx)

		entries, err := st.ReadRecent(ctx, historyLimit)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			fmt.Println(engine.FormatEntry(entry))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", store.RecentLimit, "Number of messages to print")
}
