package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/szaher/guildkeeper/internal/report"
	"github.com/szaher/guildkeeper/internal/state"
)

func newStatusCmd() *cobra.Command {
	var guild string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the recorded setup state of a guild",
		Long:  "Without --guild, status lists every guild that has a record.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := settings()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if guild == "" {
				ids, err := store.List(ctx)
				if err != nil {
					return fmt.Errorf("listing guilds: %w", err)
				}
				if len(ids) == 0 {
					fmt.Fprintln(out, "No guilds recorded.")
					return nil
				}
				fmt.Fprintf(out, "%-22s %-12s %s\n", "GUILD", "SETUP", "FAILED")
				for _, id := range ids {
					rec, err := store.Get(ctx, id)
					if err != nil {
						return fmt.Errorf("reading guild %s: %w", id, err)
					}
					fmt.Fprintf(out, "%-22s %-12s %d\n", id, rec.SetupStatus, rec.FailedCount())
				}
				return nil
			}

			rec, err := store.Get(ctx, guild)
			if errors.Is(err, state.ErrNotFound) {
				return fmt.Errorf("no state recorded for guild %s", guild)
			}
			if err != nil {
				return fmt.Errorf("reading state: %w", err)
			}
			report.Status(out, rec)
			return nil
		},
	}

	cmd.Flags().StringVar(&guild, "guild", "", "Guild id")

	return cmd
}
