package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/szaher/guildkeeper/internal/blueprint"
	"github.com/szaher/guildkeeper/internal/watch"
)

func newWatchCmd() *cobra.Command {
	var (
		guild  string
		filter string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reprint the plan whenever the blueprint file changes",
		Long:  "Watch never calls the platform or writes state. Use reconcile to apply.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if guild == "" {
				return fmt.Errorf("--guild is required")
			}
			cfg, err := settings()
			if err != nil {
				return err
			}
			if cfg.Blueprint == "" {
				return fmt.Errorf("watch needs a blueprint file (--blueprint)")
			}
			logger, err := newLogger(os.Stderr, cfg.LogLevel)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			show := func(ctx context.Context) error {
				bp, err := blueprint.Load(cfg.Blueprint)
				if err != nil {
					fmt.Fprintf(out, "Blueprint invalid: %v\n", err)
					return nil
				}
				p, _, err := computePlan(ctx, store, bp, guild, filter)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "--- %s\n", cfg.Blueprint)
				return writePlan(out, p, "text")
			}
			if err := show(ctx); err != nil {
				return err
			}
			return watch.New(cfg.Blueprint, show, logger).Run(ctx)
		},
	}

	cmd.Flags().StringVar(&guild, "guild", "", "Guild id")
	cmd.Flags().StringVar(&filter, "filter", "", "Only show actions matching an expression")

	return cmd
}
