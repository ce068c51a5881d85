package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/szaher/guildkeeper/internal/platform"
	"github.com/szaher/guildkeeper/internal/reconcile"
	"github.com/szaher/guildkeeper/internal/report"
)

func newResetCmd() *cobra.Command {
	var (
		guild        string
		entities     []string
		deleteRemote bool
		dryRun       bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget recorded entities so the next reconcile provisions them again",
		Long: `Reset removes a guild's record, or with --entity only the named entities
(kind:name, e.g. role:Alpha or channel:general). With --delete-remote the
channels and categories guildkeeper created are deleted from the guild
first. Adopted entities and roles are never deleted remotely.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if guild == "" {
				return fmt.Errorf("--guild is required")
			}
			var refs []reconcile.EntityRef
			for _, e := range entities {
				ref, err := reconcile.ParseEntityRef(e)
				if err != nil {
					return err
				}
				refs = append(refs, ref)
			}

			cfg, err := settings()
			if err != nil {
				return err
			}
			logger, err := newLogger(os.Stderr, cfg.LogLevel)
			if err != nil {
				return err
			}
			ctx := runContext(cmd.Context())
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			var client platform.Client
			if deleteRemote && !dryRun {
				d, err := connect(ctx, cfg)
				if err != nil {
					return err
				}
				client = d
			}
			emitter, closeEvents, err := newEmitter(logger)
			if err != nil {
				return err
			}
			defer closeEvents()

			r := reconcile.New(store, client, reconcile.Options{
				DryRun:  dryRun,
				Delay:   cfg.CallDelay,
				Emitter: emitter,
				Logger:  logger,
			})
			res, err := r.Teardown(ctx, guild, reconcile.TeardownOptions{
				Entities:     refs,
				DeleteRemote: deleteRemote,
			})
			if res != nil {
				report.Teardown(cmd.OutOrStdout(), res)
			}
			if err != nil {
				return err
			}
			if len(res.Kept) > 0 {
				return &exitError{code: 2}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&guild, "guild", "", "Guild id")
	cmd.Flags().StringArrayVar(&entities, "entity", nil, "Entity to reset as kind:name (repeatable); default is the whole guild")
	cmd.Flags().BoolVar(&deleteRemote, "delete-remote", false, "Delete channels and categories guildkeeper created")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be reset without changing anything")

	return cmd
}
