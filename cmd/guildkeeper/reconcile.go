package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/szaher/guildkeeper/internal/reconcile"
	"github.com/szaher/guildkeeper/internal/report"
	"github.com/szaher/guildkeeper/internal/telemetry"
)

func newReconcileCmd() *cobra.Command {
	var (
		guilds   []string
		dryRun   bool
		delay    time.Duration
		parallel int
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Create the blueprint's missing roles, categories and channels",
		Long: `Reconcile loads the guild state, adopts entities that already exist under
the blueprint's names, and creates the rest. Entities recorded as created
or existing are never touched again. Failed entities are retried on the
next run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := requireGuilds(guilds)
			if err != nil {
				return err
			}
			cfg, err := settings()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("dry-run") {
				dryRun = cfg.DryRun
			}
			if !cmd.Flags().Changed("delay") {
				delay = cfg.CallDelay
			}
			logger, err := newLogger(os.Stderr, cfg.LogLevel)
			if err != nil {
				return err
			}
			bp, err := loadBlueprint(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			ctx = runContext(ctx)

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			client, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			emitter, closeEvents, err := newEmitter(logger)
			if err != nil {
				return err
			}
			defer closeEvents()

			r := reconcile.New(store, client, reconcile.Options{
				DryRun:  dryRun,
				Delay:   delay,
				Emitter: emitter,
				Logger:  logger,
				Metrics: telemetry.Default(),
				Tracer:  telemetry.NewTracer(telemetry.LogExporter(logger)),
			})
			runs, runErr := r.ReconcileMany(ctx, ids, bp, parallel)

			out := cmd.OutOrStdout()
			failed := false
			for i, run := range runs {
				if run.Result == nil {
					continue
				}
				if run.Result.FailedCount() > 0 || run.Result.General != nil {
					failed = true
				}
				if asJSON {
					if err := report.JSON(out, run.Result); err != nil {
						return err
					}
					continue
				}
				if i > 0 {
					fmt.Fprintln(out)
				}
				report.Summary(out, run.Result)
			}
			if runErr != nil {
				return runErr
			}
			if failed {
				return &exitError{code: 2}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&guilds, "guild", nil, "Guild id to reconcile (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be created without calling the platform or writing state")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Minimum spacing between platform calls (default from GUILDKEEPER_CALL_DELAY or 750ms)")
	cmd.Flags().IntVar(&parallel, "parallel", reconcile.DefaultParallelism, "Guilds reconciled at once")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")

	return cmd
}
