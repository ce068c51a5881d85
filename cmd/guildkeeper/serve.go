package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/szaher/guildkeeper/internal/blueprint"
	"github.com/szaher/guildkeeper/internal/bot"
	"github.com/szaher/guildkeeper/internal/config"
	"github.com/szaher/guildkeeper/internal/platform"
	"github.com/szaher/guildkeeper/internal/reconcile"
	"github.com/szaher/guildkeeper/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var (
		metricsAddr string
		resync      string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and answer /setup and /setup-status",
		Long: `Serve connects to the Discord gateway, registers the slash commands and
handles them until interrupted. The blueprint is reloaded and the
GUILDKEEPER_DRY_RUN toggle is read on every invocation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := settings()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("metrics-addr") {
				metricsAddr = cfg.MetricsAddr
			}
			if !cmd.Flags().Changed("resync") {
				resync = cfg.Resync
			}
			logger, err := newLogger(os.Stderr, cfg.LogLevel)
			if err != nil {
				return err
			}
			if _, err := loadBlueprint(cfg); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			session, err := platform.NewSession(cfg.Token)
			if err != nil {
				return fmt.Errorf("%w (set %s)", err, config.EnvToken)
			}
			client := platform.NewDiscord(session)
			emitter, closeEvents, err := newEmitter(logger)
			if err != nil {
				return err
			}
			defer closeEvents()

			metrics := telemetry.Default()
			r := reconcile.New(store, client, reconcile.Options{
				Delay:   cfg.CallDelay,
				Emitter: emitter,
				Logger:  logger,
				Metrics: metrics,
				Tracer:  telemetry.NewTracer(telemetry.LogExporter(logger)),
			})
			b := bot.New(bot.Config{
				Reconciler: r,
				Store:      store,
				Blueprint: func() (*blueprint.Blueprint, error) {
					return blueprint.Load(cfg.Blueprint)
				},
				DryRun:     config.DryRunFromEnv,
				Logger:     logger,
				Invalidate: client.Invalidate,
			})
			b.Attach(ctx, session)

			if err := session.Open(); err != nil {
				return fmt.Errorf("opening gateway: %w", err)
			}
			defer session.Close()
			if err := bot.RegisterCommands(session); err != nil {
				return err
			}
			logger.Info("bot ready", "user_id", client.BotUserID())

			if resync != "" {
				if err := b.StartResync(ctx, resync); err != nil {
					return err
				}
				defer b.Stop()
			}

			g, gctx := errgroup.WithContext(ctx)
			if metricsAddr != "" {
				g.Go(func() error {
					logger.Info("serving metrics", "addr", metricsAddr)
					return metrics.Serve(gctx, metricsAddr)
				})
			}
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutting down")
				return nil
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	cmd.Flags().StringVar(&resync, "resync", "", `Re-run setup for every guild on a cron schedule, e.g. "@every 6h"`)

	return cmd
}
