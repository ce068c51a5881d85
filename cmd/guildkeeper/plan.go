package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/szaher/guildkeeper/internal/blueprint"
	"github.com/szaher/guildkeeper/internal/plan"
	"github.com/szaher/guildkeeper/internal/state"
)

func newPlanCmd() *cobra.Command {
	var (
		guild  string
		filter string
		format string
		remote bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what a reconcile would create, from recorded state only",
		RunE: func(cmd *cobra.Command, args []string) error {
			if guild == "" {
				return fmt.Errorf("--guild is required")
			}
			cfg, err := settings()
			if err != nil {
				return err
			}
			bp, err := loadBlueprint(cfg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			p, rec, err := computePlan(ctx, store, bp, guild, filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if err := writePlan(out, p, format); err != nil {
				return err
			}

			if remote {
				client, err := connect(ctx, cfg)
				if err != nil {
					return err
				}
				roles, err := client.Roles(ctx, guild)
				if err != nil {
					return fmt.Errorf("listing roles: %w", err)
				}
				channels, err := client.Channels(ctx, guild)
				if err != nil {
					return fmt.Errorf("listing channels: %w", err)
				}
				fmt.Fprintln(out)
				fmt.Fprint(out, plan.FormatDrift(plan.DetectDrift(p, rec, roles, channels)))
			}

			if p.HasChanges {
				return &exitError{code: 2}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&guild, "guild", "", "Guild id")
	cmd.Flags().StringVar(&filter, "filter", "", `Only show actions matching an expression, e.g. kind == "channel" && type == "forum"`)
	cmd.Flags().StringVar(&format, "format", "text", "Output format (text|json)")
	cmd.Flags().BoolVar(&remote, "remote", false, "Also compare recorded state against the live guild (read-only)")

	return cmd
}

func computePlan(ctx context.Context, store state.Store, bp *blueprint.Blueprint, guild, filter string) (*plan.Plan, *state.GuildRecord, error) {
	rec, err := state.Load(ctx, store, guild)
	if err != nil {
		return nil, nil, fmt.Errorf("loading state: %w", err)
	}
	p := plan.ComputePlan(bp, rec)
	if filter != "" {
		f, err := plan.CompileFilter(filter)
		if err != nil {
			return nil, nil, err
		}
		if p, err = f.Apply(p); err != nil {
			return nil, nil, err
		}
	}
	return p, rec, nil
}

func writePlan(w io.Writer, p *plan.Plan, format string) error {
	switch format {
	case "json":
		out, err := plan.FormatJSON(p)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	case "", "text":
		_, err := io.WriteString(w, plan.FormatText(p))
		return err
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
