package reconcile

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/szaher/guildkeeper/internal/blueprint"
)

// DefaultParallelism bounds how many guilds reconcile at once.
const DefaultParallelism = 2

// GuildRun is the outcome of reconciling one guild within ReconcileMany.
type GuildRun struct {
	GuildID string
	Result  *Result
	Err     error
}

// ReconcileMany reconciles each guild, at most limit at a time. A guild's
// failure does not stop the others; runs are returned in guildIDs order and
// the error joins every per-guild error.
func (r *Reconciler) ReconcileMany(ctx context.Context, guildIDs []string, bp *blueprint.Blueprint, limit int) ([]GuildRun, error) {
	if limit <= 0 {
		limit = DefaultParallelism
	}
	runs := make([]GuildRun, len(guildIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, id := range guildIDs {
		runs[i].GuildID = id
		g.Go(func() error {
			res, err := r.Reconcile(gctx, id, bp)
			runs[i].Result = res
			runs[i].Err = err
			// Collected per guild; returning it would cancel the others.
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, run := range runs {
		if run.Err != nil {
			errs = append(errs, fmt.Errorf("guild %s: %w", run.GuildID, run.Err))
		}
	}
	return runs, errors.Join(errs...)
}
