package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/szaher/guildkeeper/internal/events"
	"github.com/szaher/guildkeeper/internal/hints"
	"github.com/szaher/guildkeeper/internal/plan"
	"github.com/szaher/guildkeeper/internal/platform"
	"github.com/szaher/guildkeeper/internal/state"
	"github.com/szaher/guildkeeper/internal/telemetry"
)

// codeUnknownChannel is returned when deleting a channel that is already
// gone.
const codeUnknownChannel = 10003

// EntityRef names one recorded entity.
type EntityRef struct {
	Kind plan.Kind
	Name string
}

func (e EntityRef) String() string {
	return string(e.Kind) + ":" + e.Name
}

// ParseEntityRef parses "kind:name", for example "role:Alpha".
func ParseEntityRef(ref string) (EntityRef, error) {
	kind, name, ok := strings.Cut(ref, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return EntityRef{}, fmt.Errorf("invalid entity %q, want kind:name", ref)
	}
	switch k := plan.Kind(strings.ToLower(strings.TrimSpace(kind))); k {
	case plan.KindRole, plan.KindCategory, plan.KindChannel:
		return EntityRef{Kind: k, Name: name}, nil
	default:
		return EntityRef{}, fmt.Errorf("invalid entity kind %q, want role, category or channel", kind)
	}
}

// TeardownOptions selects what Teardown removes.
type TeardownOptions struct {
	// Entities limits the reset to the named entities. Empty means the
	// whole guild record.
	Entities []EntityRef
	// DeleteRemote also deletes the channels and categories recorded as
	// created. Adopted entities and roles are never deleted remotely.
	DeleteRemote bool
}

// TeardownResult reports what Teardown did.
type TeardownResult struct {
	GuildID string
	DryRun  bool
	// Reset lists the entities removed from state.
	Reset []string
	// Deleted lists the entities deleted remotely.
	Deleted []string
	// Kept lists entities left in state because their remote deletion
	// failed.
	Kept   []string
	Errors []EntityError
	// Removed is true when the whole guild record was deleted.
	Removed bool
}

// Teardown resets recorded state so entities are provisioned again on the
// next run, optionally deleting what guildkeeper created. With the dry-run
// option set it only reports what it would do.
func (r *Reconciler) Teardown(ctx context.Context, guildID string, opts TeardownOptions) (*TeardownResult, error) {
	if telemetry.CorrelationID(ctx) == "" {
		ctx = telemetry.WithCorrelationID(ctx, "")
	}
	cid := telemetry.CorrelationID(ctx)
	log := telemetry.RunLogger(r.opts.Logger, ctx, guildID)

	release, err := r.opts.Guard.Acquire(guildID)
	if err != nil {
		return nil, err
	}
	defer release()

	rec, err := r.store.Get(ctx, guildID)
	if errors.Is(err, state.ErrNotFound) {
		return nil, fmt.Errorf("guild %s: %w", guildID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("loading state for guild %s: %w", guildID, err)
	}

	targets := opts.Entities
	whole := len(targets) == 0
	if whole {
		targets = allEntities(rec)
	}
	for _, t := range targets {
		if !recorded(rec, t) {
			return nil, fmt.Errorf("%s is not recorded for guild %s", t, guildID)
		}
	}

	res := &TeardownResult{GuildID: guildID, DryRun: r.opts.DryRun}
	pace := newPacer(r.opts.Delay)

	// Channels go before categories so a category is emptied first.
	sort.SliceStable(targets, func(i, j int) bool {
		return teardownOrder(targets[i].Kind) < teardownOrder(targets[j].Kind)
	})

	next := rec.Clone()
	var stopped error
	for _, t := range targets {
		id, deletable := remoteID(rec, t)
		if opts.DeleteRemote && deletable {
			if r.opts.DryRun {
				log.Info("dry run: would delete", "entity", t.String(), "id", id)
				res.Deleted = append(res.Deleted, t.String())
			} else {
				if err := pace.Wait(ctx); err != nil {
					stopped = err
					if ctxErr := ctx.Err(); ctxErr != nil {
						stopped = ctxErr
					}
					break
				}
				err := r.client.DeleteChannel(ctx, guildID, id)
				if err != nil && isContextErr(err) {
					// The deletion may not have happened; the entity stays
					// recorded and a later teardown retries it.
					stopped = err
					break
				}
				if err != nil && platform.Code(err) != codeUnknownChannel {
					res.Kept = append(res.Kept, t.String())
					res.Errors = append(res.Errors, EntityError{
						Context: t.String(),
						Code:    platform.Code(err),
						Message: err.Error(),
						Hint:    hints.Classify(err),
					})
					log.Warn("delete failed", "entity", t.String(), "error", err)
					continue
				}
				res.Deleted = append(res.Deleted, t.String())
			}
		}
		forget(next, t)
		res.Reset = append(res.Reset, t.String())
		r.opts.Emitter.Emit(events.New(events.TeardownEntity, cid).ForGuild(guildID).
			WithData("entity", t.String()).
			WithData("dry_run", r.opts.DryRun))
	}

	if r.opts.DryRun {
		res.Removed = whole && len(res.Kept) == 0
		return res, nil
	}

	if stopped != nil {
		log.Warn("teardown interrupted", "error", stopped, slog.Int("reset", len(res.Reset)))
		if len(res.Reset) > 0 {
			next.SetupStatus = state.SetupNone
			next.UpdatedAt = r.opts.Now().UTC()
			if err := r.store.Put(context.WithoutCancel(ctx), next); err != nil {
				return res, errors.Join(stopped, fmt.Errorf("saving state for guild %s: %w", guildID, err))
			}
		}
		return res, stopped
	}

	if whole && len(res.Kept) == 0 {
		if err := r.store.Delete(ctx, guildID); err != nil {
			return res, fmt.Errorf("deleting state for guild %s: %w", guildID, err)
		}
		res.Removed = true
		log.Info("guild state removed")
		return res, nil
	}

	next.SetupStatus = state.SetupNone
	next.UpdatedAt = r.opts.Now().UTC()
	if err := r.store.Put(ctx, next); err != nil {
		return res, fmt.Errorf("saving state for guild %s: %w", guildID, err)
	}
	log.Info("entities reset", slog.Int("reset", len(res.Reset)), slog.Int("deleted", len(res.Deleted)))
	return res, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func teardownOrder(k plan.Kind) int {
	switch k {
	case plan.KindChannel:
		return 0
	case plan.KindCategory:
		return 1
	default:
		return 2
	}
}

func allEntities(rec *state.GuildRecord) []EntityRef {
	var out []EntityRef
	for _, name := range sortedNames(rec.Roles) {
		out = append(out, EntityRef{Kind: plan.KindRole, Name: name})
	}
	for _, name := range sortedNames(rec.Categories) {
		out = append(out, EntityRef{Kind: plan.KindCategory, Name: name})
	}
	for _, name := range sortedNames(rec.Channels) {
		out = append(out, EntityRef{Kind: plan.KindChannel, Name: name})
	}
	return out
}

func recorded(rec *state.GuildRecord, t EntityRef) bool {
	var ok bool
	switch t.Kind {
	case plan.KindRole:
		_, ok = rec.Roles[t.Name]
	case plan.KindCategory:
		_, ok = rec.Categories[t.Name]
	case plan.KindChannel:
		_, ok = rec.Channels[t.Name]
	}
	return ok
}

// remoteID returns the id of a channel or category guildkeeper created.
func remoteID(rec *state.GuildRecord, t EntityRef) (string, bool) {
	switch t.Kind {
	case plan.KindCategory:
		c := rec.Categories[t.Name]
		return c.ID, c.Status == state.StatusCreated && c.ID != ""
	case plan.KindChannel:
		c := rec.Channels[t.Name]
		return c.ID, c.Status == state.StatusCreated && c.ID != ""
	}
	return "", false
}

func forget(rec *state.GuildRecord, t EntityRef) {
	switch t.Kind {
	case plan.KindRole:
		delete(rec.Roles, t.Name)
	case plan.KindCategory:
		delete(rec.Categories, t.Name)
	case plan.KindChannel:
		delete(rec.Channels, t.Name)
	}
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
