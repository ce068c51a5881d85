// Package reconcile implements the idempotent setup engine: it diffs a
// blueprint against a guild's recorded state and creates what is missing,
// recording every outcome. One entity's failure never aborts the batch.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/szaher/guildkeeper/internal/blueprint"
	"github.com/szaher/guildkeeper/internal/events"
	"github.com/szaher/guildkeeper/internal/hints"
	"github.com/szaher/guildkeeper/internal/plan"
	"github.com/szaher/guildkeeper/internal/platform"
	"github.com/szaher/guildkeeper/internal/state"
	"github.com/szaher/guildkeeper/internal/telemetry"
)

// Options configures a Reconciler. The zero value is a live run with no
// pacing, no events and no metrics.
type Options struct {
	// DryRun reports intended actions without any platform call or state
	// write.
	DryRun bool
	// Delay is the minimum spacing between successive remote calls.
	Delay   time.Duration
	Emitter events.Emitter
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
	// Guard is shared between reconcilers that must not overlap on a guild.
	Guard *Guard
	Now   func() time.Time
}

// Reconciler provisions a blueprint into guilds.
type Reconciler struct {
	store  state.Store
	client platform.Client
	opts   Options
}

// New creates a reconciler over store and client.
func New(store state.Store, client platform.Client, opts Options) *Reconciler {
	if opts.Emitter == nil {
		opts.Emitter = events.NoopEmitter{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Guard == nil {
		opts.Guard = NewGuard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{store: store, client: client, opts: opts}
}

// WithDryRun returns a reconciler sharing r's store, client and guard with
// the dry-run option set to dryRun.
func (r *Reconciler) WithDryRun(dryRun bool) *Reconciler {
	opts := r.opts
	opts.DryRun = dryRun
	return &Reconciler{store: r.store, client: r.client, opts: opts}
}

// DryRun reports whether r simulates runs.
func (r *Reconciler) DryRun() bool {
	return r.opts.DryRun
}

// Guard returns the in-flight guard used by r.
func (r *Reconciler) Guard() *Guard {
	return r.opts.Guard
}

// run holds the working data of one reconciliation.
type run struct {
	*Reconciler
	ctx     context.Context
	guildID string
	cid     string
	log     *slog.Logger
	pace    *pacer
	result  *Result

	work  *state.GuildRecord // stored record plus this run's changes
	patch *state.GuildRecord // this run's changes only

	liveRoles    []platform.Role
	liveChannels []platform.Channel

	stopped error
}

// Reconcile ensures every entity of bp exists in the guild. It returns
// the run summary; err is non-nil only for run-level failures, which are
// also reported in Result.General. An overlapping run for the same guild
// fails with ErrInFlight and a nil Result.
func (r *Reconciler) Reconcile(ctx context.Context, guildID string, bp *blueprint.Blueprint) (*Result, error) {
	if telemetry.CorrelationID(ctx) == "" {
		ctx = telemetry.WithCorrelationID(ctx, "")
	}
	cid := telemetry.CorrelationID(ctx)
	start := r.opts.Now()
	result := &Result{GuildID: guildID, CorrelationID: cid, DryRun: r.opts.DryRun}
	log := telemetry.RunLogger(r.opts.Logger, ctx, guildID)

	release, err := r.opts.Guard.Acquire(guildID)
	if err != nil {
		r.opts.Metrics.RecordRun("rejected", 0)
		log.Warn("reconcile rejected", "error", err)
		return nil, err
	}
	defer release()

	r.opts.Emitter.Emit(events.New(events.ReconcileStarted, cid).ForGuild(guildID).
		WithData("dry_run", r.opts.DryRun))
	log.Info("reconcile started", "dry_run", r.opts.DryRun)

	fail := func(err error) (*Result, error) {
		result.General = err
		result.Duration = r.opts.Now().Sub(start)
		r.opts.Metrics.RecordRun(result.Outcome(), result.Duration)
		r.opts.Emitter.Emit(events.New(events.ReconcileFailed, cid).ForGuild(guildID).
			WithData("error", err.Error()))
		log.Error("reconcile failed", "error", err)
		return result, err
	}

	if bp == nil {
		return fail(errors.New("no blueprint loaded"))
	}
	if err := bp.Validate(); err != nil {
		return fail(err)
	}
	rec, err := state.Load(ctx, r.store, guildID)
	if err != nil {
		return fail(err)
	}
	result.SetupStatus = rec.SetupStatus

	p := plan.ComputePlan(bp, rec)
	creates, retries, _ := p.Counts()
	r.opts.Emitter.Emit(events.New(events.PlanComputed, cid).ForGuild(guildID).
		WithData("create", creates).
		WithData("retry", retries))

	if r.opts.DryRun {
		r.simulate(log, result, p)
		result.Duration = r.opts.Now().Sub(start)
		r.opts.Metrics.RecordRun(result.Outcome(), result.Duration)
		r.opts.Emitter.Emit(events.New(events.ReconcileCompleted, cid).ForGuild(guildID).
			WithData("dry_run", true).
			WithData("planned", result.PlannedCount()))
		log.Info("dry run completed", "planned", result.PlannedCount())
		return result, nil
	}

	ru := &run{
		Reconciler: r,
		ctx:        ctx,
		guildID:    guildID,
		cid:        cid,
		log:        log,
		pace:       newPacer(r.opts.Delay),
		result:     result,
		work:       rec.Clone(),
		patch:      state.NewRecord(guildID),
	}

	if p.HasChanges {
		ru.lookup()
	}

	spanCtx, span := r.opts.Tracer.StartSpan(ctx, "reconcile.roles", telemetry.PhaseTags(guildID, "roles"))
	ru.ctx = spanCtx
	ru.roles(bp, p)
	r.opts.Tracer.EndSpan(span, ru.status())

	spanCtx, span = r.opts.Tracer.StartSpan(ctx, "reconcile.channels", telemetry.PhaseTags(guildID, "channels"))
	ru.ctx = spanCtx
	ru.categories(bp, p)
	r.opts.Tracer.EndSpan(span, ru.status())

	// The run's progress is persisted even when ctx was cancelled midway.
	ru.patch.SetupStatus = state.SetupNone
	if !hasFailures(bp, state.Merge(rec, ru.patch)) {
		ru.patch.SetupStatus = state.SetupCompleted
	}
	ru.patch.UpdatedAt = r.opts.Now().UTC()
	saved, err := state.Update(context.WithoutCancel(ctx), r.store, guildID, ru.patch)
	if err != nil {
		return fail(err)
	}
	result.SetupStatus = saved.SetupStatus

	if ru.stopped != nil {
		result.Warnings = append(result.Warnings, "run interrupted: "+ru.stopped.Error())
		return fail(ru.stopped)
	}

	result.Duration = r.opts.Now().Sub(start)
	r.opts.Metrics.RecordRun(result.Outcome(), result.Duration)
	r.opts.Emitter.Emit(events.New(events.ReconcileCompleted, cid).ForGuild(guildID).
		WithData("created", result.CreatedCount()).
		WithData("adopted", result.AdoptedCount()).
		WithData("failed", result.FailedCount()).
		WithData("setup_status", string(result.SetupStatus)))
	log.Info("reconcile completed",
		"created", result.CreatedCount(),
		"adopted", result.AdoptedCount(),
		"failed", result.FailedCount(),
		"setup_status", result.SetupStatus,
	)
	return result, nil
}

// simulate reports what a live run would create. It makes no platform
// call, so adoption candidates are reported as planned creations.
func (r *Reconciler) simulate(log *slog.Logger, result *Result, p *plan.Plan) {
	for _, a := range p.Actions {
		out := outcomeFor(result, a.Kind)
		if !a.Pending() {
			out.Skipped = append(out.Skipped, a.Name)
			continue
		}
		out.Planned = append(out.Planned, a.Name)
		r.opts.Metrics.RecordEntity(string(a.Kind), "planned")
		r.opts.Emitter.Emit(events.New(events.ReconcileDryRun, result.CorrelationID).ForGuild(result.GuildID).
			WithData("kind", string(a.Kind)).
			WithData("name", a.Name).
			WithData("type", a.Type).
			WithData("action", string(a.Action)))
		log.Info("dry run: would create", "kind", a.Kind, "name", a.Name, "type", a.Type, "category", a.Category)
	}
}

func outcomeFor(result *Result, kind plan.Kind) *Outcome {
	switch kind {
	case plan.KindRole:
		return &result.Roles
	case plan.KindCategory:
		return &result.Categories
	default:
		return &result.Channels
	}
}

// hasFailures reports whether any blueprint entity is failed or unrecorded
// in rec.
func hasFailures(bp *blueprint.Blueprint, rec *state.GuildRecord) bool {
	for _, role := range bp.Roles {
		if !rec.Roles[role.Name].Status.Provisioned() {
			return true
		}
	}
	for _, cat := range bp.Categories {
		if !rec.Categories[cat.Name].Status.Provisioned() {
			return true
		}
		for _, ch := range cat.Channels {
			if !rec.Channels[ch.Name].Status.Provisioned() {
				return true
			}
		}
	}
	return false
}

func (ru *run) status() string {
	if ru.stopped != nil {
		return "cancelled"
	}
	return "ok"
}

func (ru *run) now() time.Time {
	return ru.opts.Now().UTC()
}

// lookup fetches the live roles and channels used for adoption. A failed
// lookup disables adoption for the run.
func (ru *run) lookup() {
	roles, err := ru.client.Roles(ru.ctx, ru.guildID)
	if err != nil {
		ru.warn("live role lookup failed, adoption disabled for roles: %v", err)
	}
	ru.liveRoles = roles
	channels, err := ru.client.Channels(ru.ctx, ru.guildID)
	if err != nil {
		ru.warn("live channel lookup failed, adoption disabled for channels: %v", err)
	}
	ru.liveChannels = channels
}

func (ru *run) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	ru.result.Warnings = append(ru.result.Warnings, msg)
	ru.log.Warn(msg)
}

// proceed waits for the pacer. It returns false once the run is cancelled.
func (ru *run) proceed() bool {
	if ru.stopped != nil {
		return false
	}
	if err := ru.pace.Wait(ru.ctx); err != nil {
		ru.stopped = err
		if ctxErr := ru.ctx.Err(); ctxErr != nil {
			ru.stopped = ctxErr
		}
		return false
	}
	return true
}

// interrupted records err as the run's stop cause when it is a context
// error.
func (ru *run) interrupted(err error) bool {
	if isContextErr(err) {
		ru.stopped = err
		return true
	}
	return false
}

// failure classifies err and records it against the entity.
func (ru *run) failure(kind plan.Kind, name string, err error) {
	where := string(kind) + ":" + name
	hint := hints.Classify(err)
	code := platform.Code(err)
	if pe := platform.AsError(err); pe != nil {
		ru.opts.Metrics.RecordPlatformError(pe.Code)
	}
	ru.result.Errors = append(ru.result.Errors, EntityError{
		Context: where,
		Code:    code,
		Message: err.Error(),
		Hint:    hint,
	})
	ru.patch.AddError(state.ErrorEntry{
		Timestamp: ru.now(),
		Context:   where,
		Message:   err.Error(),
		Code:      code,
	})
	out := outcomeFor(ru.result, kind)
	out.Failed = append(out.Failed, name)
	ru.entity(kind, name, "failed", slog.String("error", err.Error()), slog.Int("code", code))
}

func (ru *run) entity(kind plan.Kind, name, outcome string, attrs ...slog.Attr) {
	ru.opts.Metrics.RecordEntity(string(kind), outcome)
	e := events.New(events.ReconcileEntity, ru.cid).ForGuild(ru.guildID).
		WithData("kind", string(kind)).
		WithData("name", name).
		WithData("outcome", outcome)
	args := []any{"kind", kind, "name", name, "outcome", outcome}
	for _, a := range attrs {
		e.WithData(a.Key, a.Value.Any())
		args = append(args, a)
	}
	ru.opts.Emitter.Emit(e)
	if outcome == "failed" {
		ru.log.Warn("entity failed", args...)
		return
	}
	ru.log.Info("entity "+outcome, args...)
}

func (ru *run) roles(bp *blueprint.Blueprint, p *plan.Plan) {
	position := 0
	positioned := false

	for _, role := range bp.Roles {
		if !p.IsPending(plan.KindRole, role.Name) {
			ru.result.Roles.Skipped = append(ru.result.Roles.Skipped, role.Name)
			continue
		}
		if ru.stopped != nil {
			return
		}
		if live, ok := ru.liveRole(role.Name); ok {
			ru.setRole(role.Name, state.RoleRecord{ID: live.ID, Status: state.StatusExisting, Position: live.Position, Timestamp: ru.now()})
			ru.result.Roles.Adopted = append(ru.result.Roles.Adopted, role.Name)
			ru.entity(plan.KindRole, role.Name, "adopted", slog.String("id", live.ID))
			continue
		}
		if !positioned {
			positioned = true
			top, err := ru.client.BotTopPosition(ru.ctx, ru.guildID)
			if err != nil {
				if ru.interrupted(err) {
					return
				}
				ru.warn("could not read bot role position, leaving placement to the platform: %v", err)
			} else {
				position = top
			}
		}
		if position > 0 {
			position--
			if position < 1 {
				position = 1
			}
		}
		if !ru.proceed() {
			return
		}
		created, err := ru.client.CreateRole(ru.ctx, ru.guildID, platform.RoleSpec{
			Name:        role.Name,
			Color:       int(role.Color),
			Mentionable: role.Mentionable,
			Position:    position,
		})
		if err != nil {
			if ru.interrupted(err) {
				return
			}
			ru.setRole(role.Name, state.RoleRecord{Status: state.StatusFailed, Timestamp: ru.now()})
			ru.failure(plan.KindRole, role.Name, err)
			continue
		}
		if position > 0 && created.Position != position {
			ru.warn("role %q: requested position %d, platform placed it at %d", role.Name, position, created.Position)
		}
		ru.setRole(role.Name, state.RoleRecord{ID: created.ID, Status: state.StatusCreated, Position: created.Position, Timestamp: ru.now()})
		ru.result.Roles.Created = append(ru.result.Roles.Created, role.Name)
		ru.entity(plan.KindRole, role.Name, "created", slog.String("id", created.ID), slog.Int("position", created.Position))
	}
}

func (ru *run) categories(bp *blueprint.Blueprint, p *plan.Plan) {
	for _, cat := range bp.Categories {
		if ru.stopped != nil {
			return
		}
		catID := ru.category(cat, p)
		for _, ch := range cat.Channels {
			if !p.IsPending(plan.KindChannel, ch.Name) {
				ru.result.Channels.Skipped = append(ru.result.Channels.Skipped, ch.Name)
				continue
			}
			if ru.stopped != nil {
				return
			}
			if catID == "" {
				ru.setChannel(ch.Name, state.ChannelRecord{Status: state.StatusFailed, Type: string(ch.Type), Timestamp: ru.now()})
				ru.failure(plan.KindChannel, ch.Name, errors.New("parent category unavailable"))
				continue
			}
			ru.channel(cat, ch, catID)
		}
	}
}

// category resolves the category's id, adopting or creating it when
// pending. It returns "" when the category could not be provisioned.
func (ru *run) category(cat blueprint.Category, p *plan.Plan) string {
	if !p.IsPending(plan.KindCategory, cat.Name) {
		ru.result.Categories.Skipped = append(ru.result.Categories.Skipped, cat.Name)
		return ru.work.Categories[cat.Name].ID
	}
	if live, ok := ru.liveCategory(cat.Name); ok {
		ru.setCategory(cat.Name, state.CategoryRecord{ID: live.ID, Status: state.StatusExisting, Timestamp: ru.now()})
		ru.result.Categories.Adopted = append(ru.result.Categories.Adopted, cat.Name)
		ru.entity(plan.KindCategory, cat.Name, "adopted", slog.String("id", live.ID))
		return live.ID
	}
	if !ru.proceed() {
		return ""
	}
	spec := platform.ChannelSpec{Name: cat.Name, Kind: platform.KindCategory}
	if cat.Private {
		spec.Overwrites = ru.privateOverwrites()
	}
	created, err := ru.client.CreateCategory(ru.ctx, ru.guildID, spec)
	if err != nil {
		if ru.interrupted(err) {
			return ""
		}
		ru.setCategory(cat.Name, state.CategoryRecord{Status: state.StatusFailed, Timestamp: ru.now()})
		ru.failure(plan.KindCategory, cat.Name, err)
		return ""
	}
	ru.setCategory(cat.Name, state.CategoryRecord{ID: created.ID, Status: state.StatusCreated, Timestamp: ru.now()})
	ru.result.Categories.Created = append(ru.result.Categories.Created, cat.Name)
	ru.entity(plan.KindCategory, cat.Name, "created", slog.String("id", created.ID))
	return created.ID
}

func (ru *run) channel(cat blueprint.Category, ch blueprint.Channel, catID string) {
	if live, ok := ru.liveChannel(ch.Name, catID); ok {
		typ := string(ch.Type)
		switch live.Kind {
		case platform.KindText, platform.KindVoice, platform.KindForum:
			typ = string(live.Kind)
		}
		ru.setChannel(ch.Name, state.ChannelRecord{ID: live.ID, CategoryID: catID, Type: typ, Status: state.StatusExisting, Timestamp: ru.now()})
		ru.result.Channels.Adopted = append(ru.result.Channels.Adopted, ch.Name)
		ru.entity(plan.KindChannel, ch.Name, "adopted", slog.String("id", live.ID))
		return
	}

	spec := platform.ChannelSpec{
		Name:       ch.Name,
		Kind:       kindOf(ch.Type),
		ParentID:   catID,
		Overwrites: ru.channelOverwrites(ch),
	}
	if ch.Type != blueprint.ChannelVoice {
		spec.Topic = ch.Description
	}
	if ch.Type == blueprint.ChannelForum {
		spec.ForumTags = blueprint.SanitizeTags(ch.ForumTags)
	}

	if !ru.proceed() {
		return
	}
	created, err := ru.client.CreateChannel(ru.ctx, ru.guildID, spec)
	effective := ch.Type
	if err != nil && ch.Type == blueprint.ChannelForum && platform.IsCapabilityUnsupported(err) {
		ru.warn("channel %q: forum channels are unavailable in this guild, created as text", ch.Name)
		spec.Kind = platform.KindText
		spec.ForumTags = nil
		effective = blueprint.ChannelText
		if !ru.proceed() {
			return
		}
		created, err = ru.client.CreateChannel(ru.ctx, ru.guildID, spec)
	}
	if err != nil {
		if ru.interrupted(err) {
			return
		}
		ru.setChannel(ch.Name, state.ChannelRecord{CategoryID: catID, Type: string(ch.Type), Status: state.StatusFailed, Timestamp: ru.now()})
		ru.failure(plan.KindChannel, ch.Name, err)
		return
	}
	if created.TagsErr != nil {
		ru.warn("channel %q: created without forum tags: %v", ch.Name, created.TagsErr)
	}
	ru.setChannel(ch.Name, state.ChannelRecord{ID: created.ID, CategoryID: catID, Type: string(effective), Status: state.StatusCreated, Timestamp: ru.now()})
	ru.result.Channels.Created = append(ru.result.Channels.Created, ch.Name)
	ru.entity(plan.KindChannel, ch.Name, "created",
		slog.String("id", created.ID),
		slog.String("type", string(effective)),
		slog.String("category", cat.Name),
	)
}

func kindOf(t blueprint.ChannelType) platform.ChannelKind {
	switch t {
	case blueprint.ChannelVoice:
		return platform.KindVoice
	case blueprint.ChannelForum:
		return platform.KindForum
	default:
		return platform.KindText
	}
}

// privateOverwrites hides a category from @everyone while keeping the bot
// able to manage it. The @everyone role shares the guild's id.
func (ru *run) privateOverwrites() []platform.Overwrite {
	return []platform.Overwrite{
		{ID: ru.guildID, Target: platform.TargetRole, Deny: platform.PermissionViewChannel},
		{ID: ru.client.BotUserID(), Target: platform.TargetMember, Allow: platform.PermissionViewChannel},
	}
}

// channelOverwrites restricts a channel to its allowed roles. Channels
// without allowed roles inherit their category's overwrites.
func (ru *run) channelOverwrites(ch blueprint.Channel) []platform.Overwrite {
	if len(ch.AllowedRoles) == 0 {
		return nil
	}
	allow := platform.PermissionViewChannel | platform.PermissionSendMessages
	if ch.Type == blueprint.ChannelVoice {
		allow = platform.PermissionViewChannel | platform.PermissionConnect
	}

	ids := make(map[string]string, len(ru.work.Roles))
	for name, rec := range ru.work.Roles {
		if rec.Status.Provisioned() {
			ids[blueprint.NormalizeName(name)] = rec.ID
		}
	}

	overwrites := ru.privateOverwrites()
	for _, name := range ch.AllowedRoles {
		id, ok := ids[blueprint.NormalizeName(name)]
		if !ok {
			ru.warn("channel %q: role %q has no id yet, overwrite skipped", ch.Name, name)
			continue
		}
		overwrites = append(overwrites, platform.Overwrite{ID: id, Target: platform.TargetRole, Allow: allow})
	}
	return overwrites
}

func (ru *run) liveRole(name string) (platform.Role, bool) {
	key := blueprint.NormalizeName(name)
	for _, r := range ru.liveRoles {
		if !r.Managed && blueprint.NormalizeName(r.Name) == key {
			return r, true
		}
	}
	return platform.Role{}, false
}

func (ru *run) liveCategory(name string) (platform.Channel, bool) {
	key := blueprint.NormalizeName(name)
	for _, c := range ru.liveChannels {
		if c.Kind == platform.KindCategory && blueprint.NormalizeName(c.Name) == key {
			return c, true
		}
	}
	return platform.Channel{}, false
}

func (ru *run) liveChannel(name, parentID string) (platform.Channel, bool) {
	key := blueprint.NormalizeName(name)
	for _, c := range ru.liveChannels {
		if c.Kind != platform.KindCategory && c.ParentID == parentID && blueprint.NormalizeName(c.Name) == key {
			return c, true
		}
	}
	return platform.Channel{}, false
}

func (ru *run) setRole(name string, rec state.RoleRecord) {
	ru.work.Roles[name] = rec
	ru.patch.Roles[name] = rec
}

func (ru *run) setCategory(name string, rec state.CategoryRecord) {
	ru.work.Categories[name] = rec
	ru.patch.Categories[name] = rec
}

func (ru *run) setChannel(name string, rec state.ChannelRecord) {
	ru.work.Channels[name] = rec
	ru.patch.Channels[name] = rec
}
