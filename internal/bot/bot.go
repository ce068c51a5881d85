// Package bot serves the /setup and /setup-status slash commands over the
// Discord gateway and runs scheduled resyncs.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/robfig/cron/v3"

	"github.com/szaher/guildkeeper/internal/blueprint"
	"github.com/szaher/guildkeeper/internal/reconcile"
	"github.com/szaher/guildkeeper/internal/report"
	"github.com/szaher/guildkeeper/internal/state"
	"github.com/szaher/guildkeeper/internal/telemetry"
)

// Command names.
const (
	CommandSetup  = "setup"
	CommandStatus = "setup-status"
	optionDryRun  = "dry_run"
)

// maxMessage keeps replies under the platform's 2000 character limit.
const maxMessage = 1900

var adminPermission int64 = discordgo.PermissionAdministrator

// Commands returns the slash command definitions. Both require the
// Administrator permission by default.
func Commands() []*discordgo.ApplicationCommand {
	dm := false
	return []*discordgo.ApplicationCommand{
		{
			Name:                     CommandSetup,
			Description:              "Create the roles, categories and channels this server is missing",
			DefaultMemberPermissions: &adminPermission,
			DMPermission:             &dm,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        optionDryRun,
					Description: "Only report what would be created",
				},
			},
		},
		{
			Name:                     CommandStatus,
			Description:              "Show what guildkeeper has provisioned in this server",
			DefaultMemberPermissions: &adminPermission,
			DMPermission:             &dm,
		},
	}
}

// Config wires a Bot.
type Config struct {
	Reconciler *reconcile.Reconciler
	Store      state.Store
	// Blueprint loads the blueprint; it is called on every invocation.
	Blueprint func() (*blueprint.Blueprint, error)
	// DryRun is consulted on every invocation that does not set the
	// dry_run option.
	DryRun func() bool
	Logger *slog.Logger
	// Invalidate drops cached platform reads for a guild before a run.
	Invalidate func(guildID string)
}

// Bot handles slash commands.
type Bot struct {
	cfg Config
	log *slog.Logger

	mu     sync.Mutex
	guilds map[string]struct{}
	cron   *cron.Cron
}

// New creates a bot.
func New(cfg Config) *Bot {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.DryRun == nil {
		cfg.DryRun = func() bool { return false }
	}
	return &Bot{cfg: cfg, log: cfg.Logger, guilds: make(map[string]struct{})}
}

// Setup runs the reconciler for guildID and returns the reply text.
// dryRun overrides the configured toggle when non-nil.
func (b *Bot) Setup(ctx context.Context, guildID string, dryRun *bool) string {
	bp, err := b.cfg.Blueprint()
	if err != nil {
		b.log.Error("loading blueprint", "error", err)
		return fmt.Sprintf("Setup failed: could not load the blueprint: %v", err)
	}
	dry := b.cfg.DryRun()
	if dryRun != nil {
		dry = *dryRun
	}
	if b.cfg.Invalidate != nil {
		b.cfg.Invalidate(guildID)
	}

	res, err := b.cfg.Reconciler.WithDryRun(dry).Reconcile(ctx, guildID, bp)
	if errors.Is(err, reconcile.ErrInFlight) {
		return "Setup is already running for this server. Try again once it finishes."
	}
	if res == nil {
		return fmt.Sprintf("Setup failed: %v", err)
	}
	var sb strings.Builder
	report.Summary(&sb, res)
	return codeBlock(sb.String())
}

// Status returns the reply text for /setup-status.
func (b *Bot) Status(ctx context.Context, guildID string) string {
	rec, err := b.cfg.Store.Get(ctx, guildID)
	if errors.Is(err, state.ErrNotFound) {
		return "Setup has not been run in this server yet. Use /setup to start."
	}
	if err != nil {
		b.log.Error("reading state", "guild_id", guildID, "error", err)
		return fmt.Sprintf("Could not read setup state: %v", err)
	}
	var sb strings.Builder
	report.Status(&sb, rec)
	return codeBlock(sb.String())
}

// Resync reconciles every guild the bot has seen.
func (b *Bot) Resync(ctx context.Context) {
	ids := b.Guilds()
	if len(ids) == 0 {
		return
	}
	bp, err := b.cfg.Blueprint()
	if err != nil {
		b.log.Error("resync: loading blueprint", "error", err)
		return
	}
	if b.cfg.Invalidate != nil {
		for _, id := range ids {
			b.cfg.Invalidate(id)
		}
	}
	ctx = telemetry.WithCorrelationID(ctx, "")
	runs, err := b.cfg.Reconciler.WithDryRun(b.cfg.DryRun()).ReconcileMany(ctx, ids, bp, reconcile.DefaultParallelism)
	for _, run := range runs {
		if run.Result != nil {
			b.log.Info("resync finished", "guild_id", run.GuildID,
				"created", run.Result.CreatedCount(), "failed", run.Result.FailedCount())
		}
	}
	if err != nil {
		b.log.Warn("resync had failures", "error", err)
	}
}

// StartResync schedules Resync with a cron spec such as "@every 6h" or
// "0 4 * * *". Overlapping runs are skipped.
func (b *Bot) StartResync(ctx context.Context, spec string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, func() { b.Resync(ctx) }); err != nil {
		return fmt.Errorf("invalid resync schedule %q: %w", spec, err)
	}
	b.mu.Lock()
	b.cron = c
	b.mu.Unlock()
	c.Start()
	b.log.Info("resync scheduled", "schedule", spec)
	return nil
}

// Stop halts scheduled resyncs and waits for a running one.
func (b *Bot) Stop() {
	b.mu.Lock()
	c := b.cron
	b.cron = nil
	b.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// TrackGuild records a guild for resyncs.
func (b *Bot) TrackGuild(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.guilds[id] = struct{}{}
}

// ForgetGuild stops resyncing a guild.
func (b *Bot) ForgetGuild(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.guilds, id)
}

// Guilds returns the tracked guild ids, sorted.
func (b *Bot) Guilds() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.guilds))
	for id := range b.guilds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Authorized reports whether the member permissions include Administrator.
func Authorized(perms int64) bool {
	return perms&discordgo.PermissionAdministrator != 0
}

func codeBlock(s string) string {
	s = strings.TrimRight(s, "\n")
	if len(s) > maxMessage {
		s = strings.ToValidUTF8(s[:maxMessage], "") + "\n..."
	}
	return "```\n" + s + "\n```"
}
