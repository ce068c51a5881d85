package bot

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/szaher/guildkeeper/internal/telemetry"
)

// Attach registers the bot's gateway handlers on session.
func (b *Bot) Attach(ctx context.Context, session *discordgo.Session) {
	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		for _, g := range r.Guilds {
			b.TrackGuild(g.ID)
		}
		b.log.Info("gateway ready", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) {
		b.TrackGuild(g.ID)
	})
	session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildDelete) {
		b.ForgetGuild(g.ID)
	})
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.handleInteraction(ctx, s, i)
	})
}

// RegisterCommands overwrites the application's global commands.
func RegisterCommands(session *discordgo.Session) error {
	if session.State == nil || session.State.User == nil {
		return fmt.Errorf("session is not ready")
	}
	if _, err := session.ApplicationCommandBulkOverwrite(session.State.User.ID, "", Commands()); err != nil {
		return fmt.Errorf("registering commands: %w", err)
	}
	return nil
}

func (b *Bot) handleInteraction(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	if data.Name != CommandSetup && data.Name != CommandStatus {
		return
	}
	if i.GuildID == "" {
		b.respond(s, i, "This command only works in a server.")
		return
	}
	if i.Member == nil || !Authorized(i.Member.Permissions) {
		b.respond(s, i, "You need the Administrator permission to use this command.")
		return
	}

	// Setup can outlast the interaction deadline, so acknowledge first.
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		b.log.Error("deferring interaction", "command", data.Name, "error", err)
		return
	}

	runCtx := telemetry.WithCorrelationID(ctx, "")
	var reply string
	switch data.Name {
	case CommandSetup:
		var dryRun *bool
		for _, opt := range data.Options {
			if opt.Name == optionDryRun {
				v := opt.BoolValue()
				dryRun = &v
			}
		}
		userID := ""
		if i.Member.User != nil {
			userID = i.Member.User.ID
		}
		b.log.Info("setup requested", "guild_id", i.GuildID, "user", userID,
			"correlation_id", telemetry.CorrelationID(runCtx))
		reply = b.Setup(runCtx, i.GuildID, dryRun)
	case CommandStatus:
		reply = b.Status(runCtx, i.GuildID)
	}

	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &reply}); err != nil {
		b.log.Error("sending reply", "command", data.Name, "error", err)
	}
}

func (b *Bot) respond(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: msg, Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		b.log.Error("responding to interaction", "error", err)
	}
}
