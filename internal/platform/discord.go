package platform

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Discord implements Client over a discordgo session.
type Discord struct {
	session *discordgo.Session

	mu       sync.Mutex
	roles    map[string][]Role
	channels map[string][]Channel
}

// NewDiscord wraps an opened or unopened session.
func NewDiscord(session *discordgo.Session) *Discord {
	return &Discord{
		session:  session,
		roles:    make(map[string][]Role),
		channels: make(map[string][]Channel),
	}
}

// NewSession creates a bot session with automatic rate-limit retries.
func NewSession(token string) (*discordgo.Session, error) {
	if token == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	s.ShouldRetryOnRateLimit = true
	s.MaxRestRetries = 3
	s.Identify.Intents = discordgo.IntentsGuilds
	return s, nil
}

// Session exposes the underlying session.
func (d *Discord) Session() *discordgo.Session { return d.session }

// BotUserID implements Client.
func (d *Discord) BotUserID() string {
	if d.session.State != nil && d.session.State.User != nil {
		return d.session.State.User.ID
	}
	return ""
}

// Identify resolves the bot user over REST and caches it in the session
// state. It is needed when the gateway is not opened.
func (d *Discord) Identify(ctx context.Context) error {
	if d.BotUserID() != "" {
		return nil
	}
	u, err := d.session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return wrap(err)
	}
	if d.session.State == nil {
		d.session.State = discordgo.NewState()
	}
	d.session.State.User = u
	return nil
}

// BotTopPosition implements Client.
func (d *Discord) BotTopPosition(ctx context.Context, guildID string) (int, error) {
	botID := d.BotUserID()
	if botID == "" {
		u, err := d.session.User("@me", discordgo.WithContext(ctx))
		if err != nil {
			return 0, wrap(err)
		}
		botID = u.ID
	}
	member, err := d.session.GuildMember(guildID, botID, discordgo.WithContext(ctx))
	if err != nil {
		return 0, wrap(err)
	}
	roles, err := d.Roles(ctx, guildID)
	if err != nil {
		return 0, err
	}
	held := make(map[string]bool, len(member.Roles))
	for _, id := range member.Roles {
		held[id] = true
	}
	top := 0
	for _, r := range roles {
		if held[r.ID] && r.Position > top {
			top = r.Position
		}
	}
	return top, nil
}

// Roles implements Client.
func (d *Discord) Roles(ctx context.Context, guildID string) ([]Role, error) {
	d.mu.Lock()
	cached, ok := d.roles[guildID]
	d.mu.Unlock()
	if ok {
		return append([]Role(nil), cached...), nil
	}

	remote, err := d.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrap(err)
	}
	roles := make([]Role, 0, len(remote))
	for _, r := range remote {
		roles = append(roles, roleFrom(r))
	}

	d.mu.Lock()
	d.roles[guildID] = roles
	d.mu.Unlock()
	return append([]Role(nil), roles...), nil
}

// Channels implements Client.
func (d *Discord) Channels(ctx context.Context, guildID string) ([]Channel, error) {
	d.mu.Lock()
	cached, ok := d.channels[guildID]
	d.mu.Unlock()
	if ok {
		return append([]Channel(nil), cached...), nil
	}

	remote, err := d.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrap(err)
	}
	channels := make([]Channel, 0, len(remote))
	for _, c := range remote {
		channels = append(channels, channelFrom(c))
	}

	d.mu.Lock()
	d.channels[guildID] = channels
	d.mu.Unlock()
	return append([]Channel(nil), channels...), nil
}

// CreateRole implements Client. The role is created first and then moved
// to the requested position. A failed move still returns the created role,
// with the position the platform assigned.
func (d *Discord) CreateRole(ctx context.Context, guildID string, spec RoleSpec) (Role, error) {
	color := spec.Color
	mentionable := spec.Mentionable
	created, err := d.session.GuildRoleCreate(guildID, &discordgo.RoleParams{
		Name:        spec.Name,
		Color:       &color,
		Mentionable: &mentionable,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return Role{}, wrap(err)
	}

	if spec.Position > 0 && created.Position != spec.Position {
		moved := *created
		moved.Position = spec.Position
		if _, err := d.session.GuildRoleReorder(guildID, []*discordgo.Role{&moved}, discordgo.WithContext(ctx)); err == nil {
			created.Position = spec.Position
		}
	}

	role := roleFrom(created)
	d.mu.Lock()
	if cached, ok := d.roles[guildID]; ok {
		d.roles[guildID] = append(cached, role)
	}
	d.mu.Unlock()
	return role, nil
}

// CreateCategory implements Client.
func (d *Discord) CreateCategory(ctx context.Context, guildID string, spec ChannelSpec) (Channel, error) {
	spec.Kind = KindCategory
	spec.ParentID = ""
	return d.createChannel(ctx, guildID, spec)
}

// CreateChannel implements Client.
func (d *Discord) CreateChannel(ctx context.Context, guildID string, spec ChannelSpec) (Channel, error) {
	if spec.Kind == KindCategory {
		return Channel{}, fmt.Errorf("use CreateCategory for categories")
	}
	return d.createChannel(ctx, guildID, spec)
}

func (d *Discord) createChannel(ctx context.Context, guildID string, spec ChannelSpec) (Channel, error) {
	data := discordgo.GuildChannelCreateData{
		Name:     spec.Name,
		Type:     channelType(spec.Kind),
		Topic:    spec.Topic,
		ParentID: spec.ParentID,
	}
	for _, o := range spec.Overwrites {
		target := discordgo.PermissionOverwriteTypeRole
		if o.Target == TargetMember {
			target = discordgo.PermissionOverwriteTypeMember
		}
		data.PermissionOverwrites = append(data.PermissionOverwrites, &discordgo.PermissionOverwrite{
			ID:    o.ID,
			Type:  target,
			Allow: o.Allow,
			Deny:  o.Deny,
		})
	}
	created, err := d.session.GuildChannelCreateComplex(guildID, data, discordgo.WithContext(ctx))
	if err != nil {
		return Channel{}, wrap(err)
	}

	// Tags are attached after creation; a forum without tags is still usable.
	var tagsErr error
	if spec.Kind == KindForum && len(spec.ForumTags) > 0 {
		tags := make([]discordgo.ForumTag, 0, len(spec.ForumTags))
		for _, tag := range spec.ForumTags {
			tags = append(tags, discordgo.ForumTag{Name: tag})
		}
		edited, err := d.session.ChannelEdit(created.ID, &discordgo.ChannelEdit{AvailableTags: &tags}, discordgo.WithContext(ctx))
		if err != nil {
			tagsErr = wrap(err)
		} else {
			created = edited
		}
	}

	ch := channelFrom(created)
	d.mu.Lock()
	if cached, ok := d.channels[guildID]; ok {
		d.channels[guildID] = append(cached, ch)
	}
	d.mu.Unlock()
	ch.TagsErr = tagsErr
	return ch, nil
}

// DeleteChannel implements Client.
func (d *Discord) DeleteChannel(ctx context.Context, guildID, channelID string) error {
	if _, err := d.session.ChannelDelete(channelID, discordgo.WithContext(ctx)); err != nil {
		return wrap(err)
	}
	d.mu.Lock()
	if cached, ok := d.channels[guildID]; ok {
		kept := cached[:0]
		for _, c := range cached {
			if c.ID != channelID {
				kept = append(kept, c)
			}
		}
		d.channels[guildID] = kept
	}
	d.mu.Unlock()
	return nil
}

// Invalidate drops cached reads for a guild so the next lookup is live.
func (d *Discord) Invalidate(guildID string) {
	d.mu.Lock()
	delete(d.roles, guildID)
	delete(d.channels, guildID)
	d.mu.Unlock()
}

func wrap(err error) error {
	if pe := AsError(err); pe != nil {
		return pe
	}
	return err
}

func roleFrom(r *discordgo.Role) Role {
	return Role{ID: r.ID, Name: r.Name, Position: r.Position, Managed: r.Managed}
}

func channelFrom(c *discordgo.Channel) Channel {
	return Channel{ID: c.ID, Name: c.Name, Kind: kindOf(c.Type), ParentID: c.ParentID}
}

func kindOf(t discordgo.ChannelType) ChannelKind {
	switch t {
	case discordgo.ChannelTypeGuildCategory:
		return KindCategory
	case discordgo.ChannelTypeGuildText:
		return KindText
	case discordgo.ChannelTypeGuildVoice:
		return KindVoice
	case discordgo.ChannelTypeGuildForum:
		return KindForum
	}
	return KindOther
}

func channelType(k ChannelKind) discordgo.ChannelType {
	switch k {
	case KindCategory:
		return discordgo.ChannelTypeGuildCategory
	case KindVoice:
		return discordgo.ChannelTypeGuildVoice
	case KindForum:
		return discordgo.ChannelTypeGuildForum
	}
	return discordgo.ChannelTypeGuildText
}
