// Package platformtest provides an in-memory platform.Client for tests.
package platformtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/szaher/guildkeeper/internal/platform"
)

// Call records one mutating call made against the fake.
type Call struct {
	Op   string
	Name string
	Role platform.RoleSpec
	Chan platform.ChannelSpec
}

// Fake is a thread-safe in-memory guild. The zero value is not usable; use
// NewFake.
type Fake struct {
	mu sync.Mutex

	botID    string
	botTop   int
	roles    map[string][]platform.Role
	channels map[string][]platform.Channel
	nextID   int

	failures map[string]error
	noForums bool
	pinned   int
	tagsErr  error
	calls    []Call
}

// NewFake returns a fake whose bot holds a role at position botTop.
func NewFake(botTop int) *Fake {
	return &Fake{
		botID:    "bot-user",
		botTop:   botTop,
		roles:    make(map[string][]platform.Role),
		channels: make(map[string][]platform.Channel),
		failures: make(map[string]error),
	}
}

// FailOn makes every create call for the given entity name fail with err.
func (f *Fake) FailOn(name string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[name] = err
	return f
}

// Heal removes an injected failure.
func (f *Fake) Heal(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, name)
}

// RejectForums makes forum creation fail the way a guild without the
// community feature does.
func (f *Fake) RejectForums() *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noForums = true
	return f
}

// PinRolePosition makes created roles land at position regardless of the
// requested one, the way a failed reorder leaves them.
func (f *Fake) PinRolePosition(position int) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pinned = position
	return f
}

// FailTags makes tag attachment fail for forums created with tags.
func (f *Fake) FailTags(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tagsErr = err
	return f
}

// SeedRole adds a pre-existing role.
func (f *Fake) SeedRole(guildID, name string, position int) platform.Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := platform.Role{ID: f.id("role"), Name: name, Position: position}
	f.roles[guildID] = append(f.roles[guildID], r)
	return r
}

// SeedChannel adds a pre-existing channel or category.
func (f *Fake) SeedChannel(guildID, name string, kind platform.ChannelKind, parentID string) platform.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := platform.Channel{ID: f.id("chan"), Name: name, Kind: kind, ParentID: parentID}
	f.channels[guildID] = append(f.channels[guildID], c)
	return c
}

// Calls returns the mutating calls made so far.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount returns how many mutating calls were made.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// BotUserID implements platform.Client.
func (f *Fake) BotUserID() string { return f.botID }

// BotTopPosition implements platform.Client.
func (f *Fake) BotTopPosition(context.Context, string) (int, error) {
	return f.botTop, nil
}

// Roles implements platform.Client.
func (f *Fake) Roles(_ context.Context, guildID string) ([]platform.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.Role(nil), f.roles[guildID]...), nil
}

// Channels implements platform.Client.
func (f *Fake) Channels(_ context.Context, guildID string) ([]platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.Channel(nil), f.channels[guildID]...), nil
}

// CreateRole implements platform.Client.
func (f *Fake) CreateRole(ctx context.Context, guildID string, spec platform.RoleSpec) (platform.Role, error) {
	if err := ctx.Err(); err != nil {
		return platform.Role{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: "CreateRole", Name: spec.Name, Role: spec})
	if err := f.failures[spec.Name]; err != nil {
		return platform.Role{}, err
	}
	r := platform.Role{ID: f.id("role"), Name: spec.Name, Position: spec.Position}
	if f.pinned > 0 {
		r.Position = f.pinned
	}
	f.roles[guildID] = append(f.roles[guildID], r)
	return r, nil
}

// CreateCategory implements platform.Client.
func (f *Fake) CreateCategory(ctx context.Context, guildID string, spec platform.ChannelSpec) (platform.Channel, error) {
	spec.Kind = platform.KindCategory
	return f.create(ctx, "CreateCategory", guildID, spec)
}

// CreateChannel implements platform.Client.
func (f *Fake) CreateChannel(ctx context.Context, guildID string, spec platform.ChannelSpec) (platform.Channel, error) {
	return f.create(ctx, "CreateChannel", guildID, spec)
}

func (f *Fake) create(ctx context.Context, op, guildID string, spec platform.ChannelSpec) (platform.Channel, error) {
	if err := ctx.Err(); err != nil {
		return platform.Channel{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: op, Name: spec.Name, Chan: spec})
	if err := f.failures[spec.Name]; err != nil {
		return platform.Channel{}, err
	}
	if spec.Kind == platform.KindForum && f.noForums {
		return platform.Channel{}, &platform.Error{
			Code:    platform.CodeChannelTypeUnsupported,
			Status:  400,
			Message: "Cannot execute action on this channel type",
		}
	}
	c := platform.Channel{
		ID:       f.id("chan"),
		Name:     strings.ToLower(spec.Name),
		Kind:     spec.Kind,
		ParentID: spec.ParentID,
	}
	f.channels[guildID] = append(f.channels[guildID], c)
	if spec.Kind == platform.KindForum && len(spec.ForumTags) > 0 {
		c.TagsErr = f.tagsErr
	}
	return c, nil
}

// DeleteChannel implements platform.Client.
func (f *Fake) DeleteChannel(_ context.Context, guildID, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: "DeleteChannel", Name: channelID})
	kept := f.channels[guildID][:0]
	found := false
	for _, c := range f.channels[guildID] {
		if c.ID == channelID {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	f.channels[guildID] = kept
	if !found {
		return &platform.Error{Code: 10003, Status: 404, Message: "Unknown Channel"}
	}
	return nil
}

func (f *Fake) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

var _ platform.Client = (*Fake)(nil)
