// Package platform defines the narrow chat-platform surface the reconciler
// depends on, and normalizes platform failures into coded errors.
package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Discord JSON error codes the reconciler reacts to.
const (
	CodeUnknown                = 0
	CodeMissingAccess          = 50001
	CodeMissingPermissions     = 50013
	CodeChannelTypeUnsupported = 50024
	CodeInvalidFormBody        = 50035
	CodeMaxRoles               = 30005
	CodeMaxChannels            = 30013
)

// Permission bits used when building overwrites.
const (
	PermissionViewChannel  int64 = discordgo.PermissionViewChannel
	PermissionSendMessages int64 = discordgo.PermissionSendMessages
	PermissionConnect      int64 = discordgo.PermissionVoiceConnect
)

// ChannelKind is the platform-side type of a channel.
type ChannelKind string

const (
	KindCategory ChannelKind = "category"
	KindText     ChannelKind = "text"
	KindVoice    ChannelKind = "voice"
	KindForum    ChannelKind = "forum"
	KindOther    ChannelKind = "other"
)

// Role is a role as it exists remotely.
type Role struct {
	ID       string
	Name     string
	Position int
	Managed  bool
}

// Channel is a channel or category as it exists remotely.
type Channel struct {
	ID       string
	Name     string
	Kind     ChannelKind
	ParentID string
	// TagsErr is set when a forum was created but its tags could not be
	// attached.
	TagsErr error
}

// RoleSpec is the request to create a role. Position zero leaves placement
// to the platform.
type RoleSpec struct {
	Name        string
	Color       int
	Mentionable bool
	Position    int
}

// OverwriteTarget says whether an overwrite applies to a role or a member.
type OverwriteTarget int

const (
	TargetRole OverwriteTarget = iota
	TargetMember
)

// Overwrite is a channel permission overwrite.
type Overwrite struct {
	ID     string
	Target OverwriteTarget
	Allow  int64
	Deny   int64
}

// ChannelSpec is the request to create a category or channel.
type ChannelSpec struct {
	Name       string
	Kind       ChannelKind
	Topic      string
	ParentID   string
	Overwrites []Overwrite
	ForumTags  []string
}

// Client is the set of platform operations the reconciler uses. Reads are
// read-through cached per guild by implementations; creates and deletes keep
// the cache current.
type Client interface {
	// BotUserID returns the user id of the bot account.
	BotUserID() string

	// BotTopPosition returns the position of the bot's highest role.
	BotTopPosition(ctx context.Context, guildID string) (int, error)

	// Roles lists the guild's roles.
	Roles(ctx context.Context, guildID string) ([]Role, error)

	// Channels lists the guild's channels and categories.
	Channels(ctx context.Context, guildID string) ([]Channel, error)

	CreateRole(ctx context.Context, guildID string, spec RoleSpec) (Role, error)
	CreateCategory(ctx context.Context, guildID string, spec ChannelSpec) (Channel, error)
	CreateChannel(ctx context.Context, guildID string, spec ChannelSpec) (Channel, error)
	DeleteChannel(ctx context.Context, guildID, channelID string) error
}

// Error is a platform failure carrying the platform's JSON error code.
type Error struct {
	Code    int
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != CodeUnknown {
		return fmt.Sprintf("platform error %d: %s", e.Code, e.Message)
	}
	if e.Status != 0 {
		return fmt.Sprintf("platform error (HTTP %d): %s", e.Status, e.Message)
	}
	return "platform error: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// AsError extracts a platform error from err, converting discordgo REST
// errors on the way. It returns nil when err carries no platform detail.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) {
		return fromREST(rest)
	}
	return nil
}

// Code returns the platform error code carried by err, or CodeUnknown.
func Code(err error) int {
	if pe := AsError(err); pe != nil {
		return pe.Code
	}
	return CodeUnknown
}

// IsCapabilityUnsupported reports whether the platform rejected a request
// because the guild lacks the feature it needs, such as forum channels.
func IsCapabilityUnsupported(err error) bool {
	return Code(err) == CodeChannelTypeUnsupported
}

func fromREST(rest *discordgo.RESTError) *Error {
	pe := &Error{Err: rest}
	if rest.Response != nil {
		pe.Status = rest.Response.StatusCode
	}
	if rest.Message != nil {
		pe.Code = rest.Message.Code
		pe.Message = rest.Message.Message
	}
	if pe.Message == "" {
		pe.Message = string(rest.ResponseBody)
	}
	return pe
}
