// Package state defines the per-guild provisioning record and the store
// abstraction it is persisted through.
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrNotFound is returned by Store.Get when a guild has no record.
var ErrNotFound = errors.New("guild state not found")

// Status is the provisioning status of one entity.
type Status string

const (
	StatusCreated  Status = "created"
	StatusExisting Status = "existing"
	StatusFailed   Status = "failed"
)

// Provisioned reports whether the entity exists remotely and must not be
// created again.
func (s Status) Provisioned() bool {
	return s == StatusCreated || s == StatusExisting
}

// SetupStatus tracks whether a full pass finished without failures.
type SetupStatus string

const (
	SetupNone      SetupStatus = "none"
	SetupCompleted SetupStatus = "completed"
)

// MaxErrors bounds the error history kept per guild.
const MaxErrors = 10

// RoleRecord is the recorded state of a role.
type RoleRecord struct {
	ID        string    `json:"id,omitempty"`
	Status    Status    `json:"status"`
	Position  int       `json:"position,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CategoryRecord is the recorded state of a category.
type CategoryRecord struct {
	ID        string    `json:"id,omitempty"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ChannelRecord is the recorded state of a channel. Type is the type that
// was actually created, which differs from the blueprint after a forum
// fallback.
type ChannelRecord struct {
	ID         string    `json:"id,omitempty"`
	CategoryID string    `json:"categoryId,omitempty"`
	Type       string    `json:"type,omitempty"`
	Status     Status    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrorEntry is one recorded failure.
type ErrorEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Context   string    `json:"context"`
	Message   string    `json:"message"`
	Code      int       `json:"code"`
}

// GuildRecord is everything recorded about one guild.
type GuildRecord struct {
	GuildID     string                    `json:"guildId"`
	Roles       map[string]RoleRecord     `json:"roles"`
	Categories  map[string]CategoryRecord `json:"categories"`
	Channels    map[string]ChannelRecord  `json:"channels"`
	Errors      []ErrorEntry              `json:"errors"`
	SetupStatus SetupStatus               `json:"setupStatus"`
	UpdatedAt   time.Time                 `json:"updatedAt"`
}

// NewRecord returns an empty record for guildID.
func NewRecord(guildID string) *GuildRecord {
	return &GuildRecord{
		GuildID:     guildID,
		Roles:       make(map[string]RoleRecord),
		Categories:  make(map[string]CategoryRecord),
		Channels:    make(map[string]ChannelRecord),
		SetupStatus: SetupNone,
	}
}

// ensure fills nil maps left by decoding partial documents.
func (r *GuildRecord) ensure() {
	if r.Roles == nil {
		r.Roles = make(map[string]RoleRecord)
	}
	if r.Categories == nil {
		r.Categories = make(map[string]CategoryRecord)
	}
	if r.Channels == nil {
		r.Channels = make(map[string]ChannelRecord)
	}
	if r.SetupStatus == "" {
		r.SetupStatus = SetupNone
	}
}

// Clone returns a deep copy of r.
func (r *GuildRecord) Clone() *GuildRecord {
	if r == nil {
		return nil
	}
	c := &GuildRecord{
		GuildID:     r.GuildID,
		Roles:       make(map[string]RoleRecord, len(r.Roles)),
		Categories:  make(map[string]CategoryRecord, len(r.Categories)),
		Channels:    make(map[string]ChannelRecord, len(r.Channels)),
		Errors:      append([]ErrorEntry(nil), r.Errors...),
		SetupStatus: r.SetupStatus,
		UpdatedAt:   r.UpdatedAt,
	}
	for k, v := range r.Roles {
		c.Roles[k] = v
	}
	for k, v := range r.Categories {
		c.Categories[k] = v
	}
	for k, v := range r.Channels {
		c.Channels[k] = v
	}
	c.ensure()
	return c
}

// AddError appends e, dropping the oldest entries beyond MaxErrors.
func (r *GuildRecord) AddError(e ErrorEntry) {
	r.Errors = append(r.Errors, e)
	if over := len(r.Errors) - MaxErrors; over > 0 {
		r.Errors = append([]ErrorEntry(nil), r.Errors[over:]...)
	}
}

// FailedCount returns how many recorded entities are in the failed status.
func (r *GuildRecord) FailedCount() int {
	n := 0
	for _, v := range r.Roles {
		if v.Status == StatusFailed {
			n++
		}
	}
	for _, v := range r.Categories {
		if v.Status == StatusFailed {
			n++
		}
	}
	for _, v := range r.Channels {
		if v.Status == StatusFailed {
			n++
		}
	}
	return n
}

// Check verifies that every entity has an id exactly when it is
// provisioned.
func (r *GuildRecord) Check() error {
	check := func(kind, name, id string, s Status) error {
		if s.Provisioned() != (id != "") {
			return fmt.Errorf("%s %q: status %q with id %q", kind, name, s, id)
		}
		return nil
	}
	for _, name := range sortedKeys(r.Roles) {
		if err := check("role", name, r.Roles[name].ID, r.Roles[name].Status); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(r.Categories) {
		if err := check("category", name, r.Categories[name].ID, r.Categories[name].Status); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(r.Channels) {
		if err := check("channel", name, r.Channels[name].ID, r.Channels[name].Status); err != nil {
			return err
		}
	}
	return nil
}

// Merge returns base updated with the entries present in patch. Entities
// and fields absent from patch are preserved; patch errors are appended to
// the bounded history.
func Merge(base, patch *GuildRecord) *GuildRecord {
	out := base.Clone()
	if patch == nil {
		return out
	}
	if out.GuildID == "" {
		out.GuildID = patch.GuildID
	}
	for k, v := range patch.Roles {
		out.Roles[k] = v
	}
	for k, v := range patch.Categories {
		out.Categories[k] = v
	}
	for k, v := range patch.Channels {
		out.Channels[k] = v
	}
	for _, e := range patch.Errors {
		out.AddError(e)
	}
	if patch.SetupStatus != "" {
		out.SetupStatus = patch.SetupStatus
	}
	if patch.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = patch.UpdatedAt
	}
	return out
}

// Store persists guild records keyed by guild id.
type Store interface {
	// Get returns the record for guildID or ErrNotFound.
	Get(ctx context.Context, guildID string) (*GuildRecord, error)

	// Put replaces the record stored under rec.GuildID.
	Put(ctx context.Context, rec *GuildRecord) error

	// Delete removes a guild's record. Deleting a missing record is not an
	// error.
	Delete(ctx context.Context, guildID string) error

	// List returns the ids of all guilds with a record, sorted.
	List(ctx context.Context) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// Load returns the stored record for guildID, or a fresh empty record when
// none exists yet.
func Load(ctx context.Context, s Store, guildID string) (*GuildRecord, error) {
	rec, err := s.Get(ctx, guildID)
	if errors.Is(err, ErrNotFound) {
		return NewRecord(guildID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading state for guild %s: %w", guildID, err)
	}
	rec.ensure()
	return rec, nil
}

// Update merges patch into the stored record for guildID and writes the
// result back.
func Update(ctx context.Context, s Store, guildID string, patch *GuildRecord) (*GuildRecord, error) {
	current, err := Load(ctx, s, guildID)
	if err != nil {
		return nil, err
	}
	merged := Merge(current, patch)
	merged.GuildID = guildID
	if err := s.Put(ctx, merged); err != nil {
		return nil, fmt.Errorf("saving state for guild %s: %w", guildID, err)
	}
	return merged, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
