package reconcile

import (
	"time"

	"github.com/szaher/guildkeeper/internal/hints"
	"github.com/szaher/guildkeeper/internal/state"
)

// Outcome lists entity names by what happened to them in one run.
type Outcome struct {
	Created []string `json:"created"`
	Adopted []string `json:"adopted"`
	Skipped []string `json:"skipped"`
	Failed  []string `json:"failed"`
	// Planned holds the entities a dry run would create.
	Planned []string `json:"planned,omitempty"`
}

// Total returns the number of entities in the outcome.
func (o Outcome) Total() int {
	return len(o.Created) + len(o.Adopted) + len(o.Skipped) + len(o.Failed) + len(o.Planned)
}

// EntityError is a classified per-entity failure.
type EntityError struct {
	Context string     `json:"context"`
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Hint    hints.Hint `json:"hint"`
}

// Result summarizes one reconciliation run.
type Result struct {
	GuildID       string            `json:"guildId"`
	CorrelationID string            `json:"correlationId"`
	DryRun        bool              `json:"dryRun"`
	Roles         Outcome           `json:"roles"`
	Categories    Outcome           `json:"categories"`
	Channels      Outcome           `json:"channels"`
	Errors        []EntityError     `json:"errors"`
	Warnings      []string          `json:"warnings"`
	SetupStatus   state.SetupStatus `json:"setupStatus"`
	Duration      time.Duration     `json:"duration"`

	// General is a run-level failure not attributable to any entity. When
	// set, Reconcile also returns it.
	General error `json:"-"`
}

// FailedCount returns how many entities failed across all kinds.
func (r *Result) FailedCount() int {
	return len(r.Roles.Failed) + len(r.Categories.Failed) + len(r.Channels.Failed)
}

// CreatedCount returns how many entities were created across all kinds.
func (r *Result) CreatedCount() int {
	return len(r.Roles.Created) + len(r.Categories.Created) + len(r.Channels.Created)
}

// AdoptedCount returns how many entities were adopted across all kinds.
func (r *Result) AdoptedCount() int {
	return len(r.Roles.Adopted) + len(r.Categories.Adopted) + len(r.Channels.Adopted)
}

// PlannedCount returns how many entities a dry run would create.
func (r *Result) PlannedCount() int {
	return len(r.Roles.Planned) + len(r.Categories.Planned) + len(r.Channels.Planned)
}

// Outcome returns the metrics label for the run.
func (r *Result) Outcome() string {
	switch {
	case r.General != nil:
		return "failed"
	case r.DryRun:
		return "dry_run"
	case r.FailedCount() > 0:
		return "partial"
	default:
		return "completed"
	}
}
