// Package plan implements the desired-state diff between a blueprint and
// a guild's recorded state.
package plan

import (
	"github.com/szaher/guildkeeper/internal/blueprint"
	"github.com/szaher/guildkeeper/internal/state"
)

// Kind is the entity kind an action applies to.
type Kind string

const (
	KindRole     Kind = "role"
	KindCategory Kind = "category"
	KindChannel  Kind = "channel"
)

// ActionType says what the reconciler will do with an entity.
type ActionType string

const (
	ActionCreate ActionType = "create"
	ActionRetry  ActionType = "retry"
	ActionNoop   ActionType = "noop"
)

// Action is one planned step.
type Action struct {
	Kind     Kind
	Name     string
	Type     string // role, category, text, voice, forum
	Category string // parent category, channels only
	Action   ActionType
	Reason   string
}

// Pending reports whether the action requires work.
func (a Action) Pending() bool {
	return a.Action != ActionNoop
}

// Plan is the ordered set of actions for one guild: roles in blueprint
// order, then each category followed by its channels.
type Plan struct {
	GuildID    string
	Actions    []Action
	HasChanges bool
}

// ComputePlan compares the blueprint against the guild record. Entities
// whose status is created or existing are noops, failed entities are
// retried and absent ones are created.
func ComputePlan(bp *blueprint.Blueprint, rec *state.GuildRecord) *Plan {
	if rec == nil {
		rec = state.NewRecord("")
	}
	p := &Plan{GuildID: rec.GuildID}

	for _, r := range bp.Roles {
		st, ok := rec.Roles[r.Name]
		p.add(Action{Kind: KindRole, Name: r.Name, Type: string(KindRole)}, st.Status, ok)
	}
	for _, c := range bp.Categories {
		st, ok := rec.Categories[c.Name]
		p.add(Action{Kind: KindCategory, Name: c.Name, Type: string(KindCategory)}, st.Status, ok)
		for _, ch := range c.Channels {
			cst, ok := rec.Channels[ch.Name]
			p.add(Action{Kind: KindChannel, Name: ch.Name, Type: string(ch.Type), Category: c.Name}, cst.Status, ok)
		}
	}
	return p
}

func (p *Plan) add(a Action, status state.Status, recorded bool) {
	switch {
	case !recorded:
		a.Action = ActionCreate
		a.Reason = "not recorded"
	case !status.Provisioned():
		a.Action = ActionRetry
		a.Reason = "previous attempt failed"
	default:
		a.Action = ActionNoop
		a.Reason = "already " + string(status)
	}
	if a.Pending() {
		p.HasChanges = true
	}
	p.Actions = append(p.Actions, a)
}

// Missing returns the names of pending entities of the given kind, in
// plan order.
func (p *Plan) Missing(kind Kind) []string {
	var out []string
	for _, a := range p.Actions {
		if a.Kind == kind && a.Pending() {
			out = append(out, a.Name)
		}
	}
	return out
}

// IsPending reports whether the named entity needs work.
func (p *Plan) IsPending(kind Kind, name string) bool {
	for _, a := range p.Actions {
		if a.Kind == kind && a.Name == name {
			return a.Pending()
		}
	}
	return false
}

// Counts returns the number of create, retry and noop actions.
func (p *Plan) Counts() (creates, retries, noops int) {
	for _, a := range p.Actions {
		switch a.Action {
		case ActionCreate:
			creates++
		case ActionRetry:
			retries++
		case ActionNoop:
			noops++
		}
	}
	return creates, retries, noops
}
