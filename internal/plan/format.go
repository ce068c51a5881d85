package plan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatText produces a human-readable text plan output.
func FormatText(p *Plan) string {
	if !p.HasChanges {
		return "No changes. Guild is up-to-date.\n"
	}

	creates, retries, noops := p.Counts()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Plan: %d to create, %d to retry, %d unchanged\n\n",
		creates, retries, noops))

	for _, a := range p.Actions {
		switch a.Action {
		case ActionCreate:
			sb.WriteString(fmt.Sprintf("  + %s\n", display(a)))
		case ActionRetry:
			sb.WriteString(fmt.Sprintf("  ~ %s\n", display(a)))
		}
	}

	if p.GuildID != "" {
		sb.WriteString(fmt.Sprintf("\nGuild: %s\n", p.GuildID))
	}

	return sb.String()
}

// FormatDrift renders a drift report, one entry per line.
func FormatDrift(d *DriftResult) string {
	if !d.HasDrift {
		return "No drift detected.\n"
	}
	var sb strings.Builder
	for _, e := range d.Drifted {
		switch e.Type {
		case DriftVanished:
			sb.WriteString(fmt.Sprintf("  ! %s/%s: recorded id %s no longer exists\n", e.Kind, e.Name, e.Expected))
		case DriftAdoptable:
			sb.WriteString(fmt.Sprintf("  = %s/%s: will adopt existing %s\n", e.Kind, e.Name, e.Actual))
		}
	}
	return sb.String()
}

// FormatJSON produces a JSON plan output.
func FormatJSON(p *Plan) (string, error) {
	type jsonAction struct {
		Kind     string `json:"kind"`
		Name     string `json:"name"`
		Type     string `json:"type"`
		Category string `json:"category,omitempty"`
		Action   string `json:"action"`
		Reason   string `json:"reason,omitempty"`
	}
	type jsonPlan struct {
		GuildID    string       `json:"guild_id,omitempty"`
		HasChanges bool         `json:"has_changes"`
		Actions    []jsonAction `json:"actions"`
	}

	jp := jsonPlan{
		GuildID:    p.GuildID,
		HasChanges: p.HasChanges,
		Actions:    []jsonAction{},
	}
	for _, a := range p.Actions {
		jp.Actions = append(jp.Actions, jsonAction{
			Kind:     string(a.Kind),
			Name:     a.Name,
			Type:     a.Type,
			Category: a.Category,
			Action:   string(a.Action),
			Reason:   a.Reason,
		})
	}

	data, err := json.MarshalIndent(jp, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data) + "\n", nil
}

// display renders "kind/name", with the channel type for channels.
func display(a Action) string {
	if a.Kind == KindChannel {
		return fmt.Sprintf("%s/%s (%s in %s)", a.Kind, a.Name, a.Type, a.Category)
	}
	return fmt.Sprintf("%s/%s", a.Kind, a.Name)
}
