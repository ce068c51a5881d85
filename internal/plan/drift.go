package plan

import (
	"sort"

	"github.com/szaher/guildkeeper/internal/blueprint"
	"github.com/szaher/guildkeeper/internal/platform"
	"github.com/szaher/guildkeeper/internal/state"
)

// DriftType classifies a discrepancy between state and the live guild.
type DriftType string

const (
	// DriftVanished means state holds an id that no longer exists remotely.
	DriftVanished DriftType = "vanished"
	// DriftAdoptable means a pending entity already exists remotely by name
	// and will be adopted instead of created.
	DriftAdoptable DriftType = "adoptable"
)

// DriftResult describes detected drift between state and the live guild.
type DriftResult struct {
	HasDrift bool
	Drifted  []DriftEntry
}

// DriftEntry describes a single entity with drift.
type DriftEntry struct {
	Kind     Kind
	Name     string
	Expected string
	Actual   string
	Type     DriftType
}

// DetectDrift compares the recorded ids against the live roles and
// channels, and reports pending entities the reconciler would adopt.
func DetectDrift(p *Plan, rec *state.GuildRecord, roles []platform.Role, channels []platform.Channel) *DriftResult {
	result := &DriftResult{}

	roleIDs := make(map[string]bool, len(roles))
	roleByName := make(map[string]string, len(roles))
	for _, r := range roles {
		roleIDs[r.ID] = true
		roleByName[blueprint.NormalizeName(r.Name)] = r.ID
	}
	chanIDs := make(map[string]bool, len(channels))
	catByName := make(map[string]string)
	for _, c := range channels {
		chanIDs[c.ID] = true
		if c.Kind == platform.KindCategory {
			catByName[blueprint.NormalizeName(c.Name)] = c.ID
		}
	}

	vanished := func(kind Kind, name, id string, live map[string]bool) {
		if id != "" && !live[id] {
			result.Drifted = append(result.Drifted, DriftEntry{Kind: kind, Name: name, Expected: id, Type: DriftVanished})
		}
	}
	for _, name := range sortedNames(rec.Roles) {
		vanished(KindRole, name, rec.Roles[name].ID, roleIDs)
	}
	for _, name := range sortedNames(rec.Categories) {
		vanished(KindCategory, name, rec.Categories[name].ID, chanIDs)
	}
	for _, name := range sortedNames(rec.Channels) {
		vanished(KindChannel, name, rec.Channels[name].ID, chanIDs)
	}

	for _, a := range p.Actions {
		if !a.Pending() {
			continue
		}
		key := blueprint.NormalizeName(a.Name)
		var id string
		switch a.Kind {
		case KindRole:
			id = roleByName[key]
		case KindCategory:
			id = catByName[key]
		case KindChannel:
			parent := rec.Categories[a.Category].ID
			if parent == "" {
				parent = catByName[blueprint.NormalizeName(a.Category)]
			}
			if parent == "" {
				continue
			}
			for _, c := range channels {
				if c.Kind != platform.KindCategory && c.ParentID == parent && blueprint.NormalizeName(c.Name) == key {
					id = c.ID
					break
				}
			}
		}
		if id != "" {
			result.Drifted = append(result.Drifted, DriftEntry{Kind: a.Kind, Name: a.Name, Actual: id, Type: DriftAdoptable})
		}
	}

	result.HasDrift = len(result.Drifted) > 0
	return result
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
