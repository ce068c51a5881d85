package plan

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/szaher/guildkeeper/internal/blueprint"
	"github.com/szaher/guildkeeper/internal/platform"
	"github.com/szaher/guildkeeper/internal/state"
)

const testBlueprint = `{
  "roles": [{"name": "Alpha", "color": "#ff0000"}, {"name": "Beta", "color": 255}],
  "categories": [
    {"name": "Hub", "channels": [
      {"name": "general", "type": "text"},
      {"name": "ideas", "type": "forum", "forumTags": ["bug", "idea"]}
    ]}
  ]
}`

func loadBlueprint(t *testing.T) *blueprint.Blueprint {
	t.Helper()
	bp, err := blueprint.Parse([]byte(testBlueprint), "json")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return bp
}

func TestComputePlanEmptyState(t *testing.T) {
	p := ComputePlan(loadBlueprint(t), state.NewRecord("g1"))
	if !p.HasChanges {
		t.Fatal("expected changes")
	}
	want := []string{"role/Alpha", "role/Beta", "category/Hub", "channel/general", "channel/ideas"}
	if len(p.Actions) != len(want) {
		t.Fatalf("got %d actions, want %d", len(p.Actions), len(want))
	}
	for i, a := range p.Actions {
		if got := string(a.Kind) + "/" + a.Name; got != want[i] {
			t.Errorf("action[%d] = %s, want %s", i, got, want[i])
		}
		if a.Action != ActionCreate {
			t.Errorf("action[%d].Action = %s, want create", i, a.Action)
		}
	}
	if p.Actions[4].Type != "forum" || p.Actions[4].Category != "Hub" {
		t.Errorf("forum action = %+v", p.Actions[4])
	}
}

func TestComputePlanRetryOnlyFailed(t *testing.T) {
	rec := state.NewRecord("g1")
	rec.Roles["Alpha"] = state.RoleRecord{ID: "r1", Status: state.StatusCreated}
	rec.Roles["Beta"] = state.RoleRecord{Status: state.StatusFailed}

	p := ComputePlan(loadBlueprint(t), rec)
	missing := p.Missing(KindRole)
	if len(missing) != 1 || missing[0] != "Beta" {
		t.Errorf("Missing(role) = %v, want [Beta]", missing)
	}
	if p.IsPending(KindRole, "Alpha") {
		t.Error("Alpha should not be pending")
	}
	if p.Actions[1].Action != ActionRetry {
		t.Errorf("Beta action = %s, want retry", p.Actions[1].Action)
	}
	creates, retries, noops := p.Counts()
	if creates != 3 || retries != 1 || noops != 1 {
		t.Errorf("Counts = %d/%d/%d, want 3/1/1", creates, retries, noops)
	}
}

func TestComputePlanNoChanges(t *testing.T) {
	rec := state.NewRecord("g1")
	rec.Roles["Alpha"] = state.RoleRecord{ID: "r1", Status: state.StatusCreated}
	rec.Roles["Beta"] = state.RoleRecord{ID: "r2", Status: state.StatusExisting}
	rec.Categories["Hub"] = state.CategoryRecord{ID: "c1", Status: state.StatusCreated}
	rec.Channels["general"] = state.ChannelRecord{ID: "ch1", Status: state.StatusCreated}
	rec.Channels["ideas"] = state.ChannelRecord{ID: "ch2", Status: state.StatusCreated, Type: "text"}

	p := ComputePlan(loadBlueprint(t), rec)
	if p.HasChanges {
		t.Error("expected no changes")
	}
	if got := FormatText(p); got != "No changes. Guild is up-to-date.\n" {
		t.Errorf("FormatText = %q", got)
	}
}

func TestFormatText(t *testing.T) {
	rec := state.NewRecord("g1")
	rec.Roles["Beta"] = state.RoleRecord{Status: state.StatusFailed}
	out := FormatText(ComputePlan(loadBlueprint(t), rec))
	for _, want := range []string{
		"Plan: 4 to create, 1 to retry, 0 unchanged",
		"  + role/Alpha",
		"  ~ role/Beta",
		"  + channel/ideas (forum in Hub)",
		"Guild: g1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatText missing %q in:\n%s", want, out)
		}
	}
}

func TestFormatJSON(t *testing.T) {
	out, err := FormatJSON(ComputePlan(loadBlueprint(t), state.NewRecord("g1")))
	if err != nil {
		t.Fatalf("FormatJSON: %v", err)
	}
	var decoded struct {
		GuildID    string `json:"guild_id"`
		HasChanges bool   `json:"has_changes"`
		Actions    []struct {
			Kind   string `json:"kind"`
			Action string `json:"action"`
		} `json:"actions"`
	}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.GuildID != "g1" || !decoded.HasChanges || len(decoded.Actions) != 5 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestFilter(t *testing.T) {
	p := ComputePlan(loadBlueprint(t), state.NewRecord("g1"))

	tests := []struct {
		expr string
		want int
	}{
		{`kind == "channel" && type == "forum"`, 1},
		{`kind == "role"`, 2},
		{`category == "Hub"`, 2},
		{`action == "noop"`, 0},
	}
	for _, tt := range tests {
		f, err := CompileFilter(tt.expr)
		if err != nil {
			t.Fatalf("CompileFilter(%q): %v", tt.expr, err)
		}
		out, err := f.Apply(p)
		if err != nil {
			t.Fatalf("Apply(%q): %v", tt.expr, err)
		}
		if len(out.Actions) != tt.want {
			t.Errorf("%s matched %d actions, want %d", tt.expr, len(out.Actions), tt.want)
		}
		if out.HasChanges != (tt.want > 0) {
			t.Errorf("%s HasChanges = %v", tt.expr, out.HasChanges)
		}
	}

	var nilFilter *Filter
	if out, _ := nilFilter.Apply(p); out != p {
		t.Error("nil filter should return the plan unchanged")
	}
}

func TestCompileFilterErrors(t *testing.T) {
	for _, src := range []string{"", `kind ==`, `size > 3`, `name`} {
		if _, err := CompileFilter(src); err == nil {
			t.Errorf("CompileFilter(%q) expected error", src)
		}
	}
}

func TestDetectDrift(t *testing.T) {
	bp := loadBlueprint(t)
	rec := state.NewRecord("g1")
	rec.Roles["Alpha"] = state.RoleRecord{ID: "gone", Status: state.StatusCreated}

	roles := []platform.Role{{ID: "r-beta", Name: "beta"}}
	channels := []platform.Channel{
		{ID: "cat-hub", Name: "HUB", Kind: platform.KindCategory},
		{ID: "ch-gen", Name: "general", Kind: platform.KindText, ParentID: "cat-hub"},
		{ID: "ch-other", Name: "ideas", Kind: platform.KindText, ParentID: "elsewhere"},
	}

	d := DetectDrift(ComputePlan(bp, rec), rec, roles, channels)
	if !d.HasDrift {
		t.Fatal("expected drift")
	}
	got := map[string]DriftType{}
	for _, e := range d.Drifted {
		got[string(e.Kind)+"/"+e.Name] = e.Type
	}
	want := map[string]DriftType{
		"role/Alpha":      DriftVanished,
		"role/Beta":       DriftAdoptable,
		"category/Hub":    DriftAdoptable,
		"channel/general": DriftAdoptable,
	}
	if len(got) != len(want) {
		t.Errorf("drift = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("drift[%s] = %q, want %q", k, got[k], v)
		}
	}
	out := FormatDrift(d)
	if !strings.Contains(out, "role/Alpha: recorded id gone no longer exists") {
		t.Errorf("FormatDrift = %s", out)
	}
	if FormatDrift(&DriftResult{}) != "No drift detected.\n" {
		t.Error("empty drift formatting")
	}
}
