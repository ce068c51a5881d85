package reconcile

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/szaher/guildkeeper/internal/blueprint"
	"github.com/szaher/guildkeeper/internal/events"
	"github.com/szaher/guildkeeper/internal/platform"
	"github.com/szaher/guildkeeper/internal/platform/platformtest"
	"github.com/szaher/guildkeeper/internal/state"
)

const fullBlueprint = `{
  "roles": [
    {"name": "Moderator", "color": "#e74c3c", "mentionable": true},
    {"name": "Member", "color": 3447003}
  ],
  "categories": [
    {"name": "Hub", "channels": [
      {"name": "general", "type": "text", "description": "Say hi"},
      {"name": "ideas", "type": "forum", "forumTags": ["bug", " Bug ", "feature"]},
      {"name": "lounge", "type": "voice"}
    ]},
    {"name": "Staff", "private": true, "channels": [
      {"name": "mod-chat", "type": "text", "allowedRoles": ["Moderator"]},
      {"name": "mod-voice", "type": "voice", "allowedRoles": ["moderator"]},
      {"name": "staff-notes", "type": "text"}
    ]}
  ]
}`

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func parse(t *testing.T, doc string) *blueprint.Blueprint {
	t.Helper()
	bp, err := blueprint.Parse([]byte(doc), "json")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return bp
}

func rolesOnly(names ...string) string {
	var parts []string
	for _, n := range names {
		parts = append(parts, `{"name": "`+n+`", "color": 0}`)
	}
	return `{"roles": [` + strings.Join(parts, ",") + `], "categories": []}`
}

func newTestReconciler(store state.Store, client platform.Client, opts Options) *Reconciler {
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	return New(store, client, opts)
}

func permissionDenied() error {
	return &platform.Error{Code: platform.CodeMissingPermissions, Status: 403, Message: "Missing Permissions"}
}

func sameNames(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestAlphaBetaScenario(t *testing.T) {
	store := state.NewMemoryStore()
	fake := platformtest.NewFake(10)
	r := newTestReconciler(store, fake, Options{})

	res, err := r.Reconcile(context.Background(), "g1", parse(t, rolesOnly("Alpha", "Beta")))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !sameNames(res.Roles.Created, []string{"Alpha", "Beta"}) {
		t.Errorf("created = %v, want [Alpha Beta]", res.Roles.Created)
	}
	if len(res.Roles.Skipped) != 0 || len(res.Roles.Failed) != 0 {
		t.Errorf("skipped = %v, failed = %v, want none", res.Roles.Skipped, res.Roles.Failed)
	}

	rec, err := store.Get(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	alpha, beta := rec.Roles["Alpha"], rec.Roles["Beta"]
	if alpha.Status != state.StatusCreated || beta.Status != state.StatusCreated {
		t.Errorf("statuses = %s/%s, want created/created", alpha.Status, beta.Status)
	}
	if alpha.Position != 9 || beta.Position != 8 {
		t.Errorf("positions = %d/%d, want 9/8", alpha.Position, beta.Position)
	}
	if rec.SetupStatus != state.SetupCompleted || res.SetupStatus != state.SetupCompleted {
		t.Errorf("setupStatus = %s (result %s), want completed", rec.SetupStatus, res.SetupStatus)
	}
	if err := rec.Check(); err != nil {
		t.Errorf("Check: %v", err)
	}
	if res.Outcome() != "completed" {
		t.Errorf("Outcome = %s, want completed", res.Outcome())
	}
}

func TestRetryOnlyFailed(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	seed := state.NewRecord("g1")
	seed.Roles["Alpha"] = state.RoleRecord{ID: "r-alpha", Status: state.StatusCreated, Position: 9}
	seed.Roles["Beta"] = state.RoleRecord{Status: state.StatusFailed}
	if err := store.Put(ctx, seed); err != nil {
		t.Fatal(err)
	}

	fake := platformtest.NewFake(10)
	res, err := newTestReconciler(store, fake, Options{}).Reconcile(ctx, "g1", parse(t, rolesOnly("Alpha", "Beta")))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	calls := fake.Calls()
	if len(calls) != 1 || calls[0].Op != "CreateRole" || calls[0].Name != "Beta" {
		t.Fatalf("calls = %+v, want a single CreateRole(Beta)", calls)
	}
	if !sameNames(res.Roles.Skipped, []string{"Alpha"}) || !sameNames(res.Roles.Created, []string{"Beta"}) {
		t.Errorf("skipped = %v, created = %v", res.Roles.Skipped, res.Roles.Created)
	}
	rec, _ := store.Get(ctx, "g1")
	if rec.Roles["Alpha"].ID != "r-alpha" {
		t.Errorf("Alpha id changed to %q", rec.Roles["Alpha"].ID)
	}
}

func TestIdempotence(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	fake := platformtest.NewFake(20)
	r := newTestReconciler(store, fake, Options{})
	bp := parse(t, fullBlueprint)

	first, err := r.Reconcile(ctx, "g1", bp)
	if err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	if first.CreatedCount() != 10 {
		t.Errorf("first run created %d entities, want 10", first.CreatedCount())
	}
	callsAfterFirst := fake.CallCount()

	second, err := r.Reconcile(ctx, "g1", bp)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if fake.CallCount() != callsAfterFirst {
		t.Errorf("second run made %d new calls, want 0", fake.CallCount()-callsAfterFirst)
	}
	if second.CreatedCount() != 0 || second.AdoptedCount() != 0 {
		t.Errorf("second run created %d, adopted %d, want 0/0", second.CreatedCount(), second.AdoptedCount())
	}
	if got := len(second.Roles.Skipped) + len(second.Categories.Skipped) + len(second.Channels.Skipped); got != 10 {
		t.Errorf("second run skipped %d entities, want 10", got)
	}
}

func TestPartialFailureIsolation(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	fake := platformtest.NewFake(10).FailOn("Beta", permissionDenied())
	r := newTestReconciler(store, fake, Options{})
	bp := parse(t, rolesOnly("Alpha", "Beta", "Gamma"))

	res, err := r.Reconcile(ctx, "g1", bp)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !sameNames(res.Roles.Created, []string{"Alpha", "Gamma"}) || !sameNames(res.Roles.Failed, []string{"Beta"}) {
		t.Errorf("created = %v, failed = %v", res.Roles.Created, res.Roles.Failed)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("errors = %+v, want 1", res.Errors)
	}
	e := res.Errors[0]
	if e.Context != "role:Beta" || e.Code != platform.CodeMissingPermissions || e.Hint.Title != "Missing permissions" {
		t.Errorf("error = %+v", e)
	}
	if res.Outcome() != "partial" {
		t.Errorf("Outcome = %s, want partial", res.Outcome())
	}

	rec, _ := store.Get(ctx, "g1")
	if rec.Roles["Beta"].Status != state.StatusFailed || rec.Roles["Beta"].ID != "" {
		t.Errorf("Beta record = %+v", rec.Roles["Beta"])
	}
	if rec.SetupStatus != state.SetupNone {
		t.Errorf("setupStatus = %s, want none", rec.SetupStatus)
	}
	if len(rec.Errors) != 1 || rec.Errors[0].Context != "role:Beta" || rec.Errors[0].Code != platform.CodeMissingPermissions {
		t.Errorf("recorded errors = %+v", rec.Errors)
	}
	if err := rec.Check(); err != nil {
		t.Errorf("Check: %v", err)
	}

	// Positions decrease strictly in blueprint order, below the bot.
	var positions []int
	for _, c := range fake.Calls() {
		positions = append(positions, c.Role.Position)
	}
	for i, p := range positions {
		if p >= 10 || p < 1 {
			t.Errorf("position[%d] = %d, want within [1, 10)", i, p)
		}
		if i > 0 && p >= positions[i-1] {
			t.Errorf("positions %v are not strictly decreasing", positions)
		}
	}

	fake.Heal("Beta")
	res, err = r.Reconcile(ctx, "g1", bp)
	if err != nil {
		t.Fatalf("retry Reconcile: %v", err)
	}
	if !sameNames(res.Roles.Created, []string{"Beta"}) {
		t.Errorf("retry created = %v, want [Beta]", res.Roles.Created)
	}
	rec, _ = store.Get(ctx, "g1")
	if rec.SetupStatus != state.SetupCompleted {
		t.Errorf("setupStatus after retry = %s, want completed", rec.SetupStatus)
	}
}

func TestPositionClampsAtOne(t *testing.T) {
	fake := platformtest.NewFake(2)
	_, err := newTestReconciler(state.NewMemoryStore(), fake, Options{}).
		Reconcile(context.Background(), "g1", parse(t, rolesOnly("A", "B", "C")))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	var got []int
	for _, c := range fake.Calls() {
		got = append(got, c.Role.Position)
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 1 || got[2] != 1 {
		t.Errorf("positions = %v, want [1 1 1]", got)
	}
}

func TestDryRunPurity(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	fake := platformtest.NewFake(10).FailOn("general", permissionDenied())
	live := newTestReconciler(store, fake, Options{})
	bp := parse(t, fullBlueprint)

	if _, err := live.Reconcile(ctx, "g1", bp); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	before := store.Raw("g1")
	calls := fake.CallCount()

	collector := &events.CollectorEmitter{}
	dry := newTestReconciler(store, fake, Options{DryRun: true, Emitter: collector})
	res, err := dry.Reconcile(ctx, "g1", bp)
	if err != nil {
		t.Fatalf("dry Reconcile: %v", err)
	}
	if !bytes.Equal(before, store.Raw("g1")) {
		t.Error("dry run changed the stored state")
	}
	if fake.CallCount() != calls {
		t.Errorf("dry run made %d platform calls", fake.CallCount()-calls)
	}
	if !res.DryRun || !sameNames(res.Channels.Planned, []string{"general"}) {
		t.Errorf("dry run planned channels = %v", res.Channels.Planned)
	}
	if len(collector.OfType(events.ReconcileDryRun)) != 1 {
		t.Errorf("dry run events = %d, want 1", len(collector.OfType(events.ReconcileDryRun)))
	}

	// A guild with no record stays without one.
	if _, err := dry.Reconcile(ctx, "g2", bp); err != nil {
		t.Fatalf("dry Reconcile g2: %v", err)
	}
	if store.Raw("g2") != nil {
		t.Error("dry run created a record")
	}
	if !live.WithDryRun(true).DryRun() || live.DryRun() {
		t.Error("WithDryRun must not modify the original reconciler")
	}
}

func TestForumFallback(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	fake := platformtest.NewFake(10).RejectForums()
	res, err := newTestReconciler(store, fake, Options{}).Reconcile(ctx, "g1", parse(t, fullBlueprint))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	rec, _ := store.Get(ctx, "g1")
	ideas := rec.Channels["ideas"]
	if ideas.Status != state.StatusCreated || ideas.Type != "text" || ideas.ID == "" {
		t.Errorf("ideas record = %+v, want created text channel", ideas)
	}
	if len(res.Errors) != 0 || res.FailedCount() != 0 {
		t.Errorf("fallback recorded errors: %+v", res.Errors)
	}
	if len(rec.Errors) != 0 {
		t.Errorf("fallback recorded state errors: %+v", rec.Errors)
	}
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, `"ideas"`) && strings.Contains(w, "text") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want a forum fallback warning", res.Warnings)
	}

	var attempts []platform.ChannelSpec
	for _, c := range fake.Calls() {
		if c.Name == "ideas" {
			attempts = append(attempts, c.Chan)
		}
	}
	if len(attempts) != 2 || attempts[0].Kind != platform.KindForum || attempts[1].Kind != platform.KindText {
		t.Fatalf("ideas attempts = %+v, want forum then text", attempts)
	}
	if len(attempts[0].ForumTags) != 2 || attempts[1].ForumTags != nil {
		t.Errorf("forum tags = %v then %v", attempts[0].ForumTags, attempts[1].ForumTags)
	}
	if rec.SetupStatus != state.SetupCompleted {
		t.Errorf("setupStatus = %s, want completed", rec.SetupStatus)
	}
}

func TestAdoptsLiveEntities(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	fake := platformtest.NewFake(10)
	mod := fake.SeedRole("g1", "moderator", 5)
	hub := fake.SeedChannel("g1", "HUB", platform.KindCategory, "")
	general := fake.SeedChannel("g1", "General", platform.KindText, hub.ID)
	fake.SeedChannel("g1", "lounge", platform.KindVoice, "some-other-category")

	res, err := newTestReconciler(store, fake, Options{}).Reconcile(ctx, "g1", parse(t, fullBlueprint))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !sameNames(res.Roles.Adopted, []string{"Moderator"}) || !sameNames(res.Roles.Created, []string{"Member"}) {
		t.Errorf("roles adopted = %v, created = %v", res.Roles.Adopted, res.Roles.Created)
	}
	if !sameNames(res.Categories.Adopted, []string{"Hub"}) {
		t.Errorf("categories adopted = %v", res.Categories.Adopted)
	}
	if !sameNames(res.Channels.Adopted, []string{"general"}) {
		t.Errorf("channels adopted = %v, want [general]", res.Channels.Adopted)
	}

	rec, _ := store.Get(ctx, "g1")
	if got := rec.Roles["Moderator"]; got.ID != mod.ID || got.Status != state.StatusExisting {
		t.Errorf("Moderator = %+v", got)
	}
	if got := rec.Channels["general"]; got.ID != general.ID || got.CategoryID != hub.ID || got.Status != state.StatusExisting {
		t.Errorf("general = %+v", got)
	}
	if got := rec.Channels["lounge"]; got.Status != state.StatusCreated || got.CategoryID != hub.ID {
		t.Errorf("lounge = %+v, want created under Hub", got)
	}
	for _, c := range fake.Calls() {
		if c.Name == "Moderator" || c.Name == "Hub" || c.Name == "general" {
			t.Errorf("adopted entity %s was created", c.Name)
		}
	}
}

func TestPermissionOverwrites(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	fake := platformtest.NewFake(10)
	if _, err := newTestReconciler(store, fake, Options{}).Reconcile(ctx, "g1", parse(t, fullBlueprint)); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	rec, _ := store.Get(ctx, "g1")
	modID := rec.Roles["Moderator"].ID

	specs := map[string]platform.ChannelSpec{}
	for _, c := range fake.Calls() {
		specs[c.Name] = c.Chan
	}

	staff := specs["Staff"]
	if len(staff.Overwrites) != 2 {
		t.Fatalf("Staff overwrites = %+v", staff.Overwrites)
	}
	if ow := staff.Overwrites[0]; ow.ID != "g1" || ow.Deny != platform.PermissionViewChannel {
		t.Errorf("@everyone overwrite = %+v", ow)
	}
	if ow := staff.Overwrites[1]; ow.ID != fake.BotUserID() || ow.Target != platform.TargetMember {
		t.Errorf("bot overwrite = %+v", ow)
	}
	if specs["Hub"].Overwrites != nil {
		t.Errorf("public category has overwrites %+v", specs["Hub"].Overwrites)
	}

	allowOf := func(spec platform.ChannelSpec, id string) int64 {
		for _, ow := range spec.Overwrites {
			if ow.ID == id {
				return ow.Allow
			}
		}
		return -1
	}
	if got := allowOf(specs["mod-chat"], modID); got != platform.PermissionViewChannel|platform.PermissionSendMessages {
		t.Errorf("mod-chat allow = %d", got)
	}
	if got := allowOf(specs["mod-voice"], modID); got != platform.PermissionViewChannel|platform.PermissionConnect {
		t.Errorf("mod-voice allow = %d", got)
	}
	if specs["staff-notes"].Overwrites != nil {
		t.Errorf("staff-notes should inherit, got %+v", specs["staff-notes"].Overwrites)
	}
	if specs["general"].Topic != "Say hi" || specs["lounge"].Topic != "" {
		t.Errorf("topics = %q / %q", specs["general"].Topic, specs["lounge"].Topic)
	}
	if specs["general"].ParentID != rec.Categories["Hub"].ID {
		t.Errorf("general parent = %q", specs["general"].ParentID)
	}
}

func TestAllowedRoleWithoutID(t *testing.T) {
	ctx := context.Background()
	fake := platformtest.NewFake(10).FailOn("Moderator", permissionDenied())
	res, err := newTestReconciler(state.NewMemoryStore(), fake, Options{}).Reconcile(ctx, "g1", parse(t, fullBlueprint))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	warned := 0
	for _, w := range res.Warnings {
		if strings.Contains(w, `role "Moderator" has no id yet`) || strings.Contains(w, `role "moderator" has no id yet`) {
			warned++
		}
	}
	if warned != 2 {
		t.Errorf("warnings = %v, want two skipped overwrites", res.Warnings)
	}
	if !sameNames(res.Roles.Failed, []string{"Moderator"}) {
		t.Errorf("failed roles = %v", res.Roles.Failed)
	}
	if res.FailedCount() != 1 {
		t.Errorf("FailedCount = %d, want 1", res.FailedCount())
	}
}

func TestParentCategoryUnavailable(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	fake := platformtest.NewFake(10).FailOn("Hub", permissionDenied())
	res, err := newTestReconciler(store, fake, Options{}).Reconcile(ctx, "g1", parse(t, fullBlueprint))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !sameNames(res.Channels.Failed, []string{"general", "ideas", "lounge"}) {
		t.Errorf("failed channels = %v", res.Channels.Failed)
	}
	if len(res.Channels.Created) != 3 {
		t.Errorf("Staff channels created = %v, want 3", res.Channels.Created)
	}
	var msg string
	for _, e := range res.Errors {
		if e.Context == "channel:general" {
			msg = e.Message
		}
	}
	if msg != "parent category unavailable" {
		t.Errorf("general error = %q", msg)
	}
	for _, c := range fake.Calls() {
		if c.Name == "general" {
			t.Error("channel created without its category")
		}
	}
	rec, _ := store.Get(ctx, "g1")
	if rec.Channels["general"].Status != state.StatusFailed {
		t.Errorf("general record = %+v", rec.Channels["general"])
	}
}

func TestInFlightRejected(t *testing.T) {
	r := newTestReconciler(state.NewMemoryStore(), platformtest.NewFake(10), Options{})
	release, err := r.Guard().Acquire("g1")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	res, err := r.Reconcile(context.Background(), "g1", parse(t, rolesOnly("Alpha")))
	if !errors.Is(err, ErrInFlight) || res != nil {
		t.Errorf("Reconcile = %v, %v, want nil, ErrInFlight", res, err)
	}
	if _, err := r.Reconcile(context.Background(), "g2", parse(t, rolesOnly("Alpha"))); err != nil {
		t.Errorf("other guild rejected: %v", err)
	}
}

type failingStore struct{ *state.MemoryStore }

func (failingStore) Get(context.Context, string) (*state.GuildRecord, error) {
	return nil, errors.New("state unreadable")
}

func TestLoadFailureIsGeneral(t *testing.T) {
	fake := platformtest.NewFake(10)
	collector := &events.CollectorEmitter{}
	r := newTestReconciler(failingStore{state.NewMemoryStore()}, fake, Options{Emitter: collector})

	res, err := r.Reconcile(context.Background(), "g1", parse(t, rolesOnly("Alpha")))
	if err == nil {
		t.Fatal("expected error")
	}
	if res == nil || res.General == nil || res.Outcome() != "failed" {
		t.Fatalf("result = %+v, want General set", res)
	}
	if fake.CallCount() != 0 {
		t.Errorf("made %d calls after a load failure", fake.CallCount())
	}
	if len(collector.OfType(events.ReconcileFailed)) != 1 {
		t.Error("missing reconcile.failed event")
	}
}

func TestInvalidBlueprintIsGeneral(t *testing.T) {
	bp := &blueprint.Blueprint{Roles: []blueprint.Role{{Name: "Alpha"}, {Name: "alpha"}}}
	res, err := newTestReconciler(state.NewMemoryStore(), platformtest.NewFake(10), Options{}).
		Reconcile(context.Background(), "g1", bp)
	if !errors.Is(err, blueprint.ErrInvalid) || !errors.Is(res.General, blueprint.ErrInvalid) {
		t.Errorf("err = %v, General = %v, want ErrInvalid", err, res.General)
	}

	if _, err := newTestReconciler(state.NewMemoryStore(), platformtest.NewFake(10), Options{}).
		Reconcile(context.Background(), "g1", nil); err == nil {
		t.Error("expected error for nil blueprint")
	}
}

type cancelAfterFirst struct {
	*platformtest.Fake
	cancel context.CancelFunc
}

func (c cancelAfterFirst) CreateRole(ctx context.Context, guildID string, spec platform.RoleSpec) (platform.Role, error) {
	role, err := c.Fake.CreateRole(ctx, guildID, spec)
	c.cancel()
	return role, err
}

func TestCancellationPersistsProgress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := state.NewMemoryStore()
	client := cancelAfterFirst{Fake: platformtest.NewFake(10), cancel: cancel}

	res, err := newTestReconciler(store, client, Options{}).Reconcile(ctx, "g1", parse(t, rolesOnly("Alpha", "Beta")))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if !sameNames(res.Roles.Created, []string{"Alpha"}) {
		t.Errorf("created = %v, want [Alpha]", res.Roles.Created)
	}
	rec, err := store.Get(context.Background(), "g1")
	if err != nil {
		t.Fatalf("state not persisted: %v", err)
	}
	if rec.Roles["Alpha"].Status != state.StatusCreated {
		t.Errorf("Alpha = %+v", rec.Roles["Alpha"])
	}
	if _, ok := rec.Roles["Beta"]; ok {
		t.Error("Beta should be left unrecorded")
	}
	if rec.SetupStatus != state.SetupNone {
		t.Errorf("setupStatus = %s, want none", rec.SetupStatus)
	}
}

func TestLifecycleEvents(t *testing.T) {
	collector := &events.CollectorEmitter{}
	ctx := context.Background()
	_, err := newTestReconciler(state.NewMemoryStore(), platformtest.NewFake(10), Options{Emitter: collector}).
		Reconcile(ctx, "g1", parse(t, rolesOnly("Alpha", "Beta")))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(collector.OfType(events.ReconcileStarted)) != 1 ||
		len(collector.OfType(events.ReconcileEntity)) != 2 ||
		len(collector.OfType(events.ReconcileCompleted)) != 1 {
		t.Errorf("events = %d", len(collector.Events))
	}
	cid := collector.Events[0].CorrelationID
	for _, e := range collector.Events {
		if e.CorrelationID != cid || e.GuildID != "g1" {
			t.Errorf("event %s has correlation %q guild %q", e.Type, e.CorrelationID, e.GuildID)
		}
	}
}

func TestPacerSpacesCalls(t *testing.T) {
	p := newPacer(20 * time.Millisecond)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 35*time.Millisecond {
		t.Errorf("3 paced calls took %v, want at least 40ms minus scheduling slack", elapsed)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := newPacer(time.Hour).Wait(cancelled); err == nil {
		t.Error("Wait should fail on a cancelled context")
	}
}

func TestReconcileMany(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	fake := platformtest.NewFake(10)
	r := newTestReconciler(store, fake, Options{})

	release, err := r.Guard().Acquire("busy")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	runs, err := r.ReconcileMany(ctx, []string{"g1", "busy", "g2"}, parse(t, rolesOnly("Alpha")), 2)
	if !errors.Is(err, ErrInFlight) {
		t.Errorf("err = %v, want ErrInFlight for the busy guild", err)
	}
	if len(runs) != 3 || runs[0].GuildID != "g1" || runs[2].GuildID != "g2" {
		t.Fatalf("runs = %+v", runs)
	}
	for _, i := range []int{0, 2} {
		if runs[i].Err != nil || !sameNames(runs[i].Result.Roles.Created, []string{"Alpha"}) {
			t.Errorf("run %s = %+v", runs[i].GuildID, runs[i])
		}
	}
	ids, _ := store.List(ctx)
	if len(ids) != 2 {
		t.Errorf("stored guilds = %v, want 2", ids)
	}
}

func TestRecordsPlatformRolePosition(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	fake := platformtest.NewFake(10).PinRolePosition(1)
	res, err := newTestReconciler(store, fake, Options{}).Reconcile(ctx, "g1", parse(t, rolesOnly("Alpha", "Beta")))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	rec, _ := store.Get(ctx, "g1")
	for _, name := range []string{"Alpha", "Beta"} {
		if got := rec.Roles[name].Position; got != 1 {
			t.Errorf("%s position = %d, want the platform's 1", name, got)
		}
	}
	var misplaced int
	for _, w := range res.Warnings {
		if strings.Contains(w, "requested position") {
			misplaced++
		}
	}
	if misplaced != 2 {
		t.Errorf("warnings = %v, want one per misplaced role", res.Warnings)
	}
	if res.FailedCount() != 0 {
		t.Errorf("misplacement should not fail roles: %+v", res.Errors)
	}
}

func TestForumTagFailureIsWarned(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	fake := platformtest.NewFake(10).FailTags(permissionDenied())
	res, err := newTestReconciler(store, fake, Options{}).Reconcile(ctx, "g1", parse(t, fullBlueprint))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	rec, _ := store.Get(ctx, "g1")
	if ideas := rec.Channels["ideas"]; ideas.Status != state.StatusCreated || ideas.Type != "forum" {
		t.Errorf("ideas record = %+v, want created forum", ideas)
	}
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, `"ideas"`) && strings.Contains(w, "forum tags") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want a forum tag warning", res.Warnings)
	}
}
