package state

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestStatusProvisioned(t *testing.T) {
	tests := []struct {
		s    Status
		want bool
	}{
		{StatusCreated, true},
		{StatusExisting, true},
		{StatusFailed, false},
		{"", false},
	}
	for _, tt := range tests {
		if got := tt.s.Provisioned(); got != tt.want {
			t.Errorf("%q.Provisioned() = %v, want %v", tt.s, got, tt.want)
		}
	}
}

func TestAddErrorKeepsLastTen(t *testing.T) {
	rec := NewRecord("g1")
	for i := 0; i < 15; i++ {
		rec.AddError(ErrorEntry{Context: fmt.Sprintf("role:%d", i)})
	}
	if len(rec.Errors) != MaxErrors {
		t.Fatalf("len(Errors) = %d, want %d", len(rec.Errors), MaxErrors)
	}
	if rec.Errors[0].Context != "role:5" {
		t.Errorf("oldest kept = %q, want %q", rec.Errors[0].Context, "role:5")
	}
	if rec.Errors[MaxErrors-1].Context != "role:14" {
		t.Errorf("newest = %q, want %q", rec.Errors[MaxErrors-1].Context, "role:14")
	}
}

func TestMergePreservesAbsentFields(t *testing.T) {
	now := time.Now()
	base := NewRecord("g1")
	base.Roles["Alpha"] = RoleRecord{ID: "1", Status: StatusCreated, Timestamp: now}
	base.Roles["Beta"] = RoleRecord{Status: StatusFailed, Timestamp: now}
	base.Channels["general"] = ChannelRecord{ID: "c1", CategoryID: "k1", Status: StatusCreated}
	base.SetupStatus = SetupNone

	patch := NewRecord("g1")
	patch.Roles["Beta"] = RoleRecord{ID: "2", Status: StatusCreated, Timestamp: now.Add(time.Second)}
	patch.SetupStatus = ""
	patch.AddError(ErrorEntry{Context: "channel:x", Message: "nope"})

	merged := Merge(base, patch)

	if merged.Roles["Alpha"].ID != "1" {
		t.Errorf("Alpha lost: %+v", merged.Roles["Alpha"])
	}
	if merged.Roles["Beta"].Status != StatusCreated || merged.Roles["Beta"].ID != "2" {
		t.Errorf("Beta = %+v, want created with id 2", merged.Roles["Beta"])
	}
	if merged.Channels["general"].ID != "c1" {
		t.Errorf("general channel lost: %+v", merged.Channels["general"])
	}
	if merged.SetupStatus != SetupNone {
		t.Errorf("SetupStatus = %q, want %q", merged.SetupStatus, SetupNone)
	}
	if len(merged.Errors) != 1 {
		t.Errorf("len(Errors) = %d, want 1", len(merged.Errors))
	}

	// base must not be mutated
	if base.Roles["Beta"].Status != StatusFailed {
		t.Error("Merge mutated base")
	}
}

func TestCheck(t *testing.T) {
	rec := NewRecord("g1")
	rec.Roles["Alpha"] = RoleRecord{ID: "1", Status: StatusCreated}
	rec.Roles["Beta"] = RoleRecord{Status: StatusFailed}
	if err := rec.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}

	rec.Channels["bad"] = ChannelRecord{ID: "x", Status: StatusFailed}
	if err := rec.Check(); err == nil {
		t.Error("expected error for failed channel with id")
	}

	rec = NewRecord("g1")
	rec.Categories["bad"] = CategoryRecord{Status: StatusExisting}
	if err := rec.Check(); err == nil {
		t.Error("expected error for existing category without id")
	}
}

func TestFailedCount(t *testing.T) {
	rec := NewRecord("g1")
	rec.Roles["a"] = RoleRecord{Status: StatusFailed}
	rec.Categories["b"] = CategoryRecord{Status: StatusFailed}
	rec.Channels["c"] = ChannelRecord{ID: "1", Status: StatusCreated}
	rec.Channels["d"] = ChannelRecord{Status: StatusFailed}
	if got := rec.FailedCount(); got != 3 {
		t.Errorf("FailedCount = %d, want 3", got)
	}
}

func TestLoadAndUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	rec, err := Load(ctx, s, "g1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.GuildID != "g1" || len(rec.Roles) != 0 || rec.SetupStatus != SetupNone {
		t.Errorf("Load on empty store = %+v, want fresh record", rec)
	}

	patch := NewRecord("g1")
	patch.Roles["Alpha"] = RoleRecord{ID: "1", Status: StatusCreated}
	if _, err := Update(ctx, s, "g1", patch); err != nil {
		t.Fatalf("Update: %v", err)
	}

	patch = NewRecord("g1")
	patch.Roles["Beta"] = RoleRecord{Status: StatusFailed}
	merged, err := Update(ctx, s, "g1", patch)
	if err != nil {
		t.Fatalf("second Update: %v", err)
	}
	if len(merged.Roles) != 2 {
		t.Errorf("len(Roles) = %d, want 2", len(merged.Roles))
	}
}

type brokenStore struct{ MemoryStore }

func (b *brokenStore) Get(context.Context, string) (*GuildRecord, error) {
	return nil, errors.New("disk on fire")
}

func TestLoadPropagatesStoreErrors(t *testing.T) {
	_, err := Load(context.Background(), &brokenStore{}, "g1")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("store failure must not look like a missing record")
	}
}

// testStoreContract exercises the behavior every Store must share.
func testStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}

	rec := NewRecord("g2")
	rec.Roles["Alpha"] = RoleRecord{ID: "r1", Status: StatusCreated, Position: 9}
	rec.Channels["general"] = ChannelRecord{ID: "c1", CategoryID: "k1", Type: "text", Status: StatusCreated}
	rec.SetupStatus = SetupCompleted
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, NewRecord("g1")); err != nil {
		t.Fatalf("Put(g1): %v", err)
	}

	got, err := s.Get(ctx, "g2")
	if err != nil {
		t.Fatalf("Get(g2): %v", err)
	}
	if got.Roles["Alpha"].Position != 9 || got.Roles["Alpha"].ID != "r1" {
		t.Errorf("Roles[Alpha] = %+v", got.Roles["Alpha"])
	}
	if got.Channels["general"].CategoryID != "k1" {
		t.Errorf("Channels[general] = %+v", got.Channels["general"])
	}
	if got.SetupStatus != SetupCompleted {
		t.Errorf("SetupStatus = %q, want %q", got.SetupStatus, SetupCompleted)
	}

	ids, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 2 || ids[0] != "g1" || ids[1] != "g2" {
		t.Errorf("List = %v, want [g1 g2]", ids)
	}

	if err := s.Delete(ctx, "g2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "g2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete error = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("Delete(missing) = %v, want nil", err)
	}
}

func TestMemoryStoreContract(t *testing.T) {
	testStoreContract(t, NewMemoryStore())
}

func TestMemoryStoreCopiesRecords(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec := NewRecord("g1")
	rec.Roles["Alpha"] = RoleRecord{ID: "1", Status: StatusCreated}
	if err := s.Put(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.Roles["Alpha"] = RoleRecord{Status: StatusFailed}

	got, _ := s.Get(ctx, "g1")
	if got.Roles["Alpha"].Status != StatusCreated {
		t.Error("store shares memory with caller")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{Backend: BackendMemory})
	if err != nil {
		t.Fatalf("Open(memory): %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("Open(memory) = %T", s)
	}

	s, err = Open(ctx, Options{FilePath: "state.json"})
	if err != nil {
		t.Fatalf("Open(default): %v", err)
	}
	if _, ok := s.(*FileStore); !ok {
		t.Errorf("Open(default) = %T, want *FileStore", s)
	}

	for _, opts := range []Options{
		{Backend: "redis"},
		{Backend: BackendFile},
		{Backend: BackendPostgres},
		{Backend: BackendEtcd},
		{Backend: BackendS3},
	} {
		if _, err := Open(ctx, opts); err == nil {
			t.Errorf("Open(%+v) succeeded, want error", opts)
		}
	}
}
