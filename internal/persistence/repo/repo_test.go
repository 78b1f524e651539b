package repo

import (
	"context"
	"testing"
	"time"

	"evermemcore/internal/memory/model"
	"evermemcore/internal/persistence/databases"
)

func TestMemCellRepo_SaveAndGet(t *testing.T) {
	r := NewMemCellRepo(databases.NewMemoryEntityStore())
	cell := &model.MemCell{EventID: "e1", GroupID: "g1", Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	if err := r.Save(context.Background(), cell); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := r.GetByEventID(context.Background(), "e1")
	if err != nil || !ok {
		t.Fatalf("expected found, err=%v", err)
	}
	if got.GroupID != "g1" {
		t.Fatalf("unexpected group id: %q", got.GroupID)
	}
}

func TestMemCellRepo_ListByGroupSince(t *testing.T) {
	r := NewMemCellRepo(databases.NewMemoryEntityStore())
	ctx := context.Background()
	_ = r.Save(ctx, &model.MemCell{EventID: "e1", GroupID: "g1", Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})
	_ = r.Save(ctx, &model.MemCell{EventID: "e2", GroupID: "g1", Timestamp: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)})
	_ = r.Save(ctx, &model.MemCell{EventID: "e3", GroupID: "g2", Timestamp: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)})

	got, err := r.ListByGroupSince(ctx, "g1", "2026-01-15T00:00:00Z")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].EventID != "e2" {
		t.Fatalf("expected only e2, got %+v", got)
	}
}

func TestUserProfileRepo_FindLatestPicksHighestVersion(t *testing.T) {
	r := NewUserProfileRepo(databases.NewMemoryEntityStore())
	ctx := context.Background()
	_ = r.Save(ctx, &model.UserProfile{UserID: "u1", GroupID: "g1", Version: 1})
	_ = r.Save(ctx, &model.UserProfile{UserID: "u1", GroupID: "g1", Version: 3})
	_ = r.Save(ctx, &model.UserProfile{UserID: "u1", GroupID: "g1", Version: 2})

	got, ok, err := r.FindLatest(ctx, "u1", "g1")
	if err != nil || !ok {
		t.Fatalf("expected found, err=%v", err)
	}
	if got.Version != 3 {
		t.Fatalf("expected version 3, got %d", got.Version)
	}
}

func TestClusterRepo_AssignJoinsExistingOrCreatesNew(t *testing.T) {
	r := NewClusterRepo(databases.NewMemoryEntityStore())
	ctx := context.Background()

	id1, err := r.AssignCluster(ctx, "e1", nil)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	id2, err := r.AssignCluster(ctx, "e2", []string{id1})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected join to existing cluster, got %s vs %s", id1, id2)
	}
	cluster, ok, err := r.GetCluster(ctx, id1)
	if err != nil || !ok {
		t.Fatalf("expected cluster found, err=%v", err)
	}
	if len(cluster.MemberEventIDs) != 2 {
		t.Fatalf("expected 2 members, got %d", len(cluster.MemberEventIDs))
	}
}

func TestEventLogRepo_RejectsInvalidLog(t *testing.T) {
	r := NewEventLogRepo(databases.NewMemoryEntityStore(), nil, nil)
	err := r.Save(context.Background(), "e1", &model.EventLog{AtomicFact: []string{"a"}})
	if err == nil {
		t.Fatal("expected error for mismatched fact/embedding counts")
	}
}
