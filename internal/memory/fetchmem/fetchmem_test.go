package fetchmem

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"evermemcore/internal/memory/model"
	"evermemcore/internal/persistence/databases"
)

func putProfile(t *testing.T, store databases.EntityStore, userID, groupID string, version int) {
	t.Helper()
	p := model.UserProfile{UserID: userID, GroupID: groupID, Version: version}
	payload, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal profile: %v", err)
	}
	id := fmt.Sprintf("userprofile:%s:%s:v%d", userID, groupID, version)
	tags := map[string]string{
		"kind":     "user_profile",
		"user_id":  userID,
		"group_id": groupID,
	}
	if err := store.Put(context.Background(), databases.Entity{ID: id, Payload: payload, Tags: tags}); err != nil {
		t.Fatalf("put profile: %v", err)
	}
}

func putEpisode(t *testing.T, store databases.EntityStore, id, userID string, ts time.Time, eventIDs ...string) {
	t.Helper()
	ep := model.Episode{UserID: userID, Timestamp: ts, MemcellEventIDList: eventIDs}
	payload, err := json.Marshal(ep)
	if err != nil {
		t.Fatalf("marshal episode: %v", err)
	}
	tags := map[string]string{"kind": "episode", "user_id": userID}
	if err := store.Put(context.Background(), databases.Entity{ID: id, Payload: payload, Tags: tags}); err != nil {
		t.Fatalf("put episode: %v", err)
	}
}

func putEventLog(t *testing.T, store databases.EntityStore, eventID string, facts ...string) {
	t.Helper()
	embeddings := make([][]float32, len(facts))
	for i := range embeddings {
		embeddings[i] = []float32{0.1}
	}
	log := model.EventLog{AtomicFact: facts, FactEmbeddings: embeddings}
	payload, err := json.Marshal(log)
	if err != nil {
		t.Fatalf("marshal event log: %v", err)
	}
	tags := map[string]string{"kind": "event_log", "memcell_event_id": eventID}
	if err := store.Put(context.Background(), databases.Entity{ID: eventID, Payload: payload, Tags: tags}); err != nil {
		t.Fatalf("put event log: %v", err)
	}
}

func TestFetch_ProfileVersionsNewestFirstWithRange(t *testing.T) {
	ctx := context.Background()
	store := databases.NewMemoryEntityStore()
	for v := 1; v <= 4; v++ {
		putProfile(t, store, "u1", "g1", v)
	}
	svc := New(store)

	start := 2
	res, err := svc.Fetch(ctx, "u1", "g1", model.SourceProfile, &VersionRange{Start: &start}, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(res.Items) != 3 {
		t.Fatalf("expected versions 2-4 (3 items), got %d", len(res.Items))
	}
	first := res.Items[0].Record.(*model.UserProfile)
	if first.Version != 4 {
		t.Fatalf("expected newest version first, got %d", first.Version)
	}
	if res.HasMore {
		t.Fatalf("expected no more pages within limit")
	}
}

func TestFetch_ProfilePaginationSetsHasMore(t *testing.T) {
	ctx := context.Background()
	store := databases.NewMemoryEntityStore()
	for v := 1; v <= 5; v++ {
		putProfile(t, store, "u1", "g1", v)
	}
	svc := New(store)

	res, err := svc.Fetch(ctx, "u1", "g1", model.SourceProfile, nil, 2)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("expected page of 2, got %d", len(res.Items))
	}
	if !res.HasMore {
		t.Fatalf("expected has_more with 5 total and limit 2")
	}
}

func TestFetch_EpisodesOrderedByTimestampDesc(t *testing.T) {
	ctx := context.Background()
	store := databases.NewMemoryEntityStore()
	now := time.Now()
	putEpisode(t, store, "ep1", "u1", now.Add(-2*time.Hour))
	putEpisode(t, store, "ep2", "u1", now)
	putEpisode(t, store, "ep3", "u1", now.Add(-1*time.Hour))

	svc := New(store)
	res, err := svc.Fetch(ctx, "u1", "", model.SourceEpisode, nil, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(res.Items) != 3 {
		t.Fatalf("expected 3 episodes, got %d", len(res.Items))
	}
	if res.Items[0].ID != "ep2" || res.Items[2].ID != "ep1" {
		t.Fatalf("expected newest-first order, got %v %v %v", res.Items[0].ID, res.Items[1].ID, res.Items[2].ID)
	}
}

func TestFetch_EventLogsResolvedThroughUserEpisodes(t *testing.T) {
	ctx := context.Background()
	store := databases.NewMemoryEntityStore()
	now := time.Now()
	putEventLog(t, store, "evt-1", "fact a")
	putEventLog(t, store, "evt-2", "fact b")
	putEpisode(t, store, "ep1", "u1", now, "evt-1", "evt-2")

	svc := New(store)
	res, err := svc.Fetch(ctx, "u1", "", model.SourceEventLog, nil, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("expected 2 event logs, got %d", len(res.Items))
	}
	for _, it := range res.Items {
		if it.Source != model.SourceEventLog {
			t.Fatalf("expected event_log source, got %v", it.Source)
		}
	}
}

func TestFetch_UnsupportedSourceErrors(t *testing.T) {
	ctx := context.Background()
	store := databases.NewMemoryEntityStore()
	svc := New(store)
	_, err := svc.Fetch(ctx, "u1", "g1", model.DataSource("bogus"), nil, 10)
	if err == nil {
		t.Fatalf("expected error for unsupported data source")
	}
}
