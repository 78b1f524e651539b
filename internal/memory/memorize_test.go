package memory

import (
	"context"
	"testing"
	"time"

	"evermemcore/internal/memory/agentic"
	"evermemcore/internal/memory/episode"
	"evermemcore/internal/memory/eventlog"
	"evermemcore/internal/memory/fetchmem"
	"evermemcore/internal/memory/memcell"
	"evermemcore/internal/memory/model"
	"evermemcore/internal/memory/profile"
	"evermemcore/internal/memory/retrieval"
	"evermemcore/internal/persistence/databases"
	"evermemcore/internal/persistence/repo"

	"evermemcore/internal/config"
	"evermemcore/internal/memory/boundary"
	"evermemcore/internal/llm"
)

// fakeLLM answers every Generate/Embed/EmbedBatch call with one canned,
// schema-satisfying response: it carries enough shape (title/content,
// event_log, topics, roles, user_profiles keys) that every extractor in the
// pipeline parses it successfully, whichever prompt triggered the call.
type fakeLLM struct{}

const cannedReply = `{
	"title": "Catching up",
	"summary": "They caught up on recent events.",
	"content": "The two participants caught up on recent events in a friendly exchange.",
	"event_log": {"time": "2026-01-01T10:00:00Z", "atomic_fact": ["They discussed recent events."]},
	"user_profiles": [],
	"topics": [], "subject": "", "roles": []
}`

func (fakeLLM) Generate(context.Context, string, llm.Options) (string, error) {
	return cannedReply, nil
}

func (fakeLLM) Embed(context.Context, string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func (fakeLLM) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	gen := fakeLLM{}

	entity := databases.NewMemoryEntityStore()
	vector := databases.NewMemoryVector()
	search := databases.NewMemorySearch()

	backends := retrieval.SourceBackends{Vector: vector, Search: search, Store: entity}
	userProfileRepo := repo.NewUserProfileRepo(entity)
	engine := retrieval.NewEngine(backends, backends, backends, gen, userProfileRepo)

	return New(Deps{
		Cells:  memcell.New(boundary.New(gen, 5), "chat"),
		Buffer: memcell.NewBuffer(),

		Episodes:      episode.New(gen, "test-embed", time.UTC),
		EventLogs:     eventlog.New(gen),
		UserProfiles:  profile.NewUserProfileExtractor(gen),
		GroupProfiles: profile.NewGroupProfileExtractor(gen, 20),

		Retrieval: engine,
		Agentic:   agentic.New(engine, nil, config.DefaultAgenticConfig()),
		Fetch:     fetchmem.New(entity),

		MemCellRepo:         repo.NewMemCellRepo(entity),
		EpisodeRepo:         repo.NewEpisodeRepo(entity, vector, search),
		EventLogRepo:        repo.NewEventLogRepo(entity, vector, search),
		UserProfileRepo:     userProfileRepo,
		GroupProfileRepo:    repo.NewGroupProfileRepo(entity),
		GroupImportanceRepo: repo.NewGroupImportanceRepo(entity),
		ClusterRepo:         repo.NewClusterRepo(entity),
	})
}

func rawMsg(speaker, content string, ts time.Time) model.RawMessage {
	return model.RawMessage{SpeakerID: speaker, SpeakerName: speaker, Content: content, Timestamp: ts, MsgType: model.MsgTypeText}
}

func TestExtractMemcell_FirstMessageOnlyBuffers(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cell, status, err := svc.ExtractMemcell(ctx, "g1", []string{"u1", "u2"},
		[]model.RawMessage{rawMsg("u1", "hey", time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cell != nil {
		t.Fatal("expected no cell on the first message of a group")
	}
	if !status.ShouldWait {
		t.Fatal("expected should_wait=true")
	}
	if got := svc.buffer.Pending("g1"); len(got) != 1 {
		t.Fatalf("expected 1 buffered message, got %d", len(got))
	}
}

// TestDeliverMemorize_ClosesCellAndExtractsAllKinds drives two calls: the
// first only buffers (history is empty, so memcell.Extractor short-circuits
// before boundary detection ever runs), the second supplies a new-day
// message so boundary.Detect's differentDates tie-break fires
// deterministically without needing an LLM round trip, closing the cell and
// running every extraction pipeline over it.
func TestDeliverMemorize_ClosesCellAndExtractsAllKinds(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	day1 := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)

	first, err := svc.DeliverMemorize(ctx, DeliverMemorizeRequest{
		GroupID:     "g1",
		UserIDList:  []string{"u1", "u2"},
		NewMessages: []model.RawMessage{rawMsg("u1", "hey", day1)},
	})
	if err != nil {
		t.Fatalf("unexpected error on first delivery: %v", err)
	}
	if len(first) != 0 {
		t.Fatalf("expected no memories on the first delivery, got %d", len(first))
	}

	second, err := svc.DeliverMemorize(ctx, DeliverMemorizeRequest{
		GroupID:     "g1",
		UserIDList:  []string{"u1", "u2"},
		NewMessages: []model.RawMessage{rawMsg("u2", "hello from tomorrow", day2)},
	})
	if err != nil {
		t.Fatalf("unexpected error on second delivery: %v", err)
	}
	if len(second) == 0 {
		t.Fatal("expected memories once the cell closes")
	}

	var sawEpisode, sawEventLog bool
	for _, m := range second {
		switch m.Kind {
		case MemoryEpisode:
			sawEpisode = true
			if m.Episode == nil {
				t.Fatal("episode memory missing its Episode payload")
			}
		case MemoryEventLog:
			sawEventLog = true
			if m.EventLog == nil {
				t.Fatal("event_log memory missing its EventLog payload")
			}
		}
	}
	if !sawEpisode {
		t.Fatal("expected at least one episode memory")
	}
	if !sawEventLog {
		t.Fatal("expected an event_log memory")
	}
}

func TestAssignCluster_JoinsSameGroupsPriorCluster(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cellA := &model.MemCell{EventID: "evt-a", GroupID: "g1"}
	if err := svc.assignCluster(ctx, cellA); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	firstCluster := svc.lastCluster["g1"]
	if firstCluster == "" {
		t.Fatal("expected a cluster id to be assigned")
	}

	cellB := &model.MemCell{EventID: "evt-b", GroupID: "g1"}
	if err := svc.assignCluster(ctx, cellB); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.lastCluster["g1"] != firstCluster {
		t.Fatalf("expected the second memcell to join the first cluster %q, got %q", firstCluster, svc.lastCluster["g1"])
	}

	cluster, ok, err := svc.clusterRepo.GetCluster(ctx, firstCluster)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected cluster to be persisted")
	}
	if len(cluster.MemberEventIDs) != 2 {
		t.Fatalf("expected 2 member event ids, got %d", len(cluster.MemberEventIDs))
	}
}
