package agentic

import (
	"context"
	"testing"
	"time"

	"evermemcore/internal/config"
	"evermemcore/internal/memory/model"
	"evermemcore/internal/memory/retrieval"
	"evermemcore/internal/persistence/databases"
)

func TestMergeByEventID_DedupesAndCapsTotal(t *testing.T) {
	round1 := []model.Candidate{{EventID: "a"}, {EventID: "b"}}
	round2 := []model.Candidate{{EventID: "b"}, {EventID: "c"}, {EventID: "d"}}

	merged := mergeByEventID(round1, round2, 3)
	if len(merged) != 3 {
		t.Fatalf("expected 3 merged candidates, got %d: %+v", len(merged), merged)
	}
	ids := []string{merged[0].EventID, merged[1].EventID, merged[2].EventID}
	if ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Fatalf("expected round1 order preserved then first unique round2, got %v", ids)
	}
}

func TestRetrieve_EmptyRound1ReturnsSufficientDone(t *testing.T) {
	ctx := context.Background()
	store := databases.NewMemoryEntityStore()
	search := databases.NewMemorySearch()
	engine := retrieval.NewEngine(retrieval.SourceBackends{Search: search, Store: store}, retrieval.SourceBackends{}, retrieval.SourceBackends{}, nil, nil)

	loop := New(engine, nil, config.DefaultAgenticConfig())
	res, err := loop.Retrieve(ctx, "anything", retrieval.Options{DataSource: model.SourceEpisode})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if res.Count != 0 || !res.Metadata.IsSufficient {
		t.Fatalf("expected empty sufficient result, got %+v", res)
	}
}

func TestFallback_TagsResultWithAgenticFallbackMode(t *testing.T) {
	ctx := context.Background()
	store := databases.NewMemoryEntityStore()
	search := databases.NewMemorySearch()
	engine := retrieval.NewEngine(retrieval.SourceBackends{Search: search, Store: store}, retrieval.SourceBackends{}, retrieval.SourceBackends{}, nil, nil)

	cfg := config.DefaultAgenticConfig()
	cfg.Timeout = 2 * time.Second
	loop := New(engine, nil, cfg)

	res, err := loop.fallback(ctx, "anything", retrieval.Options{DataSource: model.SourceEpisode}, errCause)
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if res.Metadata.RetrievalMode != model.ModeAgenticFallback {
		t.Fatalf("expected agentic_fallback metadata, got %+v", res.Metadata)
	}
	if res.Metadata.FallbackReason != errCause.Error() {
		t.Fatalf("expected fallback reason recorded, got %q", res.Metadata.FallbackReason)
	}
	if !res.Metadata.IsSufficient {
		t.Fatal("expected is_sufficient=true on the fallback path")
	}
}

var errCause = errTest("round1 hybrid exploded")

type errTest string

func (e errTest) Error() string { return string(e) }
