package profile

import (
	"context"
	"strings"
	"testing"
	"time"

	"evermemcore/internal/llm"
	"evermemcore/internal/memory/model"
)

func TestGroupProfileExtractor_MergesTopicsAndRoles(t *testing.T) {
	ts := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	cells := []*model.MemCell{testCell("c1", "u1", ts)}

	content := `{"topics": [{"update_type": "new", "name": "billing rollout", "summary": "discussing rollout", "status": "implementing", "confidence": "strong", "evidences": ["c1"]}], "summary": "group discussed billing", "subject": "billing"}`
	behavior := `{"roles": [{"role": "leader", "user_id": "u1", "user_name": "Alice", "confidence": "strong", "evidences": ["c1"]}]}`

	// errgroup dispatches both calls; order of Generate invocation between
	// the two goroutines is not guaranteed, so route by recognizable prompt
	// content instead of call order.
	gen := &routingGenerator{
		routes: map[string]string{"topics": content, "roles": behavior},
	}
	x := NewGroupProfileExtractor(gen, 10)

	gp, err := x.Extract(context.Background(), "g1", cells, nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(gp.Topics) != 1 || gp.Topics[0].Name != "billing rollout" {
		t.Fatalf("expected merged topic, got %+v", gp.Topics)
	}
	if gp.Subject != "billing" {
		t.Fatalf("expected subject set from content analysis, got %q", gp.Subject)
	}
	leaders := gp.Roles["leader"]
	if len(leaders) != 1 || leaders[0].UserID != "u1" {
		t.Fatalf("expected leader role assigned to u1, got %+v", leaders)
	}
}

func TestGroupProfileExtractor_FallsBackToHistoricalOnFailure(t *testing.T) {
	ts := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	cells := []*model.MemCell{testCell("c1", "u1", ts)}

	gen := &routingGenerator{routes: map[string]string{}} // unparseable replies for both
	x := NewGroupProfileExtractor(gen, 10)

	historical := &model.GroupProfile{
		GroupID: "g1",
		Subject: "existing subject",
		Topics:  []model.Topic{{ID: "t1", Name: "old topic"}},
		Roles:   map[string][]model.RoleAssignment{"leader": {{UserID: "u9"}}},
	}

	gp, err := x.Extract(context.Background(), "g1", cells, historical)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if gp.Subject != "existing subject" {
		t.Fatalf("expected fallback to historical subject, got %q", gp.Subject)
	}
	if len(gp.Topics) != 1 || gp.Topics[0].ID != "t1" {
		t.Fatalf("expected fallback to historical topics, got %+v", gp.Topics)
	}
}

// routingGenerator picks a canned reply by scanning the prompt for a marker
// substring, since the two GroupProfileExtractor calls run concurrently.
type routingGenerator struct {
	routes map[string]string
}

func (g *routingGenerator) Generate(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	if strings.Contains(prompt, "discussion topics") {
		if reply, ok := g.routes["topics"]; ok {
			return reply, nil
		}
		return "not json", nil
	}
	if strings.Contains(prompt, "participant roles") {
		if reply, ok := g.routes["roles"]; ok {
			return reply, nil
		}
		return "not json", nil
	}
	return "not json", nil
}
