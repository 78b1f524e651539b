package profile

import (
	"testing"
	"time"

	"evermemcore/internal/memory/model"
)

func testBatchContext() BatchContext {
	return BatchContext{
		Dates:        map[string]string{"c1": "2026-01-10", "c2": "2026-01-15"},
		Participants: map[string][]string{"c1": {"u1"}, "c2": {"u1"}},
		Inherited:    map[string]struct{}{},
	}
}

func TestMergeTopics_UpdateMergesEvidenceAndPromotesConfidence(t *testing.T) {
	historical := []model.Topic{
		{ID: "t1", Name: "launch", Confidence: model.ConfidenceWeak, Evidences: []model.Evidence{ev("2026-01-10", "c1")}},
	}
	updates := []TopicUpdate{
		{OldTopicID: "t1", UpdateType: "update", Confidence: model.ConfidenceStrong, Evidences: []model.Evidence{ev("2026-01-15", "c2")}},
	}
	bc := testBatchContext()
	out := MergeTopics(historical, updates, bc, "u1", 10, func() string { return "new-id" })
	if len(out) != 1 {
		t.Fatalf("expected 1 topic, got %d", len(out))
	}
	if out[0].Confidence != model.ConfidenceStrong {
		t.Fatal("expected confidence promoted to strong")
	}
	if len(out[0].Evidences) != 2 {
		t.Fatalf("expected merged evidences, got %d", len(out[0].Evidences))
	}
	if !out[0].LastActiveAt.Equal(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected last active at: %v", out[0].LastActiveAt)
	}
}

func TestMergeTopics_NewTopicEvictsWhenOverCapacity(t *testing.T) {
	historical := []model.Topic{
		{ID: "old", Status: model.TopicImplemented, LastActiveAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	updates := []TopicUpdate{
		{UpdateType: "new", Name: "fresh", Evidences: []model.Evidence{ev("2026-01-15", "c2")}},
	}
	bc := testBatchContext()
	out := MergeTopics(historical, updates, bc, "u1", 1, func() string { return "new-topic" })
	if len(out) != 1 {
		t.Fatalf("expected eviction to keep count at 1, got %d", len(out))
	}
	if out[0].ID != "new-topic" {
		t.Fatalf("expected old implemented topic evicted, got %+v", out)
	}
}

func TestMergeTopics_NewTopicWithNoValidEvidenceDropped(t *testing.T) {
	updates := []TopicUpdate{
		{UpdateType: "new", Name: "ghost", Evidences: []model.Evidence{model.Evidence("2026-01-01|unknown")}},
	}
	bc := testBatchContext()
	out := MergeTopics(nil, updates, bc, "u1", 10, func() string { return "x" })
	if len(out) != 0 {
		t.Fatalf("expected no topic added without valid evidence, got %d", len(out))
	}
}

func TestMergeRoles_DropsUnknownRoleAndPromotesConfidence(t *testing.T) {
	historical := map[string][]model.RoleAssignment{
		"leader": {{UserID: "u1", Confidence: model.ConfidenceWeak, Evidences: []model.Evidence{ev("2026-01-10", "c1")}}},
	}
	updates := []RoleUpdate{
		{Role: "leader", UserID: "u1", Confidence: model.ConfidenceStrong, Evidences: []model.Evidence{ev("2026-01-15", "c2")}},
		{Role: "emperor", UserID: "u1", Confidence: model.ConfidenceStrong, Evidences: []model.Evidence{ev("2026-01-15", "c2")}},
	}
	bc := testBatchContext()
	out := MergeRoles(historical, updates, bc)
	if _, ok := out["emperor"]; ok {
		t.Fatal("expected unknown role to be dropped")
	}
	leaders := out["leader"]
	if len(leaders) != 1 || leaders[0].Confidence != model.ConfidenceStrong {
		t.Fatalf("unexpected leaders: %+v", leaders)
	}
	if len(leaders[0].Evidences) != 2 {
		t.Fatalf("expected merged evidences, got %d", len(leaders[0].Evidences))
	}
}

func TestAggregateImportance_BuildsStatsPerUser(t *testing.T) {
	stats := AggregateImportance("g1", map[string]int{"u1": 3}, map[string]int{"u1": 1, "u2": 2}, 10)
	if len(stats) != 2 {
		t.Fatalf("expected 2 users, got %d", len(stats))
	}
	var u1 model.GroupImportanceStat
	for _, s := range stats {
		if s.UserID == "u1" {
			u1 = s
		}
	}
	if u1.SpeakCount != 3 || u1.ReferCount != 1 || u1.ConversationCount != 10 {
		t.Fatalf("unexpected u1 stat: %+v", u1)
	}
}

func TestAggregateImportance_FeedsIsImportantThreshold(t *testing.T) {
	stats := AggregateImportance("g1", map[string]int{"u1": 4}, map[string]int{"u1": 2}, 10)
	var evidence model.GroupImportanceEvidence
	for _, s := range stats {
		evidence.AppendEvidence(s)
	}
	if !evidence.IsImportant {
		t.Fatal("expected speak+refer >= 5 to mark important")
	}
}
