package profile

import (
	"testing"
	"time"

	"evermemcore/internal/memory/model"
)

func TestSanitizeUserProfile_DropsEvidenceOutsideBatch(t *testing.T) {
	p := &model.UserProfile{
		UserID: "u1",
		HardSkills: []model.EvidenceEntry{
			{Value: "Go", Evidences: []model.Evidence{ev("2026-01-10", "c1"), model.Evidence("2026-01-01|unknown")}},
		},
	}
	bc := testBatchContext()
	SanitizeUserProfile(p, bc)
	if len(p.HardSkills[0].Evidences) != 1 {
		t.Fatalf("expected unknown conversation id dropped, got %+v", p.HardSkills[0].Evidences)
	}
}

func TestMergeUserProfile_FirstMergeSetsVersionOne(t *testing.T) {
	incoming := &model.UserProfile{
		UserID:       "u1",
		MemcellCount: 1,
		HardSkills:   []model.EvidenceEntry{{Value: "Go", Level: "medium", Evidences: []model.Evidence{ev("2026-01-10", "c1")}}},
	}
	merged := MergeUserProfile(nil, incoming, time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC))
	if merged.Version != 1 {
		t.Fatalf("expected version 1, got %d", merged.Version)
	}
	if len(merged.HardSkills) != 1 {
		t.Fatalf("expected 1 hard skill, got %d", len(merged.HardSkills))
	}
}

func TestMergeUserProfile_SubsequentMergeIncrementsVersionAndUnionsSkills(t *testing.T) {
	historical := &model.UserProfile{
		UserID:       "u1",
		Version:      3,
		MemcellCount: 5,
		HardSkills:   []model.EvidenceEntry{{Value: "Go", Level: "medium", Evidences: []model.Evidence{ev("2026-01-01", "c0")}}},
	}
	incoming := &model.UserProfile{
		UserID:       "u1",
		MemcellCount: 2,
		HardSkills:   []model.EvidenceEntry{{Value: "Go", Level: "expert", Evidences: []model.Evidence{ev("2026-01-10", "c1")}}},
	}
	merged := MergeUserProfile(historical, incoming, time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC))
	if merged.Version != 4 {
		t.Fatalf("expected version 4, got %d", merged.Version)
	}
	if merged.MemcellCount != 7 {
		t.Fatalf("expected memcell count 7, got %d", merged.MemcellCount)
	}
	if merged.HardSkills[0].Level != "expert" {
		t.Fatalf("expected level promoted to expert, got %q", merged.HardSkills[0].Level)
	}
}
