package profile

import (
	"testing"

	"evermemcore/internal/memory/model"
)

func TestFilterProjectItemTypes(t *testing.T) {
	projects := []model.ProjectEntry{
		{
			ProjectID: "p1",
			Subtasks: []model.ProjectListItem{
				{Type: "taskbyhimself", Text: "keep"},
				{Type: "taskbyothers", Text: "drop"},
			},
			Contributions: []model.ProjectListItem{
				{Type: "result", Text: "keep"},
				{Type: "mention", Text: "drop"},
			},
		},
	}
	out := FilterProjectItemTypes(projects)
	if len(out[0].Subtasks) != 1 || out[0].Subtasks[0].Text != "keep" {
		t.Fatalf("unexpected subtasks: %+v", out[0].Subtasks)
	}
	if len(out[0].Contributions) != 1 || out[0].Contributions[0].Text != "keep" {
		t.Fatalf("unexpected contributions: %+v", out[0].Contributions)
	}
}

func TestMergeProjects_MatchesByIDThenName(t *testing.T) {
	existing := []model.ProjectEntry{
		{ProjectID: "p1", ProjectName: "Launch", Subtasks: []model.ProjectListItem{{Text: "design", Evidences: []model.Evidence{ev("2026-01-01", "c1")}}}},
		{ProjectName: "Unnamed"},
	}
	incoming := []model.ProjectEntry{
		{ProjectID: "p1", ProjectName: "Launch v2", Subtasks: []model.ProjectListItem{{Text: "design", Evidences: []model.Evidence{ev("2026-01-02", "c2")}}}},
		{ProjectName: "Unnamed", Contributions: []model.ProjectListItem{{Text: "wrote doc"}}},
		{ProjectID: "p3", ProjectName: "New Project"},
	}
	merged := MergeProjects(existing, incoming)
	if len(merged) != 3 {
		t.Fatalf("expected 3 projects, got %d", len(merged))
	}
	if len(merged[0].Subtasks[0].Evidences) != 2 {
		t.Fatalf("expected merged evidences on matched subtask, got %d", len(merged[0].Subtasks[0].Evidences))
	}
	if len(merged[1].Contributions) != 1 {
		t.Fatalf("expected contribution merged by name match, got %+v", merged[1])
	}
	if merged[2].ProjectID != "p3" {
		t.Fatalf("expected new project appended, got %+v", merged[2])
	}
}
