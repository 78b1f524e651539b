package profile

import "evermemcore/internal/memory/model"

// allowedSubtaskTypes and allowedContributionTypes gate which nested
// project list items survive sanitization, grounded on project_helpers.py's
// filter_project_items_by_type (subtasks keep only "taskbyhimself", and
// contributions keep only "result").
const (
	subtaskTypeTaskByHimself = "taskbyhimself"
	contributionTypeResult   = "result"
)

// FilterProjectItemTypes drops subtasks not of type "taskbyhimself" and
// contributions not of type "result", leaving user_objective/user_concerns
// untouched.
func FilterProjectItemTypes(projects []model.ProjectEntry) []model.ProjectEntry {
	out := make([]model.ProjectEntry, len(projects))
	for i, p := range projects {
		p.Subtasks = filterByType(p.Subtasks, subtaskTypeTaskByHimself)
		p.Contributions = filterByType(p.Contributions, contributionTypeResult)
		out[i] = p
	}
	return out
}

func filterByType(items []model.ProjectListItem, keep string) []model.ProjectListItem {
	if len(items) == 0 {
		return items
	}
	out := make([]model.ProjectListItem, 0, len(items))
	for _, it := range items {
		if it.Type == keep {
			out = append(out, it)
		}
	}
	return out
}

// MergeProjects merges two ProjectsParticipated lists, matching by
// project_id when both sides have one, else by project_name, else
// appending as a new project (project_helpers.py merge_projects_participated).
func MergeProjects(existing, incoming []model.ProjectEntry) []model.ProjectEntry {
	merged := make([]model.ProjectEntry, len(existing))
	copy(merged, existing)

	for _, p := range incoming {
		idx := findProjectMatch(merged, p)
		if idx < 0 {
			merged = append(merged, p)
			continue
		}
		m := &merged[idx]
		if m.EntryDate == "" {
			m.EntryDate = p.EntryDate
		}
		m.Subtasks = mergeProjectItems(m.Subtasks, p.Subtasks)
		m.UserObjective = mergeProjectItems(m.UserObjective, p.UserObjective)
		m.Contributions = mergeProjectItems(m.Contributions, p.Contributions)
		m.UserConcerns = mergeProjectItems(m.UserConcerns, p.UserConcerns)
	}
	return merged
}

func findProjectMatch(existing []model.ProjectEntry, p model.ProjectEntry) int {
	for i, e := range existing {
		if p.ProjectID != "" && e.ProjectID != "" {
			if p.ProjectID == e.ProjectID {
				return i
			}
			continue
		}
		if p.ProjectName != "" && e.ProjectName != "" && p.ProjectName == e.ProjectName {
			return i
		}
	}
	return -1
}

// mergeProjectItems unions nested project list items by Text, merging
// evidences for duplicates and preserving first-appearance order.
func mergeProjectItems(existing, incoming []model.ProjectListItem) []model.ProjectListItem {
	order := make([]string, 0, len(existing)+len(incoming))
	byText := make(map[string]*model.ProjectListItem)

	merge := func(items []model.ProjectListItem) {
		for _, it := range items {
			cur, ok := byText[it.Text]
			if !ok {
				cp := it
				cp.Evidences = append([]model.Evidence(nil), it.Evidences...)
				byText[it.Text] = &cp
				order = append(order, it.Text)
				continue
			}
			cur.Evidences = unionEvidences(cur.Evidences, it.Evidences)
			if cur.Type == "" {
				cur.Type = it.Type
			}
		}
	}
	merge(existing)
	merge(incoming)

	out := make([]model.ProjectListItem, 0, len(order))
	for _, t := range order {
		out = append(out, *byText[t])
	}
	return out
}
