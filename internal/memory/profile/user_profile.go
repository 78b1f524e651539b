package profile

import (
	"time"

	"evermemcore/internal/memory/model"
)

// SanitizeUserProfile validates and reformats every evidence on incoming
// against bc for userID (spec §4.3.3 step 4), dropping evidences that
// reference a MemCell outside the batch or where userID is not a
// participant.
func SanitizeUserProfile(incoming *model.UserProfile, bc BatchContext) {
	for _, field := range incoming.LevelFields() {
		for i := range *field {
			(*field)[i].Evidences = bc.SanitizeEvidences((*field)[i].Evidences, incoming.UserID)
		}
	}
	for pi := range incoming.ProjectsParticipated {
		p := &incoming.ProjectsParticipated[pi]
		p.Subtasks = sanitizeProjectItems(p.Subtasks, bc, incoming.UserID)
		p.UserObjective = sanitizeProjectItems(p.UserObjective, bc, incoming.UserID)
		p.Contributions = sanitizeProjectItems(p.Contributions, bc, incoming.UserID)
		p.UserConcerns = sanitizeProjectItems(p.UserConcerns, bc, incoming.UserID)
	}
}

func sanitizeProjectItems(items []model.ProjectListItem, bc BatchContext, userID string) []model.ProjectListItem {
	for i := range items {
		items[i].Evidences = bc.SanitizeEvidences(items[i].Evidences, userID)
	}
	return items
}

// MergeUserProfile merges incoming (already sanitized) into historical,
// applying the keep-highest-level merge to every scalar evidence field and
// the project merge rule to ProjectsParticipated (spec §4.3.3 step 5). The
// merge is symmetric across groups: historical may belong to a different
// GroupID than incoming when merging a user's cross-group profile, and the
// returned profile keeps historical's identity fields.
func MergeUserProfile(historical, incoming *model.UserProfile, now time.Time) *model.UserProfile {
	if historical == nil {
		cp := *incoming
		incomingFields := incoming.LevelFields()
		for name, field := range cp.LevelFields() {
			*field = MergeLevelField(nil, *incomingFields[name])
		}
		cp.ProjectsParticipated = MergeProjects(nil, incoming.ProjectsParticipated)
		cp.Version = 1
		cp.MemcellCount = incoming.MemcellCount
		cp.UpdatedAt = now
		return &cp
	}

	merged := *historical
	historicalFields := historical.LevelFields()
	incomingFields := incoming.LevelFields()
	mergedFields := merged.LevelFields()
	for name, field := range mergedFields {
		*field = MergeLevelField(*historicalFields[name], *incomingFields[name])
	}
	merged.ProjectsParticipated = MergeProjects(historical.ProjectsParticipated, incoming.ProjectsParticipated)
	if merged.UserName == "" {
		merged.UserName = incoming.UserName
	}
	if merged.Scenario == "" || incoming.Scenario != "" {
		merged.Scenario = incoming.Scenario
	}
	merged.Version = historical.Version + 1
	merged.MemcellCount = historical.MemcellCount + incoming.MemcellCount
	merged.UpdatedAt = now
	return &merged
}
