package model

import "time"

// UserProfile is a per-user incremental profile, possibly scoped to a group.
type UserProfile struct {
	UserID    string
	GroupID   string
	UserName  string
	Scenario  string

	HardSkills            []EvidenceEntry
	SoftSkills            []EvidenceEntry
	MotivationSystem      []EvidenceEntry
	FearSystem            []EvidenceEntry
	ValueSystem           []EvidenceEntry
	HumorUse              []EvidenceEntry
	Colloquialism         []EvidenceEntry
	Personality           []EvidenceEntry
	WayOfDecisionMaking   []EvidenceEntry
	WorkingHabitPreference []EvidenceEntry
	Interests             []EvidenceEntry
	Tendency               []EvidenceEntry
	UserGoal                []EvidenceEntry
	WorkResponsibility       []EvidenceEntry
	OutputReasoning          []EvidenceEntry

	ProjectsParticipated []ProjectEntry

	Version      int
	ClusterIDs   []string
	MemcellCount int
	UpdatedAt    time.Time
}

// LevelFields returns the profile's level-bearing evidence fields, keyed by
// name, for use by generic merge helpers. The returned slices alias the
// profile's own storage so in-place merges are visible to the caller.
func (p *UserProfile) LevelFields() map[string]*[]EvidenceEntry {
	return map[string]*[]EvidenceEntry{
		"hard_skills":               &p.HardSkills,
		"soft_skills":               &p.SoftSkills,
		"motivation_system":         &p.MotivationSystem,
		"fear_system":               &p.FearSystem,
		"value_system":              &p.ValueSystem,
		"humor_use":                 &p.HumorUse,
		"colloquialism":             &p.Colloquialism,
		"personality":               &p.Personality,
		"way_of_decision_making":    &p.WayOfDecisionMaking,
		"working_habit_preference":  &p.WorkingHabitPreference,
		"interests":                 &p.Interests,
		"tendency":                  &p.Tendency,
		"user_goal":                 &p.UserGoal,
		"work_responsibility":       &p.WorkResponsibility,
		"output_reasoning":          &p.OutputReasoning,
	}
}
