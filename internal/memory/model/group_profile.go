package model

import "time"

// TopicStatus is the closed enum of GroupProfile topic statuses.
type TopicStatus string

const (
	TopicExploring   TopicStatus = "exploring"
	TopicImplementing TopicStatus = "implementing"
	TopicImplemented TopicStatus = "implemented"
)

// Confidence is the closed enum used by topics and roles.
type Confidence string

const (
	ConfidenceStrong Confidence = "strong"
	ConfidenceWeak   Confidence = "weak"
)

// Topic is one entry of GroupProfile.Topics.
type Topic struct {
	ID           string
	Name         string
	Summary      string
	Status       TopicStatus
	Confidence   Confidence
	Evidences    []Evidence
	LastActiveAt time.Time
	UpdateType   string // "new" | "update", as emitted by the LLM pass
}

// RoleAssignment is one user's assignment to a role.
type RoleAssignment struct {
	UserID     string
	UserName   string
	Confidence Confidence
	Evidences  []Evidence
}

// AllowedRoles is the closed set of role names GroupProfile.Roles may use.
var AllowedRoles = map[string]struct{}{
	"leader":       {},
	"contributor":  {},
	"reviewer":     {},
	"coordinator":  {},
	"observer":     {},
	"decision_maker": {},
}

// GroupProfile is a group-wide, multi-user profile.
type GroupProfile struct {
	GroupID string
	Subject string
	Summary string
	Topics  []Topic
	Roles   map[string][]RoleAssignment

	GroupImportanceEvidence map[string]Evidence // user_id -> evidence
}

// GroupImportanceStat is one per-batch statistic line.
type GroupImportanceStat struct {
	UserID            string
	GroupID           string
	SpeakCount        int
	ReferCount        int
	ConversationCount int
}

// GroupImportanceEvidence is a sliding window of per-batch statistics for
// one user within one group.
type GroupImportanceEvidence struct {
	GroupID      string
	UserID       string
	EvidenceList []GroupImportanceStat // capped at 10, oldest evicted
	IsImportant  bool
}

const maxGroupImportanceWindow = 10

// AppendEvidence appends a new stat, evicting the oldest once the window
// exceeds 10 entries, and recomputes IsImportant.
func (g *GroupImportanceEvidence) AppendEvidence(stat GroupImportanceStat) {
	g.EvidenceList = append(g.EvidenceList, stat)
	if len(g.EvidenceList) > maxGroupImportanceWindow {
		g.EvidenceList = g.EvidenceList[len(g.EvidenceList)-maxGroupImportanceWindow:]
	}
	g.IsImportant = computeImportance(g.EvidenceList)
}

// computeImportance applies the thresholds from spec §4.3.5, aggregated
// over the whole window.
func computeImportance(stats []GroupImportanceStat) bool {
	var speak, refer, conv int
	for _, s := range stats {
		speak += s.SpeakCount
		refer += s.ReferCount
		conv += s.ConversationCount
	}
	if speak+refer >= 5 {
		return true
	}
	if conv > 0 && float64(speak)/float64(conv) > 0.1 {
		return true
	}
	if refer >= 2 {
		return true
	}
	return false
}

// Cluster groups semantically/temporally proximate MemCells.
type Cluster struct {
	ClusterID      string
	MemberEventIDs []string
	LastUpdated    time.Time
}
