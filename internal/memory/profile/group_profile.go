package profile

import (
	"sort"
	"time"

	"evermemcore/internal/memory/model"
)

const (
	maxRoleEvidences = 50
	evictionAgeDays  = 30
)

// TopicUpdate is one LLM-emitted topic observation prior to merge.
type TopicUpdate struct {
	OldTopicID string // set when UpdateType == "update"
	UpdateType string // "update" | "new"
	Name       string
	Summary    string
	Status     model.TopicStatus
	Confidence model.Confidence
	Evidences  []model.Evidence
}

// MergeTopics applies the topic incremental merge rule (spec §4.3.4):
// updates merge into the matching historical topic by id; new topics are
// appended with a freshly minted id, evicting one existing topic if the
// result would exceed maxTopics. Update evidences are validated with
// ValidForUser; an empty userID checks batch scope only.
func MergeTopics(historical []model.Topic, updates []TopicUpdate, bc BatchContext, userID string, maxTopics int, newID func() string) []model.Topic {
	byID := make(map[string]int, len(historical))
	topics := make([]model.Topic, len(historical))
	copy(topics, historical)
	for i, t := range topics {
		byID[t.ID] = i
	}

	for _, u := range updates {
		evidences := bc.SanitizeEvidences(u.Evidences, userID)
		if u.UpdateType == "update" {
			idx, ok := byID[u.OldTopicID]
			if !ok {
				continue
			}
			t := &topics[idx]
			t.Evidences = truncateEvidences(unionEvidences(t.Evidences, evidences))
			if confidenceRank(u.Confidence) > confidenceRank(t.Confidence) {
				t.Confidence = u.Confidence
			}
			if u.Summary != "" {
				t.Summary = u.Summary
			}
			if u.Status != "" {
				t.Status = u.Status
			}
			t.LastActiveAt = latestEvidenceTime(t.Evidences)
			continue
		}

		// new topic
		if len(evidences) == 0 {
			continue
		}
		nt := model.Topic{
			ID:           newID(),
			Name:         u.Name,
			Summary:      u.Summary,
			Status:       u.Status,
			Confidence:   u.Confidence,
			Evidences:    truncateEvidences(evidences),
			LastActiveAt: latestEvidenceTime(evidences),
		}
		topics = append(topics, nt)
		byID[nt.ID] = len(topics) - 1

		if maxTopics > 0 && len(topics) > maxTopics {
			topics = evictOneTopic(topics, nt.LastActiveAt)
			byID = reindexTopics(topics)
		}
	}
	return topics
}

func confidenceRank(c model.Confidence) int {
	if c == model.ConfidenceStrong {
		return 2
	}
	if c == model.ConfidenceWeak {
		return 1
	}
	return 0
}

func latestEvidenceTime(evidences []model.Evidence) time.Time {
	var latest time.Time
	for _, ev := range evidences {
		d, ok := ev.Date()
		if ok && d.After(latest) {
			latest = d
		}
	}
	return latest
}

// evictOneTopic drops the preferred eviction candidate per spec §4.3.4:
// implemented topics older than 30 days before reference first, else the
// globally oldest by LastActiveAt.
func evictOneTopic(topics []model.Topic, reference time.Time) []model.Topic {
	cutoff := reference.AddDate(0, 0, -evictionAgeDays)
	victim := -1
	for i, t := range topics {
		if t.Status == model.TopicImplemented && t.LastActiveAt.Before(cutoff) {
			if victim < 0 || t.LastActiveAt.Before(topics[victim].LastActiveAt) {
				victim = i
			}
		}
	}
	if victim < 0 {
		for i, t := range topics {
			if victim < 0 || t.LastActiveAt.Before(topics[victim].LastActiveAt) {
				victim = i
			}
		}
	}
	if victim < 0 {
		return topics
	}
	return append(topics[:victim], topics[victim+1:]...)
}

func reindexTopics(topics []model.Topic) map[string]int {
	m := make(map[string]int, len(topics))
	for i, t := range topics {
		m[t.ID] = i
	}
	return m
}

// RoleUpdate is one LLM-emitted role assignment observation prior to merge.
type RoleUpdate struct {
	Role       string
	UserID     string
	UserName   string
	Confidence model.Confidence
	Evidences  []model.Evidence
}

// MergeRoles applies the role incremental merge rule (spec §4.3.4): updates
// with a role name outside AllowedRoles are dropped; matches are keyed by
// (role, user_id), merging evidences (cap 50) and promoting confidence to
// strong if either side is strong. Result is sorted strong-first then by
// user name.
func MergeRoles(historical map[string][]model.RoleAssignment, updates []RoleUpdate, bc BatchContext) map[string][]model.RoleAssignment {
	out := make(map[string][]model.RoleAssignment, len(historical))
	for role, assigns := range historical {
		out[role] = append([]model.RoleAssignment(nil), assigns...)
	}

	for _, u := range updates {
		if _, ok := model.AllowedRoles[u.Role]; !ok {
			continue
		}
		evidences := bc.SanitizeEvidences(u.Evidences, u.UserID)
		assigns := out[u.Role]
		idx := -1
		for i, a := range assigns {
			if a.UserID == u.UserID {
				idx = i
				break
			}
		}
		if idx < 0 {
			if len(evidences) == 0 {
				continue
			}
			assigns = append(assigns, model.RoleAssignment{
				UserID:     u.UserID,
				UserName:   u.UserName,
				Confidence: u.Confidence,
				Evidences:  capEvidences(evidences, maxRoleEvidences),
			})
		} else {
			a := &assigns[idx]
			merged := unionEvidences(a.Evidences, evidences)
			a.Evidences = capEvidences(merged, maxRoleEvidences)
			if confidenceRank(u.Confidence) > confidenceRank(a.Confidence) {
				a.Confidence = u.Confidence
			}
			if a.UserName == "" {
				a.UserName = u.UserName
			}
		}
		sort.SliceStable(assigns, func(i, j int) bool {
			si, sj := confidenceRank(assigns[i].Confidence), confidenceRank(assigns[j].Confidence)
			if si != sj {
				return si > sj
			}
			return assigns[i].UserName < assigns[j].UserName
		})
		out[u.Role] = assigns
	}
	return out
}

// capEvidences truncates to the newest n evidences by date, preserving
// chronological order, without the "undated-first" date-preference rule
// (which spec §4.3.3 reserves for scalar evidence fields; roles use a
// plain cap per §4.3.4).
func capEvidences(evidences []model.Evidence, n int) []model.Evidence {
	sorted := chronological(evidences)
	if len(sorted) <= n {
		return sorted
	}
	return sorted[len(sorted)-n:]
}

// AggregateImportance builds a GroupImportanceStat from a batch's raw
// per-user speak/mention counts and total message count (spec §4.3.5).
func AggregateImportance(groupID string, speakCounts, mentionCounts map[string]int, totalMessages int) []model.GroupImportanceStat {
	users := make(map[string]struct{}, len(speakCounts)+len(mentionCounts))
	for u := range speakCounts {
		users[u] = struct{}{}
	}
	for u := range mentionCounts {
		users[u] = struct{}{}
	}
	out := make([]model.GroupImportanceStat, 0, len(users))
	for u := range users {
		out = append(out, model.GroupImportanceStat{
			UserID:            u,
			GroupID:           groupID,
			SpeakCount:        speakCounts[u],
			ReferCount:        mentionCounts[u],
			ConversationCount: totalMessages,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
