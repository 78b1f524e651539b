package profile

import "evermemcore/internal/memory/model"

// ComputeGroupImportance aggregates raw per-user speak and mention counts
// across a batch's MemCells (spec §4.3.5): a speak is one message
// authored by the user, a mention is one appearance of the user in another
// message's refer list.
func ComputeGroupImportance(groupID string, cells []*model.MemCell) []model.GroupImportanceStat {
	speak := make(map[string]int)
	mention := make(map[string]int)
	total := 0
	for _, c := range cells {
		for _, m := range c.OriginalData {
			total++
			if m.SpeakerID != "" {
				speak[m.SpeakerID]++
			}
			for _, r := range m.ReferList {
				if r.ID != "" {
					mention[r.ID]++
				}
			}
		}
	}
	return AggregateImportance(groupID, speak, mention, total)
}

// ApplyGroupImportance folds a batch's stats into each user's sliding
// importance window, returning the updated per-user evidence map (spec
// §4.3.5 "merge into existing by appending new evidence ... truncate to 10
// newest").
func ApplyGroupImportance(existing map[string]model.GroupImportanceEvidence, groupID string, stats []model.GroupImportanceStat) map[string]model.GroupImportanceEvidence {
	out := make(map[string]model.GroupImportanceEvidence, len(existing))
	for uid, ev := range existing {
		out[uid] = ev
	}
	for _, stat := range stats {
		ev := out[stat.UserID]
		ev.GroupID = groupID
		ev.AppendEvidence(stat)
		out[stat.UserID] = ev
	}
	return out
}
