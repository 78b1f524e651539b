// Package profile implements UserProfile and GroupProfile incremental
// extraction and merge (spec §4.3.3, §4.3.4, §4.3.5): evidence validation,
// sanitization, level-priority merge, evidence-union merge, and truncation.
package profile

import (
	"sort"
	"time"

	"evermemcore/internal/memory/model"
)

// maxEvidencePerEntry is the cap spec §4.3.3 "Evidence truncation on merge"
// applies to every scalar evidence list.
const maxEvidencePerEntry = 10

// BatchContext carries the facts a sanitize/merge pass needs about the
// MemCells in the current processing batch: which conversation ids are in
// scope, their ISO dates, and their participant sets.
type BatchContext struct {
	Dates        map[string]string   // conversation_id -> "YYYY-MM-DD"
	Participants map[string][]string // conversation_id -> participant user ids
	Inherited    map[string]struct{} // conversation_ids trusted from prior history
}

// NewBatchContext builds a BatchContext from the MemCells in scope.
func NewBatchContext(cells []*model.MemCell) BatchContext {
	bc := BatchContext{
		Dates:        make(map[string]string, len(cells)),
		Participants: make(map[string][]string, len(cells)),
		Inherited:    make(map[string]struct{}),
	}
	for _, c := range cells {
		bc.Dates[c.EventID] = c.Timestamp.Format("2006-01-02")
		bc.Participants[c.EventID] = c.Participants
	}
	return bc
}

// ValidForUser reports whether evidence's conversation_id is in scope (batch
// or inherited) AND the referenced MemCell has userID among its
// participants (spec §4.3.3 step 4, bullets 1-2). Inherited evidences are
// trusted without a participants check since their source MemCell may no
// longer be in the current batch. An empty userID skips the participants
// check, so group-level evidences (GroupProfile topics) are checked for
// batch scope only.
func (bc BatchContext) ValidForUser(ev model.Evidence, userID string) bool {
	cid := ev.ConversationID()
	if cid == "" {
		return false
	}
	if _, ok := bc.Inherited[cid]; ok {
		return true
	}
	participants, inBatch := bc.Participants[cid]
	if !inBatch {
		return false
	}
	if userID == "" {
		return true
	}
	for _, p := range participants {
		if p == userID {
			return true
		}
	}
	return false
}

// FormatEvidence builds a canonical evidence string for a conversation id
// known to this batch (spec §4.3.3 step 4 bullet 3).
func (bc BatchContext) FormatEvidence(conversationID string) (model.Evidence, bool) {
	date, ok := bc.Dates[conversationID]
	if !ok {
		return "", false
	}
	return model.Evidence(date + "|" + conversationID), true
}

// SanitizeEvidences filters out evidences invalid for userID and returns the
// rest unchanged, in their original order.
func (bc BatchContext) SanitizeEvidences(evidences []model.Evidence, userID string) []model.Evidence {
	out := make([]model.Evidence, 0, len(evidences))
	for _, ev := range evidences {
		if !bc.ValidForUser(ev, userID) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// MergeLevelField merges historical and incoming entries for a leveled
// field (hard_skills, soft_skills, ...): entries with the same Value keep
// the highest Level and union their evidences; new values are appended.
// Insertion order of first appearance is preserved (spec §3 invariants).
func MergeLevelField(historical, incoming []model.EvidenceEntry) []model.EvidenceEntry {
	order := make([]string, 0, len(historical)+len(incoming))
	byValue := make(map[string]*model.EvidenceEntry)

	merge := func(entries []model.EvidenceEntry) {
		for _, e := range entries {
			existing, ok := byValue[e.Value]
			if !ok {
				cp := e
				cp.Evidences = append([]model.Evidence(nil), e.Evidences...)
				byValue[e.Value] = &cp
				order = append(order, e.Value)
				continue
			}
			if model.Level(e.Level) > model.Level(existing.Level) {
				existing.Level = e.Level
			}
			existing.Evidences = unionEvidences(existing.Evidences, e.Evidences)
		}
	}
	merge(historical)
	merge(incoming)

	out := make([]model.EvidenceEntry, 0, len(order))
	for _, v := range order {
		e := byValue[v]
		e.Evidences = truncateEvidences(e.Evidences)
		if len(e.Evidences) == 0 {
			continue
		}
		out = append(out, *e)
	}
	return out
}

// MergeNonLevelField merges entries for a non-leveled field by
// evidence-union, keyed on Value, preserving first-appearance order.
func MergeNonLevelField(historical, incoming []model.EvidenceEntry) []model.EvidenceEntry {
	return MergeLevelField(historical, incoming)
}

// unionEvidences deduplicates while preserving insertion order (spec §3
// "evidence lists are deduplicated, preserve insertion order").
func unionEvidences(a, b []model.Evidence) []model.Evidence {
	seen := make(map[model.Evidence]struct{}, len(a)+len(b))
	out := make([]model.Evidence, 0, len(a)+len(b))
	for _, list := range [][]model.Evidence{a, b} {
		for _, ev := range list {
			if _, ok := seen[ev]; ok {
				continue
			}
			seen[ev] = struct{}{}
			out = append(out, ev)
		}
	}
	return out
}

// truncateEvidences caps a merged evidence list at maxEvidencePerEntry,
// preferring to drop (1) entries lacking a parseable date, then (2) the
// oldest, while always preserving chronological order in the output (spec
// §4.3.3 "Evidence truncation on merge").
func truncateEvidences(evidences []model.Evidence) []model.Evidence {
	if len(evidences) <= maxEvidencePerEntry {
		return chronological(evidences)
	}
	type dated struct {
		ev      model.Evidence
		date    time.Time
		hasDate bool
	}
	entries := make([]dated, len(evidences))
	for i, ev := range evidences {
		d, ok := ev.Date()
		entries[i] = dated{ev: ev, date: d, hasDate: ok}
	}
	// Drop order: entries without a parseable date first (oldest among
	// them conceptually undated so arbitrary order is fine), then the
	// oldest dated entries, until we're within the cap.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].hasDate != entries[j].hasDate {
			return !entries[i].hasDate // undated sorts first (dropped first)
		}
		if !entries[i].hasDate {
			return false
		}
		return entries[i].date.Before(entries[j].date)
	})
	drop := len(entries) - maxEvidencePerEntry
	kept := make(map[model.Evidence]struct{}, maxEvidencePerEntry)
	for i := drop; i < len(entries); i++ {
		kept[entries[i].ev] = struct{}{}
	}
	out := make([]model.Evidence, 0, maxEvidencePerEntry)
	for _, ev := range evidences {
		if _, ok := kept[ev]; ok {
			out = append(out, ev)
		}
	}
	return chronological(out)
}

// chronological sorts evidences by date ascending, undated entries last in
// their relative order.
func chronological(evidences []model.Evidence) []model.Evidence {
	out := append([]model.Evidence(nil), evidences...)
	sort.SliceStable(out, func(i, j int) bool {
		di, oki := out[i].Date()
		dj, okj := out[j].Date()
		if oki && okj {
			return di.Before(dj)
		}
		if oki != okj {
			return oki
		}
		return false
	})
	return out
}
