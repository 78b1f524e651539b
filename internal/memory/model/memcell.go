package model

import "time"

// MemCell is a closed conversation slice, the atomic unit of memory.
//
// Lifecycle: created when the boundary detector returns end=true. It is
// immutable afterward except for monotone enrichment of Episode, EventLog
// and Extend.Embedding by later stages of the same pipeline pass.
type MemCell struct {
	EventID      string
	UserIDList   []string
	GroupID      string
	Participants []string
	OriginalData []RawMessage
	Timestamp    time.Time
	Type         string
	Summary      string

	// Filled in by later pipeline stages.
	Episode  *Episode
	EventLog *EventLog
	Extend   Extend
}

// Extend carries enrichment fields attached after the MemCell is closed.
type Extend struct {
	Embedding   []float32
	VectorModel string
}

// Participants computes the deduplicated participant set for a slice of
// history messages: the union of speaker ids and every mention id across
// refer lists, order of first appearance preserved.
func Participants(history []RawMessage) []string {
	seen := make(map[string]struct{}, len(history)*2)
	out := make([]string, 0, len(history)*2)
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, m := range history {
		add(m.SpeakerID)
		for _, r := range m.ReferList {
			add(r.ID)
		}
	}
	return out
}
