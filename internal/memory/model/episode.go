package model

import "time"

// Episode is a single prose narrative over one MemCell. When UserID is
// empty it is a group episode (global narrative); otherwise it is a
// personal episode from that user's point of view.
type Episode struct {
	UserID              string
	Subject             string // 10-20 words
	Summary             string // <= 200 chars
	EpisodeText         string // detailed 3rd-person narrative
	Participants        []string
	Timestamp           time.Time
	MemcellEventIDList  []string
	Extend              Extend
}

// EventLog holds extracted atomic facts for retrieval, one embedding per
// fact, aligned by index.
type EventLog struct {
	Time          string // "MONTH DD, YYYY(WEEKDAY) at HH:MM AM/PM"
	AtomicFact    []string
	FactEmbeddings [][]float32
}

// Valid reports the len(AtomicFact) == len(FactEmbeddings) invariant and
// that AtomicFact is non-empty.
func (e EventLog) Valid() bool {
	return len(e.AtomicFact) > 0 && len(e.AtomicFact) == len(e.FactEmbeddings)
}
