package retrieval

import "sort"

const rrfK = 60

// rankedList is one ordered candidate id list (best first) contributed by
// a single branch (dense, lexical, or one refined query in the agentic
// loop).
type rankedList []string

// FuseRRF scores every id appearing in any list by sum(1/(60+rank)) across
// the lists it appears in (spec §4.4 "RRF fusion"), returning ids sorted by
// descending fused score with a deterministic tie-break on id.
func FuseRRF(lists ...rankedList) []string {
	scores := make(map[string]float64)
	for _, list := range lists {
		for i, id := range list {
			scores[id] += 1.0 / float64(rrfK+i+1)
		}
	}
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}

// FuseRRFScored is FuseRRF but also returns the fused score per id, for
// callers that want to stamp Candidate.Score.
func FuseRRFScored(lists ...rankedList) (ids []string, scoreOf map[string]float64) {
	scores := make(map[string]float64)
	for _, list := range lists {
		for i, id := range list {
			scores[id] += 1.0 / float64(rrfK+i+1)
		}
	}
	ids = make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids, scores
}
