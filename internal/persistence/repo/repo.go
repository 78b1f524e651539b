// Package repo adapts the generic databases.Manager backends (EntityStore,
// VectorStore, FullTextSearch) into the typed repository interfaces named by
// the memory domain: MemCellRepo, EpisodeRepo, EventLogRepo, UserProfileRepo,
// GroupProfileRepo, GroupImportanceRepo, ClusterRepo.
package repo

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"evermemcore/internal/persistence/databases"
)

func marshal(v any) ([]byte, error) { return json.Marshal(v) }

func unmarshalInto[T any](payload []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("repo: unmarshal %T: %w", v, err)
	}
	return &v, nil
}

// sortEntitiesDesc sorts entities by their "version" or timestamp tag
// descending; callers pass the tag key to sort on.
func sortEntitiesDesc(entities []databases.Entity, tagKey string) {
	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].Tags[tagKey] > entities[j].Tags[tagKey]
	})
}

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339Nano) }
