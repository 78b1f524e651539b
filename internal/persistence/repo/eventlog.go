package repo

import (
	"context"
	"fmt"

	"evermemcore/internal/memory/model"
	"evermemcore/internal/persistence/databases"
)

// EventLogRepo persists EventLogs and embeds each atomic fact into the
// dense store individually (fact ids are "<memcellEventID>#<index>"),
// while the lexical store indexes the joined atomic facts for keyword
// retrieval.
type EventLogRepo interface {
	Save(ctx context.Context, memcellEventID string, log *model.EventLog) error
	GetByEventID(ctx context.Context, memcellEventID string) (*model.EventLog, bool, error)
}

type eventLogRepo struct {
	store  databases.EntityStore
	vector databases.VectorStore
	search databases.FullTextSearch
}

func NewEventLogRepo(store databases.EntityStore, vector databases.VectorStore, search databases.FullTextSearch) EventLogRepo {
	return &eventLogRepo{store: store, vector: vector, search: search}
}

func (r *eventLogRepo) Save(ctx context.Context, memcellEventID string, log *model.EventLog) error {
	if !log.Valid() {
		return fmt.Errorf("eventlog repo: invalid event log for %s", memcellEventID)
	}
	payload, err := marshal(log)
	if err != nil {
		return fmt.Errorf("eventlog repo: marshal: %w", err)
	}
	tags := map[string]string{"kind": "event_log", "memcell_event_id": memcellEventID}
	if err := r.store.Put(ctx, databases.Entity{ID: memcellEventID, Payload: payload, Tags: tags}); err != nil {
		return fmt.Errorf("eventlog repo: put: %w", err)
	}
	for i, fact := range log.AtomicFact {
		factID := FactID(memcellEventID, i)
		if r.vector != nil {
			if err := r.vector.Upsert(ctx, factID, log.FactEmbeddings[i], map[string]string{"memcell_event_id": memcellEventID}); err != nil {
				return fmt.Errorf("eventlog repo: vector upsert fact %d: %w", i, err)
			}
		}
		if r.search != nil {
			if err := r.search.Index(ctx, factID, fact, map[string]string{"memcell_event_id": memcellEventID}); err != nil {
				return fmt.Errorf("eventlog repo: search index fact %d: %w", i, err)
			}
		}
	}
	return nil
}

func (r *eventLogRepo) GetByEventID(ctx context.Context, memcellEventID string) (*model.EventLog, bool, error) {
	e, ok, err := r.store.Get(ctx, memcellEventID)
	if err != nil || !ok {
		return nil, ok, err
	}
	log, err := unmarshalInto[model.EventLog](e.Payload)
	if err != nil {
		return nil, false, err
	}
	return log, true, nil
}

// FactID derives the dense/lexical index id for one atomic fact, exposed so
// retrieval code can map a fact hit back to its owning EventLog.
func FactID(memcellEventID string, idx int) string {
	return fmt.Sprintf("%s#%d", memcellEventID, idx)
}
