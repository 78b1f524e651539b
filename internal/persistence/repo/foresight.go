package repo

import (
	"context"
	"fmt"

	"evermemcore/internal/memory/model"
	"evermemcore/internal/persistence/databases"
)

// ForesightRepo persists forward-looking memory records and keeps them
// indexed for dense/lexical retrieval (spec §4.4 "foresight" data source).
type ForesightRepo interface {
	Save(ctx context.Context, f *model.Foresight) error
	GetByID(ctx context.Context, id string) (*model.Foresight, bool, error)
}

type foresightRepo struct {
	store  databases.EntityStore
	vector databases.VectorStore
	search databases.FullTextSearch
}

func NewForesightRepo(store databases.EntityStore, vector databases.VectorStore, search databases.FullTextSearch) ForesightRepo {
	return &foresightRepo{store: store, vector: vector, search: search}
}

func (r *foresightRepo) Save(ctx context.Context, f *model.Foresight) error {
	if f.ID == "" {
		return fmt.Errorf("foresight repo: id required")
	}
	payload, err := marshal(f)
	if err != nil {
		return fmt.Errorf("foresight repo: marshal: %w", err)
	}
	tags := map[string]string{"kind": "foresight", "user_id": f.UserID, "group_id": f.GroupID}
	if err := r.store.Put(ctx, databases.Entity{ID: f.ID, Payload: payload, Tags: tags}); err != nil {
		return fmt.Errorf("foresight repo: put: %w", err)
	}
	if len(f.Extend.Embedding) > 0 && r.vector != nil {
		if err := r.vector.Upsert(ctx, f.ID, f.Extend.Embedding, tags); err != nil {
			return fmt.Errorf("foresight repo: vector upsert: %w", err)
		}
	}
	if r.search != nil {
		if err := r.search.Index(ctx, f.ID, f.Content, tags); err != nil {
			return fmt.Errorf("foresight repo: search index: %w", err)
		}
	}
	return nil
}

func (r *foresightRepo) GetByID(ctx context.Context, id string) (*model.Foresight, bool, error) {
	e, ok, err := r.store.Get(ctx, id)
	if err != nil || !ok {
		return nil, ok, err
	}
	f, err := unmarshalInto[model.Foresight](e.Payload)
	if err != nil {
		return nil, false, err
	}
	return f, true, nil
}
