package repo

import (
	"context"
	"fmt"

	"evermemcore/internal/memory/model"
	"evermemcore/internal/persistence/databases"
)

// MemCellRepo persists closed MemCells and answers the lookups the
// extraction pipeline needs: by id, by id batch, and "everything new in a
// group since a timestamp" for incremental profile/cluster passes.
type MemCellRepo interface {
	Save(ctx context.Context, cell *model.MemCell) error
	GetByEventID(ctx context.Context, eventID string) (*model.MemCell, bool, error)
	GetByEventIDs(ctx context.Context, eventIDs []string) ([]*model.MemCell, error)
	ListByGroupSince(ctx context.Context, groupID string, since string) ([]*model.MemCell, error)
}

type memCellRepo struct {
	store databases.EntityStore
}

// NewMemCellRepo builds a MemCellRepo over an EntityStore.
func NewMemCellRepo(store databases.EntityStore) MemCellRepo {
	return &memCellRepo{store: store}
}

func (r *memCellRepo) Save(ctx context.Context, cell *model.MemCell) error {
	payload, err := marshal(cell)
	if err != nil {
		return fmt.Errorf("memcell repo: marshal: %w", err)
	}
	tags := map[string]string{
		"kind":       "memcell",
		"group_id":   cell.GroupID,
		"timestamp":  cell.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	return r.store.Put(ctx, databases.Entity{ID: cell.EventID, Payload: payload, Tags: tags})
}

func (r *memCellRepo) GetByEventID(ctx context.Context, eventID string) (*model.MemCell, bool, error) {
	e, ok, err := r.store.Get(ctx, eventID)
	if err != nil || !ok {
		return nil, ok, err
	}
	cell, err := unmarshalInto[model.MemCell](e.Payload)
	if err != nil {
		return nil, false, err
	}
	return cell, true, nil
}

func (r *memCellRepo) GetByEventIDs(ctx context.Context, eventIDs []string) ([]*model.MemCell, error) {
	out := make([]*model.MemCell, 0, len(eventIDs))
	for _, id := range eventIDs {
		cell, ok, err := r.GetByEventID(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, cell)
		}
	}
	return out, nil
}

func (r *memCellRepo) ListByGroupSince(ctx context.Context, groupID string, since string) ([]*model.MemCell, error) {
	entities, err := r.store.List(ctx, map[string]string{"kind": "memcell", "group_id": groupID}, 0)
	if err != nil {
		return nil, err
	}
	out := make([]*model.MemCell, 0, len(entities))
	for _, e := range entities {
		if since != "" && e.Tags["timestamp"] < since {
			continue
		}
		cell, err := unmarshalInto[model.MemCell](e.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, cell)
	}
	return out, nil
}
