package repo

import (
	"context"
	"fmt"

	"evermemcore/internal/memory/model"
	"evermemcore/internal/persistence/databases"
)

// EpisodeRepo persists Episodes and keeps their dense (VectorStore) and
// lexical (FullTextSearch) indices in sync. Episode ids are derived from
// their source MemCell event id: "<eventID>" for the group episode, or
// "<eventID>:<userID>" for a personal one.
type EpisodeRepo interface {
	Save(ctx context.Context, ep *model.Episode) error
	GetByEventID(ctx context.Context, memcellEventID string) (*model.Episode, bool, error)
	GetPersonal(ctx context.Context, memcellEventID, userID string) (*model.Episode, bool, error)
}

type episodeRepo struct {
	store  databases.EntityStore
	vector databases.VectorStore
	search databases.FullTextSearch
}

// NewEpisodeRepo builds an EpisodeRepo over the dense/lexical/entity
// backends behind data_source=episode.
func NewEpisodeRepo(store databases.EntityStore, vector databases.VectorStore, search databases.FullTextSearch) EpisodeRepo {
	return &episodeRepo{store: store, vector: vector, search: search}
}

func episodeID(ep *model.Episode) string {
	if len(ep.MemcellEventIDList) == 0 {
		return ""
	}
	base := ep.MemcellEventIDList[0]
	if ep.UserID == "" {
		return base
	}
	return base + ":" + ep.UserID
}

func (r *episodeRepo) Save(ctx context.Context, ep *model.Episode) error {
	id := episodeID(ep)
	if id == "" {
		return fmt.Errorf("episode repo: episode has no source memcell id")
	}
	payload, err := marshal(ep)
	if err != nil {
		return fmt.Errorf("episode repo: marshal: %w", err)
	}
	tags := map[string]string{"kind": "episode", "user_id": ep.UserID}
	if err := r.store.Put(ctx, databases.Entity{ID: id, Payload: payload, Tags: tags}); err != nil {
		return fmt.Errorf("episode repo: put: %w", err)
	}
	if len(ep.Extend.Embedding) > 0 && r.vector != nil {
		if err := r.vector.Upsert(ctx, id, ep.Extend.Embedding, map[string]string{"user_id": ep.UserID}); err != nil {
			return fmt.Errorf("episode repo: vector upsert: %w", err)
		}
	}
	if r.search != nil {
		if err := r.search.Index(ctx, id, ep.EpisodeText, map[string]string{"user_id": ep.UserID}); err != nil {
			return fmt.Errorf("episode repo: search index: %w", err)
		}
	}
	return nil
}

func (r *episodeRepo) GetByEventID(ctx context.Context, memcellEventID string) (*model.Episode, bool, error) {
	return r.getByID(ctx, memcellEventID)
}

func (r *episodeRepo) GetPersonal(ctx context.Context, memcellEventID, userID string) (*model.Episode, bool, error) {
	return r.getByID(ctx, memcellEventID+":"+userID)
}

func (r *episodeRepo) getByID(ctx context.Context, id string) (*model.Episode, bool, error) {
	e, ok, err := r.store.Get(ctx, id)
	if err != nil || !ok {
		return nil, ok, err
	}
	ep, err := unmarshalInto[model.Episode](e.Payload)
	if err != nil {
		return nil, false, err
	}
	return ep, true, nil
}
