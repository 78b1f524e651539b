package repo

import (
	"context"
	"fmt"

	"evermemcore/internal/memory/model"
	"evermemcore/internal/persistence/databases"
)

// UserProfileRepo stores UserProfile versions; each Save appends a new
// version rather than overwriting (spec §4.3.3: history is never mutated
// in place, only merged-forward into a new version).
type UserProfileRepo interface {
	FindLatest(ctx context.Context, userID, groupID string) (*model.UserProfile, bool, error)
	Save(ctx context.Context, p *model.UserProfile) error
}

type userProfileRepo struct{ store databases.EntityStore }

func NewUserProfileRepo(store databases.EntityStore) UserProfileRepo {
	return &userProfileRepo{store: store}
}

func userProfileID(userID, groupID string, version int) string {
	return fmt.Sprintf("userprofile:%s:%s:v%d", userID, groupID, version)
}

func (r *userProfileRepo) FindLatest(ctx context.Context, userID, groupID string) (*model.UserProfile, bool, error) {
	entities, err := r.store.List(ctx, map[string]string{"kind": "user_profile", "user_id": userID, "group_id": groupID}, 0)
	if err != nil || len(entities) == 0 {
		return nil, false, err
	}
	sortEntitiesDesc(entities, "version")
	p, err := unmarshalInto[model.UserProfile](entities[0].Payload)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func (r *userProfileRepo) Save(ctx context.Context, p *model.UserProfile) error {
	payload, err := marshal(p)
	if err != nil {
		return fmt.Errorf("user profile repo: marshal: %w", err)
	}
	tags := map[string]string{
		"kind":     "user_profile",
		"user_id":  p.UserID,
		"group_id": p.GroupID,
		"version":  fmt.Sprintf("%010d", p.Version),
	}
	id := userProfileID(p.UserID, p.GroupID, p.Version)
	return r.store.Put(ctx, databases.Entity{ID: id, Payload: payload, Tags: tags})
}

// GroupProfileRepo stores the single current GroupProfile per group
// (topics/roles are merged in place by the profile package before Save).
type GroupProfileRepo interface {
	FindLatest(ctx context.Context, groupID string) (*model.GroupProfile, bool, error)
	Save(ctx context.Context, p *model.GroupProfile) error
}

type groupProfileRepo struct{ store databases.EntityStore }

func NewGroupProfileRepo(store databases.EntityStore) GroupProfileRepo {
	return &groupProfileRepo{store: store}
}

func groupProfileID(groupID string) string { return "groupprofile:" + groupID }

func (r *groupProfileRepo) FindLatest(ctx context.Context, groupID string) (*model.GroupProfile, bool, error) {
	e, ok, err := r.store.Get(ctx, groupProfileID(groupID))
	if err != nil || !ok {
		return nil, ok, err
	}
	p, err := unmarshalInto[model.GroupProfile](e.Payload)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func (r *groupProfileRepo) Save(ctx context.Context, p *model.GroupProfile) error {
	payload, err := marshal(p)
	if err != nil {
		return fmt.Errorf("group profile repo: marshal: %w", err)
	}
	tags := map[string]string{"kind": "group_profile", "group_id": p.GroupID}
	return r.store.Put(ctx, databases.Entity{ID: groupProfileID(p.GroupID), Payload: payload, Tags: tags})
}

// GroupImportanceRepo stores the sliding-window GroupImportanceEvidence per
// (group, user) pair (spec §4.3.5).
type GroupImportanceRepo interface {
	FindLatest(ctx context.Context, groupID, userID string) (*model.GroupImportanceEvidence, bool, error)
	ListByGroup(ctx context.Context, groupID string) ([]*model.GroupImportanceEvidence, error)
	Save(ctx context.Context, e *model.GroupImportanceEvidence) error
}

type groupImportanceRepo struct{ store databases.EntityStore }

func NewGroupImportanceRepo(store databases.EntityStore) GroupImportanceRepo {
	return &groupImportanceRepo{store: store}
}

func groupImportanceID(groupID, userID string) string {
	return fmt.Sprintf("groupimportance:%s:%s", groupID, userID)
}

func (r *groupImportanceRepo) FindLatest(ctx context.Context, groupID, userID string) (*model.GroupImportanceEvidence, bool, error) {
	e, ok, err := r.store.Get(ctx, groupImportanceID(groupID, userID))
	if err != nil || !ok {
		return nil, ok, err
	}
	ev, err := unmarshalInto[model.GroupImportanceEvidence](e.Payload)
	if err != nil {
		return nil, false, err
	}
	return ev, true, nil
}

// ListByGroup returns every user's importance evidence recorded for group.
func (r *groupImportanceRepo) ListByGroup(ctx context.Context, groupID string) ([]*model.GroupImportanceEvidence, error) {
	entities, err := r.store.List(ctx, map[string]string{"kind": "group_importance", "group_id": groupID}, 0)
	if err != nil {
		return nil, fmt.Errorf("group importance repo: list: %w", err)
	}
	out := make([]*model.GroupImportanceEvidence, 0, len(entities))
	for _, e := range entities {
		ev, err := unmarshalInto[model.GroupImportanceEvidence](e.Payload)
		if err != nil {
			return nil, fmt.Errorf("group importance repo: decode: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func (r *groupImportanceRepo) Save(ctx context.Context, e *model.GroupImportanceEvidence) error {
	payload, err := marshal(e)
	if err != nil {
		return fmt.Errorf("group importance repo: marshal: %w", err)
	}
	tags := map[string]string{"kind": "group_importance", "group_id": e.GroupID, "user_id": e.UserID}
	return r.store.Put(ctx, databases.Entity{ID: groupImportanceID(e.GroupID, e.UserID), Payload: payload, Tags: tags})
}
