package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"evermemcore/internal/memory/model"
	"evermemcore/internal/persistence/databases"
)

// ClusterRepo assigns MemCells to clusters of semantically/temporally
// proximate memory (spec §3 "Cluster / ClusterMembership").
type ClusterRepo interface {
	// AssignCluster joins memcellEventID to the first of candidateClusters
	// that exists, or creates a new cluster when none do. Returns the
	// resulting cluster id.
	AssignCluster(ctx context.Context, memcellEventID string, candidateClusters []string) (string, error)
	GetCluster(ctx context.Context, clusterID string) (*model.Cluster, bool, error)
}

type clusterRepo struct{ store databases.EntityStore }

func NewClusterRepo(store databases.EntityStore) ClusterRepo {
	return &clusterRepo{store: store}
}

func clusterEntityID(clusterID string) string { return "cluster:" + clusterID }

func (r *clusterRepo) AssignCluster(ctx context.Context, memcellEventID string, candidateClusters []string) (string, error) {
	for _, cid := range candidateClusters {
		cluster, ok, err := r.GetCluster(ctx, cid)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		cluster.MemberEventIDs = appendUnique(cluster.MemberEventIDs, memcellEventID)
		cluster.LastUpdated = time.Now().UTC()
		if err := r.save(ctx, cluster); err != nil {
			return "", err
		}
		return cluster.ClusterID, nil
	}

	cluster := &model.Cluster{
		ClusterID:      uuid.NewString(),
		MemberEventIDs: []string{memcellEventID},
		LastUpdated:    time.Now().UTC(),
	}
	if err := r.save(ctx, cluster); err != nil {
		return "", err
	}
	return cluster.ClusterID, nil
}

func (r *clusterRepo) GetCluster(ctx context.Context, clusterID string) (*model.Cluster, bool, error) {
	e, ok, err := r.store.Get(ctx, clusterEntityID(clusterID))
	if err != nil || !ok {
		return nil, ok, err
	}
	c, err := unmarshalInto[model.Cluster](e.Payload)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

func (r *clusterRepo) save(ctx context.Context, c *model.Cluster) error {
	payload, err := marshal(c)
	if err != nil {
		return fmt.Errorf("cluster repo: marshal: %w", err)
	}
	tags := map[string]string{"kind": "cluster"}
	return r.store.Put(ctx, databases.Entity{ID: clusterEntityID(c.ClusterID), Payload: payload, Tags: tags})
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
