// Package fetchmem implements the fetch_mem process boundary (spec §6
// "Process boundary"): paginated lookup of stored memories by user, scoped
// to one data source, with an optional version range and a limit/has_more
// cursor. Grounded on original_source/src/agentic_layer/fetch_mem_service.py's
// find_by_user_id, narrowed to the four data sources this system actually
// persists (profile, episode, event_log, foresight).
package fetchmem

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"evermemcore/internal/memory/model"
	"evermemcore/internal/persistence/databases"
)

func decodeProfile(payload []byte) (*model.UserProfile, error) {
	var p model.UserProfile
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func decodeEpisode(payload []byte) (*model.Episode, error) {
	var ep model.Episode
	if err := json.Unmarshal(payload, &ep); err != nil {
		return nil, err
	}
	return &ep, nil
}

func decodeEventLog(payload []byte) (*model.EventLog, error) {
	var log model.EventLog
	if err := json.Unmarshal(payload, &log); err != nil {
		return nil, err
	}
	return &log, nil
}

func decodeForesight(payload []byte) (*model.Foresight, error) {
	var f model.Foresight
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// VersionRange bounds a UserProfile lookup by version, inclusive on both
// ends when set (spec "version_range ... 左闭右闭区间 [start, end]"). Only
// the profile source honors it; other sources have no version concept and
// ignore it.
type VersionRange struct {
	Start *int
	End   *int
}

func (r *VersionRange) includes(v int) bool {
	if r == nil {
		return true
	}
	if r.Start != nil && v < *r.Start {
		return false
	}
	if r.End != nil && v > *r.End {
		return false
	}
	return true
}

// Item is one memory returned by Fetch, with its raw domain record attached
// so callers can type-switch on Source to recover the concrete type.
type Item struct {
	ID     string
	Source model.DataSource
	Record any
}

// Result is fetch_mem's paginated response.
type Result struct {
	Items   []Item
	Total   int
	HasMore bool
}

// Service resolves fetch_mem requests against the entity store directly
// (rather than through the typed repos, which only expose single-record
// lookups) since pagination needs List access to every version/record for
// a user.
type Service struct {
	store databases.EntityStore
}

func New(store databases.EntityStore) *Service {
	return &Service{store: store}
}

// Fetch implements find_by_user_id: returns up to limit memories of source
// for (userID, groupID), newest first, with HasMore set when more records
// exist beyond the page. limit <= 0 defaults to 10 (the original service's
// default).
func (s *Service) Fetch(ctx context.Context, userID, groupID string, source model.DataSource, versions *VersionRange, limit int) (Result, error) {
	if limit <= 0 {
		limit = 10
	}

	switch source {
	case model.SourceProfile:
		return s.fetchProfile(ctx, userID, groupID, versions, limit)
	case model.SourceEpisode:
		return s.fetchEpisodes(ctx, userID, limit)
	case model.SourceEventLog:
		return s.fetchEventLogs(ctx, userID, limit)
	case model.SourceForesight:
		return s.fetchForesight(ctx, userID, groupID, limit)
	default:
		return Result{}, fmt.Errorf("fetchmem: unsupported data source %q", source)
	}
}

func (s *Service) fetchProfile(ctx context.Context, userID, groupID string, versions *VersionRange, limit int) (Result, error) {
	entities, err := s.store.List(ctx, map[string]string{"kind": "user_profile", "user_id": userID, "group_id": groupID}, 0)
	if err != nil {
		return Result{}, fmt.Errorf("fetchmem: list profiles: %w", err)
	}

	type versioned struct {
		entity  databases.Entity
		profile *model.UserProfile
	}
	all := make([]versioned, 0, len(entities))
	for _, e := range entities {
		p, err := decodeProfile(e.Payload)
		if err != nil {
			return Result{}, fmt.Errorf("fetchmem: decode profile %s: %w", e.ID, err)
		}
		if !versions.includes(p.Version) {
			continue
		}
		all = append(all, versioned{entity: e, profile: p})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].profile.Version > all[j].profile.Version })

	return paginate(all, limit, func(v versioned) Item {
		return Item{ID: v.entity.ID, Source: model.SourceProfile, Record: v.profile}
	})
}

func (s *Service) fetchEpisodes(ctx context.Context, userID string, limit int) (Result, error) {
	entities, err := s.store.List(ctx, map[string]string{"kind": "episode", "user_id": userID}, 0)
	if err != nil {
		return Result{}, fmt.Errorf("fetchmem: list episodes: %w", err)
	}

	type dated struct {
		entity  databases.Entity
		episode *model.Episode
	}
	all := make([]dated, 0, len(entities))
	for _, e := range entities {
		ep, err := decodeEpisode(e.Payload)
		if err != nil {
			return Result{}, fmt.Errorf("fetchmem: decode episode %s: %w", e.ID, err)
		}
		all = append(all, dated{entity: e, episode: ep})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].episode.Timestamp.After(all[j].episode.Timestamp) })

	return paginate(all, limit, func(d dated) Item {
		return Item{ID: d.entity.ID, Source: model.SourceEpisode, Record: d.episode}
	})
}

// fetchEventLogs has no direct user_id tag to filter by (an EventLog is
// keyed per MemCell event, not per user), so it goes through the user's
// episodes to find which MemCell events mention them, same association
// retrieval.go's hydrateEventLog relies on.
func (s *Service) fetchEventLogs(ctx context.Context, userID string, limit int) (Result, error) {
	entities, err := s.store.List(ctx, map[string]string{"kind": "episode", "user_id": userID}, 0)
	if err != nil {
		return Result{}, fmt.Errorf("fetchmem: list episodes for event_log lookup: %w", err)
	}

	type dated struct {
		eventID string
		log     *model.EventLog
		ts      model.Episode
	}
	seen := make(map[string]bool)
	all := make([]dated, 0, len(entities))
	for _, e := range entities {
		ep, err := decodeEpisode(e.Payload)
		if err != nil {
			return Result{}, fmt.Errorf("fetchmem: decode episode %s: %w", e.ID, err)
		}
		for _, eventID := range ep.MemcellEventIDList {
			if seen[eventID] {
				continue
			}
			seen[eventID] = true
			logEntity, ok, err := s.store.Get(ctx, eventID)
			if err != nil {
				return Result{}, fmt.Errorf("fetchmem: get event_log %s: %w", eventID, err)
			}
			if !ok {
				continue
			}
			log, err := decodeEventLog(logEntity.Payload)
			if err != nil {
				return Result{}, fmt.Errorf("fetchmem: decode event_log %s: %w", eventID, err)
			}
			all = append(all, dated{eventID: eventID, log: log, ts: *ep})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].ts.Timestamp.After(all[j].ts.Timestamp) })

	return paginate(all, limit, func(d dated) Item {
		return Item{ID: d.eventID, Source: model.SourceEventLog, Record: d.log}
	})
}

func (s *Service) fetchForesight(ctx context.Context, userID, groupID string, limit int) (Result, error) {
	tags := map[string]string{"kind": "foresight", "user_id": userID}
	if groupID != "" {
		tags["group_id"] = groupID
	}
	entities, err := s.store.List(ctx, tags, 0)
	if err != nil {
		return Result{}, fmt.Errorf("fetchmem: list foresight: %w", err)
	}

	type dated struct {
		entity    databases.Entity
		foresight *model.Foresight
	}
	all := make([]dated, 0, len(entities))
	for _, e := range entities {
		f, err := decodeForesight(e.Payload)
		if err != nil {
			return Result{}, fmt.Errorf("fetchmem: decode foresight %s: %w", e.ID, err)
		}
		all = append(all, dated{entity: e, foresight: f})
	}
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i].foresight.StartTime, all[j].foresight.StartTime
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return a.After(*b)
	})

	return paginate(all, limit, func(d dated) Item {
		return Item{ID: d.entity.ID, Source: model.SourceForesight, Record: d.foresight}
	})
}

// paginate slices a newest-first slice to limit and reports has_more when
// the full slice holds more than limit entries.
func paginate[T any](all []T, limit int, toItem func(T) Item) (Result, error) {
	total := len(all)
	if len(all) > limit {
		all = all[:limit]
	}
	items := make([]Item, 0, len(all))
	for _, v := range all {
		items = append(items, toItem(v))
	}
	return Result{Items: items, Total: total, HasMore: total > limit}, nil
}
