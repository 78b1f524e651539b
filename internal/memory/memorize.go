package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"evermemcore/internal/memory/memcell"
	"evermemcore/internal/memory/model"
	"evermemcore/internal/memory/profile"
)

// MemoryKind selects which extraction pipeline ExtractMemory runs, mirroring
// the memory_type argument of spec.md §6's extract_memory.
type MemoryKind string

const (
	MemoryEpisode         MemoryKind = "episode"
	MemoryEventLog        MemoryKind = "event_log"
	MemoryUserProfile     MemoryKind = "user_profile"
	MemoryGroupProfile    MemoryKind = "group_profile"
	MemoryGroupImportance MemoryKind = "group_importance"
)

// Memory is the uniform record extract_memory and deliver_memorize return.
// Only the field matching Kind is populated; the rest stay nil, the same
// tagged-union-over-struct shape fetchmem.Item uses for fetch_mem.
type Memory struct {
	Kind    MemoryKind
	UserID  string
	GroupID string

	Episode         *model.Episode
	EventLog        *model.EventLog
	UserProfile     *model.UserProfile
	GroupProfile    *model.GroupProfile
	GroupImportance *model.GroupImportanceEvidence
}

// DeliverMemorizeRequest is deliver_memorize's argument (spec.md §6): a
// batch of newly arrived raw messages for one group.
type DeliverMemorizeRequest struct {
	GroupID       string
	UserIDList    []string
	NewMessages   []model.RawMessage
	CustomEpisode string // optional extra episode-prompt guidance
}

// ExtractMemcell runs the MemCell extractor over groupID's buffered history
// plus req's newly arrived messages (spec §4.2), consulting and updating
// the per-group Buffer so callers never need to track pending messages
// themselves.
func (s *Service) ExtractMemcell(ctx context.Context, groupID string, userIDList []string, newMsgs []model.RawMessage) (*model.MemCell, memcell.StatusResult, error) {
	history := s.buffer.Pending(groupID)
	cell, status, err := s.cells.Extract(ctx, groupID, userIDList, history, newMsgs)
	if err != nil {
		return nil, status, err
	}
	if cell != nil {
		// history closed into cell; newMsgs become the seed of the next slice.
		s.buffer.Clear(groupID)
		s.buffer.Append(groupID, newMsgs...)
		if err := s.memCellRepo.Save(ctx, cell); err != nil {
			return cell, status, fmt.Errorf("memory: save memcell: %w", err)
		}
		if err := s.assignCluster(ctx, cell); err != nil {
			return cell, status, fmt.Errorf("memory: assign cluster: %w", err)
		}
		return cell, status, nil
	}
	s.buffer.Append(groupID, newMsgs...)
	return nil, status, nil
}

// DeliverMemorize implements deliver_memorize (spec.md §6): feed a batch of
// raw messages through boundary detection, and, if a MemCell closes, run
// every extraction pipeline over it. Returns every Memory produced; an
// empty, non-nil slice means the conversation hasn't closed yet.
func (s *Service) DeliverMemorize(ctx context.Context, req DeliverMemorizeRequest) ([]Memory, error) {
	cell, _, err := s.ExtractMemcell(ctx, req.GroupID, req.UserIDList, req.NewMessages)
	if err != nil {
		return nil, fmt.Errorf("memory: deliver_memorize: %w", err)
	}
	if cell == nil {
		return []Memory{}, nil
	}

	var memories []Memory
	for _, kind := range []MemoryKind{MemoryEpisode, MemoryEventLog, MemoryUserProfile, MemoryGroupProfile, MemoryGroupImportance} {
		out, err := s.ExtractMemory(ctx, []*model.MemCell{cell}, kind, ExtractOptions{CustomInstructions: req.CustomEpisode})
		if err != nil {
			return memories, fmt.Errorf("memory: deliver_memorize: extract %s: %w", kind, err)
		}
		memories = append(memories, out...)
	}
	return memories, nil
}

// ExtractOptions carries the few caller-supplied knobs extract_memory's
// pipelines accept beyond the memcell batch itself.
type ExtractOptions struct {
	// CustomInstructions is appended to the episode prompt (spec §4.3.1).
	CustomInstructions string
}

// ExtractMemory implements extract_memory (spec.md §6): run one extraction
// pipeline over cells and persist its output, returning it as []Memory.
func (s *Service) ExtractMemory(ctx context.Context, cells []*model.MemCell, kind MemoryKind, opts ExtractOptions) ([]Memory, error) {
	switch kind {
	case MemoryEpisode:
		return s.extractEpisodes(ctx, cells, opts)
	case MemoryEventLog:
		return s.extractEventLogs(ctx, cells)
	case MemoryUserProfile:
		return s.extractUserProfiles(ctx, cells)
	case MemoryGroupProfile:
		return s.extractGroupProfile(ctx, cells)
	case MemoryGroupImportance:
		return s.extractGroupImportance(ctx, cells)
	default:
		return nil, fmt.Errorf("memory: unsupported memory_type %q", kind)
	}
}

func (s *Service) extractEpisodes(ctx context.Context, cells []*model.MemCell, opts ExtractOptions) ([]Memory, error) {
	var out []Memory
	for _, cell := range cells {
		conversationJSON, err := json.Marshal(cell.OriginalData)
		if err != nil {
			return out, fmt.Errorf("memory: marshal conversation: %w", err)
		}

		group, err := s.episodes.Extract(ctx, cell, "", string(conversationJSON), opts.CustomInstructions)
		if err != nil {
			return out, fmt.Errorf("memory: group episode: %w", err)
		}
		if err := s.episodeRepo.Save(ctx, group); err != nil {
			return out, fmt.Errorf("memory: save group episode: %w", err)
		}
		cell.Episode = group
		out = append(out, Memory{Kind: MemoryEpisode, GroupID: cell.GroupID, Episode: group})

		for _, userID := range cell.Participants {
			personal, err := s.episodes.Extract(ctx, cell, userID, string(conversationJSON), opts.CustomInstructions)
			if err != nil {
				return out, fmt.Errorf("memory: personal episode for %s: %w", userID, err)
			}
			if err := s.episodeRepo.Save(ctx, personal); err != nil {
				return out, fmt.Errorf("memory: save personal episode for %s: %w", userID, err)
			}
			out = append(out, Memory{Kind: MemoryEpisode, UserID: userID, GroupID: cell.GroupID, Episode: personal})
		}
	}
	return out, nil
}

// extractEventLogs requires cell.Episode to already be populated, by an
// earlier MemoryEpisode pass over the same cells within this call (spec
// §4.3.2 runs event-log extraction over the episode's narrative text).
func (s *Service) extractEventLogs(ctx context.Context, cells []*model.MemCell) ([]Memory, error) {
	var out []Memory
	for _, cell := range cells {
		if cell.Episode == nil {
			return out, fmt.Errorf("memory: event_log extraction requires an episode on memcell %s", cell.EventID)
		}
		log, err := s.eventLogs.Extract(ctx, cell.Episode.EpisodeText, cell.Timestamp)
		if err != nil {
			return out, fmt.Errorf("memory: event log for %s: %w", cell.EventID, err)
		}
		if log == nil {
			continue
		}
		if err := s.eventLogRepo.Save(ctx, cell.EventID, log); err != nil {
			return out, fmt.Errorf("memory: save event log for %s: %w", cell.EventID, err)
		}
		cell.EventLog = log
		out = append(out, Memory{Kind: MemoryEventLog, GroupID: cell.GroupID, EventLog: log})
	}
	return out, nil
}

func (s *Service) extractUserProfiles(ctx context.Context, cells []*model.MemCell) ([]Memory, error) {
	if len(cells) == 0 {
		return nil, nil
	}
	groupID := cells[0].GroupID

	historicalNames := make(map[string]string)
	historical := make(map[string]*model.UserProfile)
	for _, userID := range uniqueParticipants(cells) {
		p, ok, err := s.userProfileRepo.FindLatest(ctx, userID, groupID)
		if err != nil {
			return nil, fmt.Errorf("memory: find latest user profile for %s: %w", userID, err)
		}
		if ok {
			historical[userID] = p
			if p.UserName != "" {
				historicalNames[userID] = p.UserName
			}
		}
	}

	incoming, err := s.userProfiles.Extract(ctx, groupID, cells, historicalNames)
	if err != nil {
		return nil, fmt.Errorf("memory: extract user profiles: %w", err)
	}

	s.clusterMu.Lock()
	clusterID := s.lastCluster[groupID]
	s.clusterMu.Unlock()

	now := s.clock.Now()
	var out []Memory
	for userID, inc := range incoming {
		merged := profile.MergeUserProfile(historical[userID], inc, now)
		if clusterID != "" {
			merged.ClusterIDs = appendUniqueString(merged.ClusterIDs, clusterID)
		}
		if err := s.userProfileRepo.Save(ctx, merged); err != nil {
			return out, fmt.Errorf("memory: save user profile for %s: %w", userID, err)
		}
		out = append(out, Memory{Kind: MemoryUserProfile, UserID: userID, GroupID: groupID, UserProfile: merged})
	}
	return out, nil
}

func (s *Service) extractGroupProfile(ctx context.Context, cells []*model.MemCell) ([]Memory, error) {
	if len(cells) == 0 {
		return nil, nil
	}
	groupID := cells[0].GroupID

	historical, _, err := s.groupProfileRepo.FindLatest(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("memory: find latest group profile: %w", err)
	}

	merged, err := s.groupProfiles.Extract(ctx, groupID, cells, historical)
	if err != nil {
		return nil, fmt.Errorf("memory: extract group profile: %w", err)
	}
	if err := s.groupProfileRepo.Save(ctx, merged); err != nil {
		return nil, fmt.Errorf("memory: save group profile: %w", err)
	}
	return []Memory{{Kind: MemoryGroupProfile, GroupID: groupID, GroupProfile: merged}}, nil
}

func (s *Service) extractGroupImportance(ctx context.Context, cells []*model.MemCell) ([]Memory, error) {
	if len(cells) == 0 {
		return nil, nil
	}
	groupID := cells[0].GroupID

	stats := profile.ComputeGroupImportance(groupID, cells)
	existing := make(map[string]model.GroupImportanceEvidence, len(stats))
	for _, stat := range stats {
		ev, ok, err := s.groupImportanceRepo.FindLatest(ctx, groupID, stat.UserID)
		if err != nil {
			return nil, fmt.Errorf("memory: find latest group importance for %s: %w", stat.UserID, err)
		}
		if ok {
			existing[stat.UserID] = *ev
		}
	}

	updated := profile.ApplyGroupImportance(existing, groupID, stats)

	var out []Memory
	for userID, ev := range updated {
		ev := ev
		ev.UserID = userID
		ev.GroupID = groupID
		if err := s.groupImportanceRepo.Save(ctx, &ev); err != nil {
			return out, fmt.Errorf("memory: save group importance for %s: %w", userID, err)
		}
		out = append(out, Memory{Kind: MemoryGroupImportance, UserID: userID, GroupID: groupID, GroupImportance: &ev})
	}
	return out, nil
}

// assignCluster joins cell to the group's most recently assigned cluster,
// or starts a new one if the group has none yet (a temporal-proximity
// grouping policy; spec's Cluster is a one-line "group proximate MemCells"
// description with no stated candidate-selection rule).
func (s *Service) assignCluster(ctx context.Context, cell *model.MemCell) error {
	s.clusterMu.Lock()
	candidate := s.lastCluster[cell.GroupID]
	s.clusterMu.Unlock()

	var candidates []string
	if candidate != "" {
		candidates = []string{candidate}
	}
	clusterID, err := s.clusterRepo.AssignCluster(ctx, cell.EventID, candidates)
	if err != nil {
		return err
	}

	s.clusterMu.Lock()
	s.lastCluster[cell.GroupID] = clusterID
	s.clusterMu.Unlock()
	return nil
}

func appendUniqueString(existing []string, v string) []string {
	for _, e := range existing {
		if e == v {
			return existing
		}
	}
	return append(existing, v)
}

func uniqueParticipants(cells []*model.MemCell) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, cell := range cells {
		for _, userID := range cell.Participants {
			if userID == "" {
				continue
			}
			if _, ok := seen[userID]; ok {
				continue
			}
			seen[userID] = struct{}{}
			out = append(out, userID)
		}
	}
	return out
}
