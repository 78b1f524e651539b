package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"evermemcore/internal/memory/model"
	"evermemcore/internal/persistence/databases"
	"evermemcore/internal/persistence/repo"
)

// Embedder is the subset of llmcap.Capability the engine needs to embed a
// query for the dense branch.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SourceBackends bundles the dense/lexical/entity stores backing one
// data_source (spec §4.4 dispatch table).
type SourceBackends struct {
	Vector databases.VectorStore
	Search databases.FullTextSearch
	Store  databases.EntityStore
}

// Options is the retrieve_lightweight request shape (spec §4.4).
type Options struct {
	UserID        string
	GroupID       string
	TimeRangeDays int
	TopK          int
	RetrievalMode model.RetrievalMode
	DataSource    model.DataSource
	CurrentTime   *time.Time
	Radius        float64
}

// Result is the retrieve_lightweight response (spec §4.4 "Return").
type Result struct {
	Memories []model.Candidate
	Count    int
	Metadata model.RetrievalMetadata
}

// Engine implements retrieve_lightweight over pluggable per-source dense
// and lexical backends.
type Engine struct {
	Episode   SourceBackends
	EventLog  SourceBackends
	Foresight SourceBackends

	Embedder    Embedder
	UserProfile repo.UserProfileRepo
}

// NewEngine builds a retrieval Engine.
func NewEngine(episode, eventLog, foresight SourceBackends, embedder Embedder, userProfiles repo.UserProfileRepo) *Engine {
	return &Engine{Episode: episode, EventLog: eventLog, Foresight: foresight, Embedder: embedder, UserProfile: userProfiles}
}

// RetrieveLightweight implements spec §4.4's full dispatch.
func (e *Engine) RetrieveLightweight(ctx context.Context, query string, opt Options) (*Result, error) {
	start := time.Now()
	topK := opt.TopK
	if topK <= 0 {
		topK = 10
	}

	if opt.DataSource == model.SourceProfile {
		return e.retrieveProfile(ctx, opt, start)
	}

	backends, err := e.backendsFor(opt.DataSource)
	if err != nil {
		return nil, err
	}

	denseIDs, lexicalIDs, denseScore, vecCount, lexCount, err := e.candidateBranches(ctx, backends, query, topK, opt)
	if err != nil {
		return nil, err
	}

	var fusedIDs []string
	var fusedScore map[string]float64
	switch {
	case opt.RetrievalMode == model.ModeEmbedding:
		fusedIDs = denseIDs
		fusedScore = denseScore
	case opt.RetrievalMode == model.ModeBM25:
		fusedIDs = lexicalIDs
		fusedScore = scoreByRank(lexicalIDs)
	default: // rrf, agentic_fallback
		fusedIDs, fusedScore = FuseRRFScored(denseIDs, lexicalIDs)
	}
	if len(fusedIDs) > topK {
		fusedIDs = fusedIDs[:topK]
	}

	candidates, err := e.hydrate(ctx, opt.DataSource, backends, fusedIDs, fusedScore)
	if err != nil {
		return nil, fmt.Errorf("retrieval: hydrate: %w", err)
	}

	if opt.DataSource == model.SourceForesight && opt.CurrentTime != nil {
		candidates = filterForesightValidity(candidates, *opt.CurrentTime)
	}

	meta := model.RetrievalMetadata{
		RetrievalMode:       opt.RetrievalMode,
		DataSource:          opt.DataSource,
		EmbeddingCandidates: vecCount,
		BM25Candidates:      lexCount,
		FinalCount:          len(candidates),
		TotalLatencyMS:      time.Since(start).Milliseconds(),
	}
	return &Result{Memories: candidates, Count: len(candidates), Metadata: meta}, nil
}

func (e *Engine) backendsFor(ds model.DataSource) (SourceBackends, error) {
	switch ds {
	case model.SourceEpisode:
		return e.Episode, nil
	case model.SourceEventLog:
		return e.EventLog, nil
	case model.SourceForesight:
		return e.Foresight, nil
	default:
		return SourceBackends{}, fmt.Errorf("retrieval: unsupported data_source %q", ds)
	}
}

// candidateBranches runs the dense and lexical branches concurrently,
// dispatching whichever ones the retrieval mode calls for over a pair of
// result channels and waiting on both.
func (e *Engine) candidateBranches(ctx context.Context, b SourceBackends, query string, topK int, opt Options) (denseIDs, lexicalIDs rankedList, denseScore map[string]float64, vecCount, lexCount int, err error) {
	type denseOut struct {
		ids   rankedList
		score map[string]float64
		count int
		err   error
	}
	type lexOut struct {
		ids   rankedList
		count int
		err   error
	}

	denseCh := make(chan denseOut, 1)
	lexCh := make(chan lexOut, 1)

	if opt.RetrievalMode != model.ModeBM25 {
		go func() {
			ids, score, count, derr := e.denseBranch(ctx, b, query, topK, opt.Radius)
			denseCh <- denseOut{ids: ids, score: score, count: count, err: derr}
		}()
	} else {
		denseCh <- denseOut{}
	}

	if opt.RetrievalMode != model.ModeEmbedding {
		go func() {
			ids, count, lerr := e.lexicalBranch(ctx, b, query, topK)
			lexCh <- lexOut{ids: ids, count: count, err: lerr}
		}()
	} else {
		lexCh <- lexOut{}
	}

	d := <-denseCh
	l := <-lexCh
	if d.err != nil {
		return nil, nil, nil, 0, 0, fmt.Errorf("retrieval: dense branch: %w", d.err)
	}
	if l.err != nil {
		return nil, nil, nil, 0, 0, fmt.Errorf("retrieval: lexical branch: %w", l.err)
	}
	return d.ids, l.ids, d.score, d.count, l.count, nil
}

// denseBranch embeds query and queries the dense store, applying the
// radius similarity threshold as a post-filter (spec §4.4 "Dense branch").
func (e *Engine) denseBranch(ctx context.Context, b SourceBackends, query string, topK int, radius float64) (rankedList, map[string]float64, int, error) {
	if b.Vector == nil || e.Embedder == nil {
		return nil, nil, 0, nil
	}
	vec, err := e.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, nil, 0, err
	}
	limit := clamp(topK*200, 1000, 16384)
	hits, err := b.Vector.SimilaritySearch(ctx, vec, limit, nil)
	if err != nil {
		return nil, nil, 0, err
	}
	ids := make(rankedList, 0, len(hits))
	scores := make(map[string]float64, len(hits))
	for _, h := range hits {
		if radius > 0 && h.Score < radius {
			continue
		}
		ids = append(ids, h.ID)
		scores[h.ID] = h.Score
	}
	return ids, scores, len(hits), nil
}

// lexicalBranch tokenizes query per spec §4.4 and queries the lexical
// store with size = max(top_k*10, 100).
func (e *Engine) lexicalBranch(ctx context.Context, b SourceBackends, query string, topK int) (rankedList, int, error) {
	if b.Search == nil {
		return nil, 0, nil
	}
	size := topK * 10
	if size < 100 {
		size = 100
	}
	lexQuery := BuildLexicalQuery(query)
	hits, err := b.Search.Search(ctx, lexQuery, size)
	if err != nil {
		return nil, 0, err
	}
	ids := make(rankedList, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	return ids, len(hits), nil
}

func scoreByRank(ids rankedList) map[string]float64 {
	out := make(map[string]float64, len(ids))
	for i, id := range ids {
		out[id] = 1.0 / float64(rrfK+i+1)
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// hydrate resolves fused ids into model.Candidate, populating the
// source-specific field (episode/content/atomic_fact) per spec §4.4.
func (e *Engine) hydrate(ctx context.Context, ds model.DataSource, b SourceBackends, ids []string, scoreOf map[string]float64) ([]model.Candidate, error) {
	if b.Store == nil {
		return nil, nil
	}
	out := make([]model.Candidate, 0, len(ids))
	for _, id := range ids {
		c, ok, err := e.hydrateOne(ctx, ds, b, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		c.Score = scoreOf[id]
		out = append(out, c)
	}
	return out, nil
}

func (e *Engine) hydrateOne(ctx context.Context, ds model.DataSource, b SourceBackends, id string) (model.Candidate, bool, error) {
	switch ds {
	case model.SourceEpisode:
		return hydrateEpisode(ctx, b.Store, id)
	case model.SourceEventLog:
		return hydrateEventLog(ctx, b.Store, id)
	case model.SourceForesight:
		return hydrateForesight(ctx, b.Store, id)
	default:
		return model.Candidate{}, false, nil
	}
}

func hydrateEpisode(ctx context.Context, store databases.EntityStore, id string) (model.Candidate, bool, error) {
	e, ok, err := store.Get(ctx, id)
	if err != nil || !ok {
		return model.Candidate{}, ok, err
	}
	var ep model.Episode
	if err := json.Unmarshal(e.Payload, &ep); err != nil {
		return model.Candidate{}, false, err
	}
	eventID := id
	if len(ep.MemcellEventIDList) > 0 {
		eventID = ep.MemcellEventIDList[0]
	}
	return model.Candidate{
		EventID:   eventID,
		UserID:    ep.UserID,
		Timestamp: ep.Timestamp,
		Subject:   ep.Subject,
		Episode:   ep.EpisodeText,
		Summary:   ep.Summary,
		Metadata:  e.Tags,
	}, true, nil
}

// eventLogFact splits a fact-level candidate id "<memcellEventID>#<idx>"
// back into its owning EventLog id and fact index.
func eventLogFact(id string) (baseID string, idx int, ok bool) {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '#' {
			var n int
			if _, err := fmt.Sscanf(id[i+1:], "%d", &n); err != nil {
				return "", 0, false
			}
			return id[:i], n, true
		}
	}
	return "", 0, false
}

func hydrateEventLog(ctx context.Context, store databases.EntityStore, id string) (model.Candidate, bool, error) {
	baseID, idx, ok := eventLogFact(id)
	if !ok {
		baseID = id
	}
	e, ok2, err := store.Get(ctx, baseID)
	if err != nil || !ok2 {
		return model.Candidate{}, ok2, err
	}
	var log model.EventLog
	if err := json.Unmarshal(e.Payload, &log); err != nil {
		return model.Candidate{}, false, err
	}
	fact := ""
	if idx >= 0 && idx < len(log.AtomicFact) {
		fact = log.AtomicFact[idx]
	}
	return model.Candidate{
		EventID:    baseID,
		AtomicFact: []string{fact},
		Summary:    log.Time,
		Metadata:   e.Tags,
	}, true, nil
}

func hydrateForesight(ctx context.Context, store databases.EntityStore, id string) (model.Candidate, bool, error) {
	e, ok, err := store.Get(ctx, id)
	if err != nil || !ok {
		return model.Candidate{}, ok, err
	}
	var f model.Foresight
	if err := json.Unmarshal(e.Payload, &f); err != nil {
		return model.Candidate{}, false, err
	}
	return model.Candidate{
		EventID:   f.ID,
		UserID:    f.UserID,
		GroupID:   f.GroupID,
		Subject:   f.Subject,
		Episode:   f.Content,
		StartTime: f.StartTime,
		EndTime:   f.EndTime,
		Metadata:  e.Tags,
	}, true, nil
}

// filterForesightValidity drops candidates whose validity window excludes
// currentTime when both bounds are present (spec §4.4).
func filterForesightValidity(candidates []model.Candidate, currentTime time.Time) []model.Candidate {
	out := candidates[:0]
	for _, c := range candidates {
		if c.StartTime != nil && c.EndTime != nil {
			if currentTime.Before(*c.StartTime) || currentTime.After(*c.EndTime) {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// retrieveProfile implements the data_source=profile shortcut: direct
// lookup of the latest UserProfile by (user_id, group_id), ignoring query.
func (e *Engine) retrieveProfile(ctx context.Context, opt Options, start time.Time) (*Result, error) {
	if e.UserProfile == nil {
		return &Result{Metadata: model.RetrievalMetadata{DataSource: model.SourceProfile}}, nil
	}
	p, ok, err := e.UserProfile.FindLatest(ctx, opt.UserID, opt.GroupID)
	if err != nil {
		return nil, fmt.Errorf("retrieval: find latest profile: %w", err)
	}
	meta := model.RetrievalMetadata{
		DataSource:     model.SourceProfile,
		FinalCount:     0,
		TotalLatencyMS: time.Since(start).Milliseconds(),
	}
	if !ok {
		return &Result{Metadata: meta}, nil
	}
	candidate := model.Candidate{
		UserID:   p.UserID,
		GroupID:  p.GroupID,
		Subject:  p.UserName,
		Summary:  p.Scenario,
		Metadata: map[string]string{"version": fmt.Sprintf("%d", p.Version)},
	}
	meta.FinalCount = 1
	return &Result{Memories: []model.Candidate{candidate}, Count: 1, Metadata: meta}, nil
}
