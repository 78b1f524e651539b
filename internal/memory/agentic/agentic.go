// Package agentic implements the LLM-in-the-loop agentic retrieval state
// machine (spec §4.5): R1_HYBRID -> R1_RERANK -> SUFFICIENCY_CHECK ->
// {DONE | R2_QUERY_GEN -> R2_HYBRID -> MERGE -> FINAL_RERANK -> DONE} |
// FALLBACK.
package agentic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"evermemcore/internal/config"
	"evermemcore/internal/llm"
	"evermemcore/internal/memory/llmcap"
	"evermemcore/internal/memory/llmjson"
	"evermemcore/internal/memory/model"
	"evermemcore/internal/memory/retrieval"
	"evermemcore/internal/observability"
)

// Loop runs retrieve_agentic over a retrieval.Engine and an llmcap.Capability.
type Loop struct {
	Engine *retrieval.Engine
	LLM    *llmcap.Capability
	Config config.AgenticConfig
}

// New builds a Loop. cfg is copied so callers may reuse a shared default.
func New(engine *retrieval.Engine, capability *llmcap.Capability, cfg config.AgenticConfig) *Loop {
	return &Loop{Engine: engine, LLM: capability, Config: cfg}
}

type sufficiencyResponse struct {
	IsSufficient      bool   `json:"is_sufficient"`
	Reasoning         string `json:"reasoning"`
	MissingInformation string `json:"missing_information"`
}

type refinedQueriesResponse struct {
	Queries   []string `json:"queries"`
	Reasoning string   `json:"reasoning"`
}

// Retrieve runs the full agentic loop for a single (user_id, group_id)
// query scope. opts.DataSource/TopK are overridden per spec §4.5 step
// requirements; callers set UserID/GroupID/TimeRangeDays/Radius.
func (l *Loop) Retrieve(ctx context.Context, query string, opts retrieval.Options) (*retrieval.Result, error) {
	timeout := l.Config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := l.run(ctx, query, opts)
	if err == nil {
		return res, nil
	}

	log := observability.LoggerWithTrace(ctx)
	log.Warn().Err(err).Msg("agentic retrieval failed, falling back to lightweight RRF")

	if !l.Config.FallbackOnError {
		return nil, err
	}
	return l.fallback(ctx, query, opts, err)
}

func (l *Loop) run(ctx context.Context, query string, opts retrieval.Options) (*retrieval.Result, error) {
	cfg := l.Config

	// R1_HYBRID
	round1Opts := opts
	round1Opts.RetrievalMode = model.ModeRRF
	round1Opts.DataSource = model.SourceEpisode
	round1Opts.TopK = cfg.Round1TopN
	round1, err := l.Engine.RetrieveLightweight(ctx, query, round1Opts)
	if err != nil {
		return nil, fmt.Errorf("agentic: round1 hybrid: %w", err)
	}
	if len(round1.Memories) == 0 {
		round1.Metadata.RetrievalMode = model.ModeRRF
		round1.Metadata.IsSufficient = true
		return round1, nil
	}

	// R1_RERANK
	rerankTopN := cfg.Round1RerankTopN
	if rerankTopN <= 0 || rerankTopN > len(round1.Memories) {
		rerankTopN = min(len(round1.Memories), max(1, rerankTopN))
	}
	topForSufficiency, err := l.rerankOrTruncate(ctx, query, round1.Memories, rerankTopN)
	if err != nil {
		return nil, fmt.Errorf("agentic: round1 rerank: %w", err)
	}

	// SUFFICIENCY_CHECK
	sufficient, reasoning, missing := l.checkSufficiency(ctx, query, topForSufficiency)
	if sufficient {
		round1.Metadata.RetrievalMode = model.ModeRRF
		round1.Metadata.IsSufficient = true
		round1.Metadata.Reasoning = reasoning
		round1.Metadata.MissingInfo = missing
		return round1, nil
	}

	// R2_QUERY_GEN
	refined := l.generateRefinedQueries(ctx, query)

	// R2_HYBRID
	round2 := l.hybridMultiQuery(ctx, refined, opts, cfg.Round2PerQueryTopN)

	// MERGE
	combined := mergeByEventID(round1.Memories, round2, cfg.CombinedTotal)

	// FINAL_RERANK
	final, err := l.rerankOrTruncate(ctx, query, combined, cfg.FinalTopN)
	if err != nil {
		return nil, fmt.Errorf("agentic: final rerank: %w", err)
	}

	meta := model.RetrievalMetadata{
		RetrievalMode:  model.ModeRRF,
		DataSource:     model.SourceEpisode,
		FinalCount:     len(final),
		IsSufficient:   false,
		Reasoning:      reasoning,
		MissingInfo:    missing,
		RefinedQueries: refined,
		Round1Count:    len(round1.Memories),
		Round2Count:    len(round2),
		IsMultiRound:   true,
	}
	return &retrieval.Result{Memories: final, Count: len(final), Metadata: meta}, nil
}

func (l *Loop) fallback(ctx context.Context, query string, opts retrieval.Options, cause error) (*retrieval.Result, error) {
	fallbackOpts := opts
	fallbackOpts.RetrievalMode = model.ModeRRF
	if fallbackOpts.DataSource == "" {
		fallbackOpts.DataSource = model.SourceEpisode
	}
	if fallbackOpts.TopK <= 0 {
		fallbackOpts.TopK = l.Config.FinalTopN
	}
	res, err := l.Engine.RetrieveLightweight(ctx, query, fallbackOpts)
	if err != nil {
		return nil, fmt.Errorf("agentic: fallback retrieval also failed: %w (original: %v)", err, cause)
	}
	res.Metadata.RetrievalMode = model.ModeAgenticFallback
	res.Metadata.FallbackReason = cause.Error()
	res.Metadata.IsSufficient = true
	return res, nil
}

// rerankOrTruncate reranks candidates against query via the LLM reranker
// when UseReranker is set; otherwise it just truncates to topN, preserving
// the existing (fused) order.
func (l *Loop) rerankOrTruncate(ctx context.Context, query string, candidates []model.Candidate, topN int) ([]model.Candidate, error) {
	if topN <= 0 || topN > len(candidates) {
		topN = len(candidates)
	}
	if !l.Config.UseReranker || l.LLM == nil || len(candidates) == 0 {
		return append([]model.Candidate(nil), candidates[:topN]...), nil
	}
	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = formatDocument(i, c)
	}
	scored, err := l.LLM.Rerank(ctx, query, docs, "")
	if err != nil {
		// Degrade to fused order rather than fail the whole call.
		return append([]model.Candidate(nil), candidates[:topN]...), nil
	}
	out := make([]model.Candidate, 0, topN)
	for _, s := range scored {
		if len(out) == topN {
			break
		}
		if s.Index < 0 || s.Index >= len(candidates) {
			continue
		}
		c := candidates[s.Index]
		c.Score = s.RelevanceScore
		out = append(out, c)
	}
	return out, nil
}

// checkSufficiency prompts the LLM with the top reranked documents and
// parses {is_sufficient, reasoning, missing_information}; any timeout or
// parse failure defaults conservatively to is_sufficient=true (spec §4.5
// step 3).
func (l *Loop) checkSufficiency(ctx context.Context, query string, top []model.Candidate) (sufficient bool, reasoning, missing string) {
	if l.LLM == nil || len(top) == 0 {
		return true, "", ""
	}
	var b strings.Builder
	for i, c := range top {
		b.WriteString(formatDocument(i, c))
		b.WriteString("\n\n")
	}
	prompt := fmt.Sprintf(
		"Query: %s\n\nCandidate memories:\n%s\nDecide whether these memories are sufficient to answer the query. "+
			"Reply with a single JSON object: {\"is_sufficient\": bool, \"reasoning\": string, \"missing_information\": string}.",
		query, b.String(),
	)
	reply, err := l.LLM.Generate(ctx, prompt, llm.Options{Temperature: l.Config.SufficiencyTemp})
	if err != nil {
		return true, "", ""
	}
	raw, err := llmjson.Extract(reply)
	if err != nil {
		return true, "", ""
	}
	var parsed sufficiencyResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return true, "", ""
	}
	return parsed.IsSufficient, parsed.Reasoning, parsed.MissingInformation
}

// generateRefinedQueries asks the LLM for 2-3 refined queries (spec §4.5
// step 4). Queries outside [5,300] chars or identical to the original are
// dropped; if none survive, the original query is used as the sole query.
func (l *Loop) generateRefinedQueries(ctx context.Context, query string) []string {
	fallback := []string{query}
	if l.LLM == nil {
		return fallback
	}
	prompt := fmt.Sprintf(
		"Original query: %s\n\nPropose 2-3 alternative search queries that would surface memories the original "+
			"query might miss. Reply with a single JSON object: {\"queries\": [string, ...], \"reasoning\": string}.",
		query,
	)
	reply, err := l.LLM.Generate(ctx, prompt, llm.Options{Temperature: l.Config.MultiQueryTemp})
	if err != nil {
		return fallback
	}
	raw, err := llmjson.Extract(reply)
	if err != nil {
		return fallback
	}
	var parsed refinedQueriesResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fallback
	}
	out := make([]string, 0, len(parsed.Queries))
	for _, q := range parsed.Queries {
		q = strings.TrimSpace(q)
		if len(q) < 5 || len(q) > 300 {
			continue
		}
		if q == query {
			continue
		}
		out = append(out, q)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// hybridMultiQuery runs retrieve_lightweight for every refined query in
// parallel (spec §4.5 step 5); a failing query is logged and skipped, not
// fatal to the round.
func (l *Loop) hybridMultiQuery(ctx context.Context, queries []string, opts retrieval.Options, topK int) []model.Candidate {
	results := make([][]model.Candidate, len(queries))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			o := opts
			o.RetrievalMode = model.ModeRRF
			if o.DataSource == "" {
				o.DataSource = model.SourceEpisode
			}
			o.TopK = topK
			res, err := l.Engine.RetrieveLightweight(gctx, q, o)
			if err != nil {
				observability.LoggerWithTrace(gctx).Warn().Err(err).Str("query", q).Msg("agentic round2 query failed")
				return nil
			}
			mu.Lock()
			results[i] = res.Memories
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var out []model.Candidate
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

// mergeByEventID dedupes round2 against round1 by EventID, appending up to
// total-len(round1) uniques after round1 while preserving round1's order
// (spec §4.5 step 6).
func mergeByEventID(round1, round2 []model.Candidate, total int) []model.Candidate {
	seen := make(map[string]struct{}, len(round1))
	out := make([]model.Candidate, 0, total)
	for _, c := range round1 {
		seen[c.EventID] = struct{}{}
		out = append(out, c)
	}
	for _, c := range round2 {
		if len(out) >= total {
			break
		}
		if _, ok := seen[c.EventID]; ok {
			continue
		}
		seen[c.EventID] = struct{}{}
		out = append(out, c)
	}
	return out
}

func formatDocument(i int, c model.Candidate) string {
	content := c.Episode
	if content == "" && len(c.AtomicFact) > 0 {
		content = strings.Join(c.AtomicFact, "; ")
	}
	if content == "" {
		content = c.Summary
	}
	return fmt.Sprintf("[memory %d]\ntime: %s\ncontent: %s\nrelevance: %.4f", i+1, c.Timestamp.Format(time.RFC3339), content, c.Score)
}
