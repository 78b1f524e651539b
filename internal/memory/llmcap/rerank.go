package llmcap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"evermemcore/internal/config"
)

// RerankResult is one scored document from a Reranker call, per spec §6
// `rerank(query, documents, instruction?) -> [{index, relevance_score, rank}]`.
type RerankResult struct {
	Index          int
	RelevanceScore float64
	Rank           int
}

// Reranker scores documents against a query.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, instruction string) ([]RerankResult, error)
}

const defaultInstruction = "Given a question and a passage, determine if the passage contains information relevant to answering the question."

// httpReranker calls a DeepInfra- or vLLM-hosted Qwen reranker. Documents and
// query are formatted Qwen-Reranker style (spec §6) and dispatched in
// batch_size chunks in parallel; a failed batch degrades to a pass-through
// score of 0 for just that batch rather than failing the whole call.
type httpReranker struct {
	cfg    config.RerankConfig
	client *http.Client
}

// NewReranker constructs a Reranker calling the configured rerank endpoint.
func NewReranker(cfg config.RerankConfig) Reranker {
	return &httpReranker{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (r *httpReranker) Rerank(ctx context.Context, query string, documents []string, instruction string) ([]RerankResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	if instruction == "" {
		instruction = defaultInstruction
	}
	batchSize := r.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	scores := make([]float64, len(documents))
	var batches [][2]int // [start, end)
	for i := 0; i < len(documents); i += batchSize {
		end := i + batchSize
		if end > len(documents) {
			end = len(documents)
		}
		batches = append(batches, [2]int{i, end})
	}

	maxConcurrent := r.cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for _, b := range batches {
		b := b
		g.Go(func() error {
			batchScores, err := r.scoreBatch(gctx, query, documents[b[0]:b[1]], instruction)
			if err != nil {
				// tolerant gather: leave this batch's scores at zero rather
				// than failing the whole rerank call.
				return nil
			}
			for i, s := range batchScores {
				scores[b[0]+i] = s
			}
			return nil
		})
	}
	_ = g.Wait()

	results := make([]RerankResult, len(documents))
	for i, s := range scores {
		results[i] = RerankResult{Index: i, RelevanceScore: s}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
	for rank := range results {
		results[rank].Rank = rank
	}
	return results, nil
}

func (r *httpReranker) scoreBatch(ctx context.Context, query string, documents []string, instruction string) ([]float64, error) {
	queries, formattedDocs := formatRerankTexts(query, documents, instruction)

	var reqBody any
	url := r.cfg.BaseURL
	if r.cfg.Provider == "vllm" {
		reqBody = vllmRerankRequest{Model: r.cfg.Model, Text1: queries, Text2: formattedDocs}
	} else {
		url = url + "/" + r.cfg.Model
		reqBody = deepinfraRerankRequest{Queries: queries, Documents: formattedDocs}
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	var lastErr error
	maxRetries := r.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if r.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
		}
		resp, err := r.client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(backoff(attempt))
			continue
		}
		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			time.Sleep(backoff(attempt))
			continue
		}
		if resp.StatusCode/100 != 2 {
			lastErr = fmt.Errorf("rerank API error (%s) %s: %s", r.cfg.Provider, resp.Status, string(respBody))
			time.Sleep(backoff(attempt))
			continue
		}
		return parseRerankResponse(r.cfg.Provider, respBody)
	}
	return nil, fmt.Errorf("rerank: retries exhausted: %w", lastErr)
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

// formatRerankTexts builds the Qwen-Reranker wire format: the query wrapped
// in a chat-template instruction preamble, one per document, and each
// document wrapped with the chat-template assistant-think suffix.
func formatRerankTexts(query string, documents []string, instruction string) (queries, formattedDocs []string) {
	const prefix = "<|im_start|>system\nJudge whether the Document meets the requirements based on the Query and the Instruct provided. Note that the answer can only be \"yes\" or \"no\".<|im_end|>\n<|im_start|>user\n"
	const suffix = "<|im_end|>\n<|im_start|>assistant\n<think>\n\n</think>\n\n"

	formattedQuery := fmt.Sprintf("%s<Instruct>: %s\n<Query>: %s\n", prefix, instruction, query)
	queries = make([]string, len(documents))
	formattedDocs = make([]string, len(documents))
	for i, doc := range documents {
		queries[i] = formattedQuery
		formattedDocs[i] = fmt.Sprintf("<Document>: %s%s", doc, suffix)
	}
	return queries, formattedDocs
}

type deepinfraRerankRequest struct {
	Queries   []string `json:"queries"`
	Documents []string `json:"documents"`
}

type vllmRerankRequest struct {
	Model string   `json:"model"`
	Text1 []string `json:"text_1"`
	Text2 []string `json:"text_2"`
}

type deepinfraRerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
	Scores []float64 `json:"scores"`
}

type vllmRerankResponse struct {
	Data []struct {
		Score float64 `json:"score"`
	} `json:"data"`
	Scores []float64 `json:"scores"`
}

func parseRerankResponse(provider string, body []byte) ([]float64, error) {
	if provider == "vllm" {
		var r vllmRerankResponse
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, err
		}
		if len(r.Data) > 0 {
			out := make([]float64, len(r.Data))
			for i, d := range r.Data {
				out[i] = d.Score
			}
			return out, nil
		}
		return r.Scores, nil
	}
	var r deepinfraRerankResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, err
	}
	if len(r.Results) > 0 {
		sort.Slice(r.Results, func(i, j int) bool { return r.Results[i].Index < r.Results[j].Index })
		out := make([]float64, len(r.Results))
		for i, item := range r.Results {
			out[i] = item.RelevanceScore
		}
		return out, nil
	}
	return r.Scores, nil
}
