// Package llmcap provides the uniform chat/generate/embed/rerank capability
// contract consumed by boundary detection, extraction, profile merge, and
// agentic retrieval (spec §6 "LLM capability contracts"). It adapts the
// multi-provider internal/llm package, the embedding client, and the rerank
// HTTP client behind one set of concurrency-bounded methods.
package llmcap

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"evermemcore/internal/config"
	"evermemcore/internal/llm"
	"evermemcore/internal/rag/embedder"
)

// Capability is the bundle of adapters handed to every pipeline stage that
// needs to talk to an LLM, embedding endpoint, or reranker.
type Capability struct {
	provider llm.Provider
	embedder embedder.Embedder
	reranker Reranker
	sem      *semaphore.Weighted
}

// New builds a Capability. maxConcurrentRequests bounds in-flight chat/
// generate calls (spec §5, default 5); the embedder and reranker enforce
// their own concurrency caps internally.
func New(provider llm.Provider, emb embedder.Embedder, rr Reranker, maxConcurrentRequests int) *Capability {
	if maxConcurrentRequests <= 0 {
		maxConcurrentRequests = 5
	}
	return &Capability{
		provider: provider,
		embedder: emb,
		reranker: rr,
		sem:      semaphore.NewWeighted(int64(maxConcurrentRequests)),
	}
}

// Generate completes a single prompt, bounded by the LLM semaphore.
func (c *Capability) Generate(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("llmcap: acquire semaphore: %w", err)
	}
	defer c.sem.Release(1)
	return c.provider.Generate(ctx, prompt, opts)
}

// ChatWithMessages completes a structured conversation, bounded by the LLM
// semaphore.
func (c *Capability) ChatWithMessages(ctx context.Context, msgs []llm.Message, opts llm.Options) (string, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("llmcap: acquire semaphore: %w", err)
	}
	defer c.sem.Release(1)
	return c.provider.ChatWithMessages(ctx, msgs, opts)
}

// Embed returns a single embedding vector for text.
func (c *Capability) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := c.embedder.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("llmcap: expected 1 embedding, got %d", len(out))
	}
	return out[0], nil
}

// EmbedBatch returns one embedding per input text; the underlying embedder
// splits texts into batch_size chunks sent one after another. No concurrency
// cap applies to embedding calls.
func (c *Capability) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embedder.EmbedBatch(ctx, texts)
}

// Rerank scores documents against query; the underlying reranker handles
// batch_size chunking and its own concurrency cap.
func (c *Capability) Rerank(ctx context.Context, query string, documents []string, instruction string) ([]RerankResult, error) {
	return c.reranker.Rerank(ctx, query, documents, instruction)
}

// Build constructs a Capability from configuration and an already-built
// llm.Provider (google's needs a context to construct; the rest don't, so
// provider construction stays at the composition root via providers.Build).
func Build(cfg config.Config, provider llm.Provider) *Capability {
	emb := embedder.NewClient(cfg.Vectorize, 0)
	rr := NewReranker(cfg.Rerank)
	return New(provider, emb, rr, cfg.LLM.MaxConcurrentRequests)
}
