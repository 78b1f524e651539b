package llmcap

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"evermemcore/internal/llm"
)

type fakeProvider struct {
	mu        sync.Mutex
	inFlight  int32
	maxInFlight int32
	delay     time.Duration
}

func (f *fakeProvider) Generate(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	f.mu.Lock()
	if cur > f.maxInFlight {
		f.maxInFlight = cur
	}
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return "ok:" + prompt, nil
}

func (f *fakeProvider) ChatWithMessages(ctx context.Context, msgs []llm.Message, opts llm.Options) (string, error) {
	return "chat", nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}
func (fakeEmbedder) Name() string      { return "fake" }
func (fakeEmbedder) Dimension() int    { return 1 }
func (fakeEmbedder) Ping(context.Context) error { return nil }

type fakeReranker struct{}

func (fakeReranker) Rerank(ctx context.Context, query string, documents []string, instruction string) ([]RerankResult, error) {
	out := make([]RerankResult, len(documents))
	for i := range documents {
		out[i] = RerankResult{Index: i, RelevanceScore: float64(len(documents) - i), Rank: i}
	}
	return out, nil
}

func TestCapability_GenerateDelegates(t *testing.T) {
	c := New(&fakeProvider{}, fakeEmbedder{}, fakeReranker{}, 5)
	out, err := c.Generate(context.Background(), "hi", llm.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok:hi" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestCapability_SemaphoreBoundsConcurrency(t *testing.T) {
	fp := &fakeProvider{delay: 20 * time.Millisecond}
	c := New(fp, fakeEmbedder{}, fakeReranker{}, 2)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Generate(context.Background(), "x", llm.Options{})
		}()
	}
	wg.Wait()

	if fp.maxInFlight > 2 {
		t.Fatalf("expected at most 2 in-flight calls, observed %d", fp.maxInFlight)
	}
}

func TestCapability_EmbedSingle(t *testing.T) {
	c := New(&fakeProvider{}, fakeEmbedder{}, fakeReranker{}, 5)
	v, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(v) != 1 {
		t.Fatalf("expected 1-dim vector, got %d", len(v))
	}
}

func TestCapability_RerankDelegates(t *testing.T) {
	c := New(&fakeProvider{}, fakeEmbedder{}, fakeReranker{}, 5)
	results, err := c.Rerank(context.Background(), "q", []string{"a", "b", "c"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Rank != 0 || results[0].Index != 0 {
		t.Fatalf("expected first result to rank highest scoring document first: %+v", results[0])
	}
}

func TestCapability_GenerateRespectsCancellation(t *testing.T) {
	c := New(&fakeProvider{delay: time.Second}, fakeEmbedder{}, fakeReranker{}, 1)
	// Saturate the only slot, then cancel a second call waiting on it.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_, _ = c.Generate(context.Background(), "a", llm.Options{})
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	_, err := c.Generate(ctx, "b", llm.Options{})
	if err == nil {
		t.Fatal("expected context cancellation error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected wrapped context.Canceled, got %v", err)
	}
	<-done
}
