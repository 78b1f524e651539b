package episode

import (
	"context"
	"errors"
	"testing"
	"time"

	"evermemcore/internal/llm"
	"evermemcore/internal/memory/model"
)

type fakeGen struct {
	replies []string
	calls   int
	embed   []float32
	embedErr error
}

func (f *fakeGen) Generate(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	if f.calls >= len(f.replies) {
		return "", errors.New("no more replies")
	}
	r := f.replies[f.calls]
	f.calls++
	return r, nil
}

func (f *fakeGen) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	if f.embed != nil {
		return f.embed, nil
	}
	return []float32{0.1, 0.2}, nil
}

func testCell() *model.MemCell {
	return &model.MemCell{
		EventID:      "evt-1",
		Participants: []string{"u1", "u2"},
		Timestamp:    time.Date(2026, 1, 1, 15, 4, 0, 0, time.UTC),
	}
}

func TestExtract_GroupEpisodeSuccess(t *testing.T) {
	gen := &fakeGen{replies: []string{
		`{"title": "planning the launch", "summary": "team discusses launch plan", "content": "The team met to discuss the launch."}`,
	}}
	e := New(gen, "test-model", time.UTC)

	ep, err := e.Extract(context.Background(), testCell(), "", `[{"speaker":"u1"}]`, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep.Subject != "planning the launch" {
		t.Fatalf("unexpected subject: %q", ep.Subject)
	}
	if ep.UserID != "" {
		t.Fatal("expected group episode with empty UserID")
	}
	if len(ep.MemcellEventIDList) != 1 || ep.MemcellEventIDList[0] != "evt-1" {
		t.Fatalf("unexpected memcell event id list: %v", ep.MemcellEventIDList)
	}
	if len(ep.Extend.Embedding) == 0 {
		t.Fatal("expected an embedding")
	}
	if ep.Extend.VectorModel != "test-model" {
		t.Fatalf("unexpected vector model: %q", ep.Extend.VectorModel)
	}
}

func TestExtract_PersonalEpisodeSetsUserID(t *testing.T) {
	gen := &fakeGen{replies: []string{
		`{"title": "u1's perspective on the launch", "summary": "", "content": "From u1's perspective, the launch went well, indeed quite well, very well."}`,
	}}
	e := New(gen, "m", time.UTC)

	ep, err := e.Extract(context.Background(), testCell(), "u1", "[]", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep.UserID != "u1" {
		t.Fatalf("expected UserID u1, got %q", ep.UserID)
	}
	if ep.Summary == "" {
		t.Fatal("expected summary fallback from content")
	}
}

func TestExtract_MissingTitleOrContentRetriesThenFails(t *testing.T) {
	gen := &fakeGen{replies: []string{
		`{"title": "", "summary": "x", "content": ""}`,
		`{"title": "", "summary": "x", "content": ""}`,
		`{"title": "", "summary": "x", "content": ""}`,
		`{"title": "", "summary": "x", "content": ""}`,
		`{"title": "", "summary": "x", "content": ""}`,
	}}
	e := New(gen, "m", time.UTC)

	_, err := e.Extract(context.Background(), testCell(), "", "[]", "")
	if err == nil {
		t.Fatal("expected failure after exhausting retries with missing title/content")
	}
	if gen.calls != 5 {
		t.Fatalf("expected 5 attempts, got %d", gen.calls)
	}
}

func TestExtract_RetriesOnParseFailure(t *testing.T) {
	gen := &fakeGen{replies: []string{
		"garbage",
		`{"title": "recovered title", "summary": "ok", "content": "recovered content"}`,
	}}
	e := New(gen, "m", time.UTC)

	ep, err := e.Extract(context.Background(), testCell(), "", "[]", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep.Subject != "recovered title" {
		t.Fatalf("unexpected subject: %q", ep.Subject)
	}
}

func TestExtract_EmbedFailurePropagates(t *testing.T) {
	gen := &fakeGen{
		replies:  []string{`{"title": "t", "summary": "s", "content": "c"}`},
		embedErr: errors.New("embed down"),
	}
	e := New(gen, "m", time.UTC)
	_, err := e.Extract(context.Background(), testCell(), "", "[]", "")
	if err == nil {
		t.Fatal("expected embed error to propagate")
	}
}
