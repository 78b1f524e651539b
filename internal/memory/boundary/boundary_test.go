package boundary

import (
	"context"
	"errors"
	"testing"
	"time"

	"evermemcore/internal/llm"
	"evermemcore/internal/memory/model"
)

func msg(speaker, content string, t time.Time, mt model.MsgType) model.RawMessage {
	return model.RawMessage{SpeakerID: speaker, SpeakerName: speaker, Content: content, Timestamp: t, MsgType: mt}
}

func TestDetect_EmptyHistoryIsImmediateStart(t *testing.T) {
	d := New(nil, 0)
	res, err := d.Detect(context.Background(), nil, []model.RawMessage{msg("a", "hi", time.Now(), model.MsgTypeText)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ShouldEnd || res.ShouldWait {
		t.Fatalf("expected no end/wait on empty history, got %+v", res)
	}
}

func TestDetect_AllPlaceholderForcesWait(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	history := []model.RawMessage{msg("a", "hello", base, model.MsgTypeText)}
	newMsgs := []model.RawMessage{msg("b", "[image]", base.Add(time.Minute), model.MsgTypePicture)}

	d := New(&erroringGenerator{}, 0)
	res, err := d.Detect(context.Background(), history, newMsgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.ShouldWait || res.ShouldEnd {
		t.Fatalf("expected should_wait=true, should_end=false, got %+v", res)
	}
}

func TestDetect_DateChangeForcesEnd(t *testing.T) {
	history := []model.RawMessage{msg("a", "hello", time.Date(2026, 1, 1, 23, 59, 0, 0, time.UTC), model.MsgTypeText)}
	newMsgs := []model.RawMessage{msg("b", "hi again", time.Date(2026, 1, 2, 0, 1, 0, 0, time.UTC), model.MsgTypeText)}

	d := New(&erroringGenerator{}, 0)
	res, err := d.Detect(context.Background(), history, newMsgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.ShouldEnd || res.ShouldWait {
		t.Fatalf("expected should_end=true, should_wait=false, got %+v", res)
	}
}

func TestDetect_ParsesLLMJSONAndAppliesTieBreak(t *testing.T) {
	history := []model.RawMessage{msg("a", "hello", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC), model.MsgTypeText)}
	newMsgs := []model.RawMessage{msg("b", "bye", time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC), model.MsgTypeText)}

	gen := &scriptedGenerator{replies: []string{
		`noise before {"should_end": true, "should_wait": true, "reasoning": "done", "confidence": 0.9, "topic_summary": "wrap up"} trailing noise`,
	}}
	d := New(gen, 0)
	res, err := d.Detect(context.Background(), history, newMsgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.ShouldEnd {
		t.Fatal("expected should_end=true")
	}
	if res.ShouldWait {
		t.Fatal("expected should_wait forced to false when both true (end wins)")
	}
	if res.TopicSummary != "wrap up" {
		t.Fatalf("unexpected topic summary: %q", res.TopicSummary)
	}
}

func TestDetect_RetriesOnParseFailureThenSucceeds(t *testing.T) {
	history := []model.RawMessage{msg("a", "hello", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC), model.MsgTypeText)}
	newMsgs := []model.RawMessage{msg("b", "bye", time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC), model.MsgTypeText)}

	gen := &scriptedGenerator{replies: []string{
		"not json at all",
		`{"should_end": false, "should_wait": false, "reasoning": "ok", "confidence": 0.5, "topic_summary": ""}`,
	}}
	d := New(gen, 5)
	res, err := d.Detect(context.Background(), history, newMsgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ShouldEnd || res.ShouldWait {
		t.Fatalf("expected continue result, got %+v", res)
	}
	if gen.calls != 2 {
		t.Fatalf("expected 2 generate calls, got %d", gen.calls)
	}
}

func TestDetect_FailsAfterExhaustingRetries(t *testing.T) {
	history := []model.RawMessage{msg("a", "hello", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC), model.MsgTypeText)}
	newMsgs := []model.RawMessage{msg("b", "bye", time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC), model.MsgTypeText)}

	gen := &scriptedGenerator{replies: []string{"nope", "still nope", "nope again"}}
	d := New(gen, 3)
	_, err := d.Detect(context.Background(), history, newMsgs)
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
}

type erroringGenerator struct{}

func (erroringGenerator) Generate(context.Context, string, llm.Options) (string, error) {
	return "", errors.New("should not be called")
}

type scriptedGenerator struct {
	replies []string
	calls   int
}

func (g *scriptedGenerator) Generate(context.Context, string, llm.Options) (string, error) {
	if g.calls >= len(g.replies) {
		return "", errors.New("no more scripted replies")
	}
	r := g.replies[g.calls]
	g.calls++
	return r, nil
}
