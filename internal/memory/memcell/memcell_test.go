package memcell

import (
	"context"
	"errors"
	"testing"
	"time"

	"evermemcore/internal/memory/boundary"
	"evermemcore/internal/memory/model"
)

type fakeDetector struct {
	result boundary.Result
	err    error
}

func (f fakeDetector) Detect(context.Context, []model.RawMessage, []model.RawMessage) (boundary.Result, error) {
	return f.result, f.err
}

func msg(speaker, content string, t time.Time, mt model.MsgType) model.RawMessage {
	return model.RawMessage{SpeakerID: speaker, SpeakerName: speaker, Content: content, Timestamp: t, MsgType: mt}
}

func TestExtract_EmptyHistoryWaits(t *testing.T) {
	e := New(fakeDetector{}, "chat")
	cell, status, err := e.Extract(context.Background(), "g1", []string{"u1"}, nil, []model.RawMessage{msg("u1", "hi", time.Now(), model.MsgTypeText)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cell != nil {
		t.Fatal("expected no cell")
	}
	if !status.ShouldWait {
		t.Fatal("expected should_wait=true")
	}
}

func TestExtract_EndEmitsMemCell(t *testing.T) {
	history := []model.RawMessage{
		msg("u1", "hello", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC), model.MsgTypeText),
		msg("u2", "world", time.Date(2026, 1, 1, 10, 1, 0, 0, time.UTC), model.MsgTypeText),
	}
	det := fakeDetector{result: boundary.Result{ShouldEnd: true, TopicSummary: "greeting exchange"}}
	e := New(det, "chat")

	newMsgs := []model.RawMessage{msg("u1", "bye", time.Date(2026, 1, 1, 10, 2, 0, 0, time.UTC), model.MsgTypeText)}
	cell, status, err := e.Extract(context.Background(), "g1", []string{"u1", "u2"}, history, newMsgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.ShouldWait {
		t.Fatal("expected should_wait=false")
	}
	if cell == nil {
		t.Fatal("expected a MemCell")
	}
	if cell.Summary != "greeting exchange" {
		t.Fatalf("unexpected summary: %q", cell.Summary)
	}
	if cell.EventID == "" {
		t.Fatal("expected a generated event id")
	}
	if len(cell.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(cell.Participants))
	}
	if cell.Timestamp != history[1].Timestamp {
		t.Fatalf("expected timestamp of last history message")
	}
}

func TestExtract_WaitReturnsNoCell(t *testing.T) {
	history := []model.RawMessage{msg("u1", "hello", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC), model.MsgTypeText)}
	det := fakeDetector{result: boundary.Result{ShouldWait: true}}
	e := New(det, "chat")

	cell, status, err := e.Extract(context.Background(), "g1", []string{"u1"}, history, []model.RawMessage{msg("u1", "[image]", time.Now(), model.MsgTypePicture)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cell != nil {
		t.Fatal("expected no cell on wait")
	}
	if !status.ShouldWait {
		t.Fatal("expected should_wait=true")
	}
}

func TestExtract_NewMsgsFilteredToEmptyWaits(t *testing.T) {
	history := []model.RawMessage{msg("u1", "hello", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC), model.MsgTypeText)}
	// Detect should never be consulted: after filtering, newMsgs is empty.
	det := fakeDetector{err: errors.New("detect should not be called")}
	e := New(det, "chat")

	unsupported := []model.RawMessage{msg("u1", "sticker", time.Now(), model.MsgType(99))}
	cell, status, err := e.Extract(context.Background(), "g1", []string{"u1"}, history, unsupported)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cell != nil {
		t.Fatal("expected no cell when new messages filter to empty")
	}
	if !status.ShouldWait {
		t.Fatal("expected should_wait=true")
	}
}

func TestExtract_SummaryFallsBackToTruncatedLastMessage(t *testing.T) {
	longContent := ""
	for i := 0; i < 250; i++ {
		longContent += "a"
	}
	history := []model.RawMessage{msg("u1", longContent, time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC), model.MsgTypeText)}
	det := fakeDetector{result: boundary.Result{ShouldEnd: true}}
	e := New(det, "chat")

	newMsgs := []model.RawMessage{msg("u1", "next", time.Date(2026, 1, 1, 10, 1, 0, 0, time.UTC), model.MsgTypeText)}
	cell, _, err := e.Extract(context.Background(), "g1", []string{"u1"}, history, newMsgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len([]rune(cell.Summary)) != 200 {
		t.Fatalf("expected 200-char truncated summary, got %d chars", len([]rune(cell.Summary)))
	}
}

func TestBuffer_AppendPendingDrain(t *testing.T) {
	b := NewBuffer()
	b.Append("g1", msg("u1", "a", time.Now(), model.MsgTypeText))
	b.Append("g1", msg("u2", "b", time.Now(), model.MsgTypeText))

	if got := b.Pending("g1"); len(got) != 2 {
		t.Fatalf("expected 2 pending messages, got %d", len(got))
	}

	drained := b.Drain("g1")
	if len(drained) != 2 {
		t.Fatalf("expected 2 drained messages, got %d", len(drained))
	}
	if got := b.Pending("g1"); len(got) != 0 {
		t.Fatalf("expected buffer cleared after drain, got %d", len(got))
	}
}

func TestBuffer_ClearDiscardsWithoutReturning(t *testing.T) {
	b := NewBuffer()
	b.Append("g1", msg("u1", "a", time.Now(), model.MsgTypeText))
	b.Clear("g1")
	if got := b.Pending("g1"); len(got) != 0 {
		t.Fatalf("expected buffer cleared, got %d", len(got))
	}
}
