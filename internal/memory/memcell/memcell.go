// Package memcell implements the MemCell Extractor (spec §4.2): it
// normalizes raw messages, runs boundary detection, and emits a closed
// MemCell once the detector signals the conversation has ended.
package memcell

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"evermemcore/internal/memory/boundary"
	"evermemcore/internal/memory/model"
)

// Detector is the subset of *boundary.Detector the extractor depends on.
type Detector interface {
	Detect(ctx context.Context, history, newMsgs []model.RawMessage) (boundary.Result, error)
}

// StatusResult reports whether the caller should keep buffering messages
// (spec §4.2 "StatusResult carries should_wait").
type StatusResult struct {
	ShouldWait bool
}

// Extractor runs the MemCell extraction algorithm over one group's
// accumulated history plus newly arrived messages.
type Extractor struct {
	detector Detector
	dataKind string
}

// New builds an Extractor. dataKind is the MemCell.Type value stamped on
// every emitted cell (e.g. "chat").
func New(detector Detector, dataKind string) *Extractor {
	return &Extractor{detector: detector, dataKind: dataKind}
}

// Extract runs preprocessing, boundary detection, and boundary-gated
// emission (spec §4.2). groupID/userIDList are the raw group/user context;
// history and newMsgs are unfiltered raw messages in arrival order.
func (e *Extractor) Extract(ctx context.Context, groupID string, userIDList []string, history, newMsgs []model.RawMessage) (*model.MemCell, StatusResult, error) {
	history = model.FilterSupported(history)
	newMsgs = model.FilterSupported(newMsgs)

	if len(history) == 0 || len(newMsgs) == 0 || strings.TrimSpace(newMsgs[len(newMsgs)-1].Content) == "" {
		return nil, StatusResult{ShouldWait: true}, nil
	}

	det, err := e.detector.Detect(ctx, history, newMsgs)
	if err != nil {
		return nil, StatusResult{}, fmt.Errorf("memcell: boundary detect: %w", err)
	}

	if det.ShouldEnd {
		cell := e.buildMemCell(groupID, userIDList, history, det.TopicSummary)
		return cell, StatusResult{ShouldWait: false}, nil
	}
	if det.ShouldWait {
		return nil, StatusResult{ShouldWait: true}, nil
	}
	return nil, StatusResult{ShouldWait: false}, nil
}

func (e *Extractor) buildMemCell(groupID string, userIDList []string, history []model.RawMessage, topicSummary string) *model.MemCell {
	last := history[len(history)-1]
	summary := topicSummary
	if summary == "" {
		summary = truncate(last.Content, 200)
	}
	return &model.MemCell{
		EventID:      uuid.NewString(),
		UserIDList:   userIDList,
		GroupID:      groupID,
		Participants: model.Participants(history),
		OriginalData: append([]model.RawMessage(nil), history...),
		Timestamp:    last.Timestamp,
		Type:         e.dataKind,
		Summary:      summary,
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
