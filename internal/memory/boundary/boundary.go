// Package boundary decides whether an in-flight conversation slice has
// closed (spec §4.1 "Boundary Detector").
package boundary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"evermemcore/internal/llm"
	"evermemcore/internal/memory/model"
)

// Result is the outcome of a boundary check.
type Result struct {
	ShouldEnd    bool
	ShouldWait   bool
	Reasoning    string
	Confidence   float64
	TopicSummary string
}

// Generator is the subset of llmcap.Capability a Detector needs.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts llm.Options) (string, error)
}

// Detector runs the boundary-detection algorithm of spec §4.1.
type Detector struct {
	gen        Generator
	maxRetries int
}

// New builds a Detector. maxRetries bounds JSON-parse retries (default 5).
func New(gen Generator, maxRetries int) *Detector {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Detector{gen: gen, maxRetries: maxRetries}
}

// Detect runs the full algorithm: immediate-start shortcut, placeholder/date
// tie-breaks, and the LLM call with retry on parse failure.
func (d *Detector) Detect(ctx context.Context, history, newMsgs []model.RawMessage) (Result, error) {
	if len(history) == 0 {
		return Result{ShouldEnd: false, ShouldWait: false}, nil
	}

	if allNonText(newMsgs) {
		return Result{ShouldEnd: false, ShouldWait: true, Reasoning: "all new messages are non-text placeholders"}, nil
	}

	if differentDates(history, newMsgs) {
		return Result{ShouldEnd: true, ShouldWait: false, Reasoning: "conversation date changed"}, nil
	}

	prompt := buildPrompt(history, newMsgs)

	var lastErr error
	for attempt := 0; attempt < d.maxRetries; attempt++ {
		reply, err := d.gen.Generate(ctx, prompt, llm.Options{})
		if err != nil {
			lastErr = err
			continue
		}
		parsed, err := parseBoundaryResponse(reply)
		if err != nil {
			lastErr = err
			continue
		}
		return enforceTieBreaks(parsed), nil
	}
	return Result{}, fmt.Errorf("boundary: detect failed after %d attempts: %w", d.maxRetries, lastErr)
}

// enforceTieBreaks applies the deterministic rules the detector enforces
// without trusting the LLM (spec §4.1 step 6): end wins over wait when both
// are set.
func enforceTieBreaks(r Result) Result {
	if r.ShouldEnd && r.ShouldWait {
		r.ShouldWait = false
	}
	return r
}

func allNonText(msgs []model.RawMessage) bool {
	if len(msgs) == 0 {
		return false
	}
	for _, m := range msgs {
		if m.MsgType == model.MsgTypeText {
			return false
		}
	}
	return true
}

func differentDates(history, newMsgs []model.RawMessage) bool {
	if len(history) == 0 || len(newMsgs) == 0 {
		return false
	}
	lastHist := history[len(history)-1].Timestamp
	firstNew := newMsgs[0].Timestamp
	return lastHist.Year() != firstNew.Year() || lastHist.YearDay() != firstNew.YearDay()
}

// buildPrompt formats history and new messages as dated dialogue lines and
// includes a human-readable description of the gap between them.
func buildPrompt(history, newMsgs []model.RawMessage) string {
	var b strings.Builder
	b.WriteString("Conversation history:\n")
	for _, m := range history {
		writeLine(&b, m)
	}
	b.WriteString("\nNew messages:\n")
	for _, m := range newMsgs {
		writeLine(&b, m)
	}
	if len(history) > 0 && len(newMsgs) > 0 {
		gap := newMsgs[0].Timestamp.Sub(history[len(history)-1].Timestamp)
		b.WriteString("\nTime gap since last history message: ")
		b.WriteString(describeGap(gap))
		b.WriteString("\n")
	}
	b.WriteString("\nDecide whether the conversation has ended. Respond with a single JSON object: ")
	b.WriteString(`{"should_end": bool, "should_wait": bool, "reasoning": string, "confidence": number, "topic_summary": string}`)
	return b.String()
}

func writeLine(b *strings.Builder, m model.RawMessage) {
	fmt.Fprintf(b, "[%s] %s: %s\n", m.Timestamp.Format(time.RFC3339), m.SpeakerName, m.Content)
}

// describeGap classifies a duration into seconds/minutes/hours/days buckets
// for the human-readable prompt text (spec §4.1 step 3).
func describeGap(gap time.Duration) string {
	switch {
	case gap < time.Minute:
		return fmt.Sprintf("%d seconds", int(gap.Seconds()))
	case gap < time.Hour:
		return fmt.Sprintf("%d minutes", int(gap.Minutes()))
	case gap < 24*time.Hour:
		return fmt.Sprintf("%d hours", int(gap.Hours()))
	default:
		return fmt.Sprintf("%d days", int(gap.Hours()/24))
	}
}
