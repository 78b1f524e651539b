// Package eventlog implements the EventLog extractor (spec §4.3.2):
// atomic-fact extraction over an episode's narrative text, each fact
// embedded individually for retrieval.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"evermemcore/internal/llm"
	"evermemcore/internal/memory/llmjson"
	"evermemcore/internal/memory/model"
)

// Generator is the subset of llmcap.Capability an Extractor needs.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts llm.Options) (string, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Extractor runs the EventLog extraction algorithm.
type Extractor struct {
	gen        Generator
	maxRetries int
}

// New builds an Extractor.
func New(gen Generator) *Extractor {
	return &Extractor{gen: gen, maxRetries: 5}
}

// Extract produces an EventLog from episodeText and timestamp, or nil if
// the LLM never returns a well-formed result after retries.
func (e *Extractor) Extract(ctx context.Context, episodeText string, timestamp time.Time) (*model.EventLog, error) {
	formatted := formatEventLogTime(timestamp)
	prompt := buildPrompt(episodeText, formatted)

	var lastErr error
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		reply, err := e.gen.Generate(ctx, prompt, llm.Options{})
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := parseEventLogResponse(reply)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Time == "" || len(resp.AtomicFact) == 0 {
			lastErr = fmt.Errorf("eventlog: response missing time or atomic_fact")
			continue
		}

		embeddings, err := e.gen.EmbedBatch(ctx, resp.AtomicFact)
		if err != nil {
			return nil, fmt.Errorf("eventlog: embed atomic facts: %w", err)
		}
		if len(embeddings) != len(resp.AtomicFact) {
			return nil, fmt.Errorf("eventlog: embedding count %d != atomic fact count %d", len(embeddings), len(resp.AtomicFact))
		}
		return &model.EventLog{Time: resp.Time, AtomicFact: resp.AtomicFact, FactEmbeddings: embeddings}, nil
	}
	return nil, fmt.Errorf("eventlog: extract failed after %d attempts: %w", e.maxRetries, lastErr)
}

type eventLogWire struct {
	Time       string   `json:"time"`
	AtomicFact []string `json:"atomic_fact"`
}

type eventLogResponse struct {
	EventLog eventLogWire `json:"event_log"`
}

func parseEventLogResponse(reply string) (eventLogWire, error) {
	obj, err := llmjson.Extract(reply)
	if err != nil {
		return eventLogWire{}, err
	}
	var r eventLogResponse
	if err := json.Unmarshal(obj, &r); err != nil {
		return eventLogWire{}, fmt.Errorf("eventlog: parse response: %w", err)
	}
	return r.EventLog, nil
}

func buildPrompt(episodeText, formattedTime string) string {
	return fmt.Sprintf(
		"Extract self-contained atomic facts from the narrative below. The narrative took place %s.\n\nNarrative:\n%s\n\n"+
			`Respond with a single JSON object: {"event_log": {"time": %q, "atomic_fact": [string, ...]}}`,
		formattedTime, episodeText, formattedTime,
	)
}

// formatEventLogTime renders t as "MONTH DD, YYYY(WEEKDAY) at HH:MM AM/PM".
func formatEventLogTime(t time.Time) string {
	month := t.Format("January")
	weekday := t.Format("Monday")
	return fmt.Sprintf("%s %02d, %d(%s) at %s", month, t.Day(), t.Year(), weekday, t.Format("03:04 PM"))
}
