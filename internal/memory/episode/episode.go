// Package episode implements the Episode extractor (spec §4.3.1): a single
// prose narrative over one MemCell, personal (user_id set) or group
// (user_id empty).
package episode

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"evermemcore/internal/llm"
	"evermemcore/internal/memory/llmjson"
	"evermemcore/internal/memory/model"
)

// Generator is the subset of llmcap.Capability an Extractor needs for text
// generation and embedding.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts llm.Options) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Extractor runs the Episode extraction algorithm.
type Extractor struct {
	gen         Generator
	maxRetries  int
	vectorModel string
	loc         *time.Location
}

// New builds an Extractor. vectorModel is stamped on emitted embeddings
// (model.Extend.VectorModel); loc is the default TZ fallback for liberally
// parsed timestamps.
func New(gen Generator, vectorModel string, loc *time.Location) *Extractor {
	if loc == nil {
		loc = time.UTC
	}
	return &Extractor{gen: gen, maxRetries: 5, vectorModel: vectorModel, loc: loc}
}

// Extract produces an Episode for cell. userID is empty for a group episode,
// set for a personal episode from that user's point of view.
// conversationJSON is the conversation text formatted as JSON by the caller;
// customInstructions is optional extra guidance appended to the prompt.
func (e *Extractor) Extract(ctx context.Context, cell *model.MemCell, userID string, conversationJSON string, customInstructions string) (*model.Episode, error) {
	startTime := formatHumanTime(cell.Timestamp)
	prompt := buildPrompt(userID, conversationJSON, startTime, customInstructions)

	var lastErr error
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		reply, err := e.gen.Generate(ctx, prompt, llm.Options{})
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := parseEpisodeResponse(reply)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Title == "" || resp.Content == "" {
			lastErr = fmt.Errorf("episode: response missing title or content")
			continue
		}
		return e.buildEpisode(ctx, cell, userID, resp)
	}
	return nil, fmt.Errorf("episode: extract failed after %d attempts: %w", e.maxRetries, lastErr)
}

func (e *Extractor) buildEpisode(ctx context.Context, cell *model.MemCell, userID string, resp episodeResponse) (*model.Episode, error) {
	summary := resp.Summary
	if summary == "" {
		summary = truncate(resp.Content, 200)
	}
	ts := parseTimestampLiberal(cell.Timestamp, e.loc)

	ep := &model.Episode{
		UserID:             userID,
		Subject:            resp.Title,
		Summary:            summary,
		EpisodeText:        resp.Content,
		Participants:       cell.Participants,
		Timestamp:          ts,
		MemcellEventIDList: []string{cell.EventID},
	}

	vec, err := e.gen.Embed(ctx, resp.Content)
	if err != nil {
		return nil, fmt.Errorf("episode: embed content: %w", err)
	}
	ep.Extend = model.Extend{Embedding: vec, VectorModel: e.vectorModel}
	return ep, nil
}

type episodeResponse struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Content string `json:"content"`
}

func parseEpisodeResponse(reply string) (episodeResponse, error) {
	obj, err := llmjson.Extract(reply)
	if err != nil {
		return episodeResponse{}, err
	}
	var r episodeResponse
	if err := json.Unmarshal(obj, &r); err != nil {
		return episodeResponse{}, fmt.Errorf("episode: parse response: %w", err)
	}
	return r, nil
}

func buildPrompt(userID, conversationJSON, startTime, customInstructions string) string {
	mode := "group"
	if userID != "" {
		mode = "personal (from user " + userID + "'s point of view)"
	}
	prompt := fmt.Sprintf(
		"Write a %s episode narrative for the conversation below, which started at %s.\n\nConversation:\n%s\n\n"+
			`Respond with a single JSON object: {"title": string (10-20 words), "summary": string (<=200 chars), "content": string (detailed third-person narrative)}`,
		mode, startTime, conversationJSON,
	)
	if customInstructions != "" {
		prompt += "\n\nAdditional instructions: " + customInstructions
	}
	return prompt
}

// formatHumanTime renders t as an English human string, e.g.
// "January 2, 2026 at 3:04 PM".
func formatHumanTime(t time.Time) string {
	return t.Format("January 2, 2006 at 3:04 PM")
}

// parseTimestampLiberal accepts a time.Time as-is (Go's type system already
// rules out the int/float/string ambiguity the original dynamically-typed
// pipeline had to handle); it only needs the "now in default TZ" fallback
// for the zero value.
func parseTimestampLiberal(t time.Time, loc *time.Location) time.Time {
	if t.IsZero() {
		return time.Now().In(loc)
	}
	return t
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// parseNumericTimestamp is kept for callers that ingest timestamps from
// upstream systems as epoch strings before they reach model.RawMessage.
func parseNumericTimestamp(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(n, 0), nil
}
