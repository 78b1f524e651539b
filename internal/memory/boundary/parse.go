package boundary

import (
	"encoding/json"
	"fmt"

	"evermemcore/internal/memory/llmjson"
)

type boundaryResponse struct {
	ShouldEnd    bool    `json:"should_end"`
	ShouldWait   bool    `json:"should_wait"`
	Reasoning    string  `json:"reasoning"`
	Confidence   float64 `json:"confidence"`
	TopicSummary string  `json:"topic_summary"`
}

// parseBoundaryResponse extracts the first outer JSON object from an LLM
// reply (spec §4.1 step 5: "Parse the first outer JSON object from the
// reply").
func parseBoundaryResponse(reply string) (Result, error) {
	obj, err := llmjson.FirstObject(reply)
	if err != nil {
		return Result{}, err
	}
	var r boundaryResponse
	if err := json.Unmarshal(obj, &r); err != nil {
		return Result{}, fmt.Errorf("boundary: parse response: %w", err)
	}
	return Result{
		ShouldEnd:    r.ShouldEnd,
		ShouldWait:   r.ShouldWait,
		Reasoning:    r.Reasoning,
		Confidence:   r.Confidence,
		TopicSummary: r.TopicSummary,
	}, nil
}
