// groupextract.go implements the LLM-driving half of GroupProfile
// extraction (spec §4.3.4): two independent analysis calls (content,
// behavior), each with one retry and a fallback to the existing profile on
// failure, feeding the pure MergeTopics/MergeRoles merge in
// group_profile.go.
package profile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"evermemcore/internal/llm"
	"evermemcore/internal/memory/llmjson"
	"evermemcore/internal/memory/model"
)

// GroupProfileExtractor runs the content/behavior analysis pass.
type GroupProfileExtractor struct {
	gen       Generator
	maxTopics int
}

// NewGroupProfileExtractor builds a GroupProfileExtractor. maxTopics <= 0
// defaults to 20.
func NewGroupProfileExtractor(gen Generator, maxTopics int) *GroupProfileExtractor {
	if maxTopics <= 0 {
		maxTopics = 20
	}
	return &GroupProfileExtractor{gen: gen, maxTopics: maxTopics}
}

type topicWire struct {
	OldTopicID string   `json:"old_topic_id"`
	UpdateType string   `json:"update_type"`
	Name       string   `json:"name"`
	Summary    string   `json:"summary"`
	Status     string   `json:"status"`
	Confidence string   `json:"confidence"`
	Evidences  []string `json:"evidences"`
}

type contentAnalysisResponse struct {
	Topics  []topicWire `json:"topics"`
	Summary string      `json:"summary"`
	Subject string      `json:"subject"`
}

type roleWire struct {
	Role       string   `json:"role"`
	UserID     string   `json:"user_id"`
	UserName   string   `json:"user_name"`
	Confidence string   `json:"confidence"`
	Evidences  []string `json:"evidences"`
}

type behaviorAnalysisResponse struct {
	Roles []roleWire `json:"roles"`
}

// Extract produces an updated GroupProfile from cells, falling back to
// historical's half on a parse/generation failure in either call (spec
// §4.3.4 "failure falls back to the existing profile").
func (x *GroupProfileExtractor) Extract(ctx context.Context, groupID string, cells []*model.MemCell, historical *model.GroupProfile) (*model.GroupProfile, error) {
	conversationText, _ := BuildConversationText(cells, nil)
	bc := NewBatchContext(cells)

	if historical == nil {
		historical = &model.GroupProfile{GroupID: groupID, Roles: map[string][]model.RoleAssignment{}}
	}

	var content *contentAnalysisResponse
	var behavior *behaviorAnalysisResponse
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		content = x.runContentAnalysis(gctx, conversationText)
		return nil
	})
	g.Go(func() error {
		behavior = x.runBehaviorAnalysis(gctx, conversationText)
		return nil
	})
	_ = g.Wait() // both halves self-recover to nil on failure; never fatal

	merged := &model.GroupProfile{
		GroupID:                 groupID,
		Subject:                 historical.Subject,
		Summary:                 historical.Summary,
		Topics:                  historical.Topics,
		Roles:                   historical.Roles,
		GroupImportanceEvidence: historical.GroupImportanceEvidence,
	}

	if content != nil {
		updates := make([]TopicUpdate, 0, len(content.Topics))
		for _, t := range content.Topics {
			updates = append(updates, TopicUpdate{
				OldTopicID: t.OldTopicID,
				UpdateType: t.UpdateType,
				Name:       t.Name,
				Summary:    t.Summary,
				Status:     model.TopicStatus(t.Status),
				Confidence: model.Confidence(t.Confidence),
				Evidences:  formatEvidenceIDs(t.Evidences, bc),
			})
		}
		merged.Topics = MergeTopics(historical.Topics, updates, bc, "", x.maxTopics, func() string { return uuid.NewString() })
		if content.Summary != "" {
			merged.Summary = content.Summary
		}
		if content.Subject != "" {
			merged.Subject = content.Subject
		}
	}

	if behavior != nil {
		updates := make([]RoleUpdate, 0, len(behavior.Roles))
		for _, r := range behavior.Roles {
			updates = append(updates, RoleUpdate{
				Role:       r.Role,
				UserID:     r.UserID,
				UserName:   r.UserName,
				Confidence: model.Confidence(r.Confidence),
				Evidences:  formatEvidenceIDs(r.Evidences, bc),
			})
		}
		merged.Roles = MergeRoles(historical.Roles, updates, bc)
	}

	return merged, nil
}

func (x *GroupProfileExtractor) runContentAnalysis(ctx context.Context, conversationText string) *contentAnalysisResponse {
	prompt := fmt.Sprintf(
		"Analyze the group conversation below for discussion topics and an overall subject/summary.\n\nConversation:\n%s\n\n"+
			`Respond with a single JSON object: {"topics": [{"old_topic_id": string (set only if update_type=update), "update_type": "new"|"update", "name": string, "summary": string, "status": "exploring"|"implementing"|"implemented", "confidence": "strong"|"weak", "evidences": [conversation_id, ...]}], "summary": string, "subject": string}`,
		conversationText,
	)
	for attempt := 0; attempt < 2; attempt++ {
		reply, err := x.gen.Generate(ctx, prompt, llm.Options{})
		if err != nil {
			continue
		}
		obj, err := llmjson.Extract(reply)
		if err != nil {
			continue
		}
		var resp contentAnalysisResponse
		if err := json.Unmarshal(obj, &resp); err != nil {
			continue
		}
		return &resp
	}
	return nil
}

func (x *GroupProfileExtractor) runBehaviorAnalysis(ctx context.Context, conversationText string) *behaviorAnalysisResponse {
	prompt := fmt.Sprintf(
		"Analyze the group conversation below to assign participant roles.\n\nConversation:\n%s\n\n"+
			`Respond with a single JSON object: {"roles": [{"role": string, "user_id": string, "user_name": string, "confidence": "strong"|"weak", "evidences": [conversation_id, ...]}]}`,
		conversationText,
	)
	for attempt := 0; attempt < 2; attempt++ {
		reply, err := x.gen.Generate(ctx, prompt, llm.Options{})
		if err != nil {
			continue
		}
		obj, err := llmjson.Extract(reply)
		if err != nil {
			continue
		}
		var resp behaviorAnalysisResponse
		if err := json.Unmarshal(obj, &resp); err != nil {
			continue
		}
		return &resp
	}
	return nil
}
