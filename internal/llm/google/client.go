// Package google adapts the Gemini generateContent API to llm.Provider.
package google

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"evermemcore/internal/config"
	"evermemcore/internal/llm"
	"evermemcore/internal/observability"
)

// Client wraps the Google genai SDK client for single-shot chat completions.
type Client struct {
	sdk   *genai.Client
	model string
}

// New builds a Gemini-backed Provider from the shared LLM configuration.
func New(ctx context.Context, cfg config.LLMConfig, httpClient *http.Client) (*Client, error) {
	ccfg := &genai.ClientConfig{APIKey: cfg.APIKey, HTTPClient: httpClient}
	c, err := genai.NewClient(ctx, ccfg)
	if err != nil {
		return nil, fmt.Errorf("google genai new client: %w", err)
	}
	return &Client{sdk: c, model: cfg.Model}, nil
}

func (c *Client) Generate(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	return c.ChatWithMessages(ctx, []llm.Message{{Role: "user", Content: prompt}}, opts)
}

func (c *Client) ChatWithMessages(ctx context.Context, msgs []llm.Message, opts llm.Options) (string, error) {
	log := observability.LoggerWithTrace(ctx)

	genCfg := &genai.GenerateContentConfig{}
	if opts.Temperature > 0 {
		t := float32(opts.Temperature)
		genCfg.Temperature = &t
	}
	if opts.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if system := systemPrompt(msgs); system != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	ctx, span := llm.StartRequestSpan(ctx, "Gemini GenerateContent", c.model, 0, len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)

	start := time.Now()
	resp, err := c.sdk.Models.GenerateContent(ctx, c.model, adaptContents(msgs), genCfg)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", c.model).Dur("duration", dur).Msg("gemini_generate_error")
		span.RecordError(err)
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	out := resp.Text()
	if resp.UsageMetadata != nil {
		llm.RecordTokenAttributes(span, int(resp.UsageMetadata.PromptTokenCount), int(resp.UsageMetadata.CandidatesTokenCount), int(resp.UsageMetadata.TotalTokenCount))
		llm.RecordTokenMetrics(c.model, int(resp.UsageMetadata.PromptTokenCount), int(resp.UsageMetadata.CandidatesTokenCount))
	}
	llm.LogRedactedResponse(ctx, out)
	return out, nil
}

func systemPrompt(msgs []llm.Message) string {
	for _, m := range msgs {
		if strings.EqualFold(m.Role, "system") {
			return m.Content
		}
	}
	return ""
}

func adaptContents(msgs []llm.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		if strings.EqualFold(m.Role, "system") {
			continue
		}
		role := genai.RoleUser
		if strings.EqualFold(m.Role, "assistant") {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}
	return out
}
