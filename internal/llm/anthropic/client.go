// Package anthropic adapts the Anthropic Messages API to llm.Provider.
package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"evermemcore/internal/config"
	"evermemcore/internal/llm"
	"evermemcore/internal/observability"
)

// Client wraps the Anthropic SDK client for single-shot chat completions.
type Client struct {
	sdk   sdk.Client
	model string
}

// New builds an Anthropic-backed Provider from the shared LLM configuration.
func New(cfg config.LLMConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithHTTPClient(httpClient)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{sdk: sdk.NewClient(opts...), model: cfg.Model}
}

func (c *Client) Generate(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	return c.ChatWithMessages(ctx, []llm.Message{{Role: "user", Content: prompt}}, opts)
}

func (c *Client) ChatWithMessages(ctx context.Context, msgs []llm.Message, opts llm.Options) (string, error) {
	log := observability.LoggerWithTrace(ctx)

	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: maxTokens,
		Messages:  adaptMessages(msgs),
	}
	if system := systemPrompt(msgs); system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if opts.Temperature > 0 {
		params.Temperature = sdk.Float(opts.Temperature)
	}

	ctx, span := llm.StartRequestSpan(ctx, "Anthropic Messages", c.model, 0, len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)

	start := time.Now()
	resp, err := c.sdk.Messages.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", c.model).Dur("duration", dur).Msg("anthropic_messages_error")
		span.RecordError(err)
		return "", fmt.Errorf("anthropic messages.new: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if text := block.Text; text != "" {
			sb.WriteString(text)
		}
	}
	llm.RecordTokenAttributes(span, int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens), int(resp.Usage.InputTokens+resp.Usage.OutputTokens))
	llm.RecordTokenMetrics(c.model, int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))
	out := sb.String()
	llm.LogRedactedResponse(ctx, out)
	return out, nil
}

// systemPrompt pulls the first system-role message out of msgs, since the
// Anthropic API carries the system prompt as a top-level field rather than
// as a conversation turn.
func systemPrompt(msgs []llm.Message) string {
	for _, m := range msgs {
		if strings.EqualFold(m.Role, "system") {
			return m.Content
		}
	}
	return ""
}

func adaptMessages(msgs []llm.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		if strings.EqualFold(m.Role, "system") {
			continue
		}
		block := sdk.NewTextBlock(m.Content)
		if strings.EqualFold(m.Role, "assistant") {
			out = append(out, sdk.NewAssistantMessage(block))
		} else {
			out = append(out, sdk.NewUserMessage(block))
		}
	}
	return out
}
