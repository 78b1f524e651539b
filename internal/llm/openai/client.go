// Package openai adapts the OpenAI chat-completions API to llm.Provider.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"evermemcore/internal/config"
	"evermemcore/internal/llm"
	"evermemcore/internal/observability"
)

// Client is a thin, non-streaming, non-tool-calling wrapper over the OpenAI
// SDK client, sized to this domain's single-shot prompt/response needs.
type Client struct {
	sdk   sdk.Client
	model string
}

// New builds an OpenAI-backed Provider from the shared LLM configuration.
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
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.model),
		Messages: adaptMessages(msgs),
	}
	if opts.Temperature > 0 {
		params.Temperature = sdk.Float(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(opts.MaxTokens))
	}

	ctx, span := llm.StartRequestSpan(ctx, "OpenAI Chat", c.model, 0, len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)

	start := time.Now()
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", c.model).Dur("duration", dur).Msg("openai_chat_error")
		span.RecordError(err)
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(comp.Choices) == 0 {
		return "", fmt.Errorf("openai chat completion: empty choices")
	}
	llm.RecordTokenAttributes(span, int(comp.Usage.PromptTokens), int(comp.Usage.CompletionTokens), int(comp.Usage.TotalTokens))
	llm.RecordTokenMetrics(c.model, int(comp.Usage.PromptTokens), int(comp.Usage.CompletionTokens))
	out := comp.Choices[0].Message.Content
	llm.LogRedactedResponse(ctx, out)
	return out, nil
}

func adaptMessages(msgs []llm.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			out = append(out, sdk.SystemMessage(m.Content))
		case "assistant":
			out = append(out, sdk.AssistantMessage(m.Content))
		default:
			out = append(out, sdk.UserMessage(m.Content))
		}
	}
	return out
}
