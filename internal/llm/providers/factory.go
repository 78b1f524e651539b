// Package providers selects and constructs the configured llm.Provider.
package providers

import (
	"context"
	"fmt"
	"net/http"

	"evermemcore/internal/config"
	"evermemcore/internal/llm"
	"evermemcore/internal/llm/anthropic"
	"evermemcore/internal/llm/google"
	openaillm "evermemcore/internal/llm/openai"
)

// Build constructs an llm.Provider for the configured LLM_PROVIDER.
func Build(ctx context.Context, cfg config.LLMConfig, httpClient *http.Client) (llm.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openaillm.New(cfg, httpClient), nil
	case "anthropic":
		return anthropic.New(cfg, httpClient), nil
	case "google":
		return google.New(ctx, cfg, httpClient)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}
