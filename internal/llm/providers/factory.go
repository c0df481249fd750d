package providers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/scholiabot/core/internal/config"
	"github.com/scholiabot/core/internal/llm"
	"github.com/scholiabot/core/internal/llm/anthropic"
	"github.com/scholiabot/core/internal/llm/google"
	openaillm "github.com/scholiabot/core/internal/llm/openai"
)

// Build constructs an llm.Provider for the given model spec. The provider
// name drives which SDK client is wired up; everything else (model, API key,
// base URL) comes from the spec itself so the same constructor serves both
// the Gateway's primary and fallback roles.
func Build(spec config.ModelSpec, httpClient *http.Client) (llm.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(spec.Provider)) {
	case "", "openai":
		return openaillm.New(spec.AsOpenAI("completions", false, nil), httpClient), nil
	case "openai-responses":
		return openaillm.New(spec.AsOpenAI("responses", false, nil), httpClient), nil
	case "local":
		return openaillm.New(spec.AsOpenAI("completions", false, nil), httpClient), nil
	case "anthropic":
		return anthropic.New(spec.AsAnthropic(config.AnthropicPromptCacheConfig{}, nil), httpClient), nil
	case "google", "gemini":
		return google.New(spec.AsGoogle(0), httpClient)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", spec.Provider)
	}
}
