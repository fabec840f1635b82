package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/echodial/echodial/pkg/config"
)

// Message is one turn of an LLM conversation.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

type Response struct {
	Content      string
	FinishReason string
}

type Options struct {
	MaxTokens   int
	Temperature float64
}

// LLMProvider is the reasoning collaborator behind both the live
// conversation and post-call knowledge extraction.
type LLMProvider interface {
	Chat(ctx context.Context, system string, messages []Message, model string, opts Options) (*Response, error)
}

// InferProviderFromModel infers a provider label from a model identifier.
func InferProviderFromModel(model string) string {
	m := strings.TrimSpace(strings.ToLower(model))
	switch {
	case m == "":
		return "unknown"
	case strings.Contains(m, "claude"):
		return "anthropic"
	case strings.Contains(m, "gpt") || strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4"):
		return "openai"
	default:
		return "unknown"
	}
}

// CreateProviderForModel builds the provider that serves model, based on the
// configured API keys.
func CreateProviderForModel(cfg *config.Config, model string) (LLMProvider, error) {
	switch InferProviderFromModel(model) {
	case "anthropic":
		if cfg.Providers.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("model %s requires providers.anthropic.api_key", model)
		}
		return NewAnthropicProvider(cfg.Providers.Anthropic.APIKey, cfg.Providers.Anthropic.APIBase), nil
	case "openai":
		if cfg.Providers.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("model %s requires providers.openai.api_key", model)
		}
		return NewOpenAIProvider(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase), nil
	default:
		return nil, fmt.Errorf("no provider configured for model %s", model)
	}
}
