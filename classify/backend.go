package classify

import (
	"context"
	"fmt"
	"strings"
)

// Provider names a supported language model API.
type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

const (
	defaultTemperature = 0.1
	defaultMaxTokens   = 2048
)

// BackendConfig configures a Backend.
type BackendConfig struct {
	Provider  Provider
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

// DefaultModel returns the model used when none is configured.
func DefaultModel(p Provider) string {
	switch p {
	case ProviderAnthropic:
		return "claude-haiku-4-5-20251001"
	case ProviderOpenAI:
		return "gpt-4o-mini"
	default:
		return "gemini-2.0-flash"
	}
}

var modelPrefixes = map[Provider][]string{
	ProviderGemini:    {"gemini-", "models/gemini-"},
	ProviderAnthropic: {"claude-"},
	ProviderOpenAI:    {"gpt-", "o1", "o3", "o4"},
}

// ResolveModel picks the configured model, then the prompt frontmatter model
// when it belongs to p, then the provider default.
func ResolveModel(p Provider, configured, frontmatter string) string {
	if m := strings.TrimSpace(configured); m != "" {
		return m
	}
	fm := strings.ToLower(strings.TrimSpace(frontmatter))
	for _, prefix := range modelPrefixes[p] {
		if strings.HasPrefix(fm, prefix) {
			return strings.TrimSpace(frontmatter)
		}
	}
	return DefaultModel(p)
}

// NewBackend creates the Backend for cfg.Provider.
func NewBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%s API key is required", cfg.Provider)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel(cfg.Provider)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	switch cfg.Provider {
	case ProviderGemini, "":
		cfg.Provider = ProviderGemini
		return newGeminiBackend(ctx, cfg)
	case ProviderAnthropic:
		return newAnthropicBackend(cfg), nil
	case ProviderOpenAI:
		return newOpenAIBackend(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}
