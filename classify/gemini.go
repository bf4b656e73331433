package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type geminiBackend struct {
	client    *genai.Client
	model     string
	maxTokens int32
}

func newGeminiBackend(ctx context.Context, cfg BackendConfig) (*geminiBackend, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &geminiBackend{client: client, model: cfg.Model, maxTokens: int32(cfg.MaxTokens)}, nil
}

func (g *geminiBackend) Name() string {
	return string(ProviderGemini) + "/" + g.model
}

func (g *geminiBackend) Submit(ctx context.Context, system, input string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(input), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr[float32](defaultTemperature),
		MaxOutputTokens:   g.maxTokens,
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("empty response from gemini")
	}
	return text, nil
}
