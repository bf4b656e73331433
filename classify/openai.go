package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

type openAIBackend struct {
	client    *openai.Client
	model     string
	maxTokens int64
}

func newOpenAIBackend(cfg BackendConfig) *openAIBackend {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := openai.NewClient(opts...)
	return &openAIBackend{client: &client, model: cfg.Model, maxTokens: int64(cfg.MaxTokens)}
}

func (o *openAIBackend) Name() string {
	return string(ProviderOpenAI) + "/" + o.model
}

func (o *openAIBackend) Submit(ctx context.Context, system, input string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(input),
		},
		Temperature:         openai.Float(defaultTemperature),
		MaxCompletionTokens: openai.Int(o.maxTokens),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty response from openai")
	}
	return text, nil
}
