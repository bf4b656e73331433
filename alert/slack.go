package alert

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/slack-go/slack"
)

// SlackMaxLen is the longest text posted to a Slack incoming webhook.
const SlackMaxLen = 3000

type Slack struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewSlack(webhookURL string, logger *slog.Logger) (*Slack, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("slack: webhook URL is empty")
	}
	return &Slack{url: webhookURL, client: http.DefaultClient, logger: logger}, nil
}

func (s *Slack) Post(ctx context.Context, text string) error {
	msg := &slack.WebhookMessage{Text: Truncate(text, SlackMaxLen)}
	if err := slack.PostWebhookCustomHTTPContext(ctx, s.url, s.client, msg); err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	if s.logger != nil {
		s.logger.Info("slack alert sent")
	}
	return nil
}
