package alert

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// DiscordMaxLen keeps alerts below Discord's 2000 character message limit.
const DiscordMaxLen = 1900

// webhookExecutor abstracts the discordgo.Session method we use, enabling test mocks.
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type Discord struct {
	exec   webhookExecutor
	id     string
	token  string
	logger *slog.Logger
}

// NewDiscord creates a notifier for a https://discord.com/api/webhooks/{id}/{token} URL.
func NewDiscord(webhookURL string, logger *slog.Logger) (*Discord, error) {
	id, token, err := parseDiscordWebhook(webhookURL)
	if err != nil {
		return nil, err
	}
	// webhook execution needs no bot token
	sess, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	return &Discord{exec: sess, id: id, token: token, logger: logger}, nil
}

func (d *Discord) Post(ctx context.Context, text string) error {
	params := &discordgo.WebhookParams{Content: Truncate(text, DiscordMaxLen)}
	if _, err := d.exec.WebhookExecute(d.id, d.token, true, params, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: execute webhook: %w", err)
	}
	if d.logger != nil {
		d.logger.Info("discord alert sent")
	}
	return nil
}

func parseDiscordWebhook(webhookURL string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(webhookURL))
	if err != nil {
		return "", "", fmt.Errorf("discord: parse webhook URL: %w", err)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range parts {
		if part == "webhooks" && i+2 < len(parts) && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("discord: webhook URL %q has no /webhooks/{id}/{token} path", u.Redacted())
}
