package alert

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"unicode/utf8"
)

const truncationMarker = "\n... [truncated]"

// Notifier posts operator alerts to a chat channel.
type Notifier interface {
	Post(ctx context.Context, text string) error
}

// Kind selects the alert channel implementation.
type Kind string

const (
	KindAuto    Kind = "auto"
	KindDiscord Kind = "discord"
	KindSlack   Kind = "slack"
)

// New creates the notifier for webhookURL. KindAuto picks Slack for
// hooks.slack.com URLs and Discord otherwise.
func New(kind Kind, webhookURL string, logger *slog.Logger) (Notifier, error) {
	if strings.TrimSpace(webhookURL) == "" {
		return nil, fmt.Errorf("alert webhook URL is empty")
	}

	if kind == KindAuto || kind == "" {
		kind = detectKind(webhookURL)
	}

	switch kind {
	case KindDiscord:
		return NewDiscord(webhookURL, logger)
	case KindSlack:
		return NewSlack(webhookURL, logger)
	default:
		return nil, fmt.Errorf("unsupported alert kind %q", kind)
	}
}

func detectKind(webhookURL string) Kind {
	u, err := url.Parse(webhookURL)
	if err == nil && strings.EqualFold(u.Hostname(), "hooks.slack.com") {
		return KindSlack
	}
	return KindDiscord
}

// Truncate cuts text to at most limit bytes on a rune boundary and appends a
// marker when anything was dropped.
func Truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + truncationMarker
}

// Discard logs alerts instead of posting them.
type Discard struct {
	Logger *slog.Logger
}

func (d Discard) Post(_ context.Context, text string) error {
	if d.Logger != nil {
		d.Logger.Info("dry-run alert", "text", text)
	}
	return nil
}
