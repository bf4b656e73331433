package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dhcgn/mail-triage/model"
)

const (
	defaultReason     = "Unknown reason"
	defaultSkipReason = "not a support email"
	previewLimit      = 500
)

// Backend submits one classification request to a language model and returns
// the raw response text.
type Backend interface {
	Name() string
	Submit(ctx context.Context, system, input string) (string, error)
}

// ErrorKind distinguishes the ways a classification can fail.
type ErrorKind string

const (
	KindCall          ErrorKind = "call"
	KindUnparseable   ErrorKind = "unparseable"
	KindUnknownAction ErrorKind = "unknown_action"
)

// ClassificationError reports a failed classification for one message.
type ClassificationError struct {
	MessageID string
	Kind      ErrorKind
	Err       error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classify message %s (%s): %v", e.MessageID, e.Kind, e.Err)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

// Classifier turns a message into a Disposition using a Backend.
type Classifier struct {
	backend Backend
	prompts Prompts
	logger  *slog.Logger
}

func New(backend Backend, prompts Prompts, logger *slog.Logger) (*Classifier, error) {
	if backend == nil {
		return nil, errors.New("classifier backend is nil")
	}
	if strings.TrimSpace(prompts.System) == "" {
		return nil, errors.New("system prompt is empty")
	}
	return &Classifier{backend: backend, prompts: prompts, logger: logger}, nil
}

type request struct {
	EmailID                 string `json:"email_id"`
	FromEmail               string `json:"from_email"`
	Subject                 string `json:"subject"`
	Body                    string `json:"body"`
	SupportGuideline        string `json:"support_guideline"`
	SupportGuidelineContent string `json:"support_guideline_content"`
}

type verdict struct {
	Action         Action `json:"action"`
	Reason         string `json:"reason"`
	ReplyHTML      string `json:"reply_html"`
	AlertText      string `json:"alert_text"`
	DiscordMessage string `json:"discord_message"`
}

// Classify submits msg to the backend and parses the verdict. Failures are
// returned as *ClassificationError.
func (c *Classifier) Classify(ctx context.Context, msg model.Message) (Disposition, error) {
	payload, err := json.Marshal(request{
		EmailID:                 msg.ID,
		FromEmail:               msg.From,
		Subject:                 msg.Subject,
		Body:                    msg.Body,
		SupportGuidelineContent: c.prompts.Guideline,
	})
	if err != nil {
		return nil, &ClassificationError{MessageID: msg.ID, Kind: KindCall, Err: fmt.Errorf("encode request: %w", err)}
	}

	if c.logger != nil {
		c.logger.Debug("classifying message", "messageID", msg.ID, "backend", c.backend.Name(), "subject", msg.Subject)
	}

	raw, err := c.backend.Submit(ctx, c.prompts.System, string(payload))
	if err != nil {
		return nil, &ClassificationError{MessageID: msg.ID, Kind: KindCall, Err: err}
	}

	d, err := Parse(msg, raw)
	if err != nil {
		return nil, err
	}

	if c.logger != nil {
		c.logger.Info("classified message", "messageID", msg.ID, "action", d.Action())
	}
	return d, nil
}

// Parse converts a raw model response into a Disposition.
func Parse(msg model.Message, raw string) (Disposition, error) {
	cleaned := stripFences(raw)

	var v verdict
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return nil, &ClassificationError{
			MessageID: msg.ID,
			Kind:      KindUnparseable,
			Err:       fmt.Errorf("non-JSON response: %w (raw: %q)", err, truncate(cleaned, 300)),
		}
	}

	switch v.Action {
	case ActionAutoReply:
		return AutoReply{HTMLBody: v.ReplyHTML}, nil
	case ActionSkip:
		reason := v.Reason
		if reason == "" {
			reason = defaultSkipReason
		}
		return Skip{Reason: reason}, nil
	case ActionManualReview:
		reason := v.Reason
		if reason == "" {
			reason = defaultReason
		}
		alertText := v.AlertText
		if alertText == "" {
			alertText = v.DiscordMessage
		}
		if alertText == "" {
			alertText = DefaultAlert(msg, reason)
		}
		return ManualReview{Reason: reason, AlertText: alertText}, nil
	default:
		return nil, &ClassificationError{
			MessageID: msg.ID,
			Kind:      KindUnknownAction,
			Err:       fmt.Errorf("unexpected action %q", v.Action),
		}
	}
}

// Resolve maps a classification result to the disposition the pipeline acts on.
// Any error becomes a manual review.
func Resolve(msg model.Message, d Disposition, err error) Disposition {
	if err != nil || d == nil {
		if err == nil {
			err = errors.New("empty verdict")
		}
		return Fallback(msg, err)
	}
	return d
}

// Fallback builds the manual-review disposition used when classification failed.
func Fallback(msg model.Message, err error) ManualReview {
	return ManualReview{
		Reason:    "AI processing error: " + err.Error(),
		AlertText: DefaultAlert(msg, "AI processing error"),
	}
}

// DefaultAlert formats the operator alert for msg.
func DefaultAlert(msg model.Message, reason string) string {
	preview, _ := msg.Preview(previewLimit)
	return fmt.Sprintf("🚨 Manual Review Required\nFrom: %s\nSubject: %s\nReason: %s\nPreview: %s",
		msg.From, msg.Subject, reason, preview)
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
