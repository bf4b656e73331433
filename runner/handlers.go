package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dhcgn/mail-triage/classify"
	"github.com/dhcgn/mail-triage/escalation"
	"github.com/dhcgn/mail-triage/model"
	"github.com/dhcgn/mail-triage/reply"
	"github.com/dhcgn/mail-triage/state"
	"github.com/dhcgn/mail-triage/stats"
)

type outcome int

const (
	// outcomeCommit records the message in the ledger.
	outcomeCommit outcome = iota
	// outcomeStop leaves the message uncommitted and ends the cycle.
	outcomeStop
)

func (r *Runner) handle(ctx context.Context, logger *slog.Logger, msg model.Message, d classify.Disposition) (outcome, error) {
	switch v := d.(type) {
	case classify.AutoReply:
		return r.handleAutoReply(ctx, logger, msg, v)
	case classify.ManualReview:
		return r.handleManualReview(ctx, logger, msg, v)
	case classify.Skip:
		return r.handleSkip(logger, msg, v)
	default:
		return 0, fmt.Errorf("unhandled disposition %T", d)
	}
}

func (r *Runner) handleAutoReply(ctx context.Context, logger *slog.Logger, msg model.Message, v classify.AutoReply) (outcome, error) {
	if strings.TrimSpace(v.HTMLBody) == "" {
		logger.Warn("auto-reply verdict without a body, nothing sent", "from", msg.From)
		r.deps.Printer.AutoReplyEmpty(msg)
		return outcomeCommit, nil
	}

	if err := r.send(ctx, logger, msg, reply.New(msg, v.HTMLBody)); err != nil {
		return 0, err
	}

	r.tag(ctx, logger, msg)
	r.markRead(ctx, logger, msg)

	logger.Info("auto-reply sent", "to", msg.From, "subject", msg.Subject)
	r.record(stats.Event{Type: stats.EventTypeAutoReplied, MessageID: msg.ID})
	r.deps.Printer.AutoReplied(msg)
	return outcomeCommit, nil
}

func (r *Runner) handleManualReview(ctx context.Context, logger *slog.Logger, msg model.Message, v classify.ManualReview) (outcome, error) {
	r.record(stats.Event{Type: stats.EventTypeEscalated, MessageID: msg.ID, Detail: v.Reason})

	text := v.AlertText
	if strings.TrimSpace(text) == "" {
		text = classify.DefaultAlert(msg, v.Reason)
	}
	callCtx, cancel := r.callContext(ctx)
	if err := r.deps.Alerter.Post(callCtx, text); err != nil {
		logger.Error("alert delivery failed", "err", err)
	}
	cancel()

	logger.Info("manual review required", "from", msg.From, "reason", v.Reason)
	r.deps.Printer.Escalated(msg, v.Reason)

	decision := r.deps.Gate.Prompt(ctx, msg, v.Reason)
	logger.Debug("operator decision", "decision", decision.Kind)

	switch decision.Kind {
	case escalation.DecisionStop:
		return outcomeStop, nil
	case escalation.DecisionReply:
		if err := r.send(ctx, logger, msg, reply.New(msg, reply.FromText(decision.Text))); err != nil {
			return 0, err
		}
		r.markRead(ctx, logger, msg)
		logger.Info("operator reply sent", "to", msg.From)
		r.record(stats.Event{Type: stats.EventTypeManualReplied, MessageID: msg.ID})
		r.deps.Printer.ManualReplied(msg)
		return outcomeCommit, nil
	default:
		r.record(stats.Event{Type: stats.EventTypeSkipped, MessageID: msg.ID, Detail: "left for manual handling"})
		r.deps.Printer.Skipped(msg, "left for manual handling")
		return outcomeCommit, nil
	}
}

func (r *Runner) handleSkip(logger *slog.Logger, msg model.Message, v classify.Skip) (outcome, error) {
	logger.Info("message skipped", "from", msg.From, "reason", v.Reason)
	r.record(stats.Event{Type: stats.EventTypeSkipped, MessageID: msg.ID, Detail: v.Reason})
	r.deps.Printer.Skipped(msg, v.Reason)
	return outcomeCommit, nil
}

// send delivers rep unless the same reply to the same message was already
// delivered.
func (r *Runner) send(ctx context.Context, logger *slog.Logger, msg model.Message, rep model.Reply) error {
	digest := state.Digest(msg.ID, rep.To, rep.HTMLBody)
	if r.deps.Replies != nil && r.deps.Replies.Seen(digest) {
		logger.Warn("identical reply already sent, not sending again", "to", rep.To)
		return nil
	}

	callCtx, cancel := r.callContext(ctx)
	defer cancel()
	if err := r.deps.Mailbox.Send(callCtx, rep); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}

	if r.deps.Replies != nil {
		if err := r.deps.Replies.Record(digest); err != nil {
			logger.Error("reply guard write failed", "err", err)
		}
	}
	return nil
}

func (r *Runner) tag(ctx context.Context, logger *slog.Logger, msg model.Message) {
	if r.opts.Label == "" {
		return
	}
	callCtx, cancel := r.callContext(ctx)
	defer cancel()
	if err := r.deps.Mailbox.Tag(callCtx, msg.ID, r.opts.Label); err != nil {
		logger.Warn("tagging failed", "label", r.opts.Label, "err", err)
	}
}

func (r *Runner) markRead(ctx context.Context, logger *slog.Logger, msg model.Message) {
	callCtx, cancel := r.callContext(ctx)
	defer cancel()
	if err := r.deps.Mailbox.MarkRead(callCtx, msg.ID); err != nil {
		logger.Warn("mark read failed", "err", err)
	}
}
