package runner

import (
	"context"
	"log/slog"

	"github.com/dhcgn/mail-triage/model"
)

// DryRunMailbox reads from the wrapped mailbox but only logs replies, labels
// and read flags.
type DryRunMailbox struct {
	Mailbox
	Logger *slog.Logger
}

func (d DryRunMailbox) Send(_ context.Context, reply model.Reply) error {
	d.log("dry run: reply not sent", "to", reply.To, "subject", reply.Subject)
	return nil
}

func (d DryRunMailbox) Tag(_ context.Context, id, label string) error {
	d.log("dry run: label not applied", "messageID", id, "label", label)
	return nil
}

func (d DryRunMailbox) MarkRead(_ context.Context, id string) error {
	d.log("dry run: message not marked read", "messageID", id)
	return nil
}

func (d DryRunMailbox) log(msg string, args ...any) {
	if d.Logger != nil {
		d.Logger.Info(msg, args...)
	}
}
