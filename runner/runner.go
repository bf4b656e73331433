package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/dhcgn/mail-triage/alert"
	"github.com/dhcgn/mail-triage/classify"
	"github.com/dhcgn/mail-triage/escalation"
	"github.com/dhcgn/mail-triage/filter"
	"github.com/dhcgn/mail-triage/model"
	"github.com/dhcgn/mail-triage/progress"
	"github.com/dhcgn/mail-triage/state"
	"github.com/dhcgn/mail-triage/stats"
)

const (
	DefaultCallTimeout = 30 * time.Second
	DefaultLabel       = "AUTO_REPLIED"
)

// Mailbox is the support inbox the pipeline reads from and replies through.
type Mailbox interface {
	// FetchUnread drops IDs for which skip reports true before keeping the
	// newest max, so handled mail left unread cannot crowd out new mail.
	FetchUnread(ctx context.Context, max int, skip func(id string) bool) ([]model.Message, error)
	Send(ctx context.Context, reply model.Reply) error
	Tag(ctx context.Context, id, label string) error
	MarkRead(ctx context.Context, id string) error
}

type Classifier interface {
	Classify(ctx context.Context, msg model.Message) (classify.Disposition, error)
}

type Alerter interface {
	Post(ctx context.Context, text string) error
}

type Gate interface {
	Prompt(ctx context.Context, msg model.Message, reason string) escalation.Decision
}

type Prefilter interface {
	Check(msg model.Message) (bool, filter.Rule)
}

// Options control the polling loop.
type Options struct {
	MaxMessages int
	Label       string
	CallTimeout time.Duration
	Interval    time.Duration
	// Schedule is a cron expression. It takes precedence over Interval.
	Schedule string
	Once     bool
}

// Deps are the collaborators of a Runner. Mailbox, Classifier and Ledger are
// required.
type Deps struct {
	Mailbox    Mailbox
	Classifier Classifier
	Ledger     state.Ledger
	Alerter    Alerter
	Gate       Gate
	Prefilter  Prefilter
	Replies    *state.ReplyGuard
	Stats      *stats.Collector
	Printer    *progress.Printer
}

// Cycle reports the outcome of one poll.
type Cycle struct {
	ID         string
	Fetched    int
	Duplicates int
	Handled    int
	Failed     int
	Stopped    bool
}

type Runner struct {
	opts     Options
	deps     Deps
	schedule cron.Schedule
	logger   *slog.Logger
	reporter *stats.Reporter
}

func New(opts Options, deps Deps, logger *slog.Logger) (*Runner, error) {
	if deps.Mailbox == nil {
		return nil, errors.New("mailbox is required")
	}
	if deps.Classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 10
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	opts.Label = strings.TrimSpace(opts.Label)

	schedule, err := ParseSchedule(opts.Schedule, opts.Interval)
	if err != nil {
		return nil, err
	}

	if deps.Alerter == nil {
		deps.Alerter = alert.Discard{Logger: logger}
	}
	if deps.Gate == nil {
		deps.Gate = escalation.NewGate(escalation.Surface{}, logger)
	}
	if deps.Prefilter == nil {
		f, err := filter.New(filter.Options{})
		if err != nil {
			return nil, err
		}
		deps.Prefilter = f
	}
	if deps.Stats == nil {
		deps.Stats = stats.NewCollector()
	}
	if deps.Printer == nil {
		deps.Printer = progress.New(io.Discard, false)
	}

	return &Runner{
		opts:     opts,
		deps:     deps,
		schedule: schedule,
		logger:   logger,
		reporter: stats.NewReporter(deps.Stats, logger),
	}, nil
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule returns the poll schedule. An empty expr polls every interval.
func ParseSchedule(expr string, interval time.Duration) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return cron.Every(interval), nil
	}
	schedule, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return schedule, nil
}

func (r *Runner) Stats() *stats.Collector {
	return r.deps.Stats
}

// Run polls until the operator stops the automation or ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("triage loop started", "maxMessages", r.opts.MaxMessages, "interval", r.opts.Interval, "schedule", r.opts.Schedule, "once", r.opts.Once)
	defer func() {
		r.reporter.Log("triage summary")
		r.deps.Printer.Summary(r.reporter.Summary(), time.Since(r.reporter.Started()))
	}()

	for {
		start := time.Now()
		cycle := r.RunOnce(ctx)

		if cycle.Stopped {
			// the gate also reports stop when a signal interrupts the prompt
			if ctx.Err() != nil {
				r.logger.Info("shutdown requested", "cycle", cycle.ID)
			} else {
				r.logger.Info("automation stopped by operator", "cycle", cycle.ID)
			}
			return nil
		}
		if r.opts.Once || ctx.Err() != nil {
			return nil
		}

		wait := r.nextWait(start, time.Now())
		r.deps.Printer.Cycle(cycle.Fetched, cycle.Handled, wait)
		r.logger.Debug("waiting for next poll", "cycle", cycle.ID, "wait", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("shutdown requested")
			return nil
		case <-timer.C:
		}
	}
}

func (r *Runner) nextWait(start, now time.Time) time.Duration {
	wait := r.schedule.Next(start).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// RunOnce fetches unread mail and handles every message that is not in the
// ledger yet.
func (r *Runner) RunOnce(ctx context.Context) Cycle {
	cycle := Cycle{ID: uuid.NewString()[:8]}
	logger := r.logger.With("cycle", cycle.ID)
	defer r.deps.Stats.CycleDone()

	callCtx, cancel := r.callContext(ctx)
	messages, err := r.deps.Mailbox.FetchUnread(callCtx, r.opts.MaxMessages, r.deps.Ledger.IsProcessed)
	cancel()
	if err != nil {
		logger.Error("fetch unread failed", "err", err)
		r.record(stats.Event{Type: stats.EventTypeError, Err: fmt.Errorf("fetch: %w", err)})
		return cycle
	}

	cycle.Fetched = len(messages)
	logger.Info("poll complete", "fetched", len(messages))

	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		r.record(stats.Event{Type: stats.EventTypeFetched, MessageID: msg.ID})

		if r.deps.Ledger.IsProcessed(msg.ID) {
			cycle.Duplicates++
			r.record(stats.Event{Type: stats.EventTypeDuplicate, MessageID: msg.ID})
			continue
		}

		msgLogger := logger.With("messageID", msg.ID)
		result, err := r.process(ctx, msgLogger, msg)
		if err != nil {
			cycle.Failed++
			msgLogger.Error("message processing failed", "from", msg.From, "subject", msg.Subject, "err", err)
			r.record(stats.Event{Type: stats.EventTypeError, MessageID: msg.ID, Err: err})
			r.deps.Printer.Failed(msg, err)
			continue
		}

		if result == outcomeStop {
			cycle.Stopped = true
			break
		}

		r.commit(msgLogger, msg)
		cycle.Handled++
	}

	logger.Info("cycle complete", "fetched", cycle.Fetched, "duplicates", cycle.Duplicates, "handled", cycle.Handled, "failed", cycle.Failed, "stopped", cycle.Stopped, "processedTotal", r.deps.Ledger.Len())
	return cycle
}

// process runs one message through pre-filter, classification and its
// handler. Panics are returned as errors.
func (r *Runner) process(ctx context.Context, logger *slog.Logger, msg model.Message) (result outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	if ok, rule := r.deps.Prefilter.Check(msg); !ok {
		logger.Info("message pre-filtered", "from", msg.From, "rule", rule)
		r.record(stats.Event{Type: stats.EventTypePrefiltered, MessageID: msg.ID, Detail: string(rule)})
		r.deps.Printer.Prefiltered(msg, string(rule))
		return outcomeCommit, nil
	}

	callCtx, cancel := r.callContext(ctx)
	verdict, err := r.deps.Classifier.Classify(callCtx, msg)
	cancel()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, ctxErr
	}
	if err != nil {
		logger.Warn("classification failed, escalating", "err", err)
		r.record(stats.Event{Type: stats.EventTypeFallback, MessageID: msg.ID, Err: err})
	}
	verdict = classify.Resolve(msg, verdict, err)
	logger.Debug("message classified", "action", verdict.Action())

	return r.handle(ctx, logger, msg, verdict)
}

func (r *Runner) commit(logger *slog.Logger, msg model.Message) {
	if err := r.deps.Ledger.MarkProcessed(msg.ID); err != nil {
		logger.Error("ledger write failed", "err", err)
	}
	r.record(stats.Event{Type: stats.EventTypeCommitted, MessageID: msg.ID})
}

func (r *Runner) record(evt stats.Event) {
	r.deps.Stats.Record(evt)
}

func (r *Runner) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.opts.CallTimeout)
}
