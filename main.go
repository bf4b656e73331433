package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-triage/alert"
	"github.com/dhcgn/mail-triage/classify"
	subcommands "github.com/dhcgn/mail-triage/cmd"
	"github.com/dhcgn/mail-triage/config"
	"github.com/dhcgn/mail-triage/escalation"
	"github.com/dhcgn/mail-triage/filter"
	"github.com/dhcgn/mail-triage/mailbox"
	"github.com/dhcgn/mail-triage/mbox"
	"github.com/dhcgn/mail-triage/progress"
	"github.com/dhcgn/mail-triage/runner"
	"github.com/dhcgn/mail-triage/state"
	"github.com/dhcgn/mail-triage/stats"
	"github.com/dhcgn/mail-triage/status"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "mail-triage",
		Short:        "Classify unread support mail with a language model and act on the verdict",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting mail-triage", "provider", cfg.Provider, "source", source(cfg), "dryRun", cfg.DryRun, "stateDir", cfg.StateDir)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}

	stateDir, err := config.DefaultStateDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve state directory: %v\n", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(subcommands.NewPrefilterStatsCommand(), subcommands.NewLedgerCommand(stateDir))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func source(cfg config.Config) string {
	if cfg.MboxPath != "" {
		return "mbox:" + cfg.MboxPath
	}
	return fmt.Sprintf("imap:%s@%s:%d/%s", cfg.User, cfg.IMAPHost, cfg.IMAPPort, cfg.Folder)
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	prompts, err := classify.LoadPrompts(cfg.PromptPath, cfg.GuidelinePath)
	if err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}

	provider := classify.Provider(cfg.Provider)
	backend, err := classify.NewBackend(ctx, classify.BackendConfig{
		Provider: provider,
		APIKey:   cfg.APIKey,
		Model:    classify.ResolveModel(provider, cfg.Model, prompts.Meta.Model),
	})
	if err != nil {
		return fmt.Errorf("classify.NewBackend: %w", err)
	}
	classifier, err := classify.New(backend, prompts, logger)
	if err != nil {
		return fmt.Errorf("classify.New: %w", err)
	}
	logger.Info("classifier ready", "backend", backend.Name(), "prompt", prompts.Meta.Name)

	mb, err := openMailbox(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if src, ok := mb.(*mbox.Source); ok {
		defer func() {
			logger.Info("mbox replay finished", "replies", src.Sent(), "tagged", src.Tagged(), "outbox", cfg.Outbox)
		}()
	}
	if cfg.DryRun {
		mb = runner.DryRunMailbox{Mailbox: mb, Logger: logger}
	}

	var ledger state.Ledger = state.NewMemoryLedger()
	if !cfg.DryRun {
		fileLedger, err := state.NewFileLedger(cfg.StateDir, logger)
		if err != nil {
			return fmt.Errorf("state ledger: %w", err)
		}
		ledger = fileLedger
	}

	replies, err := state.NewReplyGuard(cfg.StateDir, 0, !cfg.DryRun, logger)
	if err != nil {
		return fmt.Errorf("reply guard: %w", err)
	}

	var alerter runner.Alerter = alert.Discard{Logger: logger}
	if !cfg.DryRun {
		alerter, err = alert.New(alert.Kind(cfg.AlertKind), cfg.AlertWebhook, logger)
		if err != nil {
			return fmt.Errorf("alert.New: %w", err)
		}
	}

	prefilter, err := filter.New(filter.Options{ExcludeSender: cfg.ExcludeSender})
	if err != nil {
		return fmt.Errorf("filter.New: %w", err)
	}

	gate := escalation.NewGate(escalation.DetectSurface(cfg.Headless), logger)
	if !gate.Interactive() {
		logger.Warn("no interactive terminal, manual reviews are alerted and left in the inbox")
	}

	collector := stats.NewCollector()
	r, err := runner.New(runner.Options{
		MaxMessages: cfg.MaxMessages,
		Label:       cfg.Label,
		CallTimeout: cfg.CallTimeout,
		Interval:    cfg.PollInterval,
		Schedule:    cfg.Schedule,
		Once:        cfg.Once,
	}, runner.Deps{
		Mailbox:    mb,
		Classifier: classifier,
		Ledger:     ledger,
		Alerter:    alerter,
		Gate:       gate,
		Prefilter:  prefilter,
		Replies:    replies,
		Stats:      collector,
		Printer:    newPrinter(os.Stdout),
	}, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}

	if cfg.StatusAddr != "" {
		router := status.NewRouter(collector, ledger, cfg.DryRun, time.Now())
		go func() {
			if err := status.Serve(ctx, cfg.StatusAddr, router, logger); err != nil {
				logger.Error("status endpoint failed", "err", err)
			}
		}()
	}

	return r.Run(ctx)
}

// newPrinter writes the per-message summary lines at every log level.
func newPrinter(out io.Writer) *progress.Printer {
	return progress.New(out, true)
}

func openMailbox(ctx context.Context, cfg config.Config, logger *slog.Logger) (runner.Mailbox, error) {
	if cfg.MboxPath != "" {
		src, err := mbox.Open(mbox.Options{Path: cfg.MboxPath, Outbox: cfg.Outbox, From: cfg.User}, logger)
		if err != nil {
			return nil, fmt.Errorf("mbox.Open: %w", err)
		}
		return src, nil
	}

	client, err := mailbox.New(mailbox.Options{
		IMAPHost:           cfg.IMAPHost,
		IMAPPort:           cfg.IMAPPort,
		SMTPHost:           cfg.SMTPHost,
		SMTPPort:           cfg.SMTPPort,
		Username:           cfg.User,
		Password:           cfg.Password,
		UseTLS:             cfg.UseTLS,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		Folder:             cfg.Folder,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("mailbox.New: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()
	if err := client.Verify(verifyCtx); err != nil {
		return nil, fmt.Errorf("mailbox login: %w", err)
	}
	logger.Info("mailbox login verified", "user", client.Address())
	return client, nil
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("mail-triage-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
