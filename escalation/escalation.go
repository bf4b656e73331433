package escalation

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/pterm/pterm"
	"golang.org/x/term"

	"github.com/dhcgn/mail-triage/model"
)

const previewLimit = 500

// Surface describes where the operator is reached.
type Surface struct {
	Interactive bool
	In          io.Reader
	Out         io.Writer
}

// DetectSurface inspects stdin. headless forces a non-interactive surface.
func DetectSurface(headless bool) Surface {
	return Surface{
		Interactive: !headless && term.IsTerminal(int(os.Stdin.Fd())),
		In:          os.Stdin,
		Out:         os.Stdout,
	}
}

type DecisionKind int

const (
	// DecisionSkip leaves the message for manual handling in the mail client.
	DecisionSkip DecisionKind = iota
	// DecisionReply sends Decision.Text to the sender.
	DecisionReply
	// DecisionStop ends the pipeline after the current message.
	DecisionStop
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionReply:
		return "reply"
	case DecisionStop:
		return "stop"
	default:
		return "skip"
	}
}

// Decision is the operator's answer to an escalation.
type Decision struct {
	Kind DecisionKind
	Text string
}

type line struct {
	text string
	err  error
}

// Gate asks a human operator what to do with a message the classifier could
// not handle on its own.
type Gate struct {
	surface Surface
	logger  *slog.Logger

	startOnce sync.Once
	lines     chan line
}

func NewGate(surface Surface, logger *slog.Logger) *Gate {
	if surface.Out == nil {
		surface.Out = io.Discard
	}
	return &Gate{surface: surface, logger: logger}
}

// Interactive reports whether Prompt will wait for operator input.
func (g *Gate) Interactive() bool {
	return g.surface.Interactive && g.surface.In != nil
}

// Prompt shows msg to the operator and blocks until a decision is made. A
// headless surface always yields DecisionSkip. Cancelling ctx yields
// DecisionStop.
func (g *Gate) Prompt(ctx context.Context, msg model.Message, reason string) Decision {
	if !g.Interactive() {
		if g.logger != nil {
			g.logger.Warn("non-interactive mode, auto-skipping manual review", "messageID", msg.ID)
		}
		return Decision{Kind: DecisionSkip}
	}

	g.render(msg, reason)
	g.startOnce.Do(g.startReader)

	var collected []string
	for {
		var (
			l  line
			ok bool
		)
		select {
		case <-ctx.Done():
			return Decision{Kind: DecisionStop}
		case l, ok = <-g.lines:
		}
		if !ok {
			return Decision{Kind: DecisionSkip}
		}
		if l.err != nil {
			if !errors.Is(l.err, io.EOF) && g.logger != nil {
				g.logger.Warn("operator input failed", "messageID", msg.ID, "err", l.err)
			}
			return Decision{Kind: DecisionSkip}
		}

		switch strings.ToLower(strings.TrimSpace(l.text)) {
		case "quit", "stop":
			if g.logger != nil {
				g.logger.Info("operator requested stop", "messageID", msg.ID)
			}
			return Decision{Kind: DecisionStop}
		case "skip":
			pterm.Info.WithWriter(g.surface.Out).Println("Skipped, message left in the inbox.")
			return Decision{Kind: DecisionSkip}
		case "":
			if len(collected) > 0 {
				return finish(collected)
			}
			continue
		}
		collected = append(collected, l.text)
	}
}

func finish(lines []string) Decision {
	text := strings.TrimSpace(strings.Join(lines, "\n"))
	if text == "" {
		return Decision{Kind: DecisionSkip}
	}
	return Decision{Kind: DecisionReply, Text: text}
}

// startReader feeds stdin lines into g.lines for the lifetime of the process
// so a cancelled prompt never loses buffered input.
func (g *Gate) startReader() {
	g.lines = make(chan line)
	reader := bufio.NewReader(g.surface.In)
	go func() {
		defer close(g.lines)
		for {
			text, err := reader.ReadString('\n')
			text = strings.TrimRight(text, "\r\n")
			if err != nil {
				if text != "" {
					g.lines <- line{text: text}
				}
				g.lines <- line{err: err}
				return
			}
			g.lines <- line{text: text}
		}
	}()
}

func (g *Gate) render(msg model.Message, reason string) {
	out := g.surface.Out
	preview, truncated := msg.Preview(previewLimit)

	pterm.DefaultSection.WithWriter(out).Println("MANUAL REVIEW REQUIRED")
	pterm.Fprintln(out, "  From    : "+msg.From)
	pterm.Fprintln(out, "  Subject : "+msg.Subject)
	pterm.Fprintln(out, "  Reason  : "+reason)
	pterm.Fprintln(out)
	pterm.Fprintln(out, "  "+strings.ReplaceAll(preview, "\n", "\n  "))
	if truncated {
		pterm.Fprintln(out, "  ... [truncated]")
	}
	pterm.Fprintln(out)
	pterm.Info.WithWriter(out).Println("Type your reply, then press Enter on an empty line to send.")
	pterm.Info.WithWriter(out).Println("Type 'skip' to handle the message manually.")
	pterm.Info.WithWriter(out).Println("Type 'quit' to stop the automation.")
}
