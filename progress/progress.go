package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/mail-triage/model"
	"github.com/dhcgn/mail-triage/stats"
)

// Printer writes one line per handled message and a summary per cycle.
type Printer struct {
	out     io.Writer
	enabled bool
	mu      sync.Mutex
}

// New creates a printer writing to out. A nil out means stdout.
// Output is suppressed when enabled is false.
func New(out io.Writer, enabled bool) *Printer {
	if out == nil {
		out = os.Stdout
	}
	return &Printer{out: out, enabled: enabled}
}

func (p *Printer) AutoReplied(msg model.Message) {
	p.line(pterm.Success, "Auto-replied", msg, "")
}

func (p *Printer) AutoReplyEmpty(msg model.Message) {
	p.line(pterm.Warning, "Auto-reply empty, nothing sent", msg, "")
}

func (p *Printer) Escalated(msg model.Message, reason string) {
	p.line(pterm.Warning, "Needs review", msg, reason)
}

func (p *Printer) ManualReplied(msg model.Message) {
	p.line(pterm.Success, "Operator reply sent", msg, "")
}

func (p *Printer) Skipped(msg model.Message, reason string) {
	p.line(pterm.Info, "Skipped", msg, reason)
}

func (p *Printer) Prefiltered(msg model.Message, rule string) {
	p.line(pterm.Info, "Pre-filtered", msg, rule)
}

func (p *Printer) Failed(msg model.Message, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	p.line(pterm.Error, "Failed", msg, detail)
}

func (p *Printer) line(printer pterm.PrefixPrinter, label string, msg model.Message, detail string) {
	if !p.enabled {
		return
	}

	text := fmt.Sprintf("%s: %s | %s", label, msg.From, msg.Subject)
	if detail != "" {
		text += " (" + detail + ")"
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	printer.WithWriter(p.out).Println(text)
}

// Cycle prints the totals after a poll cycle.
func (p *Printer) Cycle(fetched, handled int, next time.Duration) {
	if !p.enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pterm.Info.WithWriter(p.out).Printfln("Cycle complete: %d fetched, %d handled. Next poll in %s.", fetched, handled, next.Round(time.Second))
}

// Summary prints the run totals.
func (p *Printer) Summary(summary stats.Summary, duration time.Duration) {
	if !p.enabled {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	info := pterm.Info.WithWriter(p.out)
	pterm.Fprintln(p.out)
	pterm.DefaultSection.WithWriter(p.out).Println("Summary Statistics")
	info.Printfln("Duration: %v", duration.Round(time.Second))
	info.Printfln("Cycles: %d", summary.Cycles)
	info.Printfln("Fetched: %d", summary.Fetched)
	info.Printfln("Pre-filtered: %d", summary.Prefiltered)
	info.Printfln("Auto-replied: %d", summary.AutoReplied)
	info.Printfln("Escalated: %d", summary.Escalated)
	info.Printfln("Operator replies: %d", summary.ManualReplied)
	info.Printfln("Skipped: %d", summary.Skipped)
	info.Printfln("AI fallbacks: %d", summary.Fallbacks)
	info.Printfln("Committed: %d", summary.Committed)
	info.Printfln("Errors: %d", summary.Errors)
	if summary.LastError != "" {
		pterm.Error.WithWriter(p.out).Printfln("Last error: %s", summary.LastError)
	}
}
