package progress

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"

	"github.com/dhcgn/mail-triage/model"
	"github.com/dhcgn/mail-triage/stats"
)

func TestMain(m *testing.M) {
	pterm.DisableStyling()
	m.Run()
}

var msg = model.Message{ID: "7", From: "jane@customer.com", Subject: "Refund"}

func TestPrinter_Lines(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, true)

	p.AutoReplied(msg)
	p.Escalated(msg, "angry customer")
	p.Skipped(msg, "newsletter")
	p.Prefiltered(msg, "list_unsubscribe")
	p.Failed(msg, errors.New("smtp down"))

	out := buf.String()
	assert.Contains(t, out, "Auto-replied: jane@customer.com | Refund")
	assert.Contains(t, out, "Needs review: jane@customer.com | Refund (angry customer)")
	assert.Contains(t, out, "Skipped: jane@customer.com | Refund (newsletter)")
	assert.Contains(t, out, "Pre-filtered: jane@customer.com | Refund (list_unsubscribe)")
	assert.Contains(t, out, "(smtp down)")
}

func TestPrinter_Disabled(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, false)
	p.AutoReplied(msg)
	p.Cycle(1, 1, time.Minute)
	p.Summary(stats.Summary{Fetched: 1}, time.Second)
	assert.Empty(t, buf.String())
}

func TestPrinter_Summary(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, true)
	p.Summary(stats.Summary{Fetched: 4, AutoReplied: 2, LastError: "boom"}, 90*time.Second)

	out := buf.String()
	assert.Contains(t, out, "Summary Statistics")
	assert.Contains(t, out, "Fetched: 4")
	assert.Contains(t, out, "Auto-replied: 2")
	assert.Contains(t, out, "Last error: boom")
}
