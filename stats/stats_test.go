package stats

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestCollector_Record(t *testing.T) {
	c := NewCollector()
	for _, typ := range []EventType{
		EventTypeFetched, EventTypeFetched, EventTypeFetched,
		EventTypeDuplicate, EventTypePrefiltered, EventTypeAutoReplied,
		EventTypeEscalated, EventTypeManualReplied, EventTypeSkipped,
		EventTypeFallback, EventTypeCommitted, EventTypeCommitted,
	} {
		c.Record(Event{Type: typ})
	}
	c.Record(Event{Type: EventTypeError, Err: errors.New("smtp down")})
	c.CycleDone()

	got := c.Snapshot()
	want := Summary{
		Cycles: 1, Fetched: 3, Duplicates: 1, Prefiltered: 1, AutoReplied: 1,
		Escalated: 1, ManualReplied: 1, Skipped: 1, Fallbacks: 1, Committed: 2,
		Errors: 1, LastError: "smtp down",
	}
	if got != want {
		t.Fatalf("summary = %+v, want %+v", got, want)
	}
}

func TestSummary_LogAttrs(t *testing.T) {
	attrs := Summary{Fetched: 2}.LogAttrs()
	if len(attrs)%2 != 0 {
		t.Fatalf("attrs must be key/value pairs, got %d entries", len(attrs))
	}
	for _, a := range attrs {
		if a == "lastError" {
			t.Fatal("lastError must be omitted when empty")
		}
	}

	attrs = Summary{LastError: "boom"}.LogAttrs()
	if attrs[len(attrs)-2] != "lastError" || attrs[len(attrs)-1] != "boom" {
		t.Fatalf("lastError missing: %v", attrs)
	}
}

func TestReporter_Log(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	c := NewCollector()
	c.Record(Event{Type: EventTypeAutoReplied})

	NewReporter(c, logger).Log("triage summary")

	out := buf.String()
	if !strings.Contains(out, "triage summary") || !strings.Contains(out, "autoReplied=1") {
		t.Fatalf("unexpected log output: %s", out)
	}
}

func TestTop(t *testing.T) {
	m := map[string]int{"b@x": 2, "a@x": 2, "c@x": 5, "d@x": 1}
	got := Top(m, 3)
	want := []Pair{{"c@x", 5}, {"a@x", 2}, {"b@x", 2}}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pair %d = %v, want %v", i, got[i], want[i])
		}
	}

	var buf bytes.Buffer
	PrettyPrintTop(&buf, m, 1)
	if buf.String() != "1. c@x (5)\n" {
		t.Errorf("PrettyPrintTop = %q", buf.String())
	}
}
