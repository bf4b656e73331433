package stats

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type EventType string

const (
	EventTypeFetched       EventType = "fetched"
	EventTypeDuplicate     EventType = "duplicate"
	EventTypePrefiltered   EventType = "prefiltered"
	EventTypeAutoReplied   EventType = "auto_replied"
	EventTypeEscalated     EventType = "escalated"
	EventTypeManualReplied EventType = "manual_replied"
	EventTypeSkipped       EventType = "skipped"
	EventTypeFallback      EventType = "fallback"
	EventTypeCommitted     EventType = "committed"
	EventTypeError         EventType = "error"
)

type Event struct {
	Type      EventType
	MessageID string
	Err       error
	Detail    string
}

type Summary struct {
	Cycles        int    `json:"cycles"`
	Fetched       int    `json:"fetched"`
	Duplicates    int    `json:"duplicates"`
	Prefiltered   int    `json:"prefiltered"`
	AutoReplied   int    `json:"auto_replied"`
	Escalated     int    `json:"escalated"`
	ManualReplied int    `json:"manual_replied"`
	Skipped       int    `json:"skipped"`
	Fallbacks     int    `json:"fallbacks"`
	Committed     int    `json:"committed"`
	Errors        int    `json:"errors"`
	LastError     string `json:"last_error,omitempty"`
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"cycles", s.Cycles,
		"fetched", s.Fetched,
		"duplicates", s.Duplicates,
		"prefiltered", s.Prefiltered,
		"autoReplied", s.AutoReplied,
		"escalated", s.Escalated,
		"manualReplied", s.ManualReplied,
		"skipped", s.Skipped,
		"fallbacks", s.Fallbacks,
		"committed", s.Committed,
		"errors", s.Errors,
	}
	if s.LastError != "" {
		attrs = append(attrs, "lastError", s.LastError)
	}
	return attrs
}

// Collector aggregates triage events. It is safe for concurrent readers.
type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Record(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeFetched:
		c.summary.Fetched++
	case EventTypeDuplicate:
		c.summary.Duplicates++
	case EventTypePrefiltered:
		c.summary.Prefiltered++
	case EventTypeAutoReplied:
		c.summary.AutoReplied++
	case EventTypeEscalated:
		c.summary.Escalated++
	case EventTypeManualReplied:
		c.summary.ManualReplied++
	case EventTypeSkipped:
		c.summary.Skipped++
	case EventTypeFallback:
		c.summary.Fallbacks++
	case EventTypeCommitted:
		c.summary.Committed++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err.Error()
		}
	}
}

// CycleDone counts one finished poll cycle.
func (c *Collector) CycleDone() {
	c.mu.Lock()
	c.summary.Cycles++
	c.mu.Unlock()
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

// Reporter logs the running totals of a Collector.
type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(collector *Collector, logger *slog.Logger) *Reporter {
	return &Reporter{
		collector: collector,
		logger:    logger,
		started:   time.Now(),
	}
}

// Log writes the current summary with the elapsed time under msg.
func (r *Reporter) Log(msg string) {
	if r.logger == nil {
		return
	}
	attrs := append(r.collector.Snapshot().LogAttrs(), "duration", time.Since(r.started).Round(time.Second))
	r.logger.Info(msg, attrs...)
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

func (r *Reporter) Started() time.Time {
	return r.started
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(w io.Writer, m map[string]int, limit int) {
	for i, p := range Top(m, limit) {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, p.Key, p.Value)
	}
}

type Pair struct {
	Key   string
	Value int
}

// Top returns at most limit entries sorted by count, ties broken by key.
func Top(m map[string]int, limit int) []Pair {
	pairs := make([]Pair, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, Pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})

	if limit >= 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}
