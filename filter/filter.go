package filter

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/dhcgn/mail-triage/model"
)

// Rule names the pre-filter rule that rejected a message.
type Rule string

const (
	RuleNone            Rule = ""
	RuleNoReplySender   Rule = "no_reply_sender"
	RuleListUnsubscribe Rule = "list_unsubscribe"
	RulePrecedence      Rule = "precedence"
	RuleAutoSubmitted   Rule = "auto_submitted"
	RuleExcludedSender  Rule = "excluded_sender"
)

// Rules lists every rule in evaluation order.
var Rules = []Rule{RuleNoReplySender, RuleListUnsubscribe, RulePrecedence, RuleAutoSubmitted, RuleExcludedSender}

var noReplyMarkers = []string{
	"no-reply", "no_reply", "noreply", "do-not-reply", "donotreply",
	"notifications@", "notification@", "mailer-daemon", "postmaster@",
	"bounce@", "bounces@", "alerts@", "alert@", "auto@", "automated@",
	"system@", "support-noreply",
}

// IsCandidate reports whether msg may be a human support request.
func IsCandidate(msg model.Message) bool {
	ok, _ := Check(msg)
	return ok
}

// Check applies the fixed header rules and returns the first rule that
// rejected msg.
func Check(msg model.Message) (bool, Rule) {
	from := strings.ToLower(msg.From)
	for _, marker := range noReplyMarkers {
		if strings.Contains(from, marker) {
			return false, RuleNoReplySender
		}
	}

	if strings.TrimSpace(msg.ListUnsubscribe) != "" {
		return false, RuleListUnsubscribe
	}

	switch strings.ToLower(strings.TrimSpace(msg.Precedence)) {
	case "bulk", "list", "junk":
		return false, RulePrecedence
	}

	autoSubmitted := strings.ToLower(strings.TrimSpace(msg.AutoSubmitted))
	if autoSubmitted != "" && autoSubmitted != "no" {
		return false, RuleAutoSubmitted
	}

	return true, RuleNone
}

// Options captures the operator supplied filtering configuration.
type Options struct {
	ExcludeSender []string
}

// Filter runs the fixed rules plus compiled sender block-list patterns and
// counts how often each rule fired.
type Filter struct {
	excludeSender []*regexp.Regexp

	mu          sync.Mutex
	checked     int
	ruleHits    map[Rule]int
	patternHits map[string]int
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	excludeSender, err := compilePatterns(opts.ExcludeSender)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-sender pattern: %w", err)
	}

	return &Filter{
		excludeSender: excludeSender,
		ruleHits:      make(map[Rule]int),
		patternHits:   make(map[string]int),
	}, nil
}

// Check returns false and the rejecting rule when msg is not a candidate.
func (f *Filter) Check(msg model.Message) (bool, Rule) {
	ok, rule := Check(msg)

	var pattern string
	if ok {
		if re := matchFirst(f.excludeSender, strings.ToLower(msg.From)); re != nil {
			ok, rule, pattern = false, RuleExcludedSender, re.String()
		}
	}

	f.mu.Lock()
	f.checked++
	if !ok {
		f.ruleHits[rule]++
	}
	if pattern != "" {
		f.patternHits[pattern]++
	}
	f.mu.Unlock()

	return ok, rule
}

// Stats is a snapshot of the filter hit counters.
type Stats struct {
	Checked     int
	RuleHits    map[Rule]int
	Patterns    []string
	PatternHits map[string]int
}

// Rejected returns the number of messages rejected by any rule.
func (s Stats) Rejected() int {
	total := 0
	for _, n := range s.RuleHits {
		total += n
	}
	return total
}

func (f *Filter) GetStats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	stats := Stats{
		Checked:     f.checked,
		RuleHits:    make(map[Rule]int, len(f.ruleHits)),
		PatternHits: make(map[string]int, len(f.patternHits)),
	}
	for rule, n := range f.ruleHits {
		stats.RuleHits[rule] = n
	}
	for _, re := range f.excludeSender {
		stats.Patterns = append(stats.Patterns, re.String())
		stats.PatternHits[re.String()] = f.patternHits[re.String()]
	}
	sort.Strings(stats.Patterns)
	return stats
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchFirst(patterns []*regexp.Regexp, text string) *regexp.Regexp {
	for _, re := range patterns {
		if re.MatchString(text) {
			return re
		}
	}
	return nil
}
