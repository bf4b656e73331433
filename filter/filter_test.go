package filter

import (
	"testing"

	"github.com/dhcgn/mail-triage/model"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name     string
		msg      model.Message
		wantOK   bool
		wantRule Rule
	}{
		{
			name:   "customer",
			msg:    model.Message{From: "jane@customer.com"},
			wantOK: true,
		},
		{
			name:     "noreply sender",
			msg:      model.Message{From: "noreply@shop.com"},
			wantRule: RuleNoReplySender,
		},
		{
			name:     "no-reply sender mixed case",
			msg:      model.Message{From: "No-Reply@Service.io"},
			wantRule: RuleNoReplySender,
		},
		{
			name:     "mailer daemon",
			msg:      model.Message{From: "MAILER-DAEMON@mx.example.com"},
			wantRule: RuleNoReplySender,
		},
		{
			name:     "alert sender",
			msg:      model.Message{From: "alert@monitoring.io"},
			wantRule: RuleNoReplySender,
		},
		{
			name:     "newsletter",
			msg:      model.Message{From: "news@brand.com", ListUnsubscribe: "<mailto:unsub@brand.com>"},
			wantRule: RuleListUnsubscribe,
		},
		{
			name:     "bulk precedence",
			msg:      model.Message{From: "team@brand.com", Precedence: " Bulk "},
			wantRule: RulePrecedence,
		},
		{
			name:     "junk precedence",
			msg:      model.Message{From: "team@brand.com", Precedence: "junk"},
			wantRule: RulePrecedence,
		},
		{
			name:   "first-class precedence",
			msg:    model.Message{From: "team@brand.com", Precedence: "first-class"},
			wantOK: true,
		},
		{
			name:     "auto submitted",
			msg:      model.Message{From: "bot@brand.com", AutoSubmitted: "auto-replied"},
			wantRule: RuleAutoSubmitted,
		},
		{
			name:   "auto submitted no",
			msg:    model.Message{From: "person@brand.com", AutoSubmitted: "No"},
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, rule := Check(tt.msg)
			if ok != tt.wantOK {
				t.Errorf("Check() ok = %v, want %v", ok, tt.wantOK)
			}
			if rule != tt.wantRule {
				t.Errorf("Check() rule = %q, want %q", rule, tt.wantRule)
			}
			if IsCandidate(tt.msg) != tt.wantOK {
				t.Errorf("IsCandidate() disagrees with Check()")
			}
		})
	}
}

func TestIsCandidate_Idempotent(t *testing.T) {
	msgs := []model.Message{
		{From: "jane@customer.com"},
		{From: "noreply@shop.com"},
		{From: "team@brand.com", Precedence: "list"},
	}
	for _, msg := range msgs {
		first := IsCandidate(msg)
		for i := 0; i < 5; i++ {
			if IsCandidate(msg) != first {
				t.Fatalf("IsCandidate(%q) changed between calls", msg.From)
			}
		}
	}
}

func TestFilter_ExcludeSender(t *testing.T) {
	f, err := New(Options{ExcludeSender: []string{`@partner\.example$`, " "}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if ok, _ := f.Check(model.Message{From: "jane@customer.com"}); !ok {
		t.Error("Expected customer to be allowed")
	}

	ok, rule := f.Check(model.Message{From: "Ops@Partner.example"})
	if ok || rule != RuleExcludedSender {
		t.Errorf("Check() = %v, %q; want false, %q", ok, rule, RuleExcludedSender)
	}

	// fixed rules take precedence over operator patterns
	ok, rule = f.Check(model.Message{From: "noreply@partner.example"})
	if ok || rule != RuleNoReplySender {
		t.Errorf("Check() = %v, %q; want false, %q", ok, rule, RuleNoReplySender)
	}

	stats := f.GetStats()
	if stats.Checked != 3 {
		t.Errorf("Checked = %d, want 3", stats.Checked)
	}
	if stats.Rejected() != 2 {
		t.Errorf("Rejected() = %d, want 2", stats.Rejected())
	}
	if len(stats.Patterns) != 1 || stats.PatternHits[`@partner\.example$`] != 1 {
		t.Errorf("unexpected pattern stats: %+v", stats)
	}
}

func TestFilter_InvalidPattern(t *testing.T) {
	if _, err := New(Options{ExcludeSender: []string{"("}}); err == nil {
		t.Error("Expected error for invalid pattern")
	}
}

func TestFilter_NoPatterns(t *testing.T) {
	f, err := New(Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if ok, _ := f.Check(model.Message{From: "anyone@anywhere.org"}); !ok {
		t.Error("Expected message to be allowed when no patterns are active")
	}
}
