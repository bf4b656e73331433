package model

import (
	"time"
	"unicode/utf8"
)

// Message represents a single unread candidate fetched from the support mailbox.
type Message struct {
	ID          string
	From        string
	FromName    string
	Subject     string
	Body        string
	ThreadToken string
	ReceivedAt  time.Time

	// Header signals used only by the pre-filter.
	ListUnsubscribe string
	Precedence      string
	AutoSubmitted   string
}

// Reply is an outbound answer to a Message.
type Reply struct {
	To          string
	Subject     string
	HTMLBody    string
	TextBody    string
	ThreadToken string
}

// Preview returns at most n bytes of the body, cut on a rune boundary.
func (m Message) Preview(n int) (string, bool) {
	if len(m.Body) <= n {
		return m.Body, false
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(m.Body[cut]) {
		cut--
	}
	return m.Body[:cut], true
}
