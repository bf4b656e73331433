package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/mail-triage/model"
	"github.com/dhcgn/mail-triage/reply"
)

const noSubject = "(no subject)"

// ParseMessage decodes a raw RFC 5322 message. The plain text part is
// preferred over HTML and attachments are ignored.
func ParseMessage(id string, raw []byte) (model.Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return model.Message{}, fmt.Errorf("read message %s: %w", id, err)
	}
	defer mr.Close()

	h := mr.Header
	msg := model.Message{
		ID:              id,
		ThreadToken:     strings.TrimSpace(h.Get("Message-Id")),
		ListUnsubscribe: strings.TrimSpace(h.Get("List-Unsubscribe")),
		Precedence:      strings.TrimSpace(h.Get("Precedence")),
		AutoSubmitted:   strings.TrimSpace(h.Get("Auto-Submitted")),
	}

	if addrs, err := h.AddressList("From"); err == nil && len(addrs) > 0 {
		msg.From = addrs[0].Address
		msg.FromName = addrs[0].Name
	} else {
		msg.From = strings.TrimSpace(h.Get("From"))
	}

	subject, err := h.Subject()
	if err != nil {
		subject = h.Get("Subject")
	}
	msg.Subject = strings.TrimSpace(subject)
	if msg.Subject == "" {
		msg.Subject = noSubject
	}

	if date, err := h.Date(); err == nil {
		msg.ReceivedAt = date
	}

	plain, html, err := readBodies(mr)
	if err != nil {
		return model.Message{}, fmt.Errorf("read body of %s: %w", id, err)
	}
	switch {
	case strings.TrimSpace(plain) != "":
		msg.Body = strings.TrimSpace(plain)
	case html != "":
		msg.Body = reply.PlainText(html)
	}

	return msg, nil
}

func readBodies(mr *mail.Reader) (plain, html string, err error) {
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return plain, html, nil
		}
		if err != nil && !message.IsUnknownCharset(err) {
			if plain != "" || html != "" {
				// keep what was decoded before the broken part
				return plain, html, nil
			}
			return "", "", err
		}

		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := inline.ContentType()
		if contentType != "text/plain" && contentType != "text/html" {
			continue
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		if contentType == "text/plain" && plain == "" {
			plain = string(body)
		} else if contentType == "text/html" && html == "" {
			html = string(body)
		}
	}
}

// BuildReply renders reply as a multipart/alternative message from the
// given address.
func BuildReply(from string, r model.Reply, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{parseAddress(r.To)})
	h.SetSubject(r.Subject)
	h.SetDate(now)
	if err := generateMessageID(&h, from); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}
	if token := strings.Trim(strings.TrimSpace(r.ThreadToken), "<>"); token != "" {
		h.SetMsgIDList("In-Reply-To", []string{token})
		h.SetMsgIDList("References", []string{token})
	}

	var buf bytes.Buffer
	w, err := mail.CreateInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create writer: %w", err)
	}

	textBody := r.TextBody
	if textBody == "" {
		textBody = reply.PlainText(r.HTMLBody)
	}
	if err := writePart(w, "text/plain", textBody); err != nil {
		return nil, err
	}
	if err := writePart(w, "text/html", r.HTMLBody); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writePart(w *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	pw, err := w.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		_ = pw.Close()
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	return pw.Close()
}

func generateMessageID(h *mail.Header, from string) error {
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		return h.GenerateMessageIDWithHostname(from[at+1:])
	}
	return h.GenerateMessageID()
}

func parseAddress(s string) *mail.Address {
	if addr, err := mail.ParseAddress(s); err == nil {
		return addr
	}
	return &mail.Address{Address: strings.TrimSpace(s)}
}

func envelopeAddress(s string) string {
	return parseAddress(s).Address
}
