package reply

import (
	"html"
	"io"
	"strings"

	nethtml "golang.org/x/net/html"

	"github.com/dhcgn/mail-triage/model"
)

// Subject prefixes subject with "Re: " unless it already carries one.
func Subject(subject string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		return subject
	}
	return "Re: " + subject
}

// New builds the reply to msg carrying htmlBody.
func New(msg model.Message, htmlBody string) model.Reply {
	return model.Reply{
		To:          msg.From,
		Subject:     Subject(msg.Subject),
		HTMLBody:    htmlBody,
		TextBody:    PlainText(htmlBody),
		ThreadToken: msg.ThreadToken,
	}
}

// PlainText strips markup from an HTML fragment. Block level elements become
// line breaks and script or style content is dropped.
func PlainText(fragment string) string {
	var sb strings.Builder
	skip := 0

	z := nethtml.NewTokenizer(strings.NewReader(fragment))
	for {
		tt := z.Next()
		switch tt {
		case nethtml.ErrorToken:
			if z.Err() != io.EOF {
				return strings.TrimSpace(fragment)
			}
			return tidy(sb.String())
		case nethtml.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		case nethtml.StartTagToken, nethtml.EndTagToken, nethtml.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch tag {
			case "script", "style", "head", "title":
				if tt == nethtml.StartTagToken {
					skip++
				} else if tt == nethtml.EndTagToken && skip > 0 {
					skip--
				}
				continue
			}
			if breaksLine(tag) {
				sb.WriteString("\n")
			}
		}
	}
}

func breaksLine(tag string) bool {
	switch tag {
	case "br", "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "table", "blockquote":
		return true
	}
	return false
}

// tidy collapses runs of spaces and keeps at most one blank line.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

const (
	wrapperStyle   = "font-family: Arial, sans-serif; font-size:14px; line-height:1.6; color:#333;"
	paragraphStyle = "margin:0 0 12px 0;"
)

// FromText wraps operator typed text into minimal HTML. Paragraphs are split
// on blank lines and single newlines become <br>.
func FromText(text string) string {
	var body strings.Builder
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		body.WriteString(`<p style="` + paragraphStyle + `">`)
		body.WriteString(strings.ReplaceAll(html.EscapeString(para), "\n", "<br>"))
		body.WriteString("</p>")
	}
	return `<div style="` + wrapperStyle + `">` + body.String() + "</div>"
}
