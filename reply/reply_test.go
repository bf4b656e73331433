package reply

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dhcgn/mail-triage/model"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "Re: Refund", Subject("Refund"))
	assert.Equal(t, "RE: Refund", Subject("RE: Refund"))
	assert.Equal(t, "re:Refund", Subject("re:Refund"))
	assert.Equal(t, "Re: Regarding invoice", Subject("Regarding invoice"))
	assert.Equal(t, "Re: ", Subject(""))
}

func TestPlainText(t *testing.T) {
	tests := map[string]string{
		"<p>Hi</p>":                       "Hi",
		"<p>Hello</p><p>World</p>":        "Hello\n\nWorld",
		"Line one<br>Line two":            "Line one\nLine two",
		"<b>Bold</b> &amp; <i>italic</i>": "Bold & italic",
		"<style>p{}</style><p>Seen</p>":  "Seen",
		"plain text":                      "plain text",
		"":                                "",
	}
	for in, want := range tests {
		assert.Equal(t, want, PlainText(in), "input %q", in)
	}
}

func TestFromText(t *testing.T) {
	got := FromText("Hi Jane,\n\nYour refund is on its way.\nBest,\nSupport")
	assert.Equal(t,
		`<div style="font-family: Arial, sans-serif; font-size:14px; line-height:1.6; color:#333;">`+
			`<p style="margin:0 0 12px 0;">Hi Jane,</p>`+
			`<p style="margin:0 0 12px 0;">Your refund is on its way.<br>Best,<br>Support</p>`+
			`</div>`, got)
}

func TestFromText_Escapes(t *testing.T) {
	got := FromText("a < b & c")
	assert.Contains(t, got, "a &lt; b &amp; c")
}

func TestNew(t *testing.T) {
	msg := model.Message{ID: "3", From: "jane@customer.com", Subject: "Password", ThreadToken: "<abc@mail>"}
	r := New(msg, "<p>Use the reset link.</p>")

	assert.Equal(t, model.Reply{
		To:          "jane@customer.com",
		Subject:     "Re: Password",
		HTMLBody:    "<p>Use the reset link.</p>",
		TextBody:    "Use the reset link.",
		ThreadToken: "<abc@mail>",
	}, r)
}
