package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dhcgn/imap-notes/note"
)

func TestDraftRoundTrip(t *testing.T) {
	n := &note.Note{Subject: "Groceries", Content: "<div>milk</div>\n<div>eggs</div>"}
	subject, fragment := parseDraft(renderDraft(n), "fallback")
	assert.Equal(t, "Groceries", subject)
	assert.Equal(t, n.Content, fragment)
}

func TestParseDraft(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		subject  string
		fragment string
	}{
		{"no subject line", "<div>x</div>\n", "fallback", "<div>x</div>"},
		{"crlf", "Subject: A\r\n\r\n<div>x</div>\r\n", "A", "<div>x</div>"},
		{"subject only", "Subject: Only", "Only", ""},
		{"empty subject", "Subject:\n\n<div>x</div>", "", "<div>x</div>"},
		{"no blank line", "Subject: B\n<div>x</div>", "B", "<div>x</div>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, fragment := parseDraft([]byte(tt.in), "fallback")
			assert.Equal(t, tt.subject, subject)
			assert.Equal(t, tt.fragment, fragment)
		})
	}
}
