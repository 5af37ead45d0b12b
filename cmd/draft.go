package cmd

import (
	"bytes"
	"strings"

	"github.com/dhcgn/imap-notes/note"
)

const draftSubjectPrefix = "Subject:"

// renderDraft lays a note out for a text editor: a subject line, a blank
// line, then the editable fragment.
func renderDraft(n *note.Note) []byte {
	var buf bytes.Buffer
	buf.WriteString(draftSubjectPrefix)
	buf.WriteByte(' ')
	buf.WriteString(n.Subject)
	buf.WriteString("\n\n")
	buf.WriteString(n.Content)
	buf.WriteByte('\n')
	return buf.Bytes()
}

// parseDraft reverses renderDraft. Without a subject line the whole file
// is content and fallback is the subject.
func parseDraft(data []byte, fallback string) (subject, fragment string) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	subject = fallback

	first, rest, found := strings.Cut(text, "\n")
	if strings.HasPrefix(first, draftSubjectPrefix) {
		subject = strings.TrimSpace(strings.TrimPrefix(first, draftSubjectPrefix))
		if !found {
			rest = ""
		}
		text = strings.TrimPrefix(rest, "\n")
	}
	return subject, strings.TrimRight(text, "\n")
}
