package mailstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/imap-notes/model"
)

func TestHeaderFromRaw(t *testing.T) {
	raw := []byte("Message-Id: < abc@example.com >\r\n" +
		"Subject: =?utf-8?q?K=C3=A4se?=\r\n" +
		"From: Jane Doe <jane@example.com>\r\n" +
		"Date: Mon, 02 Mar 2026 11:00:00 +0000\r\n\r\nbody")

	h, err := HeaderFromRaw(raw)
	require.NoError(t, err)
	assert.Equal(t, "abc@example.com", h.HeaderMessageID)
	assert.Equal(t, "Käse", h.Subject)
	assert.Contains(t, h.Author, "jane@example.com")
	assert.Equal(t, 2026, h.Date.Year())
	assert.Equal(t, int64(len(raw)), h.Size)
}

func TestIsDirectChild(t *testing.T) {
	tests := []struct {
		parent string
		path   string
		want   bool
	}{
		{parent: "", path: "Notes", want: true},
		{parent: "", path: "Notes/Work", want: false},
		{parent: "Notes", path: "Notes/Work", want: true},
		{parent: "Notes", path: "Notes/Work/Deep", want: false},
		{parent: "Notes", path: "NotesX/Work", want: false},
		{parent: "Notes", path: "Notes", want: false},
	}
	for _, tt := range tests {
		got := IsDirectChild(model.Folder{Path: tt.parent}, tt.path)
		assert.Equal(t, tt.want, got, "parent %q path %q", tt.parent, tt.path)
	}
}
