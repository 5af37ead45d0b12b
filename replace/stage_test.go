package replace

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorDomain(t *testing.T) {
	tests := []struct {
		author string
		want   string
	}{
		{author: "Jane Doe <jane@example.com>", want: "example.com"},
		{author: "bob@mail.example.org", want: "mail.example.org"},
		{author: "", want: "localhost"},
		{author: "not an address", want: "localhost"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, authorDomain(tt.author), "author %q", tt.author)
	}
}

func TestStageMessageKeepsOtherFields(t *testing.T) {
	composed := "X-Uniform-Type-Identifier: com.apple.mail-note\r\n" +
		"Subject: folded\r\n subject\r\n" +
		"Message-Id: <old@example.com>\r\n" +
		"X-Universally-Unique-Identifier: OLD\r\n" +
		"Date: Tue, 03 Mar 2026 10:00:00 GMT\r\n" +
		"\r\n" +
		"<body>T\r\n    <div>x</div></body>"

	ids := newStagedIDs(uuid.MustParse("00000000-0000-4000-8000-00000000abcd"), "a@b.example")
	out, err := stageMessage([]byte(composed), ids)
	require.NoError(t, err)

	want := "X-Uniform-Type-Identifier: com.apple.mail-note\r\n" +
		"Subject: folded\r\n subject\r\n" +
		"Message-Id: <00000000-0000-4000-8000-00000000abcd@b.example>\r\n" +
		"X-Universally-Unique-Identifier: 00000000-0000-4000-8000-00000000ABCD\r\n" +
		"Date: Tue, 03 Mar 2026 10:00:00 GMT\r\n" +
		"\r\n" +
		"<body>T\r\n    <div>x</div></body>"
	assert.Equal(t, want, string(out))
}

func TestStageMessageAddsMissingIdentifiers(t *testing.T) {
	composed := "Subject: x\r\n\r\nbody"
	ids := stagedIDs{MessageID: "id@localhost", UniqueID: "ID"}

	out, err := stageMessage([]byte(composed), ids)
	require.NoError(t, err)
	s := string(out)
	assert.True(t, strings.HasPrefix(s, "Message-Id: <id@localhost>\r\nX-Universally-Unique-Identifier: ID\r\nSubject: x\r\n"), s)
	assert.True(t, strings.HasSuffix(s, "\r\n\r\nbody"))
}
