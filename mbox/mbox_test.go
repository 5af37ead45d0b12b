package mbox

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dhcgn/imap-notes/mailstore/mailstoretest"
	"github.com/dhcgn/imap-notes/model"
)

const sampleMbox = "From jane@example.com Mon Mar  2 11:00:00 2026\n" +
	"X-Uniform-Type-Identifier: com.apple.mail-note\n" +
	"Message-Id: <note-1@example.com>\n" +
	"Subject: Groceries\n" +
	"\n" +
	"<body>Groceries<div>milk</div></body>\n" +
	"\n" +
	"From bob@example.com Mon Mar  2 12:00:00 2026\n" +
	"Message-Id: <mail-1@example.com>\n" +
	"Subject: Lunch\n" +
	"\n" +
	"see you\n" +
	"\n" +
	"From jane@example.com Mon Mar  2 13:00:00 2026\n" +
	"X-Uniform-Type-Identifier: com.apple.mail-note\n" +
	"Message-Id: <note-2@example.com>\n" +
	"Subject: Ideas\n" +
	"\n" +
	"<body>Ideas<div>one</div></body>\n"

func collect(t *testing.T, opts Options) []Envelope {
	t.Helper()
	reader, err := NewReader(strings.NewReader(sampleMbox), opts, nil)
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}

	out := make(chan Envelope, 10)
	done := make(chan error, 1)
	go func() {
		done <- reader.Stream(context.Background(), out)
		close(out)
	}()

	var envs []Envelope
	for env := range out {
		if env.Err != nil {
			t.Fatalf("stream error: %v", env.Err)
		}
		envs = append(envs, env)
	}
	if err := <-done; err != nil {
		t.Fatalf("stream ended with: %v", err)
	}
	return envs
}

func TestStreamWithFilters(t *testing.T) {
	tests := []struct {
		name          string
		opts          Options
		expectedCount int
	}{
		{name: "no filters", expectedCount: 3},
		{name: "notes only", opts: Options{IncludeHeader: []string{NotesOnly}}, expectedCount: 2},
		{name: "exclude header", opts: Options{ExcludeHeader: []string{"Subject: Lunch"}}, expectedCount: 2},
		{name: "include body", opts: Options{IncludeBody: []string{"milk"}}, expectedCount: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs := collect(t, tt.opts)
			if len(envs) != tt.expectedCount {
				t.Errorf("Expected %d messages, got %d", tt.expectedCount, len(envs))
			}
		})
	}
}

func TestNewReaderRejectsMixedFilters(t *testing.T) {
	_, err := NewReader(strings.NewReader(""), Options{IncludeHeader: []string{"a"}, ExcludeBody: []string{"b"}}, nil)
	if err == nil {
		t.Fatalf("expected filter conflict error")
	}
}

func TestImportExportRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := mailstoretest.NewBackend("local", model.AccountTypeLocal, "trash:Trash", "Restored")
	trash := model.Folder{Account: "local", Path: "Trash"}

	result, err := Import(ctx, b, trash, strings.NewReader(sampleMbox), Options{IncludeHeader: []string{NotesOnly}}, nil)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.Imported != 2 || result.Failed != 0 {
		t.Fatalf("unexpected import result: %+v", result)
	}

	var buf bytes.Buffer
	n, err := Export(ctx, b, trash, &buf, nil)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 exported messages, got %d", n)
	}
	if !strings.HasPrefix(buf.String(), "From ") {
		t.Fatalf("export does not start with a From line: %q", buf.String()[:20])
	}

	restored := model.Folder{Account: "local", Path: "Restored"}
	result, err = Import(ctx, b, restored, &buf, Options{}, nil)
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if result.Imported != 2 {
		t.Fatalf("expected 2 re-imported messages, got %d", result.Imported)
	}
	got := b.Messages("Restored")
	if got[0].HeaderMessageID != "note-1@example.com" || got[1].HeaderMessageID != "note-2@example.com" {
		t.Fatalf("unexpected restored messages: %+v", got)
	}
}

func TestImportCountsRejectedMessages(t *testing.T) {
	b := mailstoretest.NewBackend("local", model.AccountTypeLocal, "Trash")
	b.FailOn(mailstoretest.OpAppend, errors.New("disk full"))

	result, err := Import(context.Background(), b, model.Folder{Account: "local", Path: "Trash"}, strings.NewReader(sampleMbox), Options{}, nil)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.Failed != 3 || result.Imported != 0 {
		t.Fatalf("unexpected import result: %+v", result)
	}
}

func TestFromLine(t *testing.T) {
	tests := map[string]string{
		"\"Jane Doe\" <jane@example.com>": "jane@example.com",
		"bob@example.com":                 "bob@example.com",
		"":                                "MAILER-DAEMON",
		"Just A Name":                     "MAILER-DAEMON",
	}
	for in, want := range tests {
		if got := fromLine(in); got != want {
			t.Errorf("fromLine(%q) = %q, want %q", in, got, want)
		}
	}
}
