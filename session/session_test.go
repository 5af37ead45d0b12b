package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/imap-notes/mailstore"
	"github.com/dhcgn/imap-notes/mailstore/mailstoretest"
	"github.com/dhcgn/imap-notes/model"
	"github.com/dhcgn/imap-notes/note"
	"github.com/dhcgn/imap-notes/replace"
	"github.com/dhcgn/imap-notes/state"
)

const noteRaw = "X-Uniform-Type-Identifier: com.apple.mail-note\r\n" +
	"From: Jane Doe <jane@example.com>\r\n" +
	"Subject: Groceries\r\n" +
	"Message-Id: <note-1@example.com>\r\n" +
	"X-Universally-Unique-Identifier: 11111111-2222-3333-4444-555555555555\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<html><head></head><body>Groceries<div>milk</div></body></html>"

type staticPrefs bool

func (p staticPrefs) KeepBackup() bool { return bool(p) }

type env struct {
	remote  *mailstoretest.Backend
	local   *mailstoretest.Backend
	router  *mailstore.Router
	journal *state.MemoryJournal
	id      model.MessageID
	deps    Deps
}

func newEnv(t *testing.T, keepBackup bool) *env {
	t.Helper()
	e := &env{
		remote:  mailstoretest.NewBackend("imap", model.AccountTypeIMAP, "Notes", "trash:Deleted Messages"),
		local:   mailstoretest.NewBackend("local", model.AccountTypeLocal),
		journal: state.NewMemoryJournal(),
	}
	router, err := mailstore.NewRouter(nil, e.remote, e.local)
	require.NoError(t, err)
	e.router = router
	e.id = e.remote.Put("Notes", []byte(noteRaw)).ID

	r, err := replace.New(router, replace.Options{
		RelocateAttempts: 3,
		RelocateInterval: time.Millisecond,
		StagingDir:       filepath.Join(t.TempDir(), "staging"),
	}, e.journal, nil)
	require.NoError(t, err)

	e.deps = Deps{
		Store:    router,
		Replacer: r,
		Prefs:    staticPrefs(keepBackup),
		Now:      func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) },
	}
	return e
}

func TestOpenParsesNote(t *testing.T) {
	e := newEnv(t, true)
	s, err := Open(context.Background(), e.deps, e.id, 7)
	require.NoError(t, err)

	n := s.Note()
	assert.Equal(t, "Groceries", n.TitleInBody)
	assert.Equal(t, "<div>milk</div>", n.Content)
	assert.Equal(t, int64(7), s.TabID())
	assert.False(t, s.Busy())
}

func TestOpenRejectsPlainMail(t *testing.T) {
	e := newEnv(t, true)
	plain := e.remote.Put("Notes", []byte("Subject: hi\r\nMessage-Id: <m@x>\r\n\r\nhello"))

	_, err := Open(context.Background(), e.deps, plain.ID, 1)
	var nerr *note.NotEditableError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, plain.ID, nerr.ID)
}

func TestSaveReplacesNote(t *testing.T) {
	e := newEnv(t, true)
	s, err := Open(context.Background(), e.deps, e.id, 1)
	require.NoError(t, err)

	next, err := s.Save(context.Background(), "<p>eggs</p>", "Shopping")
	require.NoError(t, err)

	assert.Equal(t, "Shopping", next.Subject)
	assert.Equal(t, "Shopping", next.TitleInBody)
	assert.Equal(t, "<div>eggs</div>", next.Content)
	assert.NotEqual(t, e.id, next.Identity.ID)
	assert.Same(t, next, s.Note())

	notes := e.remote.Messages("Notes")
	require.Len(t, notes, 1)
	assert.Equal(t, next.Identity.ID, notes[0].ID)

	backup := e.local.Messages(replace.TrashFolderName)
	require.Len(t, backup, 1)
	assert.Equal(t, "note-1@example.com", backup[0].HeaderMessageID)

	recs := e.journal.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, state.OutcomeReplaced, recs[0].Outcome)
}

func TestSaveTwiceEditsReplacement(t *testing.T) {
	e := newEnv(t, false)
	s, err := Open(context.Background(), e.deps, e.id, 1)
	require.NoError(t, err)

	_, err = s.Save(context.Background(), "<div>one</div>", "First")
	require.NoError(t, err)
	second, err := s.Save(context.Background(), "<div>two</div>", "Second")
	require.NoError(t, err)

	notes := e.remote.Messages("Notes")
	require.Len(t, notes, 1)
	assert.Equal(t, second.Identity.ID, notes[0].ID)
	assert.Equal(t, "Second", notes[0].Subject)
	assert.Empty(t, e.local.Messages(replace.TrashFolderName))
}

func TestSaveFailureKeepsNote(t *testing.T) {
	e := newEnv(t, true)
	s, err := Open(context.Background(), e.deps, e.id, 1)
	require.NoError(t, err)
	before := s.Note()

	e.local.FailOn(mailstoretest.OpAppend, errors.New("disk full"))
	_, err = s.Save(context.Background(), "<div>x</div>", "X")
	require.ErrorIs(t, err, replace.ErrImportFailed)

	assert.Same(t, before, s.Note())
	assert.False(t, s.Busy())
	assert.True(t, s.RequestClose())
}

type blockingReplacer struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingReplacer) Replace(ctx context.Context, req replace.Request) (*model.MessageHeader, error) {
	close(b.entered)
	<-b.release
	return nil, replace.ErrRelocateTimeout
}

func TestCloseVetoedWhileSaving(t *testing.T) {
	e := newEnv(t, true)
	br := &blockingReplacer{entered: make(chan struct{}), release: make(chan struct{})}
	e.deps.Replacer = br
	s, err := Open(context.Background(), e.deps, e.id, 1)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.Save(context.Background(), "<div>x</div>", "X")
		done <- err
	}()
	<-br.entered

	assert.True(t, s.Busy())
	assert.False(t, s.RequestClose())
	_, err = s.Save(context.Background(), "<div>y</div>", "Y")
	assert.ErrorIs(t, err, ErrBusy)

	close(br.release)
	assert.ErrorIs(t, <-done, replace.ErrRelocateTimeout)
	assert.False(t, s.Busy())
	assert.True(t, s.RequestClose())

	_, err = s.Save(context.Background(), "<div>z</div>", "Z")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSaveIgnoresCanceledContext(t *testing.T) {
	e := newEnv(t, true)
	s, err := Open(context.Background(), e.deps, e.id, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Save(ctx, "<div>late</div>", "Late")
	require.NoError(t, err)
}
