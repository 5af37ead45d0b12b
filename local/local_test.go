package local

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/imap-notes/mailstore"
	"github.com/dhcgn/imap-notes/model"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := b.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})
	return b
}

const sampleRaw = "Message-Id: <abc@example.com>\r\n" +
	"Subject: Groceries\r\n" +
	"From: Jane <jane@example.com>\r\n" +
	"Date: Mon, 02 Mar 2026 11:00:00 +0000\r\n" +
	"\r\n" +
	"<body>Groceries<div>milk</div></body>"

func TestAccountIsLocal(t *testing.T) {
	b := newTestBackend(t)
	acct := b.Account()
	assert.Equal(t, AccountID, acct.ID)
	assert.Equal(t, model.AccountTypeLocal, acct.Type)
	assert.Equal(t, AccountID, acct.Root.Account)
}

func TestCreateFolderMarksTrash(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	trash, err := b.CreateFolder(ctx, b.Account().Root, "Trash")
	require.NoError(t, err)
	assert.Equal(t, model.FolderTypeTrash, trash.Type)

	again, err := b.CreateFolder(ctx, b.Account().Root, "Trash")
	require.NoError(t, err)
	assert.Equal(t, trash, again)

	sub, err := b.CreateFolder(ctx, trash, "Old")
	require.NoError(t, err)
	assert.Equal(t, "Trash/Old", sub.Path)
	assert.Empty(t, sub.Type)

	found, err := mailstore.FindTrash(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "Trash", found.Path)

	_, err = b.CreateFolder(ctx, b.Account().Root, "a/b")
	assert.Error(t, err)
}

func TestAppendFetchRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	trash, err := b.CreateFolder(ctx, b.Account().Root, "Trash")
	require.NoError(t, err)

	h, err := b.Append(ctx, trash, []byte(sampleRaw), model.ImportProperties{Flagged: true, Read: true, Tags: []string{"$label1"}})
	require.NoError(t, err)
	assert.Equal(t, "abc@example.com", h.HeaderMessageID)
	assert.Equal(t, "Groceries", h.Subject)

	full, err := b.Fetch(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, sampleRaw, string(full.Raw))
	assert.True(t, full.Header.Flagged)
	assert.True(t, full.Header.Read)
	assert.Equal(t, []string{"$label1"}, full.Header.Tags)
	assert.Equal(t, 2026, full.Header.Date.Year())
	assert.Equal(t, int64(len(sampleRaw)), full.Header.Size)
}

func TestSearchByMessageID(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	trash, err := b.CreateFolder(ctx, b.Account().Root, "Trash")
	require.NoError(t, err)

	_, err = b.Append(ctx, trash, []byte(sampleRaw), model.ImportProperties{})
	require.NoError(t, err)
	_, err = b.Append(ctx, trash, []byte("Message-Id: <other@example.com>\r\n\r\nx"), model.ImportProperties{})
	require.NoError(t, err)

	hits, err := b.Search(ctx, trash, "<abc@example.com>")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "abc@example.com", hits[0].HeaderMessageID)

	all, err := b.Search(ctx, trash, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = b.Search(ctx, model.Folder{Account: AccountID, Path: "Nope"}, "")
	assert.ErrorIs(t, err, mailstore.ErrFolderNotFound)
}

func TestMoveAssignsNewUID(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	root := b.Account().Root
	trash, err := b.CreateFolder(ctx, root, "Trash")
	require.NoError(t, err)
	archive, err := b.CreateFolder(ctx, root, "Archive")
	require.NoError(t, err)

	h, err := b.Append(ctx, trash, []byte(sampleRaw), model.ImportProperties{Flagged: true})
	require.NoError(t, err)

	require.NoError(t, b.Move(ctx, []model.MessageID{h.ID}, archive))

	_, err = b.Header(ctx, h.ID)
	assert.ErrorIs(t, err, mailstore.ErrNotFound)

	moved, err := b.Search(ctx, archive, "abc@example.com")
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.NotEqual(t, h.ID.UID, moved[0].ID.UID)
	assert.True(t, moved[0].Flagged)

	err = b.Move(ctx, []model.MessageID{h.ID}, archive)
	assert.ErrorIs(t, err, mailstore.ErrNotFound)
}

func TestExpunge(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	trash, err := b.CreateFolder(ctx, b.Account().Root, "Trash")
	require.NoError(t, err)
	h, err := b.Append(ctx, trash, []byte(sampleRaw), model.ImportProperties{})
	require.NoError(t, err)

	require.NoError(t, b.Expunge(ctx, []model.MessageID{h.ID}))
	_, err = b.Fetch(ctx, h.ID)
	assert.ErrorIs(t, err, mailstore.ErrNotFound)
	assert.ErrorIs(t, b.Expunge(ctx, []model.MessageID{h.ID}), mailstore.ErrNotFound)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "local.db")

	b, err := Open(path, nil)
	require.NoError(t, err)
	trash, err := b.CreateFolder(ctx, b.Account().Root, "Trash")
	require.NoError(t, err)
	h, err := b.Append(ctx, trash, []byte(sampleRaw), model.ImportProperties{})
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b, err = Open(path, nil)
	require.NoError(t, err)
	defer b.Close()
	full, err := b.Fetch(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, sampleRaw, string(full.Raw))
}
