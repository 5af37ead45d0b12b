// Package mailstore defines the message store contracts used by the editor
// and routes them to per-account backends.
package mailstore

import (
	"context"
	"errors"
	"strings"

	"github.com/dhcgn/imap-notes/model"
)

var (
	ErrNotFound       = errors.New("message not found")
	ErrUnknownAccount = errors.New("unknown account")
	ErrUnknownList    = errors.New("unknown or exhausted message list")
	ErrFolderNotFound = errors.New("folder not found")
	ErrNoTrash        = errors.New("account has no trash folder")
)

// Reader is the read side of the message store.
type Reader interface {
	GetFull(ctx context.Context, id model.MessageID) (*model.FullMessage, error)
	Get(ctx context.Context, id model.MessageID) (model.MessageHeader, error)
	Query(ctx context.Context, q model.Query) (*model.MessageList, error)
	ContinueList(ctx context.Context, listID string) (*model.MessageList, error)
	// ReleaseList drops the remaining pages of a list the caller stops
	// reading. Unknown ids are ignored.
	ReleaseList(listID string)
}

// Writer is the write side of the message store. Move does not report the
// ids of the moved messages; callers find them again with Query.
type Writer interface {
	Import(ctx context.Context, folder model.Folder, raw []byte, props model.ImportProperties) (model.MessageHeader, error)
	Move(ctx context.Context, ids []model.MessageID, dest model.Folder) error
	Delete(ctx context.Context, ids []model.MessageID, permanent bool) error
	ListAccounts(ctx context.Context) ([]model.Account, error)
	SubFolders(ctx context.Context, parent model.Folder) ([]model.Folder, error)
	CreateFolder(ctx context.Context, parent model.Folder, name string) (model.Folder, error)
}

type Store interface {
	Reader
	Writer
}

// Backend serves a single account. Folder paths use "/" as separator.
type Backend interface {
	Account() model.Account
	Folders(ctx context.Context) ([]model.Folder, error)
	CreateFolder(ctx context.Context, parent model.Folder, name string) (model.Folder, error)
	Fetch(ctx context.Context, id model.MessageID) (*model.FullMessage, error)
	Header(ctx context.Context, id model.MessageID) (model.MessageHeader, error)
	Search(ctx context.Context, folder model.Folder, headerMessageID string) ([]model.MessageHeader, error)
	Append(ctx context.Context, folder model.Folder, raw []byte, props model.ImportProperties) (model.MessageHeader, error)
	Move(ctx context.Context, ids []model.MessageID, dest model.Folder) error
	// Expunge removes messages permanently.
	Expunge(ctx context.Context, ids []model.MessageID) error
}

// ChildPath joins a folder name below parent.
func ChildPath(parent model.Folder, name string) string {
	if parent.Path == "" {
		return name
	}
	return parent.Path + "/" + name
}

// IsDirectChild reports whether path sits exactly one level below parent.
func IsDirectChild(parent model.Folder, path string) bool {
	rest := path
	if parent.Path != "" {
		prefix := parent.Path + "/"
		if !strings.HasPrefix(path, prefix) {
			return false
		}
		rest = path[len(prefix):]
	}
	return rest != "" && !strings.Contains(rest, "/")
}

// FolderName returns the last path element.
func FolderName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// FindTrash returns the trash folder of an account.
func FindTrash(ctx context.Context, b Backend) (model.Folder, error) {
	folders, err := b.Folders(ctx)
	if err != nil {
		return model.Folder{}, err
	}
	for _, f := range folders {
		if f.Type == model.FolderTypeTrash {
			return f, nil
		}
	}
	return model.Folder{}, ErrNoTrash
}
