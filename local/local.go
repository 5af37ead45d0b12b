// Package local stores the local, non-remote account in a SQLite database.
// The replace workflow imports staged messages into its trash folder.
package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/dhcgn/imap-notes/mailstore"
	"github.com/dhcgn/imap-notes/model"
)

const (
	AccountID   = "local"
	AccountName = "Local Folders"
)

// Backend implements mailstore.Backend for the local account.
type Backend struct {
	db     *sqlx.DB
	logger *slog.Logger
}

type messageRow struct {
	UID             int64  `db:"uid"`
	Folder          string `db:"folder"`
	HeaderMessageID string `db:"header_message_id"`
	Subject         string `db:"subject"`
	Author          string `db:"author"`
	DateUnix        int64  `db:"date_unix"`
	Flagged         bool   `db:"flagged"`
	Seen            bool   `db:"seen"`
	Tags            string `db:"tags"`
	Size            int64  `db:"size"`
}

type folderRow struct {
	Path string `db:"path"`
	Name string `db:"name"`
	Type string `db:"type"`
}

const headerColumns = `uid, folder, header_message_id, subject, author, date_unix, flagged, seen, tags, size`

// Open opens (or creates) the database at path and applies pending
// migrations. ":memory:" gives a throwaway store.
func Open(path string, logger *slog.Logger) (*Backend, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	b := &Backend{db: db, logger: logger}
	if err := b.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return b, nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := b.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = b.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := b.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		if b.logger != nil {
			b.logger.Debug("applied local store migration", "version", m.version)
		}
	}
	return nil
}

func (b *Backend) Account() model.Account {
	return model.Account{
		ID:   AccountID,
		Name: AccountName,
		Type: model.AccountTypeLocal,
		Root: model.Folder{Account: AccountID, Name: AccountName},
	}
}

func (b *Backend) Folders(ctx context.Context) ([]model.Folder, error) {
	var rows []folderRow
	if err := b.db.SelectContext(ctx, &rows, "SELECT path, name, type FROM folders ORDER BY path"); err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}
	out := make([]model.Folder, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Folder{Account: AccountID, Path: r.Path, Name: r.Name, Type: r.Type})
	}
	return out, nil
}

// CreateFolder returns the existing folder when path is taken. A top-level
// "Trash" becomes the account's trash folder.
func (b *Backend) CreateFolder(ctx context.Context, parent model.Folder, name string) (model.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, "/") {
		return model.Folder{}, fmt.Errorf("invalid folder name %q", name)
	}
	path := mailstore.ChildPath(parent, name)
	typ := ""
	if parent.Path == "" && strings.EqualFold(name, "Trash") {
		typ = model.FolderTypeTrash
	}

	if _, err := b.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO folders (path, name, type) VALUES (?, ?, ?)",
		path, name, typ,
	); err != nil {
		return model.Folder{}, fmt.Errorf("creating folder %s: %w", path, err)
	}

	var row folderRow
	if err := b.db.GetContext(ctx, &row, "SELECT path, name, type FROM folders WHERE path = ?", path); err != nil {
		return model.Folder{}, fmt.Errorf("reading folder %s: %w", path, err)
	}
	return model.Folder{Account: AccountID, Path: row.Path, Name: row.Name, Type: row.Type}, nil
}

func (b *Backend) folderExists(ctx context.Context, q sqlx.QueryerContext, path string) error {
	var n int
	if err := sqlx.GetContext(ctx, q, &n, "SELECT COUNT(*) FROM folders WHERE path = ?", path); err != nil {
		return fmt.Errorf("checking folder %s: %w", path, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", mailstore.ErrFolderNotFound, path)
	}
	return nil
}

func (b *Backend) Fetch(ctx context.Context, id model.MessageID) (*model.FullMessage, error) {
	h, err := b.Header(ctx, id)
	if err != nil {
		return nil, err
	}
	var raw []byte
	if err := b.db.GetContext(ctx, &raw, "SELECT raw FROM messages WHERE uid = ? AND folder = ?", id.UID, id.Folder); err != nil {
		return nil, fmt.Errorf("reading message %s: %w", id, err)
	}
	return &model.FullMessage{Header: h, Raw: raw}, nil
}

func (b *Backend) Header(ctx context.Context, id model.MessageID) (model.MessageHeader, error) {
	var row messageRow
	err := b.db.GetContext(ctx, &row,
		"SELECT "+headerColumns+" FROM messages WHERE uid = ? AND folder = ?",
		id.UID, id.Folder,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MessageHeader{}, fmt.Errorf("%w: %s", mailstore.ErrNotFound, id)
	}
	if err != nil {
		return model.MessageHeader{}, fmt.Errorf("reading message %s: %w", id, err)
	}
	return row.header()
}

// Search lists messages of folder. An empty headerMessageID matches all.
func (b *Backend) Search(ctx context.Context, folder model.Folder, headerMessageID string) ([]model.MessageHeader, error) {
	if err := b.folderExists(ctx, b.db, folder.Path); err != nil {
		return nil, err
	}

	query := "SELECT " + headerColumns + " FROM messages WHERE folder = ?"
	args := []any{folder.Path}
	if mid := mailstore.NormalizeMessageID(headerMessageID); mid != "" {
		query += " AND header_message_id = ?"
		args = append(args, mid)
	}
	query += " ORDER BY uid"

	var rows []messageRow
	if err := b.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("searching %s: %w", folder.Path, err)
	}
	out := make([]model.MessageHeader, 0, len(rows))
	for _, r := range rows {
		h, err := r.header()
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func (b *Backend) Append(ctx context.Context, folder model.Folder, raw []byte, props model.ImportProperties) (model.MessageHeader, error) {
	if err := b.folderExists(ctx, b.db, folder.Path); err != nil {
		return model.MessageHeader{}, err
	}
	h, err := mailstore.HeaderFromRaw(raw)
	if err != nil {
		return model.MessageHeader{}, err
	}
	tags := props.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return model.MessageHeader{}, fmt.Errorf("encoding tags: %w", err)
	}
	var dateUnix int64
	if !h.Date.IsZero() {
		dateUnix = h.Date.Unix()
	}

	res, err := b.db.ExecContext(ctx, `
		INSERT INTO messages (
			folder, header_message_id, subject, author, date_unix,
			flagged, seen, tags, size, raw
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		folder.Path, h.HeaderMessageID, h.Subject, h.Author, dateUnix,
		props.Flagged, props.Read, string(tagsJSON), len(raw), raw,
	)
	if err != nil {
		return model.MessageHeader{}, fmt.Errorf("inserting message: %w", err)
	}
	uid, err := res.LastInsertId()
	if err != nil {
		return model.MessageHeader{}, fmt.Errorf("reading new uid: %w", err)
	}

	h.ID = model.MessageID{Account: AccountID, Folder: folder.Path, UID: uint32(uid)}
	h.Flagged = props.Flagged
	h.Read = props.Read
	h.Tags = tags
	if b.logger != nil {
		b.logger.Debug("local message stored", "id", h.ID, "messageID", h.HeaderMessageID, "size", h.Size)
	}
	return h, nil
}

// Move re-inserts every message into dest so it gets a new uid, as an IMAP
// server would assign.
func (b *Backend) Move(ctx context.Context, ids []model.MessageID, dest model.Folder) error {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := b.folderExists(ctx, tx, dest.Path); err != nil {
		return err
	}

	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO messages (
				folder, header_message_id, subject, author, date_unix,
				flagged, seen, tags, size, raw
			)
			SELECT ?, header_message_id, subject, author, date_unix,
				flagged, seen, tags, size, raw
			FROM messages WHERE uid = ? AND folder = ?`,
			dest.Path, id.UID, id.Folder,
		)
		if err != nil {
			return fmt.Errorf("copying %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", mailstore.ErrNotFound, id)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE uid = ? AND folder = ?", id.UID, id.Folder); err != nil {
			return fmt.Errorf("removing %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing move: %w", err)
	}
	return nil
}

func (b *Backend) Expunge(ctx context.Context, ids []model.MessageID) error {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		res, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE uid = ? AND folder = ?", id.UID, id.Folder)
		if err != nil {
			return fmt.Errorf("deleting %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", mailstore.ErrNotFound, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	return nil
}

func (r messageRow) header() (model.MessageHeader, error) {
	var tags []string
	if err := json.Unmarshal([]byte(r.Tags), &tags); err != nil {
		return model.MessageHeader{}, fmt.Errorf("decoding tags of %d: %w", r.UID, err)
	}
	h := model.MessageHeader{
		ID:              model.MessageID{Account: AccountID, Folder: r.Folder, UID: uint32(r.UID)},
		HeaderMessageID: r.HeaderMessageID,
		Subject:         r.Subject,
		Author:          r.Author,
		Flagged:         r.Flagged,
		Read:            r.Seen,
		Tags:            tags,
		Size:            r.Size,
	}
	if r.DateUnix != 0 {
		h.Date = time.Unix(r.DateUnix, 0).UTC()
	}
	return h, nil
}
