// Package replace swaps a stored note for a new message without ever
// leaving the store without a live copy: import the replacement, confirm it
// arrived in the original's folder, and only then retire the original.
package replace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/dhcgn/imap-notes/mailstore"
	"github.com/dhcgn/imap-notes/model"
	"github.com/dhcgn/imap-notes/retry"
	"github.com/dhcgn/imap-notes/state"
	"github.com/dhcgn/imap-notes/stats"
)

const (
	// DefaultRelocateAttempts matches the Notes app's own tolerance for the
	// store to index a moved message.
	DefaultRelocateAttempts = 21
	DefaultRelocateInterval = 500 * time.Millisecond

	// TrashFolderName is created under the local account when it has no
	// trash folder.
	TrashFolderName = "Trash"
)

// Options tunes the relocate poll and staging. Zero values take the defaults.
type Options struct {
	RelocateAttempts int
	RelocateInterval time.Duration
	// StagingDir receives a copy of every staged message. Empty disables
	// the on-disk copy.
	StagingDir string
	// NewID overrides the identifier source.
	NewID func() uuid.UUID
}

// Request is one replacement.
type Request struct {
	Original   model.MessageHeader
	Composed   []byte
	KeepBackup bool
	// Events receives progress events. Optional.
	Events stats.Sink
}

// Replacer swaps a stored message for a composed replacement.
type Replacer struct {
	store   mailstore.Store
	opts    Options
	journal state.Journal
	logger  *slog.Logger
}

// New returns a Replacer over store. journal and logger may be nil.
func New(store mailstore.Store, opts Options, journal state.Journal, logger *slog.Logger) (*Replacer, error) {
	if store == nil {
		return nil, fmt.Errorf("store must not be nil")
	}
	if opts.RelocateAttempts <= 0 {
		opts.RelocateAttempts = DefaultRelocateAttempts
	}
	if opts.RelocateInterval <= 0 {
		opts.RelocateInterval = DefaultRelocateInterval
	}
	if opts.NewID == nil {
		opts.NewID = uuid.New
	}
	if opts.StagingDir != "" {
		if err := os.MkdirAll(opts.StagingDir, 0o700); err != nil {
			return nil, fmt.Errorf("create staging directory: %w", err)
		}
	}
	return &Replacer{store: store, opts: opts, journal: journal, logger: logger}, nil
}

// workflow carries the state of one Replace call.
type workflow struct {
	req        Request
	ids        stagedIDs
	stagedPath string
	trash      model.Folder
}

func (w *workflow) emit(stage stats.Stage, typ stats.EventType, detail string, err error) {
	if w.req.Events == nil {
		return
	}
	w.req.Events.Emit(stats.Event{
		Stage:     stage,
		Type:      typ,
		MessageID: w.req.Original.ID.String(),
		Err:       err,
		Detail:    detail,
	})
}

// Replace runs stage, import, relocate and finalize and returns the header
// of the confirmed replacement. Every failure is an *Error.
func (r *Replacer) Replace(ctx context.Context, req Request) (*model.MessageHeader, error) {
	id := r.opts.NewID()
	w := &workflow{req: req, ids: newStagedIDs(id, req.Original.Author)}

	staged, err := r.stage(w, id)
	if err != nil {
		return nil, r.fail(w, KindImportFailed, stats.StageStage, err)
	}

	imported, err := r.importStaged(ctx, w, staged)
	if err != nil {
		return nil, err
	}

	moved, err := r.relocate(ctx, w, imported)
	if err != nil {
		return nil, err
	}

	if err := r.finalize(ctx, w); err != nil {
		return nil, err
	}

	if w.stagedPath != "" {
		if err := os.Remove(w.stagedPath); err != nil && r.logger != nil {
			r.logger.Warn("remove staged message failed", "path", w.stagedPath, "err", err)
		}
	}
	r.record(w, state.OutcomeReplaced, moved.ID, nil)
	if r.logger != nil {
		r.logger.Info("note replaced", "original", req.Original.ID, "replacement", moved.ID, "messageID", w.ids.MessageID, "keepBackup", req.KeepBackup)
	}
	return &moved, nil
}

func (r *Replacer) stage(w *workflow, id uuid.UUID) ([]byte, error) {
	staged, err := stageMessage(w.req.Composed, w.ids)
	if err != nil {
		return nil, err
	}
	if r.opts.StagingDir != "" {
		path := filepath.Join(r.opts.StagingDir, id.String()+".eml")
		if err := os.WriteFile(path, staged, 0o600); err != nil {
			return nil, fmt.Errorf("write staged message: %w", err)
		}
		w.stagedPath = path
	}
	w.emit(stats.StageStage, stats.EventTypeStaged, w.ids.MessageID, nil)
	return staged, nil
}

func (r *Replacer) importStaged(ctx context.Context, w *workflow, staged []byte) (model.MessageHeader, error) {
	trash, err := r.localTrash(ctx)
	if err != nil {
		r.discardStaged(w)
		return model.MessageHeader{}, r.fail(w, KindStoreUnavailable, stats.StageImport, err)
	}
	w.trash = trash

	props := model.ImportProperties{
		Flagged: w.req.Original.Flagged,
		Read:    w.req.Original.Read,
		Tags:    w.req.Original.Tags,
	}
	imported, err := r.store.Import(ctx, trash, staged, props)
	if err != nil {
		r.discardStaged(w)
		return model.MessageHeader{}, r.fail(w, KindImportFailed, stats.StageImport, err)
	}

	w.emit(stats.StageImport, stats.EventTypeImported, imported.ID.String(), nil)
	if r.logger != nil {
		r.logger.Debug("replacement imported", "id", imported.ID, "folder", trash.Path)
	}
	return imported, nil
}

// localTrash finds the trash folder of the first local account, creating
// it when missing.
func (r *Replacer) localTrash(ctx context.Context) (model.Folder, error) {
	accounts, err := r.store.ListAccounts(ctx)
	if err != nil {
		return model.Folder{}, fmt.Errorf("list accounts: %w", err)
	}

	var local *model.Account
	for i := range accounts {
		if accounts[i].Type == model.AccountTypeLocal {
			local = &accounts[i]
			break
		}
	}
	if local == nil {
		return model.Folder{}, errors.New("no local account")
	}

	folders, err := r.store.SubFolders(ctx, local.Root)
	if err != nil {
		return model.Folder{}, fmt.Errorf("list folders of %s: %w", local.ID, err)
	}
	for _, f := range folders {
		if f.Type == model.FolderTypeTrash {
			return f, nil
		}
	}

	trash, err := r.store.CreateFolder(ctx, local.Root, TrashFolderName)
	if err != nil {
		return model.Folder{}, fmt.Errorf("create %s in %s: %w", TrashFolderName, local.ID, err)
	}
	if r.logger != nil {
		r.logger.Info("created local trash folder", "account", local.ID, "folder", trash.Path)
	}
	return trash, nil
}

func (r *Replacer) relocate(ctx context.Context, w *workflow, imported model.MessageHeader) (model.MessageHeader, error) {
	dest := w.req.Original.Folder()

	if err := r.store.Move(ctx, []model.MessageID{imported.ID}, dest); err != nil {
		w.emit(stats.StageRelocate, stats.EventTypeError, "", err)
		if r.logger != nil {
			r.logger.Warn("move of replacement reported an error, polling anyway", "id", imported.ID, "dest", dest.Path, "err", err)
		}
	} else {
		w.emit(stats.StageRelocate, stats.EventTypeMoved, dest.Path, nil)
	}

	query := model.Query{Folder: dest, HeaderMessageID: w.ids.MessageID}
	moved, err := retry.Attempt(ctx, r.opts.RelocateAttempts, r.opts.RelocateInterval, func(ctx context.Context) (model.MessageHeader, bool) {
		h, found := r.findMoved(ctx, query, w.req.Original.ID)
		if !found {
			w.emit(stats.StageRelocate, stats.EventTypePollMiss, "", nil)
		}
		return h, found
	})
	if err != nil {
		if r.logger != nil {
			r.logger.Error("replacement not found after update", "original", w.req.Original.ID, "messageID", w.ids.MessageID, "attempts", r.opts.RelocateAttempts, "staged", w.stagedPath)
		}
		return model.MessageHeader{}, r.fail(w, KindRelocateTimeout, stats.StageRelocate, err)
	}

	w.emit(stats.StageRelocate, stats.EventTypeConfirmed, moved.ID.String(), nil)
	return moved, nil
}

// findMoved walks every page of q for a message other than original. Query
// errors count as a miss.
func (r *Replacer) findMoved(ctx context.Context, q model.Query, original model.MessageID) (model.MessageHeader, bool) {
	list, err := r.store.Query(ctx, q)
	for {
		if err != nil {
			if r.logger != nil {
				r.logger.Debug("relocate query failed", "folder", q.Folder.Path, "err", err)
			}
			return model.MessageHeader{}, false
		}
		for _, h := range list.Messages {
			if mailstore.NormalizeMessageID(h.HeaderMessageID) == q.HeaderMessageID && h.ID != original {
				if list.ID != "" {
					r.store.ReleaseList(list.ID)
				}
				return h, true
			}
		}
		if list.ID == "" {
			return model.MessageHeader{}, false
		}
		list, err = r.store.ContinueList(ctx, list.ID)
	}
}

func (r *Replacer) finalize(ctx context.Context, w *workflow) error {
	orig := w.req.Original.ID
	if w.req.KeepBackup {
		if err := r.store.Move(ctx, []model.MessageID{orig}, w.trash); err != nil {
			return r.fail(w, KindFinalizeFailed, stats.StageFinalize, fmt.Errorf("move original to %s: %w", w.trash.Path, err))
		}
		w.emit(stats.StageFinalize, stats.EventTypeArchived, w.trash.Path, nil)
		return nil
	}

	if err := r.store.Delete(ctx, []model.MessageID{orig}, true); err != nil {
		return r.fail(w, KindFinalizeFailed, stats.StageFinalize, fmt.Errorf("delete original: %w", err))
	}
	w.emit(stats.StageFinalize, stats.EventTypeDeleted, "", nil)
	return nil
}

// discardStaged removes the staged copy when nothing reached the store.
func (r *Replacer) discardStaged(w *workflow) {
	if w.stagedPath == "" {
		return
	}
	if err := os.Remove(w.stagedPath); err == nil {
		w.stagedPath = ""
	}
}

func (r *Replacer) fail(w *workflow, kind Kind, stage stats.Stage, err error) error {
	rerr := &Error{
		Kind:            kind,
		Original:        w.req.Original.ID,
		HeaderMessageID: w.ids.MessageID,
		StagedPath:      w.stagedPath,
		Err:             err,
	}
	w.emit(stage, stats.EventTypeError, string(kind), rerr)
	r.record(w, state.Outcome(kind), model.MessageID{}, rerr)
	if r.logger != nil {
		r.logger.Warn("replace failed", "kind", kind, "original", w.req.Original.ID, "err", err)
	}
	return rerr
}

func (r *Replacer) record(w *workflow, outcome state.Outcome, replacement model.MessageID, err error) {
	if r.journal == nil {
		return
	}
	rec := state.Record{
		Original:        w.req.Original.ID.String(),
		Folder:          w.req.Original.ID.Folder,
		HeaderMessageID: w.ids.MessageID,
		Outcome:         outcome,
		StagedPath:      w.stagedPath,
	}
	if !replacement.IsZero() {
		rec.Replacement = replacement.String()
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if jerr := r.journal.Record(rec); jerr != nil && r.logger != nil {
		r.logger.Error("journal write failed", "outcome", outcome, "err", jerr)
	}
}
