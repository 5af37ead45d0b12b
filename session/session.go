// Package session holds the state of one open note editor: the parsed
// Note, the busy flag that vetoes closing during a save, and the
// reparse that replaces the Note after a successful save.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dhcgn/imap-notes/model"
	"github.com/dhcgn/imap-notes/note"
	"github.com/dhcgn/imap-notes/replace"
	"github.com/dhcgn/imap-notes/stats"
)

var (
	ErrBusy   = errors.New("a save is already running")
	ErrClosed = errors.New("session is closed")
	// ErrReparse means the replacement was stored but could not be read
	// back as a note.
	ErrReparse = errors.New("replacement saved but could not be reopened")
)

// Preferences supplies the keep-backup setting at save time.
type Preferences interface {
	KeepBackup() bool
}

type Replacer interface {
	Replace(ctx context.Context, req replace.Request) (*model.MessageHeader, error)
}

type Deps struct {
	Store    note.Fetcher
	Replacer Replacer
	Prefs    Preferences
	Logger   *slog.Logger
	// Now stamps composed messages. Defaults to time.Now.
	Now func() time.Time
}

type Session struct {
	deps   Deps
	parser *note.Parser
	tabID  int64

	mu     sync.Mutex
	note   *note.Note
	closed bool

	busy atomic.Bool
}

// Open parses id and returns a session for it. A message that is not an
// editable note yields a *note.NotEditableError.
func Open(ctx context.Context, deps Deps, id model.MessageID, tabID int64) (*Session, error) {
	if deps.Store == nil || deps.Replacer == nil {
		return nil, fmt.Errorf("session needs a store and a replacer")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	parser := note.NewParser(deps.Store, deps.Logger)
	n, err := parser.Parse(ctx, id)
	if err != nil {
		return nil, err
	}

	if deps.Logger != nil {
		deps.Logger.Info("editor session opened", "id", id, "tab", tabID, "title", n.TitleInBody)
	}
	return &Session{deps: deps, parser: parser, tabID: tabID, note: n}, nil
}

func (s *Session) Note() *note.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.note
}

func (s *Session) TabID() int64 {
	return s.tabID
}

func (s *Session) Busy() bool {
	return s.busy.Load()
}

// Save composes the edited fragment and subject into a replacement and
// swaps it in. The workflow is not cancelable once started; ctx only
// carries values. On success the session holds the reparsed replacement.
func (s *Session) Save(ctx context.Context, fragment, subject string) (*note.Note, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.busy.Store(false)

	s.mu.Lock()
	current, closed := s.note, s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	ctx = context.WithoutCancel(ctx)
	keepBackup := replaceDefaultKeepBackup
	if s.deps.Prefs != nil {
		keepBackup = s.deps.Prefs.KeepBackup()
	}

	composed, err := note.Compose(current, fragment, subject, s.deps.Now())
	if err != nil {
		return nil, fmt.Errorf("compose replacement: %w", err)
	}

	reporter := stats.NewReporter(s.deps.Logger)
	moved, err := s.deps.Replacer.Replace(ctx, replace.Request{
		Original:   current.Identity,
		Composed:   composed,
		KeepBackup: keepBackup,
		Events:     reporter,
	})
	reporter.Report()
	if err != nil {
		return nil, err
	}

	next, err := s.parser.Parse(ctx, moved.ID)
	if err != nil {
		// Keep pointing at the stored replacement so a retry edits it
		// rather than the retired original.
		stale := *current
		stale.Identity = *moved
		s.setNote(&stale)
		return nil, fmt.Errorf("%w: %v", ErrReparse, err)
	}

	s.setNote(next)
	return next, nil
}

func (s *Session) setNote(n *note.Note) {
	s.mu.Lock()
	s.note = n
	s.mu.Unlock()
}

// RequestClose reports whether the editor may close. It refuses while a
// save is running.
func (s *Session) RequestClose() bool {
	if s.busy.Load() {
		if s.deps.Logger != nil {
			s.deps.Logger.Warn("close vetoed, save in progress", "id", s.Note().Identity.ID)
		}
		return false
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return true
}

// replaceDefaultKeepBackup applies when no preference source is set.
const replaceDefaultKeepBackup = true
