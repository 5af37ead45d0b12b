package replace

import (
	"errors"
	"fmt"

	"github.com/dhcgn/imap-notes/model"
)

// Kind classifies a failed replacement.
type Kind string

const (
	KindStoreUnavailable Kind = "store_unavailable"
	KindImportFailed     Kind = "import_failed"
	KindRelocateTimeout  Kind = "relocate_timeout"
	KindFinalizeFailed   Kind = "finalize_failed"
)

var (
	// ErrStoreUnavailable: no local account or trash folder could be used.
	// Nothing was written.
	ErrStoreUnavailable = errors.New("no usable local account or trash folder")
	// ErrImportFailed: the store rejected the staged message. Nothing was
	// written.
	ErrImportFailed = errors.New("import of replacement failed")
	// ErrRelocateTimeout: the moved copy never showed up in the original's
	// folder. The imported copy is left in place.
	ErrRelocateTimeout = errors.New("not found after update")
	// ErrFinalizeFailed: the replacement is confirmed but the original could
	// not be retired. Two live copies may exist; do not retry the save.
	ErrFinalizeFailed = errors.New("original could not be retired")
)

var kindErrors = map[Kind]error{
	KindStoreUnavailable: ErrStoreUnavailable,
	KindImportFailed:     ErrImportFailed,
	KindRelocateTimeout:  ErrRelocateTimeout,
	KindFinalizeFailed:   ErrFinalizeFailed,
}

// Error is returned by Replace for every failure. It matches the sentinel
// of its Kind with errors.Is and unwraps to the store error.
type Error struct {
	Kind            Kind
	Original        model.MessageID
	HeaderMessageID string
	// StagedPath is the staged copy on disk, kept for recovery after a
	// relocate timeout.
	StagedPath string
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("replace %s: %v", e.Original, kindErrors[e.Kind])
	}
	return fmt.Sprintf("replace %s: %v: %v", e.Original, kindErrors[e.Kind], e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return kindErrors[e.Kind] == target
}
