// Package note decomposes Apple Notes messages synced over IMAP into an
// immutable envelope and an editable HTML fragment, and composes replacement
// messages the Notes app keeps recognizing.
package note

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dhcgn/imap-notes/model"
)

const (
	// TypeMarkerHeader carries the foreign type marker of a note.
	TypeMarkerHeader = "X-Uniform-Type-Identifier"
	// TypeMarker is the identifier the Notes app stores in TypeMarkerHeader.
	TypeMarker = "com.apple.mail-note"
	// UniqueIDHeader is the Notes app's own uniqueness header.
	UniqueIDHeader = "X-Universally-Unique-Identifier"

	// EmptyBlock is the canonical body of an empty note.
	EmptyBlock = "<div><br></div>"
)

var (
	// ErrNotEditable is matched by every NotEditableError.
	ErrNotEditable = errors.New("message is not an editable note")

	ErrMissingTypeMarker = errors.New("type marker header missing")
	ErrPartCount         = errors.New("message must have exactly one body part")
	ErrMalformedEnvelope = errors.New("body tags could not be located")
)

// NotEditableError is returned when a message cannot be edited as a note.
// Reason keeps the underlying cause for diagnosis.
type NotEditableError struct {
	ID     model.MessageID
	Reason error
}

func (e *NotEditableError) Error() string {
	if e.ID.IsZero() {
		return fmt.Sprintf("not an editable note: %v", e.Reason)
	}
	return fmt.Sprintf("message %s is not an editable note: %v", e.ID, e.Reason)
}

func (e *NotEditableError) Unwrap() error {
	return e.Reason
}

func (e *NotEditableError) Is(target error) bool {
	return target == ErrNotEditable
}

// Field is a single header name and value.
type Field struct {
	Key   string
	Value string
}

// Headers maps header names case-insensitively to their first value,
// keeping the original order. Repeated headers after the first are dropped.
type Headers struct {
	fields []Field
	index  map[string]int
}

// Add records key unless it is already present. It reports whether the
// field was kept.
func (h *Headers) Add(key, value string) bool {
	lower := strings.ToLower(key)
	if h.index == nil {
		h.index = make(map[string]int)
	}
	if _, ok := h.index[lower]; ok {
		return false
	}
	h.index[lower] = len(h.fields)
	h.fields = append(h.fields, Field{Key: key, Value: value})
	return true
}

// Get returns the value of key or "".
func (h Headers) Get(key string) string {
	if i, ok := h.index[strings.ToLower(key)]; ok {
		return h.fields[i].Value
	}
	return ""
}

// Has reports whether key is present.
func (h Headers) Has(key string) bool {
	_, ok := h.index[strings.ToLower(key)]
	return ok
}

// Fields returns a copy of all fields in original order.
func (h Headers) Fields() []Field {
	out := make([]Field, len(h.fields))
	copy(out, h.fields)
	return out
}

func (h Headers) Len() int {
	return len(h.fields)
}

// Note is one edit session's view of a message. It is never mutated after
// parsing; a successful save produces a fresh Note from the new message.
type Note struct {
	Headers  Headers
	Identity model.MessageHeader

	// Subject is the decoded Subject header.
	Subject string

	// Prefix and Suffix are the bytes around the editable region: everything
	// up to and including the opening body tag, and everything from the
	// closing body tag on. Both are empty for plain-text notes.
	Prefix string
	Suffix string

	// Content is the editable fragment, starting at the first block element
	// for HTML notes.
	Content string

	// TitleInBody is the loose title text the Notes app writes before the
	// first block element.
	TitleInBody string

	HTML bool
}
