package note

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/imap-notes/model"
)

// Fetcher loads a message with its header record.
type Fetcher interface {
	GetFull(ctx context.Context, id model.MessageID) (*model.FullMessage, error)
}

// Parser turns stored messages into Notes.
type Parser struct {
	store  Fetcher
	logger *slog.Logger
}

func NewParser(store Fetcher, logger *slog.Logger) *Parser {
	return &Parser{store: store, logger: logger}
}

// Parse fetches id and decomposes it. Any failure, including a failed
// fetch, is reported as a *NotEditableError.
func (p *Parser) Parse(ctx context.Context, id model.MessageID) (*Note, error) {
	full, err := p.store.GetFull(ctx, id)
	if err != nil {
		return nil, p.reject(id, fmt.Errorf("fetch message: %w", err))
	}

	n, err := ParseMessage(full.Raw, full.Header)
	if err != nil {
		return nil, p.reject(id, err)
	}

	if p.logger != nil {
		p.logger.Debug("note parsed", "id", id, "html", n.HTML, "title", n.TitleInBody, "contentBytes", len(n.Content))
	}
	return n, nil
}

func (p *Parser) reject(id model.MessageID, err error) error {
	nerr := &NotEditableError{ID: id, Reason: err}
	var inner *NotEditableError
	if errors.As(err, &inner) {
		nerr.Reason = inner.Reason
	}
	if p.logger != nil {
		p.logger.Info("message is not an editable note", "id", id, "reason", nerr.Reason)
	}
	return nerr
}

// ParseMessage decomposes raw message bytes. identity is carried into the
// Note unchanged.
func ParseMessage(raw []byte, identity model.MessageHeader) (n *Note, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = nil, &NotEditableError{ID: identity.ID, Reason: fmt.Errorf("extract note: %v", r)}
		}
	}()

	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, &NotEditableError{ID: identity.ID, Reason: fmt.Errorf("read message: %w", err)}
	}

	headers := collectHeaders(entity.Header)
	if !strings.Contains(headers.Get(TypeMarkerHeader), TypeMarker) {
		return nil, &NotEditableError{ID: identity.ID, Reason: ErrMissingTypeMarker}
	}

	body, err := singlePartBody(entity)
	if err != nil {
		return nil, &NotEditableError{ID: identity.ID, Reason: err}
	}

	mh := mail.Header{Header: entity.Header}
	subject, _ := mh.Subject()

	n = &Note{
		Headers:  headers,
		Identity: identity,
		Subject:  subject,
	}

	text := stripLineBreaks(string(body))
	if !isHTMLBody(text) {
		n.Content = text
		return n, nil
	}

	env, ok := splitEnvelope(text)
	if !ok {
		return nil, &NotEditableError{ID: identity.ID, Reason: ErrMalformedEnvelope}
	}

	title, rest := splitTitle(env.inner)

	n.HTML = true
	n.Prefix = env.prefix + env.openTag
	n.Suffix = env.closeTag + env.suffix
	n.Content = blockContent(rest)
	n.TitleInBody = strings.TrimSpace(title)
	if n.TitleInBody == "" {
		n.TitleInBody = subject
	}

	return n, nil
}

func collectHeaders(h message.Header) Headers {
	var out Headers
	fields := h.Fields()
	for fields.Next() {
		out.Add(fields.Key(), fields.Value())
	}
	return out
}

// singlePartBody returns the decoded body of the only leaf entity.
func singlePartBody(entity *message.Entity) ([]byte, error) {
	var (
		leaves int
		body   []byte
	)
	err := entity.Walk(func(path []int, part *message.Entity, err error) error {
		if err != nil && !message.IsUnknownCharset(err) {
			return err
		}
		mediaType, _, _ := part.Header.ContentType()
		if strings.HasPrefix(mediaType, "multipart/") {
			return nil
		}
		leaves++
		if leaves > 1 {
			return ErrPartCount
		}
		b, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			return fmt.Errorf("read body: %w", readErr)
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	if leaves != 1 {
		return nil, ErrPartCount
	}
	return body, nil
}
