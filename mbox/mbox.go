// Package mbox copies local folders to and from mbox streams so the local
// trash holding replaced originals can be backed up and restored.
package mbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/imap-notes/mailstore"
	"github.com/dhcgn/imap-notes/model"
)

var errFilterModeConflict = errors.New("include and exclude filters are mutually exclusive")

// NotesOnly is the header pattern that selects Apple Notes messages.
const NotesOnly = `(?mi)^X-Uniform-Type-Identifier:\s*com\.apple\.mail-note`

type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// Envelope is one message read from a stream, or the error that stopped it.
type Envelope struct {
	Index int
	Raw   []byte
	Err   error
}

type Reader interface {
	Stream(ctx context.Context, out chan<- Envelope) error
}

func NewReader(r io.Reader, opts Options, logger *slog.Logger) (Reader, error) {
	if r == nil {
		return nil, fmt.Errorf("mbox source is nil")
	}

	includeHeader, err := compilePatterns(opts.IncludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile include-header pattern: %w", err)
	}
	includeBody, err := compilePatterns(opts.IncludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile include-body pattern: %w", err)
	}
	excludeHeader, err := compilePatterns(opts.ExcludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-header pattern: %w", err)
	}
	excludeBody, err := compilePatterns(opts.ExcludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-body pattern: %w", err)
	}

	includeActive := len(includeHeader) > 0 || len(includeBody) > 0
	excludeActive := len(excludeHeader) > 0 || len(excludeBody) > 0
	if includeActive && excludeActive {
		return nil, errFilterModeConflict
	}

	return &streamReader{
		src:            r,
		logger:         logger,
		includeMode:    includeActive,
		excludeMode:    excludeActive,
		includeHeader:  includeHeader,
		includeBody:    includeBody,
		excludeHeader:  excludeHeader,
		excludeBody:    excludeBody,
		needHeaderText: len(includeHeader) > 0 || len(excludeHeader) > 0,
		needBodyText:   len(includeBody) > 0 || len(excludeBody) > 0,
	}, nil
}

type streamReader struct {
	src            io.Reader
	logger         *slog.Logger
	includeMode    bool
	excludeMode    bool
	includeHeader  []*regexp.Regexp
	includeBody    []*regexp.Regexp
	excludeHeader  []*regexp.Regexp
	excludeBody    []*regexp.Regexp
	needHeaderText bool
	needBodyText   bool
}

// Stream sends every message that passes the filters. A read error is sent
// as an Envelope and ends the stream.
func (s *streamReader) Stream(ctx context.Context, out chan<- Envelope) error {
	reader := mboxlib.NewReader(s.src)

	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return s.emitError(ctx, out, fmt.Errorf("message %d: %w", idx, err))
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return s.emitError(ctx, out, fmt.Errorf("message %d read: %w", idx, err))
		}

		header, body := splitRawMessage(raw)
		if !s.allows(header, body) {
			if s.logger != nil {
				s.logger.Debug("mbox message filtered", "index", idx)
			}
			continue
		}

		if err := emitEnvelope(ctx, out, Envelope{Index: idx, Raw: raw}); err != nil {
			return err
		}
	}
}

func (s *streamReader) allows(header, body []byte) bool {
	var headerText, bodyText string
	if s.needHeaderText {
		headerText = string(header)
	}
	if s.needBodyText {
		bodyText = string(body)
	}

	if s.includeMode {
		return matchAny(s.includeHeader, headerText) || matchAny(s.includeBody, bodyText)
	}

	if s.excludeMode {
		if matchAny(s.excludeHeader, headerText) || matchAny(s.excludeBody, bodyText) {
			return false
		}
	}

	return true
}

func (s *streamReader) emitError(ctx context.Context, out chan<- Envelope, err error) error {
	if s.logger != nil {
		s.logger.Error("mbox stream error", "err", err)
	}
	return emitEnvelope(ctx, out, Envelope{Err: err})
}

func emitEnvelope(ctx context.Context, out chan<- Envelope, env Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- env:
		return nil
	}
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func splitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}

	return raw, nil
}

// ImportResult counts the outcome of Import.
type ImportResult struct {
	Imported int
	Failed   int
}

// Import appends every message of r that passes opts into folder.
// Messages the backend rejects are counted and skipped; a broken stream
// stops the import.
func Import(ctx context.Context, b mailstore.Backend, folder model.Folder, r io.Reader, opts Options, logger *slog.Logger) (ImportResult, error) {
	reader, err := NewReader(r, opts, logger)
	if err != nil {
		return ImportResult{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan Envelope, 16)
	done := make(chan error, 1)
	go func() {
		done <- reader.Stream(ctx, out)
		close(out)
	}()

	var (
		result    ImportResult
		streamErr error
	)
	for env := range out {
		if env.Err != nil {
			streamErr = env.Err
			continue
		}
		h, err := b.Append(ctx, folder, env.Raw, model.ImportProperties{Read: true})
		if err != nil {
			result.Failed++
			if logger != nil {
				logger.Warn("mbox message not imported", "index", env.Index, "folder", folder.Path, "err", err)
			}
			continue
		}
		result.Imported++
		if logger != nil {
			logger.Debug("mbox message imported", "index", env.Index, "id", h.ID)
		}
	}

	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return result, err
	}
	if streamErr != nil {
		return result, streamErr
	}
	return result, nil
}

// Export writes every message of folder to w in mbox form and returns how
// many were written.
func Export(ctx context.Context, b mailstore.Backend, folder model.Folder, w io.Writer, logger *slog.Logger) (int, error) {
	headers, err := b.Search(ctx, folder, "")
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", folder.Path, err)
	}

	mw := mboxlib.NewWriter(w)
	count := 0
	for _, h := range headers {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		full, err := b.Fetch(ctx, h.ID)
		if err != nil {
			return count, fmt.Errorf("fetch %s: %w", h.ID, err)
		}

		date := h.Date
		if date.IsZero() {
			date = time.Now()
		}
		entry, err := mw.CreateMessage(fromLine(h.Author), date)
		if err != nil {
			return count, fmt.Errorf("create mbox entry: %w", err)
		}
		if _, err := entry.Write(full.Raw); err != nil {
			return count, fmt.Errorf("write mbox entry: %w", err)
		}
		count++
	}

	if err := mw.Close(); err != nil {
		return count, fmt.Errorf("close mbox writer: %w", err)
	}
	if logger != nil {
		logger.Info("mbox export finished", "folder", folder.Path, "messages", count)
	}
	return count, nil
}

// fromLine extracts the bare address for the mbox separator line.
func fromLine(author string) string {
	if i := strings.LastIndexByte(author, '<'); i >= 0 {
		if j := strings.IndexByte(author[i:], '>'); j > 0 {
			return author[i+1 : i+j]
		}
	}
	if author = strings.TrimSpace(author); author != "" && !strings.ContainsAny(author, " \t") {
		return author
	}
	return "MAILER-DAEMON"
}
