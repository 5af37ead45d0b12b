package note

import (
	"bytes"
	"fmt"
	stdmail "net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// HTTPDate is the UTC layout written to Date and X-Mail-Created-Date. The
// Notes app drops notes whose two dates use different zones.
const HTTPDate = "Mon, 02 Jan 2006 15:04:05 GMT"

const (
	createdDateHeader = "X-Mail-Created-Date"

	// titleSeparator follows the loose title, as the Notes app writes it.
	titleSeparator = "\n    "
)

var (
	paragraphOpen  = regexp.MustCompile(`(?i)<p>`)
	paragraphClose = regexp.MustCompile(`(?i)</p>`)
	startsWithTag  = regexp.MustCompile(`^\s*<`)
)

// droppedHeaders are regenerated by the writer or only meaningful to the
// mailbox the original lived in.
var droppedHeaders = map[string]bool{
	"content-type":              true,
	"content-transfer-encoding": true,
	"x-mozilla-keys":            true,
	"x-mozilla-status":          true,
	"x-mozilla-status2":         true,
}

// NormalizeFragment converts editor paragraphs into the div blocks the
// Notes app uses and maps empty input to EmptyBlock.
func NormalizeFragment(fragment string) string {
	s := paragraphOpen.ReplaceAllString(fragment, "<div>")
	s = paragraphClose.ReplaceAllString(s, "</div>")
	if t := strings.TrimSpace(s); t == "" || t == EmptyBlock {
		return EmptyBlock
	}
	return s
}

// ComposeBody returns the full replacement body: envelope prefix, loose
// title line, fragment, envelope suffix. The title line is always built from
// subject. Plain-text notes get the normalized fragment alone, so a reparse
// yields the same content.
func ComposeBody(n *Note, fragment, subject string) string {
	content := NormalizeFragment(fragment)
	if !n.HTML {
		return content
	}
	if !startsWithTag.MatchString(content) {
		content = "<div>" + content + "</div>"
	}
	return n.Prefix + subject + titleSeparator + content + n.Suffix
}

// Compose builds the raw replacement message for n with the edited fragment
// and subject. now stamps the Date header.
func Compose(n *Note, fragment, subject string, now time.Time) ([]byte, error) {
	h := composeHeader(n, subject, now)

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	if _, err := w.Write([]byte(ComposeBody(n, fragment, subject))); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

func composeHeader(n *Note, subject string, now time.Time) mail.Header {
	var h mail.Header
	date := now.UTC().Format(HTTPDate)

	// Add prepends in the written output, so walk backwards to keep the
	// original order.
	fields := n.Headers.Fields()
	for i := len(fields) - 1; i >= 0; i-- {
		f := fields[i]
		key := strings.ToLower(f.Key)
		switch {
		case droppedHeaders[key]:
		case key == "date":
			h.Add(f.Key, date)
		case key == strings.ToLower(createdDateHeader):
			h.Add(f.Key, utcDate(f.Value))
		case key == "subject":
			h.SetSubject(subject)
		case key == "from":
			addrs, err := mail.ParseAddressList(f.Value)
			if err != nil || len(addrs) == 0 {
				h.Add(f.Key, f.Value)
				continue
			}
			h.SetAddressList("From", addrs)
		default:
			h.Add(f.Key, f.Value)
		}
	}

	if !n.Headers.Has("Subject") {
		h.SetSubject(subject)
	}
	h.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "8bit")
	return h
}

// utcDate re-renders an RFC 5322 date in HTTPDate form. Unparsable values
// pass through.
func utcDate(v string) string {
	t, err := stdmail.ParseDate(v)
	if err != nil {
		return v
	}
	return t.UTC().Format(HTTPDate)
}
