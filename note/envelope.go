package note

import (
	"regexp"
	"strings"
)

const (
	bodyOpen  = "<body"
	bodyClose = "</body>"
)

// blockStart matches a fragment that opens with a div or span container.
// This is a heuristic on the first tag only, not a markup parser.
var blockStart = regexp.MustCompile(`(?i)^\s*<(div|span)[^>]*>`)

var lineBreaks = strings.NewReplacer("\r", "", "\n", "")

// envelope is the four-range decomposition of an HTML note body.
type envelope struct {
	prefix   string // bytes before <body
	openTag  string // <body ...>, original bytes
	inner    string // between the body tags
	closeTag string // </body>, original bytes
	suffix   string // bytes after </body>
}

// stripLineBreaks drops every CR and LF. The Notes app inserts them at
// arbitrary positions, including inside tags.
func stripLineBreaks(s string) string {
	return lineBreaks.Replace(s)
}

// isHTMLBody reports whether both body tags are present, ignoring case.
func isHTMLBody(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, bodyOpen) && strings.Contains(lower, bodyClose)
}

// splitEnvelope locates the first opening body tag, the end of that tag and
// the first closing body tag after it. Tag matching ignores case; the
// returned ranges are slices of s.
func splitEnvelope(s string) (envelope, bool) {
	lower := strings.ToLower(s)

	open := strings.Index(lower, bodyOpen)
	if open < 0 {
		return envelope{}, false
	}
	gt := strings.IndexByte(s[open+len(bodyOpen):], '>')
	if gt < 0 {
		return envelope{}, false
	}
	innerStart := open + len(bodyOpen) + gt + 1

	rel := strings.Index(lower[innerStart:], bodyClose)
	if rel < 0 {
		return envelope{}, false
	}
	closeStart := innerStart + rel
	closeEnd := closeStart + len(bodyClose)

	return envelope{
		prefix:   s[:open],
		openTag:  s[open:innerStart],
		inner:    s[innerStart:closeStart],
		closeTag: s[closeStart:closeEnd],
		suffix:   s[closeEnd:],
	}, true
}

// splitTitle separates the loose title text before the first tag from the
// markup that follows. Without any tag the whole interior is the title.
func splitTitle(inner string) (title, rest string) {
	i := strings.IndexByte(inner, '<')
	switch {
	case i < 0:
		return inner, ""
	case i == 0:
		return "", inner
	default:
		return inner[:i], inner[i:]
	}
}

// blockContent returns the editable fragment for the markup after the
// title. Whitespace-only markup becomes EmptyBlock.
func blockContent(rest string) string {
	if blockStart.MatchString(rest) {
		return rest
	}
	if strings.TrimSpace(rest) == "" {
		return EmptyBlock
	}
	return rest
}

var legacyBlock = regexp.MustCompile(`(?i)<div`)

// LegacyContent reproduces the older extraction that discarded everything
// before the first div, loose title text included. It is kept for
// comparing notes written by older versions and is not used by Parse.
func LegacyContent(inner string) string {
	loc := legacyBlock.FindStringIndex(inner)
	if loc == nil {
		return EmptyBlock
	}
	return inner[loc[0]:]
}
