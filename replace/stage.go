package replace

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/google/uuid"

	"github.com/dhcgn/imap-notes/note"
)

const messageIDHeader = "Message-Id"

// stagedIDs are the identifiers written into a staged message.
type stagedIDs struct {
	MessageID string // without angle brackets
	UniqueID  string
}

func newStagedIDs(id uuid.UUID, author string) stagedIDs {
	return stagedIDs{
		MessageID: id.String() + "@" + authorDomain(author),
		UniqueID:  strings.ToUpper(id.String()),
	}
}

// authorDomain returns the domain of the first author address or
// "localhost".
func authorDomain(author string) string {
	addrs, err := mail.ParseAddressList(author)
	if err != nil || len(addrs) == 0 {
		return "localhost"
	}
	at := strings.LastIndexByte(addrs[0].Address, '@')
	if at < 0 || at == len(addrs[0].Address)-1 {
		return "localhost"
	}
	return addrs[0].Address[at+1:]
}

// stageMessage substitutes the Message-Id and the Notes uniqueness header
// in composed. Every other field keeps its raw bytes and position; missing
// fields are added at the top.
func stageMessage(composed []byte, ids stagedIDs) ([]byte, error) {
	br := bufio.NewReader(bytes.NewReader(composed))
	h, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("read composed header: %w", err)
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return nil, fmt.Errorf("read composed body: %w", err)
	}

	type field struct {
		key string
		raw []byte
	}
	var fields []field
	for fs := h.Fields(); fs.Next(); {
		raw, err := fs.Raw()
		if err != nil {
			return nil, fmt.Errorf("header %s: %w", fs.Key(), err)
		}
		fields = append(fields, field{key: fs.Key(), raw: raw})
	}

	var out textproto.Header
	var haveMessageID, haveUniqueID bool
	for i := len(fields) - 1; i >= 0; i-- {
		switch {
		case strings.EqualFold(fields[i].key, messageIDHeader):
			out.Add(messageIDHeader, "<"+ids.MessageID+">")
			haveMessageID = true
		case strings.EqualFold(fields[i].key, note.UniqueIDHeader):
			out.Add(note.UniqueIDHeader, ids.UniqueID)
			haveUniqueID = true
		default:
			out.AddRaw(fields[i].raw)
		}
	}
	if !haveUniqueID {
		out.Add(note.UniqueIDHeader, ids.UniqueID)
	}
	if !haveMessageID {
		out.Add(messageIDHeader, "<"+ids.MessageID+">")
	}

	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, out); err != nil {
		return nil, fmt.Errorf("write staged header: %w", err)
	}
	buf.Write(body)
	return buf.Bytes(), nil
}
