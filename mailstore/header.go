package mailstore

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/dhcgn/imap-notes/model"
)

// HeaderFromRaw reads the header record fields stored in the message
// itself. Store-side fields (id, flags, tags) are left empty.
func HeaderFromRaw(raw []byte) (model.MessageHeader, error) {
	th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return model.MessageHeader{}, fmt.Errorf("read header: %w", err)
	}
	h := mail.Header{Header: message.Header{Header: th}}

	out := model.MessageHeader{
		HeaderMessageID: NormalizeMessageID(h.Get("Message-Id")),
		Size:            int64(len(raw)),
	}
	if subject, err := h.Subject(); err == nil {
		out.Subject = subject
	} else {
		out.Subject = h.Get("Subject")
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		out.Author = from[0].String()
	} else {
		out.Author = h.Get("From")
	}
	if date, err := h.Date(); err == nil {
		out.Date = date
	}
	return out, nil
}

// NormalizeMessageID strips angle brackets and surrounding space so ids
// from different sources compare equal.
func NormalizeMessageID(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "<")
	v = strings.TrimSuffix(v, ">")
	return strings.TrimSpace(v)
}
