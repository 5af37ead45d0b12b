package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// AccountTypeLocal marks an account that is not backed by a remote server.
	AccountTypeLocal = "none"
	// AccountTypeIMAP marks an IMAP-backed account.
	AccountTypeIMAP = "imap"

	// FolderTypeTrash marks the trash-equivalent folder of an account.
	FolderTypeTrash = "trash"
)

// MessageID identifies a single message inside one folder of one account.
type MessageID struct {
	Account string
	Folder  string
	UID     uint32
}

// String renders the id as account/folder/uid. Folder paths may contain
// slashes; the account is everything before the first one and the uid is
// everything after the last one.
func (id MessageID) String() string {
	return fmt.Sprintf("%s/%s/%d", id.Account, id.Folder, id.UID)
}

// IsZero reports whether the id is unset.
func (id MessageID) IsZero() bool {
	return id.Account == "" && id.Folder == "" && id.UID == 0
}

// ParseMessageID reverses MessageID.String.
func ParseMessageID(s string) (MessageID, error) {
	first := strings.IndexByte(s, '/')
	last := strings.LastIndexByte(s, '/')
	if first <= 0 || last <= first+1 || last == len(s)-1 {
		return MessageID{}, fmt.Errorf("invalid message id %q: want account/folder/uid", s)
	}
	uid, err := strconv.ParseUint(s[last+1:], 10, 32)
	if err != nil {
		return MessageID{}, fmt.Errorf("invalid message id %q: %w", s, err)
	}
	return MessageID{
		Account: s[:first],
		Folder:  s[first+1 : last],
		UID:     uint32(uid),
	}, nil
}

// Folder is a mailbox of an account. Path is empty for an account root.
type Folder struct {
	Account string
	Path    string
	Name    string
	Type    string
}

// Account is a configured message store account.
type Account struct {
	ID   string
	Name string
	Type string
	Root Folder
}

// MessageHeader is the header record of a stored message.
type MessageHeader struct {
	ID              MessageID
	HeaderMessageID string
	Subject         string
	Author          string
	Date            time.Time
	Flagged         bool
	Read            bool
	Tags            []string
	Size            int64
}

// Folder returns the folder that holds the message.
func (h MessageHeader) Folder() Folder {
	return Folder{Account: h.ID.Account, Path: h.ID.Folder}
}

// FullMessage carries the raw RFC 5322 bytes alongside the header record.
type FullMessage struct {
	Header MessageHeader
	Raw    []byte
}

// ImportProperties are applied to a message when it is imported.
type ImportProperties struct {
	Flagged bool
	Read    bool
	Tags    []string
}

// Query selects messages of one folder by their Message-Id header.
type Query struct {
	Folder          Folder
	HeaderMessageID string
}

// MessageList is one page of query results. A non-empty ID means more pages
// can be fetched with it.
type MessageList struct {
	ID       string
	Messages []MessageHeader
}
