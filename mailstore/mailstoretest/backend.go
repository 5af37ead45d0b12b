// Package mailstoretest provides an in-memory mailstore.Backend with
// failure injection for tests.
package mailstoretest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dhcgn/imap-notes/mailstore"
	"github.com/dhcgn/imap-notes/model"
)

// Operation names accepted by FailOn and Calls.
const (
	OpFolders = "folders"
	OpCreate  = "create"
	OpFetch   = "fetch"
	OpHeader  = "header"
	OpSearch  = "search"
	OpAppend  = "append"
	OpMove    = "move"
	OpExpunge = "expunge"
)

type stored struct {
	header model.MessageHeader
	raw    []byte
}

type Backend struct {
	mu       sync.Mutex
	account  model.Account
	folders  []model.Folder
	messages map[string]map[uint32]*stored
	nextUID  uint32
	failures map[string]error
	calls    map[string]int
	hidden   map[string]bool
}

// NewBackend returns an empty account with the given folders. Each entry is
// a path; a "trash:" prefix marks the trash folder.
func NewBackend(id, accountType string, folders ...string) *Backend {
	b := &Backend{
		account: model.Account{
			ID:   id,
			Name: id,
			Type: accountType,
			Root: model.Folder{Account: id},
		},
		messages: make(map[string]map[uint32]*stored),
		failures: make(map[string]error),
		calls:    make(map[string]int),
		hidden:   make(map[string]bool),
	}
	for _, path := range folders {
		typ := ""
		if len(path) > 6 && path[:6] == "trash:" {
			typ = model.FolderTypeTrash
			path = path[6:]
		}
		b.addFolder(path, typ)
	}
	return b
}

func (b *Backend) addFolder(path, typ string) model.Folder {
	f := model.Folder{Account: b.account.ID, Path: path, Name: mailstore.FolderName(path), Type: typ}
	b.folders = append(b.folders, f)
	b.messages[path] = make(map[uint32]*stored)
	return f
}

// FailOn makes every later call of op return err. A nil err clears it.
func (b *Backend) FailOn(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failures, op)
		return
	}
	b.failures[op] = err
}

// HideFromSearch keeps messages with the given Message-Id out of search
// results, as if the store had not indexed them yet.
func (b *Backend) HideFromSearch(headerMessageID string) {
	b.mu.Lock()
	b.hidden[mailstore.NormalizeMessageID(headerMessageID)] = true
	b.mu.Unlock()
}

// Calls returns how often op was invoked.
func (b *Backend) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// Messages returns the headers stored in path, ordered by uid.
func (b *Backend) Messages(path string) []model.MessageHeader {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sorted(path)
}

// Put stores raw directly in path and returns its header.
func (b *Backend) Put(path string, raw []byte) model.MessageHeader {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, err := b.put(path, raw, model.ImportProperties{})
	if err != nil {
		panic(err)
	}
	return h
}

func (b *Backend) enter(op string) error {
	b.calls[op]++
	return b.failures[op]
}

func (b *Backend) sorted(path string) []model.MessageHeader {
	var out []model.MessageHeader
	for _, m := range b.messages[path] {
		out = append(out, m.header)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.UID < out[j].ID.UID })
	return out
}

func (b *Backend) put(path string, raw []byte, props model.ImportProperties) (model.MessageHeader, error) {
	box, ok := b.messages[path]
	if !ok {
		return model.MessageHeader{}, fmt.Errorf("%w: %s", mailstore.ErrFolderNotFound, path)
	}
	h, err := mailstore.HeaderFromRaw(raw)
	if err != nil {
		return model.MessageHeader{}, err
	}
	b.nextUID++
	h.ID = model.MessageID{Account: b.account.ID, Folder: path, UID: b.nextUID}
	h.Flagged = props.Flagged
	h.Read = props.Read
	h.Tags = append([]string(nil), props.Tags...)
	box[b.nextUID] = &stored{header: h, raw: append([]byte(nil), raw...)}
	return h, nil
}

func (b *Backend) lookup(id model.MessageID) (*stored, error) {
	m, ok := b.messages[id.Folder][id.UID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", mailstore.ErrNotFound, id)
	}
	return m, nil
}

func (b *Backend) Account() model.Account {
	return b.account
}

func (b *Backend) Folders(ctx context.Context) ([]model.Folder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpFolders); err != nil {
		return nil, err
	}
	out := make([]model.Folder, len(b.folders))
	copy(out, b.folders)
	return out, nil
}

func (b *Backend) CreateFolder(ctx context.Context, parent model.Folder, name string) (model.Folder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpCreate); err != nil {
		return model.Folder{}, err
	}
	path := mailstore.ChildPath(parent, name)
	for _, f := range b.folders {
		if f.Path == path {
			return f, nil
		}
	}
	typ := ""
	if b.account.Type == model.AccountTypeLocal && parent.Path == "" && name == "Trash" {
		typ = model.FolderTypeTrash
	}
	return b.addFolder(path, typ), nil
}

func (b *Backend) Fetch(ctx context.Context, id model.MessageID) (*model.FullMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpFetch); err != nil {
		return nil, err
	}
	m, err := b.lookup(id)
	if err != nil {
		return nil, err
	}
	return &model.FullMessage{Header: m.header, Raw: append([]byte(nil), m.raw...)}, nil
}

func (b *Backend) Header(ctx context.Context, id model.MessageID) (model.MessageHeader, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpHeader); err != nil {
		return model.MessageHeader{}, err
	}
	m, err := b.lookup(id)
	if err != nil {
		return model.MessageHeader{}, err
	}
	return m.header, nil
}

func (b *Backend) Search(ctx context.Context, folder model.Folder, headerMessageID string) ([]model.MessageHeader, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpSearch); err != nil {
		return nil, err
	}
	if _, ok := b.messages[folder.Path]; !ok {
		return nil, fmt.Errorf("%w: %s", mailstore.ErrFolderNotFound, folder.Path)
	}
	want := mailstore.NormalizeMessageID(headerMessageID)
	var out []model.MessageHeader
	for _, h := range b.sorted(folder.Path) {
		if b.hidden[h.HeaderMessageID] {
			continue
		}
		if want == "" || h.HeaderMessageID == want {
			out = append(out, h)
		}
	}
	return out, nil
}

func (b *Backend) Append(ctx context.Context, folder model.Folder, raw []byte, props model.ImportProperties) (model.MessageHeader, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpAppend); err != nil {
		return model.MessageHeader{}, err
	}
	return b.put(folder.Path, raw, props)
}

func (b *Backend) Move(ctx context.Context, ids []model.MessageID, dest model.Folder) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpMove); err != nil {
		return err
	}
	for _, id := range ids {
		m, err := b.lookup(id)
		if err != nil {
			return err
		}
		props := model.ImportProperties{Flagged: m.header.Flagged, Read: m.header.Read, Tags: m.header.Tags}
		if _, err := b.put(dest.Path, m.raw, props); err != nil {
			return err
		}
		delete(b.messages[id.Folder], id.UID)
	}
	return nil
}

func (b *Backend) Expunge(ctx context.Context, ids []model.MessageID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpExpunge); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := b.lookup(id); err != nil {
			return err
		}
		delete(b.messages[id.Folder], id.UID)
	}
	return nil
}
