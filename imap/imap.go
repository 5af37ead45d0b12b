// Package imap serves one IMAP account as a mailstore.Backend.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/imap-notes/mailstore"
	"github.com/dhcgn/imap-notes/model"
	"github.com/dhcgn/imap-notes/note"
)

const DefaultAccountID = "imap"

var (
	ErrMissingHost = errors.New("imap host is empty")
	ErrInvalidPort = errors.New("imap port must be positive")
)

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	// AccountID names the account in message ids. Defaults to "imap".
	AccountID string
}

// Backend holds a single connection. Commands are serialized on it and the
// selected mailbox is tracked to skip redundant SELECTs.
type Backend struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	client   *imapclient.Client
	selected string
	delim    rune
}

func New(opts Options, logger *slog.Logger) (*Backend, error) {
	if opts.Host == "" {
		return nil, ErrMissingHost
	}
	if opts.Port <= 0 {
		return nil, ErrInvalidPort
	}
	if opts.AccountID == "" {
		opts.AccountID = DefaultAccountID
	}
	return &Backend{opts: opts, logger: logger, delim: '/'}, nil
}

func (b *Backend) Account() model.Account {
	return model.Account{
		ID:   b.opts.AccountID,
		Name: b.opts.Username + "@" + b.opts.Host,
		Type: model.AccountTypeIMAP,
		Root: model.Folder{Account: b.opts.AccountID},
	}
}

// do runs fn on the shared connection, dialing it first if needed. The
// connection is closed if ctx ends while fn runs.
func (b *Backend) do(ctx context.Context, fn func(c *imapclient.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		client, err := b.dial()
		if err != nil {
			return err
		}
		b.client = client
	}

	client := b.client
	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})
	err := fn(client)
	if !stopClose() {
		b.drop()
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (b *Backend) drop() {
	if b.client != nil {
		_ = b.client.Close()
	}
	b.client = nil
	b.selected = ""
}

func (b *Backend) dial() (*imapclient.Client, error) {
	address := net.JoinHostPort(b.opts.Host, strconv.Itoa(b.opts.Port))
	options := &imapclient.Options{}

	if b.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         b.opts.Host,
			InsecureSkipVerify: b.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if b.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(b.opts.Username, b.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("imap login failed: %w", err)
	}

	// LIST "" "" reports the hierarchy delimiter.
	if list, err := client.List("", "", nil).Collect(); err == nil && len(list) > 0 && list[0].Delim != 0 {
		b.delim = list[0].Delim
	}

	if b.logger != nil {
		b.logger.Debug("imap connection established", "address", address, "user", b.opts.Username, "tls", b.opts.UseTLS, "delimiter", string(b.delim))
	}
	return client, nil
}

// Close logs out and closes the connection.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil
	}
	if err := b.client.Logout().Wait(); err != nil && b.logger != nil {
		b.logger.Warn("imap logout failed", "err", err)
	}
	err := b.client.Close()
	b.client = nil
	b.selected = ""
	if err != nil && b.logger != nil {
		b.logger.Debug("imap connection closed", "err", err)
	}
	return nil
}

func (b *Backend) mailbox(path string) string {
	return toMailbox(path, b.delim)
}

func (b *Backend) selectMailbox(c *imapclient.Client, mailbox string) error {
	if b.selected == mailbox {
		return nil
	}
	if _, err := c.Select(mailbox, nil).Wait(); err != nil {
		b.selected = ""
		return fmt.Errorf("select %s: %w", mailbox, err)
	}
	b.selected = mailbox
	return nil
}

func (b *Backend) Folders(ctx context.Context) ([]model.Folder, error) {
	var folders []model.Folder
	err := b.do(ctx, func(c *imapclient.Client) error {
		list, err := c.List("", "*", &imapv2.ListOptions{ReturnSpecialUse: true}).Collect()
		if err != nil {
			return fmt.Errorf("list mailboxes: %w", err)
		}
		folders = folders[:0]
		for _, data := range list {
			if data.Delim != 0 {
				b.delim = data.Delim
			}
			if hasAttr(data.Attrs, imapv2.MailboxAttrNoSelect) {
				continue
			}
			path := toPath(data.Mailbox, data.Delim)
			folders = append(folders, model.Folder{
				Account: b.opts.AccountID,
				Path:    path,
				Name:    mailstore.FolderName(path),
				Type:    folderType(data.Attrs),
			})
		}
		return nil
	})
	return folders, err
}

// CreateFolder creates parent/name, treating an existing mailbox as
// success.
func (b *Backend) CreateFolder(ctx context.Context, parent model.Folder, name string) (model.Folder, error) {
	path := mailstore.ChildPath(parent, name)
	err := b.do(ctx, func(c *imapclient.Client) error {
		return b.ensureMailbox(c, b.mailbox(path))
	})
	if err != nil {
		return model.Folder{}, err
	}
	folders, err := b.Folders(ctx)
	if err != nil {
		return model.Folder{}, err
	}
	for _, f := range folders {
		if f.Path == path {
			return f, nil
		}
	}
	return model.Folder{Account: b.opts.AccountID, Path: path, Name: name}, nil
}

func (b *Backend) ensureMailbox(c *imapclient.Client, mailbox string) error {
	if err := c.Create(mailbox, nil).Wait(); err != nil {
		var respErr *imapv2.Error
		if errors.As(err, &respErr) {
			if respErr.Code == imapv2.ResponseCodeAlreadyExists {
				if b.logger != nil {
					b.logger.Debug("imap mailbox already exists", "mailbox", mailbox)
				}
				return nil
			}
		}
		return fmt.Errorf("ensure mailbox %s: %w", mailbox, err)
	}

	if b.logger != nil {
		b.logger.Info("imap mailbox created", "mailbox", mailbox)
	}
	return nil
}

func (b *Backend) Fetch(ctx context.Context, id model.MessageID) (*model.FullMessage, error) {
	section := &imapv2.FetchItemBodySection{Peek: true}
	var full *model.FullMessage
	err := b.do(ctx, func(c *imapclient.Client) error {
		bufs, err := b.fetch(c, id.Folder, []imapv2.UID{imapv2.UID(id.UID)}, section)
		if err != nil {
			return err
		}
		if len(bufs) == 0 {
			return fmt.Errorf("%w: %s", mailstore.ErrNotFound, id)
		}
		raw := bufs[0].FindBodySection(section)
		if raw == nil {
			return fmt.Errorf("%w: %s has no body", mailstore.ErrNotFound, id)
		}
		h, err := b.header(id.Folder, bufs[0], raw)
		if err != nil {
			return err
		}
		full = &model.FullMessage{Header: h, Raw: raw}
		return nil
	})
	return full, err
}

func (b *Backend) Header(ctx context.Context, id model.MessageID) (model.MessageHeader, error) {
	var h model.MessageHeader
	err := b.do(ctx, func(c *imapclient.Client) error {
		headers, err := b.headers(c, id.Folder, []imapv2.UID{imapv2.UID(id.UID)})
		if err != nil {
			return err
		}
		if len(headers) == 0 {
			return fmt.Errorf("%w: %s", mailstore.ErrNotFound, id)
		}
		h = headers[0]
		return nil
	})
	return h, err
}

// Search finds messages of folder by Message-Id. An empty id lists all.
func (b *Backend) Search(ctx context.Context, folder model.Folder, headerMessageID string) ([]model.MessageHeader, error) {
	criteria := &imapv2.SearchCriteria{}
	if mid := mailstore.NormalizeMessageID(headerMessageID); mid != "" {
		criteria.Header = []imapv2.SearchCriteriaHeaderField{{Key: "Message-Id", Value: mid}}
	}
	matches, err := b.search(ctx, folder, criteria)
	if err != nil {
		return nil, err
	}
	// HEADER search is a substring match.
	want := mailstore.NormalizeMessageID(headerMessageID)
	if want == "" {
		return matches, nil
	}
	out := matches[:0]
	for _, h := range matches {
		if h.HeaderMessageID == want {
			out = append(out, h)
		}
	}
	return out, nil
}

// ListNotes returns the headers of every note in folder.
func (b *Backend) ListNotes(ctx context.Context, folder model.Folder) ([]model.MessageHeader, error) {
	return b.search(ctx, folder, &imapv2.SearchCriteria{
		Header: []imapv2.SearchCriteriaHeaderField{{Key: note.TypeMarkerHeader, Value: note.TypeMarker}},
	})
}

func (b *Backend) search(ctx context.Context, folder model.Folder, criteria *imapv2.SearchCriteria) ([]model.MessageHeader, error) {
	var out []model.MessageHeader
	err := b.do(ctx, func(c *imapclient.Client) error {
		mailbox := b.mailbox(folder.Path)
		if err := b.selectMailbox(c, mailbox); err != nil {
			return err
		}
		data, err := c.UIDSearch(criteria, nil).Wait()
		if err != nil {
			return fmt.Errorf("search %s: %w", mailbox, err)
		}
		uids := data.AllUIDs()
		if len(uids) == 0 {
			return nil
		}
		out, err = b.headers(c, folder.Path, uids)
		return err
	})
	return out, err
}

func (b *Backend) headers(c *imapclient.Client, folder string, uids []imapv2.UID) ([]model.MessageHeader, error) {
	section := &imapv2.FetchItemBodySection{Specifier: imapv2.PartSpecifierHeader, Peek: true}
	bufs, err := b.fetch(c, folder, uids, section)
	if err != nil {
		return nil, err
	}
	out := make([]model.MessageHeader, 0, len(bufs))
	for _, buf := range bufs {
		h, err := b.header(folder, buf, buf.FindBodySection(section))
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func (b *Backend) fetch(c *imapclient.Client, folder string, uids []imapv2.UID, section *imapv2.FetchItemBodySection) ([]*imapclient.FetchMessageBuffer, error) {
	mailbox := b.mailbox(folder)
	if err := b.selectMailbox(c, mailbox); err != nil {
		return nil, err
	}
	cmd := c.Fetch(imapv2.UIDSetNum(uids...), &imapv2.FetchOptions{
		UID:         true,
		Flags:       true,
		RFC822Size:  true,
		BodySection: []*imapv2.FetchItemBodySection{section},
	})
	bufs, err := cmd.Collect()
	if err != nil {
		return nil, fmt.Errorf("fetch from %s: %w", mailbox, err)
	}
	return bufs, nil
}

func (b *Backend) header(folder string, buf *imapclient.FetchMessageBuffer, raw []byte) (model.MessageHeader, error) {
	h, err := mailstore.HeaderFromRaw(raw)
	if err != nil {
		return model.MessageHeader{}, fmt.Errorf("uid %d: %w", buf.UID, err)
	}
	h.ID = model.MessageID{Account: b.opts.AccountID, Folder: folder, UID: uint32(buf.UID)}
	h.Size = buf.RFC822Size
	h.Flagged, h.Read, h.Tags = splitFlags(buf.Flags)
	return h, nil
}

func (b *Backend) Append(ctx context.Context, folder model.Folder, raw []byte, props model.ImportProperties) (model.MessageHeader, error) {
	var uid imapv2.UID
	err := b.do(ctx, func(c *imapclient.Client) error {
		var err error
		uid, err = b.appendMessage(c, b.mailbox(folder.Path), raw, props)
		return err
	})
	if err != nil {
		return model.MessageHeader{}, err
	}

	if uid != 0 {
		return b.Header(ctx, model.MessageID{Account: b.opts.AccountID, Folder: folder.Path, UID: uint32(uid)})
	}

	// Without UIDPLUS the new uid is found through the Message-Id.
	h, err := mailstore.HeaderFromRaw(raw)
	if err != nil {
		return model.MessageHeader{}, err
	}
	matches, err := b.Search(ctx, folder, h.HeaderMessageID)
	if err != nil {
		return model.MessageHeader{}, err
	}
	if len(matches) == 0 {
		return model.MessageHeader{}, fmt.Errorf("%w: appended message %s", mailstore.ErrNotFound, h.HeaderMessageID)
	}
	return matches[len(matches)-1], nil
}

func (b *Backend) appendMessage(c *imapclient.Client, mailbox string, raw []byte, props model.ImportProperties) (imapv2.UID, error) {
	size := int64(len(raw))
	cmd := c.Append(mailbox, size, &imapv2.AppendOptions{Flags: joinFlags(props)})

	remaining := raw
	for len(remaining) > 0 {
		n, err := cmd.Write(remaining)
		if err != nil {
			_ = cmd.Close()
			return 0, fmt.Errorf("append write: %w", err)
		}
		if n == 0 {
			_ = cmd.Close()
			return 0, fmt.Errorf("append write: wrote 0 bytes")
		}
		remaining = remaining[n:]
	}

	if err := cmd.Close(); err != nil {
		return 0, fmt.Errorf("append close: %w", err)
	}

	data, err := cmd.Wait()
	if err != nil {
		return 0, fmt.Errorf("append wait: %w", err)
	}
	if b.logger != nil {
		b.logger.Debug("appended message", "mailbox", mailbox, "uid", data.UID, "size", size)
	}
	return data.UID, nil
}

func (b *Backend) Move(ctx context.Context, ids []model.MessageID, dest model.Folder) error {
	return b.do(ctx, func(c *imapclient.Client) error {
		for folder, uids := range groupByFolder(ids) {
			if err := b.selectMailbox(c, b.mailbox(folder)); err != nil {
				return err
			}
			if _, err := c.Move(imapv2.UIDSetNum(uids...), b.mailbox(dest.Path)).Wait(); err != nil {
				return fmt.Errorf("move from %s to %s: %w", folder, dest.Path, err)
			}
		}
		return nil
	})
}

func (b *Backend) Expunge(ctx context.Context, ids []model.MessageID) error {
	return b.do(ctx, func(c *imapclient.Client) error {
		for folder, uids := range groupByFolder(ids) {
			if err := b.selectMailbox(c, b.mailbox(folder)); err != nil {
				return err
			}
			set := imapv2.UIDSetNum(uids...)
			store := c.Store(set, &imapv2.StoreFlags{
				Op:     imapv2.StoreFlagsAdd,
				Silent: true,
				Flags:  []imapv2.Flag{imapv2.FlagDeleted},
			}, nil)
			if err := store.Close(); err != nil {
				return fmt.Errorf("flag deleted in %s: %w", folder, err)
			}
			if err := c.UIDExpunge(set).Close(); err != nil {
				return fmt.Errorf("expunge in %s: %w", folder, err)
			}
		}
		return nil
	})
}

func groupByFolder(ids []model.MessageID) map[string][]imapv2.UID {
	out := make(map[string][]imapv2.UID)
	for _, id := range ids {
		out[id.Folder] = append(out[id.Folder], imapv2.UID(id.UID))
	}
	return out
}

// toPath converts a mailbox name to a "/"-separated folder path.
func toPath(mailbox string, delim rune) string {
	if delim == 0 || delim == '/' {
		return mailbox
	}
	return strings.ReplaceAll(mailbox, string(delim), "/")
}

func toMailbox(path string, delim rune) string {
	if delim == 0 || delim == '/' {
		return path
	}
	return strings.ReplaceAll(path, "/", string(delim))
}

func folderType(attrs []imapv2.MailboxAttr) string {
	if hasAttr(attrs, imapv2.MailboxAttrTrash) {
		return model.FolderTypeTrash
	}
	return ""
}

func hasAttr(attrs []imapv2.MailboxAttr, want imapv2.MailboxAttr) bool {
	for _, a := range attrs {
		if strings.EqualFold(string(a), string(want)) {
			return true
		}
	}
	return false
}

func joinFlags(props model.ImportProperties) []imapv2.Flag {
	var flags []imapv2.Flag
	if props.Read {
		flags = append(flags, imapv2.FlagSeen)
	}
	if props.Flagged {
		flags = append(flags, imapv2.FlagFlagged)
	}
	for _, tag := range props.Tags {
		if tag != "" {
			flags = append(flags, imapv2.Flag(tag))
		}
	}
	return flags
}

func splitFlags(flags []imapv2.Flag) (flagged, read bool, tags []string) {
	for _, f := range flags {
		switch {
		case strings.EqualFold(string(f), string(imapv2.FlagFlagged)):
			flagged = true
		case strings.EqualFold(string(f), string(imapv2.FlagSeen)):
			read = true
		case strings.HasPrefix(string(f), "\\"):
		default:
			tags = append(tags, string(f))
		}
	}
	return flagged, read, tags
}
