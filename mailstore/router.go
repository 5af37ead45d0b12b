package mailstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/dhcgn/imap-notes/model"
)

// PageSize is the maximum number of headers in one MessageList.
const PageSize = 100

// MaxOpenLists caps the parked continuations. The oldest is dropped when a
// new list would exceed it.
const MaxOpenLists = 64

// Router implements Store over a set of account backends.
type Router struct {
	mu       sync.Mutex
	backends map[string]Backend
	order    []string
	lists    map[string][]model.MessageHeader
	listIDs  []string
	logger   *slog.Logger
}

func NewRouter(logger *slog.Logger, backends ...Backend) (*Router, error) {
	r := &Router{
		backends: make(map[string]Backend),
		lists:    make(map[string][]model.MessageHeader),
		logger:   logger,
	}
	for _, b := range backends {
		id := b.Account().ID
		if id == "" {
			return nil, fmt.Errorf("backend without account id")
		}
		if _, dup := r.backends[id]; dup {
			return nil, fmt.Errorf("duplicate account id %q", id)
		}
		r.backends[id] = b
		r.order = append(r.order, id)
	}
	return r, nil
}

func (r *Router) backend(account string) (Backend, error) {
	r.mu.Lock()
	b, ok := r.backends[account]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAccount, account)
	}
	return b, nil
}

func (r *Router) GetFull(ctx context.Context, id model.MessageID) (*model.FullMessage, error) {
	b, err := r.backend(id.Account)
	if err != nil {
		return nil, err
	}
	return b.Fetch(ctx, id)
}

func (r *Router) Get(ctx context.Context, id model.MessageID) (model.MessageHeader, error) {
	b, err := r.backend(id.Account)
	if err != nil {
		return model.MessageHeader{}, err
	}
	return b.Header(ctx, id)
}

// Query searches one folder and returns the first page. Remaining results
// are parked under the returned list id.
func (r *Router) Query(ctx context.Context, q model.Query) (*model.MessageList, error) {
	b, err := r.backend(q.Folder.Account)
	if err != nil {
		return nil, err
	}
	matches, err := b.Search(ctx, q.Folder, q.HeaderMessageID)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", q.Folder.Path, err)
	}
	return r.page(matches), nil
}

func (r *Router) ContinueList(ctx context.Context, listID string) (*model.MessageList, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	rest, ok := r.lists[listID]
	r.dropList(listID)
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownList, listID)
	}
	return r.page(rest), nil
}

func (r *Router) ReleaseList(listID string) {
	r.mu.Lock()
	r.dropList(listID)
	r.mu.Unlock()
}

// OpenLists reports how many continuations are parked.
func (r *Router) OpenLists() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lists)
}

// dropList must be called with r.mu held.
func (r *Router) dropList(listID string) {
	if _, ok := r.lists[listID]; !ok {
		return
	}
	delete(r.lists, listID)
	for i, id := range r.listIDs {
		if id == listID {
			r.listIDs = append(r.listIDs[:i], r.listIDs[i+1:]...)
			break
		}
	}
}

func (r *Router) page(matches []model.MessageHeader) *model.MessageList {
	if len(matches) <= PageSize {
		return &model.MessageList{Messages: matches}
	}
	id := uuid.New().String()
	r.mu.Lock()
	if len(r.listIDs) >= MaxOpenLists {
		oldest := r.listIDs[0]
		r.listIDs = r.listIDs[1:]
		delete(r.lists, oldest)
		if r.logger != nil {
			r.logger.Debug("message list evicted", "list", oldest)
		}
	}
	r.lists[id] = matches[PageSize:]
	r.listIDs = append(r.listIDs, id)
	r.mu.Unlock()
	return &model.MessageList{ID: id, Messages: matches[:PageSize]}
}

func (r *Router) Import(ctx context.Context, folder model.Folder, raw []byte, props model.ImportProperties) (model.MessageHeader, error) {
	b, err := r.backend(folder.Account)
	if err != nil {
		return model.MessageHeader{}, err
	}
	return b.Append(ctx, folder, raw, props)
}

// Move moves ids into dest. Messages of another account are copied into
// dest and then expunged from their source.
func (r *Router) Move(ctx context.Context, ids []model.MessageID, dest model.Folder) error {
	target, err := r.backend(dest.Account)
	if err != nil {
		return err
	}

	var same []model.MessageID
	for _, id := range ids {
		if id.Account == dest.Account {
			same = append(same, id)
			continue
		}
		if err := r.crossMove(ctx, id, target, dest); err != nil {
			return err
		}
	}
	if len(same) == 0 {
		return nil
	}
	return target.Move(ctx, same, dest)
}

func (r *Router) crossMove(ctx context.Context, id model.MessageID, target Backend, dest model.Folder) error {
	source, err := r.backend(id.Account)
	if err != nil {
		return err
	}
	full, err := source.Fetch(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch %s for move: %w", id, err)
	}
	props := model.ImportProperties{Flagged: full.Header.Flagged, Read: full.Header.Read, Tags: full.Header.Tags}
	if _, err := target.Append(ctx, dest, full.Raw, props); err != nil {
		return fmt.Errorf("copy %s to %s/%s: %w", id, dest.Account, dest.Path, err)
	}
	if err := source.Expunge(ctx, []model.MessageID{id}); err != nil {
		return fmt.Errorf("remove %s after copy: %w", id, err)
	}
	if r.logger != nil {
		r.logger.Debug("moved message across accounts", "id", id, "dest", dest.Account+"/"+dest.Path)
	}
	return nil
}

// Delete expunges ids when permanent is set, otherwise moves them to the
// trash folder of their account.
func (r *Router) Delete(ctx context.Context, ids []model.MessageID, permanent bool) error {
	byAccount := make(map[string][]model.MessageID)
	var accounts []string
	for _, id := range ids {
		if _, seen := byAccount[id.Account]; !seen {
			accounts = append(accounts, id.Account)
		}
		byAccount[id.Account] = append(byAccount[id.Account], id)
	}

	for _, account := range accounts {
		b, err := r.backend(account)
		if err != nil {
			return err
		}
		if permanent {
			if err := b.Expunge(ctx, byAccount[account]); err != nil {
				return err
			}
			continue
		}
		trash, err := FindTrash(ctx, b)
		if err != nil {
			return fmt.Errorf("delete in %s: %w", account, err)
		}
		if err := b.Move(ctx, byAccount[account], trash); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) ListAccounts(ctx context.Context) ([]model.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	accounts := make([]model.Account, 0, len(r.order))
	for _, id := range r.order {
		accounts = append(accounts, r.backends[id].Account())
	}
	return accounts, nil
}

func (r *Router) SubFolders(ctx context.Context, parent model.Folder) ([]model.Folder, error) {
	b, err := r.backend(parent.Account)
	if err != nil {
		return nil, err
	}
	folders, err := b.Folders(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Folder
	for _, f := range folders {
		if IsDirectChild(parent, f.Path) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *Router) CreateFolder(ctx context.Context, parent model.Folder, name string) (model.Folder, error) {
	b, err := r.backend(parent.Account)
	if err != nil {
		return model.Folder{}, err
	}
	return b.CreateFolder(ctx, parent, name)
}

// Close closes every backend that holds resources.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, id := range r.order {
		if c, ok := r.backends[id].(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", id, err))
			}
		}
	}
	return errors.Join(errs...)
}
