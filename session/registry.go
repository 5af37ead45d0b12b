package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dhcgn/imap-notes/model"
)

// TargetURL identifies an editor for a message opened from a tab.
func TargetURL(tabID int64, id model.MessageID) string {
	return "editor?tabId=" + strconv.FormatInt(tabID, 10) + "&messageId=" + url.QueryEscape(id.String())
}

// Entry is one open editor.
type Entry struct {
	URL    string    `json:"url"`
	PID    int       `json:"pid"`
	Opened time.Time `json:"opened"`
	path   string
}

// Registry records open editors as files in a directory. It is advisory:
// two editors opened at the same moment can both pass Find.
type Registry struct {
	dir string
}

func NewRegistry(dir string) (*Registry, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("registry directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}
	return &Registry{dir: dir}, nil
}

// Find returns the open editor for targetURL, if any.
func (r *Registry) Find(targetURL string) (Entry, bool, error) {
	entries, err := r.List()
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.URL == targetURL {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// List returns every registered editor. Unreadable files are skipped.
func (r *Registry) List() ([]Entry, error) {
	files, err := filepath.Glob(filepath.Join(r.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("scan registry: %w", err)
	}
	var out []Entry
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		e.path = path
		out = append(out, e)
	}
	return out, nil
}

// Register records an editor for targetURL. The returned func removes it.
func (r *Registry) Register(targetURL string) (func() error, error) {
	e := Entry{URL: targetURL, PID: os.Getpid(), Opened: time.Now().UTC()}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode registry entry: %w", err)
	}
	path := filepath.Join(r.dir, uuid.New().String()+".json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("write registry entry: %w", err)
	}
	return func() error {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove registry entry: %w", err)
		}
		return nil
	}, nil
}

// Remove deletes a listed entry, used to clear editors left behind by a
// crashed process.
func (r *Registry) Remove(e Entry) error {
	if e.path == "" {
		return fmt.Errorf("entry was not listed")
	}
	if err := os.Remove(e.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove registry entry: %w", err)
	}
	return nil
}
