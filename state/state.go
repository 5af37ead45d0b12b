// Package state keeps the replacement journal: one record per save outcome,
// persisted so orphaned copies survive process restarts.
package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// JournalFile is the journal's file name inside the state directory.
const JournalFile = "replacements.jsonl"

type Outcome string

const (
	OutcomeReplaced         Outcome = "replaced"
	OutcomeStoreUnavailable Outcome = "store_unavailable"
	OutcomeImportFailed     Outcome = "import_failed"
	OutcomeRelocateTimeout  Outcome = "relocate_timeout"
	OutcomeFinalizeFailed   Outcome = "finalize_failed"
	// OutcomeDismissed marks an earlier orphan as handled by the user.
	OutcomeDismissed Outcome = "dismissed"
)

// Record is one journal line.
type Record struct {
	Time            time.Time `json:"time"`
	Original        string    `json:"original"`
	Replacement     string    `json:"replacement,omitempty"`
	Folder          string    `json:"folder,omitempty"`
	HeaderMessageID string    `json:"header_message_id"`
	Outcome         Outcome   `json:"outcome"`
	StagedPath      string    `json:"staged_path,omitempty"`
	Error           string    `json:"error,omitempty"`
}

type Journal interface {
	Record(rec Record) error
	Orphans() []Record
	Snapshot() Snapshot
}

type Snapshot struct {
	Recorded int
	Orphans  int
}

type MemoryJournal struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (m *MemoryJournal) Record(rec Record) error {
	if rec.HeaderMessageID == "" {
		return fmt.Errorf("journal record without header message id")
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}

	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
	return nil
}

// Records returns a copy of every record in insertion order.
func (m *MemoryJournal) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// Orphans returns the relocate timeouts and finalize failures that have not
// been dismissed. Both leave an extra live copy of a note in the store.
func (m *MemoryJournal) Orphans() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dismissed := make(map[string]bool)
	for _, rec := range m.records {
		if rec.Outcome == OutcomeDismissed {
			dismissed[rec.HeaderMessageID] = true
		}
	}

	var out []Record
	for _, rec := range m.records {
		switch rec.Outcome {
		case OutcomeRelocateTimeout, OutcomeFinalizeFailed:
			if !dismissed[rec.HeaderMessageID] {
				out = append(out, rec)
			}
		}
	}
	return out
}

func (m *MemoryJournal) Snapshot() Snapshot {
	orphans := len(m.Orphans())
	m.mu.RLock()
	count := len(m.records)
	m.mu.RUnlock()
	return Snapshot{Recorded: count, Orphans: orphans}
}

// FileJournal appends every record to a JSONL file in the state directory.
type FileJournal struct {
	*MemoryJournal
	path    string
	writer  *bufio.Writer
	file    *os.File
	writeMu sync.Mutex
}

func NewFileJournal(stateDir string) (*FileJournal, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	journal := &FileJournal{
		MemoryJournal: NewMemoryJournal(),
		path:          filepath.Join(stateDir, JournalFile),
	}

	if err := journal.load(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(journal.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open journal for append: %w", err)
	}
	journal.file = file
	journal.writer = bufio.NewWriter(file)

	return journal, nil
}

func (f *FileJournal) Path() string {
	return f.path
}

func (f *FileJournal) load() error {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(text, &rec); err != nil {
			return fmt.Errorf("parse journal line %d: %w", line, err)
		}
		if rec.HeaderMessageID == "" {
			continue
		}

		f.mu.Lock()
		f.records = append(f.records, rec)
		f.mu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read journal: %w", err)
	}

	return nil
}

// Record appends rec and flushes it to disk before returning.
func (f *FileJournal) Record(rec Record) error {
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}
	if err := f.MemoryJournal.Record(rec); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode journal record: %w", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if _, err := f.writer.Write(data); err != nil {
		return fmt.Errorf("write journal record: %w", err)
	}
	if err := f.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	return nil
}

// Close flushes and closes the journal file.
func (f *FileJournal) Close() error {
	if f.file == nil {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	var firstErr error
	if err := f.writer.Flush(); err != nil {
		firstErr = fmt.Errorf("flush journal: %w", err)
	}
	if err := f.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close journal: %w", err)
	}
	f.file = nil

	return firstErr
}
