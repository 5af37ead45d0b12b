package state

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOrphansExcludeDismissedAndSuccesses(t *testing.T) {
	j := NewMemoryJournal()
	records := []Record{
		{Original: "imap/Notes/1", HeaderMessageID: "<a@x>", Outcome: OutcomeReplaced},
		{Original: "imap/Notes/2", HeaderMessageID: "<b@x>", Outcome: OutcomeRelocateTimeout, StagedPath: "/tmp/b.eml"},
		{Original: "imap/Notes/3", HeaderMessageID: "<c@x>", Outcome: OutcomeFinalizeFailed},
		{Original: "imap/Notes/4", HeaderMessageID: "<d@x>", Outcome: OutcomeRelocateTimeout},
		{HeaderMessageID: "<d@x>", Outcome: OutcomeDismissed},
		{Original: "imap/Notes/5", HeaderMessageID: "<e@x>", Outcome: OutcomeImportFailed},
	}
	for _, rec := range records {
		if err := j.Record(rec); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	orphans := j.Orphans()
	if len(orphans) != 2 {
		t.Fatalf("expected 2 orphans, got %d: %+v", len(orphans), orphans)
	}
	if orphans[0].HeaderMessageID != "<b@x>" || orphans[1].HeaderMessageID != "<c@x>" {
		t.Fatalf("unexpected orphans: %+v", orphans)
	}

	snap := j.Snapshot()
	if snap.Recorded != len(records) || snap.Orphans != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestRecordRequiresHeaderMessageID(t *testing.T) {
	if err := NewMemoryJournal().Record(Record{Outcome: OutcomeReplaced}); err == nil {
		t.Fatalf("expected error for record without header message id")
	}
}

func TestFileJournalPersists(t *testing.T) {
	dir := t.TempDir()

	j, err := NewFileJournal(dir)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if err := j.Record(Record{Original: "imap/Notes/7", HeaderMessageID: "<z@x>", Outcome: OutcomeRelocateTimeout, Error: "not found after update"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, JournalFile)); err != nil {
		t.Fatalf("journal file missing: %v", err)
	}

	reopened, err := NewFileJournal(dir)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer reopened.Close()

	orphans := reopened.Orphans()
	if len(orphans) != 1 {
		t.Fatalf("expected 1 orphan after reload, got %d", len(orphans))
	}
	if orphans[0].Original != "imap/Notes/7" || orphans[0].Time.IsZero() {
		t.Fatalf("unexpected reloaded record: %+v", orphans[0])
	}
}

func TestFileJournalRejectsCorruptLine(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, JournalFile), []byte("{not json\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewFileJournal(dir); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestNewFileJournalEmptyDir(t *testing.T) {
	if _, err := NewFileJournal("  "); err == nil {
		t.Fatalf("expected error for empty state dir")
	}
}
