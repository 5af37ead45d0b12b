package state

import (
	"fmt"
	"testing"
)

// BenchmarkFileJournal_Record benchmarks journal append performance
func BenchmarkFileJournal_Record(b *testing.B) {
	journal, err := NewFileJournal(b.TempDir())
	if err != nil {
		b.Fatal(err)
	}
	defer journal.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec := Record{
			Original:        fmt.Sprintf("imap/Notes/%d", i),
			HeaderMessageID: fmt.Sprintf("<%d@localhost>", i),
			Outcome:         OutcomeReplaced,
		}
		if err := journal.Record(rec); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkFileJournal_Load benchmarks loading a journal with many entries
func BenchmarkFileJournal_Load(b *testing.B) {
	dir := b.TempDir()
	journal, err := NewFileJournal(dir)
	if err != nil {
		b.Fatal(err)
	}

	for i := 0; i < 2000; i++ {
		outcome := OutcomeReplaced
		if i%10 == 0 {
			outcome = OutcomeRelocateTimeout
		}
		rec := Record{
			Original:        fmt.Sprintf("imap/Notes/%d", i),
			HeaderMessageID: fmt.Sprintf("<%d@localhost>", i),
			Outcome:         outcome,
		}
		if err := journal.Record(rec); err != nil {
			b.Fatal(err)
		}
	}
	if err := journal.Close(); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		j, err := NewFileJournal(dir)
		if err != nil {
			b.Fatal(err)
		}
		_ = j.Orphans()
		j.Close()
	}
}

// BenchmarkMemoryJournal_Record benchmarks the in-memory journal for comparison
func BenchmarkMemoryJournal_Record(b *testing.B) {
	journal := NewMemoryJournal()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec := Record{HeaderMessageID: fmt.Sprintf("<%d@localhost>", i), Outcome: OutcomeReplaced}
		if err := journal.Record(rec); err != nil {
			b.Fatal(err)
		}
	}
}
