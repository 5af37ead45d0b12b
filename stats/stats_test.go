package stats

import (
	"bytes"
	"errors"
	"testing"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()
	boom := errors.New("boom")

	c.Emit(Event{Stage: StageStage, Type: EventTypeStaged})
	c.Emit(Event{Stage: StageImport, Type: EventTypeImported})
	c.Emit(Event{Stage: StageRelocate, Type: EventTypeMoved})
	c.Emit(Event{Stage: StageRelocate, Type: EventTypePollMiss})
	c.Emit(Event{Stage: StageRelocate, Type: EventTypePollMiss})
	c.Emit(Event{Stage: StageFinalize, Type: EventTypeError, Err: boom})

	s := c.Snapshot()
	if s.Staged != 1 || s.Imported != 1 || s.Moved != 1 || s.PollMiss != 2 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	if s.Errors != 1 || !errors.Is(s.LastError, boom) || s.LastStage != StageFinalize {
		t.Fatalf("unexpected error summary: %+v", s)
	}
}

func TestSummaryLogAttrs(t *testing.T) {
	attrs := Summary{Confirmed: 1}.LogAttrs()
	if len(attrs)%2 != 0 {
		t.Fatalf("attrs must be key/value pairs, got %d items", len(attrs))
	}
	for _, a := range attrs {
		if a == "lastError" {
			t.Fatalf("lastError must be omitted without an error")
		}
	}
}

func TestPrettyPrintTop(t *testing.T) {
	var buf bytes.Buffer
	PrettyPrintTop(&buf, map[string]int{"Notes": 3, "Archive": 1, "Ideas": 3}, 2)
	want := "1. Ideas (3)\n2. Notes (3)\n"
	if buf.String() != want {
		t.Fatalf("expected %q, got %q", want, buf.String())
	}
}
