package stats

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageStage    Stage = "stage"
	StageImport   Stage = "import"
	StageRelocate Stage = "relocate"
	StageFinalize Stage = "finalize"
)

type EventType string

const (
	EventTypeStaged    EventType = "staged"
	EventTypeImported  EventType = "imported"
	EventTypeMoved     EventType = "moved"
	EventTypePollMiss  EventType = "poll_miss"
	EventTypeConfirmed EventType = "confirmed"
	EventTypeArchived  EventType = "archived"
	EventTypeDeleted   EventType = "deleted"
	EventTypeError     EventType = "error"
)

type Event struct {
	Stage     Stage
	Type      EventType
	MessageID string
	Err       error
	Detail    string
}

// Sink receives workflow events. Implementations must be safe for
// concurrent use.
type Sink interface {
	Emit(Event)
}

type Summary struct {
	Staged    int
	Imported  int
	Moved     int
	PollMiss  int
	Confirmed int
	Archived  int
	Deleted   int
	Errors    int
	LastError error
	LastStage Stage
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"staged", s.Staged,
		"imported", s.Imported,
		"moved", s.Moved,
		"pollMisses", s.PollMiss,
		"confirmed", s.Confirmed,
		"archived", s.Archived,
		"deleted", s.Deleted,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error(), "failedStage", string(s.LastStage))
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Emit(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeStaged:
		c.summary.Staged++
	case EventTypeImported:
		c.summary.Imported++
	case EventTypeMoved:
		c.summary.Moved++
	case EventTypePollMiss:
		c.summary.PollMiss++
	case EventTypeConfirmed:
		c.summary.Confirmed++
	case EventTypeArchived:
		c.summary.Archived++
	case EventTypeDeleted:
		c.summary.Deleted++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
			c.summary.LastStage = evt.Stage
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

// Reporter collects the events of one save and logs a summary line.
type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(logger *slog.Logger) *Reporter {
	return &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
}

func (r *Reporter) Emit(evt Event) {
	if r.logger != nil {
		if evt.Type == EventTypeError {
			r.logger.Debug("workflow event", "stage", evt.Stage, "type", evt.Type, "messageID", evt.MessageID, "err", evt.Err)
		} else {
			r.logger.Debug("workflow event", "stage", evt.Stage, "type", evt.Type, "messageID", evt.MessageID, "detail", evt.Detail)
		}
	}
	r.collector.Emit(evt)
}

// Report logs the summary collected so far.
func (r *Reporter) Report() Summary {
	summary := r.collector.Snapshot()
	if r.logger != nil {
		attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
		if summary.Errors > 0 {
			r.logger.Warn("replace summary", attrs...)
		} else {
			r.logger.Info("replace summary", attrs...)
		}
	}
	return summary
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(w io.Writer, m map[string]int, limit int) {
	type pair struct {
		Key   string
		Value int
	}

	var pairs []pair
	for k, v := range m {
		pairs = append(pairs, pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value == pairs[j].Value {
			return pairs[i].Key < pairs[j].Key
		}
		return pairs[i].Value > pairs[j].Value
	})

	for i := 0; i < limit && i < len(pairs); i++ {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, pairs[i].Key, pairs[i].Value)
	}
}
