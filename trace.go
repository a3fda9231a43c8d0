package litho

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// TraceEntry records the most recent update application for one key.
type TraceEntry struct {
	Generation  uuid.UUID
	Applied     int
	Transitions int
	When        time.Time
}

// Trace keeps the last applied-update event per key, bounded by an LRU so
// churn-heavy trees cannot grow it without limit. Debug facility only; the
// engine never reads it back.
type Trace struct {
	entries *lru.Cache[string, TraceEntry]
}

func NewTrace(size int) *Trace {
	cache, _ := lru.New[string, TraceEntry](size)
	return &Trace{entries: cache}
}

func (t *Trace) record(key string, e TraceEntry) {
	t.entries.Add(key, e)
}

// Last returns the most recent recorded application for the key.
func (t *Trace) Last(key string) (TraceEntry, bool) {
	return t.entries.Get(key)
}

// Keys lists traced keys, least recently applied first.
func (t *Trace) Keys() []string {
	return t.entries.Keys()
}

func (t *Trace) Dump(writer io.Writer) {
	for _, key := range t.entries.Keys() {
		e, ok := t.entries.Peek(key)
		if !ok {
			continue
		}
		fmt.Fprintf(writer, "%s:\tgen=%s applied=%d transitions=%d at=%s\n",
			key, e.Generation, e.Applied, e.Transitions, e.When.Format(time.RFC3339Nano))
	}
}
