package web

import (
	"sync"

	"github.com/andresmejia3/greeter/internal/types"
)

// Feed keeps the most recent events in a ring buffer.
type Feed struct {
	mu   sync.Mutex
	buf  []types.Event
	next int
	full bool
}

// NewFeed returns a feed holding up to size events.
func NewFeed(size int) *Feed {
	if size < 1 {
		size = 100
	}
	return &Feed{buf: make([]types.Event, size)}
}

// Record implements pipeline.EventSink.
func (f *Feed) Record(ev types.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf[f.next] = ev
	f.next = (f.next + 1) % len(f.buf)
	if f.next == 0 {
		f.full = true
	}
}

// Recent returns up to limit events, newest first.
func (f *Feed) Recent(limit int) []types.Event {
	if f == nil {
		return []types.Event{}
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.next
	if f.full {
		n = len(f.buf)
	}
	if limit > n {
		limit = n
	}
	out := make([]types.Event, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (f.next - 1 - i + len(f.buf)) % len(f.buf)
		out = append(out, f.buf[idx])
	}
	return out
}
