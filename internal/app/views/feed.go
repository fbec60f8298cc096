package views

import (
	"log/slog"
	"sync"

	"inquirydesk/internal/app/conversations"
)

// feed fans synchronizer events out to stream subscribers. Slow subscribers lose events
// rather than stall the synchronizer; a reconnecting client re-reads the snapshot.
type feed struct {
	mu     sync.Mutex
	subs   map[uint64]chan conversations.Event
	next   uint64
	size   int
	closed bool
	logger *slog.Logger
}

func newFeed(size int, logger *slog.Logger) *feed {
	return &feed{subs: make(map[uint64]chan conversations.Event), size: size, logger: logger}
}

func (f *feed) Publish(e conversations.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.subs {
		select {
		case ch <- e:
		default:
			if f.logger != nil {
				f.logger.Warn("view subscriber lagging, event dropped", "subscriber", id, "kind", e.Kind)
			}
		}
	}
}

func (f *feed) subscribe() (<-chan conversations.Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan conversations.Event, f.size)
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	f.next++
	id := f.next
	f.subs[id] = ch
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}
}

func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
