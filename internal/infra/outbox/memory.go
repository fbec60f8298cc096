package outbox

import (
	"context"
	"sync"
	"time"

	appoutbox "inquirydesk/internal/app/outbox"
)

// MemoryStore is the outbox used when no database is configured. Sent
// entries are dropped; events are lost on restart.
type MemoryStore struct {
	mu   sync.Mutex
	docs []*EventDocument
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Add(_ context.Context, record appoutbox.EventRecord) error {
	doc := newDocument(record, s.now().UTC())
	s.mu.Lock()
	s.docs = append(s.docs, &doc)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Claim(_ context.Context, workerID string) (*EventDocument, error) {
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range s.docs {
		if doc.State != stateNew && doc.State != stateFailed {
			continue
		}
		if doc.NextAttempt.After(now) {
			continue
		}
		doc.State = stateClaimed
		doc.ClaimedBy = workerID
		doc.ClaimedAt = now
		out := *doc
		return &out, nil
	}
	return nil, nil
}

func (s *MemoryStore) MarkSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, doc := range s.docs {
		if doc.ID == id {
			s.docs = append(s.docs[:i], s.docs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id string, next time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range s.docs {
		if doc.ID == id {
			doc.State = stateFailed
			doc.NextAttempt = next
			doc.LastError = errMsg
			doc.Attempts++
			return nil
		}
	}
	return nil
}

// Pending reports entries not yet delivered.
func (s *MemoryStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

var _ Store = (*MemoryStore)(nil)
