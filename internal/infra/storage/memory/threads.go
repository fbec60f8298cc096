package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"inquirydesk/internal/domain/inquiry"
	"inquirydesk/internal/domain/thread"
)

// ThreadRepository keeps conversations in process memory.
type ThreadRepository struct {
	mu    sync.RWMutex
	items map[thread.ID]*thread.Thread
}

func NewThreadRepository() *ThreadRepository {
	return &ThreadRepository{items: make(map[thread.ID]*thread.Thread)}
}

func (r *ThreadRepository) ByID(ctx context.Context, id thread.ID) (*thread.Thread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.items[id]
	if !ok {
		return nil, thread.ErrNotFound
	}
	return t.Clone(), nil
}

// Between finds the registered client's conversation with an agent. Guest threads never match.
func (r *ThreadRepository) Between(ctx context.Context, agentID, clientID string) (*thread.Thread, error) {
	agentID, clientID = strings.TrimSpace(agentID), strings.TrimSpace(clientID)
	if agentID == "" || clientID == "" {
		return nil, thread.ErrNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *thread.Thread
	for _, t := range r.items {
		if t.AgentID != agentID || t.ClientID != clientID {
			continue
		}
		if found == nil || t.UpdatedAt.After(found.UpdatedAt) {
			found = t
		}
	}
	if found == nil {
		return nil, thread.ErrNotFound
	}
	return found.Clone(), nil
}

// ListFor returns the participant's conversations, most recently active first.
func (r *ThreadRepository) ListFor(ctx context.Context, role inquiry.Role, userID string) ([]*thread.Thread, error) {
	r.mu.RLock()
	out := make([]*thread.Thread, 0)
	for _, t := range r.items {
		if visibleTo(t, role, userID) {
			out = append(out, t.Clone())
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Save stores t when its version matches the stored one, then bumps it.
func (r *ThreadRepository) Save(ctx context.Context, t *thread.Thread) error {
	if t == nil || strings.TrimSpace(string(t.ID)) == "" {
		return thread.ErrIDRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.items[t.ID]; ok {
		if existing.Version != t.Version {
			return thread.ErrConcurrentUpdate
		}
	} else if t.Version != 0 {
		return thread.ErrConcurrentUpdate
	}
	t.Version++
	r.items[t.ID] = t.Clone()
	return nil
}

func (r *ThreadRepository) Delete(ctx context.Context, id thread.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return thread.ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func visibleTo(t *thread.Thread, role inquiry.Role, userID string) bool {
	switch role {
	case inquiry.RoleAgent:
		return t.AgentID == userID
	case inquiry.RoleClient:
		return userID != "" && t.ClientID == userID
	default:
		return false
	}
}

var _ thread.Repository = (*ThreadRepository)(nil)
