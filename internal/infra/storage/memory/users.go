package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	domainuser "inquirydesk/internal/domain/user"
)

// UserRepository stores accounts in memory. Not suitable for production.
type UserRepository struct {
	mu      sync.RWMutex
	byID    map[domainuser.ID]*domainuser.User
	byEmail map[string]domainuser.ID
}

func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:    make(map[domainuser.ID]*domainuser.User),
		byEmail: make(map[string]domainuser.ID),
	}
}

func (r *UserRepository) ByID(ctx context.Context, id domainuser.ID) (*domainuser.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if user, ok := r.byID[id]; ok {
		return cloneUser(user), nil
	}
	return nil, domainuser.ErrNotFound
}

func (r *UserRepository) ByEmail(ctx context.Context, email string) (*domainuser.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, domainuser.ErrNotFound
	}
	return cloneUser(r.byID[id]), nil
}

func (r *UserRepository) Save(ctx context.Context, user *domainuser.User) error {
	if user == nil || strings.TrimSpace(string(user.ID)) == "" {
		return domainuser.ErrIDRequired
	}
	emailKey := strings.ToLower(strings.TrimSpace(user.Email))
	if emailKey == "" {
		return domainuser.ErrEmailRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existingID, ok := r.byEmail[emailKey]; ok && existingID != user.ID {
		return domainuser.ErrEmailAlreadyUsed
	}
	if prev, ok := r.byID[user.ID]; ok {
		delete(r.byEmail, strings.ToLower(prev.Email))
	}
	r.byEmail[emailKey] = user.ID
	r.byID[user.ID] = cloneUser(user)
	return nil
}

func cloneUser(u *domainuser.User) *domainuser.User {
	if u == nil {
		return nil
	}
	out := *u
	return &out
}

// UserFixture is a seed account with a plain-text password.
type UserFixture struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// LoadUserFixtures reads a JSON array of fixtures. An empty path yields DefaultUserFixtures.
func LoadUserFixtures(path string) ([]UserFixture, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultUserFixtures(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read user fixtures: %w", err)
	}
	var out []UserFixture
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse user fixtures %s: %w", path, err)
	}
	return out, nil
}

func DefaultUserFixtures() []UserFixture {
	return []UserFixture{
		{ID: "agent-1", Email: "agent@example.com", Name: "Amelia Agent", Phone: "+10000000001", Password: "agent-pass", Role: "agent"},
		{ID: "client-1", Email: "client@example.com", Name: "Carl Client", Phone: "+10000000002", Password: "client-pass", Role: "client"},
		{ID: "admin-1", Email: "admin@example.com", Name: "Ada Admin", Password: "admin-pass", Role: "admin"},
	}
}

var _ domainuser.Repository = (*UserRepository)(nil)
