package user

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrIDRequired          = errors.New("user: id is required")
	ErrEmailRequired       = errors.New("user: email is required")
	ErrPasswordHashMissing = errors.New("user: password hash is required")
	ErrNameRequired        = errors.New("user: name is required")
	ErrInvalidRole         = errors.New("user: invalid role")
	ErrEmailAlreadyUsed    = errors.New("user: email already used")
	ErrNotFound            = errors.New("user: not found")
	ErrUnauthenticated     = errors.New("user: not authenticated")
)

type ID string

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleAgent  Role = "agent"
	RoleClient Role = "client"
	RoleAgency Role = "agency"
)

type User struct {
	ID           ID
	Email        string
	Name         string
	Phone        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Repository interface {
	ByID(ctx context.Context, id ID) (*User, error)
	ByEmail(ctx context.Context, email string) (*User, error)
	Save(ctx context.Context, user *User) error
}

// Profile is the server-resolved identity the UI gates on.
type Profile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Role  Role   `json:"role"`
}

type CreateParams struct {
	ID           ID
	Email        string
	Name         string
	Phone        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

func NewUser(params CreateParams) (*User, error) {
	id := strings.TrimSpace(string(params.ID))
	if id == "" {
		return nil, ErrIDRequired
	}
	email := normalizeEmail(params.Email)
	if email == "" {
		return nil, ErrEmailRequired
	}
	if strings.TrimSpace(params.PasswordHash) == "" {
		return nil, ErrPasswordHashMissing
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	role, err := ParseRole(string(params.Role))
	if err != nil {
		return nil, err
	}

	now := params.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	return &User{
		ID:           ID(id),
		Email:        email,
		Name:         name,
		Phone:        strings.TrimSpace(params.Phone),
		PasswordHash: params.PasswordHash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (u *User) Profile() Profile {
	return Profile{
		ID:    string(u.ID),
		Email: u.Email,
		Name:  u.Name,
		Phone: u.Phone,
		Role:  u.Role,
	}
}

// ParseRole accepts the four account roles, case-insensitively.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleAgent:
		return RoleAgent, nil
	case RoleClient:
		return RoleClient, nil
	case RoleAgency:
		return RoleAgency, nil
	default:
		return "", ErrInvalidRole
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
