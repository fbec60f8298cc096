package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"inquirydesk/internal/app/conversations"
	"inquirydesk/internal/domain/inquiry"
	"inquirydesk/internal/domain/user"
)

var (
	ErrSignedOut          = errors.New("session: not signed in")
	ErrExpired            = errors.New("session: token expired")
	ErrInvalidCredentials = errors.New("session: invalid credentials")
)

type TokenStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// AuthAPI is the backend's authentication surface.
type AuthAPI interface {
	Login(ctx context.Context, email, password string) (string, error)
	Me(ctx context.Context, token string) (user.Profile, error)
}

// Service keeps the local sign-in state. The profile always comes from the backend; the
// token is decoded locally only to route an expired token back to sign-in.
type Service struct {
	Store  TokenStore
	Auth   AuthAPI
	Logger *slog.Logger
	Now    func() time.Time
}

func (s *Service) Login(ctx context.Context, email, password string) (user.Profile, error) {
	if err := s.ensureDependencies(); err != nil {
		return user.Profile{}, err
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return user.Profile{}, ErrInvalidCredentials
	}
	token, err := s.Auth.Login(ctx, email, password)
	if err != nil {
		if errors.Is(err, user.ErrUnauthenticated) {
			return user.Profile{}, ErrInvalidCredentials
		}
		return user.Profile{}, err
	}
	profile, err := s.Auth.Me(ctx, token)
	if err != nil {
		return user.Profile{}, err
	}
	if err := s.Store.Save(ctx, token); err != nil {
		return user.Profile{}, err
	}
	if s.Logger != nil {
		s.Logger.Info("signed in", "user_id", profile.ID, "role", profile.Role)
	}
	return profile, nil
}

// Current resolves the signed-in profile.
func (s *Service) Current(ctx context.Context) (user.Profile, error) {
	if err := s.ensureDependencies(); err != nil {
		return user.Profile{}, err
	}
	token, err := s.Store.Load(ctx)
	if err != nil {
		return user.Profile{}, err
	}
	if token == "" {
		return user.Profile{}, ErrSignedOut
	}
	if expired(token, s.now()) {
		s.drop(ctx, "token expired")
		return user.Profile{}, ErrExpired
	}
	profile, err := s.Auth.Me(ctx, token)
	if err != nil {
		if errors.Is(err, user.ErrUnauthenticated) {
			s.drop(ctx, "token rejected")
			return user.Profile{}, ErrExpired
		}
		return user.Profile{}, err
	}
	return profile, nil
}

func (s *Service) Logout(ctx context.Context) error {
	if err := s.ensureDependencies(); err != nil {
		return err
	}
	return s.Store.Clear(ctx)
}

// Viewer resolves the synchronizer identity of the signed-in user.
func (s *Service) Viewer(ctx context.Context) (conversations.Viewer, error) {
	profile, err := s.Current(ctx)
	if err != nil {
		return conversations.Viewer{}, err
	}
	return ViewerFor(profile)
}

// ViewerFor maps a profile onto a conversation viewer; only agents and clients converse.
func ViewerFor(profile user.Profile) (conversations.Viewer, error) {
	role, err := inquiry.ParseRole(string(profile.Role))
	if err != nil {
		return conversations.Viewer{}, err
	}
	if strings.TrimSpace(profile.ID) == "" {
		return conversations.Viewer{}, user.ErrIDRequired
	}
	return conversations.Viewer{ID: profile.ID, Role: role}, nil
}

func (s *Service) drop(ctx context.Context, reason string) {
	if err := s.Store.Clear(ctx); err != nil && s.Logger != nil {
		s.Logger.Warn("session clear failed", "error", err)
	}
	if s.Logger != nil {
		s.Logger.Info("signed out", "reason", reason)
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) ensureDependencies() error {
	if s == nil || s.Store == nil || s.Auth == nil {
		return errors.New("session: service not configured")
	}
	return nil
}

// expired reads the exp claim without verifying the signature. Tokens without a readable
// exp are left to the backend to judge.
func expired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}
