package session

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inquirydesk/internal/domain/inquiry"
	"inquirydesk/internal/domain/user"
)

type memoryStore struct {
	token string
}

func (m *memoryStore) Load(context.Context) (string, error)       { return m.token, nil }
func (m *memoryStore) Save(_ context.Context, token string) error { m.token = token; return nil }
func (m *memoryStore) Clear(context.Context) error                { m.token = ""; return nil }

type fakeAuth struct {
	LoginFn func(ctx context.Context, email, password string) (string, error)
	MeFn    func(ctx context.Context, token string) (user.Profile, error)
}

func (f fakeAuth) Login(ctx context.Context, email, password string) (string, error) {
	return f.LoginFn(ctx, email, password)
}

func (f fakeAuth) Me(ctx context.Context, token string) (user.Profile, error) {
	return f.MeFn(ctx, token)
}

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "C1",
		"exp": exp.Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)
	return token
}

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestLoginStoresTokenAndResolvesProfile(t *testing.T) {
	store := &memoryStore{}
	token := signed(t, now.Add(time.Hour))
	svc := &Service{
		Store: store,
		Now:   func() time.Time { return now },
		Auth: fakeAuth{
			LoginFn: func(_ context.Context, email, password string) (string, error) {
				assert.Equal(t, "c@example.com", email)
				return token, nil
			},
			MeFn: func(_ context.Context, got string) (user.Profile, error) {
				assert.Equal(t, token, got)
				return user.Profile{ID: "C1", Role: user.RoleClient}, nil
			},
		},
	}

	profile, err := svc.Login(context.Background(), " C@example.com ", "secret")
	require.NoError(t, err)
	assert.Equal(t, "C1", profile.ID)
	assert.Equal(t, token, store.token)

	viewer, err := svc.Viewer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "C1", viewer.ID)
	assert.Equal(t, inquiry.RoleClient, viewer.Role)
}

func TestLoginMapsRejectedCredentials(t *testing.T) {
	svc := &Service{Store: &memoryStore{}, Auth: fakeAuth{
		LoginFn: func(context.Context, string, string) (string, error) { return "", user.ErrUnauthenticated },
	}}
	_, err := svc.Login(context.Background(), "c@example.com", "nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), "", "nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestCurrent(t *testing.T) {
	meCalls := 0
	auth := fakeAuth{MeFn: func(_ context.Context, token string) (user.Profile, error) {
		meCalls++
		if token == "revoked" {
			return user.Profile{}, user.ErrUnauthenticated
		}
		return user.Profile{ID: "A1", Role: user.RoleAgent}, nil
	}}

	tests := []struct {
		name      string
		token     string
		wantErr   error
		wantKept  bool
		wantCalls int
	}{
		{name: "signed out", token: "", wantErr: ErrSignedOut},
		{name: "expired locally", token: signed(t, now.Add(-time.Minute)), wantErr: ErrExpired},
		{name: "rejected by backend", token: "revoked", wantErr: ErrExpired, wantCalls: 1},
		{name: "valid", token: signed(t, now.Add(time.Minute)), wantKept: true, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meCalls = 0
			store := &memoryStore{token: tt.token}
			svc := &Service{Store: store, Auth: auth, Now: func() time.Time { return now }}

			profile, err := svc.Current(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "A1", profile.ID)
			}
			assert.Equal(t, tt.wantKept, store.token != "")
			assert.Equal(t, tt.wantCalls, meCalls)
		})
	}
}

func TestViewerFor(t *testing.T) {
	_, err := ViewerFor(user.Profile{ID: "X", Role: user.RoleAdmin})
	assert.ErrorIs(t, err, inquiry.ErrInvalidRole)

	_, err = ViewerFor(user.Profile{Role: user.RoleAgent})
	assert.ErrorIs(t, err, user.ErrIDRequired)

	v, err := ViewerFor(user.Profile{ID: "A1", Role: user.RoleAgent})
	require.NoError(t, err)
	assert.Equal(t, inquiry.RoleAgent, v.Role)
}
