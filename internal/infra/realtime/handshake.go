package realtime

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"inquirydesk/internal/domain/inquiry"
)

// TokenSource yields the stored bearer token; an empty token means signed out.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Handshake identifies the daemon on the socket handshake: the account token when one
// is stored, otherwise the email of the guest the daemon acts for.
type Handshake struct {
	Tokens TokenSource

	mu    sync.Mutex
	guest string
}

// SetGuest records the guest email and reports whether it changed.
func (h *Handshake) SetGuest(email string) bool {
	email = strings.TrimSpace(email)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.guest == email {
		return false
	}
	h.guest = email
	return true
}

func (h *Handshake) Header(ctx context.Context) (http.Header, error) {
	header := http.Header{}
	if h.Tokens != nil {
		token, err := h.Tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
			return header, nil
		}
	}
	h.mu.Lock()
	guest := h.guest
	h.mu.Unlock()
	if guest != "" {
		header.Set(inquiry.GuestEmailHeader, guest)
	}
	return header, nil
}
