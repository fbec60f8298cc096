package inquiry

import (
	"context"
	"strings"
)

// GuestEmailHeader carries a tokenless caller's guest email on REST calls and the socket
// handshake. GuestEmailQuery is the handshake fallback for clients that cannot set headers.
const (
	GuestEmailHeader = "X-Guest-Email"
	GuestEmailQuery  = "guest_email"
)

type guestEmailKey struct{}

// WithGuestEmail marks ctx as acting for the guest with the given email.
func WithGuestEmail(ctx context.Context, email string) context.Context {
	email = strings.TrimSpace(email)
	if email == "" {
		return ctx
	}
	return context.WithValue(ctx, guestEmailKey{}, email)
}

func GuestEmailFromContext(ctx context.Context) string {
	email, _ := ctx.Value(guestEmailKey{}).(string)
	return email
}
