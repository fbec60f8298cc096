package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"inquirydesk/internal/app/inquiries"
	"inquirydesk/internal/domain/inquiry"
	domainuser "inquirydesk/internal/domain/user"
)

const principalContextKey = "inquirydesk.principal"

// AuthMiddleware resolves the bearer token. Requests without a token continue as
// anonymous guests carrying the guest email they present; a token that does not
// verify is rejected outright.
type AuthMiddleware struct {
	Service *inquiries.Service
	Logger  *slog.Logger
}

func (m AuthMiddleware) Handle(c *gin.Context) {
	token := extractBearerToken(c.GetHeader("Authorization"))
	if token == "" || m.Service == nil {
		if email := strings.TrimSpace(c.GetHeader(inquiry.GuestEmailHeader)); email != "" {
			c.Set(principalContextKey, inquiries.Principal{GuestEmail: email})
		}
		c.Next()
		return
	}
	p, err := m.Service.Authenticate(c.Request.Context(), token)
	if err != nil {
		if !errors.Is(err, domainuser.ErrUnauthenticated) && m.Logger != nil {
			m.Logger.Warn("token resolution failed", "error", err)
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}
	c.Set(principalContextKey, p)
	c.Next()
}

func currentPrincipal(c *gin.Context) inquiries.Principal {
	val, ok := c.Get(principalContextKey)
	if !ok {
		return inquiries.Principal{}
	}
	p, _ := val.(inquiries.Principal)
	return p
}

func extractBearerToken(header string) string {
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
