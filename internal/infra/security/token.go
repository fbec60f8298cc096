package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("security: invalid token")

// Claims carried by issued access tokens.
type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTIssuer signs and verifies HS256 access tokens.
type JWTIssuer struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
	Now    func() time.Time
}

func (j JWTIssuer) Issue(userID, email, role string) (string, error) {
	if len(j.Secret) == 0 {
		return "", errors.New("security: jwt secret is empty")
	}
	now := j.now()
	ttl := j.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	claims := Claims{
		Role:  role,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    j.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.Secret)
	if err != nil {
		return "", fmt.Errorf("security: sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the claims.
func (j JWTIssuer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return j.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Subject verifies token and returns its user id and role.
func (j JWTIssuer) Subject(token string) (string, string, error) {
	claims, err := j.Verify(token)
	if err != nil {
		return "", "", err
	}
	return claims.Subject, claims.Role, nil
}

func (j JWTIssuer) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}
