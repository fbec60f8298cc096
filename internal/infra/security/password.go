package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrPasswordMismatch = errors.New("security: password mismatch")

// BcryptHasher hashes fixture and login passwords.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("security: empty password")
	}
	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost())
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Compare reports ErrPasswordMismatch for a wrong password and passes other failures through.
func (h BcryptHasher) Compare(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return err
}

func (h BcryptHasher) cost() int {
	if h.Cost >= bcrypt.MinCost && h.Cost <= bcrypt.MaxCost {
		return h.Cost
	}
	return bcrypt.DefaultCost
}
