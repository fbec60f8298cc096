package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	bbolt "go.etcd.io/bbolt"
)

var bucketSession = []byte("session")

var keyToken = []byte("token")

type tokenRecord struct {
	Token   string    `json:"token"`
	SavedAt time.Time `json:"saved_at"`
}

// TokenStore persists the signed-in bearer token in a local BoltDB file.
type TokenStore struct {
	db *bbolt.DB
}

func OpenTokenStore(path string) (*TokenStore, error) {
	if path == "" {
		return nil, errors.New("bolt: path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSession)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &TokenStore{db: db}, nil
}

// Load returns the stored token or an empty string when nobody is signed in.
func (s *TokenStore) Load(context.Context) (string, error) {
	var token string
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketSession).Get(keyToken)
		if len(raw) == 0 {
			return nil
		}
		var rec tokenRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			// unreadable records count as signed out
			return nil
		}
		token = rec.Token
		return nil
	})
	return token, err
}

func (s *TokenStore) Save(_ context.Context, token string) error {
	raw, err := json.Marshal(tokenRecord{Token: token, SavedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSession).Put(keyToken, raw)
	})
}

func (s *TokenStore) Clear(context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSession).Delete(keyToken)
	})
}

// Token satisfies the REST client's token source.
func (s *TokenStore) Token(ctx context.Context) (string, error) {
	return s.Load(ctx)
}

// Ready is a readiness probe for the session database.
func (s *TokenStore) Ready(context.Context) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketSession) == nil {
			return errors.New("bolt: session bucket missing")
		}
		return nil
	})
}

func (s *TokenStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
