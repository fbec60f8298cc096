package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 2 * time.Second
)

var ErrDatabaseRequired = errors.New("mongo: database name is required")

// Client owns the connection the devserver's conversation and outbox stores share.
type Client struct {
	DB *mongo.Database
}

func New(ctx context.Context, uri, database string) (*Client, error) {
	if database == "" {
		return nil, ErrDatabaseRequired
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	opts := options.Client().
		ApplyURI(uri).
		SetAppName("inquiry-devserver").
		SetRetryWrites(true).
		SetServerSelectionTimeout(connectTimeout)
	m, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := m.Ping(ctx, nil); err != nil {
		_ = m.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: ping %s: %w", database, err)
	}
	return &Client{DB: m.Database(database)}, nil
}

// Ping backs the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return c.DB.Client().Ping(ctx, nil)
}

func (c *Client) Close(ctx context.Context) error {
	return c.DB.Client().Disconnect(ctx)
}
