package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"inquirydesk/internal/domain/inquiry"
	"inquirydesk/internal/domain/thread"
)

// ThreadRepository persists conversations with an optimistic version check.
type ThreadRepository struct {
	col *mongo.Collection
}

func NewThreadRepository(db *mongo.Database) *ThreadRepository {
	return &ThreadRepository{col: db.Collection("inquiry_threads")}
}

// EnsureIndexes creates the lookup indexes for inbox listing and Between.
func (r *ThreadRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "agent_id", Value: 1}, {Key: "client_id", Value: 1}, {Key: "updated_at", Value: -1}}},
		{Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "updated_at", Value: -1}}},
	})
	return err
}

func (r *ThreadRepository) ByID(ctx context.Context, id thread.ID) (*thread.Thread, error) {
	return r.findOne(ctx, bson.M{"_id": string(id)}, nil)
}

func (r *ThreadRepository) Between(ctx context.Context, agentID, clientID string) (*thread.Thread, error) {
	if agentID == "" || clientID == "" {
		return nil, thread.ErrNotFound
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	return r.findOne(ctx, bson.M{"agent_id": agentID, "client_id": clientID}, opts)
}

func (r *ThreadRepository) ListFor(ctx context.Context, role inquiry.Role, userID string) ([]*thread.Thread, error) {
	var filter bson.M
	switch role {
	case inquiry.RoleAgent:
		filter = bson.M{"agent_id": userID}
	case inquiry.RoleClient:
		if userID == "" {
			return nil, nil
		}
		filter = bson.M{"client_id": userID}
	default:
		return nil, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []threadDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*thread.Thread, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toAggregate())
	}
	return out, nil
}

func (r *ThreadRepository) Save(ctx context.Context, t *thread.Thread) error {
	if t == nil || t.ID == "" {
		return thread.ErrIDRequired
	}
	doc := newThreadDocument(t)
	filter := bson.M{"_id": doc.ID, "version": t.Version}
	doc.Version = t.Version + 1
	res, err := r.col.UpdateOne(ctx, filter, bson.M{"$set": doc}, options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return thread.ErrConcurrentUpdate
		}
		return err
	}
	if res.MatchedCount == 0 && res.UpsertedCount == 0 {
		return thread.ErrConcurrentUpdate
	}
	t.Version = doc.Version
	return nil
}

func (r *ThreadRepository) Delete(ctx context.Context, id thread.ID) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": string(id)})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return thread.ErrNotFound
	}
	return nil
}

func (r *ThreadRepository) findOne(ctx context.Context, filter bson.M, opts *options.FindOneOptions) (*thread.Thread, error) {
	var doc threadDocument
	var err error
	if opts != nil {
		err = r.col.FindOne(ctx, filter, opts).Decode(&doc)
	} else {
		err = r.col.FindOne(ctx, filter).Decode(&doc)
	}
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, thread.ErrNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

type threadDocument struct {
	ID              string         `bson:"_id"`
	ClientID        string         `bson:"client_id"`
	AgentID         string         `bson:"agent_id"`
	PropertyID      string         `bson:"property_id,omitempty"`
	Guest           *guestDocument `bson:"guest,omitempty"`
	Posts           []postDocument `bson:"posts"`
	UnreadClient    int            `bson:"unread_client"`
	UnreadAgent     int            `bson:"unread_agent"`
	AgentResponded  bool           `bson:"agent_responded"`
	ClientResponded bool           `bson:"client_responded"`
	CreatedAt       int64          `bson:"created_at"`
	UpdatedAt       int64          `bson:"updated_at"`
	Version         int64          `bson:"version"`
}

type guestDocument struct {
	Name  string `bson:"name"`
	Email string `bson:"email"`
	Phone string `bson:"phone"`
}

type postDocument struct {
	ID        string `bson:"id"`
	SenderID  string `bson:"sender_id"`
	Text      string `bson:"text"`
	CreatedAt int64  `bson:"created_at"`
	Read      bool   `bson:"read"`
}

func newThreadDocument(t *thread.Thread) threadDocument {
	doc := threadDocument{
		ID:              string(t.ID),
		ClientID:        t.ClientID,
		AgentID:         t.AgentID,
		PropertyID:      t.PropertyID,
		Posts:           make([]postDocument, 0, len(t.Posts)),
		UnreadClient:    t.UnreadClient,
		UnreadAgent:     t.UnreadAgent,
		AgentResponded:  t.AgentResponded,
		ClientResponded: t.ClientResponded,
		CreatedAt:       t.CreatedAt.UnixMilli(),
		UpdatedAt:       t.UpdatedAt.UnixMilli(),
		Version:         t.Version,
	}
	if t.Guest != nil {
		doc.Guest = &guestDocument{Name: t.Guest.Name, Email: t.Guest.Email, Phone: t.Guest.Phone}
	}
	for _, p := range t.Posts {
		doc.Posts = append(doc.Posts, postDocument{
			ID:        p.ID,
			SenderID:  p.SenderID,
			Text:      p.Text,
			CreatedAt: p.CreatedAt.UnixMilli(),
			Read:      p.Read,
		})
	}
	return doc
}

func (d threadDocument) toAggregate() *thread.Thread {
	t := &thread.Thread{
		ID:              thread.ID(d.ID),
		ClientID:        d.ClientID,
		AgentID:         d.AgentID,
		PropertyID:      d.PropertyID,
		Posts:           make([]thread.Post, 0, len(d.Posts)),
		UnreadClient:    d.UnreadClient,
		UnreadAgent:     d.UnreadAgent,
		AgentResponded:  d.AgentResponded,
		ClientResponded: d.ClientResponded,
		CreatedAt:       timestampToTime(d.CreatedAt),
		UpdatedAt:       timestampToTime(d.UpdatedAt),
		Version:         d.Version,
	}
	if d.Guest != nil {
		t.Guest = &inquiry.GuestDetails{Name: d.Guest.Name, Email: d.Guest.Email, Phone: d.Guest.Phone}
	}
	for _, p := range d.Posts {
		t.Posts = append(t.Posts, thread.Post{
			ID:        p.ID,
			SenderID:  p.SenderID,
			Text:      p.Text,
			CreatedAt: timestampToTime(p.CreatedAt),
			Read:      p.Read,
		})
	}
	return t
}

func timestampToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

var _ thread.Repository = (*ThreadRepository)(nil)
