package outbox

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	appoutbox "inquirydesk/internal/app/outbox"
)

const (
	stateNew     = "NEW"
	stateClaimed = "CLAIMED"
	stateSent    = "SENT"
	stateFailed  = "FAILED"
)

// EventDocument is one outbox entry together with its delivery state.
type EventDocument struct {
	ID             string            `bson:"_id"`
	Name           string            `bson:"name"`
	Payload        []byte            `bson:"payload"`
	OccurredAt     time.Time         `bson:"occurred_at"`
	ConversationID string            `bson:"conversation_id"`
	Headers        map[string]string `bson:"headers"`
	State          string            `bson:"state"`
	Attempts       int               `bson:"attempts"`
	NextAttempt    time.Time         `bson:"next_attempt_at"`
	ClaimedBy      string            `bson:"claimed_by,omitempty"`
	ClaimedAt      time.Time         `bson:"claimed_at,omitempty"`
	SentAt         time.Time         `bson:"sent_at,omitempty"`
	LastError      string            `bson:"last_error,omitempty"`
	CreatedAt      time.Time         `bson:"created_at"`
}

func newDocument(record appoutbox.EventRecord, now time.Time) EventDocument {
	return EventDocument{
		ID:             record.ID,
		Name:           record.Name,
		Payload:        record.Payload,
		OccurredAt:     record.OccurredAt,
		ConversationID: record.Key,
		Headers:        record.Headers,
		State:          stateNew,
		NextAttempt:    now,
		CreatedAt:      now,
	}
}

// MongoStore keeps the outbox in the same database as the conversations.
type MongoStore struct {
	col *mongo.Collection
}

func NewMongoStore(ctx context.Context, db *mongo.Database) (*MongoStore, error) {
	col := db.Collection("inquiry_outbox")
	idx := mongo.IndexModel{Keys: bson.D{{Key: "state", Value: 1}, {Key: "next_attempt_at", Value: 1}}}
	if _, err := col.Indexes().CreateOne(ctx, idx); err != nil {
		return nil, err
	}
	return &MongoStore{col: col}, nil
}

func (s *MongoStore) Add(ctx context.Context, record appoutbox.EventRecord) error {
	_, err := s.col.InsertOne(ctx, newDocument(record, time.Now().UTC()))
	return err
}

func (s *MongoStore) Claim(ctx context.Context, workerID string) (*EventDocument, error) {
	now := time.Now().UTC()
	filter := bson.M{"state": bson.M{"$in": []string{stateNew, stateFailed}}, "next_attempt_at": bson.M{"$lte": now}}
	update := bson.M{"$set": bson.M{"state": stateClaimed, "claimed_by": workerID, "claimed_at": now}}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{{Key: "next_attempt_at", Value: 1}})
	var doc EventDocument
	if err := s.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

func (s *MongoStore) MarkSent(ctx context.Context, id string) error {
	_, err := s.col.UpdateByID(ctx, id, bson.M{"$set": bson.M{"state": stateSent, "sent_at": time.Now().UTC()}})
	return err
}

func (s *MongoStore) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	update := bson.M{
		"$set": bson.M{
			"state":           stateFailed,
			"next_attempt_at": next,
			"last_error":      errMsg,
		},
		"$inc": bson.M{"attempts": 1},
	}
	_, err := s.col.UpdateByID(ctx, id, update)
	return err
}

var _ Store = (*MongoStore)(nil)
