package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"inquirydesk/internal/domain/shared/events"
)

const (
	HeaderConversationID = "conversation_id"
	HeaderSchema         = "schema_version"
	schemaVersion        = "1"
)

// EventRecord is an encoded conversation event waiting for the relay. Key is the
// conversation id so one conversation's events stay on one partition.
type EventRecord struct {
	ID         string
	Name       string
	Key        string
	Payload    []byte
	OccurredAt time.Time
	Headers    map[string]string
}

type Outbox interface {
	Add(ctx context.Context, record EventRecord) error
}

type EventEncoder interface {
	Encode(ev events.DomainEvent) (EventRecord, error)
}

// JSONEventEncoder marshals the event body and stamps the conversation and schema headers
// on top of the static ones.
type JSONEventEncoder struct {
	IDGenerator func() string
	Headers     map[string]string
}

func (e JSONEventEncoder) Encode(ev events.DomainEvent) (EventRecord, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return EventRecord{}, fmt.Errorf("outbox: encode %s: %w", ev.EventName(), err)
	}
	newID := e.IDGenerator
	if newID == nil {
		newID = uuid.NewString
	}
	headers := make(map[string]string, len(e.Headers)+2)
	maps.Copy(headers, e.Headers)
	headers[HeaderConversationID] = ev.AggregateID()
	headers[HeaderSchema] = schemaVersion
	return EventRecord{
		ID:         newID(),
		Name:       ev.EventName(),
		Key:        ev.AggregateID(),
		Payload:    payload,
		OccurredAt: ev.OccurredAt().UTC(),
		Headers:    headers,
	}, nil
}

// Record appends evs to box in order and stops at the first failure. A nil box means
// the relay is disabled.
func Record(ctx context.Context, box Outbox, encoder EventEncoder, evs []events.DomainEvent) error {
	if box == nil {
		return nil
	}
	if encoder == nil {
		encoder = JSONEventEncoder{}
	}
	for i, ev := range evs {
		rec, err := encoder.Encode(ev)
		if err != nil {
			return err
		}
		if err := box.Add(ctx, rec); err != nil {
			return fmt.Errorf("outbox: add %s (%d of %d): %w", rec.Name, i+1, len(evs), err)
		}
	}
	return nil
}
