package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	appoutbox "inquirydesk/internal/app/outbox"
)

var ErrWorkerNotConfigured = errors.New("outbox: worker missing dependencies")

const (
	defaultInterval = 500 * time.Millisecond
	defaultRetry    = 5 * time.Second
	defaultSource   = "app://inquiry-devserver"
)

// Store is an outbox the worker can drain.
type Store interface {
	appoutbox.Outbox
	Claim(ctx context.Context, workerID string) (*EventDocument, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error
}

// Worker relays conversation events to the broker as structured CloudEvents, one
// entry at a time, keyed by conversation.
type Worker struct {
	Store       Store
	Producer    Producer
	Interval    time.Duration
	TopicPrefix string
	Source      string
	ID          string
	Backoff     []time.Duration
	Logger      *slog.Logger
}

type cloudEvent struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Source          string          `json:"source"`
	Subject         string          `json:"subject,omitempty"`
	Time            time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	Data            json.RawMessage `json:"data"`
}

func (w *Worker) Run(ctx context.Context) error {
	if w.Store == nil || w.Producer == nil {
		return ErrWorkerNotConfigured
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.Logger != nil {
		w.Logger.Info("outbox relay started", "worker_id", w.ID, "topic_prefix", w.TopicPrefix)
	}
	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.drain(ctx); err != nil && ctx.Err() == nil && w.Logger != nil {
				w.Logger.Error("outbox drain failed", "worker_id", w.ID, "error", err)
			}
		}
	}
}

// drain relays entries until the store has nothing due.
func (w *Worker) drain(ctx context.Context) error {
	for ctx.Err() == nil {
		claimed, err := w.processOnce(ctx)
		if err != nil || !claimed {
			return err
		}
	}
	return nil
}

func (w *Worker) processOnce(ctx context.Context) (bool, error) {
	doc, err := w.Store.Claim(ctx, w.ID)
	if err != nil || doc == nil {
		return false, err
	}
	if err := w.publish(ctx, doc); err != nil {
		if w.Logger != nil {
			w.Logger.Warn("outbox publish failed", "event", doc.Name, "event_id", doc.ID, "conversation_id", doc.ConversationID, "attempts", doc.Attempts+1, "error", err)
		}
		return true, w.Store.MarkFailed(ctx, doc.ID, w.nextRetry(doc.Attempts), err.Error())
	}
	return true, w.Store.MarkSent(ctx, doc.ID)
}

func (w *Worker) publish(ctx context.Context, doc *EventDocument) error {
	if !json.Valid(doc.Payload) {
		return errors.New("outbox: payload is not valid json")
	}
	body, err := json.Marshal(cloudEvent{
		SpecVersion:     "1.0",
		ID:              doc.ID,
		Type:            doc.Name + ".v1",
		Source:          w.source(),
		Subject:         doc.ConversationID,
		Time:            doc.OccurredAt.UTC(),
		DataContentType: "application/json",
		Data:            doc.Payload,
	})
	if err != nil {
		return err
	}
	headers := map[string]string{"content-type": "application/cloudevents+json"}
	maps.Copy(headers, doc.Headers)
	topic := w.topicFor(doc.Name)
	if err := w.Producer.Publish(ctx, topic, doc.ConversationID, body, headers); err != nil {
		return err
	}
	if w.Logger != nil {
		w.Logger.Debug("outbox event published", "event", doc.Name, "topic", topic, "conversation_id", doc.ConversationID)
	}
	return nil
}

// topicFor maps "inquiry.opened" to "<prefix>inquiry.events.v1".
func (w *Worker) topicFor(name string) string {
	family, _, _ := strings.Cut(name, ".")
	return w.TopicPrefix + family + ".events.v1"
}

func (w *Worker) interval() time.Duration {
	if w.Interval > 0 {
		return w.Interval
	}
	return defaultInterval
}

// nextRetry walks the backoff schedule and stays on its last step.
func (w *Worker) nextRetry(attempts int) time.Time {
	delay := defaultRetry
	switch {
	case attempts < len(w.Backoff):
		delay = w.Backoff[attempts]
	case len(w.Backoff) > 0:
		delay = w.Backoff[len(w.Backoff)-1]
	}
	return time.Now().Add(delay)
}

func (w *Worker) source() string {
	if w.Source != "" {
		return w.Source
	}
	return defaultSource
}
