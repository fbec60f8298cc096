package thread

import (
	"time"

	"inquirydesk/internal/domain/inquiry"
	"inquirydesk/internal/domain/shared/events"
)

const (
	EventOpened    = "inquiry.opened"
	EventPosted    = "inquiry.message_posted"
	EventRead      = "inquiry.read"
	EventResponded = "inquiry.responded"
	EventDeleted   = "inquiry.deleted"
)

type Opened struct {
	events.Base
	ConversationID string `json:"conversation_id"`
	AgentID        string `json:"agent_id"`
	ClientID       string `json:"client_id,omitempty"`
	PropertyID     string `json:"property_id,omitempty"`
	Guest          bool   `json:"guest"`
}

type Posted struct {
	events.Base
	ConversationID string       `json:"conversation_id"`
	MessageID      string       `json:"message_id"`
	SenderID       string       `json:"sender_id"`
	SenderRole     inquiry.Role `json:"sender_role"`
}

type Read struct {
	events.Base
	ConversationID string       `json:"conversation_id"`
	Reader         inquiry.Role `json:"reader"`
	Cleared        int          `json:"cleared"`
}

type Responded struct {
	events.Base
	ConversationID string `json:"conversation_id"`
}

type Deleted struct {
	events.Base
	ConversationID string `json:"conversation_id"`
	DeletedBy      string `json:"deleted_by"`
}

// MarkDeleted records the removal; the repository performs it.
func (t *Thread) MarkDeleted(by string, now time.Time) {
	t.events.Record(Deleted{Base: events.NewBase(EventDeleted, string(t.ID), now), ConversationID: string(t.ID), DeletedBy: by})
}

// PendingEvents drains the events recorded since the last call.
func (t *Thread) PendingEvents() []events.DomainEvent {
	return t.events.Drain()
}
