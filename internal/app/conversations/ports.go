package conversations

import (
	"context"
	"encoding/json"
	"strings"

	"inquirydesk/internal/domain/inquiry"
)

// API is the slice of the inquiry backend REST surface the synchronizer consumes.
// A missing conversation is reported with an error matching inquiry.ErrNotFound.
type API interface {
	ConversationBetween(ctx context.Context, agentID, clientID string) (*inquiry.WireConversation, error)
	Conversation(ctx context.Context, id string) (*inquiry.WireConversation, error)
	Conversations(ctx context.Context, role inquiry.Role) ([]inquiry.WireConversation, error)
	CreateConversation(ctx context.Context, req inquiry.CreateRequest) (string, error)
	SendMessage(ctx context.Context, req inquiry.ReplyRequest) error
	MarkRead(ctx context.Context, role inquiry.Role, id string) error
	MarkResponded(ctx context.Context, id string) error
	DeleteConversation(ctx context.Context, id string) error
}

// Gateway is the shared duplex channel. Connect and Disconnect are paired per holder and
// Join and Leave are paired per room.
type Gateway interface {
	Connect(ctx context.Context) error
	Disconnect()
	Emit(event string, payload any) error
	On(event string, fn func(json.RawMessage)) uint64
	Off(id uint64)
	Join(room string)
	Leave(room string)
}

type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a user-facing toast.
type Notice struct {
	Level          NoticeLevel
	Message        string
	ConversationID string
}

type EventKind string

const (
	EventChanged EventKind = "conversation"
	EventRemoved EventKind = "removed"
	EventNotice  EventKind = "notice"
	EventReset   EventKind = "reset"
)

// Event describes one change to a synchronizer's view models.
type Event struct {
	Kind           EventKind
	ConversationID string
	Conversation   *inquiry.Conversation
	Notice         *Notice
}

type Observer interface {
	Publish(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Publish(e Event) { f(e) }

// Viewer is the identity a synchronizer works for. Guests have no id and act as clients.
type Viewer struct {
	ID   string
	Role inquiry.Role
}

func (v Viewer) Guest() bool { return strings.TrimSpace(v.ID) == "" }

func (v Viewer) validate() error {
	if v.Role != inquiry.RoleAgent && v.Role != inquiry.RoleClient {
		return inquiry.ErrInvalidRole
	}
	if v.Guest() && v.Role != inquiry.RoleClient {
		return inquiry.ErrInvalidRole
	}
	return nil
}
