package inquiry

import "strings"

// CreateRequest opens a conversation with its first (possibly shell) message.
type CreateRequest struct {
	ClientID   string        `json:"client_id,omitempty"`
	AgentID    string        `json:"agent_id"`
	PropertyID *string       `json:"property_id"`
	Message    string        `json:"message"`
	Guest      *GuestDetails `json:"guestDetails,omitempty"`
}

// ReplyRequest appends a message to an existing conversation.
type ReplyRequest struct {
	ConversationID string        `json:"conversation_id"`
	PropertyID     *string       `json:"property_id"`
	MessageContent string        `json:"message_content"`
	RecipientID    string        `json:"recipient_id"`
	MessageType    string        `json:"message_type"`
	Guest          *GuestDetails `json:"guestDetails,omitempty"`
}

// CreateResponse is the body of a successful create.
type CreateResponse struct {
	ConversationID string `json:"conversation_id"`
}

// MessageTypeFor is the message_type a reply from role carries.
func MessageTypeFor(role Role) string {
	switch role {
	case RoleAgent:
		return "agent_reply"
	case RoleClient:
		return "client_reply"
	default:
		return "guest_reply"
	}
}

// OptionalID maps an empty id to a JSON null.
func OptionalID(id string) *string {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	return &id
}
