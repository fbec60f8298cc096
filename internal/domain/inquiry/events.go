package inquiry

import (
	"encoding/json"
	"strings"
)

const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventNewMessage        = "new_message"
	EventMessageRead       = "message_read"
	EventMessageReadAck    = "message_read_ack"
)

type NewMessageEvent struct {
	ConversationID string          `json:"conversationId"`
	SenderID       string          `json:"senderId"`
	AgentID        string          `json:"agentId"`
	Message        string          `json:"message"`
	Timestamp      json.RawMessage `json:"timestamp,omitempty"`
	InquiryID      string          `json:"inquiryId,omitempty"`
}

// ToMessage builds the view-model message for an event on conv.
func (e NewMessageEvent) ToMessage(conv *Conversation) Message {
	sender := conv.SenderRole(e.SenderID)
	if sender == "" && e.AgentID != "" {
		if strings.TrimSpace(e.SenderID) == strings.TrimSpace(e.AgentID) {
			sender = RoleAgent
		} else {
			sender = RoleClient
		}
	}
	return Message{
		ID:        strings.TrimSpace(e.InquiryID),
		SenderID:  strings.TrimSpace(e.SenderID),
		Sender:    sender,
		Text:      e.Message,
		Timestamp: ParseTimestamp(e.Timestamp),
	}
}

type MessageReadEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Role           Role   `json:"role"`
}

type MessageReadAckEvent struct {
	ConversationID string `json:"conversationId"`
	ReaderID       string `json:"readerId"`
	Role           Role   `json:"role"`
}
