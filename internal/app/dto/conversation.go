package dto

import (
	"time"

	"inquirydesk/internal/app/conversations"
	"inquirydesk/internal/domain/inquiry"
)

// Conversation is the view model handed to the UI.
type Conversation struct {
	ID                   string     `json:"id"`
	ClientID             string     `json:"client_id,omitempty"`
	AgentID              string     `json:"agent_id"`
	PropertyID           string     `json:"property_id,omitempty"`
	Status               string     `json:"status"`
	Preview              string     `json:"preview"`
	LastMessage          string     `json:"last_message"`
	LastMessageTimestamp *time.Time `json:"last_message_timestamp"`
	UnreadCount          int        `json:"unread_count"`
	AgentResponded       bool       `json:"agent_responded"`
	ClientResponded      bool       `json:"client_responded"`
	Messages             []Message  `json:"messages"`
}

// Message is one visible chat bubble.
type Message struct {
	ID          string     `json:"id,omitempty"`
	SenderID    string     `json:"sender_id"`
	Sender      string     `json:"sender"`
	SenderLabel string     `json:"sender_label"`
	Text        string     `json:"text"`
	Timestamp   *time.Time `json:"timestamp"`
	Read        bool       `json:"read"`
}

// Notice is a toast.
type Notice struct {
	Level          string `json:"level"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// View is a mounted synchronizer and its current view models.
type View struct {
	ID            string         `json:"view_id"`
	Kind          string         `json:"kind"`
	OpenID        string         `json:"open_conversation_id,omitempty"`
	Connection    string         `json:"connection"`
	Conversations []Conversation `json:"conversations"`
}

// Event is one server-sent update.
type Event struct {
	ConversationID string        `json:"conversation_id,omitempty"`
	Conversation   *Conversation `json:"conversation,omitempty"`
	Notice         *Notice       `json:"notice,omitempty"`
}

func NewConversation(c inquiry.Conversation) Conversation {
	out := Conversation{
		ID:                   c.ID,
		ClientID:             c.ClientID,
		AgentID:              c.AgentID,
		PropertyID:           c.PropertyID,
		Status:               string(c.Status()),
		Preview:              c.Preview(),
		LastMessage:          c.LastMessage,
		LastMessageTimestamp: c.LastMessageTimestamp,
		UnreadCount:          c.UnreadCount,
		AgentResponded:       c.AgentResponded,
		ClientResponded:      c.ClientResponded,
		Messages:             make([]Message, 0, len(c.Messages)),
	}
	for _, m := range c.Messages {
		out.Messages = append(out.Messages, Message{
			ID:          m.ID,
			SenderID:    m.SenderID,
			Sender:      string(m.Sender),
			SenderLabel: m.Sender.Label(),
			Text:        m.Text,
			Timestamp:   m.Timestamp,
			Read:        m.Read,
		})
	}
	return out
}

func NewConversations(convs []inquiry.Conversation) []Conversation {
	out := make([]Conversation, 0, len(convs))
	for _, c := range convs {
		out = append(out, NewConversation(c))
	}
	return out
}

func NewEvent(e conversations.Event) Event {
	out := Event{ConversationID: e.ConversationID}
	if e.Conversation != nil {
		conv := NewConversation(*e.Conversation)
		out.Conversation = &conv
	}
	if e.Notice != nil {
		out.Notice = &Notice{Level: string(e.Notice.Level), Message: e.Notice.Message, ConversationID: e.Notice.ConversationID}
	}
	return out
}
