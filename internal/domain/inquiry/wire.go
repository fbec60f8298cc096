package inquiry

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// WireMessage is a message as the inquiry backend serializes it.
type WireMessage struct {
	ID             string          `json:"id,omitempty"`
	SenderID       string          `json:"sender_id"`
	Message        string          `json:"message,omitempty"`
	MessageContent string          `json:"message_content,omitempty"`
	Timestamp      json.RawMessage `json:"timestamp,omitempty"`
	CreatedAt      json.RawMessage `json:"created_at,omitempty"`
	Read           bool            `json:"read"`
}

// WireConversation is a conversation as the inquiry backend serializes it.
type WireConversation struct {
	ID                string        `json:"id"`
	ClientID          string        `json:"client_id,omitempty"`
	AgentID           string        `json:"agent_id"`
	PropertyID        *string       `json:"property_id"`
	Messages          []WireMessage `json:"messages"`
	UnreadCount       int           `json:"unreadCount"`
	IsAgentResponded  *bool         `json:"is_agent_responded,omitempty"`
	IsClientResponded *bool         `json:"is_client_responded,omitempty"`
	Guest             *GuestDetails `json:"guest,omitempty"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts a JSON string in one of the known layouts or a number of epoch
// milliseconds. Anything else yields nil.
func ParseTimestamp(raw json.RawMessage) *time.Time {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil
		}
		return parseTimeString(s)
	}
	ms, err := strconv.ParseFloat(string(trimmed), 64)
	if err != nil || math.IsNaN(ms) || math.IsInf(ms, 0) || ms < minEpochMillis || ms > maxEpochMillis {
		return nil
	}
	return encodable(time.UnixMilli(int64(ms)))
}

// Bounds of the years a JSON timestamp can carry, 0000 through 9999.
var (
	minEpochMillis = float64(time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli())
	maxEpochMillis = float64(time.Date(9999, 12, 31, 23, 59, 59, 999e6, time.UTC).UnixMilli())
)

// encodable drops instants whose UTC year falls outside [0, 9999].
func encodable(t time.Time) *time.Time {
	t = t.UTC()
	if y := t.Year(); y < 0 || y > 9999 {
		return nil
	}
	return &t
}

func parseTimeString(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return encodable(t)
		}
	}
	return nil
}

// EncodeTimestamp renders t the way the backend emits timestamps.
func EncodeTimestamp(t time.Time) json.RawMessage {
	if t.IsZero() {
		return nil
	}
	return json.RawMessage(strconv.Quote(t.UTC().Format(time.RFC3339Nano)))
}

// Normalize converts a backend payload into the view model.
func Normalize(w WireConversation) Conversation {
	conv := Conversation{
		ID:       strings.TrimSpace(w.ID),
		ClientID: strings.TrimSpace(w.ClientID),
		AgentID:  strings.TrimSpace(w.AgentID),
	}
	if w.PropertyID != nil {
		conv.PropertyID = strings.TrimSpace(*w.PropertyID)
	}
	if w.UnreadCount > 0 {
		conv.UnreadCount = w.UnreadCount
	}

	sawShell := false
	conv.Messages = make([]Message, 0, len(w.Messages))
	for _, m := range w.Messages {
		text := m.Message
		if text == "" {
			text = m.MessageContent
		}
		if strings.TrimSpace(text) == ShellContent {
			sawShell = true
			continue
		}
		ts := ParseTimestamp(m.Timestamp)
		if ts == nil {
			ts = ParseTimestamp(m.CreatedAt)
		}
		conv.Messages = append(conv.Messages, Message{
			ID:        strings.TrimSpace(m.ID),
			SenderID:  strings.TrimSpace(m.SenderID),
			Sender:    conv.SenderRole(m.SenderID),
			Text:      text,
			Timestamp: ts,
			Read:      m.Read,
		})
	}
	conv.HasShell = sawShell && len(conv.Messages) == 0
	conv.refreshLast()

	if len(conv.Messages) > 0 {
		conv.applyResponded(conv.Messages[len(conv.Messages)-1].Sender)
	}
	if w.IsClientResponded != nil {
		conv.ClientResponded = *w.IsClientResponded
	}
	if w.IsAgentResponded != nil {
		conv.AgentResponded = *w.IsAgentResponded
	}
	return conv
}
