package inquiry

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound             = errors.New("inquiry: conversation not found")
	ErrEmptyMessage         = errors.New("inquiry: message text is required")
	ErrGuestDetailsRequired = errors.New("inquiry: guest name, email and phone are required")
	ErrInvalidRole          = errors.New("inquiry: viewer role must be agent or client")
)

// ShellContent marks the placeholder message used to create a conversation before any real
// content exists. It is never part of Conversation.Messages.
const ShellContent = "__inquiry_shell__"

// NoMessagesPreview is shown for conversations without visible messages.
const NoMessagesPreview = "No messages yet"

type Role string

const (
	RoleAgent  Role = "agent"
	RoleClient Role = "client"
)

func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAgent:
		return RoleAgent, nil
	case RoleClient:
		return RoleClient, nil
	default:
		return "", ErrInvalidRole
	}
}

func (r Role) Counterpart() Role {
	switch r {
	case RoleAgent:
		return RoleClient
	case RoleClient:
		return RoleAgent
	default:
		return ""
	}
}

// Label is the display label used for message senders.
func (r Role) Label() string {
	switch r {
	case RoleAgent:
		return "Agent"
	case RoleClient:
		return "Client"
	default:
		return ""
	}
}

type Status string

const (
	StatusNewMessage Status = "New Message"
	StatusResponded  Status = "Responded"
)

type Message struct {
	ID        string
	SenderID  string
	Sender    Role
	Text      string
	Timestamp *time.Time
	Read      bool
}

type GuestDetails struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (g GuestDetails) Validate() error {
	if strings.TrimSpace(g.Name) == "" || strings.TrimSpace(g.Email) == "" || strings.TrimSpace(g.Phone) == "" {
		return ErrGuestDetailsRequired
	}
	return nil
}

// Conversation is the client-side view model of one inquiry thread.
type Conversation struct {
	ID                   string
	ClientID             string
	AgentID              string
	PropertyID           string
	Messages             []Message
	LastMessage          string
	LastMessageTimestamp *time.Time
	UnreadCount          int
	AgentResponded       bool
	ClientResponded      bool
	HasShell             bool
}

// Status reads the responded flag only; the flag is the single source of truth.
func (c Conversation) Status() Status {
	if c.ClientResponded {
		return StatusResponded
	}
	return StatusNewMessage
}

func (c Conversation) Preview() string {
	if len(c.Messages) == 0 {
		return NoMessagesPreview
	}
	return c.LastMessage
}

// SenderRole infers a sender's role from the participant ids, never from the payload.
func (c Conversation) SenderRole(senderID string) Role {
	senderID = strings.TrimSpace(senderID)
	switch {
	case senderID != "" && senderID == c.AgentID:
		return RoleAgent
	case senderID != "" && senderID == c.ClientID:
		return RoleClient
	case c.ClientID == "" && c.AgentID != "":
		// guest conversations have no client account
		return RoleClient
	default:
		return ""
	}
}

// CounterpartID returns the participant opposite to the viewer role.
func (c Conversation) CounterpartID(viewer Role) string {
	if viewer == RoleAgent {
		return c.ClientID
	}
	return c.AgentID
}

func (c Conversation) HasMessage(id string) bool {
	if id == "" {
		return false
	}
	for _, msg := range c.Messages {
		if msg.ID == id {
			return true
		}
	}
	return false
}

// Append adds a message to the end of the thread. Shell content only flags the conversation and
// duplicate ids are ignored. It reports whether the visible thread changed.
func (c *Conversation) Append(msg Message) bool {
	if strings.TrimSpace(msg.Text) == ShellContent {
		if len(c.Messages) == 0 {
			c.HasShell = true
		}
		return false
	}
	if c.HasMessage(msg.ID) {
		return false
	}
	c.Messages = append(c.Messages, msg)
	c.HasShell = false
	c.applyResponded(msg.Sender)
	c.refreshLast()
	return true
}

func (c *Conversation) IncrementUnread() {
	c.UnreadCount++
}

// ClearUnread zeroes the unread counter and returns the previous value.
func (c *Conversation) ClearUnread() int {
	prev := c.UnreadCount
	c.UnreadCount = 0
	return prev
}

// RestoreUnread reverts a ClearUnread while keeping messages counted since then.
func (c *Conversation) RestoreUnread(prev int) {
	if prev <= 0 {
		return
	}
	c.UnreadCount += prev
}

// MarkReadFrom flags messages authored by role as read and returns how many changed.
func (c *Conversation) MarkReadFrom(role Role) int {
	changed := 0
	for i := range c.Messages {
		if c.Messages[i].Sender == role && !c.Messages[i].Read {
			c.Messages[i].Read = true
			changed++
		}
	}
	return changed
}

// Clone returns a deep copy safe to hand out of a lock.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	for i, msg := range c.Messages {
		msg.Timestamp = cloneTime(msg.Timestamp)
		out.Messages[i] = msg
	}
	out.LastMessageTimestamp = cloneTime(c.LastMessageTimestamp)
	return out
}

func (c *Conversation) applyResponded(sender Role) {
	switch sender {
	case RoleClient:
		c.ClientResponded = true
		c.AgentResponded = false
	case RoleAgent:
		c.AgentResponded = true
		c.ClientResponded = false
	}
}

func (c *Conversation) refreshLast() {
	if len(c.Messages) == 0 {
		c.LastMessage = ""
		c.LastMessageTimestamp = nil
		return
	}
	last := c.Messages[len(c.Messages)-1]
	c.LastMessage = last.Text
	c.LastMessageTimestamp = cloneTime(last.Timestamp)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
