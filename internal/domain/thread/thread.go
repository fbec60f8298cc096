package thread

import (
	"context"
	"errors"
	"strings"
	"time"

	"inquirydesk/internal/domain/inquiry"
	"inquirydesk/internal/domain/shared/events"
)

var (
	ErrNotFound         = errors.New("thread: not found")
	ErrIDRequired       = errors.New("thread: id is required")
	ErrAgentRequired    = errors.New("thread: agent_id is required")
	ErrClientRequired   = errors.New("thread: client_id or guest details are required")
	ErrNotParticipant   = errors.New("thread: sender is not a participant")
	ErrConcurrentUpdate = errors.New("thread: concurrent update detected")
	ErrShellNotAllowed  = errors.New("thread: shell content only opens a conversation")
	ErrSelfConversation = errors.New("thread: agent and client must differ")
)

type ID string

// Post is a stored message.
type Post struct {
	ID        string
	SenderID  string
	Text      string
	CreatedAt time.Time
	Read      bool
}

func (p Post) IsShell() bool {
	return strings.TrimSpace(p.Text) == inquiry.ShellContent
}

// Thread is the backend's authoritative conversation record.
type Thread struct {
	ID              ID
	ClientID        string
	AgentID         string
	PropertyID      string
	Guest           *inquiry.GuestDetails
	Posts           []Post
	UnreadClient    int
	UnreadAgent     int
	AgentResponded  bool
	ClientResponded bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Version         int64

	events events.Recorder
}

type Repository interface {
	ByID(ctx context.Context, id ID) (*Thread, error)
	Between(ctx context.Context, agentID, clientID string) (*Thread, error)
	ListFor(ctx context.Context, role inquiry.Role, userID string) ([]*Thread, error)
	Save(ctx context.Context, t *Thread) error
	Delete(ctx context.Context, id ID) error
}

type OpenParams struct {
	ID         ID
	PostID     string
	ClientID   string
	AgentID    string
	SenderID   string
	PropertyID string
	Guest      *inquiry.GuestDetails
	Text       string
	Now        time.Time
}

// Open starts a thread with its first message, which may be the shell placeholder.
// SenderID defaults to the client.
func Open(params OpenParams) (*Thread, Post, error) {
	id := strings.TrimSpace(string(params.ID))
	if id == "" {
		return nil, Post{}, ErrIDRequired
	}
	agentID := strings.TrimSpace(params.AgentID)
	if agentID == "" {
		return nil, Post{}, ErrAgentRequired
	}
	clientID := strings.TrimSpace(params.ClientID)
	if clientID == "" {
		if params.Guest == nil {
			return nil, Post{}, ErrClientRequired
		}
		if err := params.Guest.Validate(); err != nil {
			return nil, Post{}, err
		}
	}
	if clientID == agentID {
		return nil, Post{}, ErrSelfConversation
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	t := &Thread{
		ID:         ID(id),
		ClientID:   clientID,
		AgentID:    agentID,
		PropertyID: strings.TrimSpace(params.PropertyID),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if params.Guest != nil && clientID == "" {
		guest := *params.Guest
		t.Guest = &guest
	}
	sender := strings.TrimSpace(params.SenderID)
	if sender == "" {
		sender = clientID
	}
	t.events.Record(Opened{
		Base:           events.NewBase(EventOpened, id, now),
		ConversationID: id,
		AgentID:        agentID,
		ClientID:       clientID,
		PropertyID:     t.PropertyID,
		Guest:          t.Guest != nil,
	})
	post, err := t.add(params.PostID, sender, params.Text, now, true)
	if err != nil {
		return nil, Post{}, err
	}
	return t, post, nil
}

// RoleOf resolves a participant's role; guests post with an empty sender id.
func (t *Thread) RoleOf(userID string) (inquiry.Role, bool) {
	userID = strings.TrimSpace(userID)
	switch {
	case userID != "" && userID == t.AgentID:
		return inquiry.RoleAgent, true
	case userID == t.ClientID:
		return inquiry.RoleClient, true
	default:
		return "", false
	}
}

// AddPost appends a real message. The first real message supersedes a shell placeholder.
func (t *Thread) AddPost(postID, senderID, text string, now time.Time) (Post, error) {
	return t.add(postID, senderID, text, now, false)
}

func (t *Thread) add(postID, senderID, text string, now time.Time, allowShell bool) (Post, error) {
	role, ok := t.RoleOf(senderID)
	if !ok {
		return Post{}, ErrNotParticipant
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Post{}, inquiry.ErrEmptyMessage
	}
	if now.IsZero() {
		now = time.Now()
	}
	post := Post{ID: postID, SenderID: strings.TrimSpace(senderID), Text: text, CreatedAt: now.UTC()}
	if post.IsShell() {
		if !allowShell {
			return Post{}, ErrShellNotAllowed
		}
		t.Posts = append(t.Posts, post)
		return post, nil
	}

	t.dropShells()
	t.Posts = append(t.Posts, post)
	switch role {
	case inquiry.RoleAgent:
		t.UnreadClient++
		t.AgentResponded = true
		t.ClientResponded = false
	case inquiry.RoleClient:
		t.UnreadAgent++
		t.ClientResponded = true
		t.AgentResponded = false
	}
	t.UpdatedAt = post.CreatedAt
	t.events.Record(Posted{
		Base:           events.NewBase(EventPosted, string(t.ID), post.CreatedAt),
		ConversationID: string(t.ID),
		MessageID:      post.ID,
		SenderID:       post.SenderID,
		SenderRole:     role,
	})
	return post, nil
}

// MarkRead clears the reader's unread counter and flags the counterpart's posts as read.
func (t *Thread) MarkRead(reader inquiry.Role, now time.Time) int {
	var prev int
	switch reader {
	case inquiry.RoleAgent:
		prev, t.UnreadAgent = t.UnreadAgent, 0
	case inquiry.RoleClient:
		prev, t.UnreadClient = t.UnreadClient, 0
	default:
		return 0
	}
	counterpart := reader.Counterpart()
	for i := range t.Posts {
		role, _ := t.RoleOf(t.Posts[i].SenderID)
		if role == counterpart {
			t.Posts[i].Read = true
		}
	}
	t.touch(now)
	if prev > 0 {
		t.events.Record(Read{Base: events.NewBase(EventRead, string(t.ID), t.UpdatedAt), ConversationID: string(t.ID), Reader: reader, Cleared: prev})
	}
	return prev
}

func (t *Thread) MarkResponded(now time.Time) {
	t.ClientResponded = true
	t.touch(now)
	t.events.Record(Responded{Base: events.NewBase(EventResponded, string(t.ID), t.UpdatedAt), ConversationID: string(t.ID)})
}

// UnreadFor returns the unread counter of one side.
func (t *Thread) UnreadFor(role inquiry.Role) int {
	if role == inquiry.RoleAgent {
		return t.UnreadAgent
	}
	return t.UnreadClient
}

// Wire renders the thread as seen by viewer.
func (t *Thread) Wire(viewer inquiry.Role) inquiry.WireConversation {
	out := inquiry.WireConversation{
		ID:                string(t.ID),
		ClientID:          t.ClientID,
		AgentID:           t.AgentID,
		Messages:          make([]inquiry.WireMessage, 0, len(t.Posts)),
		UnreadCount:       t.UnreadFor(viewer),
		IsAgentResponded:  boolPtr(t.AgentResponded),
		IsClientResponded: boolPtr(t.ClientResponded),
	}
	if t.PropertyID != "" {
		property := t.PropertyID
		out.PropertyID = &property
	}
	if t.Guest != nil {
		guest := *t.Guest
		out.Guest = &guest
	}
	for _, p := range t.Posts {
		out.Messages = append(out.Messages, inquiry.WireMessage{
			ID:             p.ID,
			SenderID:       p.SenderID,
			MessageContent: p.Text,
			Timestamp:      inquiry.EncodeTimestamp(p.CreatedAt),
			Read:           p.Read,
		})
	}
	return out
}

// Clone returns a deep copy without pending events.
func (t *Thread) Clone() *Thread {
	if t == nil {
		return nil
	}
	out := *t
	out.events = events.Recorder{}
	out.Posts = append([]Post(nil), t.Posts...)
	if t.Guest != nil {
		guest := *t.Guest
		out.Guest = &guest
	}
	return &out
}

func (t *Thread) dropShells() {
	kept := t.Posts[:0]
	for _, p := range t.Posts {
		if !p.IsShell() {
			kept = append(kept, p)
		}
	}
	t.Posts = kept
}

func (t *Thread) touch(now time.Time) {
	if now.IsZero() {
		now = time.Now()
	}
	t.UpdatedAt = now.UTC()
}

func boolPtr(v bool) *bool { return &v }
