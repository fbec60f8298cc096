package inquiries

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"inquirydesk/internal/app/outbox"
	"inquirydesk/internal/domain/inquiry"
	"inquirydesk/internal/domain/shared/events"
	"inquirydesk/internal/domain/thread"
	domainuser "inquirydesk/internal/domain/user"
)

var (
	ErrInvalidCredentials = errors.New("inquiries: invalid credentials")
	ErrForbidden          = errors.New("inquiries: not allowed")
	ErrAgentNotFound      = errors.New("inquiries: agent not found")
	ErrServiceMisconfig   = errors.New("inquiries: service dependencies are missing")
)

const saveAttempts = 3

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// TokenIssuer signs access tokens and resolves them back to their subject.
type TokenIssuer interface {
	Issue(userID, email, role string) (string, error)
	Subject(token string) (userID, role string, err error)
}

// Broadcaster delivers a socket event to everyone in a conversation room.
type Broadcaster interface {
	Publish(room, event string, payload any)
}

// Principal is the caller of an operation. The zero value is an anonymous guest;
// GuestEmail is the address an anonymous caller presents to reach its own conversation.
type Principal struct {
	UserID     string
	Role       domainuser.Role
	GuestEmail string
}

func (p Principal) Anonymous() bool { return strings.TrimSpace(p.UserID) == "" }

// Service is the reference inquiry backend: the sole owner of conversation state.
type Service struct {
	Threads     thread.Repository
	Users       domainuser.Repository
	Passwords   PasswordHasher
	Tokens      TokenIssuer
	Outbox      outbox.Outbox
	Encoder     outbox.EventEncoder
	Broadcaster Broadcaster
	Logger      *slog.Logger
	Now         func() time.Time
	NewID       func() string
}

// SeedUser is an account created at startup with a plain-text password.
type SeedUser struct {
	ID       string
	Email    string
	Name     string
	Phone    string
	Password string
	Role     string
}

func (s *Service) Seed(ctx context.Context, seeds []SeedUser) error {
	if s.Users == nil || s.Passwords == nil {
		return ErrServiceMisconfig
	}
	for _, seed := range seeds {
		hash, err := s.Passwords.Hash(seed.Password)
		if err != nil {
			return err
		}
		u, err := domainuser.NewUser(domainuser.CreateParams{
			ID:           domainuser.ID(seed.ID),
			Email:        seed.Email,
			Name:         seed.Name,
			Phone:        seed.Phone,
			PasswordHash: hash,
			Role:         domainuser.Role(seed.Role),
			CreatedAt:    s.now(),
		})
		if err != nil {
			return err
		}
		if err := s.Users.Save(ctx, u); err != nil {
			return err
		}
	}
	if s.Logger != nil {
		s.Logger.Info("users seeded", "count", len(seeds))
	}
	return nil
}

func (s *Service) Login(ctx context.Context, email, password string) (string, domainuser.Profile, error) {
	if err := s.ensureAuth(); err != nil {
		return "", domainuser.Profile{}, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return "", domainuser.Profile{}, ErrInvalidCredentials
	}
	u, err := s.Users.ByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domainuser.ErrNotFound) {
			return "", domainuser.Profile{}, ErrInvalidCredentials
		}
		return "", domainuser.Profile{}, err
	}
	if err := s.Passwords.Compare(u.PasswordHash, password); err != nil {
		return "", domainuser.Profile{}, ErrInvalidCredentials
	}
	token, err := s.Tokens.Issue(string(u.ID), u.Email, string(u.Role))
	if err != nil {
		return "", domainuser.Profile{}, err
	}
	if s.Logger != nil {
		s.Logger.Info("user authenticated", "user_id", u.ID)
	}
	return token, u.Profile(), nil
}

// Authenticate resolves a bearer token. An empty token is an anonymous guest.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, nil
	}
	if err := s.ensureAuth(); err != nil {
		return Principal{}, err
	}
	userID, _, err := s.Tokens.Subject(token)
	if err != nil {
		return Principal{}, domainuser.ErrUnauthenticated
	}
	u, err := s.Users.ByID(ctx, domainuser.ID(userID))
	if err != nil {
		if errors.Is(err, domainuser.ErrNotFound) {
			return Principal{}, domainuser.ErrUnauthenticated
		}
		return Principal{}, err
	}
	return Principal{UserID: string(u.ID), Role: u.Role}, nil
}

func (s *Service) Me(ctx context.Context, p Principal) (domainuser.Profile, error) {
	if p.Anonymous() {
		return domainuser.Profile{}, domainuser.ErrUnauthenticated
	}
	u, err := s.Users.ByID(ctx, domainuser.ID(p.UserID))
	if err != nil {
		if errors.Is(err, domainuser.ErrNotFound) {
			return domainuser.Profile{}, domainuser.ErrUnauthenticated
		}
		return domainuser.Profile{}, err
	}
	return u.Profile(), nil
}

// Between returns the conversation of a registered client with an agent, as seen by the caller.
func (s *Service) Between(ctx context.Context, p Principal, agentID, clientID string) (inquiry.WireConversation, error) {
	if p.Anonymous() {
		return inquiry.WireConversation{}, domainuser.ErrUnauthenticated
	}
	if p.UserID != agentID && p.UserID != clientID {
		return inquiry.WireConversation{}, ErrForbidden
	}
	t, err := s.Threads.Between(ctx, agentID, clientID)
	if err != nil {
		return inquiry.WireConversation{}, err
	}
	role, _ := t.RoleOf(p.UserID)
	return t.Wire(role), nil
}

// Conversation loads one conversation. Guest conversations are readable without a token
// by a caller presenting the guest's email.
func (s *Service) Conversation(ctx context.Context, p Principal, id string) (inquiry.WireConversation, error) {
	t, err := s.Threads.ByID(ctx, thread.ID(id))
	if err != nil {
		return inquiry.WireConversation{}, err
	}
	role, err := s.viewerRole(t, p)
	if err != nil {
		return inquiry.WireConversation{}, err
	}
	return t.Wire(role), nil
}

// List returns the caller's inbox for role.
func (s *Service) List(ctx context.Context, p Principal, role inquiry.Role) ([]inquiry.WireConversation, error) {
	if p.Anonymous() {
		return nil, domainuser.ErrUnauthenticated
	}
	if !actsAs(p, role) {
		return nil, ErrForbidden
	}
	threads, err := s.Threads.ListFor(ctx, role, p.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]inquiry.WireConversation, 0, len(threads))
	for _, t := range threads {
		out = append(out, t.Wire(role))
	}
	return out, nil
}

// Create opens a conversation, or appends to the existing one between the same participants.
func (s *Service) Create(ctx context.Context, p Principal, req inquiry.CreateRequest) (string, error) {
	agentID := strings.TrimSpace(req.AgentID)
	clientID := strings.TrimSpace(req.ClientID)
	var sender string
	switch {
	case p.Anonymous():
		if req.Guest == nil || clientID != "" {
			return "", inquiry.ErrGuestDetailsRequired
		}
	case p.UserID == agentID:
		sender = agentID
	case p.Role != domainuser.RoleClient:
		return "", ErrForbidden
	default:
		if clientID == "" {
			clientID = p.UserID
		}
		if clientID != p.UserID {
			return "", ErrForbidden
		}
		sender = clientID
	}
	if err := s.ensureAgent(ctx, agentID); err != nil {
		return "", err
	}

	if !p.Anonymous() && clientID != "" {
		existing, err := s.Threads.Between(ctx, agentID, clientID)
		switch {
		case err == nil:
			if strings.TrimSpace(req.Message) == inquiry.ShellContent {
				return string(existing.ID), nil
			}
			_, err := s.post(ctx, existing.ID, func(t *thread.Thread) (thread.Post, error) {
				return t.AddPost(s.newID(), sender, req.Message, s.now())
			})
			return string(existing.ID), err
		case !errors.Is(err, thread.ErrNotFound):
			return "", err
		}
	}

	property := ""
	if req.PropertyID != nil {
		property = *req.PropertyID
	}
	t, post, err := thread.Open(thread.OpenParams{
		ID:         thread.ID(s.newID()),
		PostID:     s.newID(),
		ClientID:   clientID,
		AgentID:    agentID,
		SenderID:   sender,
		PropertyID: property,
		Guest:      req.Guest,
		Text:       req.Message,
		Now:        s.now(),
	})
	if err != nil {
		return "", err
	}
	if err := s.Threads.Save(ctx, t); err != nil {
		return "", err
	}
	s.record(ctx, t.PendingEvents())
	if !post.IsShell() {
		s.announce(t, post)
	}
	if s.Logger != nil {
		s.Logger.Info("conversation opened", "conversation_id", t.ID, "agent_id", agentID, "guest", t.Guest != nil)
	}
	return string(t.ID), nil
}

// Reply appends a message to an existing conversation.
func (s *Service) Reply(ctx context.Context, p Principal, req inquiry.ReplyRequest) error {
	id := thread.ID(strings.TrimSpace(req.ConversationID))
	if id == "" {
		return thread.ErrIDRequired
	}
	_, err := s.post(ctx, id, func(t *thread.Thread) (thread.Post, error) {
		sender, err := s.replySender(t, p, req.Guest)
		if err != nil {
			return thread.Post{}, err
		}
		if recipient := strings.TrimSpace(req.RecipientID); recipient != "" && recipient == sender {
			return thread.Post{}, ErrForbidden
		}
		return t.AddPost(s.newID(), sender, req.MessageContent, s.now())
	})
	return err
}

// MarkRead clears role's unread counter. It reports how many messages were cleared.
func (s *Service) MarkRead(ctx context.Context, p Principal, role inquiry.Role, id string) (int, error) {
	var cleared int
	_, err := s.mutate(ctx, thread.ID(id), func(t *thread.Thread) error {
		if err := s.requireRole(t, p, role); err != nil {
			return err
		}
		cleared = t.MarkRead(role, s.now())
		return nil
	})
	return cleared, err
}

func (s *Service) MarkResponded(ctx context.Context, p Principal, id string) error {
	_, err := s.mutate(ctx, thread.ID(id), func(t *thread.Thread) error {
		if err := s.requireRole(t, p, inquiry.RoleClient); err != nil {
			return err
		}
		t.MarkResponded(s.now())
		return nil
	})
	return err
}

func (s *Service) Delete(ctx context.Context, p Principal, id string) error {
	if p.Anonymous() {
		return domainuser.ErrUnauthenticated
	}
	t, err := s.Threads.ByID(ctx, thread.ID(id))
	if err != nil {
		return err
	}
	if _, ok := t.RoleOf(p.UserID); !ok {
		return ErrForbidden
	}
	if err := s.Threads.Delete(ctx, t.ID); err != nil {
		return err
	}
	t.MarkDeleted(p.UserID, s.now())
	s.record(ctx, t.PendingEvents())
	if s.Logger != nil {
		s.Logger.Info("conversation deleted", "conversation_id", t.ID, "user_id", p.UserID)
	}
	return nil
}

// CanJoin reports whether the caller may subscribe to a conversation room.
func (s *Service) CanJoin(ctx context.Context, p Principal, id string) bool {
	t, err := s.Threads.ByID(ctx, thread.ID(id))
	if err != nil {
		return false
	}
	_, err = s.viewerRole(t, p)
	return err == nil
}

// Acknowledge handles a message_read socket event and returns the ack to relay.
func (s *Service) Acknowledge(ctx context.Context, p Principal, ev inquiry.MessageReadEvent) (inquiry.MessageReadAckEvent, error) {
	if p.Anonymous() || ev.UserID != p.UserID {
		return inquiry.MessageReadAckEvent{}, ErrForbidden
	}
	if _, err := s.MarkRead(ctx, p, ev.Role, ev.ConversationID); err != nil {
		return inquiry.MessageReadAckEvent{}, err
	}
	return inquiry.MessageReadAckEvent{ConversationID: ev.ConversationID, ReaderID: p.UserID, Role: ev.Role}, nil
}

func (s *Service) post(ctx context.Context, id thread.ID, add func(t *thread.Thread) (thread.Post, error)) (thread.Post, error) {
	var post thread.Post
	t, err := s.mutate(ctx, id, func(t *thread.Thread) error {
		var err error
		post, err = add(t)
		return err
	})
	if err != nil {
		return thread.Post{}, err
	}
	s.announce(t, post)
	return post, nil
}

// mutate applies change to a fresh copy, retrying when another writer won the race.
func (s *Service) mutate(ctx context.Context, id thread.ID, change func(t *thread.Thread) error) (*thread.Thread, error) {
	if s.Threads == nil {
		return nil, ErrServiceMisconfig
	}
	for attempt := 1; ; attempt++ {
		t, err := s.Threads.ByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := change(t); err != nil {
			return nil, err
		}
		err = s.Threads.Save(ctx, t)
		if err == nil {
			s.record(ctx, t.PendingEvents())
			return t, nil
		}
		if !errors.Is(err, thread.ErrConcurrentUpdate) || attempt >= saveAttempts {
			return nil, err
		}
		if s.Logger != nil {
			s.Logger.Debug("conversation save conflict, retrying", "conversation_id", id, "attempt", attempt)
		}
	}
}

func (s *Service) announce(t *thread.Thread, post thread.Post) {
	if s.Broadcaster == nil {
		return
	}
	s.Broadcaster.Publish(string(t.ID), inquiry.EventNewMessage, inquiry.NewMessageEvent{
		ConversationID: string(t.ID),
		SenderID:       post.SenderID,
		AgentID:        t.AgentID,
		Message:        post.Text,
		Timestamp:      inquiry.EncodeTimestamp(post.CreatedAt),
		InquiryID:      post.ID,
	})
}

func (s *Service) record(ctx context.Context, evs []events.DomainEvent) {
	if err := outbox.Record(ctx, s.Outbox, s.Encoder, evs); err != nil && s.Logger != nil {
		s.Logger.Error("domain events not recorded", "count", len(evs), "error", err)
	}
}

func (s *Service) replySender(t *thread.Thread, p Principal, guest *inquiry.GuestDetails) (string, error) {
	if !p.Anonymous() {
		if _, ok := t.RoleOf(p.UserID); !ok {
			return "", ErrForbidden
		}
		return p.UserID, nil
	}
	if guest == nil {
		return "", domainuser.ErrUnauthenticated
	}
	if err := guestAccess(t, guest.Email); err != nil {
		return "", err
	}
	return "", nil
}

// guestAccess admits an anonymous caller to a guest conversation by the guest's email.
func guestAccess(t *thread.Thread, email string) error {
	email = strings.TrimSpace(email)
	if t.Guest == nil || email == "" {
		return domainuser.ErrUnauthenticated
	}
	if !strings.EqualFold(email, strings.TrimSpace(t.Guest.Email)) {
		return ErrForbidden
	}
	return nil
}

func (s *Service) viewerRole(t *thread.Thread, p Principal) (inquiry.Role, error) {
	if p.Anonymous() {
		if err := guestAccess(t, p.GuestEmail); err != nil {
			return "", err
		}
		return inquiry.RoleClient, nil
	}
	role, ok := t.RoleOf(p.UserID)
	if !ok {
		return "", ErrForbidden
	}
	return role, nil
}

func (s *Service) requireRole(t *thread.Thread, p Principal, role inquiry.Role) error {
	if p.Anonymous() {
		return domainuser.ErrUnauthenticated
	}
	got, ok := t.RoleOf(p.UserID)
	if !ok || got != role {
		return ErrForbidden
	}
	return nil
}

func (s *Service) ensureAgent(ctx context.Context, agentID string) error {
	if agentID == "" {
		return thread.ErrAgentRequired
	}
	if s.Users == nil {
		return nil
	}
	u, err := s.Users.ByID(ctx, domainuser.ID(agentID))
	if err != nil {
		if errors.Is(err, domainuser.ErrNotFound) {
			return ErrAgentNotFound
		}
		return err
	}
	if u.Role != domainuser.RoleAgent {
		return ErrAgentNotFound
	}
	return nil
}

func (s *Service) ensureAuth() error {
	if s.Users == nil || s.Passwords == nil || s.Tokens == nil {
		return ErrServiceMisconfig
	}
	return nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func actsAs(p Principal, role inquiry.Role) bool {
	switch role {
	case inquiry.RoleAgent:
		return p.Role == domainuser.RoleAgent
	case inquiry.RoleClient:
		return p.Role == domainuser.RoleClient
	default:
		return false
	}
}
