package conversations

import (
	"context"
	"strings"

	"inquirydesk/internal/domain/inquiry"
)

// SendRequest is one outgoing message. An empty ConversationID targets the mounted chat
// and creates its conversation when none exists yet.
type SendRequest struct {
	ConversationID string
	Text           string
	Guest          *inquiry.GuestDetails
}

// Send posts a message. On failure an error notice is raised and no view model changes.
// Once the message is accepted Send succeeds, even when the responded confirmation fails.
func (s *Synchronizer) Send(ctx context.Context, req SendRequest) error {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return inquiry.ErrEmptyMessage
	}
	guest, err := s.guestDetails(req.Guest)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.kind == mountNone {
		s.mu.Unlock()
		return ErrNotMounted
	}
	gen := s.gen
	chat := s.chat
	id := strings.TrimSpace(req.ConversationID)
	if id == "" && s.kind == mountChat && len(s.order) > 0 {
		id = s.order[0]
	}
	var conv *inquiry.Conversation
	if id != "" {
		c, ok := s.convs[id]
		if !ok {
			s.mu.Unlock()
			return ErrUnknown
		}
		snap := c.Clone()
		conv = &snap
	} else if s.kind != mountChat {
		s.mu.Unlock()
		return ErrNoChatTarget
	}
	s.mu.Unlock()

	opCtx, done := s.opContext(ctx)
	defer done()

	if conv == nil {
		return s.create(opCtx, gen, chat, text, guest)
	}
	return s.reply(opCtx, gen, *conv, text, guest)
}

// Start prepares the detail chat for a first message: it fetches the conversation between
// the participants and, when there is none, opens one with the hidden shell message.
func (s *Synchronizer) Start(ctx context.Context, guest *inquiry.GuestDetails) (string, error) {
	details, err := s.guestDetails(guest)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	if s.kind != mountChat {
		s.mu.Unlock()
		return "", ErrNoChatTarget
	}
	if len(s.order) > 0 {
		id := s.order[0]
		s.mu.Unlock()
		return id, nil
	}
	gen := s.gen
	chat := s.chat
	s.mu.Unlock()

	opCtx, done := s.opContext(ctx)
	defer done()

	if chat.ClientID != "" {
		conv, err := s.fetch.Between(opCtx, chat.AgentID, chat.ClientID)
		if err != nil {
			return "", err
		}
		if conv != nil {
			if !s.track(gen, *conv, true) {
				return "", ErrStale
			}
			return conv.ID, nil
		}
	}

	createdID, err := s.api.CreateConversation(opCtx, s.createRequest(chat, inquiry.ShellContent, details))
	if err != nil {
		s.logError("conversation create failed", "", err)
		s.notify(Notice{Level: NoticeError, Message: "Failed to start conversation"})
		return "", err
	}
	conv, err := s.fetchCreated(opCtx, chat, createdID)
	if err != nil {
		return "", err
	}
	if conv == nil {
		return "", ErrUnknown
	}
	if !s.track(gen, *conv, true) {
		return "", ErrStale
	}
	return conv.ID, nil
}

func (s *Synchronizer) create(ctx context.Context, gen uint64, chat ChatTarget, text string, guest *inquiry.GuestDetails) error {
	createdID, err := s.api.CreateConversation(ctx, s.createRequest(chat, text, guest))
	if err != nil {
		s.logError("conversation create failed", "", err)
		s.notify(Notice{Level: NoticeError, Message: "Failed to send message"})
		return err
	}
	s.notify(Notice{Level: NoticeSuccess, Message: "Message sent", ConversationID: createdID})

	conv, err := s.fetchCreated(ctx, chat, createdID)
	if err != nil {
		return err
	}
	if conv == nil {
		return ErrUnknown
	}
	if !s.track(gen, *conv, true) {
		return ErrStale
	}
	if s.confirmsResponded() {
		_ = s.markResponded(ctx, conv.ID, gen)
	}
	return nil
}

func (s *Synchronizer) reply(ctx context.Context, gen uint64, conv inquiry.Conversation, text string, guest *inquiry.GuestDetails) error {
	req := inquiry.ReplyRequest{
		ConversationID: conv.ID,
		PropertyID:     inquiry.OptionalID(conv.PropertyID),
		MessageContent: text,
		RecipientID:    conv.CounterpartID(s.viewer.Role),
		MessageType:    inquiry.MessageTypeFor(s.viewer.Role),
		Guest:          guest,
	}
	if err := s.api.SendMessage(ctx, req); err != nil {
		s.logError("message send failed", conv.ID, err)
		s.notify(Notice{Level: NoticeError, Message: "Failed to send message", ConversationID: conv.ID})
		return err
	}
	s.notify(Notice{Level: NoticeSuccess, Message: "Message sent", ConversationID: conv.ID})

	// The message is delivered at this point. A failed status confirmation is rolled back
	// and reported on its own; it does not fail the send.
	if s.confirmsResponded() {
		_ = s.markResponded(ctx, conv.ID, gen)
	}
	return s.reload(ctx, conv.ID, gen)
}

// fetchCreated performs the single fetch that follows a create.
func (s *Synchronizer) fetchCreated(ctx context.Context, chat ChatTarget, createdID string) (*inquiry.Conversation, error) {
	if createdID != "" {
		return s.fetch.ByID(ctx, createdID)
	}
	return s.fetch.Between(ctx, chat.AgentID, chat.ClientID)
}

func (s *Synchronizer) createRequest(chat ChatTarget, text string, guest *inquiry.GuestDetails) inquiry.CreateRequest {
	return inquiry.CreateRequest{
		ClientID:   chat.ClientID,
		AgentID:    chat.AgentID,
		PropertyID: inquiry.OptionalID(chat.PropertyID),
		Message:    text,
		Guest:      guest,
	}
}

// guestDetails validates the details a guest viewer must send; account viewers send none.
// The guest email is kept so later reads can present it to the backend.
func (s *Synchronizer) guestDetails(details *inquiry.GuestDetails) (*inquiry.GuestDetails, error) {
	if !s.viewer.Guest() {
		return nil, nil
	}
	if details == nil {
		return nil, inquiry.ErrGuestDetailsRequired
	}
	if err := details.Validate(); err != nil {
		return nil, err
	}
	out := *details
	email := strings.TrimSpace(out.Email)
	s.mu.Lock()
	changed := s.guestMail != email
	s.guestMail = email
	s.mu.Unlock()
	if changed && s.onGuest != nil {
		s.onGuest(email)
	}
	return &out, nil
}

func (s *Synchronizer) confirmsResponded() bool {
	return s.viewer.Role == inquiry.RoleClient && !s.viewer.Guest()
}
