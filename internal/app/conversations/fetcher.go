package conversations

import (
	"context"
	"errors"
	"log/slog"

	"inquirydesk/internal/domain/inquiry"
)

// Fetcher materializes conversations from the backend. A 404 means no conversation
// exists yet and yields (nil, nil); other failures raise an error notice.
type Fetcher struct {
	API    API
	Logger *slog.Logger
	Notify func(Notice)
}

func (f Fetcher) Between(ctx context.Context, agentID, clientID string) (*inquiry.Conversation, error) {
	wire, err := f.API.ConversationBetween(ctx, agentID, clientID)
	return f.single(wire, err, "", "agent_id", agentID, "client_id", clientID)
}

func (f Fetcher) ByID(ctx context.Context, id string) (*inquiry.Conversation, error) {
	wire, err := f.API.Conversation(ctx, id)
	return f.single(wire, err, id, "conversation_id", id)
}

func (f Fetcher) List(ctx context.Context, role inquiry.Role) ([]inquiry.Conversation, error) {
	wires, err := f.API.Conversations(ctx, role)
	if err != nil {
		if errors.Is(err, inquiry.ErrNotFound) {
			return nil, nil
		}
		f.fail("Failed to load conversations", "", err, "role", role)
		return nil, err
	}
	out := make([]inquiry.Conversation, 0, len(wires))
	for _, w := range wires {
		conv := inquiry.Normalize(w)
		if conv.ID == "" {
			continue
		}
		out = append(out, conv)
	}
	return out, nil
}

func (f Fetcher) single(wire *inquiry.WireConversation, err error, id string, attrs ...any) (*inquiry.Conversation, error) {
	if err != nil {
		if errors.Is(err, inquiry.ErrNotFound) {
			return nil, nil
		}
		f.fail("Failed to load conversation", id, err, attrs...)
		return nil, err
	}
	if wire == nil {
		return nil, nil
	}
	conv := inquiry.Normalize(*wire)
	return &conv, nil
}

func (f Fetcher) fail(msg, id string, err error, attrs ...any) {
	if f.Logger != nil {
		f.Logger.Error("conversation fetch failed", append(attrs, "error", err)...)
	}
	if f.Notify != nil {
		f.Notify(Notice{Level: NoticeError, Message: msg, ConversationID: id})
	}
}
