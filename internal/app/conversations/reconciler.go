package conversations

import (
	"context"

	"inquirydesk/internal/domain/inquiry"
)

// markRead zeroes the local unread counter, confirms it server-side and emits message_read.
// A failed confirmation adds the previous count back, keeping messages counted meanwhile.
// Calls on a zero counter, or while a round trip for the same conversation is in flight,
// are no-ops.
func (s *Synchronizer) markRead(ctx context.Context, id string, gen uint64) error {
	for {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return nil
		}
		conv, ok := s.convs[id]
		if !ok || conv.UnreadCount <= 0 || s.marking[id] {
			s.mu.Unlock()
			return nil
		}
		prev := conv.ClearUnread()
		s.marking[id] = true
		snap := conv.Clone()
		s.mu.Unlock()
		s.publishChanged(snap)

		err := s.api.MarkRead(ctx, s.viewer.Role, id)

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return nil
		}
		delete(s.marking, id)
		conv, ok = s.convs[id]
		if err != nil {
			if ok {
				conv.RestoreUnread(prev)
				snap = conv.Clone()
			}
			s.mu.Unlock()
			s.logError("mark read failed", id, err)
			if ok {
				s.publishChanged(snap)
			}
			s.notify(Notice{Level: NoticeError, Message: "Failed to mark conversation as read", ConversationID: id})
			return err
		}
		again := ok && s.open == id && conv.UnreadCount > 0
		s.mu.Unlock()

		s.emit(inquiry.EventMessageRead, inquiry.MessageReadEvent{
			ConversationID: id,
			UserID:         s.viewer.ID,
			Role:           s.viewer.Role,
		})
		if !again {
			return nil
		}
	}
}

// markReadAsync runs markRead off the socket goroutine. The caller counts it in s.wg while
// holding s.mu and seeing the view mounted, so an Unmount cannot already be waiting.
func (s *Synchronizer) markReadAsync(ctx context.Context, id string, gen uint64) {
	go func() {
		defer s.wg.Done()
		_ = s.markRead(ctx, id, gen)
	}()
}

// markResponded flips ClientResponded optimistically and confirms it, rolling back on failure.
func (s *Synchronizer) markResponded(ctx context.Context, id string, gen uint64) error {
	s.mu.Lock()
	conv, ok := s.convs[id]
	if s.gen != gen || !ok || conv.ClientResponded {
		s.mu.Unlock()
		return nil
	}
	prevClient, prevAgent := conv.ClientResponded, conv.AgentResponded
	conv.ClientResponded = true
	conv.AgentResponded = false
	snap := conv.Clone()
	s.mu.Unlock()
	s.publishChanged(snap)

	err := s.api.MarkResponded(ctx, id)
	if err == nil {
		return nil
	}

	s.mu.Lock()
	conv, ok = s.convs[id]
	restored := s.gen == gen && ok
	if restored {
		conv.ClientResponded = prevClient
		conv.AgentResponded = prevAgent
		snap = conv.Clone()
	}
	s.mu.Unlock()
	s.logError("mark responded failed", id, err)
	if restored {
		s.publishChanged(snap)
	}
	s.notify(Notice{Level: NoticeError, Message: "Failed to update conversation status", ConversationID: id})
	return err
}

// emit is fire and forget: frames sent while disconnected are dropped.
func (s *Synchronizer) emit(event string, payload any) {
	if err := s.gateway.Emit(event, payload); err != nil && s.logger != nil {
		s.logger.Debug("socket emit dropped", "event", event, "error", err)
	}
}
