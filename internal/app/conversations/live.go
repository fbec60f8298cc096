package conversations

import (
	"encoding/json"

	"inquirydesk/internal/domain/inquiry"
)

// handleNewMessage patches a tracked conversation with a live message. A counterpart message
// counts as unread and, on the open conversation, is acknowledged right away.
func (s *Synchronizer) handleNewMessage(raw json.RawMessage) {
	var evt inquiry.NewMessageEvent
	if !s.decode(raw, &evt, inquiry.EventNewMessage) {
		return
	}

	s.mu.Lock()
	if s.kind == mountNone {
		s.mu.Unlock()
		return
	}
	conv, ok := s.convs[evt.ConversationID]
	if !ok {
		s.mu.Unlock()
		return
	}
	msg := evt.ToMessage(conv)
	if !conv.Append(msg) {
		s.mu.Unlock()
		return
	}
	fromCounterpart := msg.Sender != "" && msg.Sender == s.viewer.Role.Counterpart()
	if fromCounterpart {
		conv.IncrementUnread()
	}
	acknowledge := fromCounterpart && s.open == conv.ID
	if acknowledge {
		s.wg.Add(1)
	}
	snap := conv.Clone()
	gen := s.gen
	base := s.base
	s.mu.Unlock()

	s.publishChanged(snap)
	if acknowledge {
		s.markReadAsync(base, snap.ID, gen)
	}
}

// handleReadAck marks the viewer's own messages read once the counterpart has read them.
func (s *Synchronizer) handleReadAck(raw json.RawMessage) {
	var evt inquiry.MessageReadAckEvent
	if !s.decode(raw, &evt, inquiry.EventMessageReadAck) {
		return
	}

	s.mu.Lock()
	if s.kind == mountNone || evt.ConversationID == "" || evt.ConversationID != s.open {
		s.mu.Unlock()
		return
	}
	if evt.Role != s.viewer.Role.Counterpart() {
		s.mu.Unlock()
		return
	}
	conv, ok := s.convs[evt.ConversationID]
	if !ok || conv.MarkReadFrom(s.viewer.Role) == 0 {
		s.mu.Unlock()
		return
	}
	snap := conv.Clone()
	s.mu.Unlock()

	s.publishChanged(snap)
}
