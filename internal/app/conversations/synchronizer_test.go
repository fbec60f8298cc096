package conversations

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inquirydesk/internal/domain/inquiry"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

var errBackend = errors.New("backend unavailable")

func newSync(t *testing.T, viewer Viewer, api *fakeAPI) (*Synchronizer, *fakeGateway, *recorder) {
	t.Helper()
	gw := newFakeGateway()
	rec := &recorder{}
	s, err := NewSynchronizer(Options{Viewer: viewer, API: api, Gateway: gw, Observer: rec})
	require.NoError(t, err)
	t.Cleanup(s.Unmount)
	return s, gw, rec
}

func clientViewer() Viewer { return Viewer{ID: "C1", Role: inquiry.RoleClient} }
func agentViewer() Viewer  { return Viewer{ID: "A1", Role: inquiry.RoleAgent} }

func mustConversation(t *testing.T, s *Synchronizer, id string) inquiry.Conversation {
	t.Helper()
	conv, ok := s.Conversation(id)
	require.True(t, ok, "conversation %s is not tracked", id)
	return conv
}

func TestNewSynchronizerRejectsUnsupportedViewers(t *testing.T) {
	tests := []struct {
		name   string
		viewer Viewer
	}{
		{name: "admin", viewer: Viewer{ID: "X", Role: "admin"}},
		{name: "guest agent", viewer: Viewer{Role: inquiry.RoleAgent}},
		{name: "no role", viewer: Viewer{ID: "X"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSynchronizer(Options{Viewer: tt.viewer, API: &fakeAPI{}, Gateway: newFakeGateway()})
			assert.ErrorIs(t, err, inquiry.ErrInvalidRole)
		})
	}
}

func TestMountInboxTracksAndJoinsEveryConversation(t *testing.T) {
	api := &fakeAPI{ListFn: func(_ context.Context, role inquiry.Role) ([]inquiry.WireConversation, error) {
		assert.Equal(t, inquiry.RoleAgent, role)
		return []inquiry.WireConversation{
			*wireConv("X", "A1", "C1", 2, wireMsg("m1", "C1", "hi", false)),
			*wireConv("Y", "A1", "C2", 0),
		}, nil
	}}
	s, gw, _ := newSync(t, agentViewer(), api)

	require.NoError(t, s.MountInbox(context.Background()))

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "X", snap[0].ID)
	assert.Equal(t, 2, snap[0].UnreadCount)
	assert.Equal(t, inquiry.NoMessagesPreview, snap[1].Preview())
	assert.Equal(t, 1, gw.roomCount("X"))
	assert.Equal(t, 1, gw.roomCount("Y"))
	assert.Equal(t, 2, gw.listenerCount())
	assert.Equal(t, 1, gw.holderCount())
}

func TestRepeatedMountsLeaveNoResidualListeners(t *testing.T) {
	api := &fakeAPI{ListFn: func(context.Context, inquiry.Role) ([]inquiry.WireConversation, error) {
		return []inquiry.WireConversation{*wireConv("X", "A1", "C1", 0)}, nil
	}}
	s, gw, _ := newSync(t, clientViewer(), api)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.MountInbox(context.Background()))
		assert.Equal(t, 1, gw.roomCount("X"))
		assert.Equal(t, 2, gw.listenerCount())
		s.Unmount()
	}
	assert.Equal(t, 0, gw.roomCount("X"))
	assert.Equal(t, 0, gw.listenerCount())
	assert.Equal(t, 0, gw.holderCount())
	assert.Empty(t, s.Snapshot())
}

func TestRemountReleasesThePreviousMount(t *testing.T) {
	api := &fakeAPI{
		ListFn: func(context.Context, inquiry.Role) ([]inquiry.WireConversation, error) {
			return []inquiry.WireConversation{*wireConv("X", "A1", "C1", 0)}, nil
		},
		BetweenFn: func(context.Context, string, string) (*inquiry.WireConversation, error) {
			return wireConv("Z", "A2", "C1", 0), nil
		},
	}
	s, gw, _ := newSync(t, clientViewer(), api)

	require.NoError(t, s.MountInbox(context.Background()))
	require.NoError(t, s.MountChat(context.Background(), ChatTarget{AgentID: "A2"}))

	assert.Equal(t, 0, gw.roomCount("X"))
	assert.Equal(t, 1, gw.roomCount("Z"))
	assert.Equal(t, 2, gw.listenerCount())
	assert.Equal(t, 1, gw.holderCount())
	assert.Equal(t, "Z", s.OpenID())
}

func TestMarkReadOnZeroIsANoop(t *testing.T) {
	api := &fakeAPI{ListFn: func(context.Context, inquiry.Role) ([]inquiry.WireConversation, error) {
		return []inquiry.WireConversation{*wireConv("X", "A1", "C1", 0)}, nil
	}}
	s, gw, rec := newSync(t, clientViewer(), api)
	require.NoError(t, s.MountInbox(context.Background()))

	require.NoError(t, s.MarkRead(context.Background(), "X"))
	require.NoError(t, s.MarkRead(context.Background(), "X"))

	assert.Equal(t, 0, mustConversation(t, s, "X").UnreadCount)
	assert.Zero(t, api.Calls("markRead"))
	assert.Empty(t, gw.emittedEvents(inquiry.EventMessageRead))
	assert.Empty(t, rec.notices(NoticeError))
}

func TestOpenMarksReadAndEmitsMessageRead(t *testing.T) {
	conv := wireConv("X", "A1", "C1", 3, wireMsg("m1", "A1", "hello", false))
	api := &fakeAPI{
		ListFn: func(context.Context, inquiry.Role) ([]inquiry.WireConversation, error) {
			return []inquiry.WireConversation{*conv}, nil
		},
		ByIDFn: func(context.Context, string) (*inquiry.WireConversation, error) { return conv, nil },
		MarkReadFn: func(_ context.Context, role inquiry.Role, id string) error {
			assert.Equal(t, inquiry.RoleClient, role)
			assert.Equal(t, "X", id)
			return nil
		},
	}
	s, gw, _ := newSync(t, clientViewer(), api)
	require.NoError(t, s.MountInbox(context.Background()))

	require.NoError(t, s.Open(context.Background(), "X"))

	assert.Equal(t, 0, mustConversation(t, s, "X").UnreadCount)
	assert.Equal(t, 1, api.Calls("markRead"))
	events := gw.emittedEvents(inquiry.EventMessageRead)
	require.Len(t, events, 1)
	assert.Equal(t, inquiry.MessageReadEvent{ConversationID: "X", UserID: "C1", Role: inquiry.RoleClient}, events[0])
}

func TestFailedMarkReadRestoresUnreadCount(t *testing.T) {
	var gw *fakeGateway
	api := &fakeAPI{
		ListFn: func(context.Context, inquiry.Role) ([]inquiry.WireConversation, error) {
			return []inquiry.WireConversation{*wireConv("X", "A1", "C1", 2)}, nil
		},
		MarkReadFn: func(context.Context, inquiry.Role, string) error {
			// a counterpart message lands while the round trip is in flight
			gw.fire(inquiry.EventNewMessage, inquiry.NewMessageEvent{ConversationID: "X", SenderID: "A1", AgentID: "A1", Message: "still there?", InquiryID: "m9"})
			return errBackend
		},
	}
	s, gw, rec := newSync(t, clientViewer(), api)
	require.NoError(t, s.MountInbox(context.Background()))

	err := s.MarkRead(context.Background(), "X")
	require.ErrorIs(t, err, errBackend)

	conv := mustConversation(t, s, "X")
	assert.Equal(t, 3, conv.UnreadCount)
	assert.Equal(t, "still there?", conv.LastMessage)
	assert.Empty(t, gw.emittedEvents(inquiry.EventMessageRead))
	require.Len(t, rec.notices(NoticeError), 1)
	assert.Equal(t, "X", rec.notices(NoticeError)[0].ConversationID)
}

func TestLiveMessageOnOpenConversationIsAcknowledged(t *testing.T) {
	api := &fakeAPI{BetweenFn: func(_ context.Context, agentID, clientID string) (*inquiry.WireConversation, error) {
		assert.Equal(t, "A1", agentID)
		assert.Equal(t, "C1", clientID)
		return wireConv("X", "A1", "C1", 0, wireMsg("m1", "C1", "hi", true)), nil
	}}
	s, gw, _ := newSync(t, clientViewer(), api)
	require.NoError(t, s.MountChat(context.Background(), ChatTarget{AgentID: "A1", PropertyID: "P1"}))
	require.Equal(t, "X", s.OpenID())

	gw.fire(inquiry.EventNewMessage, inquiry.NewMessageEvent{
		ConversationID: "X",
		SenderID:       "A1",
		AgentID:        "A1",
		Message:        "sure",
		InquiryID:      "m2",
	})

	assert.Eventually(t, func() bool { return api.Calls("markRead") == 1 }, waitFor, tick)
	assert.Eventually(t, func() bool { return mustConversation(t, s, "X").UnreadCount == 0 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, api.Calls("markRead"))

	conv := mustConversation(t, s, "X")
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, inquiry.RoleAgent, conv.Messages[1].Sender)
	assert.Equal(t, "sure", conv.LastMessage)
	assert.Equal(t, inquiry.StatusNewMessage, conv.Status())
}

func TestLiveMessageOnClosedConversationCountsAsUnread(t *testing.T) {
	api := &fakeAPI{ListFn: func(context.Context, inquiry.Role) ([]inquiry.WireConversation, error) {
		return []inquiry.WireConversation{
			*wireConv("X", "A1", "C1", 0),
			*wireConv("Y", "A1", "C2", 4),
		}, nil
	}}
	s, gw, _ := newSync(t, agentViewer(), api)
	require.NoError(t, s.MountInbox(context.Background()))

	gw.fire(inquiry.EventNewMessage, inquiry.NewMessageEvent{ConversationID: "Y", SenderID: "C2", AgentID: "A1", Message: "ping", InquiryID: "m1"})

	conv := mustConversation(t, s, "Y")
	assert.Equal(t, 5, conv.UnreadCount)
	assert.Equal(t, "ping", conv.LastMessage)
	assert.Equal(t, inquiry.StatusResponded, conv.Status())
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, api.Calls("markRead"))
}

func TestLiveMessageHandling(t *testing.T) {
	api := &fakeAPI{ListFn: func(context.Context, inquiry.Role) ([]inquiry.WireConversation, error) {
		return []inquiry.WireConversation{*wireConv("X", "A1", "C1", 0, wireMsg("m1", "C1", "hi", false))}, nil
	}}

	t.Run("duplicate inquiry ids are applied once", func(t *testing.T) {
		s, gw, _ := newSync(t, agentViewer(), api)
		require.NoError(t, s.MountInbox(context.Background()))
		evt := inquiry.NewMessageEvent{ConversationID: "X", SenderID: "C1", AgentID: "A1", Message: "again", InquiryID: "m2"}
		gw.fire(inquiry.EventNewMessage, evt)
		gw.fire(inquiry.EventNewMessage, evt)

		conv := mustConversation(t, s, "X")
		assert.Len(t, conv.Messages, 2)
		assert.Equal(t, 1, conv.UnreadCount)
	})

	t.Run("unknown conversations are ignored", func(t *testing.T) {
		s, gw, rec := newSync(t, agentViewer(), api)
		require.NoError(t, s.MountInbox(context.Background()))
		before := len(rec.events)
		gw.fire(inquiry.EventNewMessage, inquiry.NewMessageEvent{ConversationID: "Q", SenderID: "C9", Message: "?"})
		assert.Len(t, rec.events, before)
		assert.Len(t, s.Snapshot(), 1)
	})

	t.Run("own echoes do not count as unread", func(t *testing.T) {
		s, gw, _ := newSync(t, agentViewer(), api)
		require.NoError(t, s.MountInbox(context.Background()))
		gw.fire(inquiry.EventNewMessage, inquiry.NewMessageEvent{ConversationID: "X", SenderID: "A1", AgentID: "A1", Message: "reply", InquiryID: "m3"})

		conv := mustConversation(t, s, "X")
		assert.Equal(t, 0, conv.UnreadCount)
		assert.Equal(t, inquiry.StatusNewMessage, conv.Status())
	})

	t.Run("shell content never becomes visible", func(t *testing.T) {
		s, gw, _ := newSync(t, agentViewer(), api)
		require.NoError(t, s.MountInbox(context.Background()))
		gw.fire(inquiry.EventNewMessage, inquiry.NewMessageEvent{ConversationID: "X", SenderID: "C1", AgentID: "A1", Message: inquiry.ShellContent, InquiryID: "s1"})

		conv := mustConversation(t, s, "X")
		assert.Len(t, conv.Messages, 1)
		assert.Equal(t, 0, conv.UnreadCount)
	})
}

func TestReadAckMarksOwnMessagesRead(t *testing.T) {
	conv := wireConv("X", "A1", "C1", 0,
		wireMsg("m1", "A1", "question", true),
		wireMsg("m2", "C1", "answer", false),
		wireMsg("m3", "C1", "more", false),
	)
	api := &fakeAPI{BetweenFn: func(context.Context, string, string) (*inquiry.WireConversation, error) { return conv, nil }}
	s, gw, _ := newSync(t, clientViewer(), api)
	require.NoError(t, s.MountChat(context.Background(), ChatTarget{AgentID: "A1"}))

	gw.fire(inquiry.EventMessageReadAck, inquiry.MessageReadAckEvent{ConversationID: "X", ReaderID: "C1", Role: inquiry.RoleClient})
	assert.False(t, mustConversation(t, s, "X").Messages[1].Read)

	gw.fire(inquiry.EventMessageReadAck, inquiry.MessageReadAckEvent{ConversationID: "Y", ReaderID: "A1", Role: inquiry.RoleAgent})
	assert.False(t, mustConversation(t, s, "X").Messages[1].Read)

	gw.fire(inquiry.EventMessageReadAck, inquiry.MessageReadAckEvent{ConversationID: "X", ReaderID: "A1", Role: inquiry.RoleAgent})
	got := mustConversation(t, s, "X")
	assert.True(t, got.Messages[1].Read)
	assert.True(t, got.Messages[2].Read)
}

func TestReadAckIgnoredWhenConversationIsNotOpen(t *testing.T) {
	api := &fakeAPI{ListFn: func(context.Context, inquiry.Role) ([]inquiry.WireConversation, error) {
		return []inquiry.WireConversation{*wireConv("X", "A1", "C1", 0, wireMsg("m1", "C1", "hi", false))}, nil
	}}
	s, gw, _ := newSync(t, clientViewer(), api)
	require.NoError(t, s.MountInbox(context.Background()))

	gw.fire(inquiry.EventMessageReadAck, inquiry.MessageReadAckEvent{ConversationID: "X", ReaderID: "A1", Role: inquiry.RoleAgent})
	assert.False(t, mustConversation(t, s, "X").Messages[0].Read)
}

func TestSendCreatesConversationAndFetchesOnce(t *testing.T) {
	var created inquiry.CreateRequest
	api := &fakeAPI{
		CreateFn: func(_ context.Context, req inquiry.CreateRequest) (string, error) {
			created = req
			return "X", nil
		},
		ByIDFn: func(_ context.Context, id string) (*inquiry.WireConversation, error) {
			assert.Equal(t, "X", id)
			c := wireConv("X", "A1", "C1", 0, wireMsg("m1", "C1", "Hello", false))
			responded := true
			c.IsClientResponded = &responded
			return c, nil
		},
	}
	s, gw, rec := newSync(t, clientViewer(), api)
	require.NoError(t, s.MountChat(context.Background(), ChatTarget{AgentID: "A1", ClientID: "C1", PropertyID: "P1"}))
	assert.Empty(t, s.Snapshot())

	require.NoError(t, s.Send(context.Background(), SendRequest{Text: "Hello"}))

	assert.Equal(t, "C1", created.ClientID)
	assert.Equal(t, "A1", created.AgentID)
	require.NotNil(t, created.PropertyID)
	assert.Equal(t, "P1", *created.PropertyID)
	assert.Equal(t, "Hello", created.Message)
	assert.Nil(t, created.Guest)

	assert.Equal(t, 1, api.Calls("byID"))
	assert.Equal(t, 1, api.Calls("between"))
	conv := mustConversation(t, s, "X")
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "Hello", conv.Messages[0].Text)
	assert.Equal(t, inquiry.StatusResponded, conv.Status())
	assert.Equal(t, 1, gw.roomCount("X"))
	assert.Equal(t, "X", s.OpenID())
	assert.Len(t, rec.notices(NoticeSuccess), 1)
}

func TestStartCreatesShellConversation(t *testing.T) {
	var created inquiry.CreateRequest
	api := &fakeAPI{
		CreateFn: func(_ context.Context, req inquiry.CreateRequest) (string, error) {
			created = req
			return "", nil
		},
	}
	calls := 0
	api.BetweenFn = func(context.Context, string, string) (*inquiry.WireConversation, error) {
		calls++
		if calls <= 2 {
			return nil, notFound{}
		}
		return wireConv("X", "A1", "C1", 0, wireMsg("s", "C1", inquiry.ShellContent, false)), nil
	}
	s, _, _ := newSync(t, clientViewer(), api)
	require.NoError(t, s.MountChat(context.Background(), ChatTarget{AgentID: "A1"}))

	id, err := s.Start(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "X", id)
	assert.Equal(t, inquiry.ShellContent, created.Message)

	conv := mustConversation(t, s, "X")
	assert.Empty(t, conv.Messages)
	assert.True(t, conv.HasShell)
	assert.Equal(t, inquiry.NoMessagesPreview, conv.Preview())

	again, err := s.Start(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "X", again)
	assert.Equal(t, 1, api.Calls("create"))
}

func TestReplyConfirmsRespondedAndRefreshes(t *testing.T) {
	base := wireConv("X", "A1", "C1", 0, wireMsg("m1", "A1", "offer", false))
	var sent inquiry.ReplyRequest
	api := &fakeAPI{
		ListFn: func(context.Context, inquiry.Role) ([]inquiry.WireConversation, error) {
			property := "P1"
			c := *base
			c.PropertyID = &property
			return []inquiry.WireConversation{c}, nil
		},
		SendFn: func(_ context.Context, req inquiry.ReplyRequest) error {
			sent = req
			return nil
		},
		ByIDFn: func(context.Context, string) (*inquiry.WireConversation, error) {
			return wireConv("X", "A1", "C1", 0, wireMsg("m1", "A1", "offer", true), wireMsg("m2", "C1", "deal", false)), nil
		},
	}
	s, _, _ := newSync(t, clientViewer(), api)
	require.NoError(t, s.MountInbox(context.Background()))
	require.Equal(t, inquiry.StatusNewMessage, mustConversation(t, s, "X").Status())

	require.NoError(t, s.Send(context.Background(), SendRequest{ConversationID: "X", Text: "deal"}))

	assert.Equal(t, "X", sent.ConversationID)
	assert.Equal(t, "A1", sent.RecipientID)
	assert.Equal(t, "deal", sent.MessageContent)
	assert.Equal(t, "client_reply", sent.MessageType)
	require.NotNil(t, sent.PropertyID)
	assert.Equal(t, "P1", *sent.PropertyID)
	assert.Equal(t, 1, api.Calls("markResponded"))

	conv := mustConversation(t, s, "X")
	assert.Len(t, conv.Messages, 2)
	assert.Equal(t, inquiry.StatusResponded, conv.Status())
}

func TestFailedSendLeavesViewModelUntouched(t *testing.T) {
	api := &fakeAPI{
		ListFn: func(context.Context, inquiry.Role) ([]inquiry.WireConversation, error) {
			return []inquiry.WireConversation{*wireConv("X", "A1", "C1", 1, wireMsg("m1", "A1", "offer", false))}, nil
		},
		SendFn: func(context.Context, inquiry.ReplyRequest) error { return errBackend },
	}
	s, _, rec := newSync(t, clientViewer(), api)
	require.NoError(t, s.MountInbox(context.Background()))
	before := mustConversation(t, s, "X")

	err := s.Send(context.Background(), SendRequest{ConversationID: "X", Text: "deal"})
	require.ErrorIs(t, err, errBackend)

	assert.Equal(t, before, mustConversation(t, s, "X"))
	assert.Zero(t, api.Calls("markResponded"))
	assert.Zero(t, api.Calls("byID"))
	assert.Len(t, rec.notices(NoticeError), 1)
}

func TestFailedRespondedConfirmationRollsBack(t *testing.T) {
	api := &fakeAPI{
		ListFn: func(context.Context, inquiry.Role) ([]inquiry.WireConversation, error) {
			return []inquiry.WireConversation{*wireConv("X", "A1", "C1", 0, wireMsg("m1", "A1", "offer", false))}, nil
		},
		ByIDFn: func(context.Context, string) (*inquiry.WireConversation, error) {
			conv := wireConv("X", "A1", "C1", 0, wireMsg("m1", "A1", "offer", true), wireMsg("m2", "C1", "deal", false))
			conv.IsClientResponded = boolPtr(false)
			conv.IsAgentResponded = boolPtr(true)
			return conv, nil
		},
		MarkRespondedFn: func(context.Context, string) error { return errBackend },
	}
	s, _, rec := newSync(t, clientViewer(), api)
	require.NoError(t, s.MountInbox(context.Background()))

	require.NoError(t, s.Send(context.Background(), SendRequest{ConversationID: "X", Text: "deal"}))

	assert.Equal(t, 1, api.Calls("send"))
	assert.Equal(t, 1, api.Calls("markResponded"))
	assert.Equal(t, 1, api.Calls("byID"))
	conv := mustConversation(t, s, "X")
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "deal", conv.LastMessage)
	assert.False(t, conv.ClientResponded)
	assert.Equal(t, inquiry.StatusNewMessage, conv.Status())
	assert.Len(t, rec.notices(NoticeSuccess), 1)
	require.Len(t, rec.notices(NoticeError), 1)
	assert.Equal(t, "Failed to update conversation status", rec.notices(NoticeError)[0].Message)
}

func TestAgentReplyDoesNotConfirmResponded(t *testing.T) {
	api := &fakeAPI{
		ListFn: func(context.Context, inquiry.Role) ([]inquiry.WireConversation, error) {
			return []inquiry.WireConversation{*wireConv("X", "A1", "C1", 0, wireMsg("m1", "C1", "hi", false))}, nil
		},
		ByIDFn: func(context.Context, string) (*inquiry.WireConversation, error) {
			return wireConv("X", "A1", "C1", 0, wireMsg("m1", "C1", "hi", true), wireMsg("m2", "A1", "hello", false)), nil
		},
	}
	var sent inquiry.ReplyRequest
	api.SendFn = func(_ context.Context, req inquiry.ReplyRequest) error {
		sent = req
		return nil
	}
	s, _, _ := newSync(t, agentViewer(), api)
	require.NoError(t, s.MountInbox(context.Background()))

	require.NoError(t, s.Send(context.Background(), SendRequest{ConversationID: "X", Text: "hello"}))
	assert.Equal(t, "C1", sent.RecipientID)
	assert.Equal(t, "agent_reply", sent.MessageType)
	assert.Nil(t, sent.PropertyID)
	assert.Zero(t, api.Calls("markResponded"))
}

func TestGuestSend(t *testing.T) {
	guest := &inquiry.GuestDetails{Name: "Gia", Email: "gia@example.com", Phone: "555"}

	t.Run("details are required", func(t *testing.T) {
		s, _, _ := newSync(t, Viewer{Role: inquiry.RoleClient}, &fakeAPI{})
		require.NoError(t, s.MountChat(context.Background(), ChatTarget{AgentID: "A1"}))
		err := s.Send(context.Background(), SendRequest{Text: "Hello"})
		assert.ErrorIs(t, err, inquiry.ErrGuestDetailsRequired)
		err = s.Send(context.Background(), SendRequest{Text: "Hello", Guest: &inquiry.GuestDetails{Name: "Gia"}})
		assert.ErrorIs(t, err, inquiry.ErrGuestDetailsRequired)
	})

	t.Run("guest details replace the account", func(t *testing.T) {
		var created inquiry.CreateRequest
		api := &fakeAPI{
			CreateFn: func(_ context.Context, req inquiry.CreateRequest) (string, error) {
				created = req
				return "G", nil
			},
			ByIDFn: func(context.Context, string) (*inquiry.WireConversation, error) {
				c := wireConv("G", "A1", "", 0, wireMsg("m1", "", "Hello", false))
				c.Guest = guest
				return c, nil
			},
		}
		s, _, _ := newSync(t, Viewer{Role: inquiry.RoleClient}, api)
		require.NoError(t, s.MountChat(context.Background(), ChatTarget{AgentID: "A1"}))
		assert.Zero(t, api.Calls("between"))

		require.NoError(t, s.Send(context.Background(), SendRequest{Text: "Hello", Guest: guest}))
		require.NotNil(t, created.Guest)
		assert.Equal(t, *guest, *created.Guest)
		assert.Empty(t, created.ClientID)
		assert.Zero(t, api.Calls("markResponded"))

		conv := mustConversation(t, s, "G")
		assert.Equal(t, inquiry.RoleClient, conv.Messages[0].Sender)
	})
}

func TestGuestEmailTravelsWithBackendReads(t *testing.T) {
	guest := &inquiry.GuestDetails{Name: "Gia", Email: " gia@example.com ", Phone: "555"}
	var readAs []string
	api := &fakeAPI{
		CreateFn: func(context.Context, inquiry.CreateRequest) (string, error) { return "G", nil },
		ByIDFn: func(ctx context.Context, _ string) (*inquiry.WireConversation, error) {
			readAs = append(readAs, inquiry.GuestEmailFromContext(ctx))
			c := wireConv("G", "A1", "", 0, wireMsg("m1", "", "Hello", false))
			c.Guest = guest
			return c, nil
		},
	}
	var announced []string
	s, err := NewSynchronizer(Options{
		Viewer:   Viewer{Role: inquiry.RoleClient},
		API:      api,
		Gateway:  newFakeGateway(),
		Observer: &recorder{},
		OnGuest:  func(email string) { announced = append(announced, email) },
	})
	require.NoError(t, err)
	t.Cleanup(s.Unmount)
	require.NoError(t, s.MountChat(context.Background(), ChatTarget{AgentID: "A1"}))

	require.NoError(t, s.Send(context.Background(), SendRequest{Text: "Hello", Guest: guest}))
	require.NoError(t, s.Send(context.Background(), SendRequest{ConversationID: "G", Text: "Again", Guest: guest}))

	assert.Equal(t, []string{"gia@example.com", "gia@example.com"}, readAs)
	assert.Equal(t, []string{"gia@example.com"}, announced)
}

func TestUnmountRacingLiveAcknowledgement(t *testing.T) {
	for range 50 {
		api := &fakeAPI{BetweenFn: func(context.Context, string, string) (*inquiry.WireConversation, error) {
			return wireConv("X", "A1", "C1", 0, wireMsg("m1", "C1", "hi", true)), nil
		}}
		s, gw, _ := newSync(t, clientViewer(), api)
		require.NoError(t, s.MountChat(context.Background(), ChatTarget{AgentID: "A1"}))
		require.Equal(t, "X", s.OpenID())

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			gw.fire(inquiry.EventNewMessage, inquiry.NewMessageEvent{ConversationID: "X", SenderID: "A1", AgentID: "A1", Message: "sure", InquiryID: "m2"})
		}()
		go func() {
			defer wg.Done()
			s.Unmount()
		}()
		wg.Wait()

		settled := api.Calls("markRead")
		assert.LessOrEqual(t, settled, 1)
		assert.Zero(t, gw.listenerCount())
		assert.Zero(t, gw.holderCount())
		time.Sleep(time.Millisecond)
		assert.Equal(t, settled, api.Calls("markRead"))
	}
}

func TestSendValidation(t *testing.T) {
	s, _, _ := newSync(t, clientViewer(), &fakeAPI{})
	assert.ErrorIs(t, s.Send(context.Background(), SendRequest{Text: "hi"}), ErrNotMounted)
	require.NoError(t, s.MountInbox(context.Background()))
	assert.ErrorIs(t, s.Send(context.Background(), SendRequest{Text: "  "}), inquiry.ErrEmptyMessage)
	assert.ErrorIs(t, s.Send(context.Background(), SendRequest{ConversationID: "nope", Text: "hi"}), ErrUnknown)
	assert.ErrorIs(t, s.Send(context.Background(), SendRequest{Text: "hi"}), ErrNoChatTarget)
}

func TestDelete(t *testing.T) {
	list := func(context.Context, inquiry.Role) ([]inquiry.WireConversation, error) {
		return []inquiry.WireConversation{*wireConv("X", "A1", "C1", 0)}, nil
	}

	t.Run("success drops the view model and leaves the room", func(t *testing.T) {
		api := &fakeAPI{ListFn: list}
		s, gw, rec := newSync(t, clientViewer(), api)
		require.NoError(t, s.MountInbox(context.Background()))

		require.NoError(t, s.Delete(context.Background(), "X"))
		_, ok := s.Conversation("X")
		assert.False(t, ok)
		assert.Equal(t, 0, gw.roomCount("X"))
		assert.Len(t, rec.notices(NoticeSuccess), 1)
	})

	t.Run("failure keeps it", func(t *testing.T) {
		api := &fakeAPI{ListFn: list, DeleteFn: func(context.Context, string) error { return errBackend }}
		s, gw, rec := newSync(t, clientViewer(), api)
		require.NoError(t, s.MountInbox(context.Background()))

		require.ErrorIs(t, s.Delete(context.Background(), "X"), errBackend)
		mustConversation(t, s, "X")
		assert.Equal(t, 1, gw.roomCount("X"))
		assert.Len(t, rec.notices(NoticeError), 1)
	})
}

func TestFetchErrorsRaiseNotices(t *testing.T) {
	t.Run("missing chat conversation is not an error", func(t *testing.T) {
		s, _, rec := newSync(t, clientViewer(), &fakeAPI{})
		require.NoError(t, s.MountChat(context.Background(), ChatTarget{AgentID: "A1"}))
		assert.Empty(t, s.Snapshot())
		assert.Empty(t, rec.notices(NoticeError))
	})

	t.Run("server failure", func(t *testing.T) {
		api := &fakeAPI{ListFn: func(context.Context, inquiry.Role) ([]inquiry.WireConversation, error) {
			return nil, errBackend
		}}
		s, _, rec := newSync(t, clientViewer(), api)
		require.ErrorIs(t, s.MountInbox(context.Background()), errBackend)
		assert.Len(t, rec.notices(NoticeError), 1)
	})
}

func TestConnectFailureDegradesToRESTOnly(t *testing.T) {
	api := &fakeAPI{ListFn: func(context.Context, inquiry.Role) ([]inquiry.WireConversation, error) {
		return []inquiry.WireConversation{*wireConv("X", "A1", "C1", 0)}, nil
	}}
	s, gw, rec := newSync(t, clientViewer(), api)
	gw.connectErr = errors.New("dial refused")

	require.NoError(t, s.MountInbox(context.Background()))
	assert.Len(t, s.Snapshot(), 1)
	require.Len(t, rec.notices(NoticeWarning), 1)

	s.Unmount()
	assert.Equal(t, 0, gw.holderCount())
}

func TestResultsAfterUnmountAreDropped(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	api := &fakeAPI{ListFn: func(context.Context, inquiry.Role) ([]inquiry.WireConversation, error) {
		close(entered)
		<-release
		return []inquiry.WireConversation{*wireConv("X", "A1", "C1", 0)}, nil
	}}
	s, gw, _ := newSync(t, clientViewer(), api)

	done := make(chan error, 1)
	go func() { done <- s.MountInbox(context.Background()) }()
	<-entered
	s.Unmount()
	close(release)

	assert.ErrorIs(t, <-done, ErrStale)
	assert.Empty(t, s.Snapshot())
	assert.Equal(t, 0, gw.roomCount("X"))
	assert.Equal(t, 0, gw.listenerCount())
	assert.Equal(t, 0, gw.holderCount())
}
