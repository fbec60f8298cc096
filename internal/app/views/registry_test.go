package views

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inquirydesk/internal/app/conversations"
	"inquirydesk/internal/app/session"
	"inquirydesk/internal/domain/inquiry"
)

type stubAPI struct {
	inbox []inquiry.WireConversation
	err   error
}

func (a stubAPI) ConversationBetween(context.Context, string, string) (*inquiry.WireConversation, error) {
	return nil, fmt.Errorf("between: %w", inquiry.ErrNotFound)
}

func (a stubAPI) Conversation(context.Context, string) (*inquiry.WireConversation, error) {
	return nil, fmt.Errorf("by id: %w", inquiry.ErrNotFound)
}

func (a stubAPI) Conversations(context.Context, inquiry.Role) ([]inquiry.WireConversation, error) {
	return a.inbox, a.err
}

func (a stubAPI) CreateConversation(context.Context, inquiry.CreateRequest) (string, error) {
	return "", errors.New("not used")
}
func (a stubAPI) SendMessage(context.Context, inquiry.ReplyRequest) error { return nil }
func (a stubAPI) MarkRead(context.Context, inquiry.Role, string) error { return nil }
func (a stubAPI) MarkResponded(context.Context, string) error { return nil }
func (a stubAPI) DeleteConversation(context.Context, string) error { return nil }

type stubGateway struct{}

func (stubGateway) Connect(context.Context) error { return nil }
func (stubGateway) Disconnect() {}
func (stubGateway) Emit(string, any) error { return nil }
func (stubGateway) On(string, func(json.RawMessage)) uint64 { return 1 }
func (stubGateway) Off(uint64) {}
func (stubGateway) Join(string) {}
func (stubGateway) Leave(string) {}

type viewerFunc func(context.Context) (conversations.Viewer, error)

func (f viewerFunc) Viewer(ctx context.Context) (conversations.Viewer, error) { return f(ctx) }

func signedIn(id string, role inquiry.Role) ViewerSource {
	return viewerFunc(func(context.Context) (conversations.Viewer, error) {
		return conversations.Viewer{ID: id, Role: role}, nil
	})
}

var signedOut = viewerFunc(func(context.Context) (conversations.Viewer, error) {
	return conversations.Viewer{}, session.ErrSignedOut
})

func TestMountInboxAndUnmount(t *testing.T) {
	api := stubAPI{inbox: []inquiry.WireConversation{{ID: "c1", AgentID: "A1", ClientID: "C1"}}}
	r := &Registry{Viewers: signedIn("A1", inquiry.RoleAgent), API: api, Gateway: stubGateway{}}

	v, err := r.MountInbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, KindInbox, v.Kind)
	require.Len(t, v.Sync.Snapshot(), 1)

	got, err := r.Get(v.ID)
	require.NoError(t, err)
	assert.Same(t, v, got)

	events, cancel := v.Subscribe()
	defer cancel()
	require.NoError(t, r.Unmount(v.ID))

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				_, err = r.Get(v.ID)
				assert.ErrorIs(t, err, ErrViewNotFound)
				assert.ErrorIs(t, r.Unmount(v.ID), ErrViewNotFound)
				return
			}
		case <-deadline:
			t.Fatal("subscription was not closed on unmount")
		}
	}
}

func TestMountInboxRequiresSession(t *testing.T) {
	r := &Registry{Viewers: signedOut, API: stubAPI{}, Gateway: stubGateway{}}
	_, err := r.MountInbox(context.Background())
	assert.ErrorIs(t, err, session.ErrSignedOut)
	assert.Zero(t, r.Len())
}

func TestMountChatFallsBackToGuest(t *testing.T) {
	r := &Registry{Viewers: signedOut, API: stubAPI{}, Gateway: stubGateway{}}
	v, err := r.MountChat(context.Background(), conversations.ChatTarget{AgentID: "A1"})
	require.NoError(t, err)
	assert.True(t, v.Sync.Viewer().Guest())
	assert.Equal(t, inquiry.RoleClient, v.Sync.Viewer().Role)
}

func TestMountChatExpiredSessionIsAnError(t *testing.T) {
	expired := viewerFunc(func(context.Context) (conversations.Viewer, error) {
		return conversations.Viewer{}, session.ErrExpired
	})
	r := &Registry{Viewers: expired, API: stubAPI{}, Gateway: stubGateway{}}
	_, err := r.MountChat(context.Background(), conversations.ChatTarget{AgentID: "A1"})
	assert.ErrorIs(t, err, session.ErrExpired)
}

func TestFailedMountIsNotRegistered(t *testing.T) {
	r := &Registry{Viewers: signedIn("A1", inquiry.RoleAgent), API: stubAPI{err: errors.New("backend down")}, Gateway: stubGateway{}}
	_, err := r.MountInbox(context.Background())
	assert.Error(t, err)
	assert.Zero(t, r.Len())
}

func TestMaxViews(t *testing.T) {
	r := &Registry{Viewers: signedIn("A1", inquiry.RoleAgent), API: stubAPI{}, Gateway: stubGateway{}, MaxViews: 1}
	_, err := r.MountInbox(context.Background())
	require.NoError(t, err)
	_, err = r.MountInbox(context.Background())
	assert.ErrorIs(t, err, ErrTooManyViews)

	r.CloseAll()
	assert.Zero(t, r.Len())
}

type gatedAPI struct {
	stubAPI
	entered chan struct{}
	release chan struct{}
}

func (a gatedAPI) Conversations(context.Context, inquiry.Role) ([]inquiry.WireConversation, error) {
	a.entered <- struct{}{}
	<-a.release
	return nil, nil
}

func TestMaxViewsHoldsUnderConcurrentMounts(t *testing.T) {
	api := gatedAPI{entered: make(chan struct{}, 5), release: make(chan struct{})}
	r := &Registry{Viewers: signedIn("A1", inquiry.RoleAgent), API: api, Gateway: stubGateway{}, MaxViews: 2}
	t.Cleanup(r.CloseAll)

	results := make(chan error, 5)
	for range 5 {
		go func() {
			_, err := r.MountInbox(context.Background())
			results <- err
		}()
	}
	for range 3 {
		select {
		case err := <-results:
			assert.ErrorIs(t, err, ErrTooManyViews)
		case <-time.After(2 * time.Second):
			t.Fatal("mount beyond the limit was not rejected")
		}
	}
	close(api.release)
	for range 2 {
		assert.NoError(t, <-results)
	}
	assert.Equal(t, 2, r.Len())
	assert.Len(t, api.entered, 2)
}

func TestFeedDropsForSlowSubscribers(t *testing.T) {
	f := newFeed(1, nil)
	ch, cancel := f.subscribe()
	f.Publish(conversations.Event{Kind: conversations.EventReset})
	f.Publish(conversations.Event{Kind: conversations.EventReset})
	assert.Len(t, ch, 1)
	cancel()
	cancel()
	f.close()

	late, _ := f.subscribe()
	_, ok := <-late
	assert.False(t, ok)
}
