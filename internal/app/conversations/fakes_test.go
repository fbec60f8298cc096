package conversations

import (
	"context"
	"encoding/json"
	"sync"

	"inquirydesk/internal/domain/inquiry"
)

type fakeAPI struct {
	mu    sync.Mutex
	calls map[string]int

	BetweenFn       func(ctx context.Context, agentID, clientID string) (*inquiry.WireConversation, error)
	ByIDFn          func(ctx context.Context, id string) (*inquiry.WireConversation, error)
	ListFn          func(ctx context.Context, role inquiry.Role) ([]inquiry.WireConversation, error)
	CreateFn        func(ctx context.Context, req inquiry.CreateRequest) (string, error)
	SendFn          func(ctx context.Context, req inquiry.ReplyRequest) error
	MarkReadFn      func(ctx context.Context, role inquiry.Role, id string) error
	MarkRespondedFn func(ctx context.Context, id string) error
	DeleteFn        func(ctx context.Context, id string) error
}

func (f *fakeAPI) count(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

func (f *fakeAPI) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) ConversationBetween(ctx context.Context, agentID, clientID string) (*inquiry.WireConversation, error) {
	f.count("between")
	if f.BetweenFn == nil {
		return nil, notFound{}
	}
	return f.BetweenFn(ctx, agentID, clientID)
}

func (f *fakeAPI) Conversation(ctx context.Context, id string) (*inquiry.WireConversation, error) {
	f.count("byID")
	if f.ByIDFn == nil {
		return nil, notFound{}
	}
	return f.ByIDFn(ctx, id)
}

func (f *fakeAPI) Conversations(ctx context.Context, role inquiry.Role) ([]inquiry.WireConversation, error) {
	f.count("list")
	if f.ListFn == nil {
		return nil, nil
	}
	return f.ListFn(ctx, role)
}

func (f *fakeAPI) CreateConversation(ctx context.Context, req inquiry.CreateRequest) (string, error) {
	f.count("create")
	if f.CreateFn == nil {
		return "", nil
	}
	return f.CreateFn(ctx, req)
}

func (f *fakeAPI) SendMessage(ctx context.Context, req inquiry.ReplyRequest) error {
	f.count("send")
	if f.SendFn == nil {
		return nil
	}
	return f.SendFn(ctx, req)
}

func (f *fakeAPI) MarkRead(ctx context.Context, role inquiry.Role, id string) error {
	f.count("markRead")
	if f.MarkReadFn == nil {
		return nil
	}
	return f.MarkReadFn(ctx, role, id)
}

func (f *fakeAPI) MarkResponded(ctx context.Context, id string) error {
	f.count("markResponded")
	if f.MarkRespondedFn == nil {
		return nil
	}
	return f.MarkRespondedFn(ctx, id)
}

func (f *fakeAPI) DeleteConversation(ctx context.Context, id string) error {
	f.count("delete")
	if f.DeleteFn == nil {
		return nil
	}
	return f.DeleteFn(ctx, id)
}

type notFound struct{}

func (notFound) Error() string        { return "not found" }
func (notFound) Is(target error) bool { return target == inquiry.ErrNotFound }

type emitted struct {
	event   string
	payload any
}

type fakeListener struct {
	event string
	fn    func(json.RawMessage)
}

type fakeGateway struct {
	mu         sync.Mutex
	connectErr error
	holders    int
	nextID     uint64
	listeners  map[uint64]fakeListener
	rooms      map[string]int
	joins      []string
	emitted    []emitted
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		listeners: make(map[uint64]fakeListener),
		rooms:     make(map[string]int),
	}
}

func (g *fakeGateway) Connect(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.holders++
	return g.connectErr
}

func (g *fakeGateway) Disconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holders > 0 {
		g.holders--
	}
}

func (g *fakeGateway) Emit(event string, payload any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.emitted = append(g.emitted, emitted{event: event, payload: payload})
	return nil
}

func (g *fakeGateway) On(event string, fn func(json.RawMessage)) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	g.listeners[g.nextID] = fakeListener{event: event, fn: fn}
	return g.nextID
}

func (g *fakeGateway) Off(id uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.listeners, id)
}

func (g *fakeGateway) Join(room string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rooms[room]++
	g.joins = append(g.joins, room)
}

func (g *fakeGateway) Leave(room string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rooms[room] <= 1 {
		delete(g.rooms, room)
		return
	}
	g.rooms[room]--
}

// fire delivers an event the way the socket read loop does.
func (g *fakeGateway) fire(event string, payload any) {
	raw, _ := json.Marshal(payload)
	g.mu.Lock()
	var fns []func(json.RawMessage)
	for _, l := range g.listeners {
		if l.event == event {
			fns = append(fns, l.fn)
		}
	}
	g.mu.Unlock()
	for _, fn := range fns {
		fn(raw)
	}
}

func (g *fakeGateway) listenerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.listeners)
}

func (g *fakeGateway) roomCount(room string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rooms[room]
}

func (g *fakeGateway) holderCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holders
}

func (g *fakeGateway) emittedEvents(event string) []any {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []any
	for _, e := range g.emitted {
		if e.event == event {
			out = append(out, e.payload)
		}
	}
	return out
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) notices(level NoticeLevel) []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notice
	for _, e := range r.events {
		if e.Kind == EventNotice && e.Notice != nil && e.Notice.Level == level {
			out = append(out, *e.Notice)
		}
	}
	return out
}

func wireMsg(id, sender, text string, read bool) inquiry.WireMessage {
	return inquiry.WireMessage{
		ID:        id,
		SenderID:  sender,
		Message:   text,
		Timestamp: json.RawMessage(`"2024-05-01T10:00:00Z"`),
		Read:      read,
	}
}

func wireConv(id, agentID, clientID string, unread int, msgs ...inquiry.WireMessage) *inquiry.WireConversation {
	return &inquiry.WireConversation{
		ID:          id,
		AgentID:     agentID,
		ClientID:    clientID,
		Messages:    msgs,
		UnreadCount: unread,
	}
}

func boolPtr(v bool) *bool { return &v }
