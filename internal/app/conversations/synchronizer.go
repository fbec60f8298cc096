package conversations

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"inquirydesk/internal/domain/inquiry"
)

var (
	ErrNotMounted   = errors.New("conversations: view is not mounted")
	ErrUnknown      = errors.New("conversations: conversation is not tracked by this view")
	ErrNoChatTarget = errors.New("conversations: chat view has no participants")
	ErrStale        = errors.New("conversations: view was unmounted while the call was in flight")
)

type mountKind int

const (
	mountNone mountKind = iota
	mountInbox
	mountChat
)

// ChatTarget identifies the detail chat between a client and an agent, optionally about a listing.
type ChatTarget struct {
	AgentID    string
	ClientID   string
	PropertyID string
}

type Options struct {
	Viewer   Viewer
	API      API
	Gateway  Gateway
	Observer Observer
	// OnGuest is told the email of a guest viewer once it is known or changes.
	OnGuest  func(email string)
	Logger   *slog.Logger
}

// Synchronizer keeps the view models of one mounted view in step with the backend.
// It serves an inbox (every conversation of the viewer) or a single detail chat.
type Synchronizer struct {
	viewer  Viewer
	api     API
	gateway Gateway
	obs     Observer
	onGuest func(email string)
	logger  *slog.Logger
	fetch   Fetcher

	mu        sync.Mutex
	kind      mountKind
	gen       uint64
	base      context.Context
	cancel    context.CancelFunc
	holding   bool
	listeners []uint64
	convs     map[string]*inquiry.Conversation
	order     []string
	open      string
	chat      ChatTarget
	marking   map[string]bool
	guestMail string

	wg sync.WaitGroup
}

func NewSynchronizer(opts Options) (*Synchronizer, error) {
	if err := opts.Viewer.validate(); err != nil {
		return nil, err
	}
	if opts.API == nil || opts.Gateway == nil {
		return nil, errors.New("conversations: api and gateway are required")
	}
	s := &Synchronizer{
		viewer:  opts.Viewer,
		api:     opts.API,
		gateway: opts.Gateway,
		obs:     opts.Observer,
		onGuest: opts.OnGuest,
		logger:  opts.Logger,
		base:    context.Background(),
		convs:   make(map[string]*inquiry.Conversation),
		marking: make(map[string]bool),
	}
	s.fetch = Fetcher{API: opts.API, Logger: opts.Logger, Notify: s.notify}
	return s, nil
}

func (s *Synchronizer) Viewer() Viewer { return s.viewer }

// MountInbox loads every conversation of the viewer and joins one room per conversation.
func (s *Synchronizer) MountInbox(ctx context.Context) error {
	if s.viewer.Guest() {
		return inquiry.ErrInvalidRole
	}
	gen := s.mount(ctx, mountInbox, ChatTarget{})
	return s.loadInbox(ctx, gen)
}

// MountChat opens the detail chat between the participants. A missing conversation is
// not an error: the first Send creates it.
func (s *Synchronizer) MountChat(ctx context.Context, target ChatTarget) error {
	target.AgentID = strings.TrimSpace(target.AgentID)
	target.ClientID = strings.TrimSpace(target.ClientID)
	target.PropertyID = strings.TrimSpace(target.PropertyID)
	if target.AgentID == "" {
		return ErrNoChatTarget
	}
	if s.viewer.Role == inquiry.RoleClient && !s.viewer.Guest() && target.ClientID == "" {
		target.ClientID = s.viewer.ID
	}
	gen := s.mount(ctx, mountChat, target)
	if target.ClientID == "" {
		return nil
	}

	opCtx, done := s.opContext(ctx)
	defer done()
	conv, err := s.fetch.Between(opCtx, target.AgentID, target.ClientID)
	if err != nil {
		return err
	}
	if conv == nil {
		return nil
	}
	if !s.track(gen, *conv, true) {
		return ErrStale
	}
	_ = s.markRead(opCtx, conv.ID, gen)
	return nil
}

// Refresh reloads an inbox, joining rooms of new conversations and leaving removed ones.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	s.mu.Lock()
	kind, gen := s.kind, s.gen
	s.mu.Unlock()
	switch kind {
	case mountInbox:
		return s.loadInbox(ctx, gen)
	case mountChat:
		id := s.chatConversationID()
		if id == "" {
			return nil
		}
		return s.reload(ctx, id, gen)
	default:
		return ErrNotMounted
	}
}

// Unmount leaves every joined room, detaches listeners and releases the gateway. Results of
// calls still in flight are dropped.
func (s *Synchronizer) Unmount() {
	s.mu.Lock()
	if s.kind == mountNone {
		s.mu.Unlock()
		return
	}
	rooms, listeners, holding := s.resetLocked()
	s.mu.Unlock()

	s.release(rooms, listeners, holding)
	s.wg.Wait()
	s.publish(Event{Kind: EventReset})
}

// Open marks id as the conversation currently on screen and reconciles its read state.
func (s *Synchronizer) Open(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.kind == mountNone {
		s.mu.Unlock()
		return ErrNotMounted
	}
	if _, ok := s.convs[id]; !ok {
		s.mu.Unlock()
		return ErrUnknown
	}
	s.open = id
	gen := s.gen
	s.mu.Unlock()

	if err := s.reload(ctx, id, gen); err != nil {
		return err
	}
	return s.markRead(ctx, id, gen)
}

// Close clears the open conversation; live messages count as unread again.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kind == mountChat {
		return
	}
	s.open = ""
}

// MarkRead runs the read reconciliation for a tracked conversation.
func (s *Synchronizer) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.kind == mountNone {
		s.mu.Unlock()
		return ErrNotMounted
	}
	if _, ok := s.convs[id]; !ok {
		s.mu.Unlock()
		return ErrUnknown
	}
	gen := s.gen
	s.mu.Unlock()
	return s.markRead(ctx, id, gen)
}

// Delete removes a conversation server-side and drops its view model.
func (s *Synchronizer) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.kind == mountNone {
		s.mu.Unlock()
		return ErrNotMounted
	}
	if _, ok := s.convs[id]; !ok {
		s.mu.Unlock()
		return ErrUnknown
	}
	gen := s.gen
	s.mu.Unlock()

	opCtx, done := s.opContext(ctx)
	defer done()
	if err := s.api.DeleteConversation(opCtx, id); err != nil {
		s.logError("conversation delete failed", id, err)
		s.notify(Notice{Level: NoticeError, Message: "Failed to delete conversation", ConversationID: id})
		return err
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return ErrStale
	}
	_, tracked := s.convs[id]
	s.untrackLocked(id)
	s.mu.Unlock()

	if tracked {
		s.gateway.Leave(id)
	}
	s.publish(Event{Kind: EventRemoved, ConversationID: id})
	s.notify(Notice{Level: NoticeSuccess, Message: "Conversation deleted", ConversationID: id})
	return nil
}

// Snapshot returns copies of the tracked view models in display order.
func (s *Synchronizer) Snapshot() []inquiry.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]inquiry.Conversation, 0, len(s.order))
	for _, id := range s.order {
		if conv, ok := s.convs[id]; ok {
			out = append(out, conv.Clone())
		}
	}
	return out
}

// Conversation returns a copy of one tracked view model.
func (s *Synchronizer) Conversation(id string) (inquiry.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return inquiry.Conversation{}, false
	}
	return conv.Clone(), true
}

// OpenID reports the conversation currently on screen.
func (s *Synchronizer) OpenID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *Synchronizer) mount(ctx context.Context, kind mountKind, target ChatTarget) uint64 {
	s.mu.Lock()
	rooms, listeners, holding := s.resetLocked()
	s.mu.Unlock()
	s.release(rooms, listeners, holding)
	s.wg.Wait()

	connectErr := s.gateway.Connect(ctx)
	newMessage := s.gateway.On(inquiry.EventNewMessage, s.handleNewMessage)
	readAck := s.gateway.On(inquiry.EventMessageReadAck, s.handleReadAck)

	s.mu.Lock()
	s.kind = kind
	s.chat = target
	s.base, s.cancel = context.WithCancel(context.Background())
	s.holding = true
	s.listeners = []uint64{newMessage, readAck}
	gen := s.gen
	s.mu.Unlock()

	if connectErr != nil {
		s.logWarn("live updates unavailable", "error", connectErr)
		s.notify(Notice{Level: NoticeWarning, Message: "Live updates unavailable, showing the last loaded state"})
	}
	return gen
}

func (s *Synchronizer) resetLocked() (rooms []string, listeners []uint64, holding bool) {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	rooms = append(rooms, s.order...)
	listeners = s.listeners
	holding = s.holding
	s.kind = mountNone
	s.listeners = nil
	s.holding = false
	s.convs = make(map[string]*inquiry.Conversation)
	s.order = nil
	s.open = ""
	s.chat = ChatTarget{}
	s.marking = make(map[string]bool)
	return rooms, listeners, holding
}

func (s *Synchronizer) release(rooms []string, listeners []uint64, holding bool) {
	for _, id := range listeners {
		s.gateway.Off(id)
	}
	for _, room := range rooms {
		s.gateway.Leave(room)
	}
	if holding {
		s.gateway.Disconnect()
	}
}

func (s *Synchronizer) loadInbox(ctx context.Context, gen uint64) error {
	opCtx, done := s.opContext(ctx)
	defer done()
	list, err := s.fetch.List(opCtx, s.viewer.Role)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return ErrStale
	}
	seen := make(map[string]bool, len(list))
	var joins, leaves []string
	order := make([]string, 0, len(list))
	for i := range list {
		conv := list[i]
		if seen[conv.ID] {
			continue
		}
		seen[conv.ID] = true
		if s.marking[conv.ID] {
			conv.UnreadCount = 0
		}
		if _, ok := s.convs[conv.ID]; !ok {
			joins = append(joins, conv.ID)
		}
		s.convs[conv.ID] = &conv
		order = append(order, conv.ID)
	}
	for _, id := range s.order {
		if !seen[id] {
			leaves = append(leaves, id)
			delete(s.convs, id)
			if s.open == id {
				s.open = ""
			}
		}
	}
	s.order = order
	snaps := make([]inquiry.Conversation, 0, len(order))
	for _, id := range order {
		snaps = append(snaps, s.convs[id].Clone())
	}
	s.mu.Unlock()

	for _, id := range joins {
		s.gateway.Join(id)
	}
	for _, id := range leaves {
		s.gateway.Leave(id)
		s.publish(Event{Kind: EventRemoved, ConversationID: id})
	}
	for i := range snaps {
		s.publishChanged(snaps[i])
	}
	return nil
}

// reload replaces a tracked view model with the server's copy.
func (s *Synchronizer) reload(ctx context.Context, id string, gen uint64) error {
	opCtx, done := s.opContext(ctx)
	defer done()
	conv, err := s.fetch.ByID(opCtx, id)
	if err != nil {
		return err
	}
	if conv == nil {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return ErrStale
		}
		_, tracked := s.convs[id]
		s.untrackLocked(id)
		s.mu.Unlock()
		if tracked {
			s.gateway.Leave(id)
			s.publish(Event{Kind: EventRemoved, ConversationID: id})
		}
		return ErrUnknown
	}
	if !s.track(gen, *conv, false) {
		return ErrStale
	}
	return nil
}

// track stores conv, joining its room the first time it is seen. It reports false when
// the result belongs to an earlier mount.
func (s *Synchronizer) track(gen uint64, conv inquiry.Conversation, open bool) bool {
	s.mu.Lock()
	if s.gen != gen || s.kind == mountNone {
		s.mu.Unlock()
		return false
	}
	_, known := s.convs[conv.ID]
	c := conv
	if s.marking[conv.ID] {
		// a read round trip is in flight; keep the local zero
		c.UnreadCount = 0
	}
	s.convs[conv.ID] = &c
	if !known {
		s.order = append(s.order, conv.ID)
	}
	if open {
		s.open = conv.ID
	}
	snap := c.Clone()
	s.mu.Unlock()

	if !known {
		s.gateway.Join(conv.ID)
	}
	s.publishChanged(snap)
	return true
}

func (s *Synchronizer) untrackLocked(id string) {
	delete(s.convs, id)
	delete(s.marking, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.open == id {
		s.open = ""
	}
}

func (s *Synchronizer) chatConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return ""
	}
	return s.order[0]
}

// opContext bounds a call by the caller's context and the current mount.
func (s *Synchronizer) opContext(ctx context.Context) (context.Context, func()) {
	s.mu.Lock()
	base := s.base
	email := s.guestMail
	s.mu.Unlock()
	if email != "" {
		ctx = inquiry.WithGuestEmail(ctx, email)
	}
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(base, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

func (s *Synchronizer) decode(raw json.RawMessage, out any, event string) bool {
	if err := json.Unmarshal(raw, out); err != nil {
		s.logWarn("socket event dropped", "event", event, "error", err)
		return false
	}
	return true
}

func (s *Synchronizer) publishChanged(conv inquiry.Conversation) {
	s.publish(Event{Kind: EventChanged, ConversationID: conv.ID, Conversation: &conv})
}

func (s *Synchronizer) publish(e Event) {
	if s.obs != nil {
		s.obs.Publish(e)
	}
}

func (s *Synchronizer) notify(n Notice) {
	s.publish(Event{Kind: EventNotice, ConversationID: n.ConversationID, Notice: &n})
}

func (s *Synchronizer) logError(msg, id string, err error) {
	if s.logger != nil {
		s.logger.Error(msg, "conversation_id", id, "viewer_id", s.viewer.ID, "role", s.viewer.Role, "error", err)
	}
}

func (s *Synchronizer) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, append(args, "viewer_id", s.viewer.ID)...)
	}
}
