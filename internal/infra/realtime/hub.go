package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"inquirydesk/internal/domain/inquiry"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Identity is the authenticated principal behind a peer; guests have an empty UserID.
type Identity struct {
	UserID     string
	Role       string
	GuestEmail string
}

// HubHooks lets the backend authorize room joins and handle application frames.
type HubHooks struct {
	Authenticate func(r *http.Request) (Identity, error)
	CanJoin      func(ctx context.Context, who Identity, room string) bool
	OnFrame      func(ctx context.Context, p *Peer, frame Frame)
}

// Hub tracks connected peers and their room memberships.
type Hub struct {
	Upgrader websocket.Upgrader
	Hooks    HubHooks
	Logger   *slog.Logger

	mu    sync.RWMutex
	rooms map[string]map[*Peer]struct{}
	peers map[*Peer]struct{}
}

// Peer is one server-side websocket connection.
type Peer struct {
	Identity Identity

	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	once  sync.Once
	mu    sync.Mutex
	rooms map[string]struct{}
}

func NewHub(hooks HubHooks, logger *slog.Logger) *Hub {
	return &Hub{
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		Hooks:  hooks,
		Logger: logger,
		rooms:  make(map[string]map[*Peer]struct{}),
		peers:  make(map[*Peer]struct{}),
	}
}

// ServeHTTP upgrades the request and runs the peer until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var who Identity
	if h.Hooks.Authenticate != nil {
		id, err := h.Hooks.Authenticate(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		who = id
	}
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logWarn("socket upgrade failed", "error", err)
		return
	}
	p := &Peer{
		Identity: who,
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		rooms:    make(map[string]struct{}),
	}
	h.mu.Lock()
	h.peers[p] = struct{}{}
	h.mu.Unlock()

	go p.writePump()
	p.readPump(r.Context())
}

// Broadcast sends a frame to every peer in room except skip.
func (h *Hub) Broadcast(room, event string, payload any, skip *Peer) {
	raw, err := encodeFrame(event, payload)
	if err != nil {
		h.logWarn("socket broadcast encode failed", "event", event, "error", err)
		return
	}
	h.mu.RLock()
	targets := make([]*Peer, 0, len(h.rooms[room]))
	for p := range h.rooms[room] {
		if p != skip {
			targets = append(targets, p)
		}
	}
	h.mu.RUnlock()
	for _, p := range targets {
		p.enqueue(raw)
	}
}

// Publish broadcasts to every peer in room.
func (h *Hub) Publish(room, event string, payload any) {
	h.Broadcast(room, event, payload, nil)
}

// RoomSize reports how many peers joined room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Close drops every peer; clients see a lost connection.
func (h *Hub) Close() {
	h.mu.RLock()
	peers := make([]*Peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()
	for _, p := range peers {
		_ = p.conn.Close()
	}
}

func (h *Hub) join(ctx context.Context, p *Peer, room string) {
	if h.Hooks.CanJoin != nil && !h.Hooks.CanJoin(ctx, p.Identity, room) {
		h.logWarn("socket join rejected", "room", room, "user_id", p.Identity.UserID)
		return
	}
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Peer]struct{})
		h.rooms[room] = members
	}
	members[p] = struct{}{}
	h.mu.Unlock()

	p.mu.Lock()
	p.rooms[room] = struct{}{}
	p.mu.Unlock()
}

func (h *Hub) leave(p *Peer, room string) {
	h.mu.Lock()
	if members, ok := h.rooms[room]; ok {
		delete(members, p)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()

	p.mu.Lock()
	delete(p.rooms, room)
	p.mu.Unlock()
}

func (h *Hub) unregister(p *Peer) {
	p.mu.Lock()
	rooms := make([]string, 0, len(p.rooms))
	for room := range p.rooms {
		rooms = append(rooms, room)
	}
	p.mu.Unlock()
	for _, room := range rooms {
		h.leave(p, room)
	}
	h.mu.Lock()
	delete(h.peers, p)
	h.mu.Unlock()
	p.close()
}

func (h *Hub) logWarn(msg string, args ...any) {
	if h.Logger != nil {
		h.Logger.Warn(msg, args...)
	}
}

// Send queues a frame for this peer only.
func (p *Peer) Send(event string, payload any) error {
	raw, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	p.enqueue(raw)
	return nil
}

// InRoom reports whether the peer joined room.
func (p *Peer) InRoom(room string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.rooms[room]
	return ok
}

func (p *Peer) enqueue(raw []byte) {
	defer func() {
		// send is closed once the peer is gone
		_ = recover()
	}()
	select {
	case p.send <- raw:
	default:
		p.hub.logWarn("socket peer too slow, frame dropped", "user_id", p.Identity.UserID)
	}
}

func (p *Peer) close() {
	p.once.Do(func() { close(p.send) })
}

func (p *Peer) readPump(ctx context.Context) {
	defer func() {
		p.hub.unregister(p)
		_ = p.conn.Close()
	}()
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.hub.logWarn("socket read failed", "error", err)
			}
			return
		}
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		switch frame.Event {
		case inquiry.EventJoinConversation:
			if room, err := RoomID(frame.Data); err == nil {
				p.hub.join(ctx, p, room)
			}
		case inquiry.EventLeaveConversation:
			if room, err := RoomID(frame.Data); err == nil {
				p.hub.leave(p, room)
			}
		default:
			if p.hub.Hooks.OnFrame != nil {
				p.hub.Hooks.OnFrame(ctx, p, frame)
			}
		}
	}
}

func (p *Peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()
	for {
		select {
		case raw, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
