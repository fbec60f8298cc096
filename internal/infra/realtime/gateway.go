package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"inquirydesk/internal/domain/inquiry"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateDegraded     State = "degraded"
)

const writeWait = 10 * time.Second

// GatewayOptions configures the shared client connection.
type GatewayOptions struct {
	URL     string
	Dialer  *websocket.Dialer
	Header  func(ctx context.Context) (http.Header, error)
	Backoff []time.Duration
	Logger  *slog.Logger
}

type listener struct {
	event string
	fn    func(json.RawMessage)
}

// Gateway is the process-wide duplex channel to the inquiry backend. Holders share one
// physical connection: Connect and Disconnect are reference counted.
type Gateway struct {
	opts GatewayOptions

	mu        sync.Mutex
	holders   int
	running   bool
	redial    bool
	cancel    context.CancelFunc
	conn      *websocket.Conn
	state     State
	lastErr   error
	nextID    uint64
	listeners map[uint64]listener
	watchers  map[uint64]func(State)
	rooms     map[string]int

	writeMu sync.Mutex
}

func NewGateway(opts GatewayOptions) *Gateway {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Gateway{
		opts:      opts,
		state:     StateDisconnected,
		listeners: make(map[uint64]listener),
		watchers:  make(map[uint64]func(State)),
		rooms:     make(map[string]int),
	}
}

// Connect registers a holder and dials if no connection is up. A failed dial leaves the
// gateway degraded and retrying on the backoff schedule; the error is returned so the
// caller can report REST-only mode.
func (g *Gateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	g.holders++
	if g.running {
		err := g.degradedErr()
		g.mu.Unlock()
		return err
	}
	g.running = true
	runCtx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.mu.Unlock()

	conn, err := g.dial(ctx)
	if err != nil {
		g.log().Warn("socket connect failed", "url", g.opts.URL, "error", err)
		g.setState(StateDegraded, err)
	}
	go g.run(runCtx, conn)
	return err
}

// Disconnect releases a holder. The connection closes when the last holder leaves.
func (g *Gateway) Disconnect() {
	g.mu.Lock()
	if g.holders == 0 {
		g.mu.Unlock()
		return
	}
	g.holders--
	if g.holders > 0 {
		g.mu.Unlock()
		return
	}
	g.running = false
	g.redial = false
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	conn := g.conn
	g.conn = nil
	g.mu.Unlock()

	if conn != nil {
		g.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		g.writeMu.Unlock()
		_ = conn.Close()
	}
	g.setState(StateDisconnected, nil)
}

// Emit sends one frame. Frames emitted while disconnected are dropped with ErrNotConnected.
func (g *Gateway) Emit(event string, payload any) error {
	raw, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return g.write(conn, raw)
}

// On attaches a handler for event and returns its registration id.
func (g *Gateway) On(event string, fn func(json.RawMessage)) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	g.listeners[g.nextID] = listener{event: event, fn: fn}
	return g.nextID
}

// Watch attaches a connection state observer. It is detached with Off.
func (g *Gateway) Watch(fn func(State)) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	g.watchers[g.nextID] = fn
	return g.nextID
}

func (g *Gateway) Off(id uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.listeners, id)
	delete(g.watchers, id)
}

// Join counts a room membership; only the first join is sent to the server.
func (g *Gateway) Join(room string) {
	if room == "" {
		return
	}
	g.mu.Lock()
	g.rooms[room]++
	first := g.rooms[room] == 1
	g.mu.Unlock()
	if first {
		g.emitQuiet(inquiry.EventJoinConversation, room)
	}
}

// Leave releases one membership; the last one is sent to the server.
func (g *Gateway) Leave(room string) {
	g.mu.Lock()
	n, ok := g.rooms[room]
	if !ok {
		g.mu.Unlock()
		return
	}
	last := n <= 1
	if last {
		delete(g.rooms, room)
	} else {
		g.rooms[room] = n - 1
	}
	g.mu.Unlock()
	if last {
		g.emitQuiet(inquiry.EventLeaveConversation, room)
	}
}

// Reconnect replaces the live connection so a changed handshake identity takes effect.
// Counted rooms are re-joined on the new connection; without a live connection it does nothing.
func (g *Gateway) Reconnect() {
	g.mu.Lock()
	conn := g.conn
	if conn != nil {
		g.redial = true
	}
	g.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (g *Gateway) takeRedial() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	redial := g.redial
	g.redial = false
	return redial
}

func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Listeners reports how many handlers are attached for event.
func (g *Gateway) Listeners(event string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, l := range g.listeners {
		if l.event == event {
			n++
		}
	}
	return n
}

// Members reports the membership count of room.
func (g *Gateway) Members(room string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rooms[room]
}

// Ready is a readiness probe; a degraded gateway is reported with its last error.
func (g *Gateway) Ready(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateDegraded {
		return g.degradedErr()
	}
	return nil
}

func (g *Gateway) run(ctx context.Context, conn *websocket.Conn) {
	attempt := 0
	for {
		if conn != nil {
			if !g.attach(ctx, conn) {
				_ = conn.Close()
				return
			}
			attempt = 0
			err := g.readLoop(conn)
			g.detach(conn)
			if ctx.Err() != nil {
				return
			}
			conn = nil
			if g.takeRedial() {
				next, dialErr := g.dial(ctx)
				if dialErr == nil {
					conn = next
					continue
				}
				err = dialErr
			}
			g.log().Warn("socket connection lost", "error", err)
			g.setState(StateDegraded, err)
		}
		if len(g.opts.Backoff) == 0 {
			g.mu.Lock()
			if ctx.Err() == nil {
				g.running = false
			}
			g.mu.Unlock()
			return
		}
		wait := g.opts.Backoff[min(attempt, len(g.opts.Backoff)-1)]
		attempt++
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		next, err := g.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			g.log().Warn("socket reconnect failed", "attempt", attempt, "error", err)
			g.setState(StateDegraded, err)
			continue
		}
		conn = next
	}
}

func (g *Gateway) dial(ctx context.Context) (*websocket.Conn, error) {
	if g.opts.URL == "" {
		return nil, errors.New("realtime: socket url not configured")
	}
	var header http.Header
	if g.opts.Header != nil {
		h, err := g.opts.Header(ctx)
		if err != nil {
			return nil, err
		}
		header = h
	}
	conn, resp, err := g.opts.Dialer.DialContext(ctx, g.opts.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// attach publishes conn and re-joins every counted room.
func (g *Gateway) attach(ctx context.Context, conn *websocket.Conn) bool {
	g.mu.Lock()
	if ctx.Err() != nil {
		g.mu.Unlock()
		return false
	}
	g.conn = conn
	rooms := make([]string, 0, len(g.rooms))
	for room := range g.rooms {
		rooms = append(rooms, room)
	}
	g.mu.Unlock()

	for _, room := range rooms {
		if raw, err := encodeFrame(inquiry.EventJoinConversation, room); err == nil {
			_ = g.write(conn, raw)
		}
	}
	g.setState(StateConnected, nil)
	g.log().Info("socket connected", "url", g.opts.URL, "rooms", len(rooms))
	return true
}

func (g *Gateway) detach(conn *websocket.Conn) {
	g.mu.Lock()
	if g.conn == conn {
		g.conn = nil
	}
	g.mu.Unlock()
	_ = conn.Close()
}

func (g *Gateway) readLoop(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			g.log().Debug("socket frame dropped", "error", err)
			continue
		}
		g.dispatch(frame)
	}
}

func (g *Gateway) dispatch(frame Frame) {
	g.mu.Lock()
	var fns []func(json.RawMessage)
	for _, l := range g.listeners {
		if l.event == frame.Event {
			fns = append(fns, l.fn)
		}
	}
	g.mu.Unlock()
	for _, fn := range fns {
		fn(frame.Data)
	}
}

func (g *Gateway) write(conn *websocket.Conn, raw []byte) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, raw)
}

func (g *Gateway) emitQuiet(event string, payload any) {
	if err := g.Emit(event, payload); err != nil && !errors.Is(err, ErrNotConnected) {
		g.log().Warn("socket emit failed", "event", event, "error", err)
	}
}

func (g *Gateway) setState(state State, err error) {
	g.mu.Lock()
	if state == StateDegraded && !g.running {
		g.mu.Unlock()
		return
	}
	changed := g.state != state
	g.state = state
	g.lastErr = err
	var fns []func(State)
	if changed {
		for _, fn := range g.watchers {
			fns = append(fns, fn)
		}
	}
	g.mu.Unlock()
	for _, fn := range fns {
		fn(state)
	}
}

func (g *Gateway) degradedErr() error {
	if g.state != StateDegraded {
		return nil
	}
	if g.lastErr != nil {
		return g.lastErr
	}
	return ErrNotConnected
}

func (g *Gateway) log() *slog.Logger {
	if g.opts.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return g.opts.Logger
}
