package ginserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	"inquirydesk/internal/app/conversations"
	"inquirydesk/internal/app/dto"
	"inquirydesk/internal/app/session"
	"inquirydesk/internal/app/transcripts"
	"inquirydesk/internal/app/views"
	"inquirydesk/internal/domain/inquiry"
	"inquirydesk/internal/domain/user"
	"inquirydesk/internal/infra/realtime"
	"inquirydesk/internal/infra/rest"
)

const defaultKeepAlive = 25 * time.Second

type SessionService interface {
	Login(ctx context.Context, email, password string) (user.Profile, error)
	Current(ctx context.Context) (user.Profile, error)
	Logout(ctx context.Context) error
}

// ConnectionMonitor exposes the shared gateway state to the UI.
type ConnectionMonitor interface {
	State() realtime.State
	Watch(fn func(realtime.State)) uint64
	Off(id uint64)
}

type TranscriptPublisher interface {
	Publish(ctx context.Context, conv inquiry.Conversation) (string, error)
}

// DeskHandler serves the daemon view API.
type DeskHandler struct {
	Session     SessionService
	Views       *views.Registry
	Monitor     ConnectionMonitor
	Transcripts TranscriptPublisher
	Logger      *slog.Logger
	KeepAlive   time.Duration
}

type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type mountRequest struct {
	Kind       string `json:"kind" binding:"required"`
	AgentID    string `json:"agent_id"`
	ClientID   string `json:"client_id"`
	PropertyID string `json:"property_id"`
}

type startRequest struct {
	Guest *inquiry.GuestDetails `json:"guest"`
}

type sendRequest struct {
	ConversationID string                `json:"conversation_id"`
	Text           string                `json:"text"`
	Guest          *inquiry.GuestDetails `json:"guest"`
}

func (h DeskHandler) Login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}
	profile, err := h.Session.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(c, err, "login")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": profile})
}

// Logout drops the stored token and unmounts every view bound to the old identity.
func (h DeskHandler) Logout(c *gin.Context) {
	if err := h.Session.Logout(c.Request.Context()); err != nil {
		h.respondError(c, err, "logout")
		return
	}
	if h.Views != nil {
		h.Views.CloseAll()
	}
	c.Status(http.StatusNoContent)
}

func (h DeskHandler) Me(c *gin.Context) {
	profile, err := h.Session.Current(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "load session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": profile})
}

func (h DeskHandler) Connection(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": h.connectionState()})
}

func (h DeskHandler) Mount(c *gin.Context) {
	var req mountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind is required"})
		return
	}
	var (
		view *views.View
		err  error
	)
	switch views.Kind(strings.ToLower(strings.TrimSpace(req.Kind))) {
	case views.KindInbox:
		view, err = h.Views.MountInbox(c.Request.Context())
	case views.KindChat:
		view, err = h.Views.MountChat(c.Request.Context(), conversations.ChatTarget{
			AgentID:    strings.TrimSpace(req.AgentID),
			ClientID:   strings.TrimSpace(req.ClientID),
			PropertyID: strings.TrimSpace(req.PropertyID),
		})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be inbox or chat"})
		return
	}
	if err != nil {
		h.respondError(c, err, "mount view", "kind", req.Kind)
		return
	}
	c.JSON(http.StatusCreated, h.render(view))
}

func (h DeskHandler) Snapshot(c *gin.Context) {
	view, ok := h.view(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.render(view))
}

func (h DeskHandler) Unmount(c *gin.Context) {
	if err := h.Views.Unmount(c.Param("view")); err != nil {
		h.respondError(c, err, "unmount view")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h DeskHandler) Refresh(c *gin.Context) {
	view, ok := h.view(c)
	if !ok {
		return
	}
	if err := view.Sync.Refresh(c.Request.Context()); err != nil {
		h.respondError(c, err, "refresh view", "view_id", view.ID)
		return
	}
	c.JSON(http.StatusOK, h.render(view))
}

// Start resolves the chat conversation, creating it with a placeholder when none exists.
func (h DeskHandler) Start(c *gin.Context) {
	view, ok := h.view(c)
	if !ok {
		return
	}
	var req startRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
	}
	id, err := view.Sync.Start(c.Request.Context(), req.Guest)
	if err != nil {
		h.respondError(c, err, "start conversation", "view_id", view.ID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": id})
}

func (h DeskHandler) Send(c *gin.Context) {
	view, ok := h.view(c)
	if !ok {
		return
	}
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	err := view.Sync.Send(c.Request.Context(), conversations.SendRequest{
		ConversationID: strings.TrimSpace(req.ConversationID),
		Text:           req.Text,
		Guest:          req.Guest,
	})
	if err != nil {
		h.respondError(c, err, "send message", "view_id", view.ID, "conversation_id", req.ConversationID)
		return
	}
	c.JSON(http.StatusCreated, h.render(view))
}

func (h DeskHandler) Open(c *gin.Context) {
	view, ok := h.view(c)
	if !ok {
		return
	}
	if err := view.Sync.Open(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err, "open conversation", "view_id", view.ID, "conversation_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, h.render(view))
}

func (h DeskHandler) Close(c *gin.Context) {
	view, ok := h.view(c)
	if !ok {
		return
	}
	view.Sync.Close()
	c.Status(http.StatusNoContent)
}

func (h DeskHandler) MarkRead(c *gin.Context) {
	view, ok := h.view(c)
	if !ok {
		return
	}
	if err := view.Sync.MarkRead(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err, "mark read", "view_id", view.ID, "conversation_id", c.Param("id"))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h DeskHandler) Delete(c *gin.Context) {
	view, ok := h.view(c)
	if !ok {
		return
	}
	if err := view.Sync.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err, "delete conversation", "view_id", view.ID, "conversation_id", c.Param("id"))
		return
	}
	c.Status(http.StatusNoContent)
}

// Transcript downloads the visible messages of a tracked conversation as CSV.
func (h DeskHandler) Transcript(c *gin.Context) {
	conv, ok := h.tracked(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := transcripts.WriteCSV(&buf, conv); err != nil {
		h.respondError(c, err, "render transcript", "conversation_id", conv.ID)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", transcripts.FileName(conv)))
	c.Data(http.StatusOK, transcripts.ContentType, buf.Bytes())
}

func (h DeskHandler) PublishTranscript(c *gin.Context) {
	conv, ok := h.tracked(c)
	if !ok {
		return
	}
	if h.Transcripts == nil {
		h.respondError(c, transcripts.ErrNoArchive, "publish transcript")
		return
	}
	link, err := h.Transcripts.Publish(c.Request.Context(), conv)
	if err != nil {
		h.respondError(c, err, "publish transcript", "conversation_id", conv.ID)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"url": link})
}

// Events streams view changes as server-sent events until the client goes away or the
// view is unmounted. The first event is always a full snapshot.
func (h DeskHandler) Events(c *gin.Context) {
	view, ok := h.view(c)
	if !ok {
		return
	}
	feed, cancel := view.Subscribe()
	defer cancel()

	states := make(chan realtime.State, 4)
	if h.Monitor != nil {
		watch := h.Monitor.Watch(func(s realtime.State) {
			select {
			case states <- s:
			default:
			}
		})
		defer h.Monitor.Off(watch)
	}

	keepAlive := h.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	h.sse(c, "snapshot", h.render(view))
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-feed:
			if !open {
				h.sse(c, "unmounted", gin.H{"view_id": view.ID})
				return
			}
			h.sse(c, string(ev.Kind), dto.NewEvent(ev))
		case state := <-states:
			h.sse(c, "connection", gin.H{"state": state})
		case <-ticker.C:
			h.sse(c, "ping", gin.H{"at": time.Now().UTC()})
		}
	}
}

func (h DeskHandler) sse(c *gin.Context, event string, payload any) {
	c.SSEvent(event, payload)
	c.Writer.Flush()
}

func (h DeskHandler) view(c *gin.Context) (*views.View, bool) {
	view, err := h.Views.Get(c.Param("view"))
	if err != nil {
		h.respondError(c, err, "load view")
		return nil, false
	}
	return view, true
}

func (h DeskHandler) tracked(c *gin.Context) (inquiry.Conversation, bool) {
	view, ok := h.view(c)
	if !ok {
		return inquiry.Conversation{}, false
	}
	conv, found := view.Sync.Conversation(c.Param("id"))
	if !found {
		h.respondError(c, conversations.ErrUnknown, "load conversation")
		return inquiry.Conversation{}, false
	}
	return conv, true
}

func (h DeskHandler) render(v *views.View) dto.View {
	return dto.View{
		ID:            v.ID,
		Kind:          string(v.Kind),
		OpenID:        v.Sync.OpenID(),
		Connection:    string(h.connectionState()),
		Conversations: dto.NewConversations(v.Sync.Snapshot()),
	}
}

func (h DeskHandler) connectionState() realtime.State {
	if h.Monitor == nil {
		return realtime.StateDisconnected
	}
	return h.Monitor.State()
}

func (h DeskHandler) respondError(c *gin.Context, err error, op string, attrs ...any) {
	status := http.StatusInternalServerError
	var apiErr *rest.APIError
	switch {
	case errors.Is(err, session.ErrSignedOut),
		errors.Is(err, session.ErrExpired),
		errors.Is(err, session.ErrInvalidCredentials),
		errors.Is(err, user.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, views.ErrViewNotFound),
		errors.Is(err, conversations.ErrUnknown),
		errors.Is(err, inquiry.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, views.ErrTooManyViews):
		status = http.StatusTooManyRequests
	case errors.Is(err, inquiry.ErrEmptyMessage),
		errors.Is(err, inquiry.ErrGuestDetailsRequired),
		errors.Is(err, inquiry.ErrInvalidRole),
		errors.Is(err, conversations.ErrNoChatTarget):
		status = http.StatusBadRequest
	case errors.Is(err, conversations.ErrNotMounted), errors.Is(err, conversations.ErrStale):
		status = http.StatusConflict
	case errors.Is(err, transcripts.ErrNoArchive):
		status = http.StatusServiceUnavailable
	case errors.As(err, &apiErr):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError && h.Logger != nil {
		h.Logger.Error(op+" failed", append(attrs, "status", status, "error", err)...)
	}
	if status == http.StatusInternalServerError {
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
