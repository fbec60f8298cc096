package ginserver

import (
	"errors"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"inquirydesk/internal/app/inquiries"
	"inquirydesk/internal/domain/inquiry"
	"inquirydesk/internal/domain/thread"
	domainuser "inquirydesk/internal/domain/user"
)

// BackendHandler serves the inquiry REST API of the devserver.
type BackendHandler struct {
	Service *inquiries.Service
	Logger  *slog.Logger
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h BackendHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	token, profile, err := h.Service.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(c, err, "login")
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": profile})
}

func (h BackendHandler) Me(c *gin.Context) {
	profile, err := h.Service.Me(c.Request.Context(), currentPrincipal(c))
	if err != nil {
		h.respondError(c, err, "me")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": profile})
}

func (h BackendHandler) Between(c *gin.Context) {
	conv, err := h.Service.Between(c.Request.Context(), currentPrincipal(c), c.Param("agent"), c.Param("client"))
	if err != nil {
		h.respondError(c, err, "load conversation between", "agent_id", c.Param("agent"), "client_id", c.Param("client"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (h BackendHandler) Conversation(c *gin.Context) {
	conv, err := h.Service.Conversation(c.Request.Context(), currentPrincipal(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "load conversation", "conversation_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (h BackendHandler) List(c *gin.Context) {
	role, err := inquiry.ParseRole(c.Param("role"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	convs, err := h.Service.List(c.Request.Context(), currentPrincipal(c), role)
	if err != nil {
		h.respondError(c, err, "list conversations", "role", role)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (h BackendHandler) Create(c *gin.Context) {
	var req inquiry.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	id, err := h.Service.Create(c.Request.Context(), currentPrincipal(c), req)
	if err != nil {
		h.respondError(c, err, "create conversation", "agent_id", req.AgentID)
		return
	}
	c.JSON(http.StatusCreated, inquiry.CreateResponse{ConversationID: id})
}

func (h BackendHandler) Reply(c *gin.Context) {
	var req inquiry.ReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.Service.Reply(c.Request.Context(), currentPrincipal(c), req); err != nil {
		h.respondError(c, err, "send message", "conversation_id", req.ConversationID)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "sent"})
}

func (h BackendHandler) MarkRead(c *gin.Context) {
	role, err := inquiry.ParseRole(c.Param("role"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cleared, err := h.Service.MarkRead(c.Request.Context(), currentPrincipal(c), role, c.Param("id"))
	if err != nil {
		h.respondError(c, err, "mark read", "conversation_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": cleared})
}

func (h BackendHandler) MarkResponded(c *gin.Context) {
	if err := h.Service.MarkResponded(c.Request.Context(), currentPrincipal(c), c.Param("id")); err != nil {
		h.respondError(c, err, "mark responded", "conversation_id", c.Param("id"))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h BackendHandler) Delete(c *gin.Context) {
	if err := h.Service.Delete(c.Request.Context(), currentPrincipal(c), c.Param("id")); err != nil {
		h.respondError(c, err, "delete conversation", "conversation_id", c.Param("id"))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h BackendHandler) respondError(c *gin.Context, err error, op string, attrs ...any) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, thread.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domainuser.ErrUnauthenticated), errors.Is(err, inquiries.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, inquiries.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, thread.ErrConcurrentUpdate):
		status = http.StatusConflict
	case errors.Is(err, inquiries.ErrAgentNotFound):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, inquiry.ErrEmptyMessage),
		errors.Is(err, inquiry.ErrGuestDetailsRequired),
		errors.Is(err, thread.ErrIDRequired),
		errors.Is(err, thread.ErrAgentRequired),
		errors.Is(err, thread.ErrClientRequired),
		errors.Is(err, thread.ErrNotParticipant),
		errors.Is(err, thread.ErrShellNotAllowed),
		errors.Is(err, thread.ErrSelfConversation):
		status = http.StatusBadRequest
	}
	if status >= http.StatusInternalServerError {
		if h.Logger != nil {
			h.Logger.Error(op+" failed", append(attrs, "error", err)...)
		}
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
