package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"inquirydesk/internal/domain/inquiry"
	"inquirydesk/internal/domain/user"
	"inquirydesk/internal/infra/obs"
)

var ErrNotConfigured = errors.New("rest: client not configured")

// APIError is a non-2xx answer from the inquiry backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rest: backend returned status %d", e.Status)
	}
	return fmt.Sprintf("rest: backend returned status %d: %s", e.Status, e.Message)
}

// Is lets callers test a 404 against inquiry.ErrNotFound and a 401 against user.ErrUnauthenticated.
func (e *APIError) Is(target error) bool {
	switch target {
	case inquiry.ErrNotFound:
		return e.Status == http.StatusNotFound
	case user.ErrUnauthenticated:
		return e.Status == http.StatusUnauthorized
	}
	return false
}

// TokenSource yields the bearer token for outgoing calls; an empty token sends none.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// Client talks to the inquiry backend REST API.
type Client struct {
	HTTP    *http.Client
	BaseURL string
	Tokens  TokenSource
	Logger  *slog.Logger
}

type conversationEnvelope struct {
	Conversation *inquiry.WireConversation `json:"conversation"`
}

type conversationsEnvelope struct {
	Conversations []inquiry.WireConversation `json:"conversations"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type profileEnvelope struct {
	User user.Profile `json:"user"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type callOpts struct {
	anonymous bool
	token     string
}

// ConversationBetween loads the conversation of two participants. A missing
// conversation yields an error matching inquiry.ErrNotFound.
func (c *Client) ConversationBetween(ctx context.Context, agentID, clientID string) (*inquiry.WireConversation, error) {
	path := fmt.Sprintf("/inquiries/agent/%s/client/%s/conversation", url.PathEscape(agentID), url.PathEscape(clientID))
	var env conversationEnvelope
	if err := c.do(ctx, http.MethodGet, path, nil, &env, callOpts{}); err != nil {
		return nil, err
	}
	if env.Conversation == nil {
		return nil, &APIError{Status: http.StatusNotFound, Message: "empty conversation payload"}
	}
	return env.Conversation, nil
}

// Conversation loads one conversation. Tokenless calls present the guest email carried
// by ctx, which the backend requires for guest conversations.
func (c *Client) Conversation(ctx context.Context, id string) (*inquiry.WireConversation, error) {
	var env conversationEnvelope
	if err := c.do(ctx, http.MethodGet, "/inquiries/conversations/"+url.PathEscape(id), nil, &env, callOpts{}); err != nil {
		return nil, err
	}
	if env.Conversation == nil {
		return nil, &APIError{Status: http.StatusNotFound, Message: "empty conversation payload"}
	}
	return env.Conversation, nil
}

// Conversations lists the inbox of the authenticated user in the given role.
func (c *Client) Conversations(ctx context.Context, role inquiry.Role) ([]inquiry.WireConversation, error) {
	var env conversationsEnvelope
	if err := c.do(ctx, http.MethodGet, "/inquiries/"+url.PathEscape(string(role))+"/conversations", nil, &env, callOpts{}); err != nil {
		return nil, err
	}
	return env.Conversations, nil
}

// CreateConversation posts the first message. Guest requests carry no bearer token.
func (c *Client) CreateConversation(ctx context.Context, req inquiry.CreateRequest) (string, error) {
	var resp inquiry.CreateResponse
	if err := c.do(ctx, http.MethodPost, "/inquiries/", req, &resp, callOpts{anonymous: req.Guest != nil}); err != nil {
		return "", err
	}
	return resp.ConversationID, nil
}

func (c *Client) SendMessage(ctx context.Context, req inquiry.ReplyRequest) error {
	return c.do(ctx, http.MethodPost, "/inquiries/message", req, nil, callOpts{anonymous: req.Guest != nil})
}

func (c *Client) MarkRead(ctx context.Context, role inquiry.Role, id string) error {
	path := fmt.Sprintf("/inquiries/%s/mark-read/%s", url.PathEscape(string(role)), url.PathEscape(id))
	return c.do(ctx, http.MethodPut, path, nil, nil, callOpts{})
}

func (c *Client) MarkResponded(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPut, "/inquiries/client/mark-responded/"+url.PathEscape(id), nil, nil, callOpts{})
}

func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/inquiries/client/delete-conversation/"+url.PathEscape(id), nil, nil, callOpts{})
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, &resp, callOpts{anonymous: true}); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", errors.New("rest: login response carries no token")
	}
	return resp.Token, nil
}

// Me resolves the profile that owns token.
func (c *Client) Me(ctx context.Context, token string) (user.Profile, error) {
	var env profileEnvelope
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &env, callOpts{token: token}); err != nil {
		return user.Profile{}, err
	}
	return env.User, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, opts callOpts) error {
	if c == nil || c.HTTP == nil || c.BaseURL == "" {
		return ErrNotConfigured
	}
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := obs.RequestIDFromContext(ctx); id != "" {
		req.Header.Set(obs.RequestIDHeader, id)
	}
	token := opts.token
	if token == "" && !opts.anonymous && c.Tokens != nil {
		token, err = c.Tokens.Token(ctx)
		if err != nil {
			return err
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else if email := inquiry.GuestEmailFromContext(ctx); email != "" {
		req.Header.Set(inquiry.GuestEmailHeader, email)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.logError("inquiry api request failed", method, path, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode, Message: readErrorMessage(resp.Body)}
		if resp.StatusCode != http.StatusNotFound {
			c.logError("inquiry api returned error", method, path, apiErr)
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		c.logError("inquiry api decode failed", method, path, err)
		return fmt.Errorf("rest: decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) logError(msg, method, path string, err error) {
	if c.Logger == nil {
		return
	}
	c.Logger.Error(msg, "method", method, "path", path, "error", err)
}

func readErrorMessage(r io.Reader) string {
	snippet, _ := io.ReadAll(io.LimitReader(r, 512))
	var body errorBody
	if err := json.Unmarshal(snippet, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(snippet))
}
