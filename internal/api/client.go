// Package api implements the request/response client for the messaging
// server. The synchronization engine only consumes its typed results and
// error signals.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/telechat/telechat/internal/store"
	"github.com/telechat/telechat/internal/wire"
)

// APIError is a request failure carrying the server's human-readable
// message when one was given.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

// Client talks to the messaging server's REST surface.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// NewClient creates an unauthenticated client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// SetToken installs the bearer token used on authenticated requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// ClearToken drops the bearer token.
func (c *Client) ClearToken() {
	c.SetToken("")
}

// Token returns the current bearer token, empty when logged out.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Authenticated reports whether a token is installed.
func (c *Client) Authenticated() bool {
	return c.Token() != ""
}

// LoginResult is the payload of a successful login.
type LoginResult struct {
	Token string
	User  store.User
}

// Login authenticates with identifier + password and installs the
// returned token on the client.
func (c *Client) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	var resp struct {
		Token string    `json:"token"`
		User  wire.User `json:"user"`
	}
	body := map[string]string{"identifier": identifier, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/v1/pub/login", body, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, &APIError{Status: http.StatusOK, Message: "login response carried no token"}
	}
	c.SetToken(resp.Token)

	name := resp.User.Username
	if name == "" {
		name = resp.User.Name
	}
	return &LoginResult{
		Token: resp.Token,
		User: store.User{
			ID:       resp.User.ID,
			Username: name,
			Email:    resp.User.Email,
			Avatar:   resp.User.Avatar,
		},
	}, nil
}

// CurrentUser fetches the authenticated user's profile.
func (c *Client) CurrentUser(ctx context.Context) (*store.User, error) {
	var resp wire.User
	if err := c.do(ctx, http.MethodGet, "/api/v1/user-me/get", nil, &resp); err != nil {
		return nil, err
	}
	name := resp.Username
	if name == "" {
		name = resp.Name
	}
	return &store.User{ID: resp.ID, Username: name, Email: resp.Email, Avatar: resp.Avatar}, nil
}

// ChatsOfEachKind fetches direct, group, and broadcast chat lists and
// returns them normalized as one slice.
func (c *Client) ChatsOfEachKind(ctx context.Context) ([]store.Chat, error) {
	paths := []string{
		"/api/v1/chats/get-dm-chats?limit=100&offset=0",
		"/api/v1/chats/get-groups",
		"/api/v1/chats/get-channels",
	}

	var all []store.Chat
	for _, path := range paths {
		var page []wire.Chat
		if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		for i := range page {
			all = append(all, *page[i].ToStoreChat())
		}
	}
	return all, nil
}

// ChatDetail fetches the authoritative chat record by its external id.
// The response may inline the most recent message page.
func (c *Client) ChatDetail(ctx context.Context, eid string) (*store.Chat, []store.Message, error) {
	var resp wire.Chat
	path := "/api/v1/chats/get-by-eid/" + url.PathEscape(eid)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, nil, err
	}

	chat := resp.ToStoreChat()
	var msgs []store.Message
	for i := range resp.Messages {
		msgs = append(msgs, *resp.Messages[i].ToStoreMessage())
	}
	return chat, msgs, nil
}

// MessagePage fetches the most recent message page for a chat.
func (c *Client) MessagePage(ctx context.Context, chatID string, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var resp []wire.Message
	path := fmt.Sprintf("/api/v1/msgs/get-messages?chat_id=%s&limit=%d&offset=0", url.QueryEscape(chatID), limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	var msgs []store.Message
	for i := range resp {
		m := resp[i].ToStoreMessage()
		if m.ChatID == "" {
			m.ChatID = chatID
		}
		msgs = append(msgs, *m)
	}
	return msgs, nil
}

// SendMessage posts a new message and returns the server-confirmed record.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) (*store.Message, error) {
	var raw json.RawMessage
	body := map[string]string{"chat_id": chatID, "text": text}
	if err := c.do(ctx, http.MethodPost, "/api/v1/msgs/send-message", body, &raw); err != nil {
		return nil, err
	}

	// The record arrives either wrapped under "message" or at the top
	// level, depending on the server build.
	var wrapped struct {
		Message *wire.Message `json:"message"`
	}
	msg := &wire.Message{}
	if json.Unmarshal(raw, &wrapped) == nil && wrapped.Message != nil && wrapped.Message.ID != "" {
		msg = wrapped.Message
	} else if err := json.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("decode send response: %w", err)
	}
	m := msg.ToStoreMessage()
	if m.ID == "" {
		return nil, &APIError{Status: http.StatusOK, Message: "send response carried no message id"}
	}
	if m.ChatID == "" {
		m.ChatID = chatID
	}
	return m, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: "network error"}
		var serverErr struct {
			Message string `json:"message"`
		}
		if json.NewDecoder(resp.Body).Decode(&serverErr) == nil && serverErr.Message != "" {
			apiErr.Message = serverErr.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
