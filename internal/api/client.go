package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"parentlink-client/internal/credentials"
	"parentlink-client/internal/models"

	"github.com/google/uuid"
)

const requestTimeout = 10 * time.Second

// Client talks to the REST side of the backend: authentication, chat
// lookup/creation, user search, and message history pagination. The realtime
// channel never serves history; older pages always come from here.
type Client struct {
	baseURL string
	creds   *credentials.Store
	http    *http.Client
}

func NewClient(baseURL string, creds *credentials.Store) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

type authResponse struct {
	Token string             `json:"token"`
	User  *models.PublicUser `json:"user"`
}

// Register creates an account and stores the returned bearer token in the
// credential store.
func (c *Client) Register(ctx context.Context, username, email, password string) (*models.PublicUser, error) {
	req := models.CreateUserRequest{Username: username, Email: email, Password: password}
	var resp authResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/register", req, &resp); err != nil {
		return nil, err
	}
	if err := c.creds.SetToken(resp.Token); err != nil {
		return nil, err
	}
	return resp.User, nil
}

// Login authenticates and stores the returned bearer token in the credential
// store, which also resolves the current user identity.
func (c *Client) Login(ctx context.Context, email, password string) (*models.PublicUser, error) {
	req := models.LoginUserRequest{Email: email, Password: password}
	var resp authResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", req, &resp); err != nil {
		return nil, err
	}
	if err := c.creds.SetToken(resp.Token); err != nil {
		return nil, err
	}
	return resp.User, nil
}

// Me resolves the account behind the stored bearer token.
func (c *Client) Me(ctx context.Context) (*models.PublicUser, error) {
	var out models.PublicUser
	if err := c.do(ctx, http.MethodGet, "/api/v1/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Messages fetches one history page for a room, newest first. Pages are keyed
// by page number; the backend works in limit/offset terms.
func (c *Client) Messages(ctx context.Context, chatID uuid.UUID, page, limit int) ([]*models.ServerMessage, error) {
	q := url.Values{}
	q.Set("chatId", chatID.String())
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(page*limit))

	var out []*models.ServerMessage
	if err := c.do(ctx, http.MethodGet, "/api/v1/messages?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Chats lists the current user's conversations.
func (c *Client) Chats(ctx context.Context) ([]*models.Chat, error) {
	var out []*models.Chat
	if err := c.do(ctx, http.MethodGet, "/api/v1/chats", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateChat looks up or creates the conversation for a participant pair.
// The backend treats this as find-or-create, so calling it for an existing
// pair returns the existing chat.
func (c *Client) CreateChat(ctx context.Context, participantIDs []uuid.UUID) (*models.Chat, error) {
	req := models.CreateChatRequest{ParticipantIDs: participantIDs}
	var out models.Chat
	if err := c.do(ctx, http.MethodPost, "/api/v1/chats", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchUsers finds users by username fragment.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]*models.PublicUser, error) {
	q := url.Values{}
	q.Set("q", query)
	var out []*models.PublicUser
	if err := c.do(ctx, http.MethodGet, "/api/v1/users?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: marshal %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("api: build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.creds.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("api: %s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("api: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s %s response: %w", method, path, err)
	}
	return nil
}
