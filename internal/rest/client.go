// Package rest is the request/response collaborator: the relay's JSON
// API for authentication, directory/group snapshots, message history,
// group administration and file upload. The event channel is not here;
// see internal/channel.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/einfra-labs/chatbox/internal/model"
	"go.uber.org/zap"
)

// Client issues authenticated requests against the relay's REST API.
type Client struct {
	base   string
	httpc  *http.Client
	logger *zap.Logger

	mu    sync.RWMutex
	token string
}

// New creates a client for the given server base URL (no trailing slash).
func New(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:   baseURL,
		httpc:  &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// SetToken installs the bearer credential used on subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) authHeader() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return ""
	}
	return "Bearer " + c.token
}

// LoginResult carries the two credentials issued at sign-in.
type LoginResult struct {
	Token      string `json:"token"`
	PrivateKey string `json:"privateKey"`
}

// Login exchanges email/password for a token and the account private key,
// and installs the token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var out LoginResult
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/login", body, &out); err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

// Users fetches the directory snapshot.
func (c *Client) Users(ctx context.Context) ([]model.Contact, error) {
	var out []model.Contact
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// User fetches a single profile.
func (c *Client) User(ctx context.Context, id string) (*model.Contact, error) {
	var out model.Contact
	if err := c.do(ctx, http.MethodGet, "/api/users/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Groups fetches the group snapshot.
func (c *Client) Groups(ctx context.Context) ([]model.Group, error) {
	var out []model.Group
	if err := c.do(ctx, http.MethodGet, "/api/groups", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LastMessages fetches the per-conversation recency snapshot.
func (c *Client) LastMessages(ctx context.Context) ([]model.LastActivity, error) {
	var out []model.LastActivity
	if err := c.do(ctx, http.MethodGet, "/api/messages/last-messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PrivateHistory fetches the 1:1 conversation with the given user.
func (c *Client) PrivateHistory(ctx context.Context, userID string) ([]model.Message, error) {
	var out []model.Message
	if err := c.do(ctx, http.MethodGet, "/api/messages/private/"+userID, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GroupHistory fetches the given group's conversation.
func (c *Client) GroupHistory(ctx context.Context, groupID string) ([]model.Message, error) {
	var out []model.Message
	if err := c.do(ctx, http.MethodGet, "/api/messages/group/"+groupID, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateGroup creates a group; the server adds the creator itself.
func (c *Client) CreateGroup(ctx context.Context, name string) (*model.Group, error) {
	var out model.Group
	if err := c.do(ctx, http.MethodPost, "/api/groups", map[string]string{"name": name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddMember adds a member with its permission flags. Returns the updated
// group.
func (c *Client) AddMember(ctx context.Context, groupID, userID string, canSend, canCall bool) (*model.Group, error) {
	var out model.Group
	body := map[string]any{"userId": userID, "canSendMessages": canSend, "canCall": canCall}
	if err := c.do(ctx, http.MethodPut, "/api/groups/"+groupID+"/members", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdatePermissions rewrites a member's permission flags. Returns the
// updated group.
func (c *Client) UpdatePermissions(ctx context.Context, groupID, userID string, canSend, canCall bool) (*model.Group, error) {
	var out model.Group
	body := map[string]any{"userId": userID, "canSendMessages": canSend, "canCall": canCall}
	if err := c.do(ctx, http.MethodPut, "/api/groups/"+groupID+"/permissions", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Upload posts a file attachment and returns its stored metadata. Exactly
// one of recipient/group must be non-empty, mirroring the message
// invariant.
func (c *Client) Upload(ctx context.Context, recipient, group, tempID, filename string, r io.Reader) (*model.FileMeta, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("multipart file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("copy upload body: %w", err)
	}
	if recipient != "" {
		_ = w.WriteField("recipient", recipient)
	}
	if group != "" {
		_ = w.WriteField("group", group)
	}
	_ = w.WriteField("tempId", tempID)
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if auth := c.authHeader(); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}
	var out model.FileMeta
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &out, nil
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

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth := c.authHeader(); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.logger.Warn("request failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&payload)
	msg := payload.Error
	if msg == "" {
		msg = payload.Message
	}
	if msg == "" {
		msg = resp.Status
	}
	return fmt.Errorf("server: %s (%d)", msg, resp.StatusCode)
}
