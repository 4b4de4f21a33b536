// Package client implements the request/response backend over the
// Cadence REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/state"
)

var _ state.Backend = (*REST)(nil)

// REST talks to the Cadence API server.
type REST struct {
	baseURL string
	http    *http.Client
}

// NewREST creates a backend for the given server base URL, for example
// "http://localhost:8080".
func NewREST(baseURL string) *REST {
	return &REST{
		baseURL: baseURL,
		http: &http.Client{
			// Generous: the fallback chat path runs the assistant
			// synchronously.
			Timeout: 3 * time.Minute,
		},
	}
}

// apiError is the error body the server writes for failed requests.
type apiError struct {
	Error string `json:"error"`
}

// do issues the request and decodes a 2xx response body into out.
func (c *REST) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *REST) ListSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	var sessions []*domain.Session
	q := url.Values{"user_id": {userID}}
	if err := c.do(ctx, http.MethodGet, "/api/sessions", q, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *REST) CreateSession(ctx context.Context, userID string, s *domain.Session) error {
	body := map[string]string{
		"session_id": s.ID,
		"user_id":    userID,
		"name":       s.Name,
	}
	return c.do(ctx, http.MethodPost, "/api/sessions", nil, body, nil)
}

func (c *REST) RenameSession(ctx context.Context, id, name string) error {
	body := map[string]string{"name": name}
	return c.do(ctx, http.MethodPut, "/api/sessions/"+url.PathEscape(id), nil, body, nil)
}

func (c *REST) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(id), nil, nil, nil)
}

func (c *REST) ChatHistory(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	var resp struct {
		SessionID string                  `json:"session_id"`
		Messages  []*domain.StoredMessage `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/chat/"+url.PathEscape(sessionID), nil, nil, &resp); err != nil {
		return nil, err
	}

	messages := make([]domain.ChatMessage, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		messages = append(messages, domain.ChatMessage{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.CreatedAt.Format(time.RFC3339),
		})
	}
	return messages, nil
}

func (c *REST) SendChat(ctx context.Context, sessionID, userID, message string) (string, error) {
	body := map[string]string{
		"session_id": sessionID,
		"user_id":    userID,
		"message":    message,
	}
	var resp struct {
		SessionID string `json:"session_id"`
		Response  string `json:"response"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/chat", nil, body, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

func (c *REST) FetchSequence(ctx context.Context, sessionID string) (*domain.SequenceDocument, error) {
	var resp struct {
		Success bool                     `json:"success"`
		Data    *domain.SequenceDocument `json:"data"`
		Error   string                   `json:"error"`
	}
	q := url.Values{"session_id": {sessionID}}
	if err := c.do(ctx, http.MethodGet, "/api/sequences", q, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("fetch sequence: %s", resp.Error)
	}
	return resp.Data, nil
}

func (c *REST) SaveSequence(ctx context.Context, sessionID, userID string, doc *domain.SequenceDocument) (string, error) {
	body := map[string]any{
		"session_id": sessionID,
		"user_id":    userID,
		"sequence":   doc,
	}
	var resp struct {
		Success bool   `json:"success"`
		ID      string `json:"id"`
		Error   string `json:"error"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/sequences", nil, body, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("save sequence: %s", resp.Error)
	}
	return resp.ID, nil
}

func (c *REST) ResetSequence(ctx context.Context, sessionID string) error {
	body := map[string]string{"session_id": sessionID}
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/sequences/reset", nil, body, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("reset sequence: %s", resp.Error)
	}
	return nil
}

func (c *REST) FetchAppConfig(ctx context.Context) (*domain.AppConfig, error) {
	var cfg domain.AppConfig
	if err := c.do(ctx, http.MethodGet, "/api/config", nil, nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
