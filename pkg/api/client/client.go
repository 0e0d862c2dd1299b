// Package client provides typed access to the deployment API for
// interactive tools.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client provides typed access to the deployment API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:3000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg := extractError(resp.Body)
		return APIError{Status: resp.StatusCode, Message: msg}
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// DeployInput captures the payload for a deployment submission.
type DeployInput struct {
	RepoURL string `json:"repoUrl"`
	Name    string `json:"deploymentName,omitempty"`
	Type    string `json:"deploymentType,omitempty"`
}

// DeployResponse is the synchronous answer to a submission.
type DeployResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Deploy submits a repository for deployment and returns the new id.
func (c *Client) Deploy(ctx context.Context, token string, input DeployInput) (DeployResponse, error) {
	var resp DeployResponse
	if err := c.do(ctx, http.MethodPost, "/api/deploy", input, token, &resp); err != nil {
		return DeployResponse{}, err
	}
	return resp, nil
}

// StatusResponse reports a deployment's lifecycle state.
type StatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Status fetches the current state for a deployment id.
func (c *Client) Status(ctx context.Context, deployID string) (StatusResponse, error) {
	path := fmt.Sprintf("/api/status?id=%s", url.QueryEscape(deployID))
	var resp StatusResponse
	if err := c.do(ctx, http.MethodGet, path, nil, "", &resp); err != nil {
		return StatusResponse{}, err
	}
	return resp, nil
}

// LogEntry models a persisted build log line.
type LogEntry struct {
	ID           int64     `json:"id"`
	DeploymentID string    `json:"deploymentId"`
	Source       string    `json:"source"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"createdAt"`
}

// FetchLogs returns persisted logs for the deployment.
func (c *Client) FetchLogs(ctx context.Context, token, deployID string, limit, offset int) ([]LogEntry, error) {
	path := fmt.Sprintf("/api/logs?id=%s", url.QueryEscape(deployID))
	if limit > 0 {
		path += fmt.Sprintf("&limit=%d", limit)
	}
	if offset > 0 {
		path += fmt.Sprintf("&offset=%d", offset)
	}
	var logs []LogEntry
	if err := c.do(ctx, http.MethodGet, path, nil, token, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// StreamLogs follows the live log feed for a deployment, invoking fn for each
// line until the stream closes or the context is cancelled.
func (c *Client) StreamLogs(ctx context.Context, deployID string, fn func(line string)) error {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1)
	endpoint := fmt.Sprintf("%s/ws/logs?id=%s", wsURL, url.QueryEscape(deployID))
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
		}
		return fmt.Errorf("dial log stream: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read log stream: %w", err)
		}
		fn(string(payload))
	}
}
