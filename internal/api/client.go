package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout = 15 * time.Second
	searchTimeout  = 120 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

// Client communicates with the hosted search service.
//
// Every request carries its own timeout; expiry is treated as a transient
// failure and retried with exponential backoff, same as HTTP 429.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a service client for the given base URL and bearer token.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		// Per-request timeouts are set via context; no client-wide deadline
		// so search requests can run longer than management calls.
		httpClient: &http.Client{},
	}
}

// APIError is a non-2xx response from the service.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("service returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("service returned %d", e.Status)
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRetryable(err error) bool {
	var rl *rateLimitError
	if errors.As(err, &rl) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// --- Groups ---

// CreateGroup asks the server to mint a new conversation group. An empty name
// lets the server pick one.
func (c *Client) CreateGroup(ctx context.Context, name string) (Group, error) {
	var g Group
	if err := c.do(ctx, http.MethodPost, "/groups", createGroupRequest{Name: name}, &g, defaultTimeout); err != nil {
		return Group{}, fmt.Errorf("creating group: %w", err)
	}
	return g, nil
}

// ListGroups returns the groups belonging to the current identity. The server
// makes no ordering promise; callers needing the newest group must compare
// created_at themselves.
func (c *Client) ListGroups(ctx context.Context) ([]Group, error) {
	var groups []Group
	if err := c.do(ctx, http.MethodGet, "/groups", nil, &groups, defaultTimeout); err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	if groups == nil {
		groups = []Group{}
	}
	return groups, nil
}

// DeleteGroup removes a group server-side. Clearing any local reference to the
// deleted group is the caller's responsibility.
func (c *Client) DeleteGroup(ctx context.Context, id string) error {
	var resp deleteResponse
	if err := c.do(ctx, http.MethodPost, "/groups/delete", deleteGroupRequest{ID: id}, &resp, defaultTimeout); err != nil {
		return fmt.Errorf("deleting group: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("deleting group %s: server reported failure", id)
	}
	return nil
}

// --- Search ---

// Search dispatches one search turn and blocks until the server answers.
func (c *Client) Search(ctx context.Context, req SearchRequest) (SearchTurn, error) {
	var turn SearchTurn
	if err := c.do(ctx, http.MethodPost, "/search", req, &turn, searchTimeout); err != nil {
		return SearchTurn{}, fmt.Errorf("searching: %w", err)
	}
	return turn, nil
}

// ListTurns returns the prior turns stored in a group.
func (c *Client) ListTurns(ctx context.Context, groupID string) ([]SearchTurn, error) {
	var turns []SearchTurn
	path := "/search?group_id=" + url.QueryEscape(groupID)
	if err := c.do(ctx, http.MethodGet, path, nil, &turns, defaultTimeout); err != nil {
		return nil, fmt.Errorf("listing turns: %w", err)
	}
	if turns == nil {
		turns = []SearchTurn{}
	}
	return turns, nil
}

// DeleteTurn removes a single turn from a group's server-side history.
func (c *Client) DeleteTurn(ctx context.Context, id, groupID string) error {
	var resp deleteResponse
	if err := c.do(ctx, http.MethodPost, "/search/delete", deleteTurnRequest{ID: id, GroupID: groupID}, &resp, defaultTimeout); err != nil {
		return fmt.Errorf("deleting turn: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("deleting turn %s: server reported failure", id)
	}
	return nil
}

// --- Transport ---

func (c *Client) do(ctx context.Context, method, path string, body, out any, timeout time.Duration) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
	}

	var lastErr error
	for attempt := range maxRetries {
		err := c.doOnce(ctx, method, path, payload, out, timeout)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("giving up after %d attempts: %w", maxRetries, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, out any, timeout time.Duration) error {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &rateLimitError{status: resp.StatusCode}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apiErr
	}

	var wire struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wire) == nil && wire.Error.Message != "" {
		apiErr.Type = wire.Error.Type
		apiErr.Message = wire.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
