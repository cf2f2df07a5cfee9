// Package attendance polls the day's clock events over the plain request
// channel and republishes them as ordered in/out lists.
package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Clock event status values as reported by the server.
const (
	StatusClockedIn  = "clocked in"
	StatusClockedOut = "clocked out"
)

// ClockEvent is one worker's clock-in (and optional clock-out) record.
type ClockEvent struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Department       string `json:"department"`
	Status           string `json:"status"`
	ClockInTime      string `json:"clockInTime"`
	ClockInLocation  string `json:"clockInLocation"`
	ClockInComment   string `json:"clockInComment,omitempty"`
	ClockOutTime     string `json:"clockOutTime,omitempty"`
	ClockOutLocation string `json:"clockOutLocation,omitempty"`
	ClockOutComment  string `json:"clockOutComment,omitempty"`
}

// TokenFunc supplies the current session token. The client reads it per
// request so a re-login is picked up without rebuilding the client.
type TokenFunc func() string

// Client issues the session-scoped REST calls the monitoring core needs:
// the clock-event fetch, the logout call, and the profile fetch that seeds
// the display name.
type Client struct {
	baseURL string
	token   TokenFunc
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a REST client rooted at baseURL (e.g. "http://host/api").
func NewClient(baseURL string, token TokenFunc, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

type clockEventsResponse struct {
	Success     bool         `json:"success"`
	Message     string       `json:"message,omitempty"`
	ClockEvents []ClockEvent `json:"clockEvents"`
}

// FetchClockEvents returns the server's flat clock-event list for the
// manager's team. Filtering, sorting, and splitting happen in the poller.
func (c *Client) FetchClockEvents(ctx context.Context) ([]ClockEvent, error) {
	var resp clockEventsResponse
	if err := c.get(ctx, "/manager/get-clock-events", &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("clock event fetch rejected: %s", resp.Message)
	}
	return resp.ClockEvents, nil
}

type profileResponse struct {
	Success bool   `json:"success"`
	Name    string `json:"name"`
}

// FetchProfile returns the authenticated manager's display name.
func (c *Client) FetchProfile(ctx context.Context) (string, error) {
	var resp profileResponse
	if err := c.get(ctx, "/manager/profile", &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("profile fetch rejected")
	}
	return resp.Name, nil
}

// Logout destroys the server-side session. Safe to call with a token the
// server has already invalidated.
func (c *Client) Logout(ctx context.Context) error {
	var resp struct {
		Success bool `json:"success"`
	}
	if err := c.get(ctx, "/logout", &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("logout rejected by server")
	}
	return nil
}

// get issues a session-authenticated GET and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.token(); token != "" {
		req.AddCookie(&http.Cookie{Name: "connect.sid", Value: token})
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer res.Body.Close() //nolint:errcheck // best-effort cleanup

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("request %s: unexpected status %d", path, res.StatusCode)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
