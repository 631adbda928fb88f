// Package apiclient is the HTTP client for the softphone API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sebas/agentphone/internal/softphone/api"
	"github.com/sebas/agentphone/internal/softphone/history"
	"github.com/sebas/agentphone/internal/softphone/session"
)

// StatusError is a non-2xx reply from the softphone.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status: %d", e.Code)
	}
	return fmt.Sprintf("unexpected status: %d: %s", e.Code, e.Message)
}

// Client is an HTTP client for a softphone API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new softphone API client
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// BaseURL returns the softphone base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health fetches device health
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var health api.HealthResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Call fetches the current call. It returns nil when the phone is idle.
func (c *Client) Call(ctx context.Context) (*session.CallState, error) {
	var st session.CallState
	ok, err := c.do(ctx, http.MethodGet, "/api/v1/call", nil, &st)
	if err != nil || !ok {
		return nil, err
	}
	return &st, nil
}

// Dial places an outbound call
func (c *Client) Dial(ctx context.Context, number string) (*session.CallState, error) {
	var st session.CallState
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/call", api.DialRequest{Number: number}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Answer accepts the ringing inbound call
func (c *Client) Answer(ctx context.Context) (*session.CallState, error) {
	return c.action(ctx, "answer")
}

// Reject declines the ringing inbound call
func (c *Client) Reject(ctx context.Context) (*session.CallState, error) {
	return c.action(ctx, "reject")
}

// End hangs up the current call
func (c *Client) End(ctx context.Context) (*session.CallState, error) {
	return c.action(ctx, "end")
}

// ToggleMute flips mute and returns the new value
func (c *Client) ToggleMute(ctx context.Context) (bool, error) {
	var resp api.ToggleResponse
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/call/mute", nil, &resp); err != nil {
		return false, err
	}
	return resp.Muted != nil && *resp.Muted, nil
}

// ToggleHold flips hold and returns the new value
func (c *Client) ToggleHold(ctx context.Context) (bool, error) {
	var resp api.ToggleResponse
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/call/hold", nil, &resp); err != nil {
		return false, err
	}
	return resp.OnHold != nil && *resp.OnHold, nil
}

// Incoming fetches the pending inbound call. It returns nil when none is ringing.
func (c *Client) Incoming(ctx context.Context) (*session.IncomingCallNotice, error) {
	var n session.IncomingCallNotice
	ok, err := c.do(ctx, http.MethodGet, "/api/v1/incoming", nil, &n)
	if err != nil || !ok {
		return nil, err
	}
	return &n, nil
}

// Calls fetches a page of the call log
func (c *Client) Calls(ctx context.Context, f history.Filter) (*history.Page, error) {
	q := url.Values{}
	if f.Direction != "" {
		q.Set("direction", f.Direction)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Query != "" {
		q.Set("q", f.Query)
	}
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(f.PageSize))
	}
	path := "/api/v1/calls"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page history.Page
	if _, err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// CallStats fetches the call log counters
func (c *Client) CallStats(ctx context.Context) (*history.Stats, error) {
	var st history.Stats
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/calls/stats", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) action(ctx context.Context, name string) (*session.CallState, error) {
	var st session.CallState
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/call/"+name, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// do performs a request and decodes the reply into out. It reports false
// for 204 No Content.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (bool, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return false, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		var e api.ErrorResponse
		json.NewDecoder(resp.Body).Decode(&e)
		return false, &StatusError{Code: resp.StatusCode, Message: e.Error}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return true, nil
}
