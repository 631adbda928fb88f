// Package credential fetches the capability token that authorizes the
// softphone to register.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNoToken indicates the endpoint answered without a token.
var ErrNoToken = errors.New("response contained no token")

// Provider returns a capability token.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// Static returns a fixed token.
type Static string

// Token implements Provider.
func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// StatusError reports a non-2xx answer from the token endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("token endpoint returned %d", e.StatusCode)
	}
	return fmt.Sprintf("token endpoint returned %d: %s", e.StatusCode, e.Body)
}

// HTTPProvider fetches tokens from an HTTP endpoint answering
// {"token": "..."}. Requests are not retried.
type HTTPProvider struct {
	url        string
	username   string
	password   string
	httpClient *http.Client
}

// NewHTTPProvider creates a provider for url. Basic auth is sent when
// username is non-empty.
func NewHTTPProvider(url, username, password string) *HTTPProvider {
	return &HTTPProvider{
		url:      url,
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Token implements Provider.
func (p *HTTPProvider) Token(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.username != "" {
		req.SetBasicAuth(p.username, p.password)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &StatusError{StatusCode: resp.StatusCode, Body: errorMessage(body)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.Token == "" {
		return "", ErrNoToken
	}
	return tr.Token, nil
}

// errorMessage prefers the {"error": "..."} field when the body has one.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return string(body)
}
