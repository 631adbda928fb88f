package tokenserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return &Config{
		Port:        8090,
		Secret:      "test-secret",
		Issuer:      "test-issuer",
		TTL:         time.Hour,
		Application: "agentphone",
		Agents: []Agent{
			{Username: "1001", PasswordHash: string(hash), PhoneNumber: "+15551230001"},
		},
	}
}

func requestToken(h http.Handler, user, pass string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/token", nil)
	if user != "" {
		req.SetBasicAuth(user, pass)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIssueAndVerify(t *testing.T) {
	s := NewServer(testConfig(t))

	rec := requestToken(s.Routes(), "1001", "hunter2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp TokenResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Identity != "1001" || resp.PhoneNumber != "+15551230001" {
		t.Errorf("response = %+v", resp)
	}

	claims, err := s.Issuer().Verify(resp.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "1001" || claims.Grants.Identity != "1001" {
		t.Errorf("claims = %+v", claims)
	}
	if !claims.Grants.Voice.Incoming.Allow || claims.Grants.Voice.Outgoing.ApplicationSID != "agentphone" {
		t.Errorf("voice grant = %+v", claims.Grants.Voice)
	}
}

func TestRejectsBadCredentials(t *testing.T) {
	h := NewServer(testConfig(t)).Routes()

	tests := []struct {
		name, user, pass string
	}{
		{"no auth", "", ""},
		{"wrong password", "1001", "nope"},
		{"unknown agent", "9999", "hunter2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := requestToken(h, tt.user, tt.pass)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestNotConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.Secret = ""
	rec := requestToken(NewServer(cfg).Routes(), "1001", "hunter2")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["error"] != "token service not configured" {
		t.Errorf("error = %q", body["error"])
	}
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	cfg := testConfig(t)
	issuer := NewIssuer(cfg)
	token, _, err := issuer.Issue("1001")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other := *cfg
	other.Secret = "another-secret"
	if _, err := NewIssuer(&other).Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong secret: err = %v", err)
	}

	issuer.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := issuer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired: err = %v", err)
	}
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	NewServer(testConfig(t)).Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenserver.yaml")
	yaml := `
port: 9100
issuer: acme
ttl: 30m
agents:
  - username: "1001"
    password_hash: "$2a$04$abc"
    phone_number: "+15551230001"
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TOKEN_SECRET", "from-env")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != 9100 || cfg.Issuer != "acme" || cfg.TTL != 30*time.Minute {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Secret != "from-env" {
		t.Errorf("Secret = %q, want env override", cfg.Secret)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0].PhoneNumber != "+15551230001" {
		t.Errorf("agents = %+v", cfg.Agents)
	}
	if cfg.Application != "agentphone" {
		t.Errorf("Application default = %q", cfg.Application)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}
