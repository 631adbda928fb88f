package credential

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPProviderReturnsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "agent" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token":"abc123","identity":"agent"}`))
	}))
	defer srv.Close()

	token, err := NewHTTPProvider(srv.URL, "agent", "secret").Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "abc123" {
		t.Errorf("token = %q, want abc123", token)
	}
}

func TestHTTPProviderNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"token service not configured"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPProvider(srv.URL, "", "").Token(context.Background())
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", se.StatusCode)
	}
	if !strings.Contains(se.Error(), "not configured") {
		t.Errorf("error %q should carry the server message", se.Error())
	}
}

func TestHTTPProviderMissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"identity":"agent"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPProvider(srv.URL, "", "").Token(context.Background())
	if !errors.Is(err, ErrNoToken) {
		t.Errorf("err = %v, want ErrNoToken", err)
	}
}

func TestHTTPProviderUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := NewHTTPProvider(url, "", "").Token(context.Background()); err == nil {
		t.Fatal("expected error for closed server")
	}
}

func TestStatic(t *testing.T) {
	tok, err := Static("fixed").Token(context.Background())
	if err != nil || tok != "fixed" {
		t.Errorf("Static token = %q, %v", tok, err)
	}
	if _, err := Static("").Token(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Errorf("empty Static err = %v, want ErrNoToken", err)
	}
}
