package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sebas/agentphone/internal/softphone/api"
	"github.com/sebas/agentphone/internal/softphone/apiclient"
	"github.com/sebas/agentphone/internal/softphone/history"
	"github.com/sebas/agentphone/internal/softphone/session"
)

func newTestCLI(t *testing.T, mux *http.ServeMux) (*cli, *bytes.Buffer) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	var out bytes.Buffer
	return &cli{client: apiclient.New(srv.URL), out: &out}, &out
}

func TestStatusIdle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.HealthResponse{Status: "ok", DeviceState: session.DeviceReady, Uptime: 42})
	})
	mux.HandleFunc("/api/v1/call", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	c, out := newTestCLI(t, mux)

	if err := c.run(context.Background(), "status", nil); err != nil {
		t.Fatalf("status: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "device: Ready (ok, up 42s)") || !strings.Contains(got, "idle") {
		t.Errorf("output = %q", got)
	}
}

func TestDialPrintsState(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/call", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(session.CallState{
			CallID:    "x",
			Phase:     session.PhaseConnecting,
			Direction: session.DirectionOutbound,
			To:        "+15551234567",
		})
	})
	c, out := newTestCLI(t, mux)

	if err := c.run(context.Background(), "dial", []string{"5551234567"}); err != nil {
		t.Fatalf("dial: %v", err)
	}
	if got := out.String(); !strings.Contains(got, "Connecting outbound (555) 123-4567") {
		t.Errorf("output = %q", got)
	}

	if err := c.run(context.Background(), "dial", nil); err == nil {
		t.Error("dial without a number should fail")
	}
}

func TestCallsTable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/calls", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") != "missed" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(history.Page{
			Calls: []history.Record{{
				ID:           "c1",
				Direction:    session.DirectionInbound,
				FromNumber:   "+14143347441",
				ToNumber:     "1001",
				Status:       history.StatusMissed,
				HasVoicemail: true,
				CreatedAt:    time.Date(2024, 12, 4, 16, 21, 0, 0, time.UTC),
			}},
			Total:    1,
			Page:     1,
			PageSize: 25,
		})
	})
	c, out := newTestCLI(t, mux)

	if err := c.run(context.Background(), "calls", []string{"-status", "missed"}); err != nil {
		t.Fatalf("calls: %v", err)
	}
	got := out.String()
	for _, want := range []string{"(414) 334-7441", "missed (voicemail)", "page 1, 1 of 1 calls"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	c, _ := newTestCLI(t, http.NewServeMux())
	if err := c.run(context.Background(), "transfer", nil); err == nil {
		t.Error("expected error for unknown command")
	}
}
