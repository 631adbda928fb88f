package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sebas/agentphone/internal/softphone/history"
	"github.com/sebas/agentphone/internal/softphone/session"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func TestCallIdle(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	st, err := c.Call(context.Background())
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if st != nil {
		t.Errorf("Call() = %+v, want nil", st)
	}
}

func TestDialSendsNumber(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/call" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		var body struct{ Number string }
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(session.CallState{CallID: "x", Phase: session.PhaseConnecting, To: body.Number})
	})

	st, err := c.Dial(context.Background(), "+15551234567")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if st.To != "+15551234567" || st.Phase != session.PhaseConnecting {
		t.Errorf("state = %+v", st)
	}
}

func TestStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"no active call"}`))
	})

	_, err := c.End(context.Background())
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.Code != http.StatusConflict || se.Message != "no active call" {
		t.Errorf("StatusError = %+v", se)
	}
}

func TestToggleMute(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/call/mute" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"muted":true}`))
	})
	muted, err := c.ToggleMute(context.Background())
	if err != nil || !muted {
		t.Errorf("ToggleMute() = %v, %v", muted, err)
	}
}

func TestCallsEncodesFilter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("direction") != "outbound" || q.Get("q") != "555" || q.Get("page") != "3" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if q.Has("status") || q.Has("page_size") {
			t.Errorf("empty fields sent: %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(history.Page{Total: 7, Page: 3, PageSize: 25})
	})

	page, err := c.Calls(context.Background(), history.Filter{Direction: "outbound", Query: "555", Page: 3})
	if err != nil {
		t.Fatalf("Calls: %v", err)
	}
	if page.Total != 7 || page.Page != 3 {
		t.Errorf("page = %+v", page)
	}
}

func TestIncomingNone(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	n, err := c.Incoming(context.Background())
	if err != nil || n != nil {
		t.Errorf("Incoming() = %+v, %v", n, err)
	}
}
