// Package api exposes the softphone over HTTP for the dashboard and phonectl.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sebas/agentphone/internal/softphone/history"
	"github.com/sebas/agentphone/internal/softphone/session"
)

// Phone is the call session the API drives.
// Implemented by session.Coordinator.
type Phone interface {
	State() session.CallState
	DeviceState() session.DeviceState
	Incoming() (session.IncomingCallNotice, bool)
	Answer(ctx context.Context) error
	Reject(ctx context.Context) error
	End(ctx context.Context) error
	ToggleMute(ctx context.Context) (bool, error)
	ToggleHold(ctx context.Context) (bool, error)
	MakeCall(ctx context.Context, number string) error
}

// History provides the call log.
// Implemented by history.Store.
type History interface {
	List(ctx context.Context, f history.Filter) (*history.Page, error)
	Stats(ctx context.Context) (history.Stats, error)
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status      string              `json:"status"`
	DeviceState session.DeviceState `json:"device_state"`
	Uptime      int64               `json:"uptime"`
}

// DialRequest is the body of POST /api/v1/call.
type DialRequest struct {
	Number string `json:"number"`
}

// ToggleResponse reports the new value of mute or hold.
type ToggleResponse struct {
	Muted  *bool `json:"muted,omitempty"`
	OnHold *bool `json:"on_hold,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server provides the HTTP API
type Server struct {
	addr       string
	httpServer *http.Server
	phone      Phone
	history    History
	metrics    http.Handler
	startTime  time.Time
	log        *slog.Logger
}

// NewServer creates the API server. metrics may be nil.
func NewServer(addr string, phone Phone, hist History, metrics http.Handler) *Server {
	s := &Server{
		addr:      addr,
		phone:     phone,
		history:   hist,
		metrics:   metrics,
		startTime: time.Now(),
		log:       slog.Default(),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/call", s.handleGetCall)
		r.Post("/call", s.handleDial)
		r.Post("/call/answer", s.handleAction(s.phone.Answer))
		r.Post("/call/reject", s.handleAction(s.phone.Reject))
		r.Post("/call/end", s.handleAction(s.phone.End))
		r.Post("/call/mute", s.handleMute)
		r.Post("/call/hold", s.handleHold)

		r.Get("/incoming", s.handleIncoming)

		r.Get("/calls", s.handleCalls)
		r.Get("/calls/stats", s.handleCallStats)
	})

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	return r
}

// Start begins listening for HTTP requests. It returns when the server
// stops; http.ErrServerClosed is not an error.
func (s *Server) Start() error {
	s.log.Info("[API] Starting HTTP API server", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.phone.DeviceState()
	status := "ok"
	if state != session.DeviceReady {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      status,
		DeviceState: state,
		Uptime:      int64(time.Since(s.startTime).Seconds()),
	})
}

// --- Call control ---

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	st := s.phone.State()
	if st.Phase == session.PhaseIdle {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDial(w http.ResponseWriter, r *http.Request) {
	var req DialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.phone.MakeCall(r.Context(), req.Number); err != nil {
		s.fail(w, "dial", err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.phone.State())
}

func (s *Server) handleAction(action func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := action(r.Context()); err != nil {
			s.fail(w, r.URL.Path, err)
			return
		}
		writeJSON(w, http.StatusOK, s.phone.State())
	}
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	muted, err := s.phone.ToggleMute(r.Context())
	if err != nil {
		s.fail(w, "mute", err)
		return
	}
	writeJSON(w, http.StatusOK, ToggleResponse{Muted: &muted})
}

func (s *Server) handleHold(w http.ResponseWriter, r *http.Request) {
	onHold, err := s.phone.ToggleHold(r.Context())
	if err != nil {
		s.fail(w, "hold", err)
		return
	}
	writeJSON(w, http.StatusOK, ToggleResponse{OnHold: &onHold})
}

func (s *Server) handleIncoming(w http.ResponseWriter, r *http.Request) {
	n, ok := s.phone.Incoming()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// --- History ---

func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history not configured")
		return
	}

	q := r.URL.Query()
	f := history.Filter{
		Direction: q.Get("direction"),
		Status:    q.Get("status"),
		Query:     q.Get("q"),
	}
	var err error
	if f.Page, err = intParam(q.Get("page")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid page")
		return
	}
	if f.PageSize, err = intParam(q.Get("page_size")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid page_size")
		return
	}

	page, err := s.history.List(r.Context(), f)
	if err != nil {
		if errors.Is(err, history.ErrInvalidFilter) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("[API] Listing calls failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleCallStats(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history not configured")
		return
	}
	st, err := s.history.Stats(r.Context())
	if err != nil {
		s.log.Error("[API] Call stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// --- Helpers ---

// StatusFor maps a session error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotReady), errors.Is(err, session.ErrDestroyed):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrNoActiveCall), errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidNumber):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrHoldUnsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	code := StatusFor(err)
	if code == http.StatusBadGateway {
		s.log.Error("[API] Call operation failed", "op", op, "error", err)
	} else {
		s.log.Debug("[API] Call operation refused", "op", op, "error", err)
	}
	writeError(w, code, err.Error())
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[API] Failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}
