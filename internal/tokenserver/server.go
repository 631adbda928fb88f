package tokenserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"
)

// TokenResponse is the body of a successful /api/token call.
type TokenResponse struct {
	Token       string    `json:"token"`
	Identity    string    `json:"identity"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Server provides the token HTTP API
type Server struct {
	cfg        *Config
	issuer     *Issuer
	httpServer *http.Server
	startTime  time.Time
	log        *slog.Logger
}

// NewServer creates a token server.
func NewServer(cfg *Config) *Server {
	s := &Server{
		cfg:       cfg,
		issuer:    NewIssuer(cfg),
		startTime: time.Now(),
		log:       slog.Default(),
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Issuer returns the token issuer.
func (s *Server) Issuer() *Issuer {
	return s.issuer
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/api/token", s.handleToken)
	r.Post("/api/token", s.handleToken)
	return r
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	s.log.Info("[TokenServer] Starting HTTP server", "addr", s.httpServer.Addr, "agents", len(s.cfg.Agents))
	if !s.cfg.Configured() {
		s.log.Warn("[TokenServer] No signing secret set, token requests will fail")
	}
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"configured": s.cfg.Configured(),
		"uptime":     int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Configured() {
		writeError(w, http.StatusInternalServerError, ErrNotConfigured.Error())
		return
	}

	agent, ok := s.authenticate(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="agentphone"`)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, exp, err := s.issuer.Issue(agent.Username)
	if err != nil {
		s.log.Error("[TokenServer] Failed to issue token", "identity", agent.Username, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	s.log.Info("[TokenServer] Issued token", "identity", agent.Username, "expires_at", exp)
	writeJSON(w, http.StatusOK, TokenResponse{
		Token:       token,
		Identity:    agent.Username,
		PhoneNumber: agent.PhoneNumber,
		ExpiresAt:   exp,
	})
}

func (s *Server) authenticate(r *http.Request) (Agent, bool) {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return Agent{}, false
	}
	agent, found := s.cfg.agent(user)
	if !found {
		return Agent{}, false
	}
	if err := bcrypt.CompareHashAndPassword([]byte(agent.PasswordHash), []byte(pass)); err != nil {
		s.log.Debug("[TokenServer] Password mismatch", "username", user)
		return Agent{}, false
	}
	return agent, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
