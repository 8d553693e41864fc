// Package api exposes the management surface: session inspection, policy
// administration, confirmation resolution, report export, and the live
// per-session event feed over WebSocket.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sentinelsec/sentinel/internal/auth"
	"github.com/sentinelsec/sentinel/internal/config"
	"github.com/sentinelsec/sentinel/internal/confirm"
	"github.com/sentinelsec/sentinel/internal/pipeline"
)

// Server is the management API server.
type Server struct {
	config       config.ServerConfig
	core         *pipeline.Core
	cfgLoader    *config.Loader
	confirms     *confirm.Queue
	tokenManager *auth.TokenManager
	wsHub        *WebSocketHub
	mux          *http.ServeMux
	httpServer   *http.Server
	logger       *slog.Logger
}

// NewServer creates a new management API server.
func NewServer(
	cfg config.ServerConfig,
	core *pipeline.Core,
	cfgLoader *config.Loader,
	confirms *confirm.Queue,
	tokenManager *auth.TokenManager,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:       cfg,
		core:         core,
		cfgLoader:    cfgLoader,
		confirms:     confirms,
		tokenManager: tokenManager,
		wsHub:        NewWebSocketHub(core.Events, logger, cfg.CORS),
		mux:          http.NewServeMux(),
		logger:       logger.With("component", "api.Server"),
	}

	s.registerRoutes()
	return s
}

// authRequired wraps a handler with token-based authentication. If auth is
// disabled in config, the handler is returned unwrapped with no overhead.
func (s *Server) authRequired(action string, next http.HandlerFunc) http.HandlerFunc {
	if !s.config.Auth.Enabled || s.tokenManager == nil {
		return next
	}

	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing or malformed Authorization header")
			return
		}
		secret := strings.TrimPrefix(header, "Bearer ")

		token, err := s.tokenManager.ValidateToken(secret, r.RemoteAddr)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		if !auth.HasPermission(token.Role, action) {
			writeError(w, http.StatusForbidden, "insufficient permissions")
			return
		}

		next(w, r)
	}
}

func (s *Server) registerRoutes() {
	// Sessions
	s.mux.HandleFunc("GET /api/sessions", s.authRequired("session.read", s.handleListSessions))
	s.mux.HandleFunc("GET /api/sessions/{id}", s.authRequired("session.read", s.handleGetSession))
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.authRequired("session.write", s.handleTerminateSession))

	// Pipeline operations
	s.mux.HandleFunc("POST /api/sessions/{id}/actions", s.authRequired("evaluate", s.handleEvaluateAction))
	s.mux.HandleFunc("POST /api/sessions/{id}/page", s.authRequired("evaluate", s.handlePageLoad))
	s.mux.HandleFunc("POST /api/sessions/{id}/feedback", s.authRequired("evaluate", s.handleFeedback))

	// Forensics and reporting
	s.mux.HandleFunc("GET /api/sessions/{id}/report", s.authRequired("report.read", s.handleExportReport))
	s.mux.HandleFunc("GET /api/sessions/{id}/timeline", s.authRequired("report.read", s.handleTimeline))
	s.mux.HandleFunc("GET /api/sessions/{id}/moments", s.authRequired("report.read", s.handleMoments))
	s.mux.HandleFunc("GET /api/sessions/{id}/events", s.authRequired("events.read", s.handleEventHistory))
	s.mux.HandleFunc("GET /api/sessions/{id}/metrics", s.authRequired("session.read", s.handleSessionMetrics))
	s.mux.HandleFunc("GET /api/sessions/{id}/traps", s.authRequired("session.read", s.handleListTraps))

	// Policies
	s.mux.HandleFunc("GET /api/policy/{scope}", s.authRequired("policy.read", s.handleGetPolicy))
	s.mux.HandleFunc("PUT /api/policy/{scope}", s.authRequired("policy.write", s.handleSetPolicy))

	// Confirmations
	s.mux.HandleFunc("POST /api/sessions/{id}/confirmations", s.authRequired("evaluate", s.handleRequestConfirmation))
	s.mux.HandleFunc("GET /api/confirmations", s.authRequired("session.read", s.handleListConfirmations))
	s.mux.HandleFunc("POST /api/confirmations/{id}/approve", s.authRequired("confirm.resolve", s.handleApproveConfirmation))
	s.mux.HandleFunc("POST /api/confirmations/{id}/deny", s.authRequired("confirm.resolve", s.handleDenyConfirmation))

	// Config
	s.mux.HandleFunc("POST /api/config/reload", s.authRequired("config.change", s.handleReloadConfig))

	// System — health is always public
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/stats", s.authRequired("session.read", s.handleStats))

	// WebSocket
	s.mux.HandleFunc("GET /api/ws/events", s.wsHub.HandleWebSocket)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	if s.config.CORS {
		return corsMiddleware(s.mux)
	}
	return s.mux
}

// Start starts the API server on the given address.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("management API listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsHub.Close()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers for development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Mux returns the underlying ServeMux for mounting additional routes.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// APIAddr makes a listen address from a port.
func APIAddr(port int) string {
	return fmt.Sprintf(":%d", port)
}
