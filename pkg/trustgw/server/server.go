// Package server exposes the trust and anonymization engines over an
// HTTP JSON API: relationship lifecycle management, trust resolution,
// and record sharing.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/intelmesh/trustgw/pkg/trustgw/config"
	"github.com/intelmesh/trustgw/pkg/trustgw/sharing"
	"github.com/intelmesh/trustgw/pkg/trustgw/store"
	"github.com/intelmesh/trustgw/pkg/trustgw/trust"
)

// Store is the persistence surface the API needs: relationship lookup
// and save plus group management.
type Store interface {
	trust.RelationshipStore
	store.GroupStore
}

// Server is the HTTP API server
type Server struct {
	cfg      config.ServerConfig
	store    Store
	levels   *trust.LevelRegistry
	resolver *trust.Resolver
	sharing  *sharing.Service
	hooks    *trust.DecisionHooks
	limiter  *RateLimiter

	httpServer *http.Server
}

// NewServer wires the API over the given collaborators. Hooks may be
// nil when no emitters are registered.
func NewServer(
	cfg config.ServerConfig,
	st Store,
	levels *trust.LevelRegistry,
	resolver *trust.Resolver,
	sharingSvc *sharing.Service,
	hooks *trust.DecisionHooks,
) (*Server, error) {
	limiter, err := NewRateLimiter(cfg.RateLimit, cfg.RateInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		store:    st,
		levels:   levels,
		resolver: resolver,
		sharing:  sharingSvc,
		hooks:    hooks,
		limiter:  limiter,
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/relationships", s.handleCreateRelationship).Methods(http.MethodPost)
	api.HandleFunc("/relationships/{id}", s.handleGetRelationship).Methods(http.MethodGet)
	api.HandleFunc("/relationships/{id}/approve", s.handleApprove).Methods(http.MethodPost)
	api.HandleFunc("/relationships/{id}/activate", s.handleActivate).Methods(http.MethodPost)
	api.HandleFunc("/relationships/{id}/suspend", s.handleSuspend).Methods(http.MethodPost)
	api.HandleFunc("/relationships/{id}/unsuspend", s.handleUnsuspend).Methods(http.MethodPost)
	api.HandleFunc("/relationships/{id}/revoke", s.handleRevoke).Methods(http.MethodPost)
	api.HandleFunc("/groups", s.handleCreateGroup).Methods(http.MethodPost)
	api.HandleFunc("/groups/{id}/members", s.handleAddMember).Methods(http.MethodPost)
	api.HandleFunc("/levels", s.handleListLevels).Methods(http.MethodGet)
	api.HandleFunc("/resolve", s.handleResolve).Methods(http.MethodGet)
	api.HandleFunc("/share", s.handleShare).Methods(http.MethodPost)
	api.HandleFunc("/share/bulk", s.handleShareBulk).Methods(http.MethodPost)

	var handler http.Handler = router
	handler = s.rateLimitMiddleware(handler)
	handler = s.loggingMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins serving. It blocks until the listener fails or the
// server is shut down.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("Starting trust API server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("trust API server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping trust API server")
	s.limiter.Stop()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}

// loggingMiddleware logs one line per request
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Dur("duration", time.Since(start)).
			Msg("Handled request")
	})
}

// rateLimitMiddleware rejects clients over their per-host budget
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !s.limiter.Allow(host) {
			log.Warn().Str("remote_addr", r.RemoteAddr).Msg("Request rate limited")
			s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(apiResponse{Success: false, Error: message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// writeDomainError maps domain errors onto HTTP status codes
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case trust.IsInvalidRelationship(err):
		s.writeError(w, http.StatusConflict, err.Error())
	case trust.IsConfiguration(err):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		log.Error().Err(err).Msg("Request failed")
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
