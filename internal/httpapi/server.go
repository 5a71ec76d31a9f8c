// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

// Package httpapi is the HTTP boundary of the authentication service. It
// owns routing, the response envelope, bearer authentication, request
// validation, and per-IP rate limiting. All domain decisions live in
// internal/auth; handlers translate between HTTP and the services.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/keyfold/keyfold/internal/auth"
	"github.com/keyfold/keyfold/internal/observability"
)

// Per-route-class rate limits, requests per minute per client IP.
const (
	mutationLimit = 5  // register, login, forgot, reset, change
	resetLimit    = 10 // reset-token validation probes
	readLimit     = 60 // bearer-token validation reads
)

// Server serves the authentication API over HTTP.
type Server struct {
	addr     string
	authSvc  *auth.Service
	resetSvc *auth.ResetService
	metrics  *observability.Metrics
	logger   *slog.Logger

	mutationLimiter *RateLimiter
	resetLimiter    *RateLimiter
	readLimiter     *RateLimiter

	httpServer *http.Server
	listener   net.Listener
	running    atomic.Bool
}

// ServerOption configures optional Server behavior.
type ServerOption func(*Server)

// WithMetrics wires request, login, and token counters. Without it the
// server runs unmetered.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithServerLogger sets the request logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates the API server. It does not start listening; call Start.
func NewServer(addr string, authSvc *auth.Service, resetSvc *auth.ResetService, opts ...ServerOption) (*Server, error) {
	if addr == "" {
		return nil, oops.Code("HTTP_CONFIG_INVALID").Errorf("listen address is required")
	}
	if authSvc == nil {
		return nil, oops.Code("HTTP_NIL_DEPENDENCY").Errorf("auth service is required")
	}
	if resetSvc == nil {
		return nil, oops.Code("HTTP_NIL_DEPENDENCY").Errorf("reset service is required")
	}

	s := &Server{
		addr:            addr,
		authSvc:         authSvc,
		resetSvc:        resetSvc,
		logger:          slog.Default(),
		mutationLimiter: NewRateLimiter(mutationLimit, time.Minute),
		resetLimiter:    NewRateLimiter(resetLimit, time.Minute),
		readLimiter:     NewRateLimiter(readLimit, time.Minute),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler returns the fully wired route handler. Exposed so tests can drive
// the server through httptest without a real listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public routes.
	mux.HandleFunc("POST /api/auth/register",
		s.rateLimit(s.mutationLimiter, "register", s.handleRegister))
	mux.HandleFunc("POST /api/auth/login",
		s.rateLimit(s.mutationLimiter, "login", s.handleLogin))
	mux.HandleFunc("POST /api/auth/password/forgot",
		s.rateLimit(s.mutationLimiter, "password_forgot", s.handleForgotPassword))
	mux.HandleFunc("POST /api/auth/password/validate-token",
		s.rateLimit(s.resetLimiter, "password_validate_token", s.handleValidateResetToken))
	mux.HandleFunc("POST /api/auth/password/reset",
		s.rateLimit(s.mutationLimiter, "password_reset", s.handleResetPassword))
	mux.HandleFunc("GET /api/auth/validate",
		s.rateLimit(s.readLimiter, "validate", s.handleValidate))
	mux.HandleFunc("GET /api/auth/user",
		s.rateLimit(s.readLimiter, "user", s.requireAuth(s.handleMe)))

	// Bearer-protected routes.
	mux.HandleFunc("POST /api/auth/logout", s.requireAuth(s.handleLogout))
	mux.HandleFunc("POST /api/auth/logout-all", s.requireAuth(s.handleLogoutAll))
	mux.HandleFunc("POST /api/auth/refresh", s.requireAuth(s.handleRefresh))
	mux.HandleFunc("GET /api/auth/me", s.requireAuth(s.handleMe))
	mux.HandleFunc("PUT /api/auth/profile", s.requireAuth(s.handleUpdateProfile))
	mux.HandleFunc("POST /api/auth/password/change",
		s.rateLimit(s.mutationLimiter, "password_change", s.requireAuth(s.handleChangePassword)))

	return s.logRequests(mux)
}

// Start begins serving in a background goroutine. The returned channel
// receives at most one error if the server stops unexpectedly.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Code("HTTP_ALREADY_RUNNING").Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("HTTP_LISTEN_FAILED").
			With("addr", s.addr).
			Wrap(err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- oops.Code("HTTP_SERVE_FAILED").Wrap(err)
		}
		close(errChan)
	}()

	s.logger.Info("api server listening", "addr", listener.Addr().String())
	return errChan, nil
}

// Stop gracefully shuts the server down, waiting for in-flight requests up
// to the context deadline. Idempotent.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.mutationLimiter.Close()
	s.resetLimiter.Close()
	s.readLimiter.Close()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return oops.Code("HTTP_SHUTDOWN_FAILED").Wrap(err)
	}
	return nil
}

// Addr returns the bound listen address, useful when the configured address
// had port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}
