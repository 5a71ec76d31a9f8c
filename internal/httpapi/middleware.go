// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package httpapi

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/keyfold/keyfold/internal/auth"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal is the authenticated caller: the user plus the exact token the
// request presented. Handlers that revoke "this session" need the token ID,
// so it travels with the user instead of being re-derived from headers.
type Principal struct {
	User  *auth.User
	Token *auth.AccessToken
}

// PrincipalFromContext returns the authenticated principal, or nil outside
// the bearer middleware.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, ok := ctx.Value(principalKey).(*Principal)
	if !ok {
		return nil
	}
	return p
}

// bearerSecret extracts the bearer token from the Authorization header.
// Returns "" when the header is missing or malformed.
func bearerSecret(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// requireAuth validates the bearer token, loads its user, and passes the
// principal to the handler via context. Every failure mode gets the same
// generic 401.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		secret := bearerSecret(r)
		if secret == "" {
			respondError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}

		token, err := s.authSvc.ValidateToken(r.Context(), secret)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}

		user, err := s.authSvc.GetUser(r.Context(), token.UserID)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, &Principal{User: user, Token: token})
		next(w, r.WithContext(ctx))
	}
}

// rateLimit rejects requests over the limiter's window budget with 429 and a
// Retry-After header. Keys on client IP.
func (s *Server) rateLimit(limiter *RateLimiter, route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := limiter.Allow(clientIP(r))
		if !allowed {
			if s.metrics != nil {
				s.metrics.RateLimitedTotal.WithLabelValues(route).Inc()
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			respondError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next(w, r)
	}
}

// clientIP returns the remote host without the port. RemoteAddr is trusted
// as-is; forwarding headers are a deployment concern for the proxy in front.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

// logRequests wraps the whole mux with request logging and the per-route
// request counter.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		if s.metrics != nil {
			s.metrics.RequestsTotal.WithLabelValues(r.URL.Path, strconv.Itoa(rec.status)).Inc()
		}
		s.logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", clientIP(r),
		)
	})
}
