// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/samber/oops"

	"github.com/keyfold/keyfold/internal/auth"
)

// Envelope is the uniform response body for every endpoint. Data and Errors
// are mutually exclusive in practice but the shape never changes, so clients
// can decode blindly.
type Envelope struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Data    any                 `json:"data,omitempty"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

func respond(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encoding an Envelope cannot fail; the write itself can, but there is
	// nothing useful to do about a dead client here.
	_ = json.NewEncoder(w).Encode(env)
}

func respondData(w http.ResponseWriter, status int, message string, data any) {
	respond(w, status, Envelope{Success: true, Message: message, Data: data})
}

func respondMessage(w http.ResponseWriter, status int, message string) {
	respond(w, status, Envelope{Success: true, Message: message})
}

func respondFieldErrors(w http.ResponseWriter, message string, errs map[string][]string) {
	respond(w, http.StatusUnprocessableEntity, Envelope{Success: false, Message: message, Errors: errs})
}

func respondError(w http.ResponseWriter, status int, message string) {
	respond(w, status, Envelope{Success: false, Message: message})
}

// fieldForCode maps domain validation codes to the request field they fault.
var fieldForCode = map[string]string{
	"USER_INVALID_NAME":   "name",
	"USER_INVALID_EMAIL":  "email",
	"AUTH_WEAK_PASSWORD":  "password",
	"AUTH_EMPTY_PASSWORD": "password",
}

// respondDomainError translates a service error into an HTTP response.
// Unexpected errors collapse to a generic 500; the full detail is logged
// server-side only, so store internals never leak to clients.
func (s *Server) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		s.logger.ErrorContext(r.Context(), "unexpected error", "error", err)
		respondError(w, http.StatusInternalServerError, "an unexpected error occurred")
		return
	}

	code, _ := oopsErr.Code().(string)
	if field, isValidation := fieldForCode[code]; isValidation {
		respondFieldErrors(w, "validation failed", map[string][]string{
			field: {oopsErr.Error()},
		})
		return
	}

	switch code {
	case "AUTH_INVALID_CREDENTIALS":
		respondError(w, http.StatusUnauthorized, "invalid email or password")
	case "TOKEN_EMPTY", "TOKEN_INVALID", "TOKEN_EXPIRED":
		respondError(w, http.StatusUnauthorized, "unauthenticated")
	case "AUTH_EMAIL_CONFLICT":
		respond(w, http.StatusConflict, Envelope{
			Success: false,
			Message: "email already in use",
			Errors:  map[string][]string{"email": {"email already in use"}},
		})
	case "AUTH_PASSWORD_UNCHANGED":
		respondFieldErrors(w, "validation failed", map[string][]string{
			"password": {"new password must differ from current password"},
		})
	case "RESET_TOKEN_INVALID":
		respondError(w, http.StatusBadRequest, "invalid or expired reset token")
	default:
		s.logger.ErrorContext(r.Context(), "request failed",
			slog.String("code", code),
			slog.String("error", oopsErr.Error()),
		)
		respondError(w, http.StatusInternalServerError, "an unexpected error occurred")
	}
}

// userPayload is the client-facing projection of a user. The password hash
// never crosses the boundary.
type userPayload struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newUserPayload(u *auth.User) userPayload {
	return userPayload{
		ID:        u.ID.String(),
		Name:      u.Name,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// tokenPayload carries a freshly minted token. Token is the plaintext secret;
// it appears exactly once, in the response that mints it.
type tokenPayload struct {
	Token     string    `json:"token"`
	TokenID   string    `json:"token_id"`
	Abilities []string  `json:"abilities"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newTokenPayload(t *auth.AccessToken, secret string) tokenPayload {
	return tokenPayload{
		Token:     secret,
		TokenID:   t.ID.String(),
		Abilities: t.Abilities.Strings(),
		ExpiresAt: t.ExpiresAt,
	}
}
