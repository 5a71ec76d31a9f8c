// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package httpapi

import (
	"net/http"

	"github.com/keyfold/keyfold/internal/auth"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := req.validate(); !errs.ok() {
		respondFieldErrors(w, "validation failed", errs)
		return
	}

	user, err := s.authSvc.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}

	// The first token is minted with the account so the client can act
	// immediately without a follow-up login.
	token, secret, err := s.authSvc.IssueToken(r.Context(), user.ID)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}

	if s.metrics != nil {
		s.metrics.RegistrationsTotal.Inc()
		s.metrics.TokensIssuedTotal.Inc()
	}

	respondData(w, http.StatusCreated, "account created", map[string]any{
		"user":  newUserPayload(user),
		"token": newTokenPayload(token, secret),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := req.validate(); !errs.ok() {
		respondFieldErrors(w, "validation failed", errs)
		return
	}

	user, token, secret, err := s.authSvc.Login(r.Context(), req.Email, req.Password, clientIP(r), r.UserAgent())
	if err != nil {
		if s.metrics != nil {
			s.metrics.LoginsTotal.WithLabelValues("failure").Inc()
		}
		s.respondDomainError(w, r, err)
		return
	}

	if s.metrics != nil {
		s.metrics.LoginsTotal.WithLabelValues("success").Inc()
		s.metrics.TokensIssuedTotal.Inc()
	}

	respondData(w, http.StatusOK, "logged in", map[string]any{
		"user":  newUserPayload(user),
		"token": newTokenPayload(token, secret),
	})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := req.validate(); !errs.ok() {
		respondFieldErrors(w, "validation failed", errs)
		return
	}

	if err := s.resetSvc.RequestReset(r.Context(), req.Email); err != nil {
		s.respondDomainError(w, r, err)
		return
	}

	if s.metrics != nil {
		s.metrics.ResetRequestsTotal.Inc()
	}

	// Identical response for registered and unregistered emails.
	respondMessage(w, http.StatusOK, "if the email is registered, a reset link has been sent")
}

func (s *Server) handleValidateResetToken(w http.ResponseWriter, r *http.Request) {
	var req validateResetTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := req.validate(); !errs.ok() {
		respondFieldErrors(w, "validation failed", errs)
		return
	}

	valid, err := s.resetSvc.ValidateToken(r.Context(), req.Email, req.Token)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}

	respondData(w, http.StatusOK, "token checked", map[string]any{"valid": valid})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := req.validate(); !errs.ok() {
		respondFieldErrors(w, "validation failed", errs)
		return
	}

	if err := s.resetSvc.ResetPassword(r.Context(), req.Email, req.Token, req.Password); err != nil {
		if s.metrics != nil {
			s.metrics.ResetsRedeemedTotal.WithLabelValues("failure").Inc()
		}
		s.respondDomainError(w, r, err)
		return
	}

	if s.metrics != nil {
		s.metrics.ResetsRedeemedTotal.WithLabelValues("success").Inc()
	}

	respondMessage(w, http.StatusOK, "password has been reset")
}

// handleValidate reports whether the presented bearer token is currently
// valid. A bad or missing token is a 401, not a 200 with valid=false, so
// clients can treat the status code alone as the answer.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	secret := bearerSecret(r)
	if secret == "" {
		respondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	token, err := s.authSvc.ValidateToken(r.Context(), secret)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}

	respondData(w, http.StatusOK, "token is valid", map[string]any{
		"valid":      true,
		"user_id":    token.UserID.String(),
		"abilities":  token.Abilities.Strings(),
		"expires_at": token.ExpiresAt,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	respondData(w, http.StatusOK, "user retrieved", map[string]any{
		"user": newUserPayload(p.User),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	if err := s.authSvc.Logout(r.Context(), p.User.ID, p.Token.ID); err != nil {
		s.respondDomainError(w, r, err)
		return
	}

	if s.metrics != nil {
		s.metrics.TokensRevokedTotal.WithLabelValues("logout").Inc()
	}
	respondMessage(w, http.StatusOK, "logged out")
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	if err := s.authSvc.LogoutAll(r.Context(), p.User.ID); err != nil {
		s.respondDomainError(w, r, err)
		return
	}

	if s.metrics != nil {
		s.metrics.TokensRevokedTotal.WithLabelValues("logout_all").Inc()
	}
	respondMessage(w, http.StatusOK, "logged out everywhere")
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	token, secret, err := s.authSvc.RefreshToken(r.Context(), p.User.ID, p.Token.ID)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}

	if s.metrics != nil {
		s.metrics.TokensIssuedTotal.Inc()
		s.metrics.TokensRevokedTotal.WithLabelValues("refresh").Inc()
	}

	respondData(w, http.StatusOK, "token refreshed", map[string]any{
		"token": newTokenPayload(token, secret),
	})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := req.validate(); !errs.ok() {
		respondFieldErrors(w, "validation failed", errs)
		return
	}

	p := PrincipalFromContext(r.Context())
	user, err := s.authSvc.UpdateProfile(r.Context(), p.User, auth.ProfileUpdate{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}

	respondData(w, http.StatusOK, "profile updated", map[string]any{
		"user": newUserPayload(user),
	})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := req.validate(); !errs.ok() {
		respondFieldErrors(w, "validation failed", errs)
		return
	}

	p := PrincipalFromContext(r.Context())
	changed, err := s.authSvc.ChangePassword(r.Context(), p.User, req.CurrentPassword, req.Password)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	if !changed {
		// Wrong current password is a domain outcome, not a validation
		// failure, and must not reveal more than that.
		respondError(w, http.StatusBadRequest, "current password is incorrect")
		return
	}

	if s.metrics != nil {
		s.metrics.TokensRevokedTotal.WithLabelValues("password_change").Inc()
	}
	respondMessage(w, http.StatusOK, "password changed; all sessions have been logged out")
}
