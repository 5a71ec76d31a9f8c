// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/keyfold/keyfold/pkg/errutil"
)

// Dispatcher delivers reset tokens out of band. Failures are logged, never
// surfaced to the requester, so delivery problems cannot leak whether the
// email is registered.
type Dispatcher interface {
	SendPasswordReset(ctx context.Context, email, token string) error
}

// ResetService handles the password reset flow: request, validate, redeem.
type ResetService struct {
	users   UserRepository
	tickets ResetTicketRepository
	hasher  PasswordHasher
	tokens  AccessTokenRepository
	mailer  Dispatcher
	audit   AuditRecorder
	logger  *slog.Logger
}

// NewResetService creates a new ResetService.
func NewResetService(
	users UserRepository,
	tickets ResetTicketRepository,
	tokens AccessTokenRepository,
	hasher PasswordHasher,
	mailer Dispatcher,
	audit AuditRecorder,
	logger *slog.Logger,
) (*ResetService, error) {
	if users == nil {
		return nil, oops.Code("RESET_NIL_DEPENDENCY").Errorf("users repository is required")
	}
	if tickets == nil {
		return nil, oops.Code("RESET_NIL_DEPENDENCY").Errorf("tickets repository is required")
	}
	if tokens == nil {
		return nil, oops.Code("RESET_NIL_DEPENDENCY").Errorf("tokens repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("RESET_NIL_DEPENDENCY").Errorf("password hasher is required")
	}
	if mailer == nil {
		return nil, oops.Code("RESET_NIL_DEPENDENCY").Errorf("mail dispatcher is required")
	}
	if audit == nil {
		return nil, oops.Code("RESET_NIL_DEPENDENCY").Errorf("audit recorder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ResetService{
		users:   users,
		tickets: tickets,
		tokens:  tokens,
		hasher:  hasher,
		mailer:  mailer,
		audit:   audit,
		logger:  logger,
	}, nil
}

// RequestReset requests a password reset for an email. The external outcome
// is identical whether or not the email is registered: nil. Internally, if
// the user exists, a fresh ticket supersedes any outstanding one and the
// plaintext token goes to the dispatcher. Lookup and delivery failures are
// logged, never returned, to keep the anti-enumeration contract airtight.
func (s *ResetService) RequestReset(ctx context.Context, email string) error {
	email = NormalizeEmail(email)

	_, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			errutil.LogError(s.logger, "reset request lookup failed", err)
		}
		return nil
	}

	token, hash, err := GenerateResetToken()
	if err != nil {
		errutil.LogError(s.logger, "reset token generation failed", err)
		return nil
	}

	ticket, err := NewResetTicket(email, hash, time.Now().Add(ResetTicketExpiry))
	if err != nil {
		errutil.LogError(s.logger, "reset ticket construction failed", err)
		return nil
	}

	if err := s.tickets.Replace(ctx, ticket); err != nil {
		errutil.LogError(s.logger, "reset ticket persistence failed", err)
		return nil
	}

	if err := s.mailer.SendPasswordReset(ctx, email, token); err != nil {
		errutil.LogError(s.logger, "reset email dispatch failed", err)
	}

	return nil
}

// ValidateToken reports whether an unexpired ticket exists for the email
// whose hash matches the presented token. Read-only; does not consume the
// ticket. Redemption uses the same matching rule so the two paths cannot
// drift.
func (s *ResetService) ValidateToken(ctx context.Context, email, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	email = NormalizeEmail(email)

	ticket, err := s.tickets.GetByEmailAndHash(ctx, email, HashResetToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, oops.Code("RESET_VALIDATE_FAILED").
			With("operation", "get ticket").
			Wrap(err)
	}

	if ticket.IsExpired() {
		return false, nil
	}
	return VerifyResetToken(token, ticket.TokenHash), nil
}

// ResetPassword redeems a ticket and sets a new password. The redemption is
// an atomic conditional delete, so under concurrent requests with the same
// token exactly one caller wins; the rest observe RESET_TOKEN_INVALID. On
// success the user's password hash is replaced and every access token is
// revoked.
func (s *ResetService) ResetPassword(ctx context.Context, email, token, newPassword string) error {
	email = NormalizeEmail(email)
	if token == "" {
		return oops.Code("RESET_TOKEN_INVALID").Errorf("invalid or expired reset token")
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Same outcome as a bad token: no hint that the email is
			// unregistered.
			return oops.Code("RESET_TOKEN_INVALID").Errorf("invalid or expired reset token")
		}
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	redeemed, err := s.tickets.Redeem(ctx, email, HashResetToken(token))
	if err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "redeem ticket").
			Wrap(err)
	}
	if !redeemed {
		s.recordReset(ctx, user, email, false, "invalid or expired ticket")
		return oops.Code("RESET_TOKEN_INVALID").Errorf("invalid or expired reset token")
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "hash new password").
			Wrap(err)
	}

	if err := s.users.UpdatePassword(ctx, user.ID, newHash); err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "update password").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	// Revoke every outstanding token; a reset proves control of the email,
	// not of existing sessions.
	if err := s.tokens.DeleteByUser(ctx, user.ID); err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "revoke tokens").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	s.recordReset(ctx, user, email, true, "")
	return nil
}

func (s *ResetService) recordReset(ctx context.Context, user *User, email string, success bool, detail string) {
	entry := AuditEntry{
		Event:       AuditPasswordReset,
		Email:       email,
		Success:     success,
		Detail:      detail,
		AttemptedAt: time.Now(),
	}
	if user != nil {
		entry.UserID = &user.ID
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		errutil.LogError(s.logger, "failed to record audit entry", err)
	}
}
