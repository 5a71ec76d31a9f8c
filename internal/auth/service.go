// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyfold/keyfold/pkg/errutil"
)

// dummyPasswordHash is used when a user doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Service provides authentication operations: login, registration, token
// issue/validate/revoke, profile updates, and password changes.
type Service struct {
	users  UserRepository
	tokens AccessTokenRepository
	hasher PasswordHasher
	audit  AuditRecorder
	logger *slog.Logger

	// singleSession revokes all prior tokens on login. Off by default:
	// a user may hold any number of concurrently valid tokens.
	singleSession bool
}

// ServiceOption configures optional Service behavior.
type ServiceOption func(*Service)

// WithSingleSession makes login revoke every prior token, so at most one
// session is valid at a time.
func WithSingleSession() ServiceOption {
	return func(s *Service) { s.singleSession = true }
}

// WithLogger sets the structured logger used for best-effort failures.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a new Service.
func NewService(users UserRepository, tokens AccessTokenRepository, hasher PasswordHasher, audit AuditRecorder, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, oops.Code("AUTH_NIL_DEPENDENCY").Errorf("users repository is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_NIL_DEPENDENCY").Errorf("tokens repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_NIL_DEPENDENCY").Errorf("password hasher is required")
	}
	if audit == nil {
		return nil, oops.Code("AUTH_NIL_DEPENDENCY").Errorf("audit recorder is required")
	}

	s := &Service{
		users:  users,
		tokens: tokens,
		hasher: hasher,
		audit:  audit,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		return nil, oops.Code("AUTH_NIL_DEPENDENCY").Errorf("logger cannot be nil")
	}
	return s, nil
}

// Login authenticates a user by email and password and mints a new access
// token. Returns the user, the token record, and the plaintext secret.
// Uses constant-time operations to prevent timing-based email enumeration.
// Bad credentials yield an AUTH_INVALID_CREDENTIALS error, never a hint of
// which part was wrong.
func (s *Service) Login(ctx context.Context, email, password, ipAddress, userAgent string) (*User, *AccessToken, string, error) {
	email = NormalizeEmail(email)
	user, lookupErr := s.users.GetByEmail(ctx, email)

	// Determine which hash to verify against (real or dummy for timing attack prevention)
	var targetHash string
	var userExists bool

	if lookupErr != nil {
		if errors.Is(lookupErr, ErrNotFound) {
			targetHash = dummyPasswordHash
			userExists = false
		} else {
			return nil, nil, "", oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get user by email").
				Wrap(lookupErr)
		}
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	// Always verify the password, even against the dummy hash.
	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if !userExists {
			return nil, nil, "", s.failLogin(ctx, nil, email, ipAddress, userAgent, "unknown email")
		}
		return nil, nil, "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}

	if !userExists {
		return nil, nil, "", s.failLogin(ctx, nil, email, ipAddress, userAgent, "unknown email")
	}
	if !valid {
		return nil, nil, "", s.failLogin(ctx, &user.ID, email, ipAddress, userAgent, "password mismatch")
	}

	// Transparent rehash for hashes minted under an older scheme. Login
	// succeeds even if the upgrade write fails.
	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		if newHash, hashErr := s.hasher.Hash(password); hashErr == nil {
			if err := s.users.UpdatePassword(ctx, user.ID, newHash); err == nil {
				user.PasswordHash = newHash
			}
		}
	}

	if s.singleSession {
		if err := s.tokens.DeleteByUser(ctx, user.ID); err != nil {
			return nil, nil, "", oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "revoke prior tokens").
				Wrap(err)
		}
	}

	token, secret, err := s.IssueToken(ctx, user.ID)
	if err != nil {
		return nil, nil, "", err
	}

	s.record(ctx, AuditEntry{
		Event:     AuditLogin,
		UserID:    &user.ID,
		Email:     email,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Success:   true,
	})

	return user, token, secret, nil
}

// failLogin records a failed attempt and returns the generic credentials
// error. The caller-visible outcome is identical for unknown emails and
// password mismatches.
func (s *Service) failLogin(ctx context.Context, userID *ulid.ULID, email, ipAddress, userAgent, reason string) error {
	s.record(ctx, AuditEntry{
		Event:     AuditLogin,
		UserID:    userID,
		Email:     email,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Success:   false,
		Detail:    reason,
	})
	return oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid email or password")
}

// Register creates a new user. The password is policy-checked and persisted
// as a hash only. Duplicate emails surface as an AUTH_EMAIL_CONFLICT error
// backed by the store's unique constraint, not a pre-check.
func (s *Service) Register(ctx context.Context, name, email, password string) (*User, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user, err := NewUser(name, email, hash)
	if err != nil {
		return nil, err
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, oops.Code("AUTH_EMAIL_CONFLICT").
				With("email", user.Email).
				Wrap(err)
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	s.record(ctx, AuditEntry{
		Event:   AuditRegister,
		UserID:  &user.ID,
		Email:   user.Email,
		Success: true,
	})

	return user, nil
}

// IssueToken mints a new access token for a user with the default abilities
// and the fixed 24h TTL. Returns the record and the plaintext secret, which
// is never persisted in recoverable form.
func (s *Service) IssueToken(ctx context.Context, userID ulid.ULID) (*AccessToken, string, error) {
	secret, hash, err := GenerateAccessSecret()
	if err != nil {
		return nil, "", oops.Code("TOKEN_ISSUE_FAILED").
			With("operation", "generate secret").
			Wrap(err)
	}

	token, err := NewAccessToken(userID, hash, DefaultAbilities(), time.Now().Add(AccessTokenExpiry))
	if err != nil {
		return nil, "", oops.Code("TOKEN_ISSUE_FAILED").
			With("operation", "build token").
			Wrap(err)
	}

	if err := s.tokens.Create(ctx, token); err != nil {
		return nil, "", oops.Code("TOKEN_ISSUE_FAILED").
			With("operation", "persist token").
			Wrap(err)
	}

	return token, secret, nil
}

// ValidateToken validates a bearer secret and returns the token record if it
// exists and is unexpired. Bumps LastUsedAt best effort.
func (s *Service) ValidateToken(ctx context.Context, secret string) (*AccessToken, error) {
	if secret == "" {
		return nil, oops.Code("TOKEN_EMPTY").Errorf("token cannot be empty")
	}

	tokenHash := HashAccessSecret(secret)

	token, err := s.tokens.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("TOKEN_INVALID").Errorf("invalid token")
		}
		return nil, oops.Code("TOKEN_VALIDATE_FAILED").
			With("operation", "get token by hash").
			Wrap(err)
	}

	if token.IsExpired() {
		return nil, oops.Code("TOKEN_EXPIRED").Errorf("token has expired")
	}

	now := time.Now()
	if err := s.tokens.UpdateLastUsed(ctx, token.ID, now); err != nil {
		errutil.LogError(s.logger, "failed to update token last_used_at", err)
	} else {
		token.LastUsedAt = now
	}

	return token, nil
}

// GetUser retrieves a user by ID.
func (s *Service) GetUser(ctx context.Context, id ulid.ULID) (*User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("USER_NOT_FOUND").
				With("id", id.String()).
				Wrap(err)
		}
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// Logout revokes exactly the token presented with the current request. The
// boundary passes the token ID explicitly; the service never reaches into
// ambient request state. Idempotent: revoking an already-absent token is not
// an error.
func (s *Service) Logout(ctx context.Context, userID, tokenID ulid.ULID) error {
	if err := s.tokens.Delete(ctx, tokenID); err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "delete token").
			With("token_id", tokenID.String()).
			Wrap(err)
	}

	s.record(ctx, AuditEntry{
		Event:   AuditLogout,
		UserID:  &userID,
		Success: true,
	})
	return nil
}

// LogoutAll revokes every access token owned by the user. Used directly and
// by the password-change and reset flows.
func (s *Service) LogoutAll(ctx context.Context, userID ulid.ULID) error {
	if err := s.tokens.DeleteByUser(ctx, userID); err != nil {
		return oops.Code("AUTH_LOGOUT_ALL_FAILED").
			With("operation", "delete tokens by user").
			With("user_id", userID.String()).
			Wrap(err)
	}

	s.record(ctx, AuditEntry{
		Event:   AuditTokenRevokeAll,
		UserID:  &userID,
		Success: true,
	})
	return nil
}

// RefreshToken mints a replacement token with a fresh 24h TTL and revokes the
// current one. The new token is created first so the user is never left with
// zero valid tokens; a failed revoke of the old token is surfaced, not
// swallowed.
func (s *Service) RefreshToken(ctx context.Context, userID, currentTokenID ulid.ULID) (*AccessToken, string, error) {
	token, secret, err := s.IssueToken(ctx, userID)
	if err != nil {
		return nil, "", err
	}

	if err := s.tokens.Delete(ctx, currentTokenID); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, "", oops.Code("TOKEN_REFRESH_FAILED").
			With("operation", "revoke current token").
			With("token_id", currentTokenID.String()).
			Wrap(err)
	}

	s.record(ctx, AuditEntry{
		Event:   AuditTokenRefresh,
		UserID:  &userID,
		Success: true,
	})

	return token, secret, nil
}

// UpdateProfile applies only the supplied fields. Email must remain globally
// unique; a collision surfaces as AUTH_EMAIL_CONFLICT. Does not revoke
// tokens.
func (s *Service) UpdateProfile(ctx context.Context, user *User, update ProfileUpdate) (*User, error) {
	if update.Name == nil && update.Email == nil {
		return user, nil
	}

	if update.Name != nil {
		if err := ValidateName(*update.Name); err != nil {
			return nil, err
		}
		user.Name = strings.TrimSpace(*update.Name)
	}
	if update.Email != nil {
		if err := ValidateEmail(*update.Email); err != nil {
			return nil, err
		}
		user.Email = NormalizeEmail(*update.Email)
	}
	user.UpdatedAt = time.Now()

	if err := s.users.Update(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, oops.Code("AUTH_EMAIL_CONFLICT").
				With("email", user.Email).
				Wrap(err)
		}
		return nil, oops.Code("USER_UPDATE_FAILED").
			With("operation", "update profile").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	return user, nil
}

// ChangePassword verifies the current password and, on success, stores the
// new hash and revokes every outstanding token. Returns (false, nil) on a
// current-password mismatch - a domain outcome, not an error. The new
// password must differ from the current one and satisfy the strength policy.
func (s *Service) ChangePassword(ctx context.Context, user *User, currentPassword, newPassword string) (bool, error) {
	valid, err := s.hasher.Verify(currentPassword, user.PasswordHash)
	if err != nil {
		return false, oops.Code("AUTH_PASSWORD_CHANGE_FAILED").
			With("operation", "verify current password").
			Wrap(err)
	}
	if !valid {
		s.record(ctx, AuditEntry{
			Event:   AuditPasswordChange,
			UserID:  &user.ID,
			Email:   user.Email,
			Success: false,
			Detail:  "current password mismatch",
		})
		return false, nil
	}

	if newPassword == currentPassword {
		return false, oops.Code("AUTH_PASSWORD_UNCHANGED").Errorf("new password must differ from current password")
	}
	if err := ValidatePassword(newPassword); err != nil {
		return false, err
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return false, oops.Code("AUTH_PASSWORD_CHANGE_FAILED").
			With("operation", "hash new password").
			Wrap(err)
	}

	if err := s.users.UpdatePassword(ctx, user.ID, newHash); err != nil {
		return false, oops.Code("AUTH_PASSWORD_CHANGE_FAILED").
			With("operation", "update password").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	user.PasswordHash = newHash

	if err := s.LogoutAll(ctx, user.ID); err != nil {
		return false, err
	}

	s.record(ctx, AuditEntry{
		Event:   AuditPasswordChange,
		UserID:  &user.ID,
		Email:   user.Email,
		Success: true,
	})

	return true, nil
}

// record appends an audit entry, logging failures instead of surfacing them.
func (s *Service) record(ctx context.Context, entry AuditEntry) {
	if entry.AttemptedAt.IsZero() {
		entry.AttemptedAt = time.Now()
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		errutil.LogError(s.logger, "failed to record audit entry", err)
	}
}
