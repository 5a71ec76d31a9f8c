// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Reset ticket configuration.
const (
	ResetTokenBytes   = 32        // 32 bytes = 64 hex chars, >= 128 bits entropy
	ResetTicketExpiry = time.Hour // 1 hour expiry
)

// ResetTicket represents one outstanding password reset request. It is bound
// to an email rather than a user ID so the record carries no proof that the
// address is registered. Only the SHA-256 hash of the token is persisted.
type ResetTicket struct {
	ID        ulid.ULID
	Email     string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewResetTicket creates a validated ResetTicket.
func NewResetTicket(email, tokenHash string, expiresAt time.Time) (*ResetTicket, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if tokenHash == "" {
		return nil, oops.Code("RESET_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("RESET_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}

	return &ResetTicket{
		ID:        ulid.Make(),
		Email:     NormalizeEmail(email),
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}, nil
}

// IsExpired returns true if the ticket has expired.
func (t *ResetTicket) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// GenerateResetToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error).
// The plaintext goes out by email; the hash is stored in the database.
func GenerateResetToken() (token, hash string, err error) {
	raw := make([]byte, ResetTokenBytes)
	if _, err = rand.Read(raw); err != nil {
		return "", "", oops.Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
	}

	token = hex.EncodeToString(raw)
	hash = HashResetToken(token)

	return token, hash, nil
}

// HashResetToken computes the SHA-256 hash of a reset token.
func HashResetToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifyResetToken checks if the plaintext token matches the stored hash.
// Uses constant-time comparison to prevent timing attacks. Validation and
// redemption both go through this single matching rule.
func VerifyResetToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	computed := HashResetToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// ResetTicketRepository manages reset ticket persistence.
type ResetTicketRepository interface {
	// Replace stores a new ticket for an email, superseding any outstanding
	// tickets for the same address in the same transaction.
	Replace(ctx context.Context, ticket *ResetTicket) error

	// GetByEmailAndHash retrieves an unexpired ticket matching both the
	// email and the token hash.
	GetByEmailAndHash(ctx context.Context, email, tokenHash string) (*ResetTicket, error)

	// Redeem atomically deletes the ticket matching email, hash, and
	// unexpired-at-now as one conditional delete. Returns true iff this
	// call removed the ticket, so concurrent redemptions admit exactly one
	// winner.
	Redeem(ctx context.Context, email, tokenHash string) (bool, error)

	// DeleteByEmail removes all tickets for an email.
	DeleteByEmail(ctx context.Context, email string) error

	// DeleteExpired removes all expired tickets and returns the count of
	// deleted records.
	DeleteExpired(ctx context.Context) (int64, error)
}
