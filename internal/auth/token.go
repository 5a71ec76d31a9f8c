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

// Access token configuration.
const (
	AccessTokenBytes  = 32             // 32 bytes = 64 hex chars
	AccessTokenExpiry = 24 * time.Hour // fixed TTL, non-renewable except via refresh
)

// Ability is a named capability carried by an access token.
type Ability string

// AbilityAll grants every capability. Tokens minted by login and refresh
// carry only this ability today; the set exists so future scoped tokens are a
// data change, not a schema change.
const AbilityAll Ability = "*"

// Abilities is the capability set attached to a token.
type Abilities []Ability

// DefaultAbilities returns the capability set for freshly minted tokens.
func DefaultAbilities() Abilities {
	return Abilities{AbilityAll}
}

// Can reports whether the set grants the given ability.
func (a Abilities) Can(ability Ability) bool {
	for _, have := range a {
		if have == AbilityAll || have == ability {
			return true
		}
	}
	return false
}

// Strings converts the set to plain strings for storage.
func (a Abilities) Strings() []string {
	out := make([]string, len(a))
	for i, ability := range a {
		out[i] = string(ability)
	}
	return out
}

// AbilitiesFromStrings converts stored strings back to a capability set.
func AbilitiesFromStrings(raw []string) Abilities {
	out := make(Abilities, len(raw))
	for i, s := range raw {
		out[i] = Ability(s)
	}
	return out
}

// AccessToken represents one issued bearer credential. Only the SHA-256 hash
// of the secret is persisted; the plaintext is returned exactly once at
// issuance.
type AccessToken struct {
	ID         ulid.ULID
	UserID     ulid.ULID
	TokenHash  string
	Abilities  Abilities
	ExpiresAt  time.Time
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// NewAccessToken creates a validated AccessToken bound to a user.
func NewAccessToken(userID ulid.ULID, tokenHash string, abilities Abilities, expiresAt time.Time) (*AccessToken, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("TOKEN_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("TOKEN_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if len(abilities) == 0 {
		return nil, oops.Code("TOKEN_INVALID_ABILITIES").Errorf("abilities cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("TOKEN_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}

	now := time.Now()
	return &AccessToken{
		ID:         ulid.Make(),
		UserID:     userID,
		TokenHash:  tokenHash,
		Abilities:  abilities,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		LastUsedAt: now,
	}, nil
}

// IsExpired returns true if the token has expired.
func (t *AccessToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// IsExpiredAt returns true if the token would be expired at the given time.
// Useful for testing with deterministic time values.
func (t *AccessToken) IsExpiredAt(at time.Time) bool {
	return at.After(t.ExpiresAt)
}

// GenerateAccessSecret creates a secure random token secret and its hash.
// Returns (plaintext_secret, sha256_hash, error).
// The plaintext is handed to the client; only the hash touches the database.
func GenerateAccessSecret() (secret, hash string, err error) {
	raw := make([]byte, AccessTokenBytes)
	if _, err = rand.Read(raw); err != nil {
		return "", "", oops.Code("TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", AccessTokenBytes).
			Wrap(err)
	}

	secret = hex.EncodeToString(raw)
	hash = HashAccessSecret(secret)

	return secret, hash, nil
}

// HashAccessSecret computes the SHA-256 hash of a token secret. This is the
// only form in which secrets are stored.
func HashAccessSecret(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}

// VerifyAccessSecret checks if the plaintext secret matches the stored hash.
// Uses constant-time comparison so a mismatch costs the same wherever it
// diverges.
func VerifyAccessSecret(secret, hash string) bool {
	if secret == "" || hash == "" {
		return false
	}
	computed := HashAccessSecret(secret)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// AccessTokenRepository manages access token persistence. Deletion is the
// revocation mechanism; there is no revoked flag to resurrect.
type AccessTokenRepository interface {
	// Create stores a new access token.
	Create(ctx context.Context, token *AccessToken) error

	// GetByTokenHash retrieves a token by its secret hash.
	GetByTokenHash(ctx context.Context, tokenHash string) (*AccessToken, error)

	// GetByUser retrieves all tokens for a user, newest first.
	GetByUser(ctx context.Context, userID ulid.ULID) ([]*AccessToken, error)

	// UpdateLastUsed updates the LastUsedAt timestamp for a token.
	UpdateLastUsed(ctx context.Context, id ulid.ULID, lastUsed time.Time) error

	// Delete removes a token by ID. Returns ErrNotFound (wrapped) when the
	// token is already gone; callers decide whether that matters.
	Delete(ctx context.Context, id ulid.ULID) error

	// DeleteByUser removes all tokens for a user.
	DeleteByUser(ctx context.Context, userID ulid.ULID) error

	// DeleteExpired removes all expired tokens and returns the count of
	// deleted records.
	DeleteExpired(ctx context.Context) (int64, error)
}
