// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyfold/keyfold/internal/auth"
)

// AccessTokenRepository implements auth.AccessTokenRepository using PostgreSQL.
type AccessTokenRepository struct {
	pool DB
}

// NewAccessTokenRepository creates a new AccessTokenRepository.
func NewAccessTokenRepository(pool DB) *AccessTokenRepository {
	return &AccessTokenRepository{pool: pool}
}

// Create stores a new access token.
func (r *AccessTokenRepository) Create(ctx context.Context, token *auth.AccessToken) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO access_tokens (id, user_id, token_hash, abilities, expires_at, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		token.ID.String(),
		token.UserID.String(),
		token.TokenHash,
		token.Abilities.Strings(),
		token.ExpiresAt,
		token.CreatedAt,
		token.LastUsedAt,
	)
	if err != nil {
		return oops.Code("TOKEN_CREATE_FAILED").
			With("operation", "insert access_token").
			With("user_id", token.UserID.String()).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a token by its hash.
func (r *AccessTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.AccessToken, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, abilities, expires_at, created_at, last_used_at
		FROM access_tokens
		WHERE token_hash = $1
	`, tokenHash)

	token, err := r.scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_GET_BY_HASH_FAILED").
			With("operation", "get token by hash").
			Wrap(err)
	}
	return token, nil
}

// GetByUser retrieves all tokens for a user, newest first.
func (r *AccessTokenRepository) GetByUser(ctx context.Context, userID ulid.ULID) ([]*auth.AccessToken, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, token_hash, abilities, expires_at, created_at, last_used_at
		FROM access_tokens
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID.String())
	if err != nil {
		return nil, oops.Code("TOKEN_GET_BY_USER_FAILED").
			With("operation", "get tokens by user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	defer rows.Close()

	var tokens []*auth.AccessToken
	for rows.Next() {
		token, err := r.scanToken(rows)
		if err != nil {
			return nil, oops.Code("TOKEN_SCAN_FAILED").
				With("operation", "scan token row").
				Wrap(err)
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, oops.Code("TOKEN_ROWS_ERROR").
			With("operation", "iterate token rows").
			Wrap(err)
	}

	return tokens, nil
}

// UpdateLastUsed updates the LastUsedAt timestamp for a token.
func (r *AccessTokenRepository) UpdateLastUsed(ctx context.Context, id ulid.ULID, lastUsed time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE access_tokens SET last_used_at = $2
		WHERE id = $1
	`, id.String(), lastUsed)
	if err != nil {
		return oops.Code("TOKEN_UPDATE_LAST_USED_FAILED").
			With("operation", "update last_used_at").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("TOKEN_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete removes a token by ID.
func (r *AccessTokenRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM access_tokens WHERE id = $1
	`, id.String())
	if err != nil {
		return oops.Code("TOKEN_DELETE_FAILED").
			With("operation", "delete access_token").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("TOKEN_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteByUser removes all tokens for a user.
func (r *AccessTokenRepository) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM access_tokens WHERE user_id = $1
	`, userID.String())
	if err != nil {
		return oops.Code("TOKEN_DELETE_BY_USER_FAILED").
			With("operation", "delete access_tokens by user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	// Note: No ErrNotFound if no rows deleted - that's a valid state
	return nil
}

// DeleteExpired removes all expired tokens and returns the count.
func (r *AccessTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM access_tokens WHERE expires_at < $1
	`, time.Now())
	if err != nil {
		return 0, oops.Code("TOKEN_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired access_tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanToken scans a single row into an AccessToken.
// Callers are responsible for handling pgx.ErrNoRows.
func (r *AccessTokenRepository) scanToken(row pgx.Row) (*auth.AccessToken, error) {
	var (
		idStr      string
		userIDStr  string
		tokenHash  string
		abilities  []string
		expiresAt  time.Time
		createdAt  time.Time
		lastUsedAt time.Time
	)

	err := row.Scan(&idStr, &userIDStr, &tokenHash, &abilities, &expiresAt, &createdAt, &lastUsedAt)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("TOKEN_SCAN_FAILED").
			With("operation", "scan access_token").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("TOKEN_INVALID_ID").
			With("operation", "parse token id").
			With("id", idStr).
			Wrap(err)
	}

	userID, err := ulid.Parse(userIDStr)
	if err != nil {
		return nil, oops.Code("TOKEN_INVALID_USER_ID").
			With("operation", "parse user id").
			With("user_id", userIDStr).
			Wrap(err)
	}

	return &auth.AccessToken{
		ID:         id,
		UserID:     userID,
		TokenHash:  tokenHash,
		Abilities:  auth.AbilitiesFromStrings(abilities),
		ExpiresAt:  expiresAt,
		CreatedAt:  createdAt,
		LastUsedAt: lastUsedAt,
	}, nil
}

// Compile-time interface check.
var _ auth.AccessTokenRepository = (*AccessTokenRepository)(nil)
