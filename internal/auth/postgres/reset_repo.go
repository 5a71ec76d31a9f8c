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

// ResetTicketRepository implements auth.ResetTicketRepository using PostgreSQL.
type ResetTicketRepository struct {
	pool DB
}

// NewResetTicketRepository creates a new ResetTicketRepository.
func NewResetTicketRepository(pool DB) *ResetTicketRepository {
	return &ResetTicketRepository{pool: pool}
}

// Replace stores a new ticket, superseding any outstanding tickets for the
// same email. Delete and insert run in one transaction so the address never
// has two live tickets.
func (r *ResetTicketRepository) Replace(ctx context.Context, ticket *auth.ResetTicket) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return oops.Code("RESET_REPLACE_FAILED").
			With("operation", "begin transaction").
			Wrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		DELETE FROM password_reset_tickets WHERE email = $1
	`, ticket.Email)
	if err != nil {
		return oops.Code("RESET_REPLACE_FAILED").
			With("operation", "delete superseded tickets").
			Wrap(err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO password_reset_tickets (id, email, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ticket.ID.String(), ticket.Email, ticket.TokenHash, ticket.ExpiresAt, ticket.CreatedAt)
	if err != nil {
		return oops.Code("RESET_REPLACE_FAILED").
			With("operation", "insert password_reset_ticket").
			Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("RESET_REPLACE_FAILED").
			With("operation", "commit transaction").
			Wrap(err)
	}
	return nil
}

// GetByEmailAndHash retrieves an unexpired ticket matching both the email
// and the token hash.
func (r *ResetTicketRepository) GetByEmailAndHash(ctx context.Context, email, tokenHash string) (*auth.ResetTicket, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, token_hash, expires_at, created_at
		FROM password_reset_tickets
		WHERE email = $1 AND token_hash = $2 AND expires_at > $3
	`, email, tokenHash, time.Now())

	ticket, err := r.scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESET_GET_FAILED").
			With("operation", "get ticket by email and hash").
			Wrap(err)
	}
	return ticket, nil
}

// Redeem atomically consumes the ticket matching email, hash, and
// unexpired-at-now. The conditional DELETE is a single statement, so two
// concurrent redemptions of the same ticket race on row removal and
// exactly one observes RowsAffected() == 1.
func (r *ResetTicketRepository) Redeem(ctx context.Context, email, tokenHash string) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM password_reset_tickets
		WHERE email = $1 AND token_hash = $2 AND expires_at > $3
	`, email, tokenHash, time.Now())
	if err != nil {
		return false, oops.Code("RESET_REDEEM_FAILED").
			With("operation", "redeem password_reset_ticket").
			Wrap(err)
	}
	return result.RowsAffected() == 1, nil
}

// DeleteByEmail removes all tickets for an email.
func (r *ResetTicketRepository) DeleteByEmail(ctx context.Context, email string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM password_reset_tickets WHERE email = $1
	`, email)
	if err != nil {
		return oops.Code("RESET_DELETE_BY_EMAIL_FAILED").
			With("operation", "delete tickets by email").
			Wrap(err)
	}
	// Note: No ErrNotFound if no rows deleted - that's a valid state
	return nil
}

// DeleteExpired removes all expired tickets and returns the count.
func (r *ResetTicketRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM password_reset_tickets WHERE expires_at < $1
	`, time.Now())
	if err != nil {
		return 0, oops.Code("RESET_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired tickets").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanTicket scans a single row into a ResetTicket.
// Callers are responsible for handling pgx.ErrNoRows.
func (r *ResetTicketRepository) scanTicket(row pgx.Row) (*auth.ResetTicket, error) {
	var (
		idStr     string
		email     string
		tokenHash string
		expiresAt time.Time
		createdAt time.Time
	)

	err := row.Scan(&idStr, &email, &tokenHash, &expiresAt, &createdAt)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("RESET_SCAN_FAILED").
			With("operation", "scan password_reset_ticket").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("RESET_INVALID_ID").
			With("operation", "parse ticket id").
			With("id", idStr).
			Wrap(err)
	}

	return &auth.ResetTicket{
		ID:        id,
		Email:     email,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
	}, nil
}

// Compile-time interface check.
var _ auth.ResetTicketRepository = (*ResetTicketRepository)(nil)
