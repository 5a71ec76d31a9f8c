// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package postgres

import (
	"context"

	"github.com/samber/oops"

	"github.com/keyfold/keyfold/internal/auth"
)

// AuditRecorder implements auth.AuditRecorder using PostgreSQL. Entries are
// append-only; nothing in the service ever updates or deletes them.
type AuditRecorder struct {
	pool DB
}

// NewAuditRecorder creates a new AuditRecorder.
func NewAuditRecorder(pool DB) *AuditRecorder {
	return &AuditRecorder{pool: pool}
}

// Record appends an audit entry.
func (r *AuditRecorder) Record(ctx context.Context, entry auth.AuditEntry) error {
	var userID *string
	if entry.UserID != nil {
		s := entry.UserID.String()
		userID = &s
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO login_audits (event, user_id, email, ip_address, user_agent, success, detail, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		string(entry.Event),
		userID,
		entry.Email,
		entry.IPAddress,
		entry.UserAgent,
		entry.Success,
		entry.Detail,
		entry.AttemptedAt,
	)
	if err != nil {
		return oops.Code("AUDIT_RECORD_FAILED").
			With("operation", "insert login_audit").
			With("event", string(entry.Event)).
			Wrap(err)
	}
	return nil
}

// Compile-time interface check.
var _ auth.AuditRecorder = (*AuditRecorder)(nil)
