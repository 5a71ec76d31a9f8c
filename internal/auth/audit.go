// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Audit event names. The sink is append-only; rows are never updated.
const (
	AuditLogin          = "login"
	AuditLogout         = "logout"
	AuditRegister       = "register"
	AuditTokenRefresh   = "token_refresh"
	AuditTokenRevokeAll = "token_revoke_all"
	AuditPasswordChange = "password_change"
	AuditPasswordReset  = "password_reset"
)

// AuditEntry is one append-only audit record. UserID is nil when the subject
// could not be resolved (e.g. a failed login for an unknown email).
type AuditEntry struct {
	Event       string
	UserID      *ulid.ULID
	Email       string
	IPAddress   string
	UserAgent   string
	Success     bool
	Detail      string
	AttemptedAt time.Time
}

// AuditRecorder appends audit entries. Implementations must tolerate being
// called on hot paths; services log recording failures and move on rather
// than failing the operation being audited.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry) error
}
