// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Field length limits for user records.
const (
	MaxNameLength  = 255
	MaxEmailLength = 255
)

// emailRegex is a pragmatic shape check, not a full RFC 5322 parser. The
// mailbox is only proven reachable by the reset-ticket flow anyway.
var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// User represents an account record. PasswordHash is never serialized
// outward; boundary code renders users through a separate view type.
type User struct {
	ID           ulid.ULID
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewUser creates a validated User with the given password hash.
func NewUser(name, email, passwordHash string) (*User, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_HASH").Errorf("password hash cannot be empty")
	}

	now := time.Now()
	return &User{
		ID:           ulid.Make(),
		Name:         strings.TrimSpace(name),
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NormalizeEmail lowercases and trims an email address. All lookups and
// uniqueness checks operate on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateName validates a display name.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return oops.Code("USER_INVALID_NAME").Errorf("name cannot be empty")
	}
	if len(trimmed) > MaxNameLength {
		return oops.Code("USER_INVALID_NAME").
			With("max", MaxNameLength).
			Errorf("name must be at most %d characters", MaxNameLength)
	}
	return nil
}

// ValidateEmail validates an email address shape.
func ValidateEmail(email string) error {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return oops.Code("USER_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if len(normalized) > MaxEmailLength {
		return oops.Code("USER_INVALID_EMAIL").
			With("max", MaxEmailLength).
			Errorf("email must be at most %d characters", MaxEmailLength)
	}
	if !emailRegex.MatchString(normalized) {
		return oops.Code("USER_INVALID_EMAIL").Errorf("email must be a valid address")
	}
	return nil
}

// ProfileUpdate carries a partial profile change. Nil fields are left
// untouched.
type ProfileUpdate struct {
	Name  *string
	Email *string
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user. Returns ErrEmailTaken (wrapped) if the
	// email is already registered; uniqueness is enforced by the store.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by email (case-insensitive).
	GetByEmail(ctx context.Context, email string) (*User, error)

	// Update updates name and email for an existing user. Returns
	// ErrEmailTaken (wrapped) on an email collision.
	Update(ctx context.Context, user *User) error

	// UpdatePassword updates only the password hash for a user.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error
}
