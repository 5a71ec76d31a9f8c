// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth_test

import (
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/keyfold/internal/auth"
	"github.com/keyfold/keyfold/pkg/errutil"
)

func TestNewUser(t *testing.T) {
	t.Run("creates valid user", func(t *testing.T) {
		user, err := auth.NewUser("Alice", "alice@example.com", "somehash")
		require.NoError(t, err)
		assert.Equal(t, "Alice", user.Name)
		assert.Equal(t, "alice@example.com", user.Email)
		assert.Equal(t, "somehash", user.PasswordHash)
		assert.NotEqual(t, ulid.ULID{}, user.ID)
		assert.False(t, user.CreatedAt.IsZero())
	})

	t.Run("normalizes email and trims name", func(t *testing.T) {
		user, err := auth.NewUser("  Alice  ", "  ALICE@Example.COM ", "somehash")
		require.NoError(t, err)
		assert.Equal(t, "Alice", user.Name)
		assert.Equal(t, "alice@example.com", user.Email)
	})

	t.Run("rejects empty password hash", func(t *testing.T) {
		_, err := auth.NewUser("Alice", "alice@example.com", "")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "USER_INVALID_HASH")
	})
}

func TestValidateName(t *testing.T) {
	t.Run("accepts ordinary names", func(t *testing.T) {
		assert.NoError(t, auth.ValidateName("Alice"))
		assert.NoError(t, auth.ValidateName("Jean-Luc Picard"))
	})

	t.Run("rejects empty and whitespace-only names", func(t *testing.T) {
		errutil.AssertErrorCode(t, auth.ValidateName(""), "USER_INVALID_NAME")
		errutil.AssertErrorCode(t, auth.ValidateName("   "), "USER_INVALID_NAME")
	})

	t.Run("rejects names over the length cap", func(t *testing.T) {
		err := auth.ValidateName(strings.Repeat("a", auth.MaxNameLength+1))
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "USER_INVALID_NAME")
	})

	t.Run("accepts a name exactly at the cap", func(t *testing.T) {
		assert.NoError(t, auth.ValidateName(strings.Repeat("a", auth.MaxNameLength)))
	})
}

func TestValidateEmail(t *testing.T) {
	t.Run("accepts well-formed addresses", func(t *testing.T) {
		assert.NoError(t, auth.ValidateEmail("alice@example.com"))
		assert.NoError(t, auth.ValidateEmail("a.b+tag@sub.example.co.uk"))
	})

	t.Run("rejects malformed addresses", func(t *testing.T) {
		for _, email := range []string{
			"",
			"plainaddress",
			"@example.com",
			"alice@",
			"alice@example",
			"alice @example.com",
			"alice@exa mple.com",
		} {
			err := auth.ValidateEmail(email)
			require.Error(t, err, "expected %q to be rejected", email)
			errutil.AssertErrorCode(t, err, "USER_INVALID_EMAIL")
		}
	})

	t.Run("rejects addresses over the length cap", func(t *testing.T) {
		long := strings.Repeat("a", auth.MaxEmailLength) + "@example.com"
		err := auth.ValidateEmail(long)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "USER_INVALID_EMAIL")
	})
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "alice@example.com", auth.NormalizeEmail("  ALICE@Example.COM "))
	assert.Equal(t, "alice@example.com", auth.NormalizeEmail("alice@example.com"))
	assert.Equal(t, "", auth.NormalizeEmail("   "))
}
