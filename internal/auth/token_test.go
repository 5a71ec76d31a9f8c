// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth_test

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/keyfold/internal/auth"
	"github.com/keyfold/keyfold/pkg/errutil"
)

func TestGenerateAccessSecret(t *testing.T) {
	t.Run("generates secret and matching hash", func(t *testing.T) {
		secret, hash, err := auth.GenerateAccessSecret()
		require.NoError(t, err)
		assert.Len(t, secret, 64) // 32 bytes hex-encoded
		assert.Len(t, hash, 64)
		assert.Equal(t, auth.HashAccessSecret(secret), hash)
	})

	t.Run("generates unique secrets", func(t *testing.T) {
		secret1, _, err := auth.GenerateAccessSecret()
		require.NoError(t, err)
		secret2, _, err := auth.GenerateAccessSecret()
		require.NoError(t, err)
		assert.NotEqual(t, secret1, secret2)
	})
}

func TestVerifyAccessSecret(t *testing.T) {
	secret, hash, err := auth.GenerateAccessSecret()
	require.NoError(t, err)

	assert.True(t, auth.VerifyAccessSecret(secret, hash))
	assert.False(t, auth.VerifyAccessSecret("wrongsecret", hash))
	assert.False(t, auth.VerifyAccessSecret("", hash))
	assert.False(t, auth.VerifyAccessSecret(secret, ""))
}

func TestNewAccessToken(t *testing.T) {
	userID := ulid.Make()
	expiry := time.Now().Add(auth.AccessTokenExpiry)

	t.Run("creates valid token", func(t *testing.T) {
		token, err := auth.NewAccessToken(userID, "somehash", auth.DefaultAbilities(), expiry)
		require.NoError(t, err)
		assert.Equal(t, userID, token.UserID)
		assert.Equal(t, "somehash", token.TokenHash)
		assert.NotEqual(t, ulid.ULID{}, token.ID)
		assert.False(t, token.CreatedAt.IsZero())
		assert.False(t, token.LastUsedAt.IsZero())
	})

	t.Run("rejects zero user ID", func(t *testing.T) {
		_, err := auth.NewAccessToken(ulid.ULID{}, "somehash", auth.DefaultAbilities(), expiry)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "TOKEN_INVALID_USER")
	})

	t.Run("rejects empty token hash", func(t *testing.T) {
		_, err := auth.NewAccessToken(userID, "", auth.DefaultAbilities(), expiry)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "TOKEN_INVALID_HASH")
	})

	t.Run("rejects empty abilities", func(t *testing.T) {
		_, err := auth.NewAccessToken(userID, "somehash", nil, expiry)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "TOKEN_INVALID_ABILITIES")
	})

	t.Run("rejects zero expiry", func(t *testing.T) {
		_, err := auth.NewAccessToken(userID, "somehash", auth.DefaultAbilities(), time.Time{})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "TOKEN_INVALID_EXPIRY")
	})
}

func TestAccessToken_IsExpired(t *testing.T) {
	userID := ulid.Make()

	t.Run("not expired before ExpiresAt", func(t *testing.T) {
		token, err := auth.NewAccessToken(userID, "somehash", auth.DefaultAbilities(), time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, token.IsExpired())
	})

	t.Run("expired after ExpiresAt", func(t *testing.T) {
		token, err := auth.NewAccessToken(userID, "somehash", auth.DefaultAbilities(), time.Now().Add(-time.Second))
		require.NoError(t, err)
		assert.True(t, token.IsExpired())
	})

	t.Run("IsExpiredAt uses the supplied clock", func(t *testing.T) {
		expiry := time.Now().Add(time.Hour)
		token, err := auth.NewAccessToken(userID, "somehash", auth.DefaultAbilities(), expiry)
		require.NoError(t, err)
		assert.False(t, token.IsExpiredAt(expiry.Add(-time.Minute)))
		assert.True(t, token.IsExpiredAt(expiry.Add(time.Minute)))
	})
}

func TestAbilities(t *testing.T) {
	t.Run("wildcard grants everything", func(t *testing.T) {
		abilities := auth.Abilities{auth.AbilityAll}
		assert.True(t, abilities.Can("tokens:refresh"))
		assert.True(t, abilities.Can("anything"))
	})

	t.Run("named ability grants only itself", func(t *testing.T) {
		abilities := auth.Abilities{"profile:read"}
		assert.True(t, abilities.Can("profile:read"))
		assert.False(t, abilities.Can("profile:write"))
	})

	t.Run("round-trips through strings", func(t *testing.T) {
		abilities := auth.Abilities{"a", "b"}
		assert.Equal(t, abilities, auth.AbilitiesFromStrings(abilities.Strings()))
	})
}
