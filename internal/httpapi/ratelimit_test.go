// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package httpapi

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Allow(t *testing.T) {
	t.Run("allows up to the limit", func(t *testing.T) {
		rl := NewRateLimiter(3, time.Minute)
		defer rl.Close()

		for i := range 3 {
			allowed, _ := rl.Allow("10.0.0.1")
			assert.True(t, allowed, "request %d should be allowed", i+1)
		}

		allowed, retryAfter := rl.Allow("10.0.0.1")
		assert.False(t, allowed)
		assert.Greater(t, retryAfter, time.Duration(0))
		assert.LessOrEqual(t, retryAfter, time.Minute)
	})

	t.Run("keys are independent", func(t *testing.T) {
		rl := NewRateLimiter(1, time.Minute)
		defer rl.Close()

		allowed, _ := rl.Allow("10.0.0.1")
		assert.True(t, allowed)
		allowed, _ = rl.Allow("10.0.0.2")
		assert.True(t, allowed)
		allowed, _ = rl.Allow("10.0.0.1")
		assert.False(t, allowed)
	})

	t.Run("window reset restores the budget", func(t *testing.T) {
		rl := NewRateLimiter(1, 20*time.Millisecond)
		defer rl.Close()

		allowed, _ := rl.Allow("10.0.0.1")
		assert.True(t, allowed)
		allowed, _ = rl.Allow("10.0.0.1")
		assert.False(t, allowed)

		time.Sleep(30 * time.Millisecond)

		allowed, _ = rl.Allow("10.0.0.1")
		assert.True(t, allowed)
	})

	t.Run("zero config gets sane defaults", func(t *testing.T) {
		rl := NewRateLimiter(0, 0)
		defer rl.Close()

		allowed, _ := rl.Allow("10.0.0.1")
		assert.True(t, allowed)
		allowed, _ = rl.Allow("10.0.0.1")
		assert.False(t, allowed)
	})
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(5, 10*time.Millisecond)
	defer rl.Close()

	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.2")
	assert.Equal(t, 2, rl.ClientCount())

	time.Sleep(20 * time.Millisecond)
	rl.Cleanup()

	assert.Equal(t, 0, rl.ClientCount())
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"192.0.2.1:8080", "192.0.2.1"},
		{"[2001:db8::1]:8080", "2001:db8::1"},
		{"192.0.2.1", "192.0.2.1"},
	}
	for _, tt := range tests {
		r := &http.Request{RemoteAddr: tt.remoteAddr}
		assert.Equal(t, tt.want, clientIP(r), "remote %q", tt.remoteAddr)
	}
}
