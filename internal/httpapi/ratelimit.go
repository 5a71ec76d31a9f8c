// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package httpapi

import (
	"sync"
	"time"
)

// Default rate limiting values.
const (
	// DefaultWindow is the fixed window over which requests are counted.
	DefaultWindow = time.Minute

	// DefaultCleanupInterval is the interval at which the background
	// goroutine removes expired windows.
	DefaultCleanupInterval = 5 * time.Minute
)

// clientWindow tracks request counts for one client inside the current
// fixed window.
type clientWindow struct {
	count       int
	windowStart time.Time
}

// RateLimiter implements fixed-window per-client rate limiting. Counts reset
// at window boundaries rather than sliding, so a client that exhausts its
// budget waits at most one full window. Safe for concurrent use.
//
// The RateLimiter runs a background goroutine to clean up stale windows.
// Call Close to stop it.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
	limit   int
	window  time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewRateLimiter creates a rate limiter allowing limit requests per window
// for each distinct key. A zero window defaults to one minute.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = DefaultWindow
	}

	rl := &RateLimiter{
		clients:  make(map[string]*clientWindow),
		limit:    limit,
		window:   window,
		stopChan: make(chan struct{}),
	}

	rl.wg.Add(1)
	go rl.cleanupLoop(DefaultCleanupInterval)

	return rl
}

// Allow records a request for key and reports whether it fits in the current
// window. When denied, retryAfter is the time until the window resets.
func (rl *RateLimiter) Allow(key string) (allowed bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	cw, exists := rl.clients[key]
	if !exists || now.Sub(cw.windowStart) >= rl.window {
		rl.clients[key] = &clientWindow{count: 1, windowStart: now}
		return true, 0
	}

	if cw.count < rl.limit {
		cw.count++
		return true, 0
	}

	return false, cw.windowStart.Add(rl.window).Sub(now)
}

// ClientCount returns the number of tracked clients. Useful for testing and
// monitoring.
func (rl *RateLimiter) ClientCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Cleanup removes windows that closed before the last full window. Called
// automatically by the background goroutine.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	threshold := time.Now().Add(-rl.window)
	for key, cw := range rl.clients {
		if cw.windowStart.Before(threshold) {
			delete(rl.clients, key)
		}
	}
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	defer rl.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

// Close stops the background cleanup goroutine. It blocks until the goroutine
// has stopped.
func (rl *RateLimiter) Close() {
	close(rl.stopChan)
	rl.wg.Wait()
}
