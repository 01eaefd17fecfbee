// Package ratelimit provides rate limiting for login attempts, public
// endpoints, and WebSocket connections. It implements sliding window and
// per-key counting to prevent abuse.
package ratelimit

import (
	"sync"
	"time"
)

// ConnectionLimiter limits the number of concurrent connections per principal.
type ConnectionLimiter struct {
	connections map[string]int // principal -> connection count
	maxPerUser  int
	mu          sync.Mutex
}

// NewConnectionLimiter creates a new connection limiter.
func NewConnectionLimiter(maxPerUser int) *ConnectionLimiter {
	return &ConnectionLimiter{
		connections: make(map[string]int),
		maxPerUser:  maxPerUser,
	}
}

// Allow checks if a new connection is allowed for the principal and counts
// it if so.
func (cl *ConnectionLimiter) Allow(principal string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	count := cl.connections[principal]
	if count >= cl.maxPerUser {
		return false
	}

	cl.connections[principal] = count + 1
	return true
}

// Release decrements the connection count for a principal.
func (cl *ConnectionLimiter) Release(principal string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if count, ok := cl.connections[principal]; ok {
		if count <= 1 {
			delete(cl.connections, principal)
		} else {
			cl.connections[principal] = count - 1
		}
	}
}

// Count returns the current connection count for a principal.
func (cl *ConnectionLimiter) Count(principal string) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.connections[principal]
}

// RequestLimiter limits the rate of requests per key (client IP) using a
// sliding window.
type RequestLimiter struct {
	events map[string][]time.Time // key -> timestamps
	window time.Duration
	limit  int
	mu     sync.Mutex

	// Cleanup goroutine management
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupWg       sync.WaitGroup
	stopOnce        sync.Once
}

// NewRequestLimiter creates a new sliding-window request limiter.
// window: time window for rate limiting (e.g., 1 minute)
// limit: maximum number of requests allowed in the window
func NewRequestLimiter(window time.Duration, limit int) *RequestLimiter {
	return &RequestLimiter{
		events:          make(map[string][]time.Time),
		window:          window,
		limit:           limit,
		cleanupInterval: 5 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}
}

// Allow checks if a request is allowed and records it if so.
func (rl *RequestLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	var recent []time.Time
	for _, t := range rl.events[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= rl.limit {
		rl.events[key] = recent
		return false
	}

	rl.events[key] = append(recent, now)
	return true
}

// RetryAfter returns the time in milliseconds until the next request is allowed.
func (rl *RequestLimiter) RetryAfter(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	events := rl.events[key]
	if len(events) < rl.limit {
		return 0
	}

	now := time.Now()
	cutoff := now.Add(-rl.window)

	var oldestInWindow time.Time
	for _, t := range events {
		if t.After(cutoff) {
			if oldestInWindow.IsZero() || t.Before(oldestInWindow) {
				oldestInWindow = t
			}
		}
	}
	if oldestInWindow.IsZero() {
		return 0
	}

	retryAfter := oldestInWindow.Add(rl.window).Sub(now)
	if retryAfter < 0 {
		return 0
	}
	return int(retryAfter.Milliseconds())
}

// Reset clears the rate limit history for a key.
func (rl *RequestLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.events, key)
}

// Cleanup removes expired events to prevent unbounded growth.
func (rl *RequestLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.window)
	for key, events := range rl.events {
		var recent []time.Time
		for _, t := range events {
			if t.After(cutoff) {
				recent = append(recent, t)
			}
		}
		if len(recent) == 0 {
			delete(rl.events, key)
		} else {
			rl.events[key] = recent
		}
	}
}

// StartCleanup starts a background goroutine that periodically removes
// expired events.
func (rl *RequestLimiter) StartCleanup() {
	rl.cleanupWg.Add(1)
	go func() {
		defer rl.cleanupWg.Done()
		ticker := time.NewTicker(rl.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-rl.stopCleanup:
				return
			}
		}
	}()
}

// StopCleanup stops the cleanup goroutine and waits for it to finish.
func (rl *RequestLimiter) StopCleanup() {
	rl.stopOnce.Do(func() {
		close(rl.stopCleanup)
	})
	rl.cleanupWg.Wait()
}
