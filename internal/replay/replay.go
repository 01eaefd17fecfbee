// Package replay prevents reuse of admission tokens. A token (or the
// principal+monitor pair it authorizes, depending on the configured key
// policy) may be consumed exactly once; every later consumption attempt
// with an equal key fails until the original token has expired.
package replay

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Guard records consumed admission keys. The record set starts empty at
// process startup and is bounded by lazy eviction: each record carries its
// token's expiry, and expired records are dropped both opportunistically
// during TryConsume and by a periodic cleanup sweep. Evicting at expiry is
// safe because an expired token can never be replayed successfully anyway.
type Guard struct {
	consumed map[string]time.Time // key -> token expiry
	now      func() time.Time
	mu       sync.Mutex

	// Cleanup goroutine management
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupWg       sync.WaitGroup
	stopOnce        sync.Once
}

// NewGuard creates an empty replay guard.
func NewGuard(cleanupInterval time.Duration) *Guard {
	return &Guard{
		consumed:        make(map[string]time.Time),
		now:             time.Now,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
}

// WithClock overrides the guard's time source. Intended for tests.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// TryConsume atomically records the key on first call and reports whether
// this caller won the consumption. Two simultaneous admission attempts with
// the same key result in exactly one true return.
//
// exp is the consuming token's expiry; once it has passed the record is
// eligible for eviction and the key may be consumed again by a freshly
// issued token.
func (g *Guard) TryConsume(key string, exp time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if recorded, ok := g.consumed[key]; ok && now.Before(recorded) {
		return false
	}

	g.consumed[key] = exp
	return true
}

// Len returns the number of recorded consumptions, including ones whose
// tokens have expired but have not been swept yet.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.consumed)
}

// Cleanup removes records whose tokens have expired.
func (g *Guard) Cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for key, exp := range g.consumed {
		if !now.Before(exp) {
			delete(g.consumed, key)
		}
	}
}

// StartCleanup starts a background goroutine that periodically sweeps
// expired consumption records.
func (g *Guard) StartCleanup() {
	g.cleanupWg.Add(1)
	go func() {
		defer g.cleanupWg.Done()
		ticker := time.NewTicker(g.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				g.Cleanup()
			case <-g.stopCleanup:
				return
			}
		}
	}()
}

// StopCleanup stops the cleanup goroutine and waits for it to finish.
func (g *Guard) StopCleanup() {
	g.stopOnce.Do(func() {
		close(g.stopCleanup)
	})
	g.cleanupWg.Wait()
}

// PairKey derives a consumption key from a principal and monitor id, the
// original service's policy: one admission per (email, monitor) per token
// lifetime. The NUL separator keeps distinct pairs from colliding.
func PairKey(email, monitorID string) string {
	return email + "\x00" + monitorID
}

// TokenKey derives a consumption key from the raw admission token. The
// token is digested so the credential itself is never retained in memory.
func TokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
