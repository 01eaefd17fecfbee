package replay

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGuard_TryConsume_FirstWins(t *testing.T) {
	g := NewGuard(time.Minute)
	exp := time.Now().Add(5 * time.Minute)

	assert.True(t, g.TryConsume("key1", exp))
	assert.False(t, g.TryConsume("key1", exp))
	assert.False(t, g.TryConsume("key1", exp))

	// A different key is unaffected
	assert.True(t, g.TryConsume("key2", exp))
}

func TestGuard_TryConsume_ConcurrentSingleWinner(t *testing.T) {
	g := NewGuard(time.Minute)
	exp := time.Now().Add(5 * time.Minute)

	const attempts = 100
	var wg sync.WaitGroup
	results := make(chan bool, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- g.TryConsume("contested", exp)
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for won := range results {
		if won {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent attempt should win consumption")
}

func TestGuard_TryConsume_ExpiredRecordReconsumable(t *testing.T) {
	now := time.Now()
	clock := now
	g := NewGuard(time.Minute).WithClock(func() time.Time { return clock })

	exp := now.Add(5 * time.Minute)
	assert.True(t, g.TryConsume("key", exp))
	assert.False(t, g.TryConsume("key", exp))

	// Once the recorded token has expired, a freshly issued token with the
	// same key may be consumed again.
	clock = exp
	assert.True(t, g.TryConsume("key", clock.Add(5*time.Minute)))
}

func TestGuard_TryConsume_AtExactExpiry(t *testing.T) {
	now := time.Now()
	g := NewGuard(time.Minute).WithClock(func() time.Time { return now })

	// A record whose expiry equals now is already evictable.
	assert.True(t, g.TryConsume("key", now))
	assert.True(t, g.TryConsume("key", now.Add(time.Minute)))
}

func TestGuard_Cleanup(t *testing.T) {
	now := time.Now()
	clock := now
	g := NewGuard(time.Minute).WithClock(func() time.Time { return clock })

	g.TryConsume("live", now.Add(10*time.Minute))
	g.TryConsume("dead1", now.Add(1*time.Minute))
	g.TryConsume("dead2", now.Add(2*time.Minute))
	assert.Equal(t, 3, g.Len())

	clock = now.Add(5 * time.Minute)
	g.Cleanup()
	assert.Equal(t, 1, g.Len())

	// The surviving record still blocks consumption
	assert.False(t, g.TryConsume("live", clock.Add(5*time.Minute)))
}

func TestGuard_StartStopCleanup(t *testing.T) {
	g := NewGuard(10 * time.Millisecond)
	g.StartCleanup()

	// StopCleanup must be idempotent
	g.StopCleanup()
	g.StopCleanup()
}

func TestPairKey_DistinctPairsDistinctKeys(t *testing.T) {
	// The separator keeps (a, bc) and (ab, c) apart
	assert.NotEqual(t, PairKey("a", "bc"), PairKey("ab", "c"))
	assert.Equal(t, PairKey("user@example.com", "m1"), PairKey("user@example.com", "m1"))
	assert.NotEqual(t, PairKey("user@example.com", "m1"), PairKey("user@example.com", "m2"))
}

func TestTokenKey_DigestsToken(t *testing.T) {
	key := TokenKey("some.jwt.token")

	assert.Len(t, key, 64, "sha256 hex digest")
	assert.NotContains(t, key, "jwt", "raw credential must not be retained")
	assert.Equal(t, key, TokenKey("some.jwt.token"))
	assert.NotEqual(t, key, TokenKey("other.jwt.token"))
}

func TestGuard_ManyKeysIndependent(t *testing.T) {
	g := NewGuard(time.Minute)
	exp := time.Now().Add(5 * time.Minute)

	for i := 0; i < 50; i++ {
		assert.True(t, g.TryConsume(fmt.Sprintf("key-%d", i), exp))
	}
	assert.Equal(t, 50, g.Len())
}
