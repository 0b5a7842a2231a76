package ratelimit

import (
	"sync"
	"time"
)

const nanoTokensPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket refills at an integer rate (tokens/sec) read from a Clock.
//
// Tokens are held as fixed-point nano-tokens (1 token = 1e9), so a rate of X
// tokens/sec adds X nano-tokens per elapsed nanosecond without float rounding.
// A nil *TokenBucket allows everything.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	capacity  int64 // nano-tokens
	rate      int64 // tokens/sec
	available int64 // nano-tokens
	last      time.Time
}

// NewTokenBucket returns a full bucket holding capacityTokens.
func NewTokenBucket(clock Clock, capacityTokens, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	capacity := toNano(capacityTokens)
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		rate:      max(fillRate, 0),
		available: capacity,
		last:      clock.Now(),
	}
}

// PerSecond returns a bucket allowing n messages per second with a burst of
// n, or nil when n <= 0.
func PerSecond(clock Clock, n int) *TokenBucket {
	if n <= 0 {
		return nil
	}
	return NewTokenBucket(clock, int64(n), int64(n))
}

// Allow consumes tokens if available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if b == nil || tokens <= 0 {
		return true
	}
	cost := toNano(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Clock went backwards; move the reference point without refilling.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now
	if elapsed <= 0 || b.rate <= 0 || b.available >= b.capacity {
		return
	}

	// elapsed*rate may overflow; past the time needed to fill, just clamp.
	need := b.capacity - b.available
	if elapsed >= need/b.rate {
		b.available = b.capacity
		return
	}
	b.available = min(b.available+elapsed*b.rate, b.capacity)
}

func toNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoTokensPerToken {
		return maxInt64
	}
	return tokens * nanoTokensPerToken
}
