package ratelimit

import (
	"sync"
	"time"
)

// One token is 1e9 nano-tokens, so a refill rate of N tokens/sec adds exactly
// N nano-tokens per elapsed nanosecond and no float rounding is involved.
const nanoPerToken = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket meters inbound signaling frames. It starts full.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	capacity int64 // nano-tokens
	rate     int64 // tokens/sec == nano-tokens/ns
	avail    int64 // nano-tokens
	last     time.Time
}

func NewTokenBucket(clock Clock, capacityTokens, tokensPerSecond int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	capacity := toNano(capacityTokens)
	return &TokenBucket{
		clock:    clock,
		capacity: capacity,
		rate:     max(tokensPerSecond, 0),
		avail:    capacity,
		last:     clock.Now(),
	}
}

// Allow takes n tokens if they are available. n <= 0 always succeeds.
func (b *TokenBucket) Allow(n int64) bool {
	if n <= 0 {
		return true
	}
	cost := toNano(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.avail < cost {
		return false
	}
	b.avail -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now
	if elapsed <= 0 || b.rate == 0 || b.avail >= b.capacity {
		// A clock stepping backwards only moves the reference point.
		return
	}

	missing := b.capacity - b.avail
	if elapsed >= missing/b.rate {
		b.avail = b.capacity
		return
	}
	b.avail = min(b.avail+elapsed*b.rate, b.capacity)
}

func toNano(tokens int64) int64 {
	switch {
	case tokens <= 0:
		return 0
	case tokens > maxInt64/nanoPerToken:
		return maxInt64
	default:
		return tokens * nanoPerToken
	}
}
