// Package ratelimit provides the per-connection inbound message limiter.
package ratelimit

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// One token is 1e9 nano-tokens, so a fill rate of N tokens/sec adds exactly N
// nano-tokens per elapsed nanosecond and no floating point is needed.
const nanoPerToken = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket starts full with capacity tokens and refills at fillRate
// tokens/sec.
type TokenBucket struct {
	mu sync.Mutex

	clock    Clock
	capacity int64 // nano-tokens
	fillRate int64 // tokens/sec == nano-tokens/ns

	available int64 // nano-tokens
	last      time.Time
}

func NewTokenBucket(clock Clock, capacityTokens, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	capacity := toNano(capacityTokens)
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		fillRate:  max(fillRate, 0),
		available: capacity,
		last:      clock.Now(),
	}
}

// NewPerSecond returns a bucket allowing a burst of perSecond events that
// refills at perSecond events/sec.
func NewPerSecond(perSecond int) *TokenBucket {
	return NewTokenBucket(RealClock{}, int64(perSecond), int64(perSecond))
}

// Allow consumes tokens if that many are available. tokens <= 0 always
// succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
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
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now
	// A clock that went backwards only moves the reference point.
	if elapsed <= 0 || b.fillRate == 0 {
		return
	}

	need := b.capacity - b.available
	if need <= 0 {
		return
	}
	// Compare before multiplying so elapsed*fillRate cannot overflow.
	if elapsed >= need/b.fillRate+1 {
		b.available = b.capacity
		return
	}
	b.available = min(b.available+elapsed*b.fillRate, b.capacity)
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
