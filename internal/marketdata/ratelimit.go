// ratelimit.go implements token-bucket rate limiting for the C3 pull
// surface, with one bucket per priority lane so an execution-path call
// (placing or querying an order) is never queued behind a discovery scan.
//
// Adapted from the continuous-refill token bucket used against the
// Polymarket CLOB API elsewhere in this pack: buckets refill smoothly
// rather than in fixed windows, avoiding the thundering-herd retry pattern
// a hard per-window limit produces.
package marketdata

import (
	"context"
	"sync"
	"time"
)

// Priority identifies a consumer class of the pull surface, highest first.
type Priority int

const (
	PriorityExecution Priority = iota
	PriorityPortfolioValuation
	PriorityCharts
	PriorityDiscovery
)

// TokenBucket is a token-bucket rate limiter with continuous refill.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64
	lastTime time.Time
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RateLimiter groups token buckets by priority lane. Execution calls must
// never be starved by discovery scans, so the execution lane is sized with
// the largest headroom.
type RateLimiter struct {
	lanes map[Priority]*TokenBucket
}

// NewRateLimiter creates the four priority lanes of the pull surface.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		lanes: map[Priority]*TokenBucket{
			PriorityExecution:          NewTokenBucket(20, 10),
			PriorityPortfolioValuation: NewTokenBucket(10, 4),
			PriorityCharts:             NewTokenBucket(10, 3),
			PriorityDiscovery:          NewTokenBucket(5, 1),
		},
	}
}

// Wait blocks on the bucket for the given priority lane.
func (r *RateLimiter) Wait(ctx context.Context, p Priority) error {
	return r.lanes[p].Wait(ctx)
}
