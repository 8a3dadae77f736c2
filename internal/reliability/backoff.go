// Package reliability factors out the exponential backoff idiom the
// tradernet websocket client used inline, so every reconnect loop and
// bounded retry in the core shares one implementation.
package reliability

import (
	"context"
	"math"
	"time"
)

// Backoff computes exponential delays with a ceiling, the same formula the
// old market-status websocket client used inline: base * 2^(attempt-1),
// capped at max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the delay before the given attempt (1-indexed).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Base) * math.Pow(2, float64(attempt-1))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	return time.Duration(d)
}

// Wait blocks for the attempt's delay or until ctx is cancelled.
func (b Backoff) Wait(ctx context.Context, attempt int) error {
	select {
	case <-time.After(b.Delay(attempt)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DefaultRetryBackoff is the bounded-retry profile used by adapter calls
// classified errs.Retryable: base 250ms, factor 2, capped at 4s.
var DefaultRetryBackoff = Backoff{Base: 250 * time.Millisecond, Max: 4 * time.Second}

// DefaultStreamBackoff is the reconnect-loop profile: base 1s, capped at 60s,
// matching the teacher websocket client's reconnect tuning.
var DefaultStreamBackoff = Backoff{Base: time.Second, Max: 60 * time.Second}

// Retry calls fn up to maxAttempts times, waiting DefaultRetryBackoff between
// attempts, stopping early when shouldRetry(err) is false.
func Retry(ctx context.Context, maxAttempts int, shouldRetry func(error) bool, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		if attempt == maxAttempts {
			return err
		}
		if waitErr := DefaultRetryBackoff.Wait(ctx, attempt); waitErr != nil {
			return waitErr
		}
	}
	return err
}
