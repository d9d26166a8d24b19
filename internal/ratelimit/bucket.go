// Package ratelimit implements the global token bucket that gates all
// portal traffic across queue lanes.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/litigio/casefile-monitor/internal/metrics"
)

// Bucket is a token bucket sized max tokens per window. Refill is lazy;
// no timers run between acquisitions.
type Bucket struct {
	limiter *rate.Limiter
}

// New creates a bucket allowing max acquisitions per window.
func New(max int, window time.Duration) *Bucket {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	r := rate.Limit(float64(max) / window.Seconds())
	return &Bucket{limiter: rate.NewLimiter(r, max)}
}

// Wait blocks until a token is available or the context ends.
func (b *Bucket) Wait(ctx context.Context) error {
	start := time.Now()
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	metrics.ObserveTokenWait(time.Since(start))
	return nil
}

// Allow takes a token without blocking; it reports false when the bucket
// is empty.
func (b *Bucket) Allow() bool {
	return b.limiter.Allow()
}
