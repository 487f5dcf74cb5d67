package requests

import (
	"context"
	"sync"
	"time"
)

// Single request budget over a time window.
type limitWindow struct {
	limit         int
	resetInterval time.Duration
	count         int
	lastReset     time.Time
}

// RateLimiter bounds the upstream requests of one identity.
type RateLimiter struct {
	windows []*limitWindow

	// Minimum spacing between two requests.
	minInterval time.Duration

	lastRequest time.Time
	now         func() time.Time
	mu          sync.Mutex
}

// NewRateLimiter creates a limiter allowing perMinute requests per minute.
// A zero or negative budget disables the limit.
func NewRateLimiter(perMinute int, minInterval time.Duration) *RateLimiter {
	r := &RateLimiter{
		minInterval: minInterval,
		now:         time.Now,
	}
	if perMinute > 0 {
		r.windows = []*limitWindow{
			{
				limit:         perMinute,
				resetInterval: time.Minute,
				lastReset:     time.Now(),
			},
		}
	}
	return r
}

// Reset the count of every elapsed window.
func (r *RateLimiter) resetCounts(now time.Time) {
	for _, window := range r.windows {
		if now.Sub(window.lastReset) >= window.resetInterval {
			window.count = 0
			window.lastReset = now
		}
	}
}

// Wait blocks until a request may be sent or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait := r.reserve()
		if wait <= 0 {
			return nil
		}

		// Sleep until the next window reset, waking up on cancellation.
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve takes a slot and returns 0, or returns how long to wait before trying again.
func (r *RateLimiter) reserve() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.resetCounts(now)

	// Verify the spacing between requests.
	if !r.lastRequest.IsZero() {
		if elapsed := now.Sub(r.lastRequest); elapsed < r.minInterval {
			return r.minInterval - elapsed
		}
	}

	// If any window is exhausted, wait for the slowest reset.
	var waitTime time.Duration
	for _, window := range r.windows {
		if window.count < window.limit {
			continue
		}
		if waitTill := window.resetInterval - now.Sub(window.lastReset); waitTill > waitTime {
			waitTime = waitTill
		}
	}
	if waitTime > 0 {
		return waitTime
	}

	for _, window := range r.windows {
		window.count++
	}
	r.lastRequest = now
	return 0
}
