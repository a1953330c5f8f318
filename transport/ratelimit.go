package transport

import (
	"context"
	"sync"
	"time"
)

// window is one user's request count inside a fixed time window.
type window struct {
	count   int
	resetAt time.Time
}

func (w window) expired(now time.Time) bool {
	return !now.Before(w.resetAt)
}

// RateLimiter caps requests per user in fixed windows.
//
// The key is the user id only, so a client cannot reset its budget by
// starting new sessions. Expired windows are dropped by Cleanup.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]window
	limit   int
	period  time.Duration
	now     func() time.Time
}

// NewRateLimiter allows limit requests per period for each key. A limit of
// zero or less disables limiting.
func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	if period <= 0 {
		period = time.Minute
	}
	return &RateLimiter{
		windows: make(map[string]window),
		limit:   limit,
		period:  period,
		now:     time.Now,
	}
}

// Allow counts a request for key and reports whether it fits the budget.
// When it does not, the second value is the time until the window resets.
func (r *RateLimiter) Allow(key string) (bool, time.Duration) {
	if r.limit <= 0 {
		return true, 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w, ok := r.windows[key]
	if !ok || w.expired(now) {
		r.windows[key] = window{count: 1, resetAt: now.Add(r.period)}
		return true, 0
	}
	if w.count >= r.limit {
		return false, w.resetAt.Sub(now)
	}
	w.count++
	r.windows[key] = w
	return true, 0
}

// Cleanup removes expired windows and returns how many it removed.
func (r *RateLimiter) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for key, w := range r.windows {
		if w.expired(now) {
			delete(r.windows, key)
			removed++
		}
	}
	return removed
}

// Count returns the number of tracked keys.
func (r *RateLimiter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}

// StartCleanupTicker runs Cleanup every interval until ctx is cancelled.
func (r *RateLimiter) StartCleanupTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Cleanup()
			}
		}
	}()
}
