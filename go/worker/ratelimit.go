package worker

import (
	"context"
	"sync"
	"time"
)

// Defaults of the routing rate limiter.
const (
	defaultWindow = time.Minute
	// retryEvery is how long Acquire sleeps between attempts once the
	// current window is spent.
	retryEvery = 200 * time.Millisecond
)

// FixedWindowLimiter admits at most max acquisitions per fixed window.
// Unlike a token bucket there is no continuous refill: the counter
// resets at each window boundary, so a full burst is available the
// instant a new window opens.
type FixedWindowLimiter struct {
	max    int
	window time.Duration

	mu          sync.Mutex
	used        int
	windowStart time.Time
}

// NewFixedWindowLimiter builds a limiter of max slots per window.
// max is raised to 1 and window defaults to one minute when zero.
func NewFixedWindowLimiter(max int, window time.Duration) *FixedWindowLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = defaultWindow
	}
	return &FixedWindowLimiter{max: max, window: window}
}

// Acquire blocks until a slot is free in the current window or ctx is
// done. Waiters poll rather than queue, matching the worker's
// yield-and-retry gate; fairness across workers is not promised.
func (l *FixedWindowLimiter) Acquire(ctx context.Context) error {
	for {
		if l.TryAcquire() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryEvery):
		}
	}
}

// TryAcquire claims a slot if one is free in the current window.
func (l *FixedWindowLimiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	var now = time.Now()
	if now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.used = 0
	}
	if l.used >= l.max {
		return false
	}
	l.used++
	return true
}
