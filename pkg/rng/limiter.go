package rng

import (
	"sync"
	"time"
)

// DefaultTableOpsPerMinute caps randomness operations per table. A table
// that exceeds it is misbehaving or under attack; hands fail to start
// until the window drains.
const DefaultTableOpsPerMinute = 1000

// RateLimiter is a sliding-window per-table limiter.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	ops    map[string][]time.Time
	now    func() time.Time
}

// NewRateLimiter creates a limiter allowing limit operations per window
// for each table.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
		ops:    make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records one operation for the table and reports whether it is
// within the limit. A denied operation is not recorded.
func (rl *RateLimiter) Allow(tableID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)

	recent := rl.ops[tableID][:0]
	for _, ts := range rl.ops[tableID] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= rl.limit {
		rl.ops[tableID] = recent
		return false
	}
	rl.ops[tableID] = append(recent, now)
	return true
}

// Forget drops a table's history, for table teardown.
func (rl *RateLimiter) Forget(tableID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.ops, tableID)
}
