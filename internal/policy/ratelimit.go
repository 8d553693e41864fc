package policy

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// bucketGranularity is the time resolution for counter buckets. One
	// second is enough for limits expressed per minute.
	bucketGranularity = time.Second

	// rateWindow is the sliding window over which actions are counted.
	rateWindow = time.Minute

	// gcInterval controls how often expired buckets are pruned. Checked
	// lazily on Allow rather than via a background goroutine.
	gcInterval = 30 * time.Second
)

// bucket holds the count for a single time slice.
type bucket struct {
	key   int64 // unix-second timestamp of the bucket start
	count int
}

// RateLimiter provides thread-safe sliding-window rate limiting over a
// one-minute window using time-bucketed counters, one counter set per
// session. With a limit of N the Nth action inside the window is admitted
// and the N+1th is limited. Expired buckets are lazily garbage-collected.
type RateLimiter struct {
	mu       sync.Mutex
	sessions map[string][]bucket
	lastGC   time.Time
	now      func() time.Time
	logger   *slog.Logger
}

// NewRateLimiter creates a new RateLimiter.
func NewRateLimiter(logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		sessions: make(map[string][]bucket),
		lastGC:   time.Now(),
		now:      time.Now,
		logger:   logger.With("component", "policy.RateLimiter"),
	}
}

// Allow records an action attempt for the session and reports whether it is
// within the limit. Limited attempts are not recorded, so a burst does not
// extend its own penalty. A limit of zero or less disables the check.
func (r *RateLimiter) Allow(sessionID string, limit int) bool {
	if limit <= 0 {
		return true
	}

	now := r.now()
	key := now.Truncate(bucketGranularity).Unix()
	cutoff := now.Add(-rateWindow).Truncate(bucketGranularity).Unix()

	r.mu.Lock()
	defer r.mu.Unlock()

	buckets := r.sessions[sessionID]
	total := 0
	for _, b := range buckets {
		if b.key > cutoff {
			total += b.count
		}
	}
	if total >= limit {
		r.maybeGCLocked(now)
		return false
	}

	if len(buckets) > 0 && buckets[len(buckets)-1].key == key {
		buckets[len(buckets)-1].count++
	} else {
		buckets = append(buckets, bucket{key: key, count: 1})
	}
	r.sessions[sessionID] = buckets

	r.maybeGCLocked(now)
	return true
}

// Count returns the number of actions recorded for the session within the
// sliding window.
func (r *RateLimiter) Count(sessionID string) int {
	cutoff := r.now().Add(-rateWindow).Truncate(bucketGranularity).Unix()

	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for _, b := range r.sessions[sessionID] {
		if b.key > cutoff {
			total += b.count
		}
	}
	return total
}

// Reset removes all tracked counters for a session. Call this when a session
// ends to free memory.
func (r *RateLimiter) Reset(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	r.logger.Debug("reset rate limit counters", "session_id", sessionID)
}

// maybeGCLocked prunes buckets older than the window. Must be called while
// r.mu is held.
func (r *RateLimiter) maybeGCLocked(now time.Time) {
	if now.Sub(r.lastGC) < gcInterval {
		return
	}
	r.lastGC = now

	cutoff := now.Add(-rateWindow).Truncate(bucketGranularity).Unix()
	for sid, buckets := range r.sessions {
		firstValid := len(buckets)
		for i, b := range buckets {
			if b.key > cutoff {
				firstValid = i
				break
			}
		}
		if firstValid == len(buckets) {
			delete(r.sessions, sid)
		} else if firstValid > 0 {
			r.sessions[sid] = buckets[firstValid:]
		}
	}
}
