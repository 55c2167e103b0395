package chat

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultHourlyLimit applies to any role missing from the limits table.
const DefaultHourlyLimit = 20

// DefaultRoleLimits is the built-in role → messages-per-hour table.
// Deployments can override it through the policy file.
var DefaultRoleLimits = map[string]int{
	"TEACHER": 200,
	"STUDENT": 30,
	"ADMIN":   1000,
}

// RateLimiter enforces per-user hourly message quotas. Each user gets a lazy
// token bucket sized by their role: capacity equals the hourly limit and
// tokens refill continuously at capacity-per-hour, so quota accrues with
// elapsed time instead of resetting on a window boundary.
//
// Buckets live for the process lifetime. Memory grows with the number of
// distinct active users, which is bounded and acceptable here.
//
// RateLimiter is safe for concurrent use from multiple goroutines.
type RateLimiter struct {
	mu           sync.Mutex
	roleLimits   map[string]int
	defaultLimit int
	buckets      map[string]*rate.Limiter
}

// NewRateLimiter builds a RateLimiter from a role → hourly-limit table.
// A nil or empty table falls back to DefaultRoleLimits; defaultLimit ≤ 0
// falls back to DefaultHourlyLimit.
func NewRateLimiter(roleLimits map[string]int, defaultLimit int) *RateLimiter {
	if len(roleLimits) == 0 {
		roleLimits = DefaultRoleLimits
	}
	if defaultLimit <= 0 {
		defaultLimit = DefaultHourlyLimit
	}
	return &RateLimiter{
		roleLimits:   roleLimits,
		defaultLimit: defaultLimit,
		buckets:      make(map[string]*rate.Limiter),
	}
}

// Allow consumes one token from userID's bucket, creating it on first use
// with the limit for role. Returns false when the bucket is empty — a
// backpressure signal the caller maps to a throttled response, not an error.
//
// The bucket is keyed by user, so a role change mid-process keeps the bucket
// created under the original role. Buckets are never resized or destroyed.
func (r *RateLimiter) Allow(userID, role string) bool {
	r.mu.Lock()
	bucket, ok := r.buckets[userID]
	if !ok {
		limit := r.limitFor(role)
		bucket = rate.NewLimiter(rate.Limit(float64(limit)/time.Hour.Seconds()), limit)
		r.buckets[userID] = bucket
	}
	r.mu.Unlock()

	return bucket.Allow()
}

// LimitFor returns the hourly limit configured for role.
func (r *RateLimiter) LimitFor(role string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limitFor(role)
}

func (r *RateLimiter) limitFor(role string) int {
	if limit, ok := r.roleLimits[role]; ok && limit > 0 {
		return limit
	}
	return r.defaultLimit
}
