// Package ratelimit throttles authenticated actors with a sliding window per
// actor. The window lives in process memory or in Redis when several
// processes serve the same actors.
package ratelimit

import (
	"context"
	"time"
)

// Limiter records one request against key and reports whether it fits in
// limit requests per window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is set on denial, in whole seconds.
	RetryAfter int
}

// Policy is the per-actor budget.
type Policy struct {
	Requests int
	Window   time.Duration
}

// Enabled reports whether the policy limits anything.
func (p Policy) Enabled() bool {
	return p.Requests > 0 && p.Window > 0
}

func retryAfter(now, resetAt time.Time) int {
	secs := int(resetAt.Sub(now).Round(time.Second) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
