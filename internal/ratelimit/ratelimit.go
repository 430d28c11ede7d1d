// Package ratelimit throttles API callers with a sliding window.
//
// Authenticated requests are keyed by principal, anything else by client IP.
// A store failure lets the request through.
package ratelimit

import (
	"context"
	"math"
	"time"
)

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is whole seconds, set only when the request is denied.
	RetryAfter int
}

// Store counts requests per key over a trailing window.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

func retryAfter(now, resetAt time.Time) int {
	secs := int(math.Ceil(resetAt.Sub(now).Seconds()))
	return max(secs, 1)
}
