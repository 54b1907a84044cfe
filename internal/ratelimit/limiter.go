package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the wait until the window frees a slot, never negative.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.ResetAt.Before(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// Limiter counts events per key over a sliding window. Rejected attempts do not count
// against the window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int) (Decision, error)
}

// Policy binds a limit to a named scope, e.g. ticket creation per client IP.
type Policy struct {
	Name    string
	Limit   int
	Limiter Limiter
}

// Check records an attempt for client under this policy.
func (p Policy) Check(ctx context.Context, client string) (Decision, error) {
	if p.Limiter == nil || p.Limit <= 0 {
		return Decision{Allowed: true}, nil
	}
	return p.Limiter.Allow(ctx, p.Name+":"+client, p.Limit)
}
