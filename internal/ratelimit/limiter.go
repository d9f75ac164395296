package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter enforces a per-caller request budget. The limiter itself never
// errors; exceeding the quota is a normal denied Decision.
type Limiter interface {
	Allow(ctx context.Context, callerID string) Decision
}
