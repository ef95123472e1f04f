// Package ratelimit enforces the minimum interval between two OTP sends to
// the same identifier.
//
// A Limiter records the send time when it allows a request and leaves it
// untouched when it throttles one, so a throttled caller never extends its own
// wait. Check and record happen atomically per identifier.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed bool
	// RetryAfter is the remaining cooldown when Allowed is false.
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, identifier string) (Decision, error)
}
