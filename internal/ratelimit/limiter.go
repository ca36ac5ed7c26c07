package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of a single Check call.
type Result struct {
	Success   bool `json:"success"`
	Remaining int  `json:"remaining"`
}

// Limiter decides whether a new attempt for an identifier fits inside a
// sliding window of the given length. A rejected attempt is never recorded.
type Limiter interface {
	Check(ctx context.Context, identifier string, maxAttempts int, window time.Duration) (Result, error)
	Reset(ctx context.Context, identifier string) error
}

// Denied is the result returned for over-limit attempts and for malformed
// arguments.
func Denied() Result {
	return Result{Success: false, Remaining: 0}
}

// ValidArgs reports whether a check is well formed. Backends answer every
// malformed check with Denied and record nothing.
func ValidArgs(identifier string, maxAttempts int, window time.Duration) bool {
	return identifier != "" && maxAttempts > 0 && window.Milliseconds() > 0
}
