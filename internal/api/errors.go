package api

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// RateLimitError reports a 429 from the server. It is never retried
// inside the client; the sync engine's circuit breaker owns rate-limit
// policy.
type RateLimitError struct {
	// RetryAfter is the server's requested cool-off, zero if the
	// Retry-After header was absent or unparseable.
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// TransientError wraps a failure that is expected to clear on its own:
// connection loss, timeouts, 5xx responses. Transient failures are
// retried on the next sync pass and never counted against a mutation's
// attempt budget by the breaker.
type TransientError struct {
	Err error
}

func (e TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e TransientError) Unwrap() error { return e.Err }

// ValidationError reports a request the server refused as malformed
// (4xx other than 401/404/429). It counts against the mutation's
// attempt budget.
type ValidationError struct {
	StatusCode int
	Message    string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("rejected with status %d: %s", e.StatusCode, e.Message)
}

// NotFoundError reports a 404 for a specific entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// IsRateLimit reports whether err is (or wraps) a RateLimitError.
func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

// IsTransient reports whether err is a failure that should be retried
// on the next pass without penalty.
func IsTransient(err error) bool {
	var te TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}
