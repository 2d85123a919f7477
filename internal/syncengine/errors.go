package syncengine

import (
	"errors"
	"fmt"
	"time"
)

// ErrSyncInProgress is returned in coalesce mode when a sync pass is
// already running; the in-flight pass covers the caller's request.
var ErrSyncInProgress = errors.New("sync already in progress")

// WaitTimeoutError reports that a caller gave up waiting for an
// in-flight sync pass. It is distinct from a sync failure: no pass
// actually failed, the caller just stopped waiting for one.
type WaitTimeoutError struct {
	Timeout time.Duration
}

func (e WaitTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for in-flight sync", e.Timeout)
}

// BreakerOpenError reports that the circuit breaker was tripped when
// sync was requested; no network calls were made.
type BreakerOpenError struct {
	Remaining time.Duration
}

func (e BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open, %s of backoff remaining", e.Remaining)
}

// HealthCheckError reports that the pre-sync health probe failed; the
// pass was aborted before touching the queue or cursor.
type HealthCheckError struct {
	Err error
}

func (e HealthCheckError) Error() string { return fmt.Sprintf("health check failed: %v", e.Err) }
func (e HealthCheckError) Unwrap() error { return e.Err }

// StorageError reports a fatal local storage failure. The current pass
// stops with queue and cursor untouched so the next attempt is safe.
type StorageError struct {
	Op  string
	Err error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}
func (e StorageError) Unwrap() error { return e.Err }
