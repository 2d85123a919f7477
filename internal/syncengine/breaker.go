package syncengine

import (
	"sync"
	"time"
)

const (
	// breakerThreshold is the number of consecutive rate-limit failures
	// that trips the breaker.
	breakerThreshold = 3

	// baseBackoff is the first cool-off period after a trip.
	baseBackoff = 30 * time.Second

	// maxBackoff caps the effective cool-off regardless of multiplier.
	maxBackoff = 300 * time.Second

	// maxMultiplier caps backoff escalation at 10x the base.
	maxMultiplier = 10.0
)

// Breaker is the rate-limit circuit breaker. It counts consecutive
// rate-limit failures and, at the threshold, blocks outbound calls for
// an escalating cool-off period. Pure in-memory state, no network or
// storage side effects. Safe for concurrent use.
//
// The reset behavior is deliberately asymmetric: a successful call
// resets the consecutive-failure counter but NOT the backoff
// multiplier, so repeated trip/recover cycles within a session keep
// escalating. Only HardReset clears the multiplier.
type Breaker struct {
	mu  sync.Mutex
	now func() time.Time

	consecutiveFailures int
	multiplier          float64
	backoffUntil        time.Time
}

// NewBreaker creates a breaker using the real clock.
func NewBreaker() *Breaker {
	return NewBreakerWithClock(time.Now)
}

// NewBreakerWithClock creates a breaker with an injectable clock for
// deterministic tests.
func NewBreakerWithClock(now func() time.Time) *Breaker {
	return &Breaker{now: now, multiplier: 1.0}
}

// RecordFailure registers one rate-limit response. Reaching the
// threshold trips the breaker and escalates the multiplier.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	if b.consecutiveFailures < breakerThreshold {
		return
	}

	backoff := time.Duration(float64(baseBackoff) * b.multiplier)
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	b.backoffUntil = b.now().Add(backoff)

	b.multiplier *= 2
	if b.multiplier > maxMultiplier {
		b.multiplier = maxMultiplier
	}
	b.consecutiveFailures = 0
}

// RecordSuccess registers any successful network operation, clearing
// the consecutive-failure counter. The multiplier is left alone.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.consecutiveFailures = 0
	b.mu.Unlock()
}

// Tripped reports whether the breaker is currently blocking calls.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now().Before(b.backoffUntil)
}

// BackoffRemaining returns how long until calls may resume, zero when
// the breaker is closed.
func (b *Breaker) BackoffRemaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.backoffUntil.Sub(b.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset clears the failure counter and ends any active cool-off but
// preserves the escalation multiplier, so a breaker that keeps
// tripping backs off longer each time even across resets.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.consecutiveFailures = 0
	b.backoffUntil = time.Time{}
	b.mu.Unlock()
}

// HardReset clears all breaker state including the multiplier. Used
// for administrative recovery and test determinism.
func (b *Breaker) HardReset() {
	b.mu.Lock()
	b.consecutiveFailures = 0
	b.multiplier = 1.0
	b.backoffUntil = time.Time{}
	b.mu.Unlock()
}
