package models

import "time"

// ============================================================================
// Backoff Controller
//
// Pure retry scheduling: delay(retryCount) = min(base * 2^retryCount, cap).
// No I/O, no clock reads; the caller supplies now. Delay is monotonic
// non-decreasing in the retry count and always bounded by the cap.
// ============================================================================

// Default backoff configuration: first retry after 5s, doubling to a
// ceiling of 10 minutes.
const (
	defaultBackoffBase = 5 * time.Second
	defaultBackoffCap  = 10 * time.Minute
)

// BackoffPolicy computes retry delays from a retry count.
type BackoffPolicy struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultBackoffPolicy returns the standard 5s-to-10m policy.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{Base: defaultBackoffBase, Cap: defaultBackoffCap}
}

// Delay returns the wait before the retryCount-th retry: base for the first
// failure, doubling per subsequent failure, capped. Doubling by repeated
// multiplication (rather than a shift) keeps large retry counts from
// overflowing past the cap check.
func (p BackoffPolicy) Delay(retryCount int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	limit := p.Cap
	if limit <= 0 {
		limit = defaultBackoffCap
	}
	if p.Base >= limit {
		return limit
	}

	delay := p.Base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= limit || delay <= 0 {
			return limit
		}
	}
	return delay
}

// NextEligibleAt returns the earliest instant the record may be dispatched
// again after its retryCount-th failure.
func (p BackoffPolicy) NextEligibleAt(now time.Time, retryCount int) time.Time {
	return now.Add(p.Delay(retryCount))
}
