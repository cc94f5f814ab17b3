// Package retry holds the pure backoff and status-classification policy
// shared by the low-level HTTP requester and the transport queue. No I/O:
// callers own the sleeping.
package retry

import (
	"math/rand"
	"time"
)

// DefaultRetryableStatuses is the default set of HTTP statuses worth
// retrying: 429 plus all 5xx.
var DefaultRetryableStatuses = []int{429, 500, 502, 503, 504}

// Policy describes a jittered exponential backoff schedule.
type Policy struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	Multiplier        float64
	RetryableStatuses []int // nil means DefaultRetryableStatuses

	// Rand returns a uniform float64 in [0, 1). Nil uses math/rand/v2.
	// Injectable so tests can pin the jitter.
	Rand func() float64
}

// Default returns the policy used when the caller does not configure one.
func Default() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

// ShouldRetryStatus reports whether an HTTP status code is retryable under
// the policy's configured status list.
func (p Policy) ShouldRetryStatus(status int) bool {
	statuses := p.RetryableStatuses
	if statuses == nil {
		statuses = DefaultRetryableStatuses
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	// 5xx beyond the enumerated gateway statuses still count by default.
	if p.RetryableStatuses == nil && status >= 500 && status < 600 {
		return true
	}
	return false
}

// Delay computes the backoff before retry attempt n (0-based): the capped
// exponential min(initial·multiplier^n, max), scaled by a jitter factor drawn
// uniformly from [0.5, 1.0) to avoid thundering-herd retries.
func (p Policy) Delay(attempt int) time.Duration {
	initial := p.InitialDelay
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	max := p.MaxDelay
	if max <= 0 {
		max = 30 * time.Second
	}
	mult := p.Multiplier
	if mult <= 1 {
		mult = 2
	}

	d := float64(initial)
	for i := 0; i < attempt; i++ {
		d *= mult
		if d >= float64(max) {
			d = float64(max)
			break
		}
	}
	if d > float64(max) {
		d = float64(max)
	}

	rnd := p.Rand
	if rnd == nil {
		rnd = rand.Float64 //nolint:gosec // jitter doesn't need crypto-strength randomness
	}
	jitter := 0.5 + rnd()/2

	return time.Duration(d * jitter)
}
