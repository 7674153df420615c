// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jllopis/cgcs/pkg/errors"
)

// Retry runs an operation with exponential backoff.
type Retry struct {
	// MaxAttempts is the maximum number of attempts (at least 1).
	MaxAttempts int

	// InitialDelay is the delay before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps the backoff.
	MaxDelay time.Duration

	// Jitter in [0,1]; 0.1 means ±10%.
	Jitter float64

	// Retryable decides whether err is worth another attempt. Nil retries
	// every error.
	Retryable func(error) bool
}

// DefaultRetry returns 3 attempts starting at 20ms, capped at 1s.
func DefaultRetry() Retry {
	return Retry{
		MaxAttempts:  3,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     time.Second,
		Jitter:       0.1,
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or attempts
// run out. The last error is returned.
func (r Retry) Do(ctx context.Context, fn func() error) error {
	attempts := max(r.MaxAttempts, 1)
	var last error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(r.backoff(attempt))
			select {
			case <-ctx.Done():
				t.Stop()
				return errors.New(errors.CodeCanceled, "context canceled during retry", ctx.Err()).
					WithContext("attempt", attempt)
			case <-t.C:
			}
		}
		last = fn()
		if last == nil {
			return nil
		}
		if r.Retryable != nil && !r.Retryable(last) {
			return last
		}
	}
	return last
}

func (r Retry) backoff(attempt int) time.Duration {
	d := time.Duration(float64(r.InitialDelay) * math.Pow(2, float64(attempt-1)))
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if r.Jitter > 0 {
		d += time.Duration(float64(d) * r.Jitter * (2*rand.Float64() - 1))
	}
	return max(d, 0)
}
