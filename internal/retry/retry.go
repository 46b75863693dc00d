// Package retry provides the single retry policy used for provider calls
// and stream reconnects.
package retry

import (
	"context"
	"time"
)

// Policy defines bounded retries with exponential backoff.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the delay before the second attempt.
	InitialDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// Multiplier scales the delay after each attempt.
	Multiplier float64
}

// DefaultPolicy returns the policy applied to provider HTTP calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// Do invokes fn until it succeeds, attempts are exhausted, or ctx is done.
// fn returning (false, err) stops immediately with err (permanent failure);
// (true, err) retries after backoff.
func (p Policy) Do(ctx context.Context, fn func() (retryable bool, err error)) error {
	delay := p.InitialDelay
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * p.Multiplier)
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}

		retryable, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}

	return lastErr
}

// NextDelay returns the backoff delay for the given zero-based attempt,
// for callers that manage their own loop (the stream reconnector).
func (p Policy) NextDelay(attempt int) time.Duration {
	delay := p.InitialDelay
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}
