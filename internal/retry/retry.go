// Package retry implements bounded retry with exponential backoff and jitter.
// It is used on the claim path, where two workers contending for the same job
// row produce transient serialization failures that resolve within a few
// milliseconds.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy defines the retry/backoff parameters for an operation.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterFrac  float64 // 0.0-1.0 fraction of delay to jitter
}

// Claims is the policy for atomic job claims: many cheap attempts inside a
// total budget on the order of one second.
var Claims = Policy{
	MaxAttempts: 15,
	BaseDelay:   5 * time.Millisecond,
	MaxDelay:    150 * time.Millisecond,
	JitterFrac:  0.5,
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do returns it immediately instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do executes fn until it succeeds, fails permanently, exhausts the attempt
// budget, or the context is cancelled. The last error is returned unwrapped of
// any Permanent marker.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 10 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = time.Second
	}
	if p.JitterFrac <= 0 {
		p.JitterFrac = 0.25
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			break
		}

		exp := attempt - 1
		if exp > 10 {
			exp = 10 // cap exponent to prevent overflow
		}
		backoff := p.BaseDelay * (1 << exp)
		if backoff > p.MaxDelay {
			backoff = p.MaxDelay
		}
		jitter := time.Duration(rand.Float64() * p.JitterFrac * float64(backoff) * 2)
		sleep := backoff - time.Duration(p.JitterFrac*float64(backoff)) + jitter // +/- around base

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
