// Package retry runs an operation until it succeeds, the attempt budget is
// spent, or the context ends.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/leafscan/leafscan/internal/errors"
)

// Policy describes how often and how fast an operation is retried.
type Policy struct {
	MaxAttempts int           // total attempts, 0 retries forever
	Delay       time.Duration // delay before the second attempt
	Backoff     float64       // delay multiplier per attempt, values <= 1 keep the delay fixed
	MaxDelay    time.Duration // upper bound for the delay, 0 leaves it uncapped
	Jitter      float64       // fraction of randomization, 0.1 means ±10%

	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error, next time.Duration)
}

// Forever retries at a fixed interval until success or cancellation.
func Forever(delay time.Duration) Policy {
	return Policy{Delay: delay}
}

// Once makes a single attempt.
func Once() Policy {
	return Policy{MaxAttempts: 1}
}

// Backoff retries up to attempts times with exponential delays and ±10% jitter.
func Backoff(attempts int, initial, maxDelay time.Duration) Policy {
	return Policy{
		MaxAttempts: attempts,
		Delay:       initial,
		Backoff:     2.0,
		MaxDelay:    maxDelay,
		Jitter:      0.1,
	}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// DelayFor returns the wait before attempt+1, given that attempt (1-based) failed.
func (p Policy) DelayFor(attempt int) time.Duration {
	d := float64(p.Delay)
	if p.Backoff > 1 && attempt > 1 {
		d *= math.Pow(p.Backoff, float64(attempt-1))
	}
	if p.Jitter > 0 {
		d *= 1 - p.Jitter + 2*p.Jitter*rand.Float64()
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Do calls fn until it returns nil. Attempts are numbered from 1. The last
// error is returned when the budget runs out or fn returns a Permanent error;
// cancellation returns a timeout error wrapping both the context error and
// the last failure.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return aborted(err, lastErr, attempt-1)
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return lastErr
		}

		wait := p.DelayFor(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return aborted(ctx.Err(), lastErr, attempt)
		case <-timer.C:
		}
	}
}

func aborted(ctxErr, lastErr error, attempts int) error {
	return errors.New(errors.Join(ctxErr, lastErr)).
		Component("retry").
		Category(errors.CategoryRetry).
		Context("attempts", attempts).
		Build()
}
