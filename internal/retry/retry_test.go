package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafscan/leafscan/internal/errors"
)

var errFlaky = errors.NewStd("flaky")

func TestDoRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	var retries []int
	p := Forever(time.Millisecond)
	p.OnRetry = func(attempt int, err error, _ time.Duration) {
		retries = append(retries, attempt)
		assert.ErrorIs(t, err, errFlaky)
	}

	calls := 0
	err := Do(t.Context(), p, func(_ context.Context, attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		if attempt < 4 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []int{1, 2, 3}, retries)
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(t.Context(), Policy{MaxAttempts: 3, Delay: time.Millisecond}, func(context.Context, int) error {
		calls++
		return errFlaky
	})
	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
}

func TestOnceMakesSingleAttempt(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(t.Context(), Once(), func(context.Context, int) error {
		calls++
		return errFlaky
	})
	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
}

func TestPermanentErrorStopsRetrying(t *testing.T) {
	t.Parallel()

	calls := 0
	bad := errors.ValidationError("test", "missing id")
	err := Do(t.Context(), Forever(time.Millisecond), func(context.Context, int) error {
		calls++
		return Permanent(bad)
	})
	require.ErrorIs(t, err, bad)
	assert.False(t, IsPermanent(err), "the marker is stripped on return")
	assert.Equal(t, 1, calls)
	assert.NoError(t, Permanent(nil))
}

func TestDoAbortsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	calls := 0
	err := Do(ctx, Forever(time.Hour), func(context.Context, int) error {
		calls++
		cancel()
		return errFlaky
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errFlaky)
	assert.True(t, errors.IsCategory(err, errors.CategoryRetry))
	assert.Equal(t, 1, calls)
}

func TestDelayFor(t *testing.T) {
	t.Parallel()

	fixed := Forever(2 * time.Second)
	assert.Equal(t, 2*time.Second, fixed.DelayFor(1))
	assert.Equal(t, 2*time.Second, fixed.DelayFor(50))

	exp := Policy{Delay: time.Second, Backoff: 2}
	assert.Equal(t, time.Second, exp.DelayFor(1))
	assert.Equal(t, 4*time.Second, exp.DelayFor(3))
	assert.Equal(t, 512*time.Second, exp.DelayFor(10), "uncapped when MaxDelay is zero")

	capped := Policy{Delay: time.Second, Backoff: 2, MaxDelay: 5 * time.Second}
	assert.Equal(t, 5*time.Second, capped.DelayFor(10))

	jittered := Backoff(5, time.Second, time.Minute)
	for range 20 {
		d := jittered.DelayFor(1)
		assert.GreaterOrEqual(t, d, 900*time.Millisecond)
		assert.LessOrEqual(t, d, 1100*time.Millisecond)
	}
}
