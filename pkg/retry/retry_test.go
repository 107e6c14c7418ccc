package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastPolicy keeps tests quick.
func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errors.New("connection reset"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_FatalStopsImmediately(t *testing.T) {
	sentinel := errors.New("invalid token")
	calls := 0

	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return Fatal(sentinel)
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, sentinel, err)
}

func TestDo_UnmarkedErrorIsNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return errors.New("requirements not met")
	})

	assert.Equal(t, 1, calls)
	assert.EqualError(t, err, "requirements not met")
}

func TestDo_ExhaustionUnwrapsTransientMarker(t *testing.T) {
	sentinel := errors.New("gateway timeout")
	calls := 0

	err := Do(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		return Transient(sentinel)
	})

	assert.Equal(t, 3, calls)
	require.Error(t, err)
	assert.Equal(t, sentinel, err)
	assert.False(t, IsTransient(err))
}

func TestDo_ContextCancellationStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Do(ctx, fastPolicy(10), func(context.Context) error {
		calls++
		cancel()
		return Transient(errors.New("slow backend"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_OnRetryObservesEveryAttempt(t *testing.T) {
	p := fastPolicy(3)
	var attempts []int
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}

	_ = Do(context.Background(), p, func(context.Context) error {
		return Transient(errors.New("flaky"))
	})

	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDoWithData_ReturnsValue(t *testing.T) {
	calls := 0
	got, err := DoWithData(context.Background(), fastPolicy(3), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", Transient(errors.New("retry me"))
		}
		return "saved", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "saved", got)
}

func TestMarkers(t *testing.T) {
	base := errors.New("boom")

	assert.True(t, IsTransient(Transient(base)))
	assert.True(t, IsFatal(Fatal(base)))
	assert.False(t, IsTransient(Fatal(base)))
	assert.False(t, IsFatal(Transient(base)))
	assert.NoError(t, Transient(nil))
	assert.NoError(t, Fatal(nil))

	// Markers stay visible through fmt-style wrapping.
	wrapped := errors.Join(errors.New("outer"), Transient(base))
	assert.True(t, IsTransient(wrapped))
	assert.True(t, errors.Is(Transient(base), base))
}

func TestPolicy_DelayGrowthIsCapped(t *testing.T) {
	p := Policy{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   300 * time.Millisecond,
		Multiplier: 2.0,
	}

	assert.Equal(t, 100*time.Millisecond, p.delay(1))
	assert.Equal(t, 200*time.Millisecond, p.delay(2))
	assert.Equal(t, 300*time.Millisecond, p.delay(3))
	assert.Equal(t, 300*time.Millisecond, p.delay(8))
}
