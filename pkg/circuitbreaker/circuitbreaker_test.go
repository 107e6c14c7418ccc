package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func failing(context.Context) error { return errBackend }

func succeeding(context.Context) error { return nil }

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := New(Settings{FailureThreshold: 3, CoolDown: time.Minute})

	for i := 0; i < 3; i++ {
		err := b.Do(context.Background(), failing)
		assert.Equal(t, errBackend, err)
	}
	require.Equal(t, StateOpen, b.State())

	// Rejected without invoking the call.
	called := false
	err := b.Do(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.Equal(t, ErrOpen, err)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsFailureStreak(t *testing.T) {
	b := New(Settings{FailureThreshold: 3, CoolDown: time.Minute})

	require.Error(t, b.Do(context.Background(), failing))
	require.Error(t, b.Do(context.Background(), failing))
	require.NoError(t, b.Do(context.Background(), succeeding))
	require.Error(t, b.Do(context.Background(), failing))
	require.Error(t, b.Do(context.Background(), failing))

	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_FilteredErrorsDoNotCount(t *testing.T) {
	errRefused := errors.New("requirements not met")
	b := New(Settings{
		FailureThreshold: 2,
		CoolDown:         time.Minute,
		IsFailure: func(err error) bool {
			return !errors.Is(err, errRefused)
		},
	})

	for i := 0; i < 10; i++ {
		err := b.Do(context.Background(), func(context.Context) error { return errRefused })
		assert.Equal(t, errRefused, err)
	}

	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_RecoversThroughHalfOpen(t *testing.T) {
	var transitions []State
	b := New(Settings{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		CoolDown:         5 * time.Millisecond,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, to)
		},
	})

	require.Error(t, b.Do(context.Background(), failing))
	require.Equal(t, StateOpen, b.State())

	time.Sleep(10 * time.Millisecond)

	// First probe succeeds but one success is not enough to close.
	require.NoError(t, b.Do(context.Background(), succeeding))
	require.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Do(context.Background(), succeeding))
	assert.Equal(t, StateClosed, b.State())

	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New(Settings{FailureThreshold: 1, CoolDown: 5 * time.Millisecond})

	require.Error(t, b.Do(context.Background(), failing))
	time.Sleep(10 * time.Millisecond)

	require.Error(t, b.Do(context.Background(), failing))
	assert.Equal(t, StateOpen, b.State())

	// The cool-down restarts from the half-open failure.
	assert.Equal(t, ErrOpen, b.Do(context.Background(), succeeding))
}

func TestBreaker_SingleProbeSlot(t *testing.T) {
	b := New(Settings{FailureThreshold: 1, CoolDown: time.Millisecond})

	require.Error(t, b.Do(context.Background(), failing))
	time.Sleep(5 * time.Millisecond)

	release := make(chan struct{})
	probeStarted := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- b.Do(context.Background(), func(context.Context) error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	assert.Equal(t, ErrProbeInFlight, b.Do(context.Background(), succeeding))

	close(release)
	require.NoError(t, <-done)
}

func TestBreaker_ResetClosesImmediately(t *testing.T) {
	b := New(Settings{FailureThreshold: 1, CoolDown: time.Hour})

	require.Error(t, b.Do(context.Background(), failing))
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Do(context.Background(), succeeding))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
