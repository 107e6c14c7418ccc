package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerPair_FiresBothCallbacks(t *testing.T) {
	f := NewFactory(Config{TickInterval: 5 * time.Millisecond, SaveInterval: 20 * time.Millisecond})

	var ticks, saves atomic.Int64
	h := f.Start(
		func() { ticks.Add(1) },
		func() { saves.Add(1) },
	)
	defer h.Stop()

	assert.Eventually(t, func() bool {
		return ticks.Load() >= 5 && saves.Load() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestTimerPair_SuspendSkipsFires(t *testing.T) {
	f := NewFactory(Config{TickInterval: 5 * time.Millisecond, SaveInterval: 5 * time.Millisecond})

	var ticks atomic.Int64
	h := f.Start(func() { ticks.Add(1) }, func() {})
	defer h.Stop()

	assert.Eventually(t, func() bool { return ticks.Load() > 0 }, time.Second, time.Millisecond)

	h.Suspend()
	time.Sleep(20 * time.Millisecond) // drain an in-flight fire
	before := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, ticks.Load(), before+1, "suspended timers must not keep firing")

	h.Resume()
	assert.Eventually(t, func() bool { return ticks.Load() > before+1 }, time.Second, time.Millisecond)
}

func TestTimerPair_StopIsIdempotent(t *testing.T) {
	f := NewFactory(Config{TickInterval: 5 * time.Millisecond, SaveInterval: 5 * time.Millisecond})

	h := f.Start(func() {}, func() {})
	assert.Equal(t, 1, f.Active())

	h.Stop()
	h.Stop()
	assert.Eventually(t, func() bool { return f.Active() == 0 }, time.Second, time.Millisecond)
}

func TestFactory_StopAll(t *testing.T) {
	f := NewFactory(DefaultConfig())

	for i := 0; i < 3; i++ {
		f.Start(func() {}, func() {})
	}
	assert.Equal(t, 3, f.Active())

	f.StopAll()
	assert.Zero(t, f.Active())
}
