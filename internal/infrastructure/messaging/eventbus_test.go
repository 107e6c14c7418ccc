package messaging

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afritech-bridge/progress-engine/internal/domain/shared"
)

func TestEventBus_RoutesByType(t *testing.T) {
	bus := New(Config{})
	defer bus.Close()

	var mu sync.Mutex
	var saved, completed int

	require.NoError(t, bus.Subscribe(shared.EventProgressSaved, func(shared.Event) error {
		mu.Lock()
		defer mu.Unlock()
		saved++
		return nil
	}))
	require.NoError(t, bus.Subscribe(shared.EventLessonCompleted, func(shared.Event) error {
		mu.Lock()
		defer mu.Unlock()
		completed++
		return nil
	}))

	now := time.Now()
	require.NoError(t, bus.Publish(shared.ProgressSavedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventProgressSaved, "s-1", now),
	}))
	require.NoError(t, bus.Publish(shared.ProgressSavedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventProgressSaved, "s-1", now),
	}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return saved == 2 && completed == 0
	}, time.Second, time.Millisecond)
}

func TestEventBus_SubscribeAllSeesEverything(t *testing.T) {
	bus := New(Config{})
	defer bus.Close()

	var mu sync.Mutex
	var seen []shared.EventType
	require.NoError(t, bus.SubscribeAll(func(ev shared.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.EventType())
		return nil
	}))

	now := time.Now()
	require.NoError(t, bus.Publish(shared.SessionOpenedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventSessionOpened, "s-1", now),
	}))
	require.NoError(t, bus.Publish(shared.SessionClosedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventSessionClosed, "s-1", now),
	}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, time.Millisecond)
}

func TestEventBus_ClosedBusRefusesPublish(t *testing.T) {
	bus := New(Config{})
	require.NoError(t, bus.Close())

	err := bus.Publish(shared.SessionOpenedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventSessionOpened, "s-1", time.Now()),
	})
	assert.ErrorIs(t, err, ErrEventBusClosed)

	err = bus.Subscribe(shared.EventSessionOpened, func(shared.Event) error { return nil })
	assert.ErrorIs(t, err, ErrEventBusClosed)
}

func TestEventBus_CloseWaitsForPendingHandlers(t *testing.T) {
	bus := New(Config{WorkerPoolSize: 1})

	started := make(chan struct{})
	done := make(chan struct{})
	require.NoError(t, bus.Subscribe(shared.EventProgressSaved, func(shared.Event) error {
		close(started)
		time.Sleep(20 * time.Millisecond)
		close(done)
		return nil
	}))
	require.NoError(t, bus.Publish(shared.ProgressSavedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventProgressSaved, "s-1", time.Now()),
	}))

	<-started
	require.NoError(t, bus.Close())
	select {
	case <-done:
	default:
		t.Fatal("Close returned before the pending handler finished")
	}
}
