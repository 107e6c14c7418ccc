package eventhandler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afritech-bridge/progress-engine/internal/domain/shared"
)

type fakeOutcomeStore struct {
	outcomes []CompletionOutcome
}

func (s *fakeOutcomeStore) RecordOutcome(_ context.Context, o CompletionOutcome) error {
	s.outcomes = append(s.outcomes, o)
	return nil
}

func TestOnLessonCompleted_RecordsOutcome(t *testing.T) {
	store := &fakeOutcomeStore{}
	handler := NewOnLessonCompletedHandler(store, nil)

	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	err := handler.Handle(shared.LessonCompletedEvent{
		BaseEvent:        shared.NewBaseEvent(shared.EventLessonCompleted, "session-1", at),
		StudentID:        "student-1",
		LessonID:         "lesson-1",
		FinalScore:       91.5,
		Method:           "manual",
		TimeSpentSeconds: 540,
	})
	require.NoError(t, err)

	require.Len(t, store.outcomes, 1)
	outcome := store.outcomes[0]
	assert.Equal(t, "student-1", outcome.StudentID)
	assert.Equal(t, "lesson-1", outcome.LessonID)
	assert.Equal(t, "manual", outcome.Method)
	require.NotNil(t, outcome.FinalScore)
	assert.Equal(t, 91.5, *outcome.FinalScore)
	assert.Equal(t, at, outcome.CompletedAt)
}

func TestOnLessonCompleted_IgnoresOtherEvents(t *testing.T) {
	store := &fakeOutcomeStore{}
	handler := NewOnLessonCompletedHandler(store, nil)

	err := handler.Handle(shared.SessionOpenedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventSessionOpened, "session-1", time.Now()),
	})
	require.NoError(t, err)
	assert.Empty(t, store.outcomes)
}

func TestOnSaveFailed_CountsConsecutiveFailures(t *testing.T) {
	handler := NewOnSaveFailedHandler(nil, DefaultSaveFailedConfig())

	failure := shared.ProgressSaveFailedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventProgressSaveFailed, "session-1", time.Now()),
		LessonID:  "lesson-1",
		Reason:    "connection refused",
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, handler.Handle(failure))
	}
	assert.Equal(t, 3, handler.failures["session-1"])

	// A successful save resets the streak.
	require.NoError(t, handler.Handle(shared.ProgressSavedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventProgressSaved, "session-1", time.Now()),
		LessonID:  "lesson-1",
	}))
	assert.Zero(t, handler.failures["session-1"])
}

func TestOnSaveFailed_SessionCloseDropsState(t *testing.T) {
	handler := NewOnSaveFailedHandler(nil, SaveFailedConfig{EscalateAfter: 2})

	require.NoError(t, handler.Handle(shared.ProgressSaveFailedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventProgressSaveFailed, "session-1", time.Now()),
		LessonID:  "lesson-1",
	}))
	require.NoError(t, handler.Handle(shared.SessionClosedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventSessionClosed, "session-1", time.Now()),
	}))

	_, tracked := handler.failures["session-1"]
	assert.False(t, tracked)
}
