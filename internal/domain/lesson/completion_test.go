package lesson

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewCompletionRecord(t *testing.T) {
	r, err := NewCompletionRecord("lesson-42")
	assert.NoError(t, err)
	assert.Equal(t, StateLoading, r.State)
	assert.False(t, r.IsCompleted)

	_, err = NewCompletionRecord("")
	assert.ErrorIs(t, err, ErrInvalidLessonID)
}

func TestCompletionRecord_FinishLoading(t *testing.T) {
	r, _ := NewCompletionRecord("lesson-1")

	assert.NoError(t, r.FinishLoading(nil))
	assert.Equal(t, StateTracking, r.State)

	// Loading is a one-shot transition.
	assert.ErrorIs(t, r.FinishLoading(nil), ErrNotTracking)
}

func TestCompletionRecord_FinishLoadingAlreadyCompleted(t *testing.T) {
	r, _ := NewCompletionRecord("lesson-1")
	score := 92.5

	assert.NoError(t, r.FinishLoading(&PersistedProgress{Completed: true, LessonScore: &score}))
	assert.Equal(t, StateCompleted, r.State)
	assert.True(t, r.IsCompleted)
	assert.Equal(t, 92.5, r.FinalScore)
	assert.True(t, r.Frozen())
}

func TestCompletionRecord_HappyPath(t *testing.T) {
	r, _ := NewCompletionRecord("lesson-1")
	_ = r.FinishLoading(nil)

	assert.NoError(t, r.BeginCompletion(MethodManual))
	assert.Equal(t, StateCompleting, r.State)

	score := 88.0
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := r.Confirm(Confirmation{
		Completed:       true,
		FinalScore:      &score,
		NewAchievements: []string{"first-lesson"},
		NextLessonID:    "lesson-2",
		NextUnlocked:    true,
	}, now)

	assert.NoError(t, err)
	assert.Equal(t, StateCompleted, r.State)
	assert.True(t, r.IsCompleted)
	assert.Equal(t, 88.0, r.FinalScore)
	assert.Equal(t, "lesson-2", r.NextLessonID)
	assert.True(t, r.NextLessonUnlocked)
	assert.Equal(t, []string{"first-lesson"}, r.Achievements)
	assert.Equal(t, now, r.CompletedAt)
	assert.Nil(t, r.LastFailure)
}

func TestCompletionRecord_ReentrySuppressedWhileInFlight(t *testing.T) {
	r, _ := NewCompletionRecord("lesson-1")
	_ = r.FinishLoading(nil)
	_ = r.BeginCompletion(MethodManual)

	assert.ErrorIs(t, r.BeginCompletion(MethodManual), ErrCompletionInFlight)
}

func TestCompletionRecord_FrozenAfterCompletion(t *testing.T) {
	r, _ := NewCompletionRecord("lesson-1")
	_ = r.FinishLoading(nil)
	_ = r.BeginCompletion(MethodAutomatic)
	_ = r.Confirm(Confirmation{Completed: true}, time.Now())

	assert.True(t, r.Frozen())
	assert.ErrorIs(t, r.BeginCompletion(MethodManual), ErrViewFrozen)
}

func TestCompletionRecord_RevertRecoverableFailure(t *testing.T) {
	r, _ := NewCompletionRecord("lesson-1")
	_ = r.FinishLoading(nil)
	_ = r.BeginCompletion(MethodAutomatic)

	err := r.Revert(Failure{
		Kind:                FailureRequirementsNotMet,
		Message:             "quiz not passed",
		MissingRequirements: []string{"quiz"},
	})

	// Recoverable failure resumes accrual; the machine is back in
	// Tracking with the missing requirements surfaced.
	assert.NoError(t, err)
	assert.Equal(t, StateTracking, r.State)
	assert.False(t, r.IsCompleted)
	assert.Equal(t, []string{"quiz"}, r.Requirements)
	assert.Equal(t, FailureRequirementsNotMet, r.LastFailure.Kind)

	// A later attempt is allowed.
	assert.NoError(t, r.BeginCompletion(MethodManual))
}

func TestCompletionRecord_RevertRejectionIsTerminal(t *testing.T) {
	r, _ := NewCompletionRecord("lesson-1")
	_ = r.FinishLoading(nil)
	_ = r.BeginCompletion(MethodManual)

	err := r.Revert(Failure{Kind: FailureRejected, Message: "not enrolled"})

	assert.NoError(t, err)
	assert.Equal(t, StateFailed, r.State)
	assert.True(t, r.State.Terminal())
	assert.ErrorIs(t, r.BeginCompletion(MethodManual), ErrNotTracking)
}

func TestCompletionRecord_AutoCompletedBySaveAck(t *testing.T) {
	r, _ := NewCompletionRecord("lesson-1")
	_ = r.FinishLoading(nil)

	score := 95.0
	now := time.Now()
	err := r.ConfirmAutoCompleted(SaveAck{
		AutoCompleted:      true,
		FinalScore:         &score,
		NextLessonUnlocked: true,
		NextLessonID:       "lesson-2",
	}, now)

	assert.NoError(t, err)
	assert.Equal(t, StateCompleted, r.State)
	assert.Equal(t, MethodAutomatic, r.Method)
	assert.Equal(t, 95.0, r.FinalScore)
	assert.True(t, r.NextLessonUnlocked)
}

func TestFailureKind_Recoverable(t *testing.T) {
	recoverable := []FailureKind{
		FailureAuthNotReady,
		FailureRequirementsNotMet,
		FailureQuizRequired,
		FailureAssignmentRequired,
		FailureNetwork,
	}
	for _, k := range recoverable {
		assert.True(t, k.Recoverable(), string(k))
	}
	assert.False(t, FailureRejected.Recoverable())
}

func TestThreshold(t *testing.T) {
	th, err := NewThreshold(0)
	assert.NoError(t, err)
	assert.True(t, th.Reached(80))
	assert.False(t, th.Reached(79.9))

	th, err = NewThreshold(60)
	assert.NoError(t, err)
	assert.True(t, th.Reached(60))

	_, err = NewThreshold(150)
	assert.ErrorIs(t, err, ErrThresholdOutOfRange)
}

func TestSavePolicy_ShouldSync(t *testing.T) {
	th, _ := NewThreshold(80)
	p := SavePolicy{Threshold: th}

	// Below threshold, not fully read, not forced: withheld.
	assert.False(t, p.ShouldSync(40, 50, false))

	// Forced writes always go through.
	assert.True(t, p.ShouldSync(0, 0, true))

	// Threshold reached.
	assert.True(t, p.ShouldSync(80, 50, false))

	// Fully read content syncs even below the score threshold.
	assert.True(t, p.ShouldSync(40, 100, false))
}

func TestAutoSaveCursor(t *testing.T) {
	var c AutoSaveCursor
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(10 * time.Second)

	c.RecordAttempt(t1)
	c.RecordFailure()
	c.RecordAttempt(t2)
	c.RecordSuccess(t2)

	assert.Equal(t, 2, c.Attempts)
	assert.Equal(t, 1, c.Failures)
	assert.Equal(t, t2, c.LastAttemptAt)
	assert.Equal(t, t2, c.LastSuccessAt)

	c.Reset()
	assert.Zero(t, c.Attempts)
	assert.True(t, c.LastAttemptAt.IsZero())
}
