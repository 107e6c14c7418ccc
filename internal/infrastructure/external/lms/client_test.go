package lms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afritech-bridge/progress-engine/internal/application/tracking"
	"github.com/afritech-bridge/progress-engine/internal/domain/lesson"
	"github.com/afritech-bridge/progress-engine/internal/domain/shared"
	"github.com/afritech-bridge/progress-engine/pkg/retry"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig(srv.URL)
	cfg.APIToken = "test-token"
	return NewClient(cfg)
}

func TestClient_FetchProgress(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "student-1", r.URL.Query().Get("student_id"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(progressDTO{
			LessonID:         "lesson-1",
			StudentID:        "student-1",
			ReadingProgress:  62.5,
			EngagementScore:  40,
			ScrollProgress:   80,
			TimeSpentSeconds: 210,
			Completed:        false,
		})
	})

	prior, err := client.FetchProgress(context.Background(), "student-1", lesson.ID("lesson-1"))
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, 62.5, prior.ReadingProgress)
	assert.Equal(t, 80.0, prior.ScrollProgress)
	assert.Equal(t, 210, prior.TimeSpentSeconds)
	assert.False(t, prior.Completed)
}

func TestClient_FetchProgress_NeverTouched(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"PROGRESS_NOT_FOUND","message":"no progress"}`, http.StatusNotFound)
	})

	prior, err := client.FetchProgress(context.Background(), "student-1", lesson.ID("lesson-1"))
	assert.NoError(t, err)
	assert.Nil(t, prior)
}

func TestClient_FetchProgress_ClampsOutOfRangeValues(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(progressDTO{ReadingProgress: 140, ScrollProgress: -5})
	})

	prior, err := client.FetchProgress(context.Background(), "student-1", lesson.ID("lesson-1"))
	require.NoError(t, err)
	assert.Equal(t, 100.0, prior.ReadingProgress)
	assert.Equal(t, 0.0, prior.ScrollProgress)
}

func TestClient_SaveProgress(t *testing.T) {
	var received progressWriteDTO
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		final := 92.0
		_ = json.NewEncoder(w).Encode(saveAckDTO{
			Saved:              true,
			AutoCompleted:      true,
			CompletionMessage:  "lesson completed",
			FinalScore:         &final,
			NextLessonUnlocked: true,
			NextLessonID:       "lesson-2",
		})
	})

	ack, err := client.SaveProgress(context.Background(), "student-1", lesson.ID("lesson-1"), tracking.ProgressWrite{
		ReadingProgress:  100,
		EngagementScore:  85,
		ScrollProgress:   100,
		TimeSpentSeconds: 640,
		LessonScore:      92,
		Forced:           true,
	})
	require.NoError(t, err)

	assert.Equal(t, 100.0, received.ReadingProgress)
	assert.True(t, received.Forced)

	assert.True(t, ack.AutoCompleted)
	require.NotNil(t, ack.FinalScore)
	assert.Equal(t, 92.0, *ack.FinalScore)
	assert.Equal(t, "lesson-2", ack.NextLessonID)
}

func TestClient_CompleteLesson(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		var req completeRequestDTO
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "manual", req.Method)

		final := 88.0
		_ = json.NewEncoder(w).Encode(confirmationDTO{
			Completed:       true,
			ProgressSaved:   true,
			FinalScore:      &final,
			NewAchievements: []string{"first-lesson"},
			NextUnlocked:    true,
		})
	})

	conf, err := client.CompleteLesson(context.Background(), "student-1", lesson.ID("lesson-1"), tracking.CompletionRequest{
		Method:      lesson.MethodManual,
		LessonScore: 88,
	})
	require.NoError(t, err)
	assert.True(t, conf.Completed)
	assert.Equal(t, []string{"first-lesson"}, conf.NewAchievements)
}

func TestClient_CompleteLesson_RefusalCarriesDetail(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(apiErrorDTO{
			Code:    codeRequirementsNotMet,
			Message: "quiz score below passing",
			Detail: &apiErrorDetail{
				MissingRequirements: []string{"quiz"},
				CurrentScores:       map[string]float64{"quiz": 55},
				AssessmentID:        "quiz-7",
			},
		})
	})

	_, err := client.CompleteLesson(context.Background(), "student-1", lesson.ID("lesson-1"), tracking.CompletionRequest{
		Method: lesson.MethodManual,
	})
	require.Error(t, err)

	failure := tracking.Classify(err)
	assert.Equal(t, lesson.FailureRequirementsNotMet, failure.Kind)
	assert.Equal(t, "quiz score below passing", failure.Message)
	assert.Equal(t, []string{"quiz"}, failure.MissingRequirements)
	assert.Equal(t, "quiz-7", failure.AssessmentID)
	assert.True(t, failure.Kind.Recoverable())
	assert.False(t, retry.IsTransient(err))
}

func TestClient_CompleteLesson_AlreadyCompletedIsIdempotent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(apiErrorDTO{
			Code:    codeAlreadyCompleted,
			Message: "Lesson already completed",
		})
	})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := client.CompleteLesson(ctx, "student-1", lesson.ID("lesson-1"), tracking.CompletionRequest{
			Method: lesson.MethodManual,
		})
		require.Error(t, err)

		var already *tracking.AlreadyCompletedError
		require.ErrorAs(t, err, &already)
		assert.Equal(t, "Lesson already completed", already.Message)
		assert.False(t, retry.IsTransient(err))
	}

	// An idempotent answer, not an outage: the breaker stays closed.
	assert.Equal(t, "closed", client.BreakerState().String())
}

func TestClient_AuthErrorIsNotRetried(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.SaveProgress(context.Background(), "student-1", lesson.ID("lesson-1"), tracking.ProgressWrite{})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
	assert.False(t, retry.IsTransient(err))
}

func TestClient_ServerErrorIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.SaveProgress(context.Background(), "student-1", lesson.ID("lesson-1"), tracking.ProgressWrite{})
	require.Error(t, err)
	assert.True(t, retry.IsTransient(err))
}

func TestClient_BreakerOpensOnRepeatedOutage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := client.SaveProgress(ctx, "student-1", lesson.ID("lesson-1"), tracking.ProgressWrite{})
		require.Error(t, err)
	}

	// The fifth call is rejected without reaching the server, still transient
	// so callers keep retrying once the cooldown elapses.
	_, err := client.SaveProgress(ctx, "student-1", lesson.ID("lesson-1"), tracking.ProgressWrite{})
	require.Error(t, err)
	assert.True(t, retry.IsTransient(err))
}

func TestClient_RefusalsDoNotTripBreaker(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(apiErrorDTO{Code: codeQuizRequired, Message: "quiz required"})
	})

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := client.CompleteLesson(ctx, "student-1", lesson.ID("lesson-1"), tracking.CompletionRequest{})
		require.Error(t, err)

		failure := tracking.Classify(err)
		assert.Equal(t, lesson.FailureQuizRequired, failure.Kind)
	}
	assert.Equal(t, "closed", client.BreakerState().String())
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		apiErr    apiErrorDTO
		wantKind  lesson.FailureKind
		transient bool
	}{
		{
			name:     "not enrolled is a terminal rejection",
			status:   http.StatusGone,
			apiErr:   apiErrorDTO{},
			wantKind: lesson.FailureRejected,
		},
		{
			name:     "assignment required",
			status:   http.StatusConflict,
			apiErr:   apiErrorDTO{Code: codeAssignmentRequired},
			wantKind: lesson.FailureAssignmentRequired,
		},
		{
			name:      "rate limited is transient",
			status:    http.StatusTooManyRequests,
			transient: true,
		},
		{
			name:      "server error is transient",
			status:    http.StatusServiceUnavailable,
			transient: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapError(tt.status, tt.apiErr)
			require.Error(t, err)

			assert.Equal(t, tt.transient, retry.IsTransient(err))
			if tt.wantKind != "" {
				var refusalErr *tracking.RefusalError
				require.ErrorAs(t, err, &refusalErr)
				assert.Equal(t, tt.wantKind, refusalErr.Failure.Kind)
			}
		})
	}
}

func TestMapError_AlreadyCompleted(t *testing.T) {
	var already *tracking.AlreadyCompletedError

	// Matched by code regardless of status.
	err := mapError(http.StatusConflict, apiErrorDTO{Code: codeAlreadyCompleted, Message: "done"})
	require.ErrorAs(t, err, &already)
	assert.Equal(t, "done", already.Message)

	err = mapError(http.StatusBadRequest, apiErrorDTO{Code: codeAlreadyCompleted})
	assert.ErrorAs(t, err, &already)

	// Matched by message for a 409 with no code.
	err = mapError(http.StatusConflict, apiErrorDTO{Message: "Lesson already completed by another device"})
	assert.ErrorAs(t, err, &already)

	// A bare 409 stays an unclassified error.
	err = mapError(http.StatusConflict, apiErrorDTO{Message: "conflicting write"})
	require.Error(t, err)
	assert.False(t, errors.As(err, &already))
}
