package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/afritech-bridge/progress-engine/internal/application/tracking"
	"github.com/afritech-bridge/progress-engine/internal/domain/lesson"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeBackend struct {
	prior       *lesson.PersistedProgress
	completeErr error
}

func (b *fakeBackend) FetchProgress(context.Context, string, lesson.ID) (*lesson.PersistedProgress, error) {
	return b.prior, nil
}

func (b *fakeBackend) SaveProgress(context.Context, string, lesson.ID, tracking.ProgressWrite) (*lesson.SaveAck, error) {
	return &lesson.SaveAck{}, nil
}

func (b *fakeBackend) CompleteLesson(context.Context, string, lesson.ID, tracking.CompletionRequest) (*lesson.Confirmation, error) {
	if b.completeErr != nil {
		return nil, b.completeErr
	}
	final := 85.0
	return &lesson.Confirmation{Completed: true, ProgressSaved: true, FinalScore: &final}, nil
}

type noopTimers struct{}

type noopHandle struct{}

func (noopTimers) Start(func(), func()) tracking.TimerHandle { return noopHandle{} }

func (noopHandle) Suspend() {}
func (noopHandle) Resume()  {}
func (noopHandle) Stop()    {}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func newTestServer(t *testing.T, cfg Config, backend *fakeBackend) *Server {
	t.Helper()

	manager := tracking.NewSessionManager(tracking.SessionManagerDeps{
		Backend: backend,
		Timers:  noopTimers{},
	})
	t.Cleanup(func() { manager.CloseAll(context.Background()) })

	return NewServer(cfg, Dependencies{Sessions: manager})
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var resp struct {
		Success bool                   `json:"success"`
		Data    map[string]interface{} `json:"data"`
		Error   *APIError              `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data
}

func openSession(t *testing.T, handler http.Handler) string {
	t.Helper()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions", openSessionRequest{
		StudentID: "student-1",
		LessonID:  "lesson-1",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	data := decodeData(t, rec)
	id, _ := data["session_id"].(string)
	require.NotEmpty(t, id)
	return id
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

func TestServer_OpenSession(t *testing.T) {
	srv := newTestServer(t, DefaultConfig(), &fakeBackend{})
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions", openSessionRequest{
		StudentID: "student-1",
		LessonID:  "lesson-1",
	}, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, "student-1", data["student_id"])
	assert.Equal(t, "lesson-1", data["lesson_id"])
	assert.Equal(t, "tracking", data["state"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_OpenSessionRejectsMissingStudent(t *testing.T) {
	srv := newTestServer(t, DefaultConfig(), &fakeBackend{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/sessions", openSessionRequest{
		LessonID: "lesson-1",
	}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_OpenSessionRejectsBadLessonID(t *testing.T) {
	srv := newTestServer(t, DefaultConfig(), &fakeBackend{})
	handler := srv.Handler()

	for _, id := range []string{"", "lesson 1", "a/b"} {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions", openSessionRequest{
			StudentID: "student-1",
			LessonID:  id,
		}, nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid_lesson_id")
	}
}

func TestServer_OpenSessionRejectsBadThreshold(t *testing.T) {
	srv := newTestServer(t, DefaultConfig(), &fakeBackend{})
	handler := srv.Handler()

	for _, threshold := range []float64{-5, 150} {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions", openSessionRequest{
			StudentID: "student-1",
			LessonID:  "lesson-1",
			Threshold: threshold,
		}, nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid_threshold")
	}
}

func TestServer_TelemetryRoundTrip(t *testing.T) {
	srv := newTestServer(t, DefaultConfig(), &fakeBackend{})
	handler := srv.Handler()
	id := openSession(t, handler)

	rec := doJSON(t, handler, http.MethodPut, "/api/v1/sessions/"+id+"/telemetry", telemetryRequest{
		ScrollTop:    500,
		ScrollHeight: 1200,
		ClientHeight: 200,
		Interactions: 3,
	}, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sessions/"+id, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, "tracking", data["state"])
}

func TestServer_UnknownSessionIs404(t *testing.T) {
	srv := newTestServer(t, DefaultConfig(), &fakeBackend{})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/sessions/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CompleteHappyPath(t *testing.T) {
	srv := newTestServer(t, DefaultConfig(), &fakeBackend{})
	handler := srv.Handler()
	id := openSession(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions/"+id+"/complete", completeRequest{
		Method: "manual",
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, true, data["completed"])
	assert.Equal(t, 85.0, data["final_score"])
}

func TestServer_CompleteRefusalIsConflict(t *testing.T) {
	backend := &fakeBackend{
		completeErr: &tracking.RefusalError{Failure: lesson.Failure{
			Kind:                lesson.FailureRequirementsNotMet,
			Message:             "quiz missing",
			MissingRequirements: []string{"quiz"},
		}},
	}
	srv := newTestServer(t, DefaultConfig(), backend)
	handler := srv.Handler()
	id := openSession(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions/"+id+"/complete", nil, nil)

	require.Equal(t, http.StatusConflict, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, false, data["completed"])
	assert.Equal(t, "requirements_not_met", data["failure_kind"])
	assert.Equal(t, true, data["recoverable"])
}

func TestServer_CloseSession(t *testing.T) {
	srv := newTestServer(t, DefaultConfig(), &fakeBackend{})
	handler := srv.Handler()
	id := openSession(t, handler)

	rec := doJSON(t, handler, http.MethodDelete, "/api/v1/sessions/"+id, nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sessions/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

func TestServer_APIKeyAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret-key"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.APIKeyHashes = []string{string(hash)}
	srv := newTestServer(t, cfg, &fakeBackend{})
	handler := srv.Handler()

	body := openSessionRequest{StudentID: "student-1", LessonID: "lesson-1"}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sessions", body, map[string]string{
		"X-API-Key": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sessions", body, map[string]string{
		"X-API-Key": "secret-key",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestServer_HealthWithoutChecker(t *testing.T) {
	srv := newTestServer(t, DefaultConfig(), &fakeBackend{})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RateLimitKicksIn(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimitPerSecond = 1
	cfg.RateLimitBurst = 2
	srv := newTestServer(t, cfg, &fakeBackend{})
	handler := srv.Handler()

	var limited bool
	for i := 0; i < 5; i++ {
		rec := doJSON(t, handler, http.MethodGet, "/health", nil, nil)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited)
}

func TestServer_ShutdownStopsLimiterSweep(t *testing.T) {
	srv := newTestServer(t, DefaultConfig(), &fakeBackend{})
	require.NotNil(t, srv.limiter)

	require.NoError(t, srv.Shutdown(context.Background()))

	select {
	case <-srv.limiter.done:
	default:
		t.Fatal("limiter sweep still running after shutdown")
	}

	// A second shutdown is a no-op, not a panic.
	require.NoError(t, srv.Shutdown(context.Background()))
}
