// Package http implements the ingest API of the progress engine.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/afritech-bridge/progress-engine/internal/application/tracking"
	"github.com/afritech-bridge/progress-engine/internal/domain/lesson"
	"github.com/afritech-bridge/progress-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":        "Progress Engine API",
		"version":     "v1",
		"description": "Lesson progress tracking and completion engine",
		"endpoints": map[string]string{
			"health":   "/health",
			"sessions": "/api/v1/sessions",
			"metrics":  "/metrics",
		},
	}

	writeJSON(w, http.StatusOK, info)
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		status := s.deps.Health.Check(r.Context())
		if !status.Healthy {
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": s.Uptime().String(),
	})
}

// handleReady handles the readiness probe endpoint.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		status := s.deps.Health.Check(r.Context())
		if !status.Ready {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION LIFECYCLE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// openSessionRequest is the POST /sessions request body.
type openSessionRequest struct {
	StudentID     string  `json:"student_id"`
	LessonID      string  `json:"lesson_id"`
	HasQuiz       bool    `json:"has_quiz"`
	HasAssignment bool    `json:"has_assignment"`
	Threshold     float64 `json:"threshold,omitempty"`
}

// handleOpenSession handles POST /api/v1/sessions.
// Opening a lesson for a student who already has an active view closes
// the previous view first, with a final flush.
func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "Request body must be valid JSON")
		return
	}

	session, err := s.deps.Sessions.Open(r.Context(), tracking.OpenParams{
		StudentID:     req.StudentID,
		LessonID:      lesson.ID(req.LessonID),
		HasQuiz:       req.HasQuiz,
		HasAssignment: req.HasAssignment,
		Threshold:     req.Threshold,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, statusToDTO(session.Tracker.Status()))
}

// handleSessionStatus handles GET /api/v1/sessions/{id}.
func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Sessions.Status(r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statusToDTO(view))
}

// telemetryRequest is the PUT /telemetry request body. It mirrors the raw
// signals a lesson view reports; absent fields contribute nothing.
type telemetryRequest struct {
	ScrollTop        float64 `json:"scroll_top"`
	ScrollHeight     float64 `json:"scroll_height"`
	ClientHeight     float64 `json:"client_height"`
	Interactions     int     `json:"interactions"`
	VideoProgress    float64 `json:"video_progress,omitempty"`
	VideoCurrentTime float64 `json:"video_current_time,omitempty"`
	VideoDuration    float64 `json:"video_duration,omitempty"`
	VideoCompleted   bool    `json:"video_completed,omitempty"`
}

// handleTelemetry handles PUT /api/v1/sessions/{id}/telemetry.
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	var req telemetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "Request body must be valid JSON")
		return
	}

	err := s.deps.Sessions.UpdateTelemetry(r.PathValue("id"), lesson.Telemetry{
		ScrollTop:        req.ScrollTop,
		ScrollHeight:     req.ScrollHeight,
		ClientHeight:     req.ClientHeight,
		Interactions:     req.Interactions,
		VideoProgress:    req.VideoProgress,
		VideoCurrentTime: req.VideoCurrentTime,
		VideoDuration:    req.VideoDuration,
		VideoCompleted:   req.VideoCompleted,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// scoresRequest is the PUT /scores request body.
type scoresRequest struct {
	Quiz       *float64 `json:"quiz,omitempty"`
	Assignment *float64 `json:"assignment,omitempty"`
}

// handleAssessmentScores handles PUT /api/v1/sessions/{id}/scores.
func (s *Server) handleAssessmentScores(w http.ResponseWriter, r *http.Request) {
	var req scoresRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "Request body must be valid JSON")
		return
	}

	err := s.deps.Sessions.SetAssessmentScores(r.PathValue("id"), lesson.AssessmentScores{
		Quiz:       req.Quiz,
		Assignment: req.Assignment,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleSaveNow handles POST /api/v1/sessions/{id}/save. The write is
// forced: threshold gating does not apply to explicit saves.
func (s *Server) handleSaveNow(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.deps.Sessions.SaveNow(r.Context(), r.PathValue("id"))
	if err != nil && outcome.Status != tracking.SaveStatusFailed {
		s.writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if outcome.Status == tracking.SaveStatusFailed {
		status = http.StatusBadGateway
	}

	writeJSON(w, status, map[string]interface{}{
		"status":         string(outcome.Status),
		"auto_completed": outcome.AutoCompleted,
	})
}

// completeRequest is the POST /complete request body.
type completeRequest struct {
	Method string `json:"method"` // "automatic" or "manual", defaults to manual
}

// handleComplete handles POST /api/v1/sessions/{id}/complete.
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_body", "Request body must be valid JSON")
			return
		}
	}

	method := lesson.MethodManual
	if req.Method == string(lesson.MethodAutomatic) {
		method = lesson.MethodAutomatic
	}

	result, err := s.deps.Sessions.Complete(r.Context(), r.PathValue("id"), method)
	if err != nil {
		if result.Failure != nil {
			// A refusal is an answer: the session keeps tracking and the
			// host can retry once requirements are met.
			writeJSON(w, http.StatusConflict, completionToDTO(result))
			return
		}
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, completionToDTO(result))
}

// handleCloseSession handles DELETE /api/v1/sessions/{id}. Closing flushes
// unsaved progress before the session is discarded.
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sessions.Close(r.Context(), r.PathValue("id")); err != nil {
		s.writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT HISTORY HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleCompletions handles GET /api/v1/students/{id}/completions.
func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Outcomes == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Completion history not configured")
		return
	}

	outcomes, err := s.deps.Outcomes.CompletedLessons(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.Error("completion history query failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "query_failed", "Could not load completion history")
		return
	}

	writeJSON(w, http.StatusOK, outcomes)
}

// handleJournal handles GET /api/v1/students/{id}/journal.
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Sync journal not configured")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	entries, err := s.deps.Journal.RecentForStudent(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.logger.Error("journal query failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "query_failed", "Could not load sync journal")
		return
	}

	writeJSON(w, http.StatusOK, journalToDTO(entries))
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// statusDTO is the session status response body.
type statusDTO struct {
	SessionID        string   `json:"session_id"`
	StudentID        string   `json:"student_id"`
	LessonID         string   `json:"lesson_id"`
	State            string   `json:"state"`
	ScrollProgress   float64  `json:"scroll_progress"`
	ReadingProgress  float64  `json:"reading_progress"`
	EngagementScore  float64  `json:"engagement_score"`
	TimeSpentSeconds int      `json:"time_spent_seconds"`
	LessonScore      float64  `json:"lesson_score"`
	IsCompleted      bool     `json:"is_completed"`
	FinalScore       float64  `json:"final_score,omitempty"`
	Requirements     []string `json:"requirements,omitempty"`
	NextLessonID     string   `json:"next_lesson_id,omitempty"`
	NextUnlocked     bool     `json:"next_unlocked,omitempty"`
	Achievements     []string `json:"achievements,omitempty"`
	LastFailure      string   `json:"last_failure,omitempty"`
	SaveAttempts     int      `json:"save_attempts"`
	SaveFailures     int      `json:"save_failures"`
}

func statusToDTO(v tracking.StatusView) statusDTO {
	dto := statusDTO{
		SessionID:        v.SessionID,
		StudentID:        v.StudentID,
		LessonID:         v.LessonID,
		State:            string(v.State),
		ScrollProgress:   v.ScrollProgress,
		ReadingProgress:  v.ReadingProgress,
		EngagementScore:  v.EngagementScore,
		TimeSpentSeconds: v.TimeSpentSeconds,
		LessonScore:      v.LessonScore,
		IsCompleted:      v.IsCompleted,
		FinalScore:       v.FinalScore,
		Requirements:     v.Requirements,
		NextLessonID:     v.NextLessonID,
		NextUnlocked:     v.NextUnlocked,
		Achievements:     v.Achievements,
		SaveAttempts:     v.SaveAttempts,
		SaveFailures:     v.SaveFailures,
	}
	if v.LastFailure != nil {
		dto.LastFailure = string(v.LastFailure.Kind)
	}
	return dto
}

// completionDTO is the completion attempt response body.
type completionDTO struct {
	Completed    bool     `json:"completed"`
	FinalScore   float64  `json:"final_score,omitempty"`
	Achievements []string `json:"achievements,omitempty"`
	NextLessonID string   `json:"next_lesson_id,omitempty"`
	NextUnlocked bool     `json:"next_unlocked"`
	Message      string   `json:"message,omitempty"`

	FailureKind         string   `json:"failure_kind,omitempty"`
	FailureMessage      string   `json:"failure_message,omitempty"`
	MissingRequirements []string `json:"missing_requirements,omitempty"`
	Recoverable         bool     `json:"recoverable,omitempty"`
}

func completionToDTO(res tracking.CompletionResult) completionDTO {
	dto := completionDTO{
		Completed:    res.Completed,
		FinalScore:   res.FinalScore,
		Achievements: res.Achievements,
		NextLessonID: res.NextLessonID,
		NextUnlocked: res.NextUnlocked,
		Message:      res.Message,
	}
	if res.Failure != nil {
		dto.FailureKind = string(res.Failure.Kind)
		dto.FailureMessage = res.Failure.Message
		dto.MissingRequirements = res.Failure.MissingRequirements
		dto.Recoverable = res.Failure.Kind.Recoverable()
	}
	return dto
}

// journalEntryDTO is one sync journal row in API responses.
type journalEntryDTO struct {
	SessionID        string  `json:"session_id"`
	LessonID         string  `json:"lesson_id"`
	Kind             string  `json:"kind"`
	Success          bool    `json:"success"`
	LessonScore      float64 `json:"lesson_score"`
	ReadingProgress  float64 `json:"reading_progress"`
	TimeSpentSeconds int     `json:"time_spent_seconds"`
	Detail           string  `json:"detail,omitempty"`
	At               string  `json:"at"`
}

func journalToDTO(entries []tracking.JournalEntry) []journalEntryDTO {
	dtos := make([]journalEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, journalEntryDTO{
			SessionID:        e.SessionID,
			LessonID:         e.LessonID.String(),
			Kind:             string(e.Kind),
			Success:          e.Success,
			LessonScore:      e.LessonScore,
			ReadingProgress:  e.ReadingProgress,
			TimeSpentSeconds: e.TimeSpentSeconds,
			Detail:           e.Detail,
			At:               e.At.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return dtos
}

// writeDomainError maps domain errors to HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrSessionNotFound):
		writeJSONError(w, http.StatusNotFound, "session_not_found", "No active session with that ID")

	case errors.Is(err, shared.ErrInvalidInput):
		writeJSONErrorWithDetails(w, http.StatusBadRequest, "invalid_input", "Request rejected", err.Error())

	case errors.Is(err, lesson.ErrInvalidLessonID):
		writeJSONError(w, http.StatusBadRequest, "invalid_lesson_id", "Lesson ID is missing or malformed")

	case errors.Is(err, lesson.ErrThresholdOutOfRange):
		writeJSONError(w, http.StatusBadRequest, "invalid_threshold", "Completion threshold must be within (0, 100]")

	case errors.Is(err, lesson.ErrViewFrozen):
		writeJSONError(w, http.StatusConflict, "view_frozen", "Lesson is already completed; the view is read-only")

	case errors.Is(err, lesson.ErrCompletionInFlight):
		writeJSONError(w, http.StatusConflict, "completion_in_flight", "A completion request is already in progress")

	case errors.Is(err, lesson.ErrNotTracking):
		writeJSONError(w, http.StatusConflict, "not_tracking", "Session is not in a trackable state")

	default:
		s.logger.Error("unhandled domain error", "error", err)
		writeJSONErrorWithDetails(w, http.StatusInternalServerError, "internal_error", "Operation failed", err.Error())
	}
}
