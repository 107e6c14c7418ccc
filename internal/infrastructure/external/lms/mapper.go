package lms

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/afritech-bridge/progress-engine/internal/application/tracking"
	"github.com/afritech-bridge/progress-engine/internal/domain/lesson"
	"github.com/afritech-bridge/progress-engine/internal/domain/shared"
	"github.com/afritech-bridge/progress-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DTO -> DOMAIN MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func progressFromDTO(dto progressDTO) *lesson.PersistedProgress {
	return &lesson.PersistedProgress{
		ReadingProgress:  lesson.ClampPercent(dto.ReadingProgress),
		EngagementScore:  lesson.ClampPercent(dto.EngagementScore),
		ScrollProgress:   lesson.ClampPercent(dto.ScrollProgress),
		TimeSpentSeconds: dto.TimeSpentSeconds,
		LessonScore:      dto.LessonScore,
		QuizScore:        dto.QuizScore,
		AssignmentScore:  dto.AssignmentScore,
		Completed:        dto.Completed,
	}
}

func saveAckFromDTO(dto saveAckDTO) *lesson.SaveAck {
	return &lesson.SaveAck{
		AutoCompleted:      dto.AutoCompleted,
		CompletionMessage:  dto.CompletionMessage,
		FinalScore:         dto.FinalScore,
		NextLessonUnlocked: dto.NextLessonUnlocked,
		NextLessonID:       dto.NextLessonID,
	}
}

func confirmationFromDTO(dto confirmationDTO) *lesson.Confirmation {
	return &lesson.Confirmation{
		Completed:       dto.Completed,
		ProgressSaved:   dto.ProgressSaved,
		FinalScore:      dto.FinalScore,
		NewAchievements: dto.NewAchievements,
		NextLessonID:    dto.NextLessonID,
		NextUnlocked:    dto.NextUnlocked,
		Message:         dto.Message,
	}
}

func writeToDTO(w tracking.ProgressWrite) progressWriteDTO {
	return progressWriteDTO{
		ReadingProgress:  w.ReadingProgress,
		EngagementScore:  w.EngagementScore,
		ScrollProgress:   w.ScrollProgress,
		TimeSpentSeconds: w.TimeSpentSeconds,
		LessonScore:      w.LessonScore,
		Forced:           w.Forced,
	}
}

func completeToDTO(req tracking.CompletionRequest) completeRequestDTO {
	return completeRequestDTO{
		Method:           string(req.Method),
		LessonScore:      req.LessonScore,
		ReadingProgress:  req.ReadingProgress,
		EngagementScore:  req.EngagementScore,
		TimeSpentSeconds: req.TimeSpentSeconds,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// Every non-2xx answer becomes either a structured refusal, an auth error,
// or a transient transport error. The retry markers steer the caller's
// policy: transient errors are retried, refusals and auth errors are not.
// ══════════════════════════════════════════════════════════════════════════════

// mapError translates an LMS error response into the failure taxonomy.
func mapError(status int, apiErr apiErrorDTO) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return shared.ErrAuthNotReady

	case status == http.StatusTooManyRequests:
		return retry.Transient(fmt.Errorf("lms rate limited: %s", apiErr.Message))

	case status >= 500:
		return retry.Transient(fmt.Errorf("lms server error: status %d", status))

	case status == http.StatusNotFound || status == http.StatusGone:
		return refusal(lesson.FailureRejected, apiErr, "lesson not found")
	}

	switch apiErr.Code {
	case codeRequirementsNotMet:
		return refusal(lesson.FailureRequirementsNotMet, apiErr, "completion requirements not met")
	case codeQuizRequired:
		return refusal(lesson.FailureQuizRequired, apiErr, "quiz must be passed first")
	case codeAssignmentRequired:
		return refusal(lesson.FailureAssignmentRequired, apiErr, "assignment must be submitted first")
	case codeNotEnrolled, codeLessonNotFound:
		return refusal(lesson.FailureRejected, apiErr, "completion rejected")
	case codeAlreadyCompleted:
		return &tracking.AlreadyCompletedError{Message: apiErr.Message}
	}

	// Older LMS deployments answer 409 with a bare message instead of the
	// ALREADY_COMPLETED code.
	if status == http.StatusConflict &&
		strings.Contains(strings.ToLower(apiErr.Message), "already completed") {
		return &tracking.AlreadyCompletedError{Message: apiErr.Message}
	}

	return fmt.Errorf("lms error: status %d code %q: %s", status, apiErr.Code, apiErr.Message)
}

// refusal builds a structured refusal error from the response detail.
func refusal(kind lesson.FailureKind, apiErr apiErrorDTO, fallback string) error {
	f := lesson.Failure{Kind: kind, Message: apiErr.Message}
	if f.Message == "" {
		f.Message = fallback
	}
	if apiErr.Detail != nil {
		f.MissingRequirements = apiErr.Detail.MissingRequirements
		f.CurrentScores = apiErr.Detail.CurrentScores
		f.AssessmentID = apiErr.Detail.AssessmentID
	}
	return &tracking.RefusalError{Failure: f}
}
