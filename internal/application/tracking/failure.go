package tracking

import (
	"errors"

	"github.com/afritech-bridge/progress-engine/internal/domain/lesson"
	"github.com/afritech-bridge/progress-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAILURE CLASSIFICATION
// ══════════════════════════════════════════════════════════════════════════════

// RefusalError carries a structured refusal from the backend of record
// (missing requirements, rejection). Adapters return it when the backend
// answered but declined; plain transport errors stay plain.
type RefusalError struct {
	Failure lesson.Failure
}

// Error implements the error interface.
func (e *RefusalError) Error() string {
	if e.Failure.Message != "" {
		return "completion refused: " + e.Failure.Message
	}
	return "completion refused: " + string(e.Failure.Kind)
}

// AlreadyCompletedError reports that the backend of record already holds
// the lesson as completed. Callers treat it as an idempotent success, never
// as a failure.
type AlreadyCompletedError struct {
	Message string
}

// Error implements the error interface.
func (e *AlreadyCompletedError) Error() string {
	if e.Message != "" {
		return "lesson already completed: " + e.Message
	}
	return "lesson already completed"
}

// Classify maps a backend boundary error to the failure taxonomy. Every
// error becomes exactly one kind before it reaches the host view; nothing
// escapes unclassified.
func Classify(err error) lesson.Failure {
	var refusal *RefusalError
	if errors.As(err, &refusal) {
		return refusal.Failure
	}

	switch {
	case errors.Is(err, shared.ErrUnauthorized):
		return lesson.Failure{
			Kind:    lesson.FailureAuthNotReady,
			Message: "credentials not ready, retry shortly",
		}
	case errors.Is(err, shared.ErrNotFound):
		return lesson.Failure{
			Kind:    lesson.FailureRejected,
			Message: "lesson not found or student not enrolled",
		}
	default:
		return lesson.Failure{
			Kind:    lesson.FailureNetwork,
			Message: err.Error(),
		}
	}
}
