// Package shared contains common domain types, errors and events used across
// all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types emitted by the tracking engine. Subscribers (metrics,
// sync journal) attach through the in-memory event bus.
const (
	// Session lifecycle events
	EventSessionOpened EventType = "session.opened"
	EventSessionClosed EventType = "session.closed"

	// Progress events
	EventProgressLoaded     EventType = "progress.loaded"
	EventProgressSaved      EventType = "progress.saved"
	EventProgressSaveFailed EventType = "progress.save_failed"
	EventProgressWithheld   EventType = "progress.save_withheld"

	// Completion events
	EventLessonCompleted   EventType = "lesson.completed"
	EventCompletionRefused EventType = "lesson.completion_refused"
	EventCompletionFailed  EventType = "lesson.completion_failed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate (lesson view session)
	// that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// EventHandler processes a single event. Returning an error only affects
// logging; the bus never retries.
type EventHandler func(event Event) error

// EventPublisher publishes domain events to subscribers.
type EventPublisher interface {
	// Publish delivers the event to all subscribers of its type.
	Publish(event Event) error
}

// EventBus routes domain events to registered handlers.
type EventBus interface {
	EventPublisher

	// Subscribe registers a handler for a specific event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for every event.
	SubscribeAll(handler EventHandler) error

	// Close shuts the bus down and waits for pending handlers.
	Close() error
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
}

// EventType implements Event.
func (e BaseEvent) EventType() EventType { return e.Type }

// OccurredAt implements Event.
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

// AggregateID implements Event.
func (e BaseEvent) AggregateID() string { return e.AggregateId }

// NewBaseEvent creates a new base event stamped with the given time.
// The caller supplies the time so events follow the injected clock.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{Type: eventType, Timestamp: at, AggregateId: aggregateID}
}

// ═══════════════════════════════════════════════════════════════════════════
// Session Events
// ═══════════════════════════════════════════════════════════════════════════

// SessionOpenedEvent is emitted when a lesson view session is opened.
type SessionOpenedEvent struct {
	BaseEvent
	LessonID      string `json:"lesson_id"`
	StudentID     string `json:"student_id"`
	HasQuiz       bool   `json:"has_quiz"`
	HasAssignment bool   `json:"has_assignment"`
}

// Payload implements Event.
func (e SessionOpenedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"lesson_id":      e.LessonID,
		"student_id":     e.StudentID,
		"has_quiz":       e.HasQuiz,
		"has_assignment": e.HasAssignment,
	}
}

// SessionClosedEvent is emitted when a lesson view is discarded or replaced.
type SessionClosedEvent struct {
	BaseEvent
	LessonID string `json:"lesson_id"`
	Reason   string `json:"reason"` // "switched" or "closed"
}

// Payload implements Event.
func (e SessionClosedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"lesson_id": e.LessonID,
		"reason":    e.Reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// ProgressLoadedEvent is emitted once the prior-progress fetch resolves.
type ProgressLoadedEvent struct {
	BaseEvent
	LessonID         string  `json:"lesson_id"`
	FromCache        bool    `json:"from_cache"`
	AlreadyCompleted bool    `json:"already_completed"`
	ReadingProgress  float64 `json:"reading_progress"`
}

// Payload implements Event.
func (e ProgressLoadedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"lesson_id":         e.LessonID,
		"from_cache":        e.FromCache,
		"already_completed": e.AlreadyCompleted,
		"reading_progress":  e.ReadingProgress,
	}
}

// ProgressSavedEvent is emitted after a successful auto-save write.
type ProgressSavedEvent struct {
	BaseEvent
	LessonID    string  `json:"lesson_id"`
	LessonScore float64 `json:"lesson_score"`
	Forced      bool    `json:"forced"`
}

// Payload implements Event.
func (e ProgressSavedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"lesson_id":    e.LessonID,
		"lesson_score": e.LessonScore,
		"forced":       e.Forced,
	}
}

// ProgressSaveFailedEvent is emitted when an auto-save write fails.
// The engine keeps accruing locally; the next interval retries.
type ProgressSaveFailedEvent struct {
	BaseEvent
	LessonID string `json:"lesson_id"`
	Reason   string `json:"reason"`
}

// Payload implements Event.
func (e ProgressSaveFailedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"lesson_id": e.LessonID,
		"reason":    e.Reason,
	}
}

// ProgressWithheldEvent is emitted when a scheduled write is intentionally
// skipped by the save policy (score below threshold, content not fully read).
type ProgressWithheldEvent struct {
	BaseEvent
	LessonID    string  `json:"lesson_id"`
	LessonScore float64 `json:"lesson_score"`
}

// Payload implements Event.
func (e ProgressWithheldEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"lesson_id":    e.LessonID,
		"lesson_score": e.LessonScore,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Completion Events
// ═══════════════════════════════════════════════════════════════════════════

// LessonCompletedEvent is emitted once the backend confirms completion.
type LessonCompletedEvent struct {
	BaseEvent
	StudentID          string   `json:"student_id"`
	LessonID           string   `json:"lesson_id"`
	FinalScore         float64  `json:"final_score"`
	Method             string   `json:"method"` // "automatic" or "manual"
	TimeSpentSeconds   int      `json:"time_spent_seconds"`
	NextLessonUnlocked bool     `json:"next_lesson_unlocked"`
	NewAchievements    []string `json:"new_achievements,omitempty"`
}

// Payload implements Event.
func (e LessonCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":           e.StudentID,
		"lesson_id":            e.LessonID,
		"final_score":          e.FinalScore,
		"method":               e.Method,
		"time_spent_seconds":   e.TimeSpentSeconds,
		"next_lesson_unlocked": e.NextLessonUnlocked,
		"new_achievements":     e.NewAchievements,
	}
}

// CompletionRefusedEvent is emitted when the backend accepted the progress
// write but refused completion (missing quiz/assignment requirements).
type CompletionRefusedEvent struct {
	BaseEvent
	LessonID            string   `json:"lesson_id"`
	MissingRequirements []string `json:"missing_requirements"`
}

// Payload implements Event.
func (e CompletionRefusedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"lesson_id":            e.LessonID,
		"missing_requirements": e.MissingRequirements,
	}
}

// CompletionFailedEvent is emitted for completion attempts that failed at the
// network boundary, after classification.
type CompletionFailedEvent struct {
	BaseEvent
	LessonID string `json:"lesson_id"`
	Kind     string `json:"kind"` // classified error kind, see lesson.FailureKind
}

// Payload implements Event.
func (e CompletionFailedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"lesson_id": e.LessonID,
		"kind":      e.Kind,
	}
}
