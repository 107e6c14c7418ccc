// Package tracking contains the application service that drives lesson
// progress estimation, auto-save scheduling and the completion lifecycle.
// It owns all mutable per-session state; infrastructure adapters plug in
// through the interfaces defined here.
package tracking

import (
	"context"
	"time"

	"github.com/afritech-bridge/progress-engine/internal/domain/lesson"
)

// ══════════════════════════════════════════════════════════════════════════════
// BACKEND OF RECORD
// ══════════════════════════════════════════════════════════════════════════════

// ProgressWrite is the payload of a progress write to the backend of record.
type ProgressWrite struct {
	// ReadingProgress is the reported (monotonic) reading progress, 0-100.
	ReadingProgress float64

	// EngagementScore is the instantaneous engagement score, 0-100.
	EngagementScore float64

	// ScrollProgress is the reported (monotonic) scroll progress, 0-100.
	ScrollProgress float64

	// TimeSpentSeconds is the total time on the lesson, prior sessions included.
	TimeSpentSeconds int

	// LessonScore is the aggregated lesson score, 0-100.
	LessonScore float64

	// Forced marks an explicit write (student action or view teardown)
	// that bypassed the save policy.
	Forced bool
}

// CompletionRequest is the payload of a lesson completion request.
type CompletionRequest struct {
	// Method records how completion was initiated.
	Method lesson.CompletionMethod

	// LessonScore is the aggregated score at the time of the request.
	LessonScore float64

	// ReadingProgress is the reported reading progress, 0-100.
	ReadingProgress float64

	// EngagementScore is the engagement score at the time of the request.
	EngagementScore float64

	// TimeSpentSeconds is the total time on the lesson.
	TimeSpentSeconds int
}

// BackendOfRecord is the LMS backend port. All authority over persisted
// progress and completion lives behind this interface; the engine only
// estimates and proposes.
type BackendOfRecord interface {
	// FetchProgress returns previously persisted progress for the lesson,
	// or nil when the backend has none.
	FetchProgress(ctx context.Context, studentID string, lessonID lesson.ID) (*lesson.PersistedProgress, error)

	// SaveProgress writes a progress snapshot. The backend may complete
	// the lesson as a side effect and reports that in the ack.
	SaveProgress(ctx context.Context, studentID string, lessonID lesson.ID, w ProgressWrite) (*lesson.SaveAck, error)

	// CompleteLesson requests completion. Refusals with structured detail
	// are returned as *RefusalError.
	CompleteLesson(ctx context.Context, studentID string, lessonID lesson.ID, req CompletionRequest) (*lesson.Confirmation, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT CACHE
// ══════════════════════════════════════════════════════════════════════════════

// ProgressCache caches persisted-progress snapshots so reopening a lesson
// does not always pay a backend round trip. Cache failures are never fatal:
// callers fall back to the backend and keep going.
type ProgressCache interface {
	// Get returns the cached snapshot, or nil on a miss.
	Get(ctx context.Context, studentID string, lessonID lesson.ID) (*lesson.PersistedProgress, error)

	// Set stores a snapshot after a successful write.
	Set(ctx context.Context, studentID string, lessonID lesson.ID, p lesson.PersistedProgress) error

	// Invalidate drops the cached snapshot.
	Invalidate(ctx context.Context, studentID string, lessonID lesson.ID) error
}

// ══════════════════════════════════════════════════════════════════════════════
// SYNC JOURNAL
// ══════════════════════════════════════════════════════════════════════════════

// JournalKind classifies a journal entry.
type JournalKind string

const (
	// JournalAutoSave is a scheduled interval write.
	JournalAutoSave JournalKind = "auto_save"
	// JournalForcedSave is an explicit write (student action, teardown flush).
	JournalForcedSave JournalKind = "forced_save"
	// JournalCompletion is a completion request.
	JournalCompletion JournalKind = "completion"
)

// JournalEntry is one record of a backend sync attempt.
type JournalEntry struct {
	SessionID        string
	StudentID        string
	LessonID         lesson.ID
	Kind             JournalKind
	Success          bool
	LessonScore      float64
	ReadingProgress  float64
	TimeSpentSeconds int
	Detail           string
	At               time.Time
}

// ProgressJournal records backend sync attempts for audit and diagnostics.
// Journal failures are never fatal.
type ProgressJournal interface {
	// Record appends one entry to the journal.
	Record(ctx context.Context, entry JournalEntry) error
}

// ══════════════════════════════════════════════════════════════════════════════
// TIMERS
// ══════════════════════════════════════════════════════════════════════════════

// TimerHandle controls the tick/auto-save timer pair of one session.
type TimerHandle interface {
	// Suspend pauses both timers (completion request in flight).
	Suspend()

	// Resume restarts suspended timers.
	Resume()

	// Stop tears both timers down. Idempotent; the handle is unusable after.
	Stop()
}

// TimerFactory starts the timer pair for a session. The scheduler adapter
// implements it; tests substitute a manual trigger.
type TimerFactory interface {
	// Start begins firing tick (every estimation interval) and autosave
	// (every save interval) until the handle is stopped.
	Start(tick func(), autosave func()) TimerHandle
}
