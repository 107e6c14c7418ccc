package tracking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/afritech-bridge/progress-engine/internal/domain/lesson"
	"github.com/afritech-bridge/progress-engine/internal/domain/shared"
	"github.com/afritech-bridge/progress-engine/pkg/clock"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION MANAGER
// A session is one lesson view: one tracker plus its timer pair. A student
// holds at most one session at a time; opening a lesson while another is
// open closes the old view with a final flush first (lesson switch).
// ══════════════════════════════════════════════════════════════════════════════

// flushTimeout bounds backend calls made from timer and teardown paths,
// which have no request context of their own.
const flushTimeout = 8 * time.Second

// Session binds a tracker to its running timers.
type Session struct {
	ID        string
	StudentID string
	Tracker   *LessonTracker

	timers TimerHandle
}

// SessionManagerDeps wires the infrastructure the manager hands to each
// tracker. Cache and Journal are optional.
type SessionManagerDeps struct {
	Backend   BackendOfRecord
	Cache     ProgressCache
	Journal   ProgressJournal
	Publisher shared.EventPublisher
	Timers    TimerFactory
	Clock     clock.Clock
	Logger    *slog.Logger

	// DefaultThreshold applies when an open request carries no threshold.
	DefaultThreshold lesson.Threshold
}

// SessionManager owns the live sessions.
type SessionManager struct {
	mu        sync.Mutex
	sessions  map[string]*Session // session ID -> session
	byStudent map[string]string   // student ID -> session ID

	deps SessionManagerDeps
	log  *slog.Logger
}

// NewSessionManager creates an empty manager.
func NewSessionManager(deps SessionManagerDeps) *SessionManager {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.DefaultThreshold == 0 {
		deps.DefaultThreshold = lesson.Threshold(lesson.DefaultCompletionThreshold)
	}
	return &SessionManager{
		sessions:  make(map[string]*Session),
		byStudent: make(map[string]string),
		deps:      deps,
		log:       deps.Logger,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// OPEN / SWITCH
// ══════════════════════════════════════════════════════════════════════════════

// OpenParams describes the lesson view to open.
type OpenParams struct {
	StudentID     string
	LessonID      lesson.ID
	HasQuiz       bool
	HasAssignment bool

	// Threshold overrides the default completion threshold; zero keeps it.
	Threshold float64
}

// Open starts a new lesson view for the student. An existing view of the
// same student is closed first with a final flush: switching lessons resets
// all accrued state, nothing carries across lesson identities.
func (m *SessionManager) Open(ctx context.Context, p OpenParams) (*Session, error) {
	if p.StudentID == "" {
		return nil, shared.NewDomainError("session", "Open", shared.ErrInvalidInput, "student ID is required")
	}

	threshold, err := lesson.NewThreshold(p.Threshold)
	if err != nil {
		return nil, err
	}
	if p.Threshold == 0 {
		threshold = m.deps.DefaultThreshold
	}

	m.mu.Lock()
	prevID, hadPrev := m.byStudent[p.StudentID]
	m.mu.Unlock()
	if hadPrev {
		if err := m.close(ctx, prevID, "switched"); err != nil {
			m.log.Warn("closing previous session failed", "session_id", prevID, "error", err)
		}
	}

	sessionID := uuid.NewString()
	tracker, err := NewLessonTracker(TrackerParams{
		SessionID: sessionID,
		StudentID: p.StudentID,
		LessonID:  p.LessonID,
		Shape:     lesson.ContentShape{HasQuiz: p.HasQuiz, HasAssignment: p.HasAssignment},
		Threshold: threshold,
		Backend:   m.deps.Backend,
		Cache:     m.deps.Cache,
		Journal:   m.deps.Journal,
		Publisher: m.deps.Publisher,
		Clock:     m.deps.Clock,
		Logger:    m.deps.Logger,
	})
	if err != nil {
		return nil, err
	}

	if err := tracker.Load(ctx); err != nil {
		return nil, err
	}

	s := &Session{ID: sessionID, StudentID: p.StudentID, Tracker: tracker}

	// An already-completed lesson opens frozen: no timers, no accrual.
	if tracker.State() == lesson.StateTracking {
		s.timers = m.deps.Timers.Start(
			tracker.Tick,
			func() { m.scheduledSave(sessionID) },
		)
	}

	m.mu.Lock()
	m.sessions[sessionID] = s
	m.byStudent[p.StudentID] = sessionID
	m.mu.Unlock()

	m.publish(shared.SessionOpenedEvent{
		BaseEvent:     shared.NewBaseEvent(shared.EventSessionOpened, sessionID, m.deps.Clock.Now()),
		LessonID:      p.LessonID.String(),
		StudentID:     p.StudentID,
		HasQuiz:       p.HasQuiz,
		HasAssignment: p.HasAssignment,
	})
	m.log.Info("session opened",
		"session_id", sessionID,
		"student_id", p.StudentID,
		"lesson_id", p.LessonID.String(),
		"state", string(tracker.State()))

	return s, nil
}

// scheduledSave is the auto-save timer callback.
func (m *SessionManager) scheduledSave(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	outcome, err := s.Tracker.Save(ctx, false)
	if err != nil {
		return // already logged by the tracker
	}
	if outcome.AutoCompleted || s.Tracker.State().Terminal() {
		m.stopTimers(s)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Get returns the session by ID.
func (m *SessionManager) Get(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, shared.ErrSessionNotFound
	}
	return s, nil
}

// UpdateTelemetry forwards raw signals to the session's tracker.
func (m *SessionManager) UpdateTelemetry(sessionID string, t lesson.Telemetry) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	return s.Tracker.UpdateTelemetry(t)
}

// SetAssessmentScores forwards externally graded scores to the tracker.
func (m *SessionManager) SetAssessmentScores(sessionID string, scores lesson.AssessmentScores) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	return s.Tracker.SetAssessmentScores(scores)
}

// Status returns the session's current projection.
func (m *SessionManager) Status(sessionID string) (StatusView, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return StatusView{}, err
	}
	return s.Tracker.Status(), nil
}

// SaveNow runs a forced save for the session (explicit student action).
func (m *SessionManager) SaveNow(ctx context.Context, sessionID string) (SaveOutcome, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return SaveOutcome{}, err
	}
	outcome, err := s.Tracker.Save(ctx, true)
	if outcome.AutoCompleted {
		m.stopTimers(s)
	}
	return outcome, err
}

// Complete requests lesson completion. Timers are suspended for the
// duration of the request and stopped for good if the view ends terminal.
func (m *SessionManager) Complete(ctx context.Context, sessionID string, method lesson.CompletionMethod) (CompletionResult, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return CompletionResult{}, err
	}

	if s.timers != nil {
		s.timers.Suspend()
	}

	res, err := s.Tracker.Complete(ctx, method)

	if s.Tracker.State().Terminal() {
		m.stopTimers(s)
	} else if s.timers != nil {
		s.timers.Resume()
	}

	return res, err
}

// ══════════════════════════════════════════════════════════════════════════════
// CLOSE
// ══════════════════════════════════════════════════════════════════════════════

// Close tears the session down with a final flush of accrued progress.
func (m *SessionManager) Close(ctx context.Context, sessionID string) error {
	return m.close(ctx, sessionID, "closed")
}

func (m *SessionManager) close(ctx context.Context, sessionID, reason string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
		if m.byStudent[s.StudentID] == sessionID {
			delete(m.byStudent, s.StudentID)
		}
	}
	m.mu.Unlock()
	if !ok {
		return shared.ErrSessionNotFound
	}

	m.stopTimers(s)

	// Final flush, then invalidate: a response for the flushed write is
	// still applied, anything after the bump is discarded as stale.
	status := s.Tracker.Status()
	if s.Tracker.State() == lesson.StateTracking {
		if _, err := s.Tracker.Save(ctx, true); err != nil {
			m.log.Warn("teardown flush failed", "session_id", sessionID, "error", err)
		}
	}
	s.Tracker.Invalidate()

	m.publish(shared.SessionClosedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventSessionClosed, sessionID, m.deps.Clock.Now()),
		LessonID:  status.LessonID,
		Reason:    reason,
	})
	m.log.Info("session closed", "session_id", sessionID, "reason", reason)

	return nil
}

// CloseAll tears down every live session. Used on service shutdown so
// accrued progress is flushed before the process exits.
func (m *SessionManager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.close(ctx, id, "shutdown"); err != nil && !errors.Is(err, shared.ErrNotFound) {
			m.log.Warn("shutdown close failed", "session_id", id, "error", err)
		}
	}
}

// ActiveSessions returns the number of live sessions.
func (m *SessionManager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *SessionManager) stopTimers(s *Session) {
	if s.timers != nil {
		s.timers.Stop()
	}
}

func (m *SessionManager) publish(ev shared.Event) {
	if m.deps.Publisher == nil {
		return
	}
	if err := m.deps.Publisher.Publish(ev); err != nil {
		m.log.Warn("event publish failed", "event", string(ev.EventType()), "error", err)
	}
}
