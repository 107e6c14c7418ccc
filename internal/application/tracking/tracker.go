package tracking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/afritech-bridge/progress-engine/internal/domain/lesson"
	"github.com/afritech-bridge/progress-engine/internal/domain/shared"
	"github.com/afritech-bridge/progress-engine/pkg/clock"
	"github.com/afritech-bridge/progress-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// LESSON TRACKER
// Owns all mutable state of one lesson view: estimator accumulation,
// monotonic maxima, score aggregation, the completion record and the
// auto-save cursor. One tracker per session; replaced wholesale on
// lesson switch, never reused.
// ══════════════════════════════════════════════════════════════════════════════

// TrackerParams configures a LessonTracker.
type TrackerParams struct {
	SessionID string
	StudentID string
	LessonID  lesson.ID
	Shape     lesson.ContentShape
	Threshold lesson.Threshold

	Backend   BackendOfRecord
	Cache     ProgressCache
	Journal   ProgressJournal
	Publisher shared.EventPublisher
	Clock     clock.Clock
	Logger    *slog.Logger
}

// LessonTracker drives progress estimation and the completion lifecycle for
// a single lesson view. All methods are safe for concurrent use: the tick
// loop and the telemetry/completion endpoints run on different goroutines.
type LessonTracker struct {
	mu sync.Mutex

	sessionID string
	studentID string
	lessonID  lesson.ID
	shape     lesson.ContentShape
	policy    lesson.SavePolicy

	estimator *lesson.Estimator
	monotonic *lesson.MonotonicState
	record    *lesson.CompletionRecord
	cursor    lesson.AutoSaveCursor
	graded    lesson.AssessmentScores

	telemetry   lesson.Telemetry
	snapshot    lesson.ProgressSnapshot
	lessonScore float64

	startedAt     time.Time
	baseTimeSpent int

	// generation invalidates in-flight backend responses: bumped when the
	// view is torn down, so a late response cannot mutate a replaced view.
	generation uint64
	closed     bool

	backend   BackendOfRecord
	cache     ProgressCache
	journal   ProgressJournal
	publisher shared.EventPublisher
	clock     clock.Clock
	log       *slog.Logger
}

// NewLessonTracker creates a tracker in the Loading state. Call Load to
// resolve prior progress before the first tick.
func NewLessonTracker(p TrackerParams) (*LessonTracker, error) {
	record, err := lesson.NewCompletionRecord(p.LessonID)
	if err != nil {
		return nil, err
	}

	if p.Clock == nil {
		p.Clock = clock.New()
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}

	return &LessonTracker{
		sessionID: p.SessionID,
		studentID: p.StudentID,
		lessonID:  p.LessonID,
		shape:     p.Shape,
		policy:    lesson.SavePolicy{Threshold: p.Threshold},
		estimator: lesson.NewEstimator(),
		monotonic: lesson.NewMonotonicState(),
		record:    record,
		startedAt: p.Clock.Now(),
		backend:   p.Backend,
		cache:     p.Cache,
		journal:   p.Journal,
		publisher: p.Publisher,
		clock:     p.Clock,
		log:       p.Logger.With("session_id", p.SessionID, "lesson_id", p.LessonID.String()),
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LOADING
// ══════════════════════════════════════════════════════════════════════════════

// Load resolves previously persisted progress and moves the view into
// Tracking (or directly into Completed for an already-completed lesson).
// A failed fetch never blocks the student: the view starts from zero and
// the first successful save reconciles.
func (t *LessonTracker) Load(ctx context.Context) error {
	prior, fromCache := t.fetchPrior(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return shared.ErrSessionClosed
	}

	if prior != nil {
		t.monotonic.Seed(prior.ScrollProgress, prior.ReadingProgress)
		t.baseTimeSpent = prior.TimeSpentSeconds
		t.graded = lesson.AssessmentScores{Quiz: prior.QuizScore, Assignment: prior.AssignmentScore}
		t.snapshot = lesson.ProgressSnapshot{
			ScrollProgress:   t.monotonic.ScrollProgress(),
			ReadingProgress:  t.monotonic.ReadingProgress(),
			EngagementScore:  prior.EngagementScore,
			TimeSpentSeconds: prior.TimeSpentSeconds,
		}
		if prior.LessonScore != nil {
			t.lessonScore = *prior.LessonScore
		} else {
			t.lessonScore = lesson.ComputeScore(
				t.monotonic.ReadingProgress(), prior.EngagementScore, t.shape, t.graded)
		}
	}

	if err := t.record.FinishLoading(prior); err != nil {
		return err
	}

	ev := shared.ProgressLoadedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventProgressLoaded, t.sessionID, t.clock.Now()),
		LessonID:  t.lessonID.String(),
		FromCache: fromCache,
	}
	if prior != nil {
		ev.AlreadyCompleted = prior.Completed
		ev.ReadingProgress = prior.ReadingProgress
	}
	t.publish(ev)

	return nil
}

// fetchPrior tries the snapshot cache first and falls back to the backend.
// Both failures degrade to "no prior progress".
func (t *LessonTracker) fetchPrior(ctx context.Context) (prior *lesson.PersistedProgress, fromCache bool) {
	if t.cache != nil {
		cached, err := t.cache.Get(ctx, t.studentID, t.lessonID)
		if err != nil {
			t.log.Warn("progress cache read failed", "error", err)
		} else if cached != nil {
			return cached, true
		}
	}

	prior, err := retry.DoWithData(ctx, retry.ReadPolicy(), func(ctx context.Context) (*lesson.PersistedProgress, error) {
		return t.backend.FetchProgress(ctx, t.studentID, t.lessonID)
	})
	if err != nil {
		t.log.Warn("prior progress fetch failed, starting from zero", "error", err)
		return nil, false
	}
	return prior, false
}

// ══════════════════════════════════════════════════════════════════════════════
// ACCRUAL
// ══════════════════════════════════════════════════════════════════════════════

// UpdateTelemetry replaces the raw signals the next tick will estimate from.
// Inputs arriving after completion are silently ignored: the view is frozen.
func (t *LessonTracker) UpdateTelemetry(telemetry lesson.Telemetry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return shared.ErrSessionClosed
	}
	if t.record.Frozen() {
		return nil
	}

	t.telemetry = telemetry
	return nil
}

// SetAssessmentScores records externally graded quiz/assignment scores.
// Nil fields leave the existing grade untouched.
func (t *LessonTracker) SetAssessmentScores(s lesson.AssessmentScores) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return shared.ErrSessionClosed
	}

	if s.Quiz != nil {
		t.graded.Quiz = s.Quiz
	}
	if s.Assignment != nil {
		t.graded.Assignment = s.Assignment
	}
	return nil
}

// Tick runs one estimation pass. No-op outside the Tracking state: a view
// that is loading, completing or frozen accrues nothing.
func (t *LessonTracker) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || t.record.State != lesson.StateTracking {
		return
	}

	elapsed := t.clock.Since(t.startedAt)
	snap := t.estimator.Observe(elapsed, t.telemetry)
	snap.TimeSpentSeconds += t.baseTimeSpent

	t.monotonic.Observe(snap)
	t.snapshot = snap

	// The score reads from the monotonic reading maximum but from the
	// instantaneous engagement: engagement is intentionally non-monotonic.
	t.lessonScore = lesson.ComputeScore(
		t.monotonic.ReadingProgress(), snap.EngagementScore, t.shape, t.graded)
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// StatusView is a read-only projection of the tracker state for the API.
type StatusView struct {
	SessionID        string
	StudentID        string
	LessonID         string
	State            lesson.State
	ScrollProgress   float64
	ReadingProgress  float64
	EngagementScore  float64
	TimeSpentSeconds int
	LessonScore      float64
	IsCompleted      bool
	FinalScore       float64
	Requirements     []string
	NextLessonID     string
	NextUnlocked     bool
	Achievements     []string
	LastFailure      *lesson.Failure
	SaveAttempts     int
	SaveFailures     int
}

// Status returns the current projection.
func (t *LessonTracker) Status() StatusView {
	t.mu.Lock()
	defer t.mu.Unlock()

	return StatusView{
		SessionID:        t.sessionID,
		StudentID:        t.studentID,
		LessonID:         t.lessonID.String(),
		State:            t.record.State,
		ScrollProgress:   t.monotonic.ScrollProgress(),
		ReadingProgress:  t.monotonic.ReadingProgress(),
		EngagementScore:  t.snapshot.EngagementScore,
		TimeSpentSeconds: t.snapshot.TimeSpentSeconds,
		LessonScore:      t.lessonScore,
		IsCompleted:      t.record.IsCompleted,
		FinalScore:       t.record.FinalScore,
		Requirements:     t.record.Requirements,
		NextLessonID:     t.record.NextLessonID,
		NextUnlocked:     t.record.NextLessonUnlocked,
		Achievements:     t.record.Achievements,
		LastFailure:      t.record.LastFailure,
		SaveAttempts:     t.cursor.Attempts,
		SaveFailures:     t.cursor.Failures,
	}
}

// State returns the current completion state.
func (t *LessonTracker) State() lesson.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record.State
}

// ══════════════════════════════════════════════════════════════════════════════
// SAVING
// ══════════════════════════════════════════════════════════════════════════════

// SaveStatus classifies the outcome of a save pass.
type SaveStatus string

const (
	// SaveStatusSaved - the write reached the backend.
	SaveStatusSaved SaveStatus = "saved"
	// SaveStatusWithheld - the save policy skipped the write on purpose.
	SaveStatusWithheld SaveStatus = "withheld"
	// SaveStatusSkipped - the view is not in a state that saves.
	SaveStatusSkipped SaveStatus = "skipped"
	// SaveStatusDiscarded - the response arrived after the view was replaced.
	SaveStatusDiscarded SaveStatus = "discarded"
	// SaveStatusFailed - the write did not reach the backend.
	SaveStatusFailed SaveStatus = "failed"
)

// SaveOutcome is the result of one save pass.
type SaveOutcome struct {
	Status        SaveStatus
	AutoCompleted bool
	Ack           *lesson.SaveAck
}

// Save runs one save pass. Scheduled passes (forced=false) go through the
// save policy; forced passes (student action, teardown flush) bypass it.
// A failed write is returned as an error but never stops local accrual.
// When a scheduled pass lands at or above the completion threshold and the
// backend did not complete the lesson with the write, the tracker initiates
// completion itself; the backend of record still confirms.
func (t *LessonTracker) Save(ctx context.Context, forced bool) (SaveOutcome, error) {
	outcome, autoComplete, err := t.savePass(ctx, forced)
	if err != nil || !autoComplete {
		return outcome, err
	}

	res, completeErr := t.Complete(ctx, lesson.MethodAutomatic)
	switch {
	case completeErr != nil:
		// The save itself succeeded; the next scheduled pass retries.
		t.log.Warn("auto-completion attempt failed", "error", completeErr)
	case res.Completed:
		outcome.AutoCompleted = true
	}
	return outcome, nil
}

// savePass is one write attempt. The second return reports that the score
// reached the completion threshold without the ack completing the lesson.
func (t *LessonTracker) savePass(ctx context.Context, forced bool) (SaveOutcome, bool, error) {
	t.mu.Lock()

	if t.closed {
		t.mu.Unlock()
		return SaveOutcome{Status: SaveStatusSkipped}, false, shared.ErrSessionClosed
	}
	if t.record.State != lesson.StateTracking {
		t.mu.Unlock()
		return SaveOutcome{Status: SaveStatusSkipped}, false, nil
	}

	if !t.policy.ShouldSync(t.lessonScore, t.monotonic.ReadingProgress(), forced) {
		ev := shared.ProgressWithheldEvent{
			BaseEvent:   shared.NewBaseEvent(shared.EventProgressWithheld, t.sessionID, t.clock.Now()),
			LessonID:    t.lessonID.String(),
			LessonScore: t.lessonScore,
		}
		t.mu.Unlock()
		t.publish(ev)
		return SaveOutcome{Status: SaveStatusWithheld}, false, nil
	}

	now := t.clock.Now()
	t.cursor.RecordAttempt(now)
	write := t.buildWrite(forced)
	gen := t.generation
	t.mu.Unlock()

	ack, err := retry.DoWithData(ctx, retry.DefaultPolicy(), func(ctx context.Context) (*lesson.SaveAck, error) {
		return t.backend.SaveProgress(ctx, t.studentID, t.lessonID, write)
	})

	// A write answered with "already completed" is a completion report,
	// not a failure: another write or device finished the lesson first.
	var already *AlreadyCompletedError
	if errors.As(err, &already) {
		ack = &lesson.SaveAck{AutoCompleted: true, CompletionMessage: already.Message}
		err = nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// The view may have been replaced while the request was in flight.
	if t.closed || t.generation != gen {
		return SaveOutcome{Status: SaveStatusDiscarded}, false, nil
	}

	kind := JournalAutoSave
	if forced {
		kind = JournalForcedSave
	}

	if err != nil {
		t.cursor.RecordFailure()
		t.journalEntry(ctx, kind, false, write, err.Error())
		t.publish(shared.ProgressSaveFailedEvent{
			BaseEvent: shared.NewBaseEvent(shared.EventProgressSaveFailed, t.sessionID, t.clock.Now()),
			LessonID:  t.lessonID.String(),
			Reason:    err.Error(),
		})
		t.log.Warn("progress save failed, will retry next interval", "error", err)
		return SaveOutcome{Status: SaveStatusFailed}, false, err
	}

	t.cursor.RecordSuccess(t.clock.Now())
	t.journalEntry(ctx, kind, true, write, "")
	t.cacheSnapshot(ctx, write, ack)
	t.publish(shared.ProgressSavedEvent{
		BaseEvent:   shared.NewBaseEvent(shared.EventProgressSaved, t.sessionID, t.clock.Now()),
		LessonID:    t.lessonID.String(),
		LessonScore: write.LessonScore,
		Forced:      forced,
	})

	outcome := SaveOutcome{Status: SaveStatusSaved, Ack: ack}

	// The backend may complete the lesson as a side effect of the write.
	if ack != nil && ack.AutoCompleted {
		if err := t.record.ConfirmAutoCompleted(*ack, t.clock.Now()); err == nil {
			outcome.AutoCompleted = true
			t.publish(shared.LessonCompletedEvent{
				BaseEvent:          shared.NewBaseEvent(shared.EventLessonCompleted, t.sessionID, t.clock.Now()),
				StudentID:          t.studentID,
				LessonID:           t.lessonID.String(),
				FinalScore:         t.record.FinalScore,
				Method:             string(lesson.MethodAutomatic),
				TimeSpentSeconds:   write.TimeSpentSeconds,
				NextLessonUnlocked: ack.NextLessonUnlocked,
			})
		}
	}

	autoComplete := !forced && !outcome.AutoCompleted &&
		t.record.State == lesson.StateTracking &&
		t.policy.Threshold.Reached(t.lessonScore)

	return outcome, autoComplete, nil
}

// buildWrite snapshots the current accrued state into a write payload.
// Caller holds the mutex.
func (t *LessonTracker) buildWrite(forced bool) ProgressWrite {
	return ProgressWrite{
		ReadingProgress:  t.monotonic.ReadingProgress(),
		EngagementScore:  t.snapshot.EngagementScore,
		ScrollProgress:   t.monotonic.ScrollProgress(),
		TimeSpentSeconds: t.snapshot.TimeSpentSeconds,
		LessonScore:      t.lessonScore,
		Forced:           forced,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION
// ══════════════════════════════════════════════════════════════════════════════

// CompletionResult reports the outcome of a completion attempt.
type CompletionResult struct {
	Completed    bool
	FinalScore   float64
	Achievements []string
	NextLessonID string
	NextUnlocked bool
	Message      string
	Failure      *lesson.Failure
}

// Complete requests lesson completion from the backend of record. Progress
// is flushed first so the backend judges the freshest numbers. Completing an
// already-completed lesson is a success, not an error; a second request
// while one is in flight returns lesson.ErrCompletionInFlight.
func (t *LessonTracker) Complete(ctx context.Context, method lesson.CompletionMethod) (CompletionResult, error) {
	t.mu.Lock()

	if t.closed {
		t.mu.Unlock()
		return CompletionResult{}, shared.ErrSessionClosed
	}

	// Idempotent re-completion.
	if t.record.State == lesson.StateCompleted {
		res := t.resultFromRecord()
		t.mu.Unlock()
		return res, nil
	}

	if err := t.record.BeginCompletion(method); err != nil {
		t.mu.Unlock()
		return CompletionResult{}, err
	}

	req := CompletionRequest{
		Method:           method,
		LessonScore:      t.lessonScore,
		ReadingProgress:  t.monotonic.ReadingProgress(),
		EngagementScore:  t.snapshot.EngagementScore,
		TimeSpentSeconds: t.snapshot.TimeSpentSeconds,
	}
	write := t.buildWrite(true)
	gen := t.generation
	t.mu.Unlock()

	// Flush progress first; a failed flush does not abort the attempt,
	// the backend still holds the last successful write.
	if _, err := t.backend.SaveProgress(ctx, t.studentID, t.lessonID, write); err != nil {
		t.log.Warn("pre-completion flush failed", "error", err)
	}

	conf, err := t.backend.CompleteLesson(ctx, t.studentID, t.lessonID, req)

	// An "already completed" answer is an idempotent success: the backend
	// of record holds the lesson as done, whoever finished it first.
	var already *AlreadyCompletedError
	if errors.As(err, &already) {
		conf = &lesson.Confirmation{Completed: true, ProgressSaved: true, Message: already.Message}
		err = nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || t.generation != gen {
		return CompletionResult{}, shared.ErrStaleResponse
	}

	if err != nil {
		return t.handleCompletionError(ctx, req, err)
	}

	now := t.clock.Now()
	if err := t.record.Confirm(*conf, now); err != nil {
		return CompletionResult{}, err
	}

	t.journalEntry(ctx, JournalCompletion, true, write, "")
	t.cacheCompleted(ctx)
	t.publish(shared.LessonCompletedEvent{
		BaseEvent:          shared.NewBaseEvent(shared.EventLessonCompleted, t.sessionID, now),
		StudentID:          t.studentID,
		LessonID:           t.lessonID.String(),
		FinalScore:         t.record.FinalScore,
		Method:             string(method),
		TimeSpentSeconds:   write.TimeSpentSeconds,
		NextLessonUnlocked: t.record.NextLessonUnlocked,
		NewAchievements:    t.record.Achievements,
	})

	res := t.resultFromRecord()
	res.Message = conf.Message
	return res, nil
}

// handleCompletionError classifies the boundary error, reverts the state
// machine and emits the matching event. Caller holds the mutex.
func (t *LessonTracker) handleCompletionError(ctx context.Context, req CompletionRequest, err error) (CompletionResult, error) {
	f := Classify(err)
	if revertErr := t.record.Revert(f); revertErr != nil {
		return CompletionResult{}, revertErr
	}

	t.journalEntry(ctx, JournalCompletion, false, ProgressWrite{
		LessonScore:      req.LessonScore,
		ReadingProgress:  req.ReadingProgress,
		TimeSpentSeconds: req.TimeSpentSeconds,
	}, string(f.Kind))

	now := t.clock.Now()
	switch f.Kind {
	case lesson.FailureRequirementsNotMet, lesson.FailureQuizRequired, lesson.FailureAssignmentRequired:
		t.publish(shared.CompletionRefusedEvent{
			BaseEvent:           shared.NewBaseEvent(shared.EventCompletionRefused, t.sessionID, now),
			LessonID:            t.lessonID.String(),
			MissingRequirements: f.MissingRequirements,
		})
	default:
		t.publish(shared.CompletionFailedEvent{
			BaseEvent: shared.NewBaseEvent(shared.EventCompletionFailed, t.sessionID, now),
			LessonID:  t.lessonID.String(),
			Kind:      string(f.Kind),
		})
	}

	return CompletionResult{Failure: &f}, err
}

// resultFromRecord projects the record into a result. Caller holds the mutex.
func (t *LessonTracker) resultFromRecord() CompletionResult {
	return CompletionResult{
		Completed:    t.record.IsCompleted,
		FinalScore:   t.record.FinalScore,
		Achievements: t.record.Achievements,
		NextLessonID: t.record.NextLessonID,
		NextUnlocked: t.record.NextLessonUnlocked,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TEARDOWN
// ══════════════════════════════════════════════════════════════════════════════

// Invalidate tears the view down: the generation bump makes any in-flight
// backend response stale, and every subsequent mutation is refused.
func (t *LessonTracker) Invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.generation++
	t.closed = true
}

// ══════════════════════════════════════════════════════════════════════════════
// SIDE CHANNELS (never fatal)
// ══════════════════════════════════════════════════════════════════════════════

func (t *LessonTracker) publish(ev shared.Event) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.Publish(ev); err != nil {
		t.log.Warn("event publish failed", "event", string(ev.EventType()), "error", err)
	}
}

func (t *LessonTracker) journalEntry(ctx context.Context, kind JournalKind, success bool, w ProgressWrite, detail string) {
	if t.journal == nil {
		return
	}
	entry := JournalEntry{
		SessionID:        t.sessionID,
		StudentID:        t.studentID,
		LessonID:         t.lessonID,
		Kind:             kind,
		Success:          success,
		LessonScore:      w.LessonScore,
		ReadingProgress:  w.ReadingProgress,
		TimeSpentSeconds: w.TimeSpentSeconds,
		Detail:           detail,
		At:               t.clock.Now(),
	}
	if err := t.journal.Record(ctx, entry); err != nil {
		t.log.Warn("journal write failed", "error", err)
	}
}

func (t *LessonTracker) cacheSnapshot(ctx context.Context, w ProgressWrite, ack *lesson.SaveAck) {
	if t.cache == nil {
		return
	}
	score := w.LessonScore
	p := lesson.PersistedProgress{
		ReadingProgress:  w.ReadingProgress,
		EngagementScore:  w.EngagementScore,
		ScrollProgress:   w.ScrollProgress,
		TimeSpentSeconds: w.TimeSpentSeconds,
		LessonScore:      &score,
		QuizScore:        t.graded.Quiz,
		AssignmentScore:  t.graded.Assignment,
	}
	if ack != nil && ack.AutoCompleted {
		p.Completed = true
		if ack.FinalScore != nil {
			p.LessonScore = ack.FinalScore
		}
	}
	if err := t.cache.Set(ctx, t.studentID, t.lessonID, p); err != nil {
		t.log.Warn("progress cache write failed", "error", err)
	}
}

func (t *LessonTracker) cacheCompleted(ctx context.Context) {
	if t.cache == nil {
		return
	}
	score := t.record.FinalScore
	p := lesson.PersistedProgress{
		ReadingProgress:  t.monotonic.ReadingProgress(),
		EngagementScore:  t.snapshot.EngagementScore,
		ScrollProgress:   t.monotonic.ScrollProgress(),
		TimeSpentSeconds: t.snapshot.TimeSpentSeconds,
		LessonScore:      &score,
		QuizScore:        t.graded.Quiz,
		AssignmentScore:  t.graded.Assignment,
		Completed:        true,
	}
	if err := t.cache.Set(ctx, t.studentID, t.lessonID, p); err != nil {
		t.log.Warn("progress cache write failed", "error", err)
	}
}
