package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/afritech-bridge/progress-engine/internal/application/eventhandler"
	"github.com/afritech-bridge/progress-engine/internal/application/tracking"
	"github.com/afritech-bridge/progress-engine/internal/domain/lesson"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS JOURNAL REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// JournalRepository persists backend sync attempts.
// Implements tracking.ProgressJournal.
type JournalRepository struct {
	conn *Connection
}

// NewJournalRepository creates a new JournalRepository.
func NewJournalRepository(conn *Connection) *JournalRepository {
	return &JournalRepository{conn: conn}
}

// Record appends one sync attempt to the journal.
func (r *JournalRepository) Record(ctx context.Context, entry tracking.JournalEntry) error {
	query := `
		INSERT INTO progress_journal
			(session_id, student_id, lesson_id, kind, success,
			 lesson_score, reading_progress, time_spent_seconds, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)
	`

	_, err := r.conn.Exec(ctx, query,
		entry.SessionID,
		entry.StudentID,
		entry.LessonID.String(),
		string(entry.Kind),
		entry.Success,
		entry.LessonScore,
		entry.ReadingProgress,
		entry.TimeSpentSeconds,
		entry.Detail,
		entry.At,
	)
	if err != nil {
		return fmt.Errorf("failed to record journal entry: %w", err)
	}
	return nil
}

// RecentForStudent returns the latest sync attempts for a student, newest first.
func (r *JournalRepository) RecentForStudent(ctx context.Context, studentID string, limit int) ([]tracking.JournalEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `
		SELECT session_id, student_id, lesson_id, kind, success,
		       lesson_score, reading_progress, time_spent_seconds,
		       COALESCE(detail, ''), occurred_at
		FROM progress_journal
		WHERE student_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`

	rows, err := r.conn.Query(ctx, query, studentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []tracking.JournalEntry
	for rows.Next() {
		var e tracking.JournalEntry
		var lessonID, kind string

		err := rows.Scan(
			&e.SessionID,
			&e.StudentID,
			&lessonID,
			&kind,
			&e.Success,
			&e.LessonScore,
			&e.ReadingProgress,
			&e.TimeSpentSeconds,
			&e.Detail,
			&e.At,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}

		e.LessonID = lesson.ID(lessonID)
		e.Kind = tracking.JournalKind(kind)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// FailureCountSince returns the number of failed sync attempts since the
// given time. Used by health reporting to surface a degraded backend.
func (r *JournalRepository) FailureCountSince(ctx context.Context, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM progress_journal WHERE success = FALSE AND occurred_at >= $1`

	var count int
	if err := r.conn.QueryRow(ctx, query, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count journal failures: %w", err)
	}
	return count, nil
}

// PurgeOlderThan removes journal entries past the retention window and
// returns the number of rows deleted.
func (r *JournalRepository) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)

	tag, err := r.conn.Exec(ctx, `DELETE FROM progress_journal WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge journal: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION OUTCOME REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// OutcomeRepository persists confirmed completions.
// Implements eventhandler.OutcomeStore.
type OutcomeRepository struct {
	conn *Connection
}

// NewOutcomeRepository creates a new OutcomeRepository.
func NewOutcomeRepository(conn *Connection) *OutcomeRepository {
	return &OutcomeRepository{conn: conn}
}

// RecordOutcome upserts a confirmed completion. A repeat confirmation for
// the same student/lesson pair keeps the earliest row.
func (r *OutcomeRepository) RecordOutcome(ctx context.Context, o eventhandler.CompletionOutcome) error {
	query := `
		INSERT INTO completion_outcomes
			(student_id, lesson_id, method, final_score, time_spent_seconds, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (student_id, lesson_id) DO NOTHING
	`

	_, err := r.conn.Exec(ctx, query,
		o.StudentID,
		o.LessonID,
		o.Method,
		o.FinalScore,
		o.TimeSpentSeconds,
		o.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record completion outcome: %w", err)
	}
	return nil
}

// CompletedLessons returns the lessons a student has completed, newest first.
func (r *OutcomeRepository) CompletedLessons(ctx context.Context, studentID string) ([]eventhandler.CompletionOutcome, error) {
	query := `
		SELECT student_id, lesson_id, method, final_score, time_spent_seconds, completed_at
		FROM completion_outcomes
		WHERE student_id = $1
		ORDER BY completed_at DESC
	`

	rows, err := r.conn.Query(ctx, query, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query completion outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []eventhandler.CompletionOutcome
	for rows.Next() {
		var o eventhandler.CompletionOutcome
		err := rows.Scan(
			&o.StudentID,
			&o.LessonID,
			&o.Method,
			&o.FinalScore,
			&o.TimeSpentSeconds,
			&o.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan completion outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}

	return outcomes, rows.Err()
}
