// Package postgres implements the PostgreSQL persistence layer for the
// progress engine.
package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE PROGRESS JOURNAL
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create progress journal
-- Version: 001

-- Append-only record of backend sync attempts: interval auto-saves,
-- forced saves and completion requests. The LMS owns lesson progress;
-- this table answers "what did we send, when, and did it land".
CREATE TABLE IF NOT EXISTS progress_journal (
    id BIGSERIAL PRIMARY KEY,
    session_id UUID NOT NULL,
    student_id VARCHAR(100) NOT NULL,
    lesson_id VARCHAR(100) NOT NULL,
    kind VARCHAR(20) NOT NULL,
    success BOOLEAN NOT NULL,
    lesson_score DECIMAL(5,2) NOT NULL DEFAULT 0,
    reading_progress DECIMAL(5,2) NOT NULL DEFAULT 0,
    time_spent_seconds INTEGER NOT NULL DEFAULT 0,
    detail TEXT,
    occurred_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_kind CHECK (kind IN ('auto_save', 'forced_save', 'completion')),
    CONSTRAINT valid_lesson_score CHECK (lesson_score >= 0 AND lesson_score <= 100),
    CONSTRAINT valid_reading_progress CHECK (reading_progress >= 0 AND reading_progress <= 100),
    CONSTRAINT valid_time_spent CHECK (time_spent_seconds >= 0)
);

CREATE INDEX IF NOT EXISTS idx_journal_student_lesson ON progress_journal(student_id, lesson_id, occurred_at DESC);
CREATE INDEX IF NOT EXISTS idx_journal_session ON progress_journal(session_id);
CREATE INDEX IF NOT EXISTS idx_journal_occurred_at ON progress_journal(occurred_at DESC);
CREATE INDEX IF NOT EXISTS idx_journal_failures ON progress_journal(occurred_at DESC) WHERE success = FALSE;
`

const migration001Down = `
DROP TABLE IF EXISTS progress_journal;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE COMPLETION OUTCOMES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create completion outcomes
-- Version: 002

-- One row per confirmed completion, denormalized for reporting queries
-- that would otherwise scan the journal.
CREATE TABLE IF NOT EXISTS completion_outcomes (
    id BIGSERIAL PRIMARY KEY,
    student_id VARCHAR(100) NOT NULL,
    lesson_id VARCHAR(100) NOT NULL,
    method VARCHAR(20) NOT NULL,
    final_score DECIMAL(5,2),
    time_spent_seconds INTEGER NOT NULL DEFAULT 0,
    completed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    UNIQUE(student_id, lesson_id),
    CONSTRAINT valid_method CHECK (method IN ('automatic', 'manual'))
);

CREATE INDEX IF NOT EXISTS idx_outcomes_student ON completion_outcomes(student_id, completed_at DESC);
CREATE INDEX IF NOT EXISTS idx_outcomes_lesson ON completion_outcomes(lesson_id);
`

const migration002Down = `
DROP TABLE IF EXISTS completion_outcomes;
`

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_progress_journal",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_completion_outcomes",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
	}
}
