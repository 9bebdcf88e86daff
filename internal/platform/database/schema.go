package database

import (
	"context"
	"fmt"
)

// schema is the engine's DDL, idempotent so startup can always apply it.
//
// Two constraints carry state-machine invariants:
//   - quiz_attempts_one_active makes a second in-progress attempt per
//     (quiz, user) impossible even under a double-start race;
//   - course_prerequisites' CHECK rejects self-edges at the storage layer
//     (cycle checking happens in the application transaction).
const schema = `
CREATE TABLE IF NOT EXISTS courses (
    id          TEXT PRIMARY KEY,
    title       TEXT NOT NULL,
    description TEXT,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS lessons (
    id               TEXT PRIMARY KEY,
    course_id        TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
    title            TEXT NOT NULL,
    content_type     TEXT NOT NULL CHECK (content_type IN ('video', 'text', 'mixed')),
    duration_minutes INT  NOT NULL DEFAULT 0,
    text_content     TEXT,
    position         INT  NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS course_prerequisites (
    course_id          TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
    required_course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
    PRIMARY KEY (course_id, required_course_id),
    CHECK (course_id <> required_course_id)
);

CREATE TABLE IF NOT EXISTS enrollments (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL,
    course_id    TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
    enrolled_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMPTZ,
    UNIQUE (user_id, course_id)
);

CREATE TABLE IF NOT EXISTS lesson_progress (
    user_id            TEXT NOT NULL,
    lesson_id          TEXT NOT NULL REFERENCES lessons(id) ON DELETE CASCADE,
    status             TEXT NOT NULL DEFAULT 'not_started'
                       CHECK (status IN ('not_started', 'in_progress', 'completed')),
    time_spent_seconds INT  NOT NULL DEFAULT 0 CHECK (time_spent_seconds >= 0),
    completed_at       TIMESTAMPTZ,
    PRIMARY KEY (user_id, lesson_id)
);

CREATE TABLE IF NOT EXISTS quizzes (
    id                 TEXT PRIMARY KEY,
    course_id          TEXT NOT NULL UNIQUE REFERENCES courses(id) ON DELETE CASCADE,
    title              TEXT NOT NULL,
    is_active          BOOLEAN NOT NULL DEFAULT FALSE,
    time_limit_minutes INT NOT NULL CHECK (time_limit_minutes > 0),
    passing_score      INT NOT NULL CHECK (passing_score BETWEEN 0 AND 100)
);

CREATE TABLE IF NOT EXISTS quiz_questions (
    id              TEXT PRIMARY KEY,
    quiz_id         TEXT NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
    type            TEXT NOT NULL CHECK (type IN ('single', 'multiple')),
    prompt          TEXT NOT NULL,
    options         TEXT[] NOT NULL,
    correct_options INT[] NOT NULL,
    points          INT NOT NULL CHECK (points > 0),
    position        INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS quiz_attempts (
    id                 TEXT PRIMARY KEY,
    quiz_id            TEXT NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
    user_id            TEXT NOT NULL,
    status             TEXT NOT NULL CHECK (status IN ('in_progress', 'completed')),
    started_at         TIMESTAMPTZ NOT NULL,
    submitted_at       TIMESTAMPTZ,
    score              NUMERIC(5,2),
    passed             BOOLEAN,
    correct_count      INT,
    total_questions    INT,
    time_spent_seconds INT,
    auto_submitted     BOOLEAN,
    integrity_warnings INT NOT NULL DEFAULT 0,
    integrity_flags    JSONB NOT NULL DEFAULT '[]'::jsonb,
    draft_answers      JSONB
);

CREATE UNIQUE INDEX IF NOT EXISTS quiz_attempts_one_active
    ON quiz_attempts (quiz_id, user_id) WHERE status = 'in_progress';

CREATE INDEX IF NOT EXISTS quiz_attempts_by_user
    ON quiz_attempts (quiz_id, user_id, status);

CREATE TABLE IF NOT EXISTS quiz_answers (
    attempt_id       TEXT NOT NULL REFERENCES quiz_attempts(id) ON DELETE CASCADE,
    question_id      TEXT NOT NULL REFERENCES quiz_questions(id) ON DELETE CASCADE,
    selected_options INT[] NOT NULL,
    is_correct       BOOLEAN NOT NULL,
    points_earned    INT NOT NULL,
    PRIMARY KEY (attempt_id, question_id)
);
`

// Migrate applies the schema.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}
