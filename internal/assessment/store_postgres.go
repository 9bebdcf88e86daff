package assessment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// PostgresStore is a PostgreSQL-backed assessment Store.
//
// The single-in-progress-attempt invariant is enforced by a partial unique
// index on (quiz_id, user_id) WHERE status = 'in_progress'; the completed
// transition is a status-guarded UPDATE so concurrent submits cannot both
// grade.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed assessment store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) CreateAttempt(ctx context.Context, quizID, userID string, startedAt time.Time) (*Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var id string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO quiz_attempts (id, quiz_id, user_id, status, started_at)
		 VALUES (gen_random_uuid()::text, $1, $2, 'in_progress', $3)
		 ON CONFLICT (quiz_id, user_id) WHERE status = 'in_progress' DO NOTHING
		 RETURNING id`,
		quizID, userID, startedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the insert race (or an attempt was already open): surface the
		// existing attempt so the caller can resume it.
		var existingID string
		err := s.pool.QueryRow(ctx,
			`SELECT id FROM quiz_attempts
			 WHERE quiz_id = $1 AND user_id = $2 AND status = 'in_progress'`,
			quizID, userID,
		).Scan(&existingID)
		if err != nil {
			return nil, fmt.Errorf("find active attempt: %w", err)
		}
		return nil, &AttemptActiveError{AttemptID: existingID}
	}
	if err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	return &Attempt{
		ID:        id,
		QuizID:    quizID,
		UserID:    userID,
		Status:    StatusInProgress,
		StartedAt: startedAt,
	}, nil
}

func (s *PostgresStore) GetAttempt(ctx context.Context, id string) (*Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	a, err := s.scanAttempt(ctx, s.pool,
		`SELECT id, quiz_id, user_id, status, started_at, submitted_at,
		        score, passed, correct_count, total_questions, time_spent_seconds, auto_submitted,
		        integrity_warnings, integrity_flags
		 FROM quiz_attempts WHERE id = $1`, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	return a, err
}

func (s *PostgresStore) AppendIntegrityFlag(ctx context.Context, attemptID string, flag IntegrityFlag) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	flagJSON, err := json.Marshal(flag)
	if err != nil {
		return 0, fmt.Errorf("marshal integrity flag: %w", err)
	}

	var warnings int
	err = s.pool.QueryRow(ctx,
		`UPDATE quiz_attempts
		 SET integrity_warnings = integrity_warnings + 1,
		     integrity_flags = integrity_flags || $2::jsonb
		 WHERE id = $1 AND status = 'in_progress'
		 RETURNING integrity_warnings`,
		attemptID, string(flagJSON),
	).Scan(&warnings)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, s.inProgressGuardError(ctx, attemptID)
	}
	if err != nil {
		return 0, fmt.Errorf("append integrity flag: %w", err)
	}
	return warnings, nil
}

func (s *PostgresStore) SaveDraftAnswer(ctx context.Context, attemptID, questionID string, selected []int) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	selectedJSON, err := json.Marshal(selected)
	if err != nil {
		return fmt.Errorf("marshal selection: %w", err)
	}

	cmd, err := s.pool.Exec(ctx,
		`UPDATE quiz_attempts
		 SET draft_answers = jsonb_set(COALESCE(draft_answers, '{}'::jsonb), ARRAY[$2], $3::jsonb, true)
		 WHERE id = $1 AND status = 'in_progress'`,
		attemptID, questionID, string(selectedJSON),
	)
	if err != nil {
		return fmt.Errorf("save draft answer: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return s.inProgressGuardError(ctx, attemptID)
	}
	return nil
}

func (s *PostgresStore) DraftAnswers(ctx context.Context, attemptID string) (AnswerSheet, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(draft_answers, '{}'::jsonb) FROM quiz_attempts WHERE id = $1`,
		attemptID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(attemptID)
	}
	if err != nil {
		return nil, fmt.Errorf("load draft answers: %w", err)
	}

	sheet := make(AnswerSheet)
	if err := json.Unmarshal(raw, &sheet); err != nil {
		return nil, fmt.Errorf("decode draft answers: %w", err)
	}
	return sheet, nil
}

func (s *PostgresStore) CompleteAttempt(ctx context.Context, attemptID string, submittedAt time.Time, result Result, answers []Answer) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Status-guarded transition: the loser of a double submit sees zero rows
	// and no answers are written for it.
	cmd, err := tx.Exec(ctx,
		`UPDATE quiz_attempts
		 SET status = 'completed', submitted_at = $2, score = $3, passed = $4,
		     correct_count = $5, total_questions = $6, time_spent_seconds = $7,
		     auto_submitted = $8
		 WHERE id = $1 AND status = 'in_progress'`,
		attemptID, submittedAt, result.Score, result.Passed,
		result.CorrectCount, result.TotalQuestions, result.TimeSpentSeconds,
		result.AutoSubmitted,
	)
	if err != nil {
		return fmt.Errorf("complete attempt: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return s.inProgressGuardError(ctx, attemptID)
	}

	for _, a := range answers {
		if _, err := tx.Exec(ctx,
			`INSERT INTO quiz_answers (attempt_id, question_id, selected_options, is_correct, points_earned)
			 VALUES ($1, $2, $3, $4, $5)`,
			attemptID, a.QuestionID, a.SelectedOptions, a.IsCorrect, a.PointsEarned,
		); err != nil {
			return fmt.Errorf("insert answer: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) AnswersByAttempt(ctx context.Context, attemptID string) ([]Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT attempt_id, question_id, selected_options, is_correct, points_earned
		 FROM quiz_answers WHERE attempt_id = $1`,
		attemptID,
	)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer rows.Close()

	var out []Answer
	for rows.Next() {
		var a Answer
		if err := rows.Scan(&a.AttemptID, &a.QuestionID, &a.SelectedOptions, &a.IsCorrect, &a.PointsEarned); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) BestAttempt(ctx context.Context, quizID, userID string) (*Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	a, err := s.scanAttempt(ctx, s.pool,
		`SELECT id, quiz_id, user_id, status, started_at, submitted_at,
		        score, passed, correct_count, total_questions, time_spent_seconds, auto_submitted,
		        integrity_warnings, integrity_flags
		 FROM quiz_attempts
		 WHERE quiz_id = $1 AND user_id = $2 AND status = 'completed'
		 ORDER BY score DESC, submitted_at ASC
		 LIMIT 1`, quizID, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (s *PostgresStore) CompletedAttempts(ctx context.Context, quizID string) ([]Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id, quiz_id, user_id, status, started_at, submitted_at,
		        score, passed, correct_count, total_questions, time_spent_seconds, auto_submitted,
		        integrity_warnings, integrity_flags
		 FROM quiz_attempts
		 WHERE quiz_id = $1 AND status = 'completed'
		 ORDER BY submitted_at`,
		quizID,
	)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		a, err := scanAttemptRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) HasPassed(ctx context.Context, quizID, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var passed bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM quiz_attempts
		   WHERE quiz_id = $1 AND user_id = $2 AND status = 'completed' AND passed
		 )`,
		quizID, userID,
	).Scan(&passed)
	if err != nil {
		return false, fmt.Errorf("check pass: %w", err)
	}
	return passed, nil
}

func (s *PostgresStore) HasAttempts(ctx context.Context, quizID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM quiz_attempts WHERE quiz_id = $1)`,
		quizID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check attempts: %w", err)
	}
	return exists, nil
}

// inProgressGuardError distinguishes "attempt missing" from "attempt no
// longer in progress" after a guarded write touched zero rows.
func (s *PostgresStore) inProgressGuardError(ctx context.Context, attemptID string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM quiz_attempts WHERE id = $1)`,
		attemptID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check attempt: %w", err)
	}
	if !exists {
		return notFound(attemptID)
	}
	return ErrAlreadySubmitted
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanAttempt(ctx context.Context, pool *pgxpool.Pool, query string, args ...any) (*Attempt, error) {
	return scanAttemptRow(pool.QueryRow(ctx, query, args...))
}

func scanAttemptRow(row rowScanner) (*Attempt, error) {
	var a Attempt
	var score *float64
	var passed *bool
	var correctCount, totalQuestions, timeSpent *int
	var autoSubmitted *bool
	var flagsRaw []byte

	err := row.Scan(
		&a.ID, &a.QuizID, &a.UserID, &a.Status, &a.StartedAt, &a.SubmittedAt,
		&score, &passed, &correctCount, &totalQuestions, &timeSpent, &autoSubmitted,
		&a.IntegrityWarnings, &flagsRaw,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("scan attempt: %w", err)
	}

	if len(flagsRaw) > 0 {
		if err := json.Unmarshal(flagsRaw, &a.IntegrityFlags); err != nil {
			return nil, fmt.Errorf("decode integrity flags: %w", err)
		}
	}

	if a.Status == StatusCompleted {
		a.Result = &Result{
			Score:            deref(score),
			Passed:           passed != nil && *passed,
			CorrectCount:     deref(correctCount),
			TotalQuestions:   deref(totalQuestions),
			TimeSpentSeconds: deref(timeSpent),
			AutoSubmitted:    autoSubmitted != nil && *autoSubmitted,
		}
	}
	return &a, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
