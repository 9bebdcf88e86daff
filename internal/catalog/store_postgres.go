package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pathway-labs/pathway/internal/apperr"
)

const dbTimeout = 5 * time.Second

// PostgresStore is a PostgreSQL-backed catalog Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed catalog store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) CreateCourse(ctx context.Context, c Course) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var id string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO courses (id, title, description, created_at)
		 VALUES (COALESCE(NULLIF($1, ''), gen_random_uuid()::text), $2, $3, $4)
		 RETURNING id`,
		c.ID, c.Title, nullIfEmpty(c.Description), createdAt,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create course: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetCourse(ctx context.Context, id string) (*Course, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var c Course
	var description *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, description, created_at FROM courses WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.Title, &description, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(CodeCourseNotFound, "course not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	if description != nil {
		c.Description = *description
	}
	return &c, nil
}

func (s *PostgresStore) ListCourses(ctx context.Context) ([]Course, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id, title, COALESCE(description, ''), created_at FROM courses ORDER BY title`)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	var out []Course
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.Title, &c.Description, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateLesson(ctx context.Context, l Lesson) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var id string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO lessons (id, course_id, title, content_type, duration_minutes, text_content, position)
		 VALUES (COALESCE(NULLIF($1, ''), gen_random_uuid()::text), $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		l.ID, l.CourseID, l.Title, string(l.ContentType), l.DurationMinutes, nullIfEmpty(l.TextContent), l.Position,
	).Scan(&id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return "", apperr.NotFound(CodeCourseNotFound, "course not found: %s", l.CourseID)
		}
		return "", fmt.Errorf("create lesson: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetLesson(ctx context.Context, id string) (*Lesson, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var l Lesson
	err := s.pool.QueryRow(ctx,
		`SELECT id, course_id, title, content_type, duration_minutes, COALESCE(text_content, ''), position
		 FROM lessons WHERE id = $1`,
		id,
	).Scan(&l.ID, &l.CourseID, &l.Title, &l.ContentType, &l.DurationMinutes, &l.TextContent, &l.Position)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(CodeLessonNotFound, "lesson not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get lesson: %w", err)
	}
	return &l, nil
}

func (s *PostgresStore) LessonsByCourse(ctx context.Context, courseID string) ([]Lesson, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id, course_id, title, content_type, duration_minutes, COALESCE(text_content, ''), position
		 FROM lessons WHERE course_id = $1 ORDER BY position`,
		courseID,
	)
	if err != nil {
		return nil, fmt.Errorf("query lessons: %w", err)
	}
	defer rows.Close()

	var out []Lesson
	for rows.Next() {
		var l Lesson
		if err := rows.Scan(&l.ID, &l.CourseID, &l.Title, &l.ContentType, &l.DurationMinutes, &l.TextContent, &l.Position); err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateQuiz(ctx context.Context, q Quiz) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var id string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO quizzes (id, course_id, title, is_active, time_limit_minutes, passing_score)
		 VALUES (COALESCE(NULLIF($1, ''), gen_random_uuid()::text), $2, $3, $4, $5, $6)
		 RETURNING id`,
		q.ID, q.CourseID, q.Title, q.IsActive, q.TimeLimitMinutes, q.PassingScore,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return "", apperr.Conflict(CodeQuizExists, "course %s already has a quiz", q.CourseID)
		}
		if isForeignKeyViolation(err) {
			return "", apperr.NotFound(CodeCourseNotFound, "course not found: %s", q.CourseID)
		}
		return "", fmt.Errorf("create quiz: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetQuiz(ctx context.Context, id string) (*Quiz, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	q, err := s.scanQuiz(ctx,
		`SELECT id, course_id, title, is_active, time_limit_minutes, passing_score
		 FROM quizzes WHERE id = $1`, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(CodeQuizNotFound, "quiz not found: %s", id)
	}
	return q, err
}

func (s *PostgresStore) QuizByCourse(ctx context.Context, courseID string) (*Quiz, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	q, err := s.scanQuiz(ctx,
		`SELECT id, course_id, title, is_active, time_limit_minutes, passing_score
		 FROM quizzes WHERE course_id = $1`, courseID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return q, err
}

func (s *PostgresStore) SetQuizActive(ctx context.Context, id string, active bool) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	cmd, err := s.pool.Exec(ctx, `UPDATE quizzes SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set quiz active: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return apperr.NotFound(CodeQuizNotFound, "quiz not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) DeleteQuiz(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	cmd, err := s.pool.Exec(ctx, `DELETE FROM quizzes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete quiz: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return apperr.NotFound(CodeQuizNotFound, "quiz not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) AddQuestion(ctx context.Context, q Question) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var id string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO quiz_questions (id, quiz_id, type, prompt, options, correct_options, points, position)
		 VALUES (COALESCE(NULLIF($1, ''), gen_random_uuid()::text), $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		q.ID, q.QuizID, string(q.Type), q.Prompt, q.Options, q.CorrectOptions, q.Points, q.Position,
	).Scan(&id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return "", apperr.NotFound(CodeQuizNotFound, "quiz not found: %s", q.QuizID)
		}
		return "", fmt.Errorf("add question: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) QuestionsByQuiz(ctx context.Context, quizID string) ([]Question, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id, quiz_id, type, prompt, options, correct_options, points, position
		 FROM quiz_questions WHERE quiz_id = $1 ORDER BY position`,
		quizID,
	)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	var out []Question
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.QuizID, &q.Type, &q.Prompt, &q.Options, &q.CorrectOptions, &q.Points, &q.Position); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *PostgresStore) scanQuiz(ctx context.Context, query string, args ...any) (*Quiz, error) {
	var q Quiz
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&q.ID, &q.CourseID, &q.Title, &q.IsActive, &q.TimeLimitMinutes, &q.PassingScore,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("get quiz: %w", err)
	}
	return &q, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
