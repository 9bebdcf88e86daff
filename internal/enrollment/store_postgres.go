package enrollment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pathway-labs/pathway/internal/apperr"
)

const dbTimeout = 5 * time.Second

// PostgresStore is a PostgreSQL-backed enrollment Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed enrollment store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) EnsureEnrolled(ctx context.Context, userID, courseID string) (*Enrollment, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if userID == "" || courseID == "" {
		return nil, fmt.Errorf("user_id and course_id are required")
	}

	// Insert-if-absent, then read back. ON CONFLICT keeps concurrent first
	// visits from creating duplicate rows.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO enrollments (id, user_id, course_id, enrolled_at)
		 VALUES (gen_random_uuid()::text, $1, $2, NOW())
		 ON CONFLICT (user_id, course_id) DO NOTHING`,
		userID, courseID,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure enrollment: %w", err)
	}
	return s.Get(ctx, userID, courseID)
}

func (s *PostgresStore) Get(ctx context.Context, userID, courseID string) (*Enrollment, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var e Enrollment
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, course_id, enrolled_at, completed_at
		 FROM enrollments WHERE user_id = $1 AND course_id = $2`,
		userID, courseID,
	).Scan(&e.ID, &e.UserID, &e.CourseID, &e.EnrolledAt, &e.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(CodeNotFound, "user %s is not enrolled in course %s", userID, courseID)
	}
	if err != nil {
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	return &e, nil
}

func (s *PostgresStore) IsEnrolled(ctx context.Context, userID, courseID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM enrollments WHERE user_id = $1 AND course_id = $2)`,
		userID, courseID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, userID, courseID string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	// completed_at is written once; the IS NULL guard makes repeat calls no-ops.
	cmd, err := s.pool.Exec(ctx,
		`UPDATE enrollments SET completed_at = $3
		 WHERE user_id = $1 AND course_id = $2 AND completed_at IS NULL`,
		userID, courseID, at,
	)
	if err != nil {
		return fmt.Errorf("mark enrollment completed: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		exists, err := s.IsEnrolled(ctx, userID, courseID)
		if err != nil {
			return err
		}
		if !exists {
			return apperr.NotFound(CodeNotFound, "user %s is not enrolled in course %s", userID, courseID)
		}
	}
	return nil
}

func (s *PostgresStore) UsersByCourse(ctx context.Context, courseID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM enrollments WHERE course_id = $1 ORDER BY enrolled_at`,
		courseID,
	)
	if err != nil {
		return nil, fmt.Errorf("query enrollments: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		out = append(out, userID)
	}
	return out, rows.Err()
}
