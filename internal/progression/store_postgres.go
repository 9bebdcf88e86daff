package progression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// PostgresStore is a PostgreSQL-backed EdgeStore and ProgressStore.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed progression store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

// InsertEdge runs the cycle check and the insert in one serializable
// transaction, so two concurrent inserts that would jointly close a cycle
// cannot both commit. One retry on serialization failure.
func (s *PostgresStore) InsertEdge(ctx context.Context, courseID, requiredID string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = s.insertEdgeTx(ctx, courseID, requiredID)
		if !isSerializationFailure(err) {
			return err
		}
	}
	return fmt.Errorf("insert edge: %w", err)
}

func (s *PostgresStore) insertEdgeTx(ctx context.Context, courseID, requiredID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	adj, err := loadAdjacency(ctx, tx)
	if err != nil {
		return err
	}
	for _, r := range adj[courseID] {
		if r == requiredID {
			return ErrDuplicateEdge
		}
	}
	if createsCycle(adj, courseID, requiredID) {
		return ErrCycle
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO course_prerequisites (course_id, required_course_id) VALUES ($1, $2)`,
		courseID, requiredID,
	); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEdge
		}
		return fmt.Errorf("insert edge: %w", err)
	}

	return tx.Commit(ctx)
}

func loadAdjacency(ctx context.Context, tx pgx.Tx) (map[string][]string, error) {
	rows, err := tx.Query(ctx,
		`SELECT course_id, required_course_id FROM course_prerequisites`)
	if err != nil {
		return nil, fmt.Errorf("load adjacency: %w", err)
	}
	defer rows.Close()

	adj := make(map[string][]string)
	for rows.Next() {
		var course, required string
		if err := rows.Scan(&course, &required); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		adj[course] = append(adj[course], required)
	}
	return adj, rows.Err()
}

func (s *PostgresStore) DeleteEdge(ctx context.Context, courseID, requiredID string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	cmd, err := s.pool.Exec(ctx,
		`DELETE FROM course_prerequisites WHERE course_id = $1 AND required_course_id = $2`,
		courseID, requiredID,
	)
	if err != nil {
		return fmt.Errorf("delete edge: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrEdgeNotFound
	}
	return nil
}

func (s *PostgresStore) Prerequisites(ctx context.Context, courseID string) ([]string, error) {
	return s.edgeColumn(ctx,
		`SELECT required_course_id FROM course_prerequisites WHERE course_id = $1 ORDER BY required_course_id`,
		courseID)
}

func (s *PostgresStore) Dependents(ctx context.Context, courseID string) ([]string, error) {
	return s.edgeColumn(ctx,
		`SELECT course_id FROM course_prerequisites WHERE required_course_id = $1 ORDER BY course_id`,
		courseID)
}

func (s *PostgresStore) edgeColumn(ctx context.Context, query, courseID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, courseID)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddTime(ctx context.Context, userID, lessonID string, seconds int) (*LessonProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var p LessonProgress
	err := s.pool.QueryRow(ctx,
		`INSERT INTO lesson_progress (user_id, lesson_id, status, time_spent_seconds)
		 VALUES ($1, $2, 'in_progress', $3)
		 ON CONFLICT (user_id, lesson_id) DO UPDATE
		 SET time_spent_seconds = lesson_progress.time_spent_seconds + EXCLUDED.time_spent_seconds,
		     status = CASE WHEN lesson_progress.status = 'completed' THEN 'completed' ELSE 'in_progress' END
		 RETURNING user_id, lesson_id, status, time_spent_seconds, completed_at`,
		userID, lessonID, seconds,
	).Scan(&p.UserID, &p.LessonID, &p.Status, &p.TimeSpentSeconds, &p.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("add lesson time: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) Complete(ctx context.Context, userID, lessonID string, at time.Time) (*LessonProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var p LessonProgress
	err := s.pool.QueryRow(ctx,
		`INSERT INTO lesson_progress (user_id, lesson_id, status, time_spent_seconds, completed_at)
		 VALUES ($1, $2, 'completed', 0, $3)
		 ON CONFLICT (user_id, lesson_id) DO UPDATE
		 SET status = 'completed',
		     completed_at = COALESCE(lesson_progress.completed_at, EXCLUDED.completed_at)
		 RETURNING user_id, lesson_id, status, time_spent_seconds, completed_at`,
		userID, lessonID, at,
	).Scan(&p.UserID, &p.LessonID, &p.Status, &p.TimeSpentSeconds, &p.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("complete lesson: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) Progress(ctx context.Context, userID string, lessonIDs []string) (map[string]LessonProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	out := make(map[string]LessonProgress, len(lessonIDs))
	if len(lessonIDs) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT user_id, lesson_id, status, time_spent_seconds, completed_at
		 FROM lesson_progress
		 WHERE user_id = $1 AND lesson_id = ANY($2)`,
		userID, lessonIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("query progress: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p LessonProgress
		if err := rows.Scan(&p.UserID, &p.LessonID, &p.Status, &p.TimeSpentSeconds, &p.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		out[p.LessonID] = p
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}
