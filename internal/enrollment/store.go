// Package enrollment tracks which users hold an enrollment on which courses.
// Enrollments are created automatically on first course access; CompletedAt
// is stamped exactly once when the course completion verdict flips.
package enrollment

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/pathway-labs/pathway/internal/apperr"
)

// CodeNotFound is returned when no enrollment exists for a (user, course).
const CodeNotFound = "enrollment_not_found"

// Enrollment is one user's membership in one course.
type Enrollment struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	CourseID    string     `json:"course_id"`
	EnrolledAt  time.Time  `json:"enrolled_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Store persists enrollments.
type Store interface {
	// EnsureEnrolled returns the enrollment for (user, course), creating it
	// on first access.
	EnsureEnrolled(ctx context.Context, userID, courseID string) (*Enrollment, error)
	Get(ctx context.Context, userID, courseID string) (*Enrollment, error)
	IsEnrolled(ctx context.Context, userID, courseID string) (bool, error)
	// MarkCompleted stamps CompletedAt once; later calls are no-ops.
	MarkCompleted(ctx context.Context, userID, courseID string, at time.Time) error
	// UsersByCourse lists user IDs enrolled in a course.
	UsersByCourse(ctx context.Context, courseID string) ([]string, error)
}

// MemoryStore is an in-memory Store used in tests and development.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]*Enrollment // userID + "/" + courseID
}

// NewMemoryStore creates an empty in-memory enrollment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*Enrollment)}
}

func (s *MemoryStore) EnsureEnrolled(_ context.Context, userID, courseID string) (*Enrollment, error) {
	if userID == "" || courseID == "" {
		return nil, fmt.Errorf("user_id and course_id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := userID + "/" + courseID
	if e, ok := s.rows[key]; ok {
		cp := *e
		return &cp, nil
	}
	e := &Enrollment{
		ID:         generateID(),
		UserID:     userID,
		CourseID:   courseID,
		EnrolledAt: time.Now(),
	}
	s.rows[key] = e
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) Get(_ context.Context, userID, courseID string) (*Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.rows[userID+"/"+courseID]
	if !ok {
		return nil, apperr.NotFound(CodeNotFound, "user %s is not enrolled in course %s", userID, courseID)
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) IsEnrolled(_ context.Context, userID, courseID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.rows[userID+"/"+courseID]
	return ok, nil
}

func (s *MemoryStore) MarkCompleted(_ context.Context, userID, courseID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.rows[userID+"/"+courseID]
	if !ok {
		return apperr.NotFound(CodeNotFound, "user %s is not enrolled in course %s", userID, courseID)
	}
	if e.CompletedAt == nil {
		e.CompletedAt = &at
	}
	return nil
}

func (s *MemoryStore) UsersByCourse(_ context.Context, courseID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, e := range s.rows {
		if e.CourseID == courseID {
			out = append(out, e.UserID)
		}
	}
	return out, nil
}

func generateID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}
