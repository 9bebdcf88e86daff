package progression

import (
	"context"
	"time"

	"github.com/pathway-labs/pathway/internal/apperr"
	"github.com/pathway-labs/pathway/internal/catalog"
)

// LessonStatus is the learner-visible state of one lesson.
type LessonStatus string

const (
	LessonNotStarted LessonStatus = "not_started"
	LessonInProgress LessonStatus = "in_progress"
	LessonCompleted  LessonStatus = "completed"
)

// LessonProgress is one user's progress on one lesson. TimeSpentSeconds is
// monotonically non-decreasing; heartbeats only ever add time.
type LessonProgress struct {
	UserID           string       `json:"user_id"`
	LessonID         string       `json:"lesson_id"`
	Status           LessonStatus `json:"status"`
	TimeSpentSeconds int          `json:"time_spent_seconds"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
}

// TimeValidated reports whether recorded time meets the lesson's
// content-derived minimum. Derived on read, never persisted.
func (p LessonProgress) TimeValidated(l catalog.Lesson) bool {
	return p.TimeSpentSeconds >= MinRequiredSeconds(l.ContentType, l.DurationMinutes, l.TextContent)
}

// ProgressStore persists lesson progress rows.
type ProgressStore interface {
	// AddTime creates the row if absent and adds seconds to it. Status moves
	// to in_progress unless the lesson is already completed.
	AddTime(ctx context.Context, userID, lessonID string, seconds int) (*LessonProgress, error)
	// Complete marks the lesson completed, stamping CompletedAt on the first
	// call only.
	Complete(ctx context.Context, userID, lessonID string, at time.Time) (*LessonProgress, error)
	// Progress returns rows for the given lessons keyed by lesson ID;
	// lessons never touched are absent from the map.
	Progress(ctx context.Context, userID string, lessonIDs []string) (map[string]LessonProgress, error)
}

// Tracker applies learner viewing events (heartbeats, completion marks) to
// the progress store, validating against the catalog.
type Tracker struct {
	store   ProgressStore
	lessons interface {
		GetLesson(ctx context.Context, id string) (*catalog.Lesson, error)
	}
	now func() time.Time
}

// NewTracker creates a progress tracker.
func NewTracker(store ProgressStore, lessons interface {
	GetLesson(ctx context.Context, id string) (*catalog.Lesson, error)
}) *Tracker {
	return &Tracker{store: store, lessons: lessons, now: time.Now}
}

// RecordHeartbeat adds viewing time to a lesson. Negative deltas are
// rejected so time spent can never decrease.
func (t *Tracker) RecordHeartbeat(ctx context.Context, userID, lessonID string, seconds int) (*LessonProgress, error) {
	if seconds < 0 {
		return nil, apperr.Validation("heartbeat_negative", "heartbeat seconds must not be negative, got %d", seconds)
	}
	if _, err := t.lessons.GetLesson(ctx, lessonID); err != nil {
		return nil, err
	}
	return t.store.AddTime(ctx, userID, lessonID, seconds)
}

// MarkLessonComplete marks a lesson completed for a user. Idempotent.
func (t *Tracker) MarkLessonComplete(ctx context.Context, userID, lessonID string) (*LessonProgress, error) {
	if _, err := t.lessons.GetLesson(ctx, lessonID); err != nil {
		return nil, err
	}
	return t.store.Complete(ctx, userID, lessonID, t.now())
}
