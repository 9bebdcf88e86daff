package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pathway-labs/pathway/internal/apperr"
)

// Error codes returned by the Admin service.
const (
	CodeQuizEmpty     = "quiz_empty"
	CodeQuizActive    = "quiz_active"
	CodeQuizAttempted = "quiz_attempted"
)

// AttemptChecker reports whether a quiz has any recorded attempts.
// The assessment store implements it.
type AttemptChecker interface {
	HasAttempts(ctx context.Context, quizID string) (bool, error)
}

// Admin enforces catalog publishing rules on top of a Store:
// a quiz cannot be activated without questions, cannot be deleted once
// attempted, and its questions are frozen while it is active.
type Admin struct {
	store    Store
	attempts AttemptChecker
}

// NewAdmin creates an Admin over the given store. attempts may be nil,
// in which case quiz deletion is always allowed.
func NewAdmin(store Store, attempts AttemptChecker) *Admin {
	return &Admin{store: store, attempts: attempts}
}

// CreateCourse validates and persists a course.
func (a *Admin) CreateCourse(ctx context.Context, c Course) (string, error) {
	if c.Title == "" {
		return "", apperr.Validation("course_title_required", "course title is required")
	}
	return a.store.CreateCourse(ctx, c)
}

// CreateLesson validates and persists a lesson.
func (a *Admin) CreateLesson(ctx context.Context, l Lesson) (string, error) {
	if l.CourseID == "" {
		return "", apperr.Validation("lesson_course_required", "lesson course_id is required")
	}
	if l.Title == "" {
		return "", apperr.Validation("lesson_title_required", "lesson title is required")
	}
	if !l.ContentType.Valid() {
		return "", apperr.Validation("lesson_content_type", "content_type must be video, text or mixed, got %q", l.ContentType)
	}
	if l.DurationMinutes < 0 {
		return "", apperr.Validation("lesson_duration", "duration_minutes must not be negative")
	}
	return a.store.CreateLesson(ctx, l)
}

// CreateQuiz validates and persists a quiz. Quizzes are created inactive;
// activation is a separate step once questions exist.
func (a *Admin) CreateQuiz(ctx context.Context, q Quiz) (string, error) {
	if q.CourseID == "" {
		return "", apperr.Validation("quiz_course_required", "quiz course_id is required")
	}
	if q.PassingScore < 0 || q.PassingScore > 100 {
		return "", apperr.Validation("quiz_passing_score", "passing_score must be between 0 and 100, got %d", q.PassingScore)
	}
	if q.TimeLimitMinutes <= 0 {
		return "", apperr.Validation("quiz_time_limit", "time_limit_minutes must be positive, got %d", q.TimeLimitMinutes)
	}
	q.IsActive = false
	return a.store.CreateQuiz(ctx, q)
}

// AddQuestion validates a question and appends it to an inactive quiz.
func (a *Admin) AddQuestion(ctx context.Context, q Question) (string, error) {
	quiz, err := a.store.GetQuiz(ctx, q.QuizID)
	if err != nil {
		return "", err
	}
	if quiz.IsActive {
		return "", apperr.Conflict(CodeQuizActive, "quiz %s is active; deactivate it before editing questions", q.QuizID)
	}
	if err := validateQuestion(q); err != nil {
		return "", err
	}
	return a.store.AddQuestion(ctx, q)
}

// ActivateQuiz publishes a quiz. A quiz with no questions cannot be activated.
func (a *Admin) ActivateQuiz(ctx context.Context, quizID string) error {
	questions, err := a.store.QuestionsByQuiz(ctx, quizID)
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		return apperr.Conflict(CodeQuizEmpty, "quiz %s has no questions and cannot be activated", quizID)
	}
	if err := a.store.SetQuizActive(ctx, quizID, true); err != nil {
		return err
	}
	slog.Info("quiz activated", "quiz_id", quizID, "questions", len(questions))
	return nil
}

// DeactivateQuiz unpublishes a quiz.
func (a *Admin) DeactivateQuiz(ctx context.Context, quizID string) error {
	return a.store.SetQuizActive(ctx, quizID, false)
}

// DeleteQuiz removes a quiz that has never been attempted. Once attempts
// exist the quiz must be deactivated instead, so attempt history survives.
func (a *Admin) DeleteQuiz(ctx context.Context, quizID string) error {
	if _, err := a.store.GetQuiz(ctx, quizID); err != nil {
		return err
	}
	if a.attempts != nil {
		attempted, err := a.attempts.HasAttempts(ctx, quizID)
		if err != nil {
			return fmt.Errorf("check quiz attempts: %w", err)
		}
		if attempted {
			return apperr.Conflict(CodeQuizAttempted, "quiz %s has attempts and cannot be deleted; deactivate it instead", quizID)
		}
	}
	return a.store.DeleteQuiz(ctx, quizID)
}

func validateQuestion(q Question) error {
	if q.Type != QuestionSingle && q.Type != QuestionMultiple {
		return apperr.Validation("question_type", "question type must be single or multiple, got %q", q.Type)
	}
	if q.Prompt == "" {
		return apperr.Validation("question_prompt", "question prompt is required")
	}
	if q.Points <= 0 {
		return apperr.Validation("question_points", "question points must be positive, got %d", q.Points)
	}
	if len(q.Options) < 2 {
		return apperr.Validation("question_options", "question needs at least 2 options, got %d", len(q.Options))
	}
	if len(q.CorrectOptions) == 0 {
		return apperr.Validation("question_correct", "question needs at least one correct option")
	}
	seen := make(map[int]bool, len(q.CorrectOptions))
	for _, idx := range q.CorrectOptions {
		if idx < 0 || idx >= len(q.Options) {
			return apperr.Validation("question_correct_range", "correct option index %d out of range", idx)
		}
		if seen[idx] {
			return apperr.Validation("question_correct_dup", "correct option index %d repeated", idx)
		}
		seen[idx] = true
	}
	if q.Type == QuestionSingle && len(q.CorrectOptions) != 1 {
		return apperr.Validation("question_single_correct", "single-answer question must have exactly one correct option, got %d", len(q.CorrectOptions))
	}
	return nil
}
