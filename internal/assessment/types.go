// Package assessment owns the quiz attempt lifecycle: starting an attempt,
// draft answers, integrity monitoring, and deterministic grading on submit.
package assessment

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/pathway-labs/pathway/internal/apperr"
)

// Status is an attempt's lifecycle state. completed is terminal.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// IntegrityFlag is one entry in an attempt's ordered violation log.
type IntegrityFlag struct {
	Kind string    `json:"kind"` // e.g. "tab_hidden", "window_blur"
	At   time.Time `json:"at"`
}

// Result holds the grading outcome of a completed attempt. Attempt keeps it
// behind a pointer that is non-nil exactly when Status is completed, so a
// completed attempt without a score cannot be represented.
type Result struct {
	Score            float64 `json:"score"` // 0-100, two decimals
	Passed           bool    `json:"passed"`
	CorrectCount     int     `json:"correct_count"`
	TotalQuestions   int     `json:"total_questions"`
	TimeSpentSeconds int     `json:"time_spent_seconds"`
	AutoSubmitted    bool    `json:"auto_submitted"`
}

// DisplayScore is the integer score shown to learners; storage keeps the
// two-decimal value.
func (r Result) DisplayScore() int {
	return int(math.Round(r.Score))
}

// MarshalJSON adds display_score to every serialized result, so each surface
// that hands a result to a learner carries the rounded score alongside the
// stored one.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	return json.Marshal(struct {
		plain
		DisplayScore int `json:"display_score"`
	}{plain(r), r.DisplayScore()})
}

// Attempt is one user's run at one quiz.
type Attempt struct {
	ID                string          `json:"id"`
	QuizID            string          `json:"quiz_id"`
	UserID            string          `json:"user_id"`
	Status            Status          `json:"status"`
	StartedAt         time.Time       `json:"started_at"`
	SubmittedAt       *time.Time      `json:"submitted_at,omitempty"`
	Result            *Result         `json:"result,omitempty"`
	IntegrityWarnings int             `json:"integrity_warnings"`
	IntegrityFlags    []IntegrityFlag `json:"integrity_flags,omitempty"`
}

// Answer is one graded answer, written exactly once at submission.
type Answer struct {
	AttemptID       string `json:"attempt_id"`
	QuestionID      string `json:"question_id"`
	SelectedOptions []int  `json:"selected_options"`
	IsCorrect       bool   `json:"is_correct"`
	PointsEarned    int    `json:"points_earned"`
}

// AnswerSheet maps question ID to the learner's selected option indices.
type AnswerSheet map[string][]int

// Error codes returned by assessment operations.
const (
	CodeAttemptActive    = "attempt_active"
	CodeAlreadySubmitted = "already_submitted"
	CodeAttemptNotFound  = "attempt_not_found"
	CodeQuizInactive     = "quiz_inactive"
	CodeNotEnrolled      = "not_enrolled"
)

// Assessment error values.
var (
	ErrAlreadySubmitted = &apperr.Error{Kind: apperr.KindConflict, Code: CodeAlreadySubmitted, Message: "this attempt has already been submitted"}
	ErrQuizInactive     = &apperr.Error{Kind: apperr.KindAuthorization, Code: CodeQuizInactive, Message: "this quiz is not currently active"}
	ErrNotEnrolled      = &apperr.Error{Kind: apperr.KindAuthorization, Code: CodeNotEnrolled, Message: "you must be enrolled in the course to take this quiz"}
)

// AttemptActiveError reports a start that found an in-progress attempt. It
// carries the existing attempt's ID so the caller can resume it.
type AttemptActiveError struct {
	AttemptID string
}

func (e *AttemptActiveError) Error() string {
	return fmt.Sprintf("an attempt is already in progress: %s", e.AttemptID)
}

func (e *AttemptActiveError) ErrKind() apperr.Kind { return apperr.KindConflict }
func (e *AttemptActiveError) ErrCode() string      { return CodeAttemptActive }

func notFound(id string) error {
	return apperr.NotFound(CodeAttemptNotFound, "attempt not found: %s", id)
}
