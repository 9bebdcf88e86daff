package assessment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pathway-labs/pathway/internal/catalog"
)

// maxIntegrityWarnings is the violation count that forces submission.
const maxIntegrityWarnings = 2

// QuizSource resolves quizzes and their questions; the catalog store
// implements it.
type QuizSource interface {
	GetQuiz(ctx context.Context, id string) (*catalog.Quiz, error)
	QuestionsByQuiz(ctx context.Context, quizID string) ([]catalog.Question, error)
}

// EnrollmentChecker reports course membership; the enrollment store
// implements it.
type EnrollmentChecker interface {
	IsEnrolled(ctx context.Context, userID, courseID string) (bool, error)
}

// Engine is the quiz attempt state machine: NONE -> IN_PROGRESS -> COMPLETED.
type Engine struct {
	store       Store
	quizzes     QuizSource
	enrollments EnrollmentChecker
	now         func() time.Time
}

// NewEngine creates an assessment engine.
func NewEngine(store Store, quizzes QuizSource, enrollments EnrollmentChecker) *Engine {
	return &Engine{
		store:       store,
		quizzes:     quizzes,
		enrollments: enrollments,
		now:         time.Now,
	}
}

// QuestionView is a question as served to a learner: no correct-answer data.
type QuestionView struct {
	ID       string               `json:"id"`
	Type     catalog.QuestionType `json:"type"`
	Prompt   string               `json:"prompt"`
	Options  []string             `json:"options"`
	Points   int                  `json:"points"`
	Position int                  `json:"position"`
}

// StartedAttempt is what Start hands the caller: the attempt, the sanitized
// question set, and the time limit for the client-side countdown.
type StartedAttempt struct {
	AttemptID        string         `json:"attempt_id"`
	QuizID           string         `json:"quiz_id"`
	StartedAt        time.Time      `json:"started_at"`
	TimeLimitMinutes int            `json:"time_limit_minutes"`
	Questions        []QuestionView `json:"questions"`
}

// IntegrityOutcome is the result of recording one integrity violation.
type IntegrityOutcome struct {
	Warnings      int     `json:"warnings"`
	ForcedSubmit  bool    `json:"forced_submit"`
	Result        *Result `json:"result,omitempty"` // set when ForcedSubmit
	WarningNotice string  `json:"warning_notice,omitempty"`
}

// Start begins an attempt. The quiz must be active and the user enrolled in
// its course; at most one attempt per (quiz, user) may be in progress, and a
// conflicting start returns AttemptActiveError with the existing attempt ID.
func (e *Engine) Start(ctx context.Context, userID, quizID string) (*StartedAttempt, error) {
	quiz, err := e.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if !quiz.IsActive {
		return nil, ErrQuizInactive
	}

	enrolled, err := e.enrollments.IsEnrolled(ctx, userID, quiz.CourseID)
	if err != nil {
		return nil, fmt.Errorf("check enrollment: %w", err)
	}
	if !enrolled {
		return nil, ErrNotEnrolled
	}

	questions, err := e.quizzes.QuestionsByQuiz(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}

	attempt, err := e.store.CreateAttempt(ctx, quizID, userID, e.now())
	if err != nil {
		return nil, err
	}

	views := make([]QuestionView, len(questions))
	for i, q := range questions {
		views[i] = QuestionView{
			ID:       q.ID,
			Type:     q.Type,
			Prompt:   q.Prompt,
			Options:  q.Options,
			Points:   q.Points,
			Position: q.Position,
		}
	}

	slog.Info("quiz attempt started",
		"attempt_id", attempt.ID, "quiz_id", quizID, "user_id", userID)

	return &StartedAttempt{
		AttemptID:        attempt.ID,
		QuizID:           quizID,
		StartedAt:        attempt.StartedAt,
		TimeLimitMinutes: quiz.TimeLimitMinutes,
		Questions:        views,
	}, nil
}

// SaveAnswer upserts a draft answer while the attempt is in progress.
// Drafts are what an auto-submit grades.
func (e *Engine) SaveAnswer(ctx context.Context, attemptID, questionID string, selected []int) error {
	return e.store.SaveDraftAnswer(ctx, attemptID, questionID, selected)
}

// RecordIntegrityEvent logs a focus-loss violation. The first violation is a
// soft warning; the second force-submits whatever draft answers exist.
func (e *Engine) RecordIntegrityEvent(ctx context.Context, attemptID, kind string) (*IntegrityOutcome, error) {
	warnings, err := e.store.AppendIntegrityFlag(ctx, attemptID, IntegrityFlag{Kind: kind, At: e.now()})
	if err != nil {
		return nil, err
	}

	if warnings < maxIntegrityWarnings {
		return &IntegrityOutcome{
			Warnings:      warnings,
			WarningNotice: "Leaving the quiz window is recorded. One more violation submits your attempt automatically.",
		}, nil
	}

	drafts, err := e.store.DraftAnswers(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("load draft answers: %w", err)
	}
	result, err := e.submit(ctx, attemptID, drafts, true)
	if err != nil {
		return nil, err
	}

	slog.Warn("attempt force-submitted after integrity violations",
		"attempt_id", attemptID, "warnings", warnings, "kind", kind)

	return &IntegrityOutcome{Warnings: warnings, ForcedSubmit: true, Result: result}, nil
}

// SubmitDrafts grades and completes an attempt using its saved draft
// answers, flagged as auto-submitted. The countdown timer uses it when it
// expires.
func (e *Engine) SubmitDrafts(ctx context.Context, attemptID string) (*Result, error) {
	drafts, err := e.store.DraftAnswers(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("load draft answers: %w", err)
	}
	return e.submit(ctx, attemptID, drafts, true)
}

// Submit grades and completes an attempt with the given answers. A second
// submit — concurrent or later — fails with ErrAlreadySubmitted and leaves
// the stored answers untouched.
func (e *Engine) Submit(ctx context.Context, attemptID string, sheet AnswerSheet) (*Result, error) {
	return e.submit(ctx, attemptID, sheet, false)
}

func (e *Engine) submit(ctx context.Context, attemptID string, sheet AnswerSheet, auto bool) (*Result, error) {
	attempt, err := e.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Status == StatusCompleted {
		return nil, ErrAlreadySubmitted
	}

	quiz, err := e.quizzes.GetQuiz(ctx, attempt.QuizID)
	if err != nil {
		return nil, err
	}
	questions, err := e.quizzes.QuestionsByQuiz(ctx, attempt.QuizID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}

	answers, score, correctCount := gradeAnswers(questions, sheet)
	submittedAt := e.now()

	result := Result{
		Score:          score,
		Passed:         score >= float64(quiz.PassingScore),
		CorrectCount:   correctCount,
		TotalQuestions: len(questions),
		// Wall clock, deliberately uncapped: the countdown is advisory and a
		// late submit records its real duration.
		TimeSpentSeconds: int(submittedAt.Sub(attempt.StartedAt).Seconds()),
		AutoSubmitted:    auto,
	}
	for i := range answers {
		answers[i].AttemptID = attemptID
	}

	// The store transition is the race arbiter: exactly one caller moves the
	// attempt to completed and persists answers, atomically.
	if err := e.store.CompleteAttempt(ctx, attemptID, submittedAt, result, answers); err != nil {
		return nil, err
	}

	slog.Info("quiz attempt submitted",
		"attempt_id", attemptID,
		"score", result.Score,
		"passed", result.Passed,
		"auto_submitted", auto,
	)
	return &result, nil
}

// Attempt returns one attempt by ID.
func (e *Engine) Attempt(ctx context.Context, attemptID string) (*Attempt, error) {
	return e.store.GetAttempt(ctx, attemptID)
}

// BestAttempt returns the user's highest-scoring completed attempt on a
// quiz, or nil when there is none.
func (e *Engine) BestAttempt(ctx context.Context, userID, quizID string) (*Attempt, error) {
	return e.store.BestAttempt(ctx, quizID, userID)
}
