package progression

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/pathway-labs/pathway/internal/catalog"
)

const (
	videoWatchFraction = 0.8 // fraction of stated duration a viewer must spend
	readingWordsPerMin = 150
	minEngagedSeconds  = 180 // floor for any text reading, and for empty lessons
)

// LessonSource lists a course's lessons; the catalog store implements it.
type LessonSource interface {
	LessonsByCourse(ctx context.Context, courseID string) ([]catalog.Lesson, error)
}

// QuizSource resolves a course's quiz; the catalog store implements it.
// QuizByCourse returns (nil, nil) when the course has no quiz.
type QuizSource interface {
	QuizByCourse(ctx context.Context, courseID string) (*catalog.Quiz, error)
}

// PassChecker reports whether a user has a completed, passed attempt on a
// quiz; the assessment store implements it.
type PassChecker interface {
	HasPassed(ctx context.Context, quizID, userID string) (bool, error)
}

// CompletionMarker stamps an enrollment's completion time exactly once.
type CompletionMarker interface {
	MarkCompleted(ctx context.Context, userID, courseID string, at time.Time) error
}

// Evaluator computes lesson time-validation and course completion verdicts.
// Verdicts are derived from current state on every call; nothing is cached.
type Evaluator struct {
	lessons     LessonSource
	progress    ProgressStore
	quizzes     QuizSource
	attempts    PassChecker
	enrollments CompletionMarker
	now         func() time.Time
}

// NewEvaluator creates a completion evaluator. enrollments may be nil, in
// which case completion is reported but never stamped.
func NewEvaluator(lessons LessonSource, progress ProgressStore, quizzes QuizSource, attempts PassChecker, enrollments CompletionMarker) *Evaluator {
	return &Evaluator{
		lessons:     lessons,
		progress:    progress,
		quizzes:     quizzes,
		attempts:    attempts,
		enrollments: enrollments,
		now:         time.Now,
	}
}

// CourseCompletion is the evaluator's verdict for one (user, course).
//
// Complete uses raw lesson status: a learner who marks every lesson complete
// without meeting the time-validation minimums still completes the course.
// Time validation only feeds ValidatedPercent, a reporting metric. Known
// divergence, kept deliberately.
type CourseCompletion struct {
	CourseID         string  `json:"course_id"`
	UserID           string  `json:"user_id"`
	Complete         bool    `json:"complete"`
	LessonsTotal     int     `json:"lessons_total"`
	LessonsCompleted int     `json:"lessons_completed"`
	LessonsValidated int     `json:"lessons_validated"`
	ValidatedPercent float64 `json:"validated_percent"`
	QuizRequired     bool    `json:"quiz_required"`
	QuizPassed       bool    `json:"quiz_passed"`
}

// MinRequiredSeconds computes the content-derived minimum engagement time
// for a lesson. Video and mixed content demand 80% of the stated duration;
// text (and mixed with text) adds estimated reading time at 150 words per
// minute with a 180-second floor. A lesson with neither duration nor text
// still requires 180 seconds.
func MinRequiredSeconds(contentType catalog.ContentType, durationMinutes int, textContent string) int {
	total := 0

	if contentType == catalog.ContentVideo || contentType == catalog.ContentMixed {
		total += int(float64(durationMinutes*60) * videoWatchFraction)
	}

	if (contentType == catalog.ContentText || contentType == catalog.ContentMixed) && textContent != "" {
		words := countWords(textContent)
		readingSeconds := (words*60 + readingWordsPerMin - 1) / readingWordsPerMin
		if readingSeconds < minEngagedSeconds {
			readingSeconds = minEngagedSeconds
		}
		total += readingSeconds
	}

	if total == 0 {
		return minEngagedSeconds
	}
	return total
}

// countWords counts whitespace-delimited non-empty tokens. The text is
// normalized to NFC first so combining sequences count as single tokens.
func countWords(s string) int {
	return len(strings.Fields(norm.NFC.String(s)))
}

// CourseCompletion computes the full verdict for a (user, course). When the
// verdict is complete and an enrollment exists, its CompletedAt is stamped.
func (e *Evaluator) CourseCompletion(ctx context.Context, userID, courseID string) (*CourseCompletion, error) {
	lessons, err := e.lessons.LessonsByCourse(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("load lessons: %w", err)
	}

	lessonIDs := make([]string, len(lessons))
	for i, l := range lessons {
		lessonIDs[i] = l.ID
	}
	progress, err := e.progress.Progress(ctx, userID, lessonIDs)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}

	result := &CourseCompletion{
		CourseID:     courseID,
		UserID:       userID,
		LessonsTotal: len(lessons),
	}

	allCompleted := true
	for _, l := range lessons {
		p, ok := progress[l.ID]
		if ok && p.Status == LessonCompleted {
			result.LessonsCompleted++
		} else {
			allCompleted = false
		}
		if ok && p.TimeSpentSeconds >= MinRequiredSeconds(l.ContentType, l.DurationMinutes, l.TextContent) {
			result.LessonsValidated++
		}
	}
	if len(lessons) > 0 {
		result.ValidatedPercent = float64(result.LessonsValidated) / float64(len(lessons)) * 100
	}

	quiz, err := e.quizzes.QuizByCourse(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("load quiz: %w", err)
	}
	quizOK := true
	if quiz != nil && quiz.IsActive {
		result.QuizRequired = true
		quizOK, err = e.attempts.HasPassed(ctx, quiz.ID, userID)
		if err != nil {
			return nil, fmt.Errorf("check quiz pass: %w", err)
		}
		result.QuizPassed = quizOK
	}

	result.Complete = len(lessons) > 0 && allCompleted && quizOK

	if result.Complete && e.enrollments != nil {
		if err := e.enrollments.MarkCompleted(ctx, userID, courseID, e.now()); err != nil {
			// Completion stays derivable; a missed stamp is retried on next read.
			slog.Warn("failed to stamp enrollment completion",
				"user_id", userID, "course_id", courseID, "error", err)
		}
	}

	return result, nil
}

// IsCourseComplete is the boolean form of CourseCompletion.
func (e *Evaluator) IsCourseComplete(ctx context.Context, userID, courseID string) (bool, error) {
	c, err := e.CourseCompletion(ctx, userID, courseID)
	if err != nil {
		return false, err
	}
	return c.Complete, nil
}
