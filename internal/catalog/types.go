// Package catalog holds the course catalog: courses, lessons, quizzes and
// their questions. The progression and assessment engines read this model;
// mutation goes through the Admin service which enforces publishing rules.
package catalog

import "time"

// ContentType describes how a lesson delivers its material.
type ContentType string

const (
	ContentVideo ContentType = "video"
	ContentText  ContentType = "text"
	ContentMixed ContentType = "mixed"
)

// Valid reports whether the content type is one of the known values.
func (c ContentType) Valid() bool {
	return c == ContentVideo || c == ContentText || c == ContentMixed
}

// Course is a unit of the catalog that learners enroll in.
type Course struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Lesson belongs to exactly one course.
type Lesson struct {
	ID              string      `json:"id"`
	CourseID        string      `json:"course_id"`
	Title           string      `json:"title"`
	ContentType     ContentType `json:"content_type"`
	DurationMinutes int         `json:"duration_minutes"`
	TextContent     string      `json:"text_content,omitempty"`
	Position        int         `json:"position"`
}

// Quiz is the assessment attached to a course; at most one per course.
type Quiz struct {
	ID               string `json:"id"`
	CourseID         string `json:"course_id"`
	Title            string `json:"title"`
	IsActive         bool   `json:"is_active"`
	TimeLimitMinutes int    `json:"time_limit_minutes"`
	PassingScore     int    `json:"passing_score"` // 0-100, inclusive threshold
}

// QuestionType distinguishes single-answer from multi-answer questions.
type QuestionType string

const (
	QuestionSingle   QuestionType = "single"
	QuestionMultiple QuestionType = "multiple"
)

// Question belongs to a quiz. CorrectOptions is a set of indices into
// Options; grading compares the learner's selection for exact set equality.
type Question struct {
	ID             string       `json:"id"`
	QuizID         string       `json:"quiz_id"`
	Type           QuestionType `json:"type"`
	Prompt         string       `json:"prompt"`
	Options        []string     `json:"options"`
	CorrectOptions []int        `json:"correct_options"`
	Points         int          `json:"points"`
	Position       int          `json:"position"`
}
