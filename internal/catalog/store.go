package catalog

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pathway-labs/pathway/internal/apperr"
)

// Error codes returned by catalog operations.
const (
	CodeCourseNotFound = "course_not_found"
	CodeLessonNotFound = "lesson_not_found"
	CodeQuizNotFound   = "quiz_not_found"
	CodeQuizExists     = "quiz_exists"
)

// Store persists the catalog.
type Store interface {
	CreateCourse(ctx context.Context, c Course) (string, error)
	GetCourse(ctx context.Context, id string) (*Course, error)
	ListCourses(ctx context.Context) ([]Course, error)

	CreateLesson(ctx context.Context, l Lesson) (string, error)
	GetLesson(ctx context.Context, id string) (*Lesson, error)
	LessonsByCourse(ctx context.Context, courseID string) ([]Lesson, error)

	CreateQuiz(ctx context.Context, q Quiz) (string, error)
	GetQuiz(ctx context.Context, id string) (*Quiz, error)
	QuizByCourse(ctx context.Context, courseID string) (*Quiz, error)
	SetQuizActive(ctx context.Context, id string, active bool) error
	DeleteQuiz(ctx context.Context, id string) error

	AddQuestion(ctx context.Context, q Question) (string, error)
	QuestionsByQuiz(ctx context.Context, quizID string) ([]Question, error)
}

// MemoryStore is an in-memory Store used in tests and development.
type MemoryStore struct {
	mu        sync.RWMutex
	courses   map[string]*Course
	lessons   map[string]*Lesson
	quizzes   map[string]*Quiz
	questions map[string]*Question
}

// NewMemoryStore creates an empty in-memory catalog store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		courses:   make(map[string]*Course),
		lessons:   make(map[string]*Lesson),
		quizzes:   make(map[string]*Quiz),
		questions: make(map[string]*Question),
	}
}

func (s *MemoryStore) CreateCourse(_ context.Context, c Course) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = generateID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	s.courses[c.ID] = &c
	return c.ID, nil
}

func (s *MemoryStore) GetCourse(_ context.Context, id string) (*Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.courses[id]
	if !ok {
		return nil, apperr.NotFound(CodeCourseNotFound, "course not found: %s", id)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListCourses(_ context.Context) ([]Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Course, 0, len(s.courses))
	for _, c := range s.courses {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (s *MemoryStore) CreateLesson(_ context.Context, l Lesson) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.courses[l.CourseID]; !ok {
		return "", apperr.NotFound(CodeCourseNotFound, "course not found: %s", l.CourseID)
	}
	if l.ID == "" {
		l.ID = generateID()
	}
	s.lessons[l.ID] = &l
	return l.ID, nil
}

func (s *MemoryStore) GetLesson(_ context.Context, id string) (*Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.lessons[id]
	if !ok {
		return nil, apperr.NotFound(CodeLessonNotFound, "lesson not found: %s", id)
	}
	lp := *l
	return &lp, nil
}

func (s *MemoryStore) LessonsByCourse(_ context.Context, courseID string) ([]Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Lesson
	for _, l := range s.lessons {
		if l.CourseID == courseID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *MemoryStore) CreateQuiz(_ context.Context, q Quiz) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.courses[q.CourseID]; !ok {
		return "", apperr.NotFound(CodeCourseNotFound, "course not found: %s", q.CourseID)
	}
	for _, existing := range s.quizzes {
		if existing.CourseID == q.CourseID {
			return "", apperr.Conflict(CodeQuizExists, "course %s already has a quiz", q.CourseID)
		}
	}
	if q.ID == "" {
		q.ID = generateID()
	}
	s.quizzes[q.ID] = &q
	return q.ID, nil
}

func (s *MemoryStore) GetQuiz(_ context.Context, id string) (*Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quizzes[id]
	if !ok {
		return nil, apperr.NotFound(CodeQuizNotFound, "quiz not found: %s", id)
	}
	qp := *q
	return &qp, nil
}

// QuizByCourse returns the course's quiz, or (nil, nil) when it has none.
func (s *MemoryStore) QuizByCourse(_ context.Context, courseID string) (*Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, q := range s.quizzes {
		if q.CourseID == courseID {
			qp := *q
			return &qp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) SetQuizActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quizzes[id]
	if !ok {
		return apperr.NotFound(CodeQuizNotFound, "quiz not found: %s", id)
	}
	q.IsActive = active
	return nil
}

func (s *MemoryStore) DeleteQuiz(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.quizzes[id]; !ok {
		return apperr.NotFound(CodeQuizNotFound, "quiz not found: %s", id)
	}
	delete(s.quizzes, id)
	for qid, question := range s.questions {
		if question.QuizID == id {
			delete(s.questions, qid)
		}
	}
	return nil
}

func (s *MemoryStore) AddQuestion(_ context.Context, q Question) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.quizzes[q.QuizID]; !ok {
		return "", apperr.NotFound(CodeQuizNotFound, "quiz not found: %s", q.QuizID)
	}
	if q.ID == "" {
		q.ID = generateID()
	}
	s.questions[q.ID] = &q
	return q.ID, nil
}

func (s *MemoryStore) QuestionsByQuiz(_ context.Context, quizID string) ([]Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Question
	for _, q := range s.questions {
		if q.QuizID == quizID {
			out = append(out, *q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func generateID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}
