package catalog_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/pathway-labs/pathway/internal/apperr"
	"github.com/pathway-labs/pathway/internal/catalog"
	"github.com/pathway-labs/pathway/internal/platform/database/databasetest"
)

func newPGStore(t *testing.T) *catalog.PostgresStore {
	t.Helper()
	db := databasetest.NewDB(t)
	store, err := catalog.NewPostgresStore(db.Pool)
	if err != nil {
		t.Fatalf("NewPostgresStore failed: %v", err)
	}
	return store
}

func TestPostgresCourseRoundTrip(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()

	id, err := store.CreateCourse(ctx, catalog.Course{ID: "intro", Title: "Intro", Description: "First steps"})
	if err != nil {
		t.Fatalf("CreateCourse failed: %v", err)
	}
	if id != "intro" {
		t.Errorf("CreateCourse kept id %q, want intro", id)
	}

	// A blank ID gets a generated one.
	generated, err := store.CreateCourse(ctx, catalog.Course{Title: "Advanced"})
	if err != nil {
		t.Fatalf("CreateCourse failed: %v", err)
	}
	if generated == "" {
		t.Error("CreateCourse with blank id returned empty id")
	}

	c, err := store.GetCourse(ctx, "intro")
	if err != nil {
		t.Fatalf("GetCourse failed: %v", err)
	}
	if c.Title != "Intro" || c.Description != "First steps" {
		t.Errorf("course = %+v", c)
	}

	_, err = store.GetCourse(ctx, "missing")
	if !apperr.HasCode(err, catalog.CodeCourseNotFound) {
		t.Errorf("GetCourse(missing) = %v, want %s", err, catalog.CodeCourseNotFound)
	}

	courses, err := store.ListCourses(ctx)
	if err != nil {
		t.Fatalf("ListCourses failed: %v", err)
	}
	if len(courses) != 2 {
		t.Errorf("got %d courses, want 2", len(courses))
	}
}

func TestPostgresOneQuizPerCourse(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()

	if _, err := store.CreateCourse(ctx, catalog.Course{ID: "c1", Title: "Safety"}); err != nil {
		t.Fatalf("CreateCourse failed: %v", err)
	}
	if _, err := store.CreateQuiz(ctx, catalog.Quiz{
		CourseID: "c1", Title: "Final", TimeLimitMinutes: 30, PassingScore: 70,
	}); err != nil {
		t.Fatalf("CreateQuiz failed: %v", err)
	}

	_, err := store.CreateQuiz(ctx, catalog.Quiz{
		CourseID: "c1", Title: "Second", TimeLimitMinutes: 15, PassingScore: 50,
	})
	if !apperr.HasCode(err, catalog.CodeQuizExists) {
		t.Errorf("second CreateQuiz = %v, want %s", err, catalog.CodeQuizExists)
	}

	_, err = store.CreateQuiz(ctx, catalog.Quiz{
		CourseID: "missing", Title: "Orphan", TimeLimitMinutes: 30, PassingScore: 70,
	})
	if !apperr.HasCode(err, catalog.CodeCourseNotFound) {
		t.Errorf("CreateQuiz for missing course = %v, want %s", err, catalog.CodeCourseNotFound)
	}
}

func TestPostgresQuestionArrays(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()

	if _, err := store.CreateCourse(ctx, catalog.Course{ID: "c1", Title: "Safety"}); err != nil {
		t.Fatalf("CreateCourse failed: %v", err)
	}
	quizID, err := store.CreateQuiz(ctx, catalog.Quiz{
		CourseID: "c1", Title: "Final", TimeLimitMinutes: 30, PassingScore: 70,
	})
	if err != nil {
		t.Fatalf("CreateQuiz failed: %v", err)
	}

	if _, err := store.AddQuestion(ctx, catalog.Question{
		QuizID: quizID, Type: catalog.QuestionMultiple, Prompt: "Pick two",
		Options:        []string{"a", "b", "c"},
		CorrectOptions: []int{0, 2},
		Points:         3, Position: 1,
	}); err != nil {
		t.Fatalf("AddQuestion failed: %v", err)
	}

	questions, err := store.QuestionsByQuiz(ctx, quizID)
	if err != nil {
		t.Fatalf("QuestionsByQuiz failed: %v", err)
	}
	if len(questions) != 1 {
		t.Fatalf("got %d questions, want 1", len(questions))
	}
	q := questions[0]
	if !reflect.DeepEqual(q.Options, []string{"a", "b", "c"}) {
		t.Errorf("Options = %v", q.Options)
	}
	if !reflect.DeepEqual(q.CorrectOptions, []int{0, 2}) {
		t.Errorf("CorrectOptions = %v", q.CorrectOptions)
	}
}

func TestPostgresQuizActivation(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()

	if _, err := store.CreateCourse(ctx, catalog.Course{ID: "c1", Title: "Safety"}); err != nil {
		t.Fatalf("CreateCourse failed: %v", err)
	}
	quizID, err := store.CreateQuiz(ctx, catalog.Quiz{
		CourseID: "c1", Title: "Final", TimeLimitMinutes: 30, PassingScore: 70,
	})
	if err != nil {
		t.Fatalf("CreateQuiz failed: %v", err)
	}

	if err := store.SetQuizActive(ctx, quizID, true); err != nil {
		t.Fatalf("SetQuizActive failed: %v", err)
	}
	q, err := store.GetQuiz(ctx, quizID)
	if err != nil {
		t.Fatalf("GetQuiz failed: %v", err)
	}
	if !q.IsActive {
		t.Error("quiz not active after SetQuizActive")
	}

	if err := store.DeleteQuiz(ctx, quizID); err != nil {
		t.Fatalf("DeleteQuiz failed: %v", err)
	}
	q, err = store.QuizByCourse(ctx, "c1")
	if err != nil {
		t.Fatalf("QuizByCourse failed: %v", err)
	}
	if q != nil {
		t.Errorf("QuizByCourse after delete = %+v, want nil", q)
	}
}
