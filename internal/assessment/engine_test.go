package assessment

import (
	"errors"
	"testing"
	"time"

	"github.com/pathway-labs/pathway/internal/catalog"
	"github.com/pathway-labs/pathway/internal/enrollment"
)

// engineFixture wires an Engine over memory stores with one active quiz and
// one enrolled user ("u1").
type engineFixture struct {
	engine *Engine
	store  *MemoryStore
	quizID string
	q1, q2 string
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	cat := catalog.NewMemoryStore()
	enroll := enrollment.NewMemoryStore()
	store := NewMemoryStore()

	if _, err := cat.CreateCourse(t.Context(), catalog.Course{ID: "c1", Title: "Safety"}); err != nil {
		t.Fatalf("CreateCourse failed: %v", err)
	}
	quizID, err := cat.CreateQuiz(t.Context(), catalog.Quiz{
		CourseID: "c1", Title: "Final", IsActive: true, TimeLimitMinutes: 30, PassingScore: 70,
	})
	if err != nil {
		t.Fatalf("CreateQuiz failed: %v", err)
	}
	q1, err := cat.AddQuestion(t.Context(), catalog.Question{
		QuizID: quizID, Type: catalog.QuestionSingle, Prompt: "2+2?",
		Options: []string{"3", "4"}, CorrectOptions: []int{1}, Points: 7, Position: 0,
	})
	if err != nil {
		t.Fatalf("AddQuestion failed: %v", err)
	}
	q2, err := cat.AddQuestion(t.Context(), catalog.Question{
		QuizID: quizID, Type: catalog.QuestionMultiple, Prompt: "Primes?",
		Options: []string{"2", "3", "4"}, CorrectOptions: []int{0, 1}, Points: 3, Position: 1,
	})
	if err != nil {
		t.Fatalf("AddQuestion failed: %v", err)
	}
	if _, err := enroll.EnsureEnrolled(t.Context(), "u1", "c1"); err != nil {
		t.Fatalf("EnsureEnrolled failed: %v", err)
	}

	return &engineFixture{
		engine: NewEngine(store, cat, enroll),
		store:  store,
		quizID: quizID,
		q1:     q1,
		q2:     q2,
	}
}

func (f *engineFixture) start(t *testing.T, userID string) *StartedAttempt {
	t.Helper()
	started, err := f.engine.Start(t.Context(), userID, f.quizID)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return started
}

func TestStartSanitizesQuestions(t *testing.T) {
	f := newEngineFixture(t)
	started := f.start(t, "u1")

	if started.TimeLimitMinutes != 30 {
		t.Errorf("TimeLimitMinutes = %d, want 30", started.TimeLimitMinutes)
	}
	if len(started.Questions) != 2 {
		t.Fatalf("got %d questions, want 2", len(started.Questions))
	}
	for _, q := range started.Questions {
		if len(q.Options) == 0 {
			t.Errorf("question %s has no options", q.ID)
		}
	}

	attempt, err := f.engine.Attempt(t.Context(), started.AttemptID)
	if err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}
	if attempt.Status != StatusInProgress {
		t.Errorf("Status = %s, want in_progress", attempt.Status)
	}
	if attempt.Result != nil {
		t.Error("in-progress attempt carries a result")
	}
}

func TestStartRequiresActiveQuiz(t *testing.T) {
	f := newEngineFixture(t)

	cat := catalog.NewMemoryStore()
	if _, err := cat.CreateCourse(t.Context(), catalog.Course{ID: "c1", Title: "Safety"}); err != nil {
		t.Fatalf("CreateCourse failed: %v", err)
	}
	quizID, err := cat.CreateQuiz(t.Context(), catalog.Quiz{
		CourseID: "c1", Title: "Draft", IsActive: false, TimeLimitMinutes: 30, PassingScore: 70,
	})
	if err != nil {
		t.Fatalf("CreateQuiz failed: %v", err)
	}
	enroll := enrollment.NewMemoryStore()
	if _, err := enroll.EnsureEnrolled(t.Context(), "u1", "c1"); err != nil {
		t.Fatalf("EnsureEnrolled failed: %v", err)
	}
	engine := NewEngine(f.store, cat, enroll)

	_, err = engine.Start(t.Context(), "u1", quizID)
	if !errors.Is(err, ErrQuizInactive) {
		t.Fatalf("Start on inactive quiz = %v, want ErrQuizInactive", err)
	}
}

func TestStartRequiresEnrollment(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.Start(t.Context(), "stranger", f.quizID)
	if !errors.Is(err, ErrNotEnrolled) {
		t.Fatalf("Start without enrollment = %v, want ErrNotEnrolled", err)
	}
}

func TestStartAttemptSingleton(t *testing.T) {
	f := newEngineFixture(t)
	started := f.start(t, "u1")

	_, err := f.engine.Start(t.Context(), "u1", f.quizID)
	var active *AttemptActiveError
	if !errors.As(err, &active) {
		t.Fatalf("second Start = %v, want AttemptActiveError", err)
	}
	if active.AttemptID != started.AttemptID {
		t.Errorf("AttemptActiveError carries %s, want existing attempt %s", active.AttemptID, started.AttemptID)
	}

	// Submitting frees the slot for a retake.
	if _, err := f.engine.Submit(t.Context(), started.AttemptID, nil); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := f.engine.Start(t.Context(), "u1", f.quizID); err != nil {
		t.Fatalf("Start after submit failed: %v", err)
	}
}

func TestSubmitGradesAndPassesAtThreshold(t *testing.T) {
	f := newEngineFixture(t)
	started := f.start(t, "u1")

	// q1 correct (7 of 10 points) lands exactly on the 70 threshold.
	result, err := f.engine.Submit(t.Context(), started.AttemptID, AnswerSheet{f.q1: {1}, f.q2: {0}})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if result.Score != 70 {
		t.Errorf("Score = %v, want 70", result.Score)
	}
	if !result.Passed {
		t.Error("Passed = false at the exact passing score")
	}
	if result.CorrectCount != 1 || result.TotalQuestions != 2 {
		t.Errorf("counts = %d/%d, want 1/2", result.CorrectCount, result.TotalQuestions)
	}
	if result.AutoSubmitted {
		t.Error("manual submit flagged as auto-submitted")
	}

	attempt, err := f.engine.Attempt(t.Context(), started.AttemptID)
	if err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}
	if attempt.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", attempt.Status)
	}
	if attempt.Result == nil || attempt.SubmittedAt == nil {
		t.Error("completed attempt missing result or submission time")
	}

	answers, err := f.store.AnswersByAttempt(t.Context(), started.AttemptID)
	if err != nil {
		t.Fatalf("AnswersByAttempt failed: %v", err)
	}
	if len(answers) != 2 {
		t.Errorf("persisted %d answers, want 2", len(answers))
	}
}

func TestSubmitIdempotence(t *testing.T) {
	f := newEngineFixture(t)
	started := f.start(t, "u1")

	if _, err := f.engine.Submit(t.Context(), started.AttemptID, AnswerSheet{f.q1: {1}}); err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}
	_, err := f.engine.Submit(t.Context(), started.AttemptID, AnswerSheet{f.q1: {0}})
	if !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("second Submit = %v, want ErrAlreadySubmitted", err)
	}

	// The loser's answers must not replace the winner's.
	answers, err := f.store.AnswersByAttempt(t.Context(), started.AttemptID)
	if err != nil {
		t.Fatalf("AnswersByAttempt failed: %v", err)
	}
	for _, a := range answers {
		if a.QuestionID == f.q1 && !a.IsCorrect {
			t.Error("second submit overwrote the first submission's answers")
		}
	}
}

func TestIntegrityEscalation(t *testing.T) {
	f := newEngineFixture(t)
	started := f.start(t, "u1")

	if err := f.engine.SaveAnswer(t.Context(), started.AttemptID, f.q1, []int{1}); err != nil {
		t.Fatalf("SaveAnswer failed: %v", err)
	}

	// First violation: soft warning, attempt stays open.
	outcome, err := f.engine.RecordIntegrityEvent(t.Context(), started.AttemptID, "tab_hidden")
	if err != nil {
		t.Fatalf("RecordIntegrityEvent failed: %v", err)
	}
	if outcome.Warnings != 1 || outcome.ForcedSubmit {
		t.Fatalf("first violation outcome = %+v, want 1 warning and no forced submit", outcome)
	}
	if outcome.WarningNotice == "" {
		t.Error("first violation returned no warning notice")
	}
	attempt, _ := f.engine.Attempt(t.Context(), started.AttemptID)
	if attempt.Status != StatusInProgress {
		t.Fatalf("Status = %s after first violation, want in_progress", attempt.Status)
	}

	// Second violation: forced submit of the saved drafts.
	outcome, err = f.engine.RecordIntegrityEvent(t.Context(), started.AttemptID, "window_blur")
	if err != nil {
		t.Fatalf("RecordIntegrityEvent failed: %v", err)
	}
	if !outcome.ForcedSubmit || outcome.Result == nil {
		t.Fatalf("second violation outcome = %+v, want forced submit with result", outcome)
	}
	if !outcome.Result.AutoSubmitted {
		t.Error("forced submission not flagged auto-submitted")
	}
	if outcome.Result.Score != 70 {
		t.Errorf("forced submission score = %v, want 70 from the saved draft", outcome.Result.Score)
	}

	attempt, _ = f.engine.Attempt(t.Context(), started.AttemptID)
	if attempt.Status != StatusCompleted {
		t.Errorf("Status = %s after second violation, want completed", attempt.Status)
	}
	if attempt.IntegrityWarnings != 2 || len(attempt.IntegrityFlags) != 2 {
		t.Errorf("warnings = %d, flags = %d; want 2 and 2", attempt.IntegrityWarnings, len(attempt.IntegrityFlags))
	}
	if attempt.IntegrityFlags[0].Kind != "tab_hidden" || attempt.IntegrityFlags[1].Kind != "window_blur" {
		t.Errorf("flag order = %v, want [tab_hidden window_blur]", attempt.IntegrityFlags)
	}
}

func TestIntegrityEventAfterCompletionRejected(t *testing.T) {
	f := newEngineFixture(t)
	started := f.start(t, "u1")

	if _, err := f.engine.Submit(t.Context(), started.AttemptID, nil); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	_, err := f.engine.RecordIntegrityEvent(t.Context(), started.AttemptID, "tab_hidden")
	if !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("integrity event on completed attempt = %v, want ErrAlreadySubmitted", err)
	}
}

func TestSubmitDrafts(t *testing.T) {
	f := newEngineFixture(t)
	started := f.start(t, "u1")

	if err := f.engine.SaveAnswer(t.Context(), started.AttemptID, f.q2, []int{0, 1}); err != nil {
		t.Fatalf("SaveAnswer failed: %v", err)
	}
	result, err := f.engine.SubmitDrafts(t.Context(), started.AttemptID)
	if err != nil {
		t.Fatalf("SubmitDrafts failed: %v", err)
	}
	if !result.AutoSubmitted {
		t.Error("SubmitDrafts result not flagged auto-submitted")
	}
	if result.Score != 30 {
		t.Errorf("Score = %v, want 30 from the drafted answer", result.Score)
	}
}

func TestTimeSpentUncapped(t *testing.T) {
	f := newEngineFixture(t)
	started := f.start(t, "u1")

	// Simulate a submit long past the 30-minute limit.
	f.engine.now = func() time.Time { return started.StartedAt.Add(45 * time.Minute) }

	result, err := f.engine.Submit(t.Context(), started.AttemptID, nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if result.TimeSpentSeconds != 45*60 {
		t.Errorf("TimeSpentSeconds = %d, want %d (uncapped wall clock)", result.TimeSpentSeconds, 45*60)
	}
}

func TestBestAttempt(t *testing.T) {
	f := newEngineFixture(t)

	best, err := f.engine.BestAttempt(t.Context(), "u1", f.quizID)
	if err != nil {
		t.Fatalf("BestAttempt failed: %v", err)
	}
	if best != nil {
		t.Fatalf("BestAttempt = %+v before any attempt, want nil", best)
	}

	// 30-point run, then a 100-point run.
	first := f.start(t, "u1")
	if _, err := f.engine.Submit(t.Context(), first.AttemptID, AnswerSheet{f.q2: {0, 1}}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	second := f.start(t, "u1")
	if _, err := f.engine.Submit(t.Context(), second.AttemptID, AnswerSheet{f.q1: {1}, f.q2: {0, 1}}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	best, err = f.engine.BestAttempt(t.Context(), "u1", f.quizID)
	if err != nil {
		t.Fatalf("BestAttempt failed: %v", err)
	}
	if best == nil || best.ID != second.AttemptID {
		t.Fatalf("BestAttempt = %+v, want the 100-point attempt %s", best, second.AttemptID)
	}
	if best.Result.Score != 100 {
		t.Errorf("best score = %v, want 100", best.Result.Score)
	}
}
