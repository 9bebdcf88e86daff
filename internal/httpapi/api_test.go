package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pathway-labs/pathway/internal/assessment"
	"github.com/pathway-labs/pathway/internal/catalog"
	"github.com/pathway-labs/pathway/internal/enrollment"
	"github.com/pathway-labs/pathway/internal/progression"
)

// newTestMux assembles the full API over memory stores.
func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()

	catalogStore := catalog.NewMemoryStore()
	enrollStore := enrollment.NewMemoryStore()
	progressStore := progression.NewMemoryStore()
	attemptStore := assessment.NewMemoryStore()

	admin := catalog.NewAdmin(catalogStore, attemptStore)
	evaluator := progression.NewEvaluator(catalogStore, progressStore, catalogStore, attemptStore, enrollStore)
	graph := progression.NewGraph(progressStore, catalogStore, evaluator)
	tracker := progression.NewTracker(progressStore, catalogStore)
	engine := assessment.NewEngine(attemptStore, catalogStore, enrollStore)

	api := New(Options{
		Store:       catalogStore,
		Admin:       admin,
		Graph:       graph,
		Evaluator:   evaluator,
		Tracker:     tracker,
		Engine:      engine,
		Enrollments: enrollStore,
		Attempts:    attemptStore,
	})

	mux := http.NewServeMux()
	api.Register(mux)
	return mux
}

// do sends a JSON request as the given user and decodes the JSON response.
func do(t *testing.T, mux *http.ServeMux, method, path, user string, body, out any) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec.Code
}

func createCourse(t *testing.T, mux *http.ServeMux, title string) string {
	t.Helper()
	var resp struct {
		ID string `json:"id"`
	}
	code := do(t, mux, http.MethodPost, "/courses", "admin", map[string]string{"title": title}, &resp)
	if code != http.StatusCreated {
		t.Fatalf("create course returned %d", code)
	}
	return resp.ID
}

func TestCreateAndViewCourse(t *testing.T) {
	mux := newTestMux(t)
	courseID := createCourse(t, mux, "Safety")

	code := do(t, mux, http.MethodPost, "/courses/"+courseID+"/lessons", "admin", map[string]any{
		"title": "Intro", "content_type": "video", "duration_minutes": 10,
	}, nil)
	if code != http.StatusCreated {
		t.Fatalf("create lesson returned %d", code)
	}

	var view struct {
		Unlocked   bool             `json:"unlocked"`
		Lessons    []catalog.Lesson `json:"lessons"`
		Enrollment *struct {
			UserID string `json:"user_id"`
		} `json:"enrollment"`
	}
	code = do(t, mux, http.MethodGet, "/courses/"+courseID, "u1", nil, &view)
	if code != http.StatusOK {
		t.Fatalf("get course returned %d", code)
	}
	if !view.Unlocked {
		t.Error("course with no prerequisites reported locked")
	}
	if len(view.Lessons) != 1 {
		t.Errorf("view has %d lessons, want 1", len(view.Lessons))
	}
	// Viewing auto-enrolls.
	if view.Enrollment == nil || view.Enrollment.UserID != "u1" {
		t.Errorf("enrollment = %+v, want auto-created for u1", view.Enrollment)
	}
}

func TestGetCourseRequiresIdentity(t *testing.T) {
	mux := newTestMux(t)
	courseID := createCourse(t, mux, "Safety")

	var resp errorResponse
	code := do(t, mux, http.MethodGet, "/courses/"+courseID, "", nil, &resp)
	if code != http.StatusUnauthorized {
		t.Fatalf("anonymous get course returned %d, want 401", code)
	}
	if resp.Code != "unauthenticated" {
		t.Errorf("error code = %q, want unauthenticated", resp.Code)
	}
}

func TestPrerequisiteCycleReturnsConflict(t *testing.T) {
	mux := newTestMux(t)
	a := createCourse(t, mux, "A")
	b := createCourse(t, mux, "B")

	code := do(t, mux, http.MethodPost, "/courses/"+a+"/prerequisites", "admin",
		map[string]string{"required_course_id": b}, nil)
	if code != http.StatusCreated {
		t.Fatalf("add prerequisite returned %d", code)
	}

	var resp errorResponse
	code = do(t, mux, http.MethodPost, "/courses/"+b+"/prerequisites", "admin",
		map[string]string{"required_course_id": a}, &resp)
	if code != http.StatusConflict {
		t.Fatalf("cycle-closing add returned %d, want 409", code)
	}
	if resp.Code != "cycle" {
		t.Errorf("error code = %q, want cycle", resp.Code)
	}
	if resp.Error != "adding this prerequisite would create a circular dependency" {
		t.Errorf("error message = %q, want the specific cycle message", resp.Error)
	}
}

func TestRemovePrerequisiteNotFound(t *testing.T) {
	mux := newTestMux(t)
	a := createCourse(t, mux, "A")
	b := createCourse(t, mux, "B")

	var resp errorResponse
	code := do(t, mux, http.MethodDelete, "/courses/"+a+"/prerequisites/"+b, "admin", nil, &resp)
	if code != http.StatusNotFound {
		t.Fatalf("remove absent prerequisite returned %d, want 404", code)
	}
	if resp.Code != "edge_not_found" {
		t.Errorf("error code = %q, want edge_not_found", resp.Code)
	}
}

// setupQuiz builds an active 1-question quiz on a fresh course and returns
// (courseID, quizID, questionID).
func setupQuiz(t *testing.T, mux *http.ServeMux) (string, string, string) {
	t.Helper()
	courseID := createCourse(t, mux, "Safety")

	var quizResp struct {
		ID string `json:"id"`
	}
	code := do(t, mux, http.MethodPost, "/courses/"+courseID+"/quiz", "admin", map[string]any{
		"title": "Final", "time_limit_minutes": 30, "passing_score": 70,
	}, &quizResp)
	if code != http.StatusCreated {
		t.Fatalf("create quiz returned %d", code)
	}

	var qResp struct {
		ID string `json:"id"`
	}
	code = do(t, mux, http.MethodPost, "/quizzes/"+quizResp.ID+"/questions", "admin", map[string]any{
		"type": "single", "prompt": "2+2?", "options": []string{"3", "4"},
		"correct_options": []int{1}, "points": 5,
	}, &qResp)
	if code != http.StatusCreated {
		t.Fatalf("add question returned %d", code)
	}

	if code := do(t, mux, http.MethodPost, "/quizzes/"+quizResp.ID+"/activate", "admin", nil, nil); code != http.StatusOK {
		t.Fatalf("activate quiz returned %d", code)
	}
	return courseID, quizResp.ID, qResp.ID
}

func TestQuizAttemptFlow(t *testing.T) {
	mux := newTestMux(t)
	courseID, quizID, questionID := setupQuiz(t, mux)

	// Enroll by viewing the course.
	if code := do(t, mux, http.MethodGet, "/courses/"+courseID, "u1", nil, nil); code != http.StatusOK {
		t.Fatalf("get course returned %d", code)
	}

	var started assessment.StartedAttempt
	code := do(t, mux, http.MethodPost, "/quizzes/"+quizID+"/attempts", "u1", nil, &started)
	if code != http.StatusCreated {
		t.Fatalf("start attempt returned %d", code)
	}
	if len(started.Questions) != 1 {
		t.Fatalf("started attempt has %d questions, want 1", len(started.Questions))
	}

	// A second start conflicts and reports the live attempt.
	var conflict errorResponse
	code = do(t, mux, http.MethodPost, "/quizzes/"+quizID+"/attempts", "u1", nil, &conflict)
	if code != http.StatusConflict {
		t.Fatalf("second start returned %d, want 409", code)
	}
	if conflict.Code != assessment.CodeAttemptActive || conflict.AttemptID != started.AttemptID {
		t.Errorf("conflict = %+v, want code %s with attempt %s", conflict, assessment.CodeAttemptActive, started.AttemptID)
	}

	var result struct {
		assessment.Result
		DisplayScore int `json:"display_score"`
	}
	code = do(t, mux, http.MethodPost, "/attempts/"+started.AttemptID+"/submit", "u1", map[string]any{
		"answers": map[string][]int{questionID: {1}},
	}, &result)
	if code != http.StatusOK {
		t.Fatalf("submit returned %d", code)
	}
	if result.Score != 100 || !result.Passed {
		t.Errorf("result = %+v, want score 100 passed", result)
	}
	if result.DisplayScore != 100 {
		t.Errorf("display_score = %d, want 100", result.DisplayScore)
	}

	// Resubmission conflicts.
	var resubmit errorResponse
	code = do(t, mux, http.MethodPost, "/attempts/"+started.AttemptID+"/submit", "u1", map[string]any{
		"answers": map[string][]int{},
	}, &resubmit)
	if code != http.StatusConflict {
		t.Fatalf("resubmit returned %d, want 409", code)
	}
	if resubmit.Code != assessment.CodeAlreadySubmitted {
		t.Errorf("resubmit code = %q, want %s", resubmit.Code, assessment.CodeAlreadySubmitted)
	}

	var best struct {
		Attempt *assessment.Attempt `json:"attempt"`
	}
	code = do(t, mux, http.MethodGet, "/quizzes/"+quizID+"/attempts/best", "u1", nil, &best)
	if code != http.StatusOK {
		t.Fatalf("best attempt returned %d", code)
	}
	if best.Attempt == nil || best.Attempt.Result.Score != 100 {
		t.Errorf("best attempt = %+v, want the 100-point run", best.Attempt)
	}
}

func TestStartAttemptWithoutEnrollmentForbidden(t *testing.T) {
	mux := newTestMux(t)
	_, quizID, _ := setupQuiz(t, mux)

	var resp errorResponse
	code := do(t, mux, http.MethodPost, "/quizzes/"+quizID+"/attempts", "stranger", nil, &resp)
	if code != http.StatusForbidden {
		t.Fatalf("unenrolled start returned %d, want 403", code)
	}
	if resp.Code != assessment.CodeNotEnrolled {
		t.Errorf("error code = %q, want %s", resp.Code, assessment.CodeNotEnrolled)
	}
}

func TestIntegrityEscalationOverHTTP(t *testing.T) {
	mux := newTestMux(t)
	courseID, quizID, questionID := setupQuiz(t, mux)

	if code := do(t, mux, http.MethodGet, "/courses/"+courseID, "u1", nil, nil); code != http.StatusOK {
		t.Fatalf("get course returned %d", code)
	}
	var started assessment.StartedAttempt
	if code := do(t, mux, http.MethodPost, "/quizzes/"+quizID+"/attempts", "u1", nil, &started); code != http.StatusCreated {
		t.Fatalf("start attempt returned %d", code)
	}
	if code := do(t, mux, http.MethodPost, "/attempts/"+started.AttemptID+"/answers", "u1", map[string]any{
		"question_id": questionID, "selected": []int{1},
	}, nil); code != http.StatusOK {
		t.Fatalf("save answer returned %d", code)
	}

	var outcome assessment.IntegrityOutcome
	code := do(t, mux, http.MethodPost, "/attempts/"+started.AttemptID+"/integrity", "u1",
		map[string]string{"kind": "tab_hidden"}, &outcome)
	if code != http.StatusOK {
		t.Fatalf("first integrity event returned %d", code)
	}
	if outcome.Warnings != 1 || outcome.ForcedSubmit {
		t.Fatalf("first outcome = %+v, want soft warning", outcome)
	}

	code = do(t, mux, http.MethodPost, "/attempts/"+started.AttemptID+"/integrity", "u1",
		map[string]string{"kind": "window_blur"}, &outcome)
	if code != http.StatusOK {
		t.Fatalf("second integrity event returned %d", code)
	}
	if !outcome.ForcedSubmit || outcome.Result == nil || !outcome.Result.AutoSubmitted {
		t.Fatalf("second outcome = %+v, want forced auto-submit", outcome)
	}
	if outcome.Result.Score != 100 {
		t.Errorf("forced score = %v, want 100 from the saved draft", outcome.Result.Score)
	}
}

func TestCompletionEndpoint(t *testing.T) {
	mux := newTestMux(t)
	courseID := createCourse(t, mux, "Intro")

	var lessonResp struct {
		ID string `json:"id"`
	}
	code := do(t, mux, http.MethodPost, "/courses/"+courseID+"/lessons", "admin", map[string]any{
		"title": "Reading", "content_type": "text", "text_content": "short text",
	}, &lessonResp)
	if code != http.StatusCreated {
		t.Fatalf("create lesson returned %d", code)
	}

	var verdict progression.CourseCompletion
	code = do(t, mux, http.MethodGet, "/courses/"+courseID+"/completion", "u1", nil, &verdict)
	if code != http.StatusOK {
		t.Fatalf("completion returned %d", code)
	}
	if verdict.Complete {
		t.Error("untouched course reported complete")
	}

	if code := do(t, mux, http.MethodPost, "/lessons/"+lessonResp.ID+"/complete", "u1", nil, nil); code != http.StatusOK {
		t.Fatalf("complete lesson returned %d", code)
	}
	code = do(t, mux, http.MethodGet, "/courses/"+courseID+"/completion", "u1", nil, &verdict)
	if code != http.StatusOK {
		t.Fatalf("completion returned %d", code)
	}
	if !verdict.Complete {
		t.Error("course incomplete after finishing its only lesson")
	}
}

func TestHeartbeatValidation(t *testing.T) {
	mux := newTestMux(t)
	courseID := createCourse(t, mux, "Intro")

	var lessonResp struct {
		ID string `json:"id"`
	}
	code := do(t, mux, http.MethodPost, "/courses/"+courseID+"/lessons", "admin", map[string]any{
		"title": "Video", "content_type": "video", "duration_minutes": 5,
	}, &lessonResp)
	if code != http.StatusCreated {
		t.Fatalf("create lesson returned %d", code)
	}

	var resp errorResponse
	code = do(t, mux, http.MethodPost, "/lessons/"+lessonResp.ID+"/heartbeat", "u1",
		map[string]int{"seconds": -10}, &resp)
	if code != http.StatusBadRequest {
		t.Fatalf("negative heartbeat returned %d, want 400", code)
	}

	var progress progression.LessonProgress
	code = do(t, mux, http.MethodPost, "/lessons/"+lessonResp.ID+"/heartbeat", "u1",
		map[string]int{"seconds": 30}, &progress)
	if code != http.StatusOK {
		t.Fatalf("heartbeat returned %d", code)
	}
	if progress.TimeSpentSeconds != 30 {
		t.Errorf("TimeSpentSeconds = %d, want 30", progress.TimeSpentSeconds)
	}
}

func TestGradebookEndpoint(t *testing.T) {
	mux := newTestMux(t)
	courseID, quizID, questionID := setupQuiz(t, mux)

	if code := do(t, mux, http.MethodGet, "/courses/"+courseID, "u1", nil, nil); code != http.StatusOK {
		t.Fatalf("get course returned %d", code)
	}
	var started assessment.StartedAttempt
	if code := do(t, mux, http.MethodPost, "/quizzes/"+quizID+"/attempts", "u1", nil, &started); code != http.StatusCreated {
		t.Fatalf("start attempt returned %d", code)
	}
	if code := do(t, mux, http.MethodPost, "/attempts/"+started.AttemptID+"/submit", "u1", map[string]any{
		"answers": map[string][]int{questionID: {1}},
	}, nil); code != http.StatusOK {
		t.Fatalf("submit returned %d", code)
	}

	req := httptest.NewRequest(http.MethodGet, "/quizzes/"+quizID+"/gradebook", nil)
	req.Header.Set("X-User-ID", "admin")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("gradebook returned %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Errorf("Content-Type = %q, want xlsx", ct)
	}
	if rec.Body.Len() == 0 {
		t.Error("gradebook body is empty")
	}
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	mux := newTestMux(t)

	req := httptest.NewRequest(http.MethodPost, "/courses", bytes.NewReader([]byte("{not json")))
	req.Header.Set("X-User-ID", "admin")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body returned %d, want 400", rec.Code)
	}
}
