// Package httpapi exposes the engine over HTTP. It is a thin layer: decode,
// delegate to a domain service, encode. All policy lives in the domain
// packages; identity arrives from an upstream authenticating proxy via the
// X-User-ID header.
package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pathway-labs/pathway/internal/assessment"
	"github.com/pathway-labs/pathway/internal/authcode"
	"github.com/pathway-labs/pathway/internal/catalog"
	"github.com/pathway-labs/pathway/internal/enrollment"
	"github.com/pathway-labs/pathway/internal/export"
	"github.com/pathway-labs/pathway/internal/progression"
)

// API wires the domain services to HTTP routes.
type API struct {
	store       catalog.Store
	admin       *catalog.Admin
	graph       *progression.Graph
	eval        *progression.Evaluator
	tracker     *progression.Tracker
	engine      *assessment.Engine
	enrollments enrollment.Store
	attempts    export.AttemptSource
	auth        *authcode.Service
	live        http.Handler
}

// Options collects the API's dependencies. Auth and Live are optional;
// their routes are omitted when nil.
type Options struct {
	Store       catalog.Store
	Admin       *catalog.Admin
	Graph       *progression.Graph
	Evaluator   *progression.Evaluator
	Tracker     *progression.Tracker
	Engine      *assessment.Engine
	Enrollments enrollment.Store
	Attempts    export.AttemptSource
	Auth        *authcode.Service
	Live        http.Handler
}

// New creates the API.
func New(opts Options) *API {
	return &API{
		store:       opts.Store,
		admin:       opts.Admin,
		graph:       opts.Graph,
		eval:        opts.Evaluator,
		tracker:     opts.Tracker,
		engine:      opts.Engine,
		enrollments: opts.Enrollments,
		attempts:    opts.Attempts,
		auth:        opts.Auth,
		live:        opts.Live,
	}
}

// Register installs all routes on the mux.
func (a *API) Register(mux *http.ServeMux) {
	if a.auth != nil {
		mux.HandleFunc("POST /auth/code", a.handleRequestCode)
		mux.HandleFunc("POST /auth/verify", a.handleVerifyCode)
	}

	mux.HandleFunc("GET /courses", a.handleListCourses)
	mux.HandleFunc("POST /courses", a.handleCreateCourse)
	mux.HandleFunc("GET /courses/{id}", a.handleGetCourse)
	mux.HandleFunc("POST /courses/{id}/lessons", a.handleCreateLesson)
	mux.HandleFunc("GET /courses/{id}/prerequisites", a.handlePrerequisites)
	mux.HandleFunc("POST /courses/{id}/prerequisites", a.handleAddPrerequisite)
	mux.HandleFunc("DELETE /courses/{id}/prerequisites/{requiredID}", a.handleRemovePrerequisite)
	mux.HandleFunc("GET /courses/{id}/dependents", a.handleDependents)
	mux.HandleFunc("GET /courses/{id}/completion", a.handleCompletion)
	mux.HandleFunc("POST /courses/{id}/quiz", a.handleCreateQuiz)

	mux.HandleFunc("POST /lessons/{id}/heartbeat", a.handleHeartbeat)
	mux.HandleFunc("POST /lessons/{id}/complete", a.handleCompleteLesson)

	mux.HandleFunc("POST /quizzes/{id}/questions", a.handleAddQuestion)
	mux.HandleFunc("POST /quizzes/{id}/activate", a.handleActivateQuiz)
	mux.HandleFunc("POST /quizzes/{id}/deactivate", a.handleDeactivateQuiz)
	mux.HandleFunc("DELETE /quizzes/{id}", a.handleDeleteQuiz)
	mux.HandleFunc("POST /quizzes/{id}/attempts", a.handleStartAttempt)
	mux.HandleFunc("GET /quizzes/{id}/attempts/best", a.handleBestAttempt)
	mux.HandleFunc("GET /quizzes/{id}/gradebook", a.handleGradebook)

	mux.HandleFunc("GET /attempts/{id}", a.handleGetAttempt)
	mux.HandleFunc("POST /attempts/{id}/answers", a.handleSaveAnswer)
	mux.HandleFunc("POST /attempts/{id}/integrity", a.handleIntegrity)
	mux.HandleFunc("POST /attempts/{id}/submit", a.handleSubmit)
	if a.live != nil {
		mux.Handle("GET /attempts/{id}/live", a.live)
	}
}

// --- auth ---

func (a *API) handleRequestCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := a.auth.Request(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "code sent"})
}

func (a *API) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := a.auth.Verify(r.Context(), req.Email, req.Code); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

// --- catalog ---

func (a *API) handleListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := a.store.ListCourses(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"courses": courses})
}

func (a *API) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	var course catalog.Course
	if err := decodeJSON(r, &course); err != nil {
		writeError(w, err)
		return
	}
	id, err := a.admin.CreateCourse(r.Context(), course)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// courseView is the learner-facing course page: the course, whether its
// prerequisites are satisfied, and (when unlocked) its lessons and the
// viewer's enrollment.
type courseView struct {
	Course     catalog.Course         `json:"course"`
	Unlocked   bool                   `json:"unlocked"`
	Lessons    []catalog.Lesson       `json:"lessons,omitempty"`
	Enrollment *enrollment.Enrollment `json:"enrollment,omitempty"`
}

func (a *API) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	courseID := r.PathValue("id")

	course, err := a.store.GetCourse(r.Context(), courseID)
	if err != nil {
		writeError(w, err)
		return
	}
	unlocked, err := a.graph.IsUnlocked(r.Context(), user, courseID)
	if err != nil {
		writeError(w, err)
		return
	}

	view := courseView{Course: *course, Unlocked: unlocked}
	if unlocked {
		// First unlocked visit creates the enrollment.
		enr, err := a.enrollments.EnsureEnrolled(r.Context(), user, courseID)
		if err != nil {
			writeError(w, fmt.Errorf("ensure enrollment: %w", err))
			return
		}
		lessons, err := a.store.LessonsByCourse(r.Context(), courseID)
		if err != nil {
			writeError(w, err)
			return
		}
		view.Enrollment = enr
		view.Lessons = lessons
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleCreateLesson(w http.ResponseWriter, r *http.Request) {
	var lesson catalog.Lesson
	if err := decodeJSON(r, &lesson); err != nil {
		writeError(w, err)
		return
	}
	lesson.CourseID = r.PathValue("id")
	id, err := a.admin.CreateLesson(r.Context(), lesson)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// --- prerequisite graph ---

func (a *API) handlePrerequisites(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	list, err := a.graph.PrerequisitesOf(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prerequisites": list})
}

func (a *API) handleDependents(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	list, err := a.graph.DependentsOf(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dependents": list})
}

func (a *API) handleAddPrerequisite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RequiredCourseID string `json:"required_course_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := a.graph.AddPrerequisite(r.Context(), r.PathValue("id"), req.RequiredCourseID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "added"})
}

func (a *API) handleRemovePrerequisite(w http.ResponseWriter, r *http.Request) {
	err := a.graph.RemovePrerequisite(r.Context(), r.PathValue("id"), r.PathValue("requiredID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (a *API) handleCompletion(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	verdict, err := a.eval.CourseCompletion(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

// --- lesson progress ---

func (a *API) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	var req struct {
		Seconds int `json:"seconds"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	progress, err := a.tracker.RecordHeartbeat(r.Context(), user, r.PathValue("id"), req.Seconds)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (a *API) handleCompleteLesson(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	progress, err := a.tracker.MarkLessonComplete(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// --- quiz administration ---

func (a *API) handleCreateQuiz(w http.ResponseWriter, r *http.Request) {
	var quiz catalog.Quiz
	if err := decodeJSON(r, &quiz); err != nil {
		writeError(w, err)
		return
	}
	quiz.CourseID = r.PathValue("id")
	id, err := a.admin.CreateQuiz(r.Context(), quiz)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *API) handleAddQuestion(w http.ResponseWriter, r *http.Request) {
	var question catalog.Question
	if err := decodeJSON(r, &question); err != nil {
		writeError(w, err)
		return
	}
	question.QuizID = r.PathValue("id")
	id, err := a.admin.AddQuestion(r.Context(), question)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *API) handleActivateQuiz(w http.ResponseWriter, r *http.Request) {
	if err := a.admin.ActivateQuiz(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

func (a *API) handleDeactivateQuiz(w http.ResponseWriter, r *http.Request) {
	if err := a.admin.DeactivateQuiz(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "inactive"})
}

func (a *API) handleDeleteQuiz(w http.ResponseWriter, r *http.Request) {
	if err := a.admin.DeleteQuiz(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- attempts ---

func (a *API) handleStartAttempt(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	started, err := a.engine.Start(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, started)
}

func (a *API) handleBestAttempt(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	best, err := a.engine.BestAttempt(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if best == nil {
		writeJSON(w, http.StatusOK, map[string]any{"attempt": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempt": best})
}

func (a *API) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	attempt, err := a.engine.Attempt(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

func (a *API) handleSaveAnswer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QuestionID string `json:"question_id"`
		Selected   []int  `json:"selected"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := a.engine.SaveAnswer(r.Context(), r.PathValue("id"), req.QuestionID, req.Selected); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (a *API) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind string `json:"kind"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	outcome, err := a.engine.RecordIntegrityEvent(r.Context(), r.PathValue("id"), req.Kind)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Answers assessment.AnswerSheet `json:"answers"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := a.engine.Submit(r.Context(), r.PathValue("id"), req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- export ---

func (a *API) handleGradebook(w http.ResponseWriter, r *http.Request) {
	quiz, err := a.store.GetQuiz(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	course, err := a.store.GetCourse(r.Context(), quiz.CourseID)
	if err != nil {
		writeError(w, err)
		return
	}
	rows, err := export.BuildRows(r.Context(), a.attempts, *course, *quiz)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "gradebook-"+quiz.ID+".xlsx"))
	if err := export.WriteGradebook(w, rows); err != nil {
		// Headers are already out; the response cannot be rewritten.
		slog.Error("gradebook export failed", "quiz_id", quiz.ID, "error", err)
	}
}
