// Package live runs a websocket channel for an in-progress quiz attempt:
// the server pushes countdown ticks and forced-submit results, the client
// sends draft answers, integrity events, and the final submit.
package live

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/pathway-labs/pathway/internal/assessment"
)

const tickInterval = 5 * time.Second

// clientMessage is anything the learner's client sends during an attempt.
type clientMessage struct {
	Type       string           `json:"type"` // "answer", "integrity", "submit"
	QuestionID string           `json:"question_id,omitempty"`
	Selected   []int            `json:"selected,omitempty"`
	Kind       string           `json:"kind,omitempty"` // integrity violation kind
	Answers    map[string][]int `json:"answers,omitempty"`
}

// serverMessage is anything the server pushes back.
type serverMessage struct {
	Type             string             `json:"type"` // "tick", "warning", "submitted", "error"
	RemainingSeconds int                `json:"remaining_seconds,omitempty"`
	Warnings         int                `json:"warnings,omitempty"`
	Notice           string             `json:"notice,omitempty"`
	Result           *assessment.Result `json:"result,omitempty"`
	Error            string             `json:"error,omitempty"`
}

// Handler upgrades attempt connections and relays them to the engine.
type Handler struct {
	engine  *assessment.Engine
	quizzes assessment.QuizSource
}

// NewHandler creates a live session handler.
func NewHandler(engine *assessment.Engine, quizzes assessment.QuizSource) *Handler {
	return &Handler{engine: engine, quizzes: quizzes}
}

// ServeHTTP handles GET /attempts/{id}/live.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	attemptID := r.PathValue("id")

	attempt, err := h.engine.Attempt(r.Context(), attemptID)
	if err != nil {
		http.Error(w, "attempt not found", http.StatusNotFound)
		return
	}
	if attempt.Status != assessment.StatusInProgress {
		http.Error(w, "attempt is not in progress", http.StatusConflict)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Error("websocket accept failed", "error", err, "attempt_id", attemptID)
		return
	}
	defer conn.CloseNow()

	h.run(r.Context(), conn, attemptID, h.deadline(r.Context(), attempt))
}

// deadline is when the countdown ends; zero disables server-side expiry.
// Submission past the deadline is still accepted (the limit is advisory);
// the server merely stops waiting and grades the drafts.
func (h *Handler) deadline(ctx context.Context, attempt *assessment.Attempt) time.Time {
	quiz, err := h.quizzes.GetQuiz(ctx, attempt.QuizID)
	if err != nil || quiz.TimeLimitMinutes <= 0 {
		return time.Time{}
	}
	return attempt.StartedAt.Add(time.Duration(quiz.TimeLimitMinutes) * time.Minute)
}

func (h *Handler) run(ctx context.Context, conn *websocket.Conn, attemptID string, deadline time.Time) {
	incoming := make(chan clientMessage)
	readErr := make(chan error, 1)

	go func() {
		for {
			var msg clientMessage
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				readErr <- err
				return
			}
			select {
			case incoming <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-readErr:
			if !errors.Is(err, context.Canceled) {
				slog.Debug("live session read ended", "attempt_id", attemptID, "error", err)
			}
			return

		case <-ticker.C:
			if deadline.IsZero() {
				continue
			}
			remaining := int(time.Until(deadline).Seconds())
			if remaining <= 0 {
				h.forceSubmit(ctx, conn, attemptID)
				return
			}
			h.send(ctx, conn, serverMessage{Type: "tick", RemainingSeconds: remaining})

		case msg := <-incoming:
			if done := h.handle(ctx, conn, attemptID, msg); done {
				return
			}
		}
	}
}

// handle processes one client message; it reports true when the attempt is
// finished and the session should close.
func (h *Handler) handle(ctx context.Context, conn *websocket.Conn, attemptID string, msg clientMessage) bool {
	switch msg.Type {
	case "answer":
		if err := h.engine.SaveAnswer(ctx, attemptID, msg.QuestionID, msg.Selected); err != nil {
			h.send(ctx, conn, serverMessage{Type: "error", Error: err.Error()})
		}
		return false

	case "integrity":
		outcome, err := h.engine.RecordIntegrityEvent(ctx, attemptID, msg.Kind)
		if err != nil {
			h.send(ctx, conn, serverMessage{Type: "error", Error: err.Error()})
			return false
		}
		if outcome.ForcedSubmit {
			h.send(ctx, conn, serverMessage{Type: "submitted", Result: outcome.Result})
			conn.Close(websocket.StatusNormalClosure, "attempt auto-submitted")
			return true
		}
		h.send(ctx, conn, serverMessage{Type: "warning", Warnings: outcome.Warnings, Notice: outcome.WarningNotice})
		return false

	case "submit":
		result, err := h.engine.Submit(ctx, attemptID, msg.Answers)
		if err != nil {
			h.send(ctx, conn, serverMessage{Type: "error", Error: err.Error()})
			return true
		}
		h.send(ctx, conn, serverMessage{Type: "submitted", Result: result})
		conn.Close(websocket.StatusNormalClosure, "attempt submitted")
		return true

	default:
		h.send(ctx, conn, serverMessage{Type: "error", Error: "unknown message type: " + msg.Type})
		return false
	}
}

// forceSubmit grades whatever drafts exist when the countdown hits zero.
func (h *Handler) forceSubmit(ctx context.Context, conn *websocket.Conn, attemptID string) {
	result, err := h.engine.SubmitDrafts(ctx, attemptID)
	if err != nil {
		h.send(ctx, conn, serverMessage{Type: "error", Error: err.Error()})
		conn.Close(websocket.StatusNormalClosure, "time expired")
		return
	}
	h.send(ctx, conn, serverMessage{Type: "submitted", Result: result})
	conn.Close(websocket.StatusNormalClosure, "time expired")
}

func (h *Handler) send(ctx context.Context, conn *websocket.Conn, msg serverMessage) {
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		slog.Debug("live session write failed", "error", err)
	}
}
