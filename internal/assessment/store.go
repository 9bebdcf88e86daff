package assessment

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store persists attempts, draft answers, and graded answers.
//
// Implementations own the two race guards the state machine relies on:
// CreateAttempt must refuse a second in-progress attempt per (quiz, user),
// and CompleteAttempt must let exactly one caller win the transition while
// persisting its answers atomically with it.
type Store interface {
	CreateAttempt(ctx context.Context, quizID, userID string, startedAt time.Time) (*Attempt, error)
	GetAttempt(ctx context.Context, id string) (*Attempt, error)
	// AppendIntegrityFlag logs a violation and returns the new warning count.
	// Valid only while the attempt is in progress.
	AppendIntegrityFlag(ctx context.Context, attemptID string, flag IntegrityFlag) (int, error)
	SaveDraftAnswer(ctx context.Context, attemptID, questionID string, selected []int) error
	DraftAnswers(ctx context.Context, attemptID string) (AnswerSheet, error)
	// CompleteAttempt transitions in_progress -> completed and persists the
	// graded answers in the same transaction. Returns ErrAlreadySubmitted if
	// the attempt is no longer in progress.
	CompleteAttempt(ctx context.Context, attemptID string, submittedAt time.Time, result Result, answers []Answer) error
	AnswersByAttempt(ctx context.Context, attemptID string) ([]Answer, error)
	// BestAttempt returns the highest-scoring completed attempt, or nil.
	BestAttempt(ctx context.Context, quizID, userID string) (*Attempt, error)
	CompletedAttempts(ctx context.Context, quizID string) ([]Attempt, error)
	HasPassed(ctx context.Context, quizID, userID string) (bool, error)
	HasAttempts(ctx context.Context, quizID string) (bool, error)
}

// MemoryStore is an in-memory Store used in tests and development. The
// mutex serializes the check-then-insert and the status transition, playing
// the role of the partial unique index and the guarded UPDATE in Postgres.
type MemoryStore struct {
	mu       sync.RWMutex
	attempts map[string]*Attempt
	drafts   map[string]AnswerSheet
	answers  map[string][]Answer
}

// NewMemoryStore creates an empty in-memory assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		attempts: make(map[string]*Attempt),
		drafts:   make(map[string]AnswerSheet),
		answers:  make(map[string][]Answer),
	}
}

func (s *MemoryStore) CreateAttempt(_ context.Context, quizID, userID string, startedAt time.Time) (*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.attempts {
		if a.QuizID == quizID && a.UserID == userID && a.Status == StatusInProgress {
			return nil, &AttemptActiveError{AttemptID: a.ID}
		}
	}

	a := &Attempt{
		ID:        generateID(),
		QuizID:    quizID,
		UserID:    userID,
		Status:    StatusInProgress,
		StartedAt: startedAt,
	}
	s.attempts[a.ID] = a
	cp := copyAttempt(a)
	return &cp, nil
}

func (s *MemoryStore) GetAttempt(_ context.Context, id string) (*Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attempts[id]
	if !ok {
		return nil, notFound(id)
	}
	cp := copyAttempt(a)
	return &cp, nil
}

func (s *MemoryStore) AppendIntegrityFlag(_ context.Context, attemptID string, flag IntegrityFlag) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[attemptID]
	if !ok {
		return 0, notFound(attemptID)
	}
	if a.Status != StatusInProgress {
		return 0, ErrAlreadySubmitted
	}
	a.IntegrityFlags = append(a.IntegrityFlags, flag)
	a.IntegrityWarnings++
	return a.IntegrityWarnings, nil
}

func (s *MemoryStore) SaveDraftAnswer(_ context.Context, attemptID, questionID string, selected []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[attemptID]
	if !ok {
		return notFound(attemptID)
	}
	if a.Status != StatusInProgress {
		return ErrAlreadySubmitted
	}
	sheet, ok := s.drafts[attemptID]
	if !ok {
		sheet = make(AnswerSheet)
		s.drafts[attemptID] = sheet
	}
	sheet[questionID] = append([]int{}, selected...)
	return nil
}

func (s *MemoryStore) DraftAnswers(_ context.Context, attemptID string) (AnswerSheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.attempts[attemptID]; !ok {
		return nil, notFound(attemptID)
	}
	out := make(AnswerSheet, len(s.drafts[attemptID]))
	for q, sel := range s.drafts[attemptID] {
		out[q] = append([]int{}, sel...)
	}
	return out, nil
}

func (s *MemoryStore) CompleteAttempt(_ context.Context, attemptID string, submittedAt time.Time, result Result, answers []Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[attemptID]
	if !ok {
		return notFound(attemptID)
	}
	if a.Status != StatusInProgress {
		return ErrAlreadySubmitted
	}
	a.Status = StatusCompleted
	a.SubmittedAt = &submittedAt
	r := result
	a.Result = &r
	s.answers[attemptID] = append([]Answer{}, answers...)
	return nil
}

func (s *MemoryStore) AnswersByAttempt(_ context.Context, attemptID string) ([]Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.attempts[attemptID]; !ok {
		return nil, notFound(attemptID)
	}
	return append([]Answer{}, s.answers[attemptID]...), nil
}

func (s *MemoryStore) BestAttempt(_ context.Context, quizID, userID string) (*Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *Attempt
	for _, a := range s.attempts {
		if a.QuizID != quizID || a.UserID != userID || a.Status != StatusCompleted {
			continue
		}
		if best == nil || a.Result.Score > best.Result.Score {
			best = a
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := copyAttempt(best)
	return &cp, nil
}

func (s *MemoryStore) CompletedAttempts(_ context.Context, quizID string) ([]Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Attempt
	for _, a := range s.attempts {
		if a.QuizID == quizID && a.Status == StatusCompleted {
			out = append(out, copyAttempt(a))
		}
	}
	// Same order as the SQL store: by submission time.
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(*out[j].SubmittedAt)
	})
	return out, nil
}

func (s *MemoryStore) HasPassed(_ context.Context, quizID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.attempts {
		if a.QuizID == quizID && a.UserID == userID && a.Status == StatusCompleted && a.Result.Passed {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) HasAttempts(_ context.Context, quizID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.attempts {
		if a.QuizID == quizID {
			return true, nil
		}
	}
	return false, nil
}

func copyAttempt(a *Attempt) Attempt {
	cp := *a
	cp.IntegrityFlags = append([]IntegrityFlag{}, a.IntegrityFlags...)
	if a.Result != nil {
		r := *a.Result
		cp.Result = &r
	}
	if a.SubmittedAt != nil {
		t := *a.SubmittedAt
		cp.SubmittedAt = &t
	}
	return cp
}

func generateID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}
