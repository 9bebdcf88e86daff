package progression

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory EdgeStore and ProgressStore used in tests and
// development. The mutex plays the role the database transaction plays in
// the Postgres store: the cycle check and the insert are one critical
// section, so two concurrent inserts cannot jointly close a cycle.
type MemoryStore struct {
	mu       sync.RWMutex
	adj      map[string][]string // courseID -> required course IDs
	progress map[string]*LessonProgress
}

// NewMemoryStore creates an empty in-memory progression store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		adj:      make(map[string][]string),
		progress: make(map[string]*LessonProgress),
	}
}

func (s *MemoryStore) InsertEdge(_ context.Context, courseID, requiredID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.adj[courseID] {
		if r == requiredID {
			return ErrDuplicateEdge
		}
	}
	if createsCycle(s.adj, courseID, requiredID) {
		return ErrCycle
	}
	s.adj[courseID] = append(s.adj[courseID], requiredID)
	return nil
}

func (s *MemoryStore) DeleteEdge(_ context.Context, courseID, requiredID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	required := s.adj[courseID]
	for i, r := range required {
		if r == requiredID {
			s.adj[courseID] = append(required[:i], required[i+1:]...)
			return nil
		}
	}
	return ErrEdgeNotFound
}

func (s *MemoryStore) Prerequisites(_ context.Context, courseID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]string{}, s.adj[courseID]...), nil
}

func (s *MemoryStore) Dependents(_ context.Context, courseID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for course, required := range s.adj {
		for _, r := range required {
			if r == courseID {
				out = append(out, course)
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) AddTime(_ context.Context, userID, lessonID string, seconds int) (*LessonProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userID + "/" + lessonID
	p, ok := s.progress[key]
	if !ok {
		p = &LessonProgress{UserID: userID, LessonID: lessonID, Status: LessonInProgress}
		s.progress[key] = p
	}
	p.TimeSpentSeconds += seconds
	if p.Status == LessonNotStarted {
		p.Status = LessonInProgress
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) Complete(_ context.Context, userID, lessonID string, at time.Time) (*LessonProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userID + "/" + lessonID
	p, ok := s.progress[key]
	if !ok {
		p = &LessonProgress{UserID: userID, LessonID: lessonID}
		s.progress[key] = p
	}
	if p.Status != LessonCompleted {
		p.Status = LessonCompleted
		p.CompletedAt = &at
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) Progress(_ context.Context, userID string, lessonIDs []string) (map[string]LessonProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]LessonProgress, len(lessonIDs))
	for _, id := range lessonIDs {
		if p, ok := s.progress[userID+"/"+id]; ok {
			out[id] = *p
		}
	}
	return out, nil
}
