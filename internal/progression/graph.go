// Package progression owns course gating: the prerequisite graph, lesson
// progress, and the completion evaluator that decides when a course counts
// as done for a user.
package progression

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pathway-labs/pathway/internal/apperr"
	"github.com/pathway-labs/pathway/internal/catalog"
)

// Graph error values. Stores return these so callers can match with errors.Is.
var (
	ErrSelfReference = &apperr.Error{Kind: apperr.KindConflict, Code: "self_reference", Message: "a course cannot be its own prerequisite"}
	ErrCycle         = &apperr.Error{Kind: apperr.KindConflict, Code: "cycle", Message: "adding this prerequisite would create a circular dependency"}
	ErrDuplicateEdge = &apperr.Error{Kind: apperr.KindConflict, Code: "duplicate_edge", Message: "this prerequisite already exists"}
	ErrEdgeNotFound  = &apperr.Error{Kind: apperr.KindNotFound, Code: "edge_not_found", Message: "prerequisite not found"}
)

// EdgeStore persists prerequisite edges. InsertEdge must perform the
// duplicate and cycle checks atomically with the insert.
type EdgeStore interface {
	InsertEdge(ctx context.Context, courseID, requiredID string) error
	DeleteEdge(ctx context.Context, courseID, requiredID string) error
	// Prerequisites returns the course IDs the given course requires (one hop).
	Prerequisites(ctx context.Context, courseID string) ([]string, error)
	// Dependents returns the course IDs that require the given course (one hop).
	Dependents(ctx context.Context, courseID string) ([]string, error)
}

// CourseSource resolves course records; the catalog store implements it.
type CourseSource interface {
	GetCourse(ctx context.Context, id string) (*catalog.Course, error)
}

// Graph maintains the directed prerequisite graph over courses. The edge
// set must stay acyclic at all times; every insertion is cycle-checked.
type Graph struct {
	edges   EdgeStore
	courses CourseSource
	eval    *Evaluator
}

// NewGraph creates a prerequisite graph over the given stores. eval may be
// nil when completion decoration is not needed (e.g. seed import).
func NewGraph(edges EdgeStore, courses CourseSource, eval *Evaluator) *Graph {
	return &Graph{edges: edges, courses: courses, eval: eval}
}

// CourseStatus is a course decorated with one user's completion verdict.
type CourseStatus struct {
	Course    catalog.Course `json:"course"`
	Completed bool           `json:"completed"`
}

// AddPrerequisite records that courseID requires requiredID. It rejects
// self-references, duplicates, and any edge that would close a cycle.
func (g *Graph) AddPrerequisite(ctx context.Context, courseID, requiredID string) error {
	if courseID == "" || requiredID == "" {
		return apperr.Validation("edge_ids_required", "course and required course IDs are required")
	}
	if courseID == requiredID {
		return ErrSelfReference
	}
	if _, err := g.courses.GetCourse(ctx, courseID); err != nil {
		return err
	}
	if _, err := g.courses.GetCourse(ctx, requiredID); err != nil {
		return err
	}

	if err := g.edges.InsertEdge(ctx, courseID, requiredID); err != nil {
		return err
	}
	slog.Info("prerequisite added", "course_id", courseID, "required_id", requiredID)
	return nil
}

// RemovePrerequisite deletes an edge. Removal can never introduce a cycle,
// so it is unconditional apart from existence.
func (g *Graph) RemovePrerequisite(ctx context.Context, courseID, requiredID string) error {
	return g.edges.DeleteEdge(ctx, courseID, requiredID)
}

// PrerequisitesOf returns the immediate prerequisites of a course, each with
// the user's completion verdict.
func (g *Graph) PrerequisitesOf(ctx context.Context, userID, courseID string) ([]CourseStatus, error) {
	ids, err := g.edges.Prerequisites(ctx, courseID)
	if err != nil {
		return nil, err
	}
	return g.decorate(ctx, userID, ids)
}

// DependentsOf returns the courses that immediately require the given
// course, each with the user's completion verdict.
func (g *Graph) DependentsOf(ctx context.Context, userID, courseID string) ([]CourseStatus, error) {
	ids, err := g.edges.Dependents(ctx, courseID)
	if err != nil {
		return nil, err
	}
	return g.decorate(ctx, userID, ids)
}

// IsUnlocked reports whether every immediate prerequisite of the course is
// complete for the user. Deeper chains unlock level by level as the learner
// progresses; they are never evaluated transitively here.
func (g *Graph) IsUnlocked(ctx context.Context, userID, courseID string) (bool, error) {
	ids, err := g.edges.Prerequisites(ctx, courseID)
	if err != nil {
		return false, err
	}
	if g.eval == nil {
		// Without an evaluator, unmet prerequisites cannot be verified: only a
		// prerequisite-free course counts as unlocked.
		return len(ids) == 0, nil
	}
	for _, id := range ids {
		done, err := g.eval.IsCourseComplete(ctx, userID, id)
		if err != nil {
			return false, err
		}
		if !done {
			return false, nil
		}
	}
	return true, nil
}

func (g *Graph) decorate(ctx context.Context, userID string, ids []string) ([]CourseStatus, error) {
	out := make([]CourseStatus, 0, len(ids))
	for _, id := range ids {
		course, err := g.courses.GetCourse(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve course %s: %w", id, err)
		}
		completed := false
		if g.eval != nil && userID != "" {
			completed, err = g.eval.IsCourseComplete(ctx, userID, id)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, CourseStatus{Course: *course, Completed: completed})
	}
	return out, nil
}

// createsCycle reports whether adding courseID -> requiredID would close a
// cycle, given the current adjacency (course -> required courses). The edge
// closes a cycle exactly when courseID is already reachable from requiredID.
// The walk is iterative with an explicit stack; the visited set bounds it on
// the already-acyclic input.
func createsCycle(adj map[string][]string, courseID, requiredID string) bool {
	visited := make(map[string]bool)
	stack := []string{requiredID}

	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == courseID {
			return true
		}
		if visited[node] {
			continue
		}
		visited[node] = true
		stack = append(stack, adj[node]...)
	}
	return false
}
