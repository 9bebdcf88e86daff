package enrollment

import (
	"testing"
	"time"

	"github.com/pathway-labs/pathway/internal/apperr"
)

func TestEnsureEnrolledIdempotent(t *testing.T) {
	store := NewMemoryStore()

	first, err := store.EnsureEnrolled(t.Context(), "u1", "c1")
	if err != nil {
		t.Fatalf("EnsureEnrolled failed: %v", err)
	}
	if first.UserID != "u1" || first.CourseID != "c1" {
		t.Fatalf("enrollment = %+v, want u1/c1", first)
	}
	if first.EnrolledAt.IsZero() {
		t.Error("EnrolledAt not set")
	}

	second, err := store.EnsureEnrolled(t.Context(), "u1", "c1")
	if err != nil {
		t.Fatalf("second EnsureEnrolled failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second call created a new enrollment %s, want %s", second.ID, first.ID)
	}
}

func TestEnsureEnrolledRequiresIDs(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.EnsureEnrolled(t.Context(), "", "c1"); err == nil {
		t.Error("EnsureEnrolled accepted empty user ID")
	}
	if _, err := store.EnsureEnrolled(t.Context(), "u1", ""); err == nil {
		t.Error("EnsureEnrolled accepted empty course ID")
	}
}

func TestGetNotEnrolled(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(t.Context(), "u1", "c1")
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("Get without enrollment = %v, want not_found", err)
	}

	enrolled, err := store.IsEnrolled(t.Context(), "u1", "c1")
	if err != nil || enrolled {
		t.Fatalf("IsEnrolled = %v, %v; want false, nil", enrolled, err)
	}
}

func TestMarkCompletedSetOnce(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.EnsureEnrolled(t.Context(), "u1", "c1"); err != nil {
		t.Fatalf("EnsureEnrolled failed: %v", err)
	}

	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.MarkCompleted(t.Context(), "u1", "c1", first); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	later := first.Add(time.Hour)
	if err := store.MarkCompleted(t.Context(), "u1", "c1", later); err != nil {
		t.Fatalf("second MarkCompleted failed: %v", err)
	}

	e, err := store.Get(t.Context(), "u1", "c1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if e.CompletedAt == nil || !e.CompletedAt.Equal(first) {
		t.Errorf("CompletedAt = %v, want the first stamp %v", e.CompletedAt, first)
	}
}

func TestMarkCompletedWithoutEnrollment(t *testing.T) {
	store := NewMemoryStore()
	err := store.MarkCompleted(t.Context(), "u1", "c1", time.Now())
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("MarkCompleted without enrollment = %v, want not_found", err)
	}
}

func TestUsersByCourse(t *testing.T) {
	store := NewMemoryStore()
	for _, u := range []string{"u1", "u2"} {
		if _, err := store.EnsureEnrolled(t.Context(), u, "c1"); err != nil {
			t.Fatalf("EnsureEnrolled failed: %v", err)
		}
	}
	if _, err := store.EnsureEnrolled(t.Context(), "u3", "c2"); err != nil {
		t.Fatalf("EnsureEnrolled failed: %v", err)
	}

	users, err := store.UsersByCourse(t.Context(), "c1")
	if err != nil {
		t.Fatalf("UsersByCourse failed: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("UsersByCourse returned %d users, want 2", len(users))
	}
}
