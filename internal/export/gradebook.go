// Package export produces gradebook workbooks from quiz results.
package export

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/pathway-labs/pathway/internal/assessment"
	"github.com/pathway-labs/pathway/internal/catalog"
)

const sheetName = "Gradebook"

// Row is one gradebook line: a user's best result on one quiz.
type Row struct {
	UserID      string
	CourseTitle string
	QuizTitle   string
	Score       float64
	Passed      bool
	Attempts    int
	SubmittedAt time.Time
}

// AttemptSource lists completed attempts for a quiz; the assessment store
// implements it.
type AttemptSource interface {
	CompletedAttempts(ctx context.Context, quizID string) ([]assessment.Attempt, error)
}

// BuildRows collects best-attempt rows for one quiz, ordered by user ID so
// repeated exports are identical. Attempts counts every completed attempt,
// not just the best one.
func BuildRows(ctx context.Context, attempts AttemptSource, course catalog.Course, quiz catalog.Quiz) ([]Row, error) {
	completed, err := attempts.CompletedAttempts(ctx, quiz.ID)
	if err != nil {
		return nil, fmt.Errorf("load attempts: %w", err)
	}

	best := make(map[string]Row)
	for _, a := range completed {
		r, ok := best[a.UserID]
		r.Attempts++
		if !ok || a.Result.Score > r.Score {
			submitted := time.Time{}
			if a.SubmittedAt != nil {
				submitted = *a.SubmittedAt
			}
			r = Row{
				UserID:      a.UserID,
				CourseTitle: course.Title,
				QuizTitle:   quiz.Title,
				Score:       a.Result.Score,
				Passed:      a.Result.Passed,
				Attempts:    r.Attempts,
				SubmittedAt: submitted,
			}
		}
		best[a.UserID] = r
	}

	out := make([]Row, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// WriteGradebook writes rows as an XLSX workbook.
func WriteGradebook(w io.Writer, rows []Row) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	headers := []string{"User", "Course", "Quiz", "Best Score", "Passed", "Attempts", "Submitted At"}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	for i, r := range rows {
		values := []any{
			r.UserID,
			r.CourseTitle,
			r.QuizTitle,
			r.Score,
			r.Passed,
			r.Attempts,
			r.SubmittedAt.Format(time.RFC3339),
		}
		for j, v := range values {
			cell, err := excelize.CoordinatesToCellName(j+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return fmt.Errorf("write row %d: %w", i+1, err)
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
