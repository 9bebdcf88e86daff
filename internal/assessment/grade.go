package assessment

import (
	"math"

	"github.com/pathway-labs/pathway/internal/catalog"
)

// gradeAnswers grades a full answer sheet against the quiz's questions.
// A question is correct iff the selected set exactly equals the correct set;
// there is no partial credit on multi-answer questions. Score is
// earned/total*100, two decimals, and 0 when the quiz carries no points.
func gradeAnswers(questions []catalog.Question, sheet AnswerSheet) (answers []Answer, score float64, correctCount int) {
	totalPoints := 0
	earnedPoints := 0
	answers = make([]Answer, 0, len(questions))

	for _, q := range questions {
		totalPoints += q.Points
		selected := sheet[q.ID]

		correct := sameSet(selected, q.CorrectOptions)
		earned := 0
		if correct {
			earned = q.Points
			earnedPoints += q.Points
			correctCount++
		}
		answers = append(answers, Answer{
			QuestionID:      q.ID,
			SelectedOptions: selected,
			IsCorrect:       correct,
			PointsEarned:    earned,
		})
	}

	if totalPoints > 0 {
		score = round2(float64(earnedPoints) / float64(totalPoints) * 100)
	}
	return answers, score, correctCount
}

// sameSet compares two option-index slices as sets: same size, same members,
// order-insensitive, duplicates collapsed.
func sameSet(a, b []int) bool {
	setA := make(map[int]bool, len(a))
	for _, v := range a {
		setA[v] = true
	}
	setB := make(map[int]bool, len(b))
	for _, v := range b {
		setB[v] = true
	}
	if len(setA) != len(setB) {
		return false
	}
	for v := range setA {
		if !setB[v] {
			return false
		}
	}
	return true
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
