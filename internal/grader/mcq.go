package grader

import (
	"encoding/json"
	"fmt"

	"github.com/acadexa/assessment-backend/internal/model"
)

// GradeMultipleChoice scores a multiple-choice answer. Single-select is
// all-or-nothing. Multi-select awards points proportionally to correct
// selections and deducts proportionally for wrong ones, floored at zero.
func GradeMultipleChoice(q *model.Question, answerText string) Result {
	maxScore := float64(q.Points)

	selected := parseSelections(answerText, q.AllowMultiple)
	expected := parseSelections(q.ExpectedAnswer, q.AllowMultiple)

	selectedSet := toSet(selected)
	expectedSet := toSet(expected)

	if !q.AllowMultiple {
		if setsEqual(selectedSet, expectedSet) {
			return Result{Score: maxScore, MaxScore: maxScore, Feedback: "Correct answer selected."}
		}
		return Result{Score: 0, MaxScore: maxScore, Feedback: "Incorrect answer selected."}
	}

	totalExpected := len(expectedSet)
	if totalExpected == 0 {
		return Result{Score: 0, MaxScore: maxScore, Feedback: "No correct answer defined."}
	}

	correctSelected := 0
	incorrectSelected := 0
	for v := range selectedSet {
		if _, ok := expectedSet[v]; ok {
			correctSelected++
		} else {
			incorrectSelected++
		}
	}

	score := float64(correctSelected) / float64(totalExpected) * maxScore
	score -= float64(incorrectSelected) / float64(totalExpected) * maxScore
	if score < 0 {
		score = 0
	}
	score = round2(score)

	var feedback string
	switch {
	case score == maxScore:
		feedback = "All correct answers selected."
	case correctSelected > 0:
		feedback = fmt.Sprintf("%d out of %d correct answers selected.", correctSelected, totalExpected)
	default:
		feedback = "Incorrect answer(s) selected."
	}

	return Result{Score: score, MaxScore: maxScore, Feedback: feedback}
}

// parseSelections decodes a raw answer value into option values. Multi-select
// answers are JSON arrays; anything undecodable is treated as a single value.
func parseSelections(raw string, multi bool) []string {
	if !multi {
		return []string{raw}
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return []string{raw}
	}
	return values
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func setsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for v := range a {
		if _, ok := b[v]; !ok {
			return false
		}
	}
	return true
}
