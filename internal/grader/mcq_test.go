package grader

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/acadexa/assessment-backend/internal/model"
)

func mcqQuestion(expected string, multi bool, points int) *model.Question {
	return &model.Question{
		QuestionText:   "Pick the right options",
		QuestionType:   model.QuestionTypeMultipleChoice,
		ExpectedAnswer: expected,
		AllowMultiple:  multi,
		Points:         points,
	}
}

func TestGradeMultipleChoiceSingleSelect(t *testing.T) {
	q := mcqQuestion("opt1", false, 10)

	res := GradeMultipleChoice(q, "opt1")
	assert.Equal(t, 10.0, res.Score)
	assert.Equal(t, 10.0, res.MaxScore)
	assert.Equal(t, "Correct answer selected.", res.Feedback)

	res = GradeMultipleChoice(q, "opt2")
	assert.Equal(t, 0.0, res.Score)
	assert.Equal(t, "Incorrect answer selected.", res.Feedback)
}

func TestGradeMultipleChoiceMultiSelect(t *testing.T) {
	q := mcqQuestion(`["a","b","c"]`, true, 10)

	tests := []struct {
		name     string
		answer   string
		score    float64
		feedback string
	}{
		{"all correct", `["a","b","c"]`, 10.0, "All correct answers selected."},
		{"two of three", `["a","b"]`, 6.67, "2 out of 3 correct answers selected."},
		{"one correct one wrong cancels out", `["a","d"]`, 0.0, "1 out of 3 correct answers selected."},
		{"all wrong", `["d","e"]`, 0.0, "Incorrect answer(s) selected."},
		{"wrong outnumber correct floors at zero", `["a","d","e","f"]`, 0.0, "1 out of 3 correct answers selected."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := GradeMultipleChoice(q, tt.answer)
			assert.Equal(t, tt.score, res.Score)
			assert.Equal(t, 10.0, res.MaxScore)
			assert.Equal(t, tt.feedback, res.Feedback)
		})
	}
}

func TestGradeMultipleChoiceDuplicateSelectionsCountOnce(t *testing.T) {
	q := mcqQuestion(`["a","b"]`, true, 10)

	res := GradeMultipleChoice(q, `["a","a","b"]`)
	assert.Equal(t, 10.0, res.Score)
	assert.Equal(t, "All correct answers selected.", res.Feedback)
}

func TestGradeMultipleChoiceNoAnswerKey(t *testing.T) {
	q := mcqQuestion(`[]`, true, 5)

	res := GradeMultipleChoice(q, `["a"]`)
	assert.Equal(t, 0.0, res.Score)
	assert.Equal(t, "No correct answer defined.", res.Feedback)
}

func TestGradeMultipleChoiceMalformedMultiAnswer(t *testing.T) {
	// Non-JSON input to a multi-select question degrades to a single value.
	q := mcqQuestion(`["a"]`, true, 10)

	res := GradeMultipleChoice(q, "a")
	assert.Equal(t, 10.0, res.Score)
	assert.Equal(t, "All correct answers selected.", res.Feedback)
}
