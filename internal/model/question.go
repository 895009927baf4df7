package model

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// QuestionType enumerates supported question kinds.
type QuestionType string

const (
	QuestionTypeShortAnswer    QuestionType = "SHORT_ANSWER"
	QuestionTypeEssay          QuestionType = "ESSAY"
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
)

// Option is a single multiple-choice option. Label is shown to the student;
// Value is what gets recorded and graded.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Question represents a single exam question. Questions within an exam form
// a contiguous 1-indexed sequence by Order.
type Question struct {
	ID           uuid.UUID    `json:"id"`
	ExamID       uuid.UUID    `json:"exam_id"`
	QuestionText string       `json:"question_text"`
	QuestionType QuestionType `json:"question_type"`
	// ExpectedAnswer holds the answer key. For multi-select MCQ it is a JSON
	// array of option values; otherwise a plain string.
	ExpectedAnswer string   `json:"expected_answer,omitempty"`
	Options        []Option `json:"options,omitempty"`
	AllowMultiple  bool     `json:"allow_multiple"`
	Points         int      `json:"points"`
	Order          int      `json:"order"`
}

// OptionValues returns the list of valid option values for MCQ questions.
func (q *Question) OptionValues() []string {
	if q.QuestionType != QuestionTypeMultipleChoice {
		return nil
	}
	values := make([]string, len(q.Options))
	for i, opt := range q.Options {
		values[i] = opt.Value
	}
	return values
}

// ExpectedValues decodes ExpectedAnswer into a list of values. A JSON array
// decodes element-wise; anything else is a singleton.
func (q *Question) ExpectedValues() []string {
	var values []string
	if err := json.Unmarshal([]byte(q.ExpectedAnswer), &values); err == nil {
		return values
	}
	return []string{q.ExpectedAnswer}
}

// Validate checks structural invariants before a question is stored.
func (q *Question) Validate() error {
	if q.Points < 1 {
		return fmt.Errorf("points must be at least 1")
	}
	if q.AllowMultiple && q.QuestionType != QuestionTypeMultipleChoice {
		return fmt.Errorf("allow_multiple is only valid for multiple-choice questions")
	}
	if q.QuestionType != QuestionTypeMultipleChoice {
		return nil
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("multiple-choice questions need at least 2 options")
	}
	valueSet := make(map[string]struct{}, len(q.Options))
	for i, opt := range q.Options {
		if opt.Label == "" || opt.Value == "" {
			return fmt.Errorf("option %d must have both label and value", i)
		}
		valueSet[opt.Value] = struct{}{}
	}
	expected := q.ExpectedValues()
	if !q.AllowMultiple && len(expected) > 1 {
		return fmt.Errorf("single-select question must have a single expected answer")
	}
	for _, e := range expected {
		if _, ok := valueSet[e]; !ok {
			return fmt.Errorf("expected answer %q is not an option value", e)
		}
	}
	return nil
}

// QuestionForStudent is a question stripped of its answer key.
type QuestionForStudent struct {
	ID            uuid.UUID    `json:"id"`
	QuestionText  string       `json:"question_text"`
	QuestionType  QuestionType `json:"question_type"`
	Options       []Option     `json:"options,omitempty"`
	AllowMultiple bool         `json:"allow_multiple"`
	Points        int          `json:"points"`
	Order         int          `json:"order"`
}

// ForStudent returns the answer-key-free view of the question.
func (q *Question) ForStudent() QuestionForStudent {
	return QuestionForStudent{
		ID:            q.ID,
		QuestionText:  q.QuestionText,
		QuestionType:  q.QuestionType,
		Options:       q.Options,
		AllowMultiple: q.AllowMultiple,
		Points:        q.Points,
		Order:         q.Order,
	}
}

// AddQuestionRequest is the payload for adding a question to an exam.
type AddQuestionRequest struct {
	QuestionText   string   `json:"question_text" binding:"required,min=1,max=4000"`
	QuestionType   string   `json:"question_type" binding:"required,oneof=SHORT_ANSWER ESSAY MULTIPLE_CHOICE"`
	ExpectedAnswer string   `json:"expected_answer" binding:"required,max=4000"`
	Options        []Option `json:"options" binding:"omitempty,dive"`
	AllowMultiple  bool     `json:"allow_multiple"`
	Points         int      `json:"points" binding:"required,min=1"`
	// Order is optional; zero appends at the end of the sequence.
	Order int `json:"order" binding:"omitempty,min=1"`
}
