package model

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// GradeStatus tracks the grading pipeline state for one submission.
type GradeStatus string

const (
	GradeStatusPending    GradeStatus = "PENDING"
	GradeStatusInProgress GradeStatus = "IN_PROGRESS"
	GradeStatusCompleted  GradeStatus = "COMPLETED"
	GradeStatusFailed     GradeStatus = "FAILED"
)

// GradingMethod records what triggered grading.
type GradingMethod string

const (
	GradingMethodManual  GradingMethod = "manual"
	GradingMethodTimeout GradingMethod = "timeout"
)

// AnswerGrade is the per-question grading result stored inside a
// GradeHistory's details payload. The question is snapshotted so the record
// stays meaningful if the exam is edited later.
type AnswerGrade struct {
	QuestionID     uuid.UUID    `json:"question_id"`
	QuestionOrder  int          `json:"question_order"`
	QuestionType   QuestionType `json:"question_type"`
	QuestionText   string       `json:"question_text"`
	ExpectedAnswer string       `json:"expected_answer"`
	Options        []Option     `json:"options,omitempty"`
	AnswerText     string       `json:"answer_text"`
	Score          float64      `json:"score"`
	MaxScore       float64      `json:"max_score"`
	Feedback       string       `json:"feedback"`
}

// GradeHistory is the grading record for one completed session. Unique per
// session; its status moves PENDING -> IN_PROGRESS -> COMPLETED or FAILED.
// StartedAt and SubmittedAt are copied from the session at creation so the
// record stands on its own as an audit trail.
type GradeHistory struct {
	ID            uuid.UUID     `json:"id"`
	SessionID     uuid.UUID     `json:"session_id"`
	StudentID     int           `json:"student_id"`
	ExamID        uuid.UUID     `json:"exam_id"`
	Status        GradeStatus   `json:"status"`
	GradingMethod GradingMethod `json:"grading_method"`
	StartedAt     time.Time     `json:"started_at"`
	SubmittedAt   *time.Time    `json:"submitted_at,omitempty"`
	TotalScore    float64       `json:"total_score"`
	MaxScore      float64       `json:"max_score"`
	Details       []AnswerGrade `json:"details,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	GradedAt      *time.Time    `json:"graded_at,omitempty"`
}

// Percentage returns the score as a 0-100 percentage rounded to 2 decimals,
// 0 when MaxScore is 0.
func (g *GradeHistory) Percentage() float64 {
	return ScorePercentage(g.TotalScore, g.MaxScore)
}

// ScorePercentage computes total/max as a percentage rounded to 2 decimals.
func ScorePercentage(total, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return math.Round(total/max*100*100) / 100
}

// GradeSummary is the list view of a grade for students and reviewers.
type GradeSummary struct {
	ID            uuid.UUID     `json:"id"`
	SessionID     uuid.UUID     `json:"session_id"`
	ExamID        uuid.UUID     `json:"exam_id"`
	ExamTitle     string        `json:"exam_title"`
	Status        GradeStatus   `json:"status"`
	GradingMethod GradingMethod `json:"grading_method"`
	TotalScore    float64       `json:"total_score"`
	MaxScore      float64       `json:"max_score"`
	Percentage    float64       `json:"percentage"`
	CreatedAt     time.Time     `json:"created_at"`
	GradedAt      *time.Time    `json:"graded_at,omitempty"`
}
