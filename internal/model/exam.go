package model

import (
	"time"

	"github.com/google/uuid"
)

// Exam represents a timed assessment. An exam becomes immutable once any
// session or grade exists for it.
type Exam struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Course          string    `json:"course"`
	DurationMinutes int       `json:"duration_minutes"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CreateExamRequest is the payload for creating a new exam.
type CreateExamRequest struct {
	Title           string `json:"title" binding:"required,min=3,max=200"`
	Description     string `json:"description" binding:"omitempty,max=2000"`
	Course          string `json:"course" binding:"required,min=1,max=100"`
	DurationMinutes int    `json:"duration_minutes" binding:"required,min=1,max=480"`
}

// UpdateExamRequest is the payload for updating an existing exam.
type UpdateExamRequest struct {
	Title           string `json:"title" binding:"omitempty,min=3,max=200"`
	Description     string `json:"description" binding:"omitempty,max=2000"`
	Course          string `json:"course" binding:"omitempty,min=1,max=100"`
	DurationMinutes int    `json:"duration_minutes" binding:"omitempty,min=1,max=480"`
}

// ExamForStudent is an exam as shown in the student listing, with the
// student's active-session and grade overlays when present.
type ExamForStudent struct {
	Exam
	QuestionCount int                `json:"question_count"`
	ActiveSession *ActiveSessionInfo `json:"active_session,omitempty"`
	GradeInfo     *GradeInfo         `json:"grade_info,omitempty"`
}

// ActiveSessionInfo summarizes a running session for the exam listing.
// The rolling token is deliberately absent; it is only issued on start.
type ActiveSessionInfo struct {
	SessionID            uuid.UUID `json:"session_id"`
	TimeRemainingSeconds int       `json:"time_remaining_seconds"`
	StartedAt            time.Time `json:"started_at"`
	ExpiresAt            time.Time `json:"expires_at"`
	AnsweredCount        int       `json:"answered_count"`
	TotalQuestions       int       `json:"total_questions"`
}

// GradeInfo summarizes the latest completed grade for the exam listing.
type GradeInfo struct {
	GradeID     uuid.UUID   `json:"grade_id"`
	Status      GradeStatus `json:"status"`
	TotalScore  float64     `json:"total_score"`
	MaxScore    float64     `json:"max_score"`
	Percentage  float64     `json:"percentage"`
	GradedAt    *time.Time  `json:"graded_at,omitempty"`
	SubmittedAt *time.Time  `json:"submitted_at,omitempty"`
}
