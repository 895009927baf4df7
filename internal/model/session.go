package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionType records how a session was closed.
type SubmissionType string

const (
	SubmissionManual      SubmissionType = "MANUAL"
	SubmissionAutoExpired SubmissionType = "AUTO_EXPIRED"
)

// ExamSession is a single attempt by one student at one exam. At most one
// session exists per (student, exam); completion is terminal.
type ExamSession struct {
	ID                   uuid.UUID       `json:"id"`
	StudentID            int             `json:"student_id"`
	ExamID               uuid.UUID       `json:"exam_id"`
	StartedAt            time.Time       `json:"started_at"`
	ExpiresAt            time.Time       `json:"expires_at"`
	IsCompleted          bool            `json:"is_completed"`
	SubmittedAt          *time.Time      `json:"submitted_at,omitempty"`
	SubmissionType       *SubmissionType `json:"submission_type,omitempty"`
	CurrentQuestionOrder int             `json:"current_question_order"`
}

// IsExpired reports whether the deadline has been reached at the given
// instant. The deadline itself counts as expired, matching the timer that
// fires exactly at ExpiresAt.
func (s *ExamSession) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// IsActive reports whether the session accepts answers at the given instant.
func (s *ExamSession) IsActive(now time.Time) bool {
	return !s.IsCompleted && !s.IsExpired(now)
}

// TimeRemainingSeconds returns whole seconds until expiry, floored at zero.
func (s *ExamSession) TimeRemainingSeconds(now time.Time) int {
	if s.IsExpired(now) {
		return 0
	}
	return int(s.ExpiresAt.Sub(now).Seconds())
}

// SessionToken is one entry in a session's rolling token history. At most
// one token per session is valid at any instant; issuing a new one
// invalidates the rest atomically.
type SessionToken struct {
	ID            uuid.UUID  `json:"id"`
	SessionID     uuid.UUID  `json:"session_id"`
	Token         string     `json:"token"`
	IsValid       bool       `json:"is_valid"`
	CreatedAt     time.Time  `json:"created_at"`
	InvalidatedAt *time.Time `json:"invalidated_at,omitempty"`
}

// StudentAnswer is the latest answer a student saved for one question.
// Unique on (session, question); answers are upserted incrementally.
type StudentAnswer struct {
	ID         uuid.UUID `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	QuestionID uuid.UUID `json:"question_id"`
	AnswerText string    `json:"answer_text"`
	AnsweredAt time.Time `json:"answered_at"`
}

// Progress is a cheap snapshot of a session's answering state.
type Progress struct {
	Total                int   `json:"total_questions"`
	Answered             int   `json:"answered_count"`
	AnsweredOrders       []int `json:"answered_orders"`
	CurrentOrder         int   `json:"current_question_order"`
	TimeRemainingSeconds int   `json:"time_remaining_seconds"`
	IsExpired            bool  `json:"is_expired"`
}

// SubmitAnswerRequest is the payload for saving one answer.
type SubmitAnswerRequest struct {
	AnswerText string `json:"answer_text" binding:"required"`
}

// SessionWithToken is returned from start/resume: the session plus the
// freshly minted rolling token.
type SessionWithToken struct {
	ExamSession
	Token string `json:"token"`
}
