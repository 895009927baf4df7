package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/acadexa/assessment-backend/internal/model"
)

// GradeRepository handles grade history data access. One grade record exists
// per session; creation races are settled by the unique constraint.
type GradeRepository struct {
	pool *pgxpool.Pool
}

// NewGradeRepository creates a new GradeRepository.
func NewGradeRepository(pool *pgxpool.Pool) *GradeRepository {
	return &GradeRepository{pool: pool}
}

// CreatePending inserts a PENDING grade record for the session, snapshotting
// its start and submission timestamps. Returns the stored record and whether
// this call created it.
func (r *GradeRepository) CreatePending(ctx context.Context, sess *model.ExamSession, method model.GradingMethod) (*model.GradeHistory, bool, error) {
	g := &model.GradeHistory{
		SessionID:     sess.ID,
		StudentID:     sess.StudentID,
		ExamID:        sess.ExamID,
		Status:        model.GradeStatusPending,
		GradingMethod: method,
		StartedAt:     sess.StartedAt,
		SubmittedAt:   sess.SubmittedAt,
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO grade_histories (session_id, student_id, exam_id, status, grading_method, started_at, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (session_id) DO NOTHING
		 RETURNING id, created_at`,
		sess.ID, sess.StudentID, sess.ExamID, g.Status, method, sess.StartedAt, sess.SubmittedAt,
	).Scan(&g.ID, &g.CreatedAt)
	if err == nil {
		return g, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	g, err = r.GetBySession(ctx, sess.ID)
	if err != nil {
		return nil, false, err
	}
	return g, false, nil
}

// MarkInProgress moves a PENDING grade to IN_PROGRESS. Returns false when
// the record is no longer pending (another worker claimed it).
func (r *GradeRepository) MarkInProgress(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE grade_histories SET status = $2
		 WHERE id = $1 AND status = $3`,
		id, model.GradeStatusInProgress, model.GradeStatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Complete stores the final scores and per-answer details.
func (r *GradeRepository) Complete(ctx context.Context, id uuid.UUID, totalScore, maxScore float64, details []model.AnswerGrade, at time.Time) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode grade details: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE grade_histories
		 SET status = $2, total_score = $3, max_score = $4, details = $5, graded_at = $6, error_message = ''
		 WHERE id = $1`,
		id, model.GradeStatusCompleted, totalScore, maxScore, detailsJSON, at)
	return err
}

// Fail marks the grade FAILED with a diagnostic message.
func (r *GradeRepository) Fail(ctx context.Context, id uuid.UUID, msg string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE grade_histories
		 SET status = $2, error_message = $3, graded_at = $4
		 WHERE id = $1`,
		id, model.GradeStatusFailed, msg, at)
	return err
}

const gradeColumns = `id, session_id, student_id, exam_id, status, grading_method,
	 started_at, submitted_at, total_score, max_score, details, error_message, created_at, graded_at`

func scanGrade(row interface{ Scan(...any) error }) (*model.GradeHistory, error) {
	g := &model.GradeHistory{}
	var detailsJSON []byte
	err := row.Scan(&g.ID, &g.SessionID, &g.StudentID, &g.ExamID, &g.Status, &g.GradingMethod,
		&g.StartedAt, &g.SubmittedAt, &g.TotalScore, &g.MaxScore, &detailsJSON, &g.ErrorMessage, &g.CreatedAt, &g.GradedAt)
	if err != nil {
		return nil, err
	}
	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &g.Details); err != nil {
			return nil, fmt.Errorf("decode grade details for %s: %w", g.ID, err)
		}
	}
	return g, nil
}

// GetByID retrieves a grade record by ID.
func (r *GradeRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.GradeHistory, error) {
	return scanGrade(r.pool.QueryRow(ctx,
		`SELECT `+gradeColumns+` FROM grade_histories WHERE id = $1`, id))
}

// GetBySession retrieves the grade record of one session.
func (r *GradeRepository) GetBySession(ctx context.Context, sessionID uuid.UUID) (*model.GradeHistory, error) {
	return scanGrade(r.pool.QueryRow(ctx,
		`SELECT `+gradeColumns+` FROM grade_histories WHERE session_id = $1`, sessionID))
}

// ListByStudent retrieves a student's grade summaries, newest first.
func (r *GradeRepository) ListByStudent(ctx context.Context, studentID int) ([]model.GradeSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT g.id, g.session_id, g.exam_id, e.title, g.status, g.grading_method,
		        g.total_score, g.max_score, g.created_at, g.graded_at
		 FROM grade_histories g
		 JOIN exams e ON e.id = g.exam_id
		 WHERE g.student_id = $1
		 ORDER BY g.created_at DESC`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grades []model.GradeSummary
	for rows.Next() {
		var g model.GradeSummary
		if err := rows.Scan(&g.ID, &g.SessionID, &g.ExamID, &g.ExamTitle, &g.Status, &g.GradingMethod,
			&g.TotalScore, &g.MaxScore, &g.CreatedAt, &g.GradedAt); err != nil {
			return nil, err
		}
		g.Percentage = model.ScorePercentage(g.TotalScore, g.MaxScore)
		grades = append(grades, g)
	}
	return grades, rows.Err()
}

// ListByExam retrieves every grade summary for an exam, for staff review.
func (r *GradeRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.GradeSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT g.id, g.session_id, g.exam_id, e.title, g.status, g.grading_method,
		        g.total_score, g.max_score, g.created_at, g.graded_at
		 FROM grade_histories g
		 JOIN exams e ON e.id = g.exam_id
		 WHERE g.exam_id = $1
		 ORDER BY g.created_at DESC`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grades []model.GradeSummary
	for rows.Next() {
		var g model.GradeSummary
		if err := rows.Scan(&g.ID, &g.SessionID, &g.ExamID, &g.ExamTitle, &g.Status, &g.GradingMethod,
			&g.TotalScore, &g.MaxScore, &g.CreatedAt, &g.GradedAt); err != nil {
			return nil, err
		}
		g.Percentage = model.ScorePercentage(g.TotalScore, g.MaxScore)
		grades = append(grades, g)
	}
	return grades, rows.Err()
}

// GetLatestForStudentExam returns the grade overlay for the student listing,
// or nil when the student has no grade for the exam.
func (r *GradeRepository) GetLatestForStudentExam(ctx context.Context, studentID int, examID uuid.UUID) (*model.GradeInfo, error) {
	var info model.GradeInfo
	err := r.pool.QueryRow(ctx,
		`SELECT g.id, g.status, g.total_score, g.max_score, g.graded_at, s.submitted_at
		 FROM grade_histories g
		 JOIN exam_sessions s ON s.id = g.session_id
		 WHERE g.student_id = $1 AND g.exam_id = $2
		 ORDER BY g.created_at DESC
		 LIMIT 1`, studentID, examID,
	).Scan(&info.GradeID, &info.Status, &info.TotalScore, &info.MaxScore, &info.GradedAt, &info.SubmittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	info.Percentage = model.ScorePercentage(info.TotalScore, info.MaxScore)
	return &info, nil
}
