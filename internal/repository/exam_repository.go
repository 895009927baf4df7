package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/acadexa/assessment-backend/internal/model"
)

// ExamRepository handles exam data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves an exam by ID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, description, course, duration_minutes, is_active, created_at, updated_at
		 FROM exams
		 WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.Description, &e.Course, &e.DurationMinutes, &e.IsActive, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Create inserts a new exam.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (title, description, course, duration_minutes, is_active)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		e.Title, e.Description, e.Course, e.DurationMinutes, e.IsActive,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// Update modifies an existing exam's metadata.
func (r *ExamRepository) Update(ctx context.Context, e *model.Exam) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exams
		 SET title = $1, description = $2, course = $3, duration_minutes = $4,
		     is_active = $5, updated_at = NOW()
		 WHERE id = $6`,
		e.Title, e.Description, e.Course, e.DurationMinutes, e.IsActive, e.ID)
	return err
}

// Delete removes an exam. Fails with a foreign key error if sessions exist.
func (r *ExamRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM exams WHERE id = $1`, id)
	return err
}

// ListAll retrieves all exams, newest first. Used by the admin listing.
func (r *ExamRepository) ListAll(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, description, course, duration_minutes, is_active, created_at, updated_at
		 FROM exams
		 ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.Course, &e.DurationMinutes, &e.IsActive, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// ListActive retrieves active exams with their question counts.
// Used by the student exam listing.
func (r *ExamRepository) ListActive(ctx context.Context) ([]model.ExamForStudent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT e.id, e.title, e.description, e.course, e.duration_minutes, e.is_active,
		        e.created_at, e.updated_at,
		        (SELECT COUNT(*) FROM questions q WHERE q.exam_id = e.id) AS question_count
		 FROM exams e
		 WHERE e.is_active = TRUE
		 ORDER BY e.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.ExamForStudent
	for rows.Next() {
		var e model.ExamForStudent
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.Course, &e.DurationMinutes, &e.IsActive,
			&e.CreatedAt, &e.UpdatedAt, &e.QuestionCount); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// HasSubmissions reports whether any session or grade exists for the exam.
// Exams with submissions are locked against structural changes.
func (r *ExamRepository) HasSubmissions(ctx context.Context, examID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM exam_sessions WHERE exam_id = $1)`, examID,
	).Scan(&exists)
	return exists, err
}
