package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/acadexa/assessment-backend/internal/model"
)

// QuestionRepository handles question data access. Options are stored as
// JSONB; question order is a contiguous 1-indexed sequence per exam.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// GetByID retrieves a question by ID.
func (r *QuestionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Question, error) {
	q := &model.Question{}
	var optionsJSON []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, question_text, question_type, expected_answer, options, allow_multiple, points, "order"
		 FROM questions
		 WHERE id = $1`, id,
	).Scan(&q.ID, &q.ExamID, &q.QuestionText, &q.QuestionType, &q.ExpectedAnswer, &optionsJSON, &q.AllowMultiple, &q.Points, &q.Order)
	if err != nil {
		return nil, err
	}
	if err := decodeOptions(optionsJSON, q); err != nil {
		return nil, err
	}
	return q, nil
}

// GetByExamAndOrder retrieves the question at a given position within an exam.
func (r *QuestionRepository) GetByExamAndOrder(ctx context.Context, examID uuid.UUID, order int) (*model.Question, error) {
	q := &model.Question{}
	var optionsJSON []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, question_text, question_type, expected_answer, options, allow_multiple, points, "order"
		 FROM questions
		 WHERE exam_id = $1 AND "order" = $2`, examID, order,
	).Scan(&q.ID, &q.ExamID, &q.QuestionText, &q.QuestionType, &q.ExpectedAnswer, &optionsJSON, &q.AllowMultiple, &q.Points, &q.Order)
	if err != nil {
		return nil, err
	}
	if err := decodeOptions(optionsJSON, q); err != nil {
		return nil, err
	}
	return q, nil
}

// ListByExam retrieves all questions of an exam in order.
func (r *QuestionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, question_text, question_type, expected_answer, options, allow_multiple, points, "order"
		 FROM questions
		 WHERE exam_id = $1
		 ORDER BY "order" ASC`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		var optionsJSON []byte
		if err := rows.Scan(&q.ID, &q.ExamID, &q.QuestionText, &q.QuestionType, &q.ExpectedAnswer, &optionsJSON, &q.AllowMultiple, &q.Points, &q.Order); err != nil {
			return nil, err
		}
		if err := decodeOptions(optionsJSON, &q); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// CountByExam returns the number of questions in an exam.
func (r *QuestionRepository) CountByExam(ctx context.Context, examID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM questions WHERE exam_id = $1`, examID,
	).Scan(&count)
	return count, err
}

// Insert adds a question at q.Order, shifting later questions up by one.
// Zero order appends at the end. Runs in a transaction so the sequence
// stays contiguous.
func (r *QuestionRepository) Insert(ctx context.Context, q *model.Question) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var count int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM questions WHERE exam_id = $1`, q.ExamID,
	).Scan(&count); err != nil {
		return err
	}

	if q.Order <= 0 || q.Order > count {
		q.Order = count + 1
	} else {
		if _, err := tx.Exec(ctx,
			`UPDATE questions SET "order" = "order" + 1 WHERE exam_id = $1 AND "order" >= $2`,
			q.ExamID, q.Order); err != nil {
			return err
		}
	}

	optionsJSON, err := json.Marshal(q.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}

	if err := tx.QueryRow(ctx,
		`INSERT INTO questions (exam_id, question_text, question_type, expected_answer, options, allow_multiple, points, "order")
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		q.ExamID, q.QuestionText, q.QuestionType, q.ExpectedAnswer, optionsJSON, q.AllowMultiple, q.Points, q.Order,
	).Scan(&q.ID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Update modifies a question's content in place. Order changes go through
// Delete + Insert so the sequence stays contiguous.
func (r *QuestionRepository) Update(ctx context.Context, q *model.Question) error {
	optionsJSON, err := json.Marshal(q.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE questions
		 SET question_text = $2, question_type = $3, expected_answer = $4,
		     options = $5, allow_multiple = $6, points = $7
		 WHERE id = $1`,
		q.ID, q.QuestionText, q.QuestionType, q.ExpectedAnswer, optionsJSON, q.AllowMultiple, q.Points)
	return err
}

// Delete removes a question and renumbers later questions down by one,
// keeping the exam's order sequence contiguous.
func (r *QuestionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var examID uuid.UUID
	var order int
	if err := tx.QueryRow(ctx,
		`DELETE FROM questions WHERE id = $1 RETURNING exam_id, "order"`, id,
	).Scan(&examID, &order); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE questions SET "order" = "order" - 1 WHERE exam_id = $1 AND "order" > $2`,
		examID, order); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func decodeOptions(raw []byte, q *model.Question) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &q.Options); err != nil {
		return fmt.Errorf("decode options for question %s: %w", q.ID, err)
	}
	return nil
}
