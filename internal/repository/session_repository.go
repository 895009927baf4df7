package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/acadexa/assessment-backend/internal/model"
)

// SessionRepository handles exam session, rolling token and answer data
// access. Token rotation and completion are transactional so that the
// single-valid-token and complete-once invariants hold under concurrency.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionColumns = `id, student_id, exam_id, started_at, expires_at,
	 is_completed, submitted_at, submission_type, current_question_order`

func scanSession(row interface{ Scan(...any) error }) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	err := row.Scan(&s.ID, &s.StudentID, &s.ExamID, &s.StartedAt, &s.ExpiresAt,
		&s.IsCompleted, &s.SubmittedAt, &s.SubmissionType, &s.CurrentQuestionOrder)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetByID retrieves a session by ID.
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1`, id))
}

// GetByExamAndStudent retrieves the session for an exam-student pair.
func (r *SessionRepository) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID))
}

// CreateIfAbsent inserts a session unless one already exists for the pair.
// Returns the stored session and whether this call created it. Concurrent
// starts race on the unique constraint; the loser re-reads the winner's row.
func (r *SessionRepository) CreateIfAbsent(ctx context.Context, studentID int, examID uuid.UUID, startedAt, expiresAt time.Time) (*model.ExamSession, bool, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`INSERT INTO exam_sessions (student_id, exam_id, started_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (student_id, exam_id) DO NOTHING
		 RETURNING `+sessionColumns,
		studentID, examID, startedAt, expiresAt))
	if err == nil {
		return s, true, nil
	}

	s, err = r.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		return nil, false, err
	}
	return s, false, nil
}

// RotateToken atomically invalidates every valid token of the session and
// records a new valid one. Returns the stored token row and the token
// strings just invalidated so the caller can notify their subscribers.
// After commit exactly one token is valid.
func (r *SessionRepository) RotateToken(ctx context.Context, sessionID uuid.UUID, newToken string, at time.Time) (*model.SessionToken, []string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	invalidated, err := invalidateTokensTx(ctx, tx, sessionID, at)
	if err != nil {
		return nil, nil, err
	}

	tok := &model.SessionToken{}
	if err := tx.QueryRow(ctx,
		`INSERT INTO session_tokens (session_id, token, is_valid, created_at)
		 VALUES ($1, $2, TRUE, $3)
		 RETURNING id, session_id, token, is_valid, created_at, invalidated_at`,
		sessionID, newToken, at,
	).Scan(&tok.ID, &tok.SessionID, &tok.Token, &tok.IsValid, &tok.CreatedAt, &tok.InvalidatedAt); err != nil {
		return nil, nil, err
	}

	return tok, invalidated, tx.Commit(ctx)
}

func invalidateTokensTx(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, at time.Time) ([]string, error) {
	rows, err := tx.Query(ctx,
		`UPDATE session_tokens SET is_valid = FALSE, invalidated_at = $2
		 WHERE session_id = $1 AND is_valid
		 RETURNING token`, sessionID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// FindByValidToken resolves a session through its currently valid token.
// Returns pgx.ErrNoRows for unknown and invalidated tokens alike.
func (r *SessionRepository) FindByValidToken(ctx context.Context, tok string) (*model.ExamSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT s.id, s.student_id, s.exam_id, s.started_at, s.expires_at,
		        s.is_completed, s.submitted_at, s.submission_type, s.current_question_order
		 FROM exam_sessions s
		 JOIN session_tokens t ON t.session_id = s.id
		 WHERE t.token = $1 AND t.is_valid`, tok))
}

// ValidTokens returns the session's currently valid token strings.
func (r *SessionRepository) ValidTokens(ctx context.Context, sessionID uuid.UUID) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT token FROM session_tokens WHERE session_id = $1 AND is_valid`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// MarkCompletedIfNotAlready flips the session to completed exactly once and
// invalidates its tokens in the same transaction. Returns false when the
// session was already completed (a concurrent submit won), along with the
// token strings invalidated by this call.
func (r *SessionRepository) MarkCompletedIfNotAlready(ctx context.Context, sessionID uuid.UUID, at time.Time, subType model.SubmissionType) (bool, []string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE exam_sessions
		 SET is_completed = TRUE, submitted_at = $2, submission_type = $3
		 WHERE id = $1 AND is_completed = FALSE`,
		sessionID, at, subType)
	if err != nil {
		return false, nil, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil, nil
	}

	invalidated, err := invalidateTokensTx(ctx, tx, sessionID, at)
	if err != nil {
		return false, nil, err
	}

	return true, invalidated, tx.Commit(ctx)
}

// UpdateCurrentOrder persists the navigation position.
func (r *SessionRepository) UpdateCurrentOrder(ctx context.Context, sessionID uuid.UUID, order int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions SET current_question_order = $2 WHERE id = $1`,
		sessionID, order)
	return err
}

// UpsertAnswer saves or overwrites the student's answer to one question.
func (r *SessionRepository) UpsertAnswer(ctx context.Context, a *model.StudentAnswer) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO student_answers (session_id, question_id, answer_text, answered_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id, question_id)
		 DO UPDATE SET answer_text = EXCLUDED.answer_text, answered_at = EXCLUDED.answered_at
		 RETURNING id`,
		a.SessionID, a.QuestionID, a.AnswerText, a.AnsweredAt,
	).Scan(&a.ID)
}

// GetAnswer retrieves the session's saved answer for one question.
func (r *SessionRepository) GetAnswer(ctx context.Context, sessionID, questionID uuid.UUID) (*model.StudentAnswer, error) {
	a := &model.StudentAnswer{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, session_id, question_id, answer_text, answered_at
		 FROM student_answers
		 WHERE session_id = $1 AND question_id = $2`, sessionID, questionID,
	).Scan(&a.ID, &a.SessionID, &a.QuestionID, &a.AnswerText, &a.AnsweredAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAnswers retrieves the session's saved answers keyed by question.
func (r *SessionRepository) ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.StudentAnswer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, question_id, answer_text, answered_at
		 FROM student_answers
		 WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.StudentAnswer
	for rows.Next() {
		var a model.StudentAnswer
		if err := rows.Scan(&a.ID, &a.SessionID, &a.QuestionID, &a.AnswerText, &a.AnsweredAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// AnsweredOrders returns the order numbers of questions the session has
// answered, ascending.
func (r *SessionRepository) AnsweredOrders(ctx context.Context, sessionID uuid.UUID) ([]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT q."order"
		 FROM student_answers a
		 JOIN questions q ON q.id = a.question_id
		 WHERE a.session_id = $1
		 ORDER BY q."order" ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []int
	for rows.Next() {
		var o int
		if err := rows.Scan(&o); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// CountAnswers returns how many answers the session has saved.
func (r *SessionRepository) CountAnswers(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM student_answers WHERE session_id = $1`, sessionID,
	).Scan(&count)
	return count, err
}

// ListExpiredUncompleted finds sessions past their deadline that were never
// submitted. The sweeper auto-submits these as a safety net for missed timers.
func (r *SessionRepository) ListExpiredUncompleted(ctx context.Context, now time.Time) ([]model.ExamSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM exam_sessions
		 WHERE is_completed = FALSE AND expires_at <= $1
		 ORDER BY expires_at ASC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.ExamSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}
