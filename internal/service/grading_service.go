package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/acadexa/assessment-backend/internal/clock"
	"github.com/acadexa/assessment-backend/internal/grader"
	"github.com/acadexa/assessment-backend/internal/model"
)

// ErrGradeNotFound is returned when no grade record exists.
var ErrGradeNotFound = errors.New("grade not found")

// GradeStore is the persistence surface for grade records.
type GradeStore interface {
	CreatePending(ctx context.Context, sess *model.ExamSession, method model.GradingMethod) (*model.GradeHistory, bool, error)
	MarkInProgress(ctx context.Context, id uuid.UUID) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, totalScore, maxScore float64, details []model.AnswerGrade, at time.Time) error
	Fail(ctx context.Context, id uuid.UUID, msg string, at time.Time) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.GradeHistory, error)
	GetBySession(ctx context.Context, sessionID uuid.UUID) (*model.GradeHistory, error)
	ListByStudent(ctx context.Context, studentID int) ([]model.GradeSummary, error)
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.GradeSummary, error)
}

// AnswerGrader scores one answer against its question.
type AnswerGrader interface {
	GradeAnswer(ctx context.Context, q *model.Question, answerText string) grader.Result
}

// AnswerStore is the read surface grading needs from the session store.
type AnswerStore interface {
	ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.StudentAnswer, error)
}

// GradingService owns grade records and runs the grading pipeline over a
// completed session's answers.
type GradingService struct {
	grades    GradeStore
	answers   AnswerStore
	questions QuestionStore
	engine    AnswerGrader
	clk       clock.Clock
	log       zerolog.Logger
}

// NewGradingService creates a new GradingService.
func NewGradingService(
	grades GradeStore,
	answers AnswerStore,
	questions QuestionStore,
	engine AnswerGrader,
	clk clock.Clock,
	log zerolog.Logger,
) *GradingService {
	return &GradingService{
		grades:    grades,
		answers:   answers,
		questions: questions,
		engine:    engine,
		clk:       clk,
		log:       log.With().Str("component", "grading").Logger(),
	}
}

// CreateRecord creates the PENDING grade record for a freshly completed
// session, snapshotting its timestamps. When a record already exists the
// stored one is returned.
func (g *GradingService) CreateRecord(ctx context.Context, sess *model.ExamSession, method model.GradingMethod) (*model.GradeHistory, error) {
	grade, created, err := g.grades.CreatePending(ctx, sess, method)
	if err != nil {
		return nil, fmt.Errorf("create grade record: %w", err)
	}
	if !created {
		g.log.Debug().
			Str("session_id", sess.ID.String()).
			Str("grade_id", grade.ID.String()).
			Msg("grade record already exists")
	}
	return grade, nil
}

// GradeRecord runs the pipeline for one grade record: claim it, score every
// question in order, store the totals. A record that cannot be claimed
// belongs to another worker and is skipped. Failures mark the record FAILED;
// the session stays completed either way.
func (g *GradingService) GradeRecord(ctx context.Context, grade *model.GradeHistory) error {
	claimed, err := g.grades.MarkInProgress(ctx, grade.ID)
	if err != nil {
		return fmt.Errorf("claim grade record: %w", err)
	}
	if !claimed {
		return nil
	}

	totalScore, maxScore, details, err := g.scoreSession(ctx, grade.SessionID, grade.ExamID)
	if err != nil {
		if failErr := g.grades.Fail(ctx, grade.ID, err.Error(), g.clk.Now()); failErr != nil {
			g.log.Error().Err(failErr).Str("grade_id", grade.ID.String()).Msg("mark grade failed")
		}
		return err
	}

	if err := g.grades.Complete(ctx, grade.ID, totalScore, maxScore, details, g.clk.Now()); err != nil {
		return fmt.Errorf("store grade result: %w", err)
	}

	g.log.Info().
		Str("grade_id", grade.ID.String()).
		Str("session_id", grade.SessionID.String()).
		Float64("total_score", totalScore).
		Float64("max_score", maxScore).
		Msg("grading completed")
	return nil
}

// scoreSession grades every question of the exam in order. Unanswered
// questions score zero but still appear in the details, so the record always
// covers the full exam.
func (g *GradingService) scoreSession(ctx context.Context, sessionID, examID uuid.UUID) (float64, float64, []model.AnswerGrade, error) {
	questions, err := g.questions.ListByExam(ctx, examID)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("load questions: %w", err)
	}
	answers, err := g.answers.ListAnswers(ctx, sessionID)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("load answers: %w", err)
	}

	answerByQuestion := make(map[uuid.UUID]string, len(answers))
	for _, a := range answers {
		answerByQuestion[a.QuestionID] = a.AnswerText
	}

	var totalScore, maxScore float64
	details := make([]model.AnswerGrade, 0, len(questions))
	for i := range questions {
		q := &questions[i]
		answerText := answerByQuestion[q.ID]

		res := g.engine.GradeAnswer(ctx, q, answerText)
		totalScore += res.Score
		maxScore += float64(q.Points)

		details = append(details, model.AnswerGrade{
			QuestionID:     q.ID,
			QuestionOrder:  q.Order,
			QuestionType:   q.QuestionType,
			QuestionText:   q.QuestionText,
			ExpectedAnswer: q.ExpectedAnswer,
			Options:        q.Options,
			AnswerText:     answerText,
			Score:          res.Score,
			MaxScore:       res.MaxScore,
			Feedback:       res.Feedback,
		})
	}

	return math.Round(totalScore*100) / 100, maxScore, details, nil
}

// GetBySession returns the session's grade record, or nil when grading has
// not been recorded yet.
func (g *GradingService) GetBySession(ctx context.Context, sessionID uuid.UUID) (*model.GradeHistory, error) {
	grade, err := g.grades.GetBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load grade: %w", err)
	}
	return grade, nil
}

// GetByID returns one grade record.
func (g *GradingService) GetByID(ctx context.Context, id uuid.UUID) (*model.GradeHistory, error) {
	grade, err := g.grades.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGradeNotFound
		}
		return nil, fmt.Errorf("load grade: %w", err)
	}
	return grade, nil
}

// ListForStudent returns the student's grade summaries, newest first.
func (g *GradingService) ListForStudent(ctx context.Context, studentID int) ([]model.GradeSummary, error) {
	return g.grades.ListByStudent(ctx, studentID)
}

// ListForExam returns every grade summary of an exam, for staff review.
func (g *GradingService) ListForExam(ctx context.Context, examID uuid.UUID) ([]model.GradeSummary, error) {
	return g.grades.ListByExam(ctx, examID)
}
