package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/acadexa/assessment-backend/internal/clock"
	"github.com/acadexa/assessment-backend/internal/model"
	"github.com/acadexa/assessment-backend/internal/repository"
)

// Exam authoring errors.
var (
	ErrExamNotFound     = errors.New("exam not found")
	ErrExamLocked       = errors.New("exam has submissions and is locked")
	ErrNoQuestions      = errors.New("exam has no questions")
	ErrQuestionNotFound = errors.New("question not found")
	ErrInvalidQuestion  = errors.New("invalid question")
)

// ExamService handles exam authoring and listings. Structural changes are
// refused once any session exists for the exam.
type ExamService struct {
	exams     *repository.ExamRepository
	questions *repository.QuestionRepository
	sessions  *repository.SessionRepository
	grades    *repository.GradeRepository
	clk       clock.Clock
}

// NewExamService creates a new ExamService.
func NewExamService(
	exams *repository.ExamRepository,
	questions *repository.QuestionRepository,
	sessions *repository.SessionRepository,
	grades *repository.GradeRepository,
	clk clock.Clock,
) *ExamService {
	return &ExamService{
		exams:     exams,
		questions: questions,
		sessions:  sessions,
		grades:    grades,
		clk:       clk,
	}
}

// CreateExam creates a new exam in the inactive (draft) state.
func (s *ExamService) CreateExam(ctx context.Context, req *model.CreateExamRequest) (*model.Exam, error) {
	e := &model.Exam{
		Title:           req.Title,
		Description:     req.Description,
		Course:          req.Course,
		DurationMinutes: req.DurationMinutes,
		IsActive:        false,
	}
	if err := s.exams.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("create exam: %w", err)
	}
	return e, nil
}

// GetExam retrieves one exam.
func (s *ExamService) GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e, err := s.exams.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, err
	}
	return e, nil
}

// ListExams retrieves all exams for the admin listing.
func (s *ExamService) ListExams(ctx context.Context) ([]model.Exam, error) {
	return s.exams.ListAll(ctx)
}

// UpdateExam modifies exam metadata. Refused once submissions exist.
func (s *ExamService) UpdateExam(ctx context.Context, id uuid.UUID, req *model.UpdateExamRequest) (*model.Exam, error) {
	e, err := s.GetExam(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireUnlocked(ctx, id); err != nil {
		return nil, err
	}

	if req.Title != "" {
		e.Title = req.Title
	}
	if req.Description != "" {
		e.Description = req.Description
	}
	if req.Course != "" {
		e.Course = req.Course
	}
	if req.DurationMinutes > 0 {
		e.DurationMinutes = req.DurationMinutes
	}

	if err := s.exams.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("update exam: %w", err)
	}
	return e, nil
}

// SetActive activates or deactivates an exam. Activation requires at least
// one question. Deactivation only stops new session starts; it never touches
// running sessions, so it is allowed even when submissions exist.
func (s *ExamService) SetActive(ctx context.Context, id uuid.UUID, active bool) (*model.Exam, error) {
	e, err := s.GetExam(ctx, id)
	if err != nil {
		return nil, err
	}

	if active {
		count, err := s.questions.CountByExam(ctx, id)
		if err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, ErrNoQuestions
		}
	}

	e.IsActive = active
	if err := s.exams.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("update exam: %w", err)
	}
	return e, nil
}

// DeleteExam removes an exam and its questions. Refused once submissions exist.
func (s *ExamService) DeleteExam(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetExam(ctx, id); err != nil {
		return err
	}
	if err := s.requireUnlocked(ctx, id); err != nil {
		return err
	}
	return s.exams.Delete(ctx, id)
}

// AddQuestion appends or inserts a question into the exam's order sequence.
func (s *ExamService) AddQuestion(ctx context.Context, examID uuid.UUID, req *model.AddQuestionRequest) (*model.Question, error) {
	if _, err := s.GetExam(ctx, examID); err != nil {
		return nil, err
	}
	if err := s.requireUnlocked(ctx, examID); err != nil {
		return nil, err
	}

	q := &model.Question{
		ExamID:         examID,
		QuestionText:   req.QuestionText,
		QuestionType:   model.QuestionType(req.QuestionType),
		ExpectedAnswer: req.ExpectedAnswer,
		Options:        req.Options,
		AllowMultiple:  req.AllowMultiple,
		Points:         req.Points,
		Order:          req.Order,
	}
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidQuestion, err)
	}

	if err := s.questions.Insert(ctx, q); err != nil {
		return nil, fmt.Errorf("insert question: %w", err)
	}
	return q, nil
}

// UpdateQuestion replaces a question's content. The order position is kept;
// reordering is done by delete and re-insert.
func (s *ExamService) UpdateQuestion(ctx context.Context, examID, questionID uuid.UUID, req *model.AddQuestionRequest) (*model.Question, error) {
	if err := s.requireUnlocked(ctx, examID); err != nil {
		return nil, err
	}

	q, err := s.questions.GetByID(ctx, questionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, err
	}
	if q.ExamID != examID {
		return nil, ErrQuestionNotFound
	}

	q.QuestionText = req.QuestionText
	q.QuestionType = model.QuestionType(req.QuestionType)
	q.ExpectedAnswer = req.ExpectedAnswer
	q.Options = req.Options
	q.AllowMultiple = req.AllowMultiple
	q.Points = req.Points
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidQuestion, err)
	}

	if err := s.questions.Update(ctx, q); err != nil {
		return nil, fmt.Errorf("update question: %w", err)
	}
	return q, nil
}

// ListQuestions retrieves the exam's questions in order, answer keys included.
func (s *ExamService) ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	if _, err := s.GetExam(ctx, examID); err != nil {
		return nil, err
	}
	return s.questions.ListByExam(ctx, examID)
}

// DeleteQuestion removes a question, keeping the order sequence contiguous.
func (s *ExamService) DeleteQuestion(ctx context.Context, examID, questionID uuid.UUID) error {
	if err := s.requireUnlocked(ctx, examID); err != nil {
		return err
	}

	q, err := s.questions.GetByID(ctx, questionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrQuestionNotFound
		}
		return err
	}
	if q.ExamID != examID {
		return ErrQuestionNotFound
	}

	return s.questions.Delete(ctx, questionID)
}

// ListActiveForStudent retrieves active exams with the student's session and
// grade overlays.
func (s *ExamService) ListActiveForStudent(ctx context.Context, studentID int) ([]model.ExamForStudent, error) {
	exams, err := s.exams.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	for i := range exams {
		e := &exams[i]

		sess, err := s.sessions.GetByExamAndStudent(ctx, e.ID, studentID)
		switch {
		case err == nil && sess.IsActive(now):
			answered, err := s.sessions.CountAnswers(ctx, sess.ID)
			if err != nil {
				return nil, err
			}
			e.ActiveSession = &model.ActiveSessionInfo{
				SessionID:            sess.ID,
				TimeRemainingSeconds: sess.TimeRemainingSeconds(now),
				StartedAt:            sess.StartedAt,
				ExpiresAt:            sess.ExpiresAt,
				AnsweredCount:        answered,
				TotalQuestions:       e.QuestionCount,
			}
		case err != nil && !errors.Is(err, pgx.ErrNoRows):
			return nil, err
		}

		grade, err := s.grades.GetLatestForStudentExam(ctx, studentID, e.ID)
		if err != nil {
			return nil, err
		}
		e.GradeInfo = grade
	}

	return exams, nil
}

func (s *ExamService) requireUnlocked(ctx context.Context, examID uuid.UUID) error {
	locked, err := s.exams.HasSubmissions(ctx, examID)
	if err != nil {
		return err
	}
	if locked {
		return ErrExamLocked
	}
	return nil
}
