package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/acadexa/assessment-backend/internal/clock"
	"github.com/acadexa/assessment-backend/internal/eventbus"
	"github.com/acadexa/assessment-backend/internal/model"
	"github.com/acadexa/assessment-backend/internal/token"
)

// Session lifecycle errors. Token validation deliberately collapses every
// failure mode into ErrTokenInvalid so callers cannot probe token state.
var (
	ErrExamNotActive    = errors.New("exam is not active")
	ErrAlreadyCompleted = errors.New("session already completed")
	ErrTokenInvalid     = errors.New("session token invalid")
	ErrEmptyAnswer      = errors.New("answer text must not be empty")
	ErrInvalidAnswer    = errors.New("answer is not a valid option selection")
)

// SessionStore is the persistence surface the engine mutates. Only the
// engine writes sessions, tokens, and answers.
type SessionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)
	GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error)
	CreateIfAbsent(ctx context.Context, studentID int, examID uuid.UUID, startedAt, expiresAt time.Time) (*model.ExamSession, bool, error)
	RotateToken(ctx context.Context, sessionID uuid.UUID, newToken string, at time.Time) (*model.SessionToken, []string, error)
	FindByValidToken(ctx context.Context, tok string) (*model.ExamSession, error)
	ValidTokens(ctx context.Context, sessionID uuid.UUID) ([]string, error)
	MarkCompletedIfNotAlready(ctx context.Context, sessionID uuid.UUID, at time.Time, subType model.SubmissionType) (bool, []string, error)
	UpdateCurrentOrder(ctx context.Context, sessionID uuid.UUID, order int) error
	UpsertAnswer(ctx context.Context, a *model.StudentAnswer) error
	GetAnswer(ctx context.Context, sessionID, questionID uuid.UUID) (*model.StudentAnswer, error)
	ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.StudentAnswer, error)
	AnsweredOrders(ctx context.Context, sessionID uuid.UUID) ([]int, error)
	CountAnswers(ctx context.Context, sessionID uuid.UUID) (int, error)
	ListExpiredUncompleted(ctx context.Context, now time.Time) ([]model.ExamSession, error)
}

// ExamStore is the read surface for exams.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
}

// QuestionStore is the read surface for questions.
type QuestionStore interface {
	GetByExamAndOrder(ctx context.Context, examID uuid.UUID, order int) (*model.Question, error)
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
	CountByExam(ctx context.Context, examID uuid.UUID) (int, error)
}

// EventPublisher fans session events out to transport subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, token string, ev eventbus.Event)
}

// TaskScheduler defers work to an exact instant.
type TaskScheduler interface {
	Enqueue(at time.Time, task func(ctx context.Context))
}

// TokenCause classifies why a token failed validation. The API reports all
// of them uniformly; the WebSocket adapter uses the cause to pick its
// terminal message and close code.
type TokenCause int

const (
	CauseOK TokenCause = iota
	CauseInvalidToken
	CauseOwnership
	CauseTokenExpired
	CauseSessionCompleted
)

// SessionService is the exam session engine: the only component that
// mutates sessions, rolling tokens, and answers.
type SessionService struct {
	sessions  SessionStore
	exams     ExamStore
	questions QuestionStore
	grading   *GradingService
	bus       EventPublisher
	sched     TaskScheduler
	clk       clock.Clock
	mint      func() (string, error)
	log       zerolog.Logger
}

// NewSessionService creates the session engine.
func NewSessionService(
	sessions SessionStore,
	exams ExamStore,
	questions QuestionStore,
	grading *GradingService,
	bus EventPublisher,
	sched TaskScheduler,
	clk clock.Clock,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		sessions:  sessions,
		exams:     exams,
		questions: questions,
		grading:   grading,
		bus:       bus,
		sched:     sched,
		clk:       clk,
		mint:      token.Mint,
		log:       log.With().Str("component", "session_engine").Logger(),
	}
}

// StartOrResume begins a session for the student on the exam, or resumes the
// existing one. Either way the previous rolling token is invalidated and a
// fresh one issued; connections bound to old tokens are told to drop off.
// Action is "started" for a new session and "continued" for a resume.
func (s *SessionService) StartOrResume(ctx context.Context, studentID int, examID uuid.UUID) (*model.SessionWithToken, string, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", ErrExamNotFound
		}
		return nil, "", fmt.Errorf("load exam: %w", err)
	}
	if !exam.IsActive {
		return nil, "", ErrExamNotActive
	}

	now := s.clk.Now()
	sess, err := s.sessions.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, "", fmt.Errorf("load session: %w", err)
		}

		expiresAt := now.Add(time.Duration(exam.DurationMinutes) * time.Minute)
		created := false
		sess, created, err = s.sessions.CreateIfAbsent(ctx, studentID, examID, now, expiresAt)
		if err != nil {
			return nil, "", fmt.Errorf("create session: %w", err)
		}
		if created {
			s.scheduleAutoSubmit(sess.ID, sess.ExpiresAt)
			withToken, err := s.issueToken(ctx, sess, now)
			if err != nil {
				return nil, "", err
			}
			return withToken, "started", nil
		}
		// Lost the create race; fall through to the resume path.
	}

	if sess.IsCompleted {
		return nil, "", ErrAlreadyCompleted
	}
	if sess.IsExpired(now) {
		// The timer or sweeper will land shortly; close it out now so the
		// student sees a consistent terminal state.
		if _, err := s.CompleteAndGrade(ctx, sess.ID, eventbus.ReasonTimeout, nil, model.SubmissionAutoExpired); err != nil {
			s.log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("auto-submit on resume failed")
		}
		return nil, "", ErrAlreadyCompleted
	}

	withToken, err := s.issueToken(ctx, sess, now)
	if err != nil {
		return nil, "", err
	}
	return withToken, "continued", nil
}

// issueToken rotates the session's token and notifies holders of the
// invalidated ones.
func (s *SessionService) issueToken(ctx context.Context, sess *model.ExamSession, now time.Time) (*model.SessionWithToken, error) {
	fresh, err := s.mint()
	if err != nil {
		return nil, fmt.Errorf("mint token: %w", err)
	}

	tok, invalidated, err := s.sessions.RotateToken(ctx, sess.ID, fresh, now)
	if err != nil {
		return nil, fmt.Errorf("rotate token: %w", err)
	}

	for _, old := range invalidated {
		s.bus.Publish(ctx, old, eventbus.Event{
			Type:    eventbus.EventSessionExpired,
			Reason:  eventbus.ReasonTokenExpired,
			Message: "Your exam session was opened elsewhere. This connection is no longer valid.",
		})
	}

	return &model.SessionWithToken{ExamSession: *sess, Token: tok.Token}, nil
}

// CheckToken resolves and validates a rolling token for the given caller,
// reporting the failure cause. Every failure is also ErrTokenInvalid.
func (s *SessionService) CheckToken(ctx context.Context, tok string, callerStudentID int) (*model.ExamSession, TokenCause, error) {
	sess, err := s.sessions.FindByValidToken(ctx, tok)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, CauseInvalidToken, ErrTokenInvalid
		}
		return nil, CauseInvalidToken, fmt.Errorf("resolve token: %w", err)
	}

	if sess.StudentID != callerStudentID {
		return nil, CauseOwnership, ErrTokenInvalid
	}
	if sess.IsCompleted {
		return nil, CauseSessionCompleted, ErrTokenInvalid
	}
	if sess.IsExpired(s.clk.Now()) {
		return nil, CauseTokenExpired, ErrTokenInvalid
	}

	return sess, CauseOK, nil
}

// ValidateToken is CheckToken with the cause collapsed into the uniform error.
func (s *SessionService) ValidateToken(ctx context.Context, tok string, callerStudentID int) (*model.ExamSession, error) {
	sess, _, err := s.CheckToken(ctx, tok, callerStudentID)
	return sess, err
}

// GetQuestion returns the answer-key-free question at the given order and
// records it as the session's current position.
func (s *SessionService) GetQuestion(ctx context.Context, sess *model.ExamSession, order int) (*model.QuestionForStudent, error) {
	if !sess.IsActive(s.clk.Now()) {
		return nil, ErrTokenInvalid
	}

	q, err := s.questions.GetByExamAndOrder(ctx, sess.ExamID, order)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("load question: %w", err)
	}

	if err := s.sessions.UpdateCurrentOrder(ctx, sess.ID, order); err != nil {
		return nil, fmt.Errorf("update current order: %w", err)
	}

	view := q.ForStudent()
	return &view, nil
}

// GetSavedAnswer returns the session's stored answer for a question, or nil
// when none was saved.
func (s *SessionService) GetSavedAnswer(ctx context.Context, sess *model.ExamSession, questionID uuid.UUID) (*model.StudentAnswer, error) {
	a, err := s.sessions.GetAnswer(ctx, sess.ID, questionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load answer: %w", err)
	}
	return a, nil
}

// SubmitAnswer validates, normalizes, and upserts one answer, returning the
// stored row and a fresh progress snapshot.
func (s *SessionService) SubmitAnswer(ctx context.Context, sess *model.ExamSession, order int, text string) (*model.StudentAnswer, *model.Progress, error) {
	if text == "" {
		return nil, nil, ErrEmptyAnswer
	}
	now := s.clk.Now()
	if !sess.IsActive(now) {
		return nil, nil, ErrTokenInvalid
	}

	q, err := s.questions.GetByExamAndOrder(ctx, sess.ExamID, order)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrQuestionNotFound
		}
		return nil, nil, fmt.Errorf("load question: %w", err)
	}

	normalized, err := normalizeAnswer(q, text)
	if err != nil {
		return nil, nil, err
	}

	answer := &model.StudentAnswer{
		SessionID:  sess.ID,
		QuestionID: q.ID,
		AnswerText: normalized,
		AnsweredAt: now,
	}
	if err := s.sessions.UpsertAnswer(ctx, answer); err != nil {
		return nil, nil, fmt.Errorf("upsert answer: %w", err)
	}
	if err := s.sessions.UpdateCurrentOrder(ctx, sess.ID, order); err != nil {
		return nil, nil, fmt.Errorf("update current order: %w", err)
	}
	sess.CurrentQuestionOrder = order

	progress, err := s.GetProgress(ctx, sess)
	if err != nil {
		return nil, nil, err
	}
	return answer, progress, nil
}

// normalizeAnswer canonicalizes the stored form of an answer. Multiple-choice
// selections must name real option values; multi-select arrays are deduped
// and re-encoded, with a lone selection stored as a plain string. Free text
// is stored verbatim.
func normalizeAnswer(q *model.Question, text string) (string, error) {
	if q.QuestionType != model.QuestionTypeMultipleChoice {
		return text, nil
	}

	optionSet := make(map[string]struct{})
	for _, v := range q.OptionValues() {
		optionSet[v] = struct{}{}
	}

	var decoded []string
	isArray := json.Unmarshal([]byte(text), &decoded) == nil
	if !isArray {
		decoded = []string{text}
	}

	// Dedupe preserving order.
	seen := make(map[string]struct{}, len(decoded))
	selections := decoded[:0]
	for _, v := range decoded {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		selections = append(selections, v)
	}

	if len(selections) == 0 {
		return "", ErrEmptyAnswer
	}
	if len(selections) > 1 && !q.AllowMultiple {
		return "", ErrInvalidAnswer
	}
	for _, v := range selections {
		if _, ok := optionSet[v]; !ok {
			return "", ErrInvalidAnswer
		}
	}

	if len(selections) == 1 {
		return selections[0], nil
	}
	encoded, err := json.Marshal(selections)
	if err != nil {
		return "", fmt.Errorf("encode selections: %w", err)
	}
	return string(encoded), nil
}

// GetProgress returns a cheap snapshot of the session's answering state.
func (s *SessionService) GetProgress(ctx context.Context, sess *model.ExamSession) (*model.Progress, error) {
	total, err := s.questions.CountByExam(ctx, sess.ExamID)
	if err != nil {
		return nil, fmt.Errorf("count questions: %w", err)
	}
	orders, err := s.sessions.AnsweredOrders(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list answered orders: %w", err)
	}

	now := s.clk.Now()
	return &model.Progress{
		Total:                total,
		Answered:             len(orders),
		AnsweredOrders:       orders,
		CurrentOrder:         sess.CurrentQuestionOrder,
		TimeRemainingSeconds: sess.TimeRemainingSeconds(now),
		IsExpired:            sess.IsExpired(now),
	}, nil
}

// CompleteAndGrade is the single submission entry point for manual submits,
// the expiry timer, and the sweeper. The store's conditional completion is
// the only submit-once gate; losers of the race get the winner's grade
// record back. Subscribers hear session_completed immediately, before
// grading runs, so clients can cut over without waiting on graders.
func (s *SessionService) CompleteAndGrade(ctx context.Context, sessionID uuid.UUID, reason string, notifyTokens []string, subType model.SubmissionType) (*model.GradeHistory, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	submittedAt := s.clk.Now()
	didTransition, invalidated, err := s.sessions.MarkCompletedIfNotAlready(ctx, sessionID, submittedAt, subType)
	if err != nil {
		return nil, fmt.Errorf("mark completed: %w", err)
	}
	if !didTransition {
		grade, err := s.grading.GetBySession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		return grade, nil
	}

	// Mirror the store transition so the grade record snapshots the
	// submission instant.
	sess.IsCompleted = true
	sess.SubmittedAt = &submittedAt
	sess.SubmissionType = &subType

	tokens := unionTokens(notifyTokens, invalidated)
	for _, t := range tokens {
		s.bus.Publish(ctx, t, eventbus.Event{
			Type:    eventbus.EventSessionCompleted,
			Reason:  reason,
			Message: completionMessage(reason),
		})
	}

	method := model.GradingMethodManual
	if subType == model.SubmissionAutoExpired {
		method = model.GradingMethodTimeout
	}

	grade, err := s.grading.CreateRecord(ctx, sess, method)
	if err != nil {
		return nil, err
	}

	// Grading runs detached from the request; completion already happened
	// and must not be undone by grader failures.
	go s.runGrading(grade, tokens, reason)

	return grade, nil
}

func (s *SessionService) runGrading(grade *model.GradeHistory, tokens []string, reason string) {
	ctx := context.Background()
	if err := s.grading.GradeRecord(ctx, grade); err != nil {
		s.log.Error().Err(err).
			Str("grade_id", grade.ID.String()).
			Str("session_id", grade.SessionID.String()).
			Msg("grading failed")
		return
	}

	for _, t := range tokens {
		s.bus.Publish(ctx, t, eventbus.Event{
			Type:           eventbus.EventSessionCompleted,
			Reason:         reason,
			Message:        completionMessage(reason),
			GradeHistoryID: grade.ID.String(),
		})
	}
}

func completionMessage(reason string) string {
	if reason == eventbus.ReasonTimeout {
		return "Time is up. Your exam was submitted automatically."
	}
	return "Your exam has been submitted."
}

func unionTokens(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, t := range append(append([]string{}, a...), b...) {
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// scheduleAutoSubmit arms the one-shot expiry timer for a session.
func (s *SessionService) scheduleAutoSubmit(sessionID uuid.UUID, at time.Time) {
	if s.sched == nil {
		return
	}
	s.sched.Enqueue(at, func(ctx context.Context) {
		s.AutoSubmit(ctx, sessionID)
	})
}

// AutoSubmit closes an expired session. Idempotent: completed sessions are
// left alone, and early wakeups re-arm the timer instead of submitting.
func (s *SessionService) AutoSubmit(ctx context.Context, sessionID uuid.UUID) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("auto-submit: session not found")
		return
	}
	if sess.IsCompleted {
		return
	}
	if !sess.IsExpired(s.clk.Now()) {
		s.scheduleAutoSubmit(sessionID, sess.ExpiresAt)
		return
	}

	valid, err := s.sessions.ValidTokens(ctx, sessionID)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("auto-submit: read valid tokens")
		return
	}

	if _, err := s.CompleteAndGrade(ctx, sessionID, eventbus.ReasonTimeout, valid, model.SubmissionAutoExpired); err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("auto-submit failed")
	}
}

// SweepExpired auto-submits every expired, uncompleted session. Runs
// periodically as the safety net behind the one-shot timers.
func (s *SessionService) SweepExpired(ctx context.Context) {
	sessions, err := s.sessions.ListExpiredUncompleted(ctx, s.clk.Now())
	if err != nil {
		s.log.Error().Err(err).Msg("sweep: list expired sessions")
		return
	}
	if len(sessions) == 0 {
		return
	}

	s.log.Info().Int("count", len(sessions)).Msg("sweeping expired sessions")
	for _, sess := range sessions {
		s.AutoSubmit(ctx, sess.ID)
	}
}
