package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acadexa/assessment-backend/internal/clock"
	"github.com/acadexa/assessment-backend/internal/eventbus"
	"github.com/acadexa/assessment-backend/internal/grader"
	"github.com/acadexa/assessment-backend/internal/model"
)

var testEpoch = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

type engineFixture struct {
	store     *fakeSessionStore
	exams     *fakeExamStore
	questions *fakeQuestionStore
	grades    *fakeGradeStore
	bus       *fakeBus
	sched     *fakeScheduler
	clk       *clock.Fake
	grading   *GradingService
	svc       *SessionService
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	fx := &engineFixture{
		store:     newFakeSessionStore(),
		exams:     newFakeExamStore(),
		questions: newFakeQuestionStore(),
		grades:    newFakeGradeStore(),
		bus:       &fakeBus{},
		sched:     &fakeScheduler{},
		clk:       clock.NewFake(testEpoch),
	}

	engine := grader.NewEngine(grader.NewLexical(0.4, 0.6, 0.3), zerolog.Nop())
	fx.grading = NewGradingService(fx.grades, fx.store, fx.questions, engine, fx.clk, zerolog.Nop())
	fx.svc = NewSessionService(fx.store, fx.exams, fx.questions, fx.grading, fx.bus, fx.sched, fx.clk, zerolog.Nop())

	// Deterministic token minting.
	minted := 0
	fx.svc.mint = func() (string, error) {
		minted++
		return fmt.Sprintf("tok-%d", minted), nil
	}
	return fx
}

func (fx *engineFixture) seedExam(active bool, durationMinutes int) *model.Exam {
	e := &model.Exam{
		ID:              uuid.New(),
		Title:           "Algorithms Midterm",
		Course:          "CS201",
		DurationMinutes: durationMinutes,
		IsActive:        active,
	}
	fx.exams.mu.Lock()
	fx.exams.exams[e.ID] = e
	fx.exams.mu.Unlock()
	return e
}

func (fx *engineFixture) seedQuestion(examID uuid.UUID, q model.Question) *model.Question {
	q.ID = uuid.New()
	q.ExamID = examID
	fx.questions.mu.Lock()
	fx.questions.questions[examID] = append(fx.questions.questions[examID], q)
	fx.questions.mu.Unlock()
	fx.store.mu.Lock()
	fx.store.orderOf[q.ID] = q.Order
	fx.store.mu.Unlock()
	return &q
}

func (fx *engineFixture) waitForGradeStatus(t *testing.T, sessionID uuid.UUID, status model.GradeStatus) *model.GradeHistory {
	t.Helper()
	var grade *model.GradeHistory
	require.Eventually(t, func() bool {
		g, err := fx.grades.GetBySession(context.Background(), sessionID)
		if err != nil {
			return false
		}
		grade = g
		return g.Status == status
	}, 2*time.Second, 10*time.Millisecond)
	return grade
}

func TestStartCreatesSessionWithTokenAndTimer(t *testing.T) {
	fx := newEngineFixture(t)
	exam := fx.seedExam(true, 30)

	result, action, err := fx.svc.StartOrResume(context.Background(), 1, exam.ID)
	require.NoError(t, err)
	assert.Equal(t, "started", action)
	assert.Equal(t, "tok-1", result.Token)
	assert.Equal(t, testEpoch, result.StartedAt)
	assert.Equal(t, testEpoch.Add(30*time.Minute), result.ExpiresAt)

	calls := fx.sched.scheduled()
	require.Len(t, calls, 1)
	assert.Equal(t, result.ExpiresAt, calls[0].At)

	sess, err := fx.svc.ValidateToken(context.Background(), "tok-1", 1)
	require.NoError(t, err)
	assert.Equal(t, result.ID, sess.ID)
}

func TestStartInactiveExam(t *testing.T) {
	fx := newEngineFixture(t)
	exam := fx.seedExam(false, 30)

	_, _, err := fx.svc.StartOrResume(context.Background(), 1, exam.ID)
	assert.ErrorIs(t, err, ErrExamNotActive)
}

func TestStartUnknownExam(t *testing.T) {
	fx := newEngineFixture(t)

	_, _, err := fx.svc.StartOrResume(context.Background(), 1, uuid.New())
	assert.ErrorIs(t, err, ErrExamNotFound)
}

func TestResumeRotatesTokenAndNotifiesOldHolder(t *testing.T) {
	fx := newEngineFixture(t)
	exam := fx.seedExam(true, 30)
	ctx := context.Background()

	first, _, err := fx.svc.StartOrResume(ctx, 1, exam.ID)
	require.NoError(t, err)

	fx.clk.Advance(5 * time.Minute)
	second, action, err := fx.svc.StartOrResume(ctx, 1, exam.ID)
	require.NoError(t, err)
	assert.Equal(t, "continued", action)
	assert.Equal(t, second.ID, first.ID)
	assert.Equal(t, "tok-2", second.Token)
	// The deadline is fixed at first start; resuming never extends it.
	assert.Equal(t, first.ExpiresAt, second.ExpiresAt)

	// The replaced token no longer validates and its holder was told why.
	_, cause, err := fx.svc.CheckToken(ctx, "tok-1", 1)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	assert.Equal(t, CauseInvalidToken, cause)

	events := fx.bus.byToken("tok-1")
	require.Len(t, events, 1)
	assert.Equal(t, eventbus.EventSessionExpired, events[0].Type)
	assert.Equal(t, eventbus.ReasonTokenExpired, events[0].Reason)

	_, err = fx.svc.ValidateToken(ctx, "tok-2", 1)
	assert.NoError(t, err)
}

func TestStartAfterCompletion(t *testing.T) {
	fx := newEngineFixture(t)
	exam := fx.seedExam(true, 30)
	ctx := context.Background()

	result, _, err := fx.svc.StartOrResume(ctx, 1, exam.ID)
	require.NoError(t, err)

	_, err = fx.svc.CompleteAndGrade(ctx, result.ID, eventbus.ReasonSubmitted, []string{result.Token}, model.SubmissionManual)
	require.NoError(t, err)

	_, _, err = fx.svc.StartOrResume(ctx, 1, exam.ID)
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
}

func TestStartAfterExpiryAutoSubmits(t *testing.T) {
	fx := newEngineFixture(t)
	exam := fx.seedExam(true, 30)
	ctx := context.Background()

	result, _, err := fx.svc.StartOrResume(ctx, 1, exam.ID)
	require.NoError(t, err)

	fx.clk.Advance(31 * time.Minute)
	_, _, err = fx.svc.StartOrResume(ctx, 1, exam.ID)
	assert.ErrorIs(t, err, ErrAlreadyCompleted)

	sess, err := fx.store.GetByID(ctx, result.ID)
	require.NoError(t, err)
	assert.True(t, sess.IsCompleted)
	require.NotNil(t, sess.SubmissionType)
	assert.Equal(t, model.SubmissionAutoExpired, *sess.SubmissionType)

	grade := fx.waitForGradeStatus(t, result.ID, model.GradeStatusCompleted)
	assert.Equal(t, model.GradingMethodTimeout, grade.GradingMethod)
}

func TestCheckTokenCauses(t *testing.T) {
	fx := newEngineFixture(t)
	exam := fx.seedExam(true, 30)
	ctx := context.Background()

	result, _, err := fx.svc.StartOrResume(ctx, 1, exam.ID)
	require.NoError(t, err)

	_, cause, err := fx.svc.CheckToken(ctx, "no-such-token", 1)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	assert.Equal(t, CauseInvalidToken, cause)

	_, cause, err = fx.svc.CheckToken(ctx, result.Token, 2)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	assert.Equal(t, CauseOwnership, cause)

	fx.clk.Advance(31 * time.Minute)
	_, cause, err = fx.svc.CheckToken(ctx, result.Token, 1)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	assert.Equal(t, CauseTokenExpired, cause)
	fx.clk.Set(testEpoch)

	// Completion normally invalidates tokens too; flip the flag directly to
	// exercise the completed-session cause on its own.
	fx.store.mu.Lock()
	fx.store.sessions[result.ID].IsCompleted = true
	fx.store.mu.Unlock()

	_, cause, err = fx.svc.CheckToken(ctx, result.Token, 1)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	assert.Equal(t, CauseSessionCompleted, cause)
}

func TestSubmitAnswerFreeText(t *testing.T) {
	fx := newEngineFixture(t)
	exam := fx.seedExam(true, 30)
	fx.seedQuestion(exam.ID, model.Question{
		QuestionText: "Define a stack", QuestionType: model.QuestionTypeShortAnswer,
		ExpectedAnswer: "last in first out", Points: 5, Order: 1,
	})
	fx.seedQuestion(exam.ID, model.Question{
		QuestionText: "Define a queue", QuestionType: model.QuestionTypeShortAnswer,
		ExpectedAnswer: "first in first out", Points: 5, Order: 2,
	})
	ctx := context.Background()

	result, _, err := fx.svc.StartOrResume(ctx, 1, exam.ID)
	require.NoError(t, err)
	sess := &result.ExamSession

	answer, progress, err := fx.svc.SubmitAnswer(ctx, sess, 2, "first in first out")
	require.NoError(t, err)
	assert.Equal(t, "first in first out", answer.AnswerText)
	assert.Equal(t, 2, progress.Total)
	assert.Equal(t, 1, progress.Answered)
	assert.Equal(t, []int{2}, progress.AnsweredOrders)
	assert.Equal(t, 2, progress.CurrentOrder)

	// Overwriting keeps the count at one.
	_, progress, err = fx.svc.SubmitAnswer(ctx, sess, 2, "fifo ordering")
	require.NoError(t, err)
	assert.Equal(t, 1, progress.Answered)
}

func TestSubmitAnswerValidation(t *testing.T) {
	fx := newEngineFixture(t)
	exam := fx.seedExam(true, 30)
	fx.seedQuestion(exam.ID, model.Question{
		QuestionText: "Q", QuestionType: model.QuestionTypeShortAnswer, Points: 5, Order: 1,
	})
	ctx := context.Background()

	result, _, err := fx.svc.StartOrResume(ctx, 1, exam.ID)
	require.NoError(t, err)
	sess := &result.ExamSession

	_, _, err = fx.svc.SubmitAnswer(ctx, sess, 1, "")
	assert.ErrorIs(t, err, ErrEmptyAnswer)

	_, _, err = fx.svc.SubmitAnswer(ctx, sess, 99, "text")
	assert.ErrorIs(t, err, ErrQuestionNotFound)

	fx.clk.Advance(31 * time.Minute)
	_, _, err = fx.svc.SubmitAnswer(ctx, sess, 1, "text")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestNormalizeAnswer(t *testing.T) {
	single := &model.Question{
		QuestionType: model.QuestionTypeMultipleChoice,
		Options:      []model.Option{{Label: "A", Value: "a"}, {Label: "B", Value: "b"}},
	}
	multi := &model.Question{
		QuestionType:  model.QuestionTypeMultipleChoice,
		AllowMultiple: true,
		Options:       []model.Option{{Label: "A", Value: "a"}, {Label: "B", Value: "b"}, {Label: "C", Value: "c"}},
	}
	freeText := &model.Question{QuestionType: model.QuestionTypeEssay}

	tests := []struct {
		name    string
		q       *model.Question
		in      string
		want    string
		wantErr error
	}{
		{"free text verbatim", freeText, `anything, even ["json"]`, `anything, even ["json"]`, nil},
		{"single valid", single, "a", "a", nil},
		{"single unknown option", single, "z", "", ErrInvalidAnswer},
		{"single rejects multiple", single, `["a","b"]`, "", ErrInvalidAnswer},
		{"single as one-element array", single, `["b"]`, "b", nil},
		{"multi encoded", multi, `["a","c"]`, `["a","c"]`, nil},
		{"multi dedupes", multi, `["a","a","c"]`, `["a","c"]`, nil},
		{"multi lone selection stored plain", multi, `["b"]`, "b", nil},
		{"multi unknown option", multi, `["a","z"]`, "", ErrInvalidAnswer},
		{"multi empty array", multi, `[]`, "", ErrEmptyAnswer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeAnswer(tt.q, tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestManualSubmitGradesAndNotifies(t *testing.T) {
	fx := newEngineFixture(t)
	exam := fx.seedExam(true, 30)
	fx.seedQuestion(exam.ID, model.Question{
		QuestionText: "Pick", QuestionType: model.QuestionTypeMultipleChoice,
		ExpectedAnswer: "a", Points: 10, Order: 1,
		Options: []model.Option{{Label: "A", Value: "a"}, {Label: "B", Value: "b"}},
	})
	ctx := context.Background()

	result, _, err := fx.svc.StartOrResume(ctx, 1, exam.ID)
	require.NoError(t, err)
	sess := &result.ExamSession

	_, _, err = fx.svc.SubmitAnswer(ctx, sess, 1, "a")
	require.NoError(t, err)

	grade, err := fx.svc.CompleteAndGrade(ctx, sess.ID, eventbus.ReasonSubmitted, []string{result.Token}, model.SubmissionManual)
	require.NoError(t, err)
	require.NotNil(t, grade)
	assert.Equal(t, model.GradingMethodManual, grade.GradingMethod)

	// Completion is visible immediately, before grading lands.
	events := fx.bus.byToken(result.Token)
	require.NotEmpty(t, events)
	assert.Equal(t, eventbus.EventSessionCompleted, events[0].Type)
	assert.Equal(t, "Your exam has been submitted.", events[0].Message)
	assert.Empty(t, events[0].GradeHistoryID)

	done := fx.waitForGradeStatus(t, sess.ID, model.GradeStatusCompleted)
	assert.Equal(t, 10.0, done.TotalScore)
	assert.Equal(t, 10.0, done.MaxScore)

	// The follow-up event carries the grade record id.
	require.Eventually(t, func() bool {
		events := fx.bus.byToken(result.Token)
		return events[len(events)-1].GradeHistoryID == grade.ID.String()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCompleteAndGradeSnapshotsTimestamps(t *testing.T) {
	fx := newEngineFixture(t)
	exam := fx.seedExam(true, 30)
	ctx := context.Background()

	result, _, err := fx.svc.StartOrResume(ctx, 1, exam.ID)
	require.NoError(t, err)

	fx.clk.Advance(12 * time.Minute)
	grade, err := fx.svc.CompleteAndGrade(ctx, result.ID, eventbus.ReasonSubmitted, []string{result.Token}, model.SubmissionManual)
	require.NoError(t, err)
	require.NotNil(t, grade)

	// The record carries the session's timeline even if the session row is
	// later removed.
	assert.Equal(t, testEpoch, grade.StartedAt)
	require.NotNil(t, grade.SubmittedAt)
	assert.Equal(t, testEpoch.Add(12*time.Minute), *grade.SubmittedAt)
}

func TestCompleteAndGradeIdempotent(t *testing.T) {
	fx := newEngineFixture(t)
	exam := fx.seedExam(true, 30)
	ctx := context.Background()

	result, _, err := fx.svc.StartOrResume(ctx, 1, exam.ID)
	require.NoError(t, err)

	first, err := fx.svc.CompleteAndGrade(ctx, result.ID, eventbus.ReasonSubmitted, []string{result.Token}, model.SubmissionManual)
	require.NoError(t, err)

	second, err := fx.svc.CompleteAndGrade(ctx, result.ID, eventbus.ReasonSubmitted, []string{result.Token}, model.SubmissionManual)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)

	// The loser publishes nothing; only the first transition announced.
	fx.waitForGradeStatus(t, result.ID, model.GradeStatusCompleted)
	var completions int
	for _, ev := range fx.bus.byToken(result.Token) {
		if ev.Type == eventbus.EventSessionCompleted && ev.GradeHistoryID == "" {
			completions++
		}
	}
	assert.Equal(t, 1, completions)
}

func TestAutoSubmitEarlyWakeupRearms(t *testing.T) {
	fx := newEngineFixture(t)
	exam := fx.seedExam(true, 30)
	ctx := context.Background()

	result, _, err := fx.svc.StartOrResume(ctx, 1, exam.ID)
	require.NoError(t, err)
	require.Len(t, fx.sched.scheduled(), 1)

	// Deadline not reached yet: the timer re-arms instead of submitting.
	fx.svc.AutoSubmit(ctx, result.ID)

	sess, err := fx.store.GetByID(ctx, result.ID)
	require.NoError(t, err)
	assert.False(t, sess.IsCompleted)

	calls := fx.sched.scheduled()
	require.Len(t, calls, 2)
	assert.Equal(t, result.ExpiresAt, calls[1].At)
}

func TestAutoSubmitClosesExpiredSession(t *testing.T) {
	fx := newEngineFixture(t)
	exam := fx.seedExam(true, 30)
	ctx := context.Background()

	result, _, err := fx.svc.StartOrResume(ctx, 1, exam.ID)
	require.NoError(t, err)

	fx.clk.Advance(31 * time.Minute)
	fx.svc.AutoSubmit(ctx, result.ID)

	sess, err := fx.store.GetByID(ctx, result.ID)
	require.NoError(t, err)
	assert.True(t, sess.IsCompleted)
	require.NotNil(t, sess.SubmissionType)
	assert.Equal(t, model.SubmissionAutoExpired, *sess.SubmissionType)

	events := fx.bus.byToken(result.Token)
	require.NotEmpty(t, events)
	assert.Equal(t, eventbus.EventSessionCompleted, events[0].Type)
	assert.Equal(t, eventbus.ReasonTimeout, events[0].Reason)
	assert.Equal(t, "Time is up. Your exam was submitted automatically.", events[0].Message)

	// Running again is a no-op.
	fx.svc.AutoSubmit(ctx, result.ID)
	fx.waitForGradeStatus(t, result.ID, model.GradeStatusCompleted)
}

func TestSweepExpired(t *testing.T) {
	fx := newEngineFixture(t)
	exam := fx.seedExam(true, 30)
	longExam := fx.seedExam(true, 120)
	ctx := context.Background()

	short, _, err := fx.svc.StartOrResume(ctx, 1, exam.ID)
	require.NoError(t, err)
	long, _, err := fx.svc.StartOrResume(ctx, 1, longExam.ID)
	require.NoError(t, err)

	// Exactly at the short exam's deadline; the sweep must pick it up on
	// this tick, not the next.
	fx.clk.Advance(30 * time.Minute)
	fx.svc.SweepExpired(ctx)

	closed, err := fx.store.GetByID(ctx, short.ID)
	require.NoError(t, err)
	assert.True(t, closed.IsCompleted)

	open, err := fx.store.GetByID(ctx, long.ID)
	require.NoError(t, err)
	assert.False(t, open.IsCompleted)
}

func TestGetQuestion(t *testing.T) {
	fx := newEngineFixture(t)
	exam := fx.seedExam(true, 30)
	fx.seedQuestion(exam.ID, model.Question{
		QuestionText: "Pick", QuestionType: model.QuestionTypeMultipleChoice,
		ExpectedAnswer: "a", Points: 10, Order: 1,
		Options: []model.Option{{Label: "A", Value: "a"}, {Label: "B", Value: "b"}},
	})
	ctx := context.Background()

	result, _, err := fx.svc.StartOrResume(ctx, 1, exam.ID)
	require.NoError(t, err)
	sess := &result.ExamSession

	view, err := fx.svc.GetQuestion(ctx, sess, 1)
	require.NoError(t, err)
	assert.Equal(t, "Pick", view.QuestionText)
	assert.Len(t, view.Options, 2)

	// The student view never carries the answer key; the navigation
	// position follows the fetch.
	stored, err := fx.store.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentQuestionOrder)

	_, err = fx.svc.GetQuestion(ctx, sess, 2)
	assert.ErrorIs(t, err, ErrQuestionNotFound)

	fx.clk.Advance(31 * time.Minute)
	_, err = fx.svc.GetQuestion(ctx, sess, 1)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestGetSavedAnswerMissing(t *testing.T) {
	fx := newEngineFixture(t)
	exam := fx.seedExam(true, 30)
	ctx := context.Background()

	result, _, err := fx.svc.StartOrResume(ctx, 1, exam.ID)
	require.NoError(t, err)

	saved, err := fx.svc.GetSavedAnswer(ctx, &result.ExamSession, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, saved)
}
