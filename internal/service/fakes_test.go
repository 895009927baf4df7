package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/acadexa/assessment-backend/internal/eventbus"
	"github.com/acadexa/assessment-backend/internal/model"
)

// In-memory store fakes. They mimic the repository contracts closely enough
// for engine tests: pgx.ErrNoRows for misses, conditional writes for the
// submit-once and single-token guarantees.

type tokenRecord struct {
	sessionID uuid.UUID
	valid     bool
}

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*model.ExamSession
	tokens   map[string]*tokenRecord
	answers  map[uuid.UUID]map[uuid.UUID]model.StudentAnswer

	// orderOf maps question IDs to their exam order for AnsweredOrders.
	orderOf map[uuid.UUID]int
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions: make(map[uuid.UUID]*model.ExamSession),
		tokens:   make(map[string]*tokenRecord),
		answers:  make(map[uuid.UUID]map[uuid.UUID]model.StudentAnswer),
		orderOf:  make(map[uuid.UUID]int),
	}
}

func (f *fakeSessionStore) GetByID(_ context.Context, id uuid.UUID) (*model.ExamSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessionStore) GetByExamAndStudent(_ context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.ExamID == examID && s.StudentID == studentID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeSessionStore) CreateIfAbsent(_ context.Context, studentID int, examID uuid.UUID, startedAt, expiresAt time.Time) (*model.ExamSession, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.ExamID == examID && s.StudentID == studentID {
			cp := *s
			return &cp, false, nil
		}
	}
	s := &model.ExamSession{
		ID:                   uuid.New(),
		StudentID:            studentID,
		ExamID:               examID,
		StartedAt:            startedAt,
		ExpiresAt:            expiresAt,
		CurrentQuestionOrder: 1,
	}
	f.sessions[s.ID] = s
	cp := *s
	return &cp, true, nil
}

func (f *fakeSessionStore) invalidateLocked(sessionID uuid.UUID) []string {
	var out []string
	for tok, rec := range f.tokens {
		if rec.sessionID == sessionID && rec.valid {
			rec.valid = false
			out = append(out, tok)
		}
	}
	sort.Strings(out)
	return out
}

func (f *fakeSessionStore) RotateToken(_ context.Context, sessionID uuid.UUID, newToken string, at time.Time) (*model.SessionToken, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	invalidated := f.invalidateLocked(sessionID)
	f.tokens[newToken] = &tokenRecord{sessionID: sessionID, valid: true}
	tok := &model.SessionToken{
		ID:        uuid.New(),
		SessionID: sessionID,
		Token:     newToken,
		IsValid:   true,
		CreatedAt: at,
	}
	return tok, invalidated, nil
}

func (f *fakeSessionStore) FindByValidToken(_ context.Context, tok string) (*model.ExamSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.tokens[tok]
	if !ok || !rec.valid {
		return nil, pgx.ErrNoRows
	}
	s, ok := f.sessions[rec.sessionID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessionStore) ValidTokens(_ context.Context, sessionID uuid.UUID) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for tok, rec := range f.tokens {
		if rec.sessionID == sessionID && rec.valid {
			out = append(out, tok)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeSessionStore) MarkCompletedIfNotAlready(_ context.Context, sessionID uuid.UUID, at time.Time, subType model.SubmissionType) (bool, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return false, nil, pgx.ErrNoRows
	}
	if s.IsCompleted {
		return false, nil, nil
	}
	s.IsCompleted = true
	s.SubmittedAt = &at
	s.SubmissionType = &subType
	return true, f.invalidateLocked(sessionID), nil
}

func (f *fakeSessionStore) UpdateCurrentOrder(_ context.Context, sessionID uuid.UUID, order int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		s.CurrentQuestionOrder = order
	}
	return nil
}

func (f *fakeSessionStore) UpsertAnswer(_ context.Context, a *model.StudentAnswer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.answers[a.SessionID] == nil {
		f.answers[a.SessionID] = make(map[uuid.UUID]model.StudentAnswer)
	}
	if existing, ok := f.answers[a.SessionID][a.QuestionID]; ok {
		a.ID = existing.ID
	} else {
		a.ID = uuid.New()
	}
	f.answers[a.SessionID][a.QuestionID] = *a
	return nil
}

func (f *fakeSessionStore) GetAnswer(_ context.Context, sessionID, questionID uuid.UUID) (*model.StudentAnswer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.answers[sessionID][questionID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := a
	return &cp, nil
}

func (f *fakeSessionStore) ListAnswers(_ context.Context, sessionID uuid.UUID) ([]model.StudentAnswer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.StudentAnswer
	for _, a := range f.answers[sessionID] {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeSessionStore) AnsweredOrders(_ context.Context, sessionID uuid.UUID) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for qid := range f.answers[sessionID] {
		out = append(out, f.orderOf[qid])
	}
	sort.Ints(out)
	return out, nil
}

func (f *fakeSessionStore) CountAnswers(_ context.Context, sessionID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.answers[sessionID]), nil
}

func (f *fakeSessionStore) ListExpiredUncompleted(_ context.Context, now time.Time) ([]model.ExamSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ExamSession
	for _, s := range f.sessions {
		if !s.IsCompleted && s.IsExpired(now) {
			out = append(out, *s)
		}
	}
	return out, nil
}

type fakeExamStore struct {
	mu    sync.Mutex
	exams map[uuid.UUID]*model.Exam
}

func newFakeExamStore() *fakeExamStore {
	return &fakeExamStore{exams: make(map[uuid.UUID]*model.Exam)}
}

func (f *fakeExamStore) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

type fakeQuestionStore struct {
	mu        sync.Mutex
	questions map[uuid.UUID][]model.Question
}

func newFakeQuestionStore() *fakeQuestionStore {
	return &fakeQuestionStore{questions: make(map[uuid.UUID][]model.Question)}
}

func (f *fakeQuestionStore) GetByExamAndOrder(_ context.Context, examID uuid.UUID, order int) (*model.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.questions[examID] {
		if q.Order == order {
			cp := q
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeQuestionStore) ListByExam(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Question, len(f.questions[examID]))
	copy(out, f.questions[examID])
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (f *fakeQuestionStore) CountByExam(_ context.Context, examID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.questions[examID]), nil
}

// publishedEvent pairs a bus event with the token it was addressed to.
type publishedEvent struct {
	Token string
	Event eventbus.Event
}

type fakeBus struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (f *fakeBus) Publish(_ context.Context, token string, ev eventbus.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{Token: token, Event: ev})
}

func (f *fakeBus) published() []publishedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]publishedEvent, len(f.events))
	copy(out, f.events)
	return out
}

// byToken returns the events published to one token, in order.
func (f *fakeBus) byToken(token string) []eventbus.Event {
	var out []eventbus.Event
	for _, pe := range f.published() {
		if pe.Token == token {
			out = append(out, pe.Event)
		}
	}
	return out
}

type schedCall struct {
	At   time.Time
	Task func(ctx context.Context)
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []schedCall
}

func (f *fakeScheduler) Enqueue(at time.Time, task func(ctx context.Context)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, schedCall{At: at, Task: task})
}

func (f *fakeScheduler) scheduled() []schedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]schedCall, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeGradeStore struct {
	mu     sync.Mutex
	grades map[uuid.UUID]*model.GradeHistory
}

func newFakeGradeStore() *fakeGradeStore {
	return &fakeGradeStore{grades: make(map[uuid.UUID]*model.GradeHistory)}
}

func (f *fakeGradeStore) CreatePending(_ context.Context, sess *model.ExamSession, method model.GradingMethod) (*model.GradeHistory, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.grades {
		if g.SessionID == sess.ID {
			cp := *g
			return &cp, false, nil
		}
	}
	g := &model.GradeHistory{
		ID:            uuid.New(),
		SessionID:     sess.ID,
		StudentID:     sess.StudentID,
		ExamID:        sess.ExamID,
		Status:        model.GradeStatusPending,
		GradingMethod: method,
		StartedAt:     sess.StartedAt,
		SubmittedAt:   sess.SubmittedAt,
		CreatedAt:     time.Now(),
	}
	f.grades[g.ID] = g
	cp := *g
	return &cp, true, nil
}

func (f *fakeGradeStore) MarkInProgress(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grades[id]
	if !ok || g.Status != model.GradeStatusPending {
		return false, nil
	}
	g.Status = model.GradeStatusInProgress
	return true, nil
}

func (f *fakeGradeStore) Complete(_ context.Context, id uuid.UUID, totalScore, maxScore float64, details []model.AnswerGrade, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grades[id]
	if !ok {
		return pgx.ErrNoRows
	}
	g.Status = model.GradeStatusCompleted
	g.TotalScore = totalScore
	g.MaxScore = maxScore
	g.Details = details
	g.GradedAt = &at
	g.ErrorMessage = ""
	return nil
}

func (f *fakeGradeStore) Fail(_ context.Context, id uuid.UUID, msg string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grades[id]
	if !ok {
		return pgx.ErrNoRows
	}
	g.Status = model.GradeStatusFailed
	g.ErrorMessage = msg
	g.GradedAt = &at
	return nil
}

func (f *fakeGradeStore) GetByID(_ context.Context, id uuid.UUID) (*model.GradeHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grades[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *g
	return &cp, nil
}

func (f *fakeGradeStore) GetBySession(_ context.Context, sessionID uuid.UUID) (*model.GradeHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.grades {
		if g.SessionID == sessionID {
			cp := *g
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeGradeStore) ListByStudent(_ context.Context, studentID int) ([]model.GradeSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.GradeSummary
	for _, g := range f.grades {
		if g.StudentID == studentID {
			out = append(out, model.GradeSummary{ID: g.ID, SessionID: g.SessionID, ExamID: g.ExamID, Status: g.Status})
		}
	}
	return out, nil
}

func (f *fakeGradeStore) ListByExam(_ context.Context, examID uuid.UUID) ([]model.GradeSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.GradeSummary
	for _, g := range f.grades {
		if g.ExamID == examID {
			out = append(out, model.GradeSummary{ID: g.ID, SessionID: g.SessionID, ExamID: g.ExamID, Status: g.Status})
		}
	}
	return out, nil
}
