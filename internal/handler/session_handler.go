package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/acadexa/assessment-backend/internal/eventbus"
	"github.com/acadexa/assessment-backend/internal/middleware"
	"github.com/acadexa/assessment-backend/internal/model"
	"github.com/acadexa/assessment-backend/internal/response"
	"github.com/acadexa/assessment-backend/internal/service"
	"github.com/acadexa/assessment-backend/internal/validator"
)

// SessionHandler is the thin HTTP surface over the session engine. It
// authenticates, validates the rolling token, delegates, and shapes the
// response; no domain logic lives here.
type SessionHandler struct {
	sessionService *service.SessionService
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

func sessionErrToResponse(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrTokenInvalid):
		// One uniform code for every token failure mode.
		response.Fail(c, http.StatusBadRequest, response.ErrSessionTokenInvalid)
	case errors.Is(err, service.ErrExamNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrExamNotActive):
		response.Fail(c, http.StatusNotFound, response.ErrExamNotActive)
	case errors.Is(err, service.ErrAlreadyCompleted):
		response.Fail(c, http.StatusBadRequest, response.ErrAlreadyCompleted)
	case errors.Is(err, service.ErrQuestionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrQuestionNotFound)
	case errors.Is(err, service.ErrEmptyAnswer), errors.Is(err, service.ErrInvalidAnswer):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
			map[string]string{"answer_text": err.Error()})
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

// resolveSession validates the path token for the authenticated student.
func (h *SessionHandler) resolveSession(c *gin.Context) (*model.ExamSession, string, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, "", false
	}

	tok := c.Param("token")
	sess, err := h.sessionService.ValidateToken(c.Request.Context(), tok, claims.UserID)
	if err != nil {
		sessionErrToResponse(c, err)
		return nil, "", false
	}
	return sess, tok, true
}

// StartSession godoc
// POST /api/v1/exams/:exam_id/start
// Starts a new session (201) or resumes the existing one (200). Either way
// a fresh rolling token is issued and every prior token stops working.
func (h *SessionHandler) StartSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, action, err := h.sessionService.StartOrResume(c.Request.Context(), claims.UserID, examID)
	if err != nil {
		sessionErrToResponse(c, err)
		return
	}

	status := http.StatusOK
	if action == "started" {
		status = http.StatusCreated
	}
	response.Success(c, status, gin.H{
		"session": result,
		"action":  action,
	})
}

// GetQuestion godoc
// GET /api/v1/sessions/:token/questions/:order
// Returns the question (no answer key), the saved answer if any, and a
// progress snapshot.
func (h *SessionHandler) GetQuestion(c *gin.Context) {
	sess, _, ok := h.resolveSession(c)
	if !ok {
		return
	}

	order, err := strconv.Atoi(c.Param("order"))
	if err != nil || order < 1 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	ctx := c.Request.Context()
	question, err := h.sessionService.GetQuestion(ctx, sess, order)
	if err != nil {
		sessionErrToResponse(c, err)
		return
	}

	saved, err := h.sessionService.GetSavedAnswer(ctx, sess, question.ID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	progress, err := h.sessionService.GetProgress(ctx, sess)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"question":     question,
		"saved_answer": saved,
		"progress":     progress,
	})
}

// SubmitAnswer godoc
// POST /api/v1/sessions/:token/questions/:order/answer
// Saves or overwrites the answer to one question.
func (h *SessionHandler) SubmitAnswer(c *gin.Context) {
	sess, _, ok := h.resolveSession(c)
	if !ok {
		return
	}

	order, err := strconv.Atoi(c.Param("order"))
	if err != nil || order < 1 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	answer, progress, err := h.sessionService.SubmitAnswer(c.Request.Context(), sess, order, req.AnswerText)
	if err != nil {
		sessionErrToResponse(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"answer":   answer,
		"progress": progress,
	})
}

// GetProgress godoc
// GET /api/v1/sessions/:token/progress
func (h *SessionHandler) GetProgress(c *gin.Context) {
	sess, _, ok := h.resolveSession(c)
	if !ok {
		return
	}

	progress, err := h.sessionService.GetProgress(c.Request.Context(), sess)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"progress": progress})
}

// Submit godoc
// POST /api/v1/sessions/:token/submit
// Manual submission. Completion is immediate; grading runs asynchronously
// and is observable via the grade endpoints and the WebSocket.
func (h *SessionHandler) Submit(c *gin.Context) {
	sess, tok, ok := h.resolveSession(c)
	if !ok {
		return
	}

	grade, err := h.sessionService.CompleteAndGrade(
		c.Request.Context(), sess.ID, eventbus.ReasonSubmitted, []string{tok}, model.SubmissionManual)
	if err != nil {
		sessionErrToResponse(c, err)
		return
	}

	data := gin.H{"session_id": sess.ID}
	if grade != nil {
		data["grade_history_id"] = grade.ID
		data["grade_status"] = grade.Status
	}
	response.Success(c, http.StatusOK, data)
}
