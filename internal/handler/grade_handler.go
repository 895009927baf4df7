package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/acadexa/assessment-backend/internal/middleware"
	"github.com/acadexa/assessment-backend/internal/response"
	"github.com/acadexa/assessment-backend/internal/service"
)

// GradeHandler exposes grade history to students and staff.
type GradeHandler struct {
	gradingService *service.GradingService
}

// NewGradeHandler creates a new GradeHandler.
func NewGradeHandler(gradingService *service.GradingService) *GradeHandler {
	return &GradeHandler{gradingService: gradingService}
}

// ListMyGrades godoc
// GET /api/v1/grades
// The authenticated student's grade history, newest first.
func (h *GradeHandler) ListMyGrades(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	grades, err := h.gradingService.ListForStudent(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"grades": grades})
}

// GetGrade godoc
// GET /api/v1/grades/:grade_id
// One grade record with the per-answer breakdown. Students can only read
// their own records; staff can read any.
func (h *GradeHandler) GetGrade(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	gradeID, err := uuid.Parse(c.Param("grade_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	grade, err := h.gradingService.GetByID(c.Request.Context(), gradeID)
	if err != nil {
		if errors.Is(err, service.ErrGradeNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	if claims.TokenType != service.TokenTypeAdmin && grade.StudentID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"grade":      grade,
		"percentage": grade.Percentage(),
	})
}

// ListExamGrades godoc
// GET /api/v1/admin/exams/:exam_id/grades
// Every grade for one exam, for staff review.
func (h *GradeHandler) ListExamGrades(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	grades, err := h.gradingService.ListForExam(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"grades": grades})
}
