package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/open-exam/exam-engine/internal/services"
	"github.com/open-exam/exam-engine/internal/utils"
	"github.com/open-exam/exam-engine/internal/validator"
)

type GradingHandler struct {
	BaseHandler
	gradingService services.GradingService
	validator      *validator.Validator
}

func NewGradingHandler(
	gradingService services.GradingService,
	validator *validator.Validator,
	logger utils.Logger,
) *GradingHandler {
	return &GradingHandler{
		BaseHandler:    NewBaseHandler(logger),
		gradingService: gradingService,
		validator:      validator,
	}
}

// GradeEssayAnswer records a manual grade for one essay answer
// @Summary Grade essay answer
// @Description Records a manual score and notes for an essay answer
// @Tags grading
// @Accept json
// @Produce json
// @Param id path uint true "Answer ID"
// @Param grade body services.GradeAnswerRequest true "Score and notes"
// @Success 200 {object} services.GradingResult
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /grading/answers/{id} [post]
func (h *GradingHandler) GradeEssayAnswer(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.GradeAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, _, ok := h.userIdentity(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Grading essay answer", "answer_id", id, "grader_id", userID)

	result, err := h.gradingService.GradeEssayAnswer(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// RegradeSession re-runs auto grading for a session
// @Summary Regrade session
// @Description Re-grades every completed submission of the session; manual essay grades are preserved
// @Tags grading
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} SuccessResponse
// @Failure 404 {object} ErrorResponse
// @Router /grading/sessions/{id}/regrade [post]
func (h *GradingHandler) RegradeSession(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, _, ok := h.userIdentity(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Regrading session", "session_id", id, "requested_by", userID)

	results, err := h.gradingService.RegradeSession(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Session regraded",
		Data:    results,
	})
}
