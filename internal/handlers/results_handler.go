package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/open-exam/exam-engine/internal/services"
	"github.com/open-exam/exam-engine/internal/utils"
)

type ResultsHandler struct {
	BaseHandler
	resultsService services.ResultsService
}

func NewResultsHandler(resultsService services.ResultsService, logger utils.Logger) *ResultsHandler {
	return &ResultsHandler{
		BaseHandler:    NewBaseHandler(logger),
		resultsService: resultsService,
	}
}

// GetOwnScorecard returns the caller's scorecard for a session
// @Summary Get own scorecard
// @Description Returns the caller's scorecard; blocked until results are published
// @Tags results
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} services.Scorecard
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id}/results [get]
func (h *ResultsHandler) GetOwnScorecard(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, role, ok := h.userIdentity(c)
	if !ok {
		return
	}

	scorecard, err := h.resultsService.GetScorecard(c.Request.Context(), id, userID, userID, role)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, scorecard)
}

// GetParticipantScorecard returns one participant's scorecard
// @Summary Get participant scorecard
// @Description Returns a participant's scorecard; staff bypass the publish gate
// @Tags results
// @Produce json
// @Param id path uint true "Session ID"
// @Param participant_id path string true "Participant ID"
// @Success 200 {object} services.Scorecard
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id}/results/{participant_id} [get]
func (h *ResultsHandler) GetParticipantScorecard(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	participantID := c.Param("participant_id")
	if participantID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid participant_id parameter",
		})
		return
	}

	userID, role, ok := h.userIdentity(c)
	if !ok {
		return
	}

	scorecard, err := h.resultsService.GetScorecard(c.Request.Context(), id, participantID, userID, role)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, scorecard)
}

// GetSessionResults returns every scorecard and cohort statistics
// @Summary Get session results
// @Tags results
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} services.SessionResults
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id}/results/all [get]
func (h *ResultsHandler) GetSessionResults(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	results, err := h.resultsService.GetSessionResults(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, results)
}

// GetSessionStats returns cohort statistics for a session
// @Summary Get session statistics
// @Tags results
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} services.SessionStats
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id}/stats [get]
func (h *ResultsHandler) GetSessionStats(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	stats, err := h.resultsService.GetSessionStats(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// PublishResults releases a session's results to participants
// @Summary Publish session results
// @Description Releases results; fails while essay answers are pending manual grading
// @Tags results
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} SuccessResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /sessions/{id}/results/publish [post]
func (h *ResultsHandler) PublishResults(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, _, ok := h.userIdentity(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Publishing session results", "session_id", id, "published_by", userID)

	if err := h.resultsService.Publish(c.Request.Context(), id, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Results published"})
}
