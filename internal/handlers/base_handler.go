package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/open-exam/exam-engine/internal/answerkey"
	"github.com/open-exam/exam-engine/internal/services"
	"github.com/open-exam/exam-engine/internal/utils"
)

type ErrorResponse struct {
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// BaseHandler carries the pieces every handler needs.
type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

func (h *BaseHandler) LogRequest(c *gin.Context, msg string, args ...any) {
	logger := utils.LoggerFromContext(c.Request.Context())
	if logger == nil {
		logger = h.logger
	}
	logger.Info(msg, args...)
}

func (h *BaseHandler) RespondWithError(c *gin.Context, status int, message string, err error) {
	response := ErrorResponse{Message: message}
	if err != nil {
		response.Details = err.Error()
	}
	c.JSON(status, response)
}

// parseIDParam parses a numeric path parameter; on failure it writes the 400
// response and returns zero.
func (h *BaseHandler) parseIDParam(c *gin.Context, name string) uint {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + name + " parameter",
		})
		return 0
	}
	return uint(id)
}

// userIdentity reads the gateway identity headers propagated into the
// context by IdentityMiddleware. Writes the 401 response when missing.
func (h *BaseHandler) userIdentity(c *gin.Context) (userID, role string, ok bool) {
	userID = c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return "", "", false
	}
	return userID, c.GetString("user_role"), true
}

// handleServiceError maps service errors to HTTP responses.
func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
	// Handle custom error types first
	var validationErrors services.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: validationErrors,
		})
		return
	}

	var validationError *services.ValidationError
	if errors.As(err, &validationError) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: validationError.Message,
			Details: map[string]interface{}{
				"field": validationError.Field,
				"value": validationError.Value,
			},
		})
		return
	}

	var malformed *answerkey.MalformedAnswerError
	if errors.As(err, &malformed) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Malformed answer payload",
			Details: map[string]interface{}{
				"question_id": malformed.QuestionID,
				"type":        malformed.Type,
				"reason":      malformed.Reason,
			},
		})
		return
	}

	var composition *services.CompositionError
	if errors.As(err, &composition) {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Message: "Question composition cannot be satisfied",
			Details: map[string]interface{}{
				"type":      composition.Type,
				"requested": composition.Requested,
				"available": composition.Available,
			},
		})
		return
	}

	var businessRuleError *services.BusinessRuleError
	if errors.As(err, &businessRuleError) {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Message: businessRuleError.Message,
			Details: map[string]interface{}{
				"rule":    businessRuleError.Rule,
				"context": businessRuleError.Context,
			},
		})
		return
	}

	var tokenError *services.TokenError
	if errors.As(err, &tokenError) {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "Invalid access token",
			Details: tokenError.Reason,
		})
		return
	}

	var permissionError *services.PermissionError
	if errors.As(err, &permissionError) {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Access denied",
			Details: map[string]interface{}{
				"resource": permissionError.Resource,
				"action":   permissionError.Action,
				"reason":   permissionError.Reason,
			},
		})
		return
	}

	var windowError *services.WindowError
	if errors.As(err, &windowError) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: windowError.Error(),
			Details: map[string]interface{}{
				"start_time": windowError.StartTime,
				"end_time":   windowError.EndTime,
			},
		})
		return
	}

	var alreadyCompleted *services.AlreadyCompletedError
	if errors.As(err, &alreadyCompleted) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Submission is already completed",
			Details: map[string]interface{}{
				"submission_id": alreadyCompleted.SubmissionID,
				"completed_at":  alreadyCompleted.CompletedAt,
				"end_reason":    alreadyCompleted.EndReason,
			},
		})
		return
	}

	var publishBlocked *services.PublishBlockedError
	if errors.As(err, &publishBlocked) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Results cannot be published while manual grading is pending",
			Details: map[string]interface{}{
				"pending_answers": publishBlocked.PendingCount,
			},
		})
		return
	}

	// Sentinel errors
	switch {
	case errors.Is(err, services.ErrTemplateNotFound),
		errors.Is(err, services.ErrSessionNotFound),
		errors.Is(err, services.ErrManifestNotFound),
		errors.Is(err, services.ErrSubmissionNotFound),
		errors.Is(err, services.ErrQuestionNotFound),
		errors.Is(err, services.ErrBankNotFound),
		errors.Is(err, services.ErrAnswerNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: err.Error(),
		})
	case errors.Is(err, services.ErrQuestionNotInExam):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Question is not part of this exam",
		})
	case errors.Is(err, services.ErrSubmissionBarred):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Participant is barred from this session",
		})
	case errors.Is(err, services.ErrSubmissionNotActive):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Submission is not in progress",
		})
	case errors.Is(err, services.ErrSubmitTooEarly):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Minimum exam time has not elapsed",
		})
	case errors.Is(err, services.ErrTemplateInUse):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Template has scheduled sessions and cannot be deleted",
		})
	case errors.Is(err, services.ErrViolationsDisabled):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Message: "Violation tracking is disabled for this session",
		})
	case errors.Is(err, services.ErrNotEssayAnswer):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Message: "Only essay answers can be graded manually",
		})
	default:
		h.logger.Error("Unhandled service error", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
		})
	}
}
