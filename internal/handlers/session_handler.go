package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/open-exam/exam-engine/internal/repositories"
	"github.com/open-exam/exam-engine/internal/services"
	"github.com/open-exam/exam-engine/internal/utils"
	"github.com/open-exam/exam-engine/internal/validator"
)

type SessionHandler struct {
	BaseHandler
	sessionService  services.SessionService
	manifestService services.ManifestService
	validator       *validator.Validator
}

func NewSessionHandler(
	sessionService services.SessionService,
	manifestService services.ManifestService,
	validator *validator.Validator,
	logger utils.Logger,
) *SessionHandler {
	return &SessionHandler{
		BaseHandler:     NewBaseHandler(logger),
		sessionService:  sessionService,
		manifestService: manifestService,
		validator:       validator,
	}
}

// CreateSession schedules a new exam session
// @Summary Schedule exam session
// @Description Schedules a session of a template within a time window
// @Tags sessions
// @Accept json
// @Produce json
// @Param session body services.CreateSessionRequest true "Session data"
// @Success 201 {object} services.SessionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions [post]
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req services.CreateSessionRequest
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

	session, err := h.sessionService.Create(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

// GetSession retrieves an exam session by ID
// @Summary Get exam session
// @Tags sessions
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} services.SessionResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id} [get]
func (h *SessionHandler) GetSession(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	session, err := h.sessionService.GetByID(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// UpdateSession updates a session's schedule or audience
// @Summary Update exam session
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path uint true "Session ID"
// @Param session body services.UpdateSessionRequest true "Session updates"
// @Success 200 {object} services.SessionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id} [put]
func (h *SessionHandler) UpdateSession(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.UpdateSessionRequest
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

	session, err := h.sessionService.Update(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// ListSessions lists exam sessions
// @Summary List exam sessions
// @Tags sessions
// @Produce json
// @Param template_id query uint false "Filter by template"
// @Param created_by query string false "Filter by creator"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} services.SessionListResponse
// @Router /sessions [get]
func (h *SessionHandler) ListSessions(c *gin.Context) {
	filters := repositories.SessionFilters{
		Limit:     parseQueryInt(c, "limit", 20),
		Offset:    parseQueryInt(c, "offset", 0),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	if templateID := parseQueryInt(c, "template_id", 0); templateID > 0 {
		id := uint(templateID)
		filters.TemplateID = &id
	}
	if createdBy := c.Query("created_by"); createdBy != "" {
		filters.CreatedBy = &createdBy
	}

	sessions, err := h.sessionService.List(c.Request.Context(), filters)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessions)
}

// StartExam starts or resumes the caller's exam attempt
// @Summary Start exam
// @Description Starts the caller's submission, generating their question manifest. Resumes when already in progress.
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path uint true "Session ID"
// @Param request body services.StartExamRequest true "Entry token when required"
// @Success 200 {object} services.SubmissionResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /sessions/{id}/start [post]
func (h *SessionHandler) StartExam(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.StartExamRequest
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

	h.LogRequest(c, "Starting exam", "session_id", id, "participant_id", userID)

	submission, err := h.sessionService.Start(c.Request.Context(), id, userID, &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, submission)
}

// SaveAnswer saves or replaces one answer of the caller's active submission
// @Summary Save answer
// @Description Upserts one answer; the latest save per question wins
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path uint true "Session ID"
// @Param answer body services.SaveAnswerRequest true "Answer payload"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /sessions/{id}/answers [put]
func (h *SessionHandler) SaveAnswer(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.SaveAnswerRequest
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

	if err := h.sessionService.SaveAnswer(c.Request.Context(), id, userID, &req); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Answer saved"})
}

// SubmitExam submits the caller's exam
// @Summary Submit exam
// @Description Completes the caller's submission and triggers auto grading
// @Tags sessions
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} services.SubmissionResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /sessions/{id}/submit [post]
func (h *SessionHandler) SubmitExam(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, _, ok := h.userIdentity(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Submitting exam", "session_id", id, "participant_id", userID)

	submission, err := h.sessionService.Submit(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, submission)
}

// GetSubmission returns the caller's submission state
// @Summary Get own submission
// @Tags sessions
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} services.SubmissionResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id}/submission [get]
func (h *SessionHandler) GetSubmission(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, _, ok := h.userIdentity(c)
	if !ok {
		return
	}

	submission, err := h.sessionService.GetSubmission(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, submission)
}

// GetManifest returns the caller's question manifest
// @Summary Get question manifest
// @Description Returns the caller's personalized question set without answer keys
// @Tags sessions
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} services.ManifestResponse
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /sessions/{id}/manifest [get]
func (h *SessionHandler) GetManifest(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, _, ok := h.userIdentity(c)
	if !ok {
		return
	}

	manifest, err := h.manifestService.Generate(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, manifest)
}

// PreviewManifest generates a manifest from an explicit seed without persisting it
// @Summary Preview manifest
// @Description Generates a manifest for a given seed; nothing is stored
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path uint true "Session ID"
// @Param request body services.ManifestPreviewRequest true "Preview seed"
// @Success 200 {object} services.ManifestResponse
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /sessions/{id}/preview [post]
func (h *SessionHandler) PreviewManifest(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.ManifestPreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	if err := h.validator.Validate(&req); err != nil {
		h.handleServiceError(c, err)
		return
	}

	manifest, err := h.manifestService.Preview(c.Request.Context(), id, req.Seed)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, manifest)
}

// RecordViolation records a proctoring violation for the caller
// @Summary Record proctoring violation
// @Description Records a violation against the caller's active submission; may force-complete in strict mode
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path uint true "Session ID"
// @Param violation body services.RecordViolationRequest true "Violation report"
// @Success 200 {object} services.ViolationResponse
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /sessions/{id}/violations [post]
func (h *SessionHandler) RecordViolation(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.RecordViolationRequest
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

	result, err := h.sessionService.RecordViolation(c.Request.Context(), id, userID, &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetViolations returns a participant's violation log
// @Summary Get violation log
// @Description Returns every violation report recorded against a participant's submission, counted or not
// @Tags sessions
// @Produce json
// @Param id path uint true "Session ID"
// @Param participant_id path string true "Participant ID"
// @Success 200 {array} models.Violation
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id}/violations/{participant_id} [get]
func (h *SessionHandler) GetViolations(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	participantID := c.Param("participant_id")
	if participantID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Participant ID is required"})
		return
	}

	violations, err := h.sessionService.GetViolations(c.Request.Context(), id, participantID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, violations)
}

// ApplyAdminAction applies an administrative action to participants
// @Summary Apply admin action
// @Description Applies add_time, reset_time, reset_violations, reset_permission, force_finish or retake to a set of participants; per-participant failures do not abort the batch
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path uint true "Session ID"
// @Param action body services.AdminActionRequest true "Action and participants"
// @Success 200 {object} SuccessResponse{data=[]services.AdminActionResult}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id}/admin-actions [post]
func (h *SessionHandler) ApplyAdminAction(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.AdminActionRequest
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

	h.LogRequest(c, "Applying admin action",
		"session_id", id, "action", req.Action, "participants", len(req.ParticipantIDs))

	results, err := h.sessionService.ApplyAdminAction(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Data: results})
}
