package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/open-exam/exam-engine/internal/services"
	"github.com/open-exam/exam-engine/internal/utils"
	"github.com/open-exam/exam-engine/internal/validator"
)

type QuestionBankHandler struct {
	BaseHandler
	bankService services.QuestionBankService
	validator   *validator.Validator
}

func NewQuestionBankHandler(
	bankService services.QuestionBankService,
	validator *validator.Validator,
	logger utils.Logger,
) *QuestionBankHandler {
	return &QuestionBankHandler{
		BaseHandler: NewBaseHandler(logger),
		bankService: bankService,
		validator:   validator,
	}
}

// CreateBank creates a new question bank
// @Summary Create question bank
// @Tags banks
// @Accept json
// @Produce json
// @Param bank body services.CreateBankRequest true "Bank data"
// @Success 201 {object} services.BankResponse
// @Failure 400 {object} ErrorResponse
// @Router /banks [post]
func (h *QuestionBankHandler) CreateBank(c *gin.Context) {
	var req services.CreateBankRequest
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

	bank, err := h.bankService.Create(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, bank)
}

// GetBank retrieves a question bank by ID
// @Summary Get question bank
// @Tags banks
// @Produce json
// @Param id path uint true "Bank ID"
// @Success 200 {object} services.BankResponse
// @Failure 404 {object} ErrorResponse
// @Router /banks/{id} [get]
func (h *QuestionBankHandler) GetBank(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	bank, err := h.bankService.GetByID(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, bank)
}

// DeleteBank deletes a question bank
// @Summary Delete question bank
// @Tags banks
// @Produce json
// @Param id path uint true "Bank ID"
// @Success 200 {object} SuccessResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /banks/{id} [delete]
func (h *QuestionBankHandler) DeleteBank(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, _, ok := h.userIdentity(c)
	if !ok {
		return
	}

	if err := h.bankService.Delete(c.Request.Context(), id, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Bank deleted successfully"})
}

// ListBanks lists question banks
// @Summary List question banks
// @Tags banks
// @Produce json
// @Param created_by query string false "Filter by creator"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} services.BankListResponse
// @Router /banks [get]
func (h *QuestionBankHandler) ListBanks(c *gin.Context) {
	var createdBy *string
	if creator := c.Query("created_by"); creator != "" {
		createdBy = &creator
	}

	banks, err := h.bankService.List(c.Request.Context(), createdBy,
		parseQueryInt(c, "limit", 20), parseQueryInt(c, "offset", 0))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, banks)
}

// AddQuestions adds questions to a bank
// @Summary Add questions to bank
// @Description Adds existing questions to the bank; fails when any ID does not exist
// @Tags banks
// @Accept json
// @Produce json
// @Param id path uint true "Bank ID"
// @Param questions body services.BankQuestionsRequest true "Question IDs"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /banks/{id}/questions [post]
func (h *QuestionBankHandler) AddQuestions(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.BankQuestionsRequest
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

	if err := h.bankService.AddQuestions(c.Request.Context(), id, &req, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Questions added to bank"})
}

// RemoveQuestions removes questions from a bank
// @Summary Remove questions from bank
// @Tags banks
// @Accept json
// @Produce json
// @Param id path uint true "Bank ID"
// @Param questions body services.BankQuestionsRequest true "Question IDs"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /banks/{id}/questions [delete]
func (h *QuestionBankHandler) RemoveQuestions(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.BankQuestionsRequest
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

	if err := h.bankService.RemoveQuestions(c.Request.Context(), id, req.QuestionIDs, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Questions removed from bank"})
}
