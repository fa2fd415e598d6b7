package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/open-exam/exam-engine/internal/models"
	"github.com/open-exam/exam-engine/internal/repositories"
	"github.com/open-exam/exam-engine/internal/validator"
)

type templateService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
}

func NewTemplateService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator) TemplateService {
	return &templateService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
	}
}

// ===== CORE CRUD OPERATIONS =====

func (s *templateService) Create(ctx context.Context, req *CreateTemplateRequest, creatorID string) (*TemplateResponse, error) {
	s.logger.Info("Creating exam template",
		"title", req.Title,
		"creator_id", creatorID)

	// Validate request
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	if err := validateComposition(req.QuestionComposition); err != nil {
		return nil, err
	}

	template := &models.ExamTemplate{
		Title:            req.Title,
		SubjectID:        req.SubjectID,
		DurationMinutes:  req.DurationMinutes,
		TotalScore:       req.TotalScore,
		RequireToken:     req.RequireToken,
		MinSubmitMinutes: req.MinSubmitMinutes,
		CreatedBy:        creatorID,
	}

	var err error
	if template.QuestionComposition, err = marshalJSONB(req.QuestionComposition); err != nil {
		return nil, fmt.Errorf("failed to encode composition: %w", err)
	}
	if template.BankIDs, err = marshalJSONB(req.BankIDs); err != nil {
		return nil, fmt.Errorf("failed to encode bank ids: %w", err)
	}
	if req.RandomizationRules != nil {
		if err := s.validator.Validate(req.RandomizationRules); err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}
		if template.RandomizationRules, err = marshalJSONB(req.RandomizationRules); err != nil {
			return nil, fmt.Errorf("failed to encode randomization rules: %w", err)
		}
	}
	if req.ViolationSettings != nil {
		if err := s.validator.Validate(req.ViolationSettings); err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}
		if template.ViolationSettings, err = marshalJSONB(req.ViolationSettings); err != nil {
			return nil, fmt.Errorf("failed to encode violation settings: %w", err)
		}
	}

	// Verify every referenced bank exists
	for _, bankID := range req.BankIDs {
		if _, err := s.repo.QuestionBank().GetByID(ctx, nil, bankID); err != nil {
			if repositories.IsNotFoundError(err) {
				return nil, fmt.Errorf("%w: bank %d", ErrBankNotFound, bankID)
			}
			return nil, fmt.Errorf("failed to check bank %d: %w", bankID, err)
		}
	}

	if err := s.repo.Template().Create(ctx, nil, template); err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}

	s.logger.Info("Exam template created", "template_id", template.ID)

	return &TemplateResponse{ExamTemplate: template}, nil
}

func (s *templateService) GetByID(ctx context.Context, id uint) (*TemplateResponse, error) {
	template, err := s.repo.Template().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &TemplateResponse{ExamTemplate: template}, nil
}

func (s *templateService) Update(ctx context.Context, id uint, req *UpdateTemplateRequest, userID string) (*TemplateResponse, error) {
	s.logger.Info("Updating exam template", "template_id", id, "user_id", userID)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	template, err := s.repo.Template().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	if template.CreatedBy != userID {
		return nil, NewPermissionError(userID, id, "template", "update", "not the template owner")
	}

	applyTemplateUpdates(template, req)

	if req.QuestionComposition != nil {
		if err := validateComposition(req.QuestionComposition); err != nil {
			return nil, err
		}
		if template.QuestionComposition, err = marshalJSONB(req.QuestionComposition); err != nil {
			return nil, fmt.Errorf("failed to encode composition: %w", err)
		}
	}
	if req.BankIDs != nil {
		if template.BankIDs, err = marshalJSONB(req.BankIDs); err != nil {
			return nil, fmt.Errorf("failed to encode bank ids: %w", err)
		}
	}
	if req.RandomizationRules != nil {
		if err := s.validator.Validate(req.RandomizationRules); err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}
		if template.RandomizationRules, err = marshalJSONB(req.RandomizationRules); err != nil {
			return nil, fmt.Errorf("failed to encode randomization rules: %w", err)
		}
	}
	if req.ViolationSettings != nil {
		if err := s.validator.Validate(req.ViolationSettings); err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}
		if template.ViolationSettings, err = marshalJSONB(req.ViolationSettings); err != nil {
			return nil, fmt.Errorf("failed to encode violation settings: %w", err)
		}
	}

	if err := s.repo.Template().Update(ctx, nil, template); err != nil {
		return nil, fmt.Errorf("failed to update template: %w", err)
	}

	return &TemplateResponse{ExamTemplate: template}, nil
}

func (s *templateService) Delete(ctx context.Context, id uint, userID string) error {
	s.logger.Info("Deleting exam template", "template_id", id, "user_id", userID)

	template, err := s.repo.Template().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrTemplateNotFound
		}
		return fmt.Errorf("failed to get template: %w", err)
	}

	if template.CreatedBy != userID {
		return NewPermissionError(userID, id, "template", "delete", "not the template owner")
	}

	// A template with scheduled sessions cannot disappear from under them
	sessions, total, err := s.repo.Session().List(ctx, nil, repositories.SessionFilters{
		TemplateID: &id,
		Limit:      1,
	})
	if err != nil {
		return fmt.Errorf("failed to check sessions: %w", err)
	}
	if total > 0 || len(sessions) > 0 {
		return ErrTemplateInUse
	}

	if err := s.repo.Template().Delete(ctx, nil, id); err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}

	return nil
}

func (s *templateService) List(ctx context.Context, filters repositories.TemplateFilters) (*TemplateListResponse, error) {
	templates, total, err := s.repo.Template().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	responses := make([]*TemplateResponse, len(templates))
	for i, t := range templates {
		responses[i] = &TemplateResponse{ExamTemplate: t}
	}

	page := 1
	if filters.Limit > 0 {
		page = filters.Offset/filters.Limit + 1
	}

	return &TemplateListResponse{
		Templates: responses,
		Total:     total,
		Page:      page,
		Size:      len(responses),
	}, nil
}

// ===== COMPILATION =====

func (s *templateService) Compile(ctx context.Context, id uint) (*CompiledComposition, error) {
	template, err := s.repo.Template().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	composition, err := template.Composition()
	if err != nil {
		return nil, fmt.Errorf("failed to decode composition: %w", err)
	}
	bankIDs, err := template.BankIDList()
	if err != nil {
		return nil, fmt.Errorf("failed to decode bank ids: %w", err)
	}

	pool, err := s.repo.QuestionBank().GetPoolQuestions(ctx, nil, bankIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load bank pool: %w", err)
	}

	return CompileTemplate(template, composition, pool)
}

// CompileTemplate checks the requested composition against the pool.
// Pure and repeatable: the first unsatisfiable type fails the whole
// compilation, there is no partial result.
func CompileTemplate(template *models.ExamTemplate, composition map[models.QuestionType]int, pool []*models.Question) (*CompiledComposition, error) {
	byType := make(map[models.QuestionType]int)
	for _, q := range pool {
		byType[q.Type]++
	}

	result := &CompiledComposition{
		TemplateID: template.ID,
		TotalScore: template.TotalScore,
	}

	// Iterate in the stable type order so repeated compiles report the same
	// deficient type first.
	for _, qType := range models.AllQuestionTypes {
		requested, ok := composition[qType]
		if !ok || requested == 0 {
			continue
		}
		available := byType[qType]
		if available < requested {
			return nil, &CompositionError{
				Type:      qType,
				Requested: requested,
				Available: available,
			}
		}
		result.Slots = append(result.Slots, CompiledSlot{
			Type:      qType,
			Requested: requested,
			Available: available,
		})
		result.TotalQuestions += requested
	}

	if result.TotalQuestions == 0 {
		return nil, NewValidationError("question_composition", "composition requests no questions", composition)
	}

	return result, nil
}

// ===== HELPERS =====

func validateComposition(composition map[models.QuestionType]int) error {
	total := 0
	for qType, count := range composition {
		if !models.IsValidQuestionType(qType) {
			return NewValidationError("question_composition", "unknown question type", string(qType))
		}
		if count < 0 {
			return NewValidationError("question_composition", "counts must not be negative", count)
		}
		total += count
	}
	if total == 0 {
		return NewValidationError("question_composition", "composition requests no questions", composition)
	}
	return nil
}

func applyTemplateUpdates(template *models.ExamTemplate, req *UpdateTemplateRequest) {
	if req.Title != nil {
		template.Title = *req.Title
	}
	if req.SubjectID != nil {
		template.SubjectID = *req.SubjectID
	}
	if req.DurationMinutes != nil {
		template.DurationMinutes = *req.DurationMinutes
	}
	if req.TotalScore != nil {
		template.TotalScore = *req.TotalScore
	}
	if req.RequireToken != nil {
		template.RequireToken = *req.RequireToken
	}
	if req.MinSubmitMinutes != nil {
		template.MinSubmitMinutes = *req.MinSubmitMinutes
	}
}

func marshalJSONB(v interface{}) (datatypes.JSON, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}
