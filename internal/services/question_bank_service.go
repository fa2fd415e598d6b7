package services

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/open-exam/exam-engine/internal/models"
	"github.com/open-exam/exam-engine/internal/repositories"
	"github.com/open-exam/exam-engine/internal/validator"
)

type questionBankService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
}

func NewQuestionBankService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, v *validator.Validator) QuestionBankService {
	return &questionBankService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: v,
	}
}

func (s *questionBankService) Create(ctx context.Context, req *CreateBankRequest, creatorID string) (*BankResponse, error) {
	s.logger.Info("Creating question bank", "name", req.Name, "creator_id", creatorID)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	bank := &models.QuestionBank{
		Name:        req.Name,
		Description: req.Description,
		CreatedBy:   creatorID,
	}
	if err := s.repo.QuestionBank().Create(ctx, nil, bank); err != nil {
		return nil, fmt.Errorf("failed to create bank: %w", err)
	}

	return &BankResponse{QuestionBank: bank}, nil
}

func (s *questionBankService) GetByID(ctx context.Context, id uint) (*BankResponse, error) {
	bank, err := s.repo.QuestionBank().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrBankNotFound
		}
		return nil, fmt.Errorf("failed to get bank: %w", err)
	}
	return &BankResponse{
		QuestionBank:  bank,
		QuestionCount: len(bank.Questions),
	}, nil
}

func (s *questionBankService) Delete(ctx context.Context, id uint, userID string) error {
	bank, err := s.repo.QuestionBank().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrBankNotFound
		}
		return fmt.Errorf("failed to get bank: %w", err)
	}

	if bank.CreatedBy != userID {
		return NewPermissionError(userID, id, "question_bank", "delete", "only the creator can delete a bank")
	}

	return s.repo.QuestionBank().Delete(ctx, nil, id)
}

func (s *questionBankService) List(ctx context.Context, createdBy *string, limit, offset int) (*BankListResponse, error) {
	banks, total, err := s.repo.QuestionBank().List(ctx, nil, createdBy, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list banks: %w", err)
	}

	responses := make([]*BankResponse, len(banks))
	for i, bank := range banks {
		responses[i] = &BankResponse{
			QuestionBank:  bank,
			QuestionCount: len(bank.Questions),
		}
	}

	page := 1
	if limit > 0 {
		page = offset/limit + 1
	}

	return &BankListResponse{
		Banks: responses,
		Total: total,
		Page:  page,
		Size:  len(responses),
	}, nil
}

func (s *questionBankService) AddQuestions(ctx context.Context, bankID uint, req *BankQuestionsRequest, userID string) error {
	if err := s.validator.Validate(req); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	bank, err := s.repo.QuestionBank().GetByID(ctx, nil, bankID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrBankNotFound
		}
		return fmt.Errorf("failed to get bank: %w", err)
	}
	if bank.CreatedBy != userID {
		return NewPermissionError(userID, bankID, "question_bank", "update", "only the creator can modify a bank")
	}

	questions, err := s.repo.Question().GetByIDs(ctx, nil, req.QuestionIDs)
	if err != nil {
		return fmt.Errorf("failed to get questions: %w", err)
	}
	if len(questions) != len(req.QuestionIDs) {
		return ErrQuestionNotFound
	}

	return s.repo.QuestionBank().AddQuestions(ctx, nil, bankID, req.QuestionIDs)
}

func (s *questionBankService) RemoveQuestions(ctx context.Context, bankID uint, questionIDs []uint, userID string) error {
	bank, err := s.repo.QuestionBank().GetByID(ctx, nil, bankID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrBankNotFound
		}
		return fmt.Errorf("failed to get bank: %w", err)
	}
	if bank.CreatedBy != userID {
		return NewPermissionError(userID, bankID, "question_bank", "update", "only the creator can modify a bank")
	}

	return s.repo.QuestionBank().RemoveQuestions(ctx, nil, bankID, questionIDs)
}
