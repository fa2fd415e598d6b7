package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/open-exam/exam-engine/internal/answerkey"
	"github.com/open-exam/exam-engine/internal/models"
	"github.com/open-exam/exam-engine/internal/repositories"
	"github.com/open-exam/exam-engine/internal/validator"
)

type questionService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
}

func NewQuestionService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, v *validator.Validator) QuestionService {
	return &questionService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: v,
	}
}

func (s *questionService) Create(ctx context.Context, req *CreateQuestionRequest, creatorID string) (*QuestionResponse, error) {
	s.logger.Info("Creating question", "type", req.Type, "creator_id", creatorID)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if err := validateQuestionPayload(req.Type, req.Content, req.AnswerKey); err != nil {
		return nil, err
	}

	tags, err := marshalJSONB(req.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tags: %w", err)
	}

	question := &models.Question{
		Type:          req.Type,
		Text:          req.Text,
		Content:       datatypes.JSON(req.Content),
		AnswerKey:     datatypes.JSON(req.AnswerKey),
		DefaultPoints: req.Points,
		Difficulty:    req.Difficulty,
		Tags:          tags,
		CreatedBy:     creatorID,
	}

	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		if err := txRepo.Question().Create(ctx, nil, question); err != nil {
			return fmt.Errorf("failed to create question: %w", err)
		}
		for _, bankID := range req.BankIDs {
			if _, err := txRepo.QuestionBank().GetByID(ctx, nil, bankID); err != nil {
				if repositories.IsNotFoundError(err) {
					return ErrBankNotFound
				}
				return fmt.Errorf("failed to get bank %d: %w", bankID, err)
			}
			if err := txRepo.QuestionBank().AddQuestions(ctx, nil, bankID, []uint{question.ID}); err != nil {
				return fmt.Errorf("failed to attach question to bank %d: %w", bankID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &QuestionResponse{Question: question}, nil
}

func (s *questionService) GetByID(ctx context.Context, id uint) (*QuestionResponse, error) {
	question, err := s.repo.Question().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	return &QuestionResponse{Question: question}, nil
}

func (s *questionService) Update(ctx context.Context, id uint, req *UpdateQuestionRequest, userID string) (*QuestionResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	question, err := s.repo.Question().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}

	if question.CreatedBy != userID {
		return nil, NewPermissionError(userID, id, "question", "update", "only the creator can modify a question")
	}

	if req.Text != nil {
		question.Text = *req.Text
	}
	if len(req.Content) > 0 {
		question.Content = datatypes.JSON(req.Content)
	}
	if len(req.AnswerKey) > 0 {
		question.AnswerKey = datatypes.JSON(req.AnswerKey)
	}
	if req.Points != nil {
		question.DefaultPoints = *req.Points
	}
	if req.Difficulty != nil {
		question.Difficulty = *req.Difficulty
	}
	if req.Tags != nil {
		tags, err := marshalJSONB(req.Tags)
		if err != nil {
			return nil, fmt.Errorf("failed to encode tags: %w", err)
		}
		question.Tags = tags
	}

	// Re-check the stored payload whenever content or key changed
	if len(req.Content) > 0 || len(req.AnswerKey) > 0 {
		if err := validateQuestionPayload(question.Type, json.RawMessage(question.Content), json.RawMessage(question.AnswerKey)); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Question().Update(ctx, nil, question); err != nil {
		return nil, fmt.Errorf("failed to update question: %w", err)
	}

	return &QuestionResponse{Question: question}, nil
}

func (s *questionService) Delete(ctx context.Context, id uint, userID string) error {
	question, err := s.repo.Question().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrQuestionNotFound
		}
		return fmt.Errorf("failed to get question: %w", err)
	}

	if question.CreatedBy != userID {
		return NewPermissionError(userID, id, "question", "delete", "only the creator can delete a question")
	}

	return s.repo.Question().Delete(ctx, nil, id)
}

func (s *questionService) List(ctx context.Context, filters repositories.QuestionFilters) (*QuestionListResponse, error) {
	questions, total, err := s.repo.Question().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}

	responses := make([]*QuestionResponse, len(questions))
	for i, question := range questions {
		responses[i] = &QuestionResponse{Question: question}
	}

	page := 1
	if filters.Limit > 0 {
		page = filters.Offset/filters.Limit + 1
	}

	return &QuestionListResponse{
		Questions: responses,
		Total:     total,
		Page:      page,
		Size:      len(responses),
	}, nil
}

// validateQuestionPayload proves the content and key decode for the declared
// type, so nothing malformed reaches a manifest snapshot.
func validateQuestionPayload(qType models.QuestionType, content, key json.RawMessage) error {
	switch qType {
	case models.MultipleChoice:
		var choice models.ChoiceContent
		if err := json.Unmarshal(content, &choice); err != nil {
			return NewValidationError("content", "invalid choice content", string(content))
		}
		if len(choice.Options) < 2 {
			return NewValidationError("content", "at least two options required", len(choice.Options))
		}
		if _, err := answerkey.DecodeMCKey(0, key); err != nil {
			return err
		}
	case models.ComplexChoice:
		var choice models.ChoiceContent
		if err := json.Unmarshal(content, &choice); err != nil {
			return NewValidationError("content", "invalid choice content", string(content))
		}
		if len(choice.Options) < 2 {
			return NewValidationError("content", "at least two options required", len(choice.Options))
		}
		if _, err := answerkey.DecodeComplexMCKey(0, key, choice.PartialCredit); err != nil {
			return err
		}
	case models.Matching:
		var matching models.MatchingContent
		if err := json.Unmarshal(content, &matching); err != nil {
			return NewValidationError("content", "invalid matching content", string(content))
		}
		if len(matching.LeftItems) < 2 || len(matching.RightItems) < 2 {
			return NewValidationError("content", "at least two items per side required", nil)
		}
		if _, err := answerkey.DecodeMatchingKey(0, key, matching); err != nil {
			return err
		}
	case models.ShortAnswer:
		if _, err := answerkey.DecodeShortKey(0, key, false); err != nil {
			return err
		}
	case models.Essay:
		if len(key) > 0 {
			if _, err := answerkey.DecodeEssayKey(0, key); err != nil {
				return err
			}
		}
	case models.TrueFalse:
		if _, err := answerkey.DecodeTrueFalseKey(0, key); err != nil {
			return err
		}
	}
	return nil
}
