package postgres

import (
	"context"
	"fmt"

	"github.com/open-exam/exam-engine/internal/models"
	"github.com/open-exam/exam-engine/internal/repositories"
	"gorm.io/gorm"
)

type QuestionBankPostgreSQL struct {
	db      *gorm.DB
	helpers *SharedHelpers
}

func NewQuestionBankPostgreSQL(db *gorm.DB) repositories.QuestionBankRepository {
	return &QuestionBankPostgreSQL{
		db:      db,
		helpers: NewSharedHelpers(db),
	}
}

func (b *QuestionBankPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return b.db
}

func (b *QuestionBankPostgreSQL) Create(ctx context.Context, tx *gorm.DB, bank *models.QuestionBank) error {
	db := b.getDB(tx)
	return db.WithContext(ctx).Create(bank).Error
}

func (b *QuestionBankPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.QuestionBank, error) {
	db := b.getDB(tx)
	var bank models.QuestionBank
	if err := db.WithContext(ctx).First(&bank, id).Error; err != nil {
		return nil, err
	}
	return &bank, nil
}

func (b *QuestionBankPostgreSQL) Update(ctx context.Context, tx *gorm.DB, bank *models.QuestionBank) error {
	db := b.getDB(tx)
	return db.WithContext(ctx).Save(bank).Error
}

func (b *QuestionBankPostgreSQL) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	db := b.getDB(tx)
	return db.WithContext(ctx).Delete(&models.QuestionBank{}, id).Error
}

func (b *QuestionBankPostgreSQL) List(ctx context.Context, tx *gorm.DB, createdBy *string, limit, offset int) ([]*models.QuestionBank, int64, error) {
	db := b.getDB(tx)
	var banks []*models.QuestionBank
	var total int64

	query := db.WithContext(ctx).Model(&models.QuestionBank{})
	if createdBy != nil {
		query = query.Where("created_by = ?", *createdBy)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = b.helpers.ApplyPaginationAndSort(query, "", "", limit, offset)
	if err := query.Find(&banks).Error; err != nil {
		return nil, 0, err
	}

	return banks, total, nil
}

// GetPoolQuestions returns the union of questions across the given banks,
// in bank insertion order, deduplicated when a question belongs to several
// banks.
func (b *QuestionBankPostgreSQL) GetPoolQuestions(ctx context.Context, tx *gorm.DB, bankIDs []uint) ([]*models.Question, error) {
	if len(bankIDs) == 0 {
		return nil, nil
	}
	db := b.getDB(tx)

	var questions []*models.Question
	if err := db.WithContext(ctx).
		Distinct("questions.*").
		Joins("JOIN bank_questions ON bank_questions.question_id = questions.id").
		Where("bank_questions.question_bank_id IN ?", bankIDs).
		Order("questions.id ASC").
		Find(&questions).Error; err != nil {
		return nil, fmt.Errorf("failed to load bank pool: %w", err)
	}

	return questions, nil
}

func (b *QuestionBankPostgreSQL) AddQuestions(ctx context.Context, tx *gorm.DB, bankID uint, questionIDs []uint) error {
	if len(questionIDs) == 0 {
		return nil
	}
	db := b.getDB(tx)

	bank := models.QuestionBank{ID: bankID}
	questions := make([]models.Question, len(questionIDs))
	for i, id := range questionIDs {
		questions[i] = models.Question{ID: id}
	}

	return db.WithContext(ctx).Model(&bank).Association("Questions").Append(&questions)
}

func (b *QuestionBankPostgreSQL) RemoveQuestions(ctx context.Context, tx *gorm.DB, bankID uint, questionIDs []uint) error {
	if len(questionIDs) == 0 {
		return nil
	}
	db := b.getDB(tx)

	bank := models.QuestionBank{ID: bankID}
	questions := make([]models.Question, len(questionIDs))
	for i, id := range questionIDs {
		questions[i] = models.Question{ID: id}
	}

	return db.WithContext(ctx).Model(&bank).Association("Questions").Delete(&questions)
}
