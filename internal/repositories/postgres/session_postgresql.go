package postgres

import (
	"context"

	"github.com/open-exam/exam-engine/internal/models"
	"github.com/open-exam/exam-engine/internal/repositories"
	"gorm.io/gorm"
)

type SessionPostgreSQL struct {
	db      *gorm.DB
	helpers *SharedHelpers
}

func NewSessionPostgreSQL(db *gorm.DB) repositories.SessionRepository {
	return &SessionPostgreSQL{
		db:      db,
		helpers: NewSharedHelpers(db),
	}
}

func (s *SessionPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

func (s *SessionPostgreSQL) Create(ctx context.Context, tx *gorm.DB, session *models.ExamSession) error {
	db := s.getDB(tx)
	return db.WithContext(ctx).Create(session).Error
}

func (s *SessionPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSession, error) {
	db := s.getDB(tx)
	var session models.ExamSession
	if err := db.WithContext(ctx).First(&session, id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *SessionPostgreSQL) GetByIDWithTemplate(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSession, error) {
	db := s.getDB(tx)
	var session models.ExamSession
	if err := db.WithContext(ctx).
		Preload("Template").
		First(&session, id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *SessionPostgreSQL) Update(ctx context.Context, tx *gorm.DB, session *models.ExamSession) error {
	db := s.getDB(tx)
	return db.WithContext(ctx).Save(session).Error
}

func (s *SessionPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.SessionFilters) ([]*models.ExamSession, int64, error) {
	db := s.getDB(tx)
	var sessions []*models.ExamSession
	var total int64

	query := db.WithContext(ctx).Model(&models.ExamSession{})
	query = s.helpers.ApplySessionFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = s.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)
	if err := query.Preload("Template").Find(&sessions).Error; err != nil {
		return nil, 0, err
	}

	return sessions, total, nil
}
