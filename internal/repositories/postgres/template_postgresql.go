package postgres

import (
	"context"
	"fmt"

	"github.com/open-exam/exam-engine/internal/cache"
	"github.com/open-exam/exam-engine/internal/models"
	"github.com/open-exam/exam-engine/internal/repositories"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type TemplatePostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewTemplatePostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.TemplateRepository {
	return &TemplatePostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (t *TemplatePostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return t.db
}

func (t *TemplatePostgreSQL) Create(ctx context.Context, tx *gorm.DB, template *models.ExamTemplate) error {
	db := t.getDB(tx)
	return db.WithContext(ctx).Create(template).Error
}

func (t *TemplatePostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamTemplate, error) {
	db := t.getDB(tx)
	cacheKey := fmt.Sprintf("id:%d", id)
	var template models.ExamTemplate

	err := t.cacheManager.Template.CacheOrExecute(ctx, cacheKey, &template, cache.TemplateCacheConfig.TTL, func() (interface{}, error) {
		var dbTemplate models.ExamTemplate
		if err := db.WithContext(ctx).First(&dbTemplate, id).Error; err != nil {
			return nil, err
		}
		return &dbTemplate, nil
	})

	if err != nil {
		return nil, err
	}
	return &template, nil
}

func (t *TemplatePostgreSQL) Update(ctx context.Context, tx *gorm.DB, template *models.ExamTemplate) error {
	db := t.getDB(tx)
	if err := db.WithContext(ctx).Save(template).Error; err != nil {
		return err
	}
	cache.InvalidateTemplateCache(ctx, t.cacheManager, template.ID)
	return nil
}

func (t *TemplatePostgreSQL) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	db := t.getDB(tx)
	if err := db.WithContext(ctx).Delete(&models.ExamTemplate{}, id).Error; err != nil {
		return err
	}
	cache.InvalidateTemplateCache(ctx, t.cacheManager, id)
	return nil
}

func (t *TemplatePostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.TemplateFilters) ([]*models.ExamTemplate, int64, error) {
	db := t.getDB(tx)
	var templates []*models.ExamTemplate
	var total int64

	query := db.WithContext(ctx).Model(&models.ExamTemplate{})
	query = t.helpers.ApplyTemplateFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = t.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)
	if err := query.Find(&templates).Error; err != nil {
		return nil, 0, err
	}

	return templates, total, nil
}
