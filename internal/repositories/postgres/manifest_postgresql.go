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

type ManifestPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewManifestPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.ManifestRepository {
	return &ManifestPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (m *ManifestPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return m.db
}

func manifestCacheKey(sessionID uint, participantID string) string {
	return fmt.Sprintf("session:%d:participant:%s", sessionID, participantID)
}

func (m *ManifestPostgreSQL) Create(ctx context.Context, tx *gorm.DB, manifest *models.QuestionManifest) error {
	db := m.getDB(tx)
	return db.WithContext(ctx).Create(manifest).Error
}

func (m *ManifestPostgreSQL) GetBySessionAndParticipant(ctx context.Context, tx *gorm.DB, sessionID uint, participantID string) (*models.QuestionManifest, error) {
	db := m.getDB(tx)
	// Manifests are immutable, so the cache never serves stale data except
	// across a retake, which invalidates it explicitly.
	var manifest models.QuestionManifest

	err := m.cacheManager.Manifest.CacheOrExecute(ctx, manifestCacheKey(sessionID, participantID), &manifest, cache.ManifestCacheConfig.TTL, func() (interface{}, error) {
		var dbManifest models.QuestionManifest
		if err := db.WithContext(ctx).
			Where("session_id = ? AND participant_id = ?", sessionID, participantID).
			First(&dbManifest).Error; err != nil {
			return nil, err
		}
		return &dbManifest, nil
	})

	if err != nil {
		return nil, err
	}
	return &manifest, nil
}

func (m *ManifestPostgreSQL) Delete(ctx context.Context, tx *gorm.DB, sessionID uint, participantID string) error {
	db := m.getDB(tx)
	if err := db.WithContext(ctx).
		Where("session_id = ? AND participant_id = ?", sessionID, participantID).
		Delete(&models.QuestionManifest{}).Error; err != nil {
		return err
	}
	cache.InvalidateManifestCache(ctx, m.cacheManager, sessionID, participantID)
	return nil
}
