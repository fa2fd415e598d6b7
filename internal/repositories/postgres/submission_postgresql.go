package postgres

import (
	"context"
	"time"

	"github.com/open-exam/exam-engine/internal/models"
	"github.com/open-exam/exam-engine/internal/repositories"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SubmissionPostgreSQL struct {
	db      *gorm.DB
	helpers *SharedHelpers
}

func NewSubmissionPostgreSQL(db *gorm.DB) repositories.SubmissionRepository {
	return &SubmissionPostgreSQL{
		db:      db,
		helpers: NewSharedHelpers(db),
	}
}

func (s *SubmissionPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

func (s *SubmissionPostgreSQL) Create(ctx context.Context, tx *gorm.DB, submission *models.Submission) error {
	db := s.getDB(tx)
	return db.WithContext(ctx).Create(submission).Error
}

func (s *SubmissionPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Submission, error) {
	db := s.getDB(tx)
	var submission models.Submission
	if err := db.WithContext(ctx).First(&submission, id).Error; err != nil {
		return nil, err
	}
	return &submission, nil
}

func (s *SubmissionPostgreSQL) GetBySessionAndParticipant(ctx context.Context, tx *gorm.DB, sessionID uint, participantID string) (*models.Submission, error) {
	db := s.getDB(tx)
	var submission models.Submission
	if err := db.WithContext(ctx).
		Where("session_id = ? AND participant_id = ?", sessionID, participantID).
		First(&submission).Error; err != nil {
		return nil, err
	}
	return &submission, nil
}

func (s *SubmissionPostgreSQL) Update(ctx context.Context, tx *gorm.DB, submission *models.Submission) error {
	db := s.getDB(tx)
	return db.WithContext(ctx).Save(submission).Error
}

func (s *SubmissionPostgreSQL) ListBySession(ctx context.Context, tx *gorm.DB, sessionID uint, filters repositories.SubmissionFilters) ([]*models.Submission, int64, error) {
	db := s.getDB(tx)

	query := db.WithContext(ctx).Model(&models.Submission{}).Where("session_id = ?", sessionID)
	query = s.helpers.ApplySubmissionFilters(query, filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = s.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)

	var submissions []*models.Submission
	if err := query.Find(&submissions).Error; err != nil {
		return nil, 0, err
	}

	return submissions, total, nil
}

func (s *SubmissionPostgreSQL) ListExpired(ctx context.Context, tx *gorm.DB, now time.Time) ([]*models.Submission, error) {
	db := s.getDB(tx)
	var submissions []*models.Submission
	if err := db.WithContext(ctx).
		Where("status = ? AND deadline IS NOT NULL AND deadline < ?", models.SubmissionInProgress, now).
		Find(&submissions).Error; err != nil {
		return nil, err
	}
	return submissions, nil
}

// CompleteIfInProgress is the single authority for closing a submission.
// Concurrent submit/timeout/force-finish all race through this conditional
// update, and only the first writer sees rows affected.
func (s *SubmissionPostgreSQL) CompleteIfInProgress(ctx context.Context, tx *gorm.DB, id uint, completedAt time.Time, reason models.EndReason) (bool, error) {
	db := s.getDB(tx)
	result := db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ? AND status = ?", id, models.SubmissionInProgress).
		Updates(map[string]interface{}{
			"status":       models.SubmissionCompleted,
			"completed_at": completedAt,
			"end_reason":   reason,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

type AnswerPostgreSQL struct {
	db *gorm.DB
}

func NewAnswerPostgreSQL(db *gorm.DB) repositories.AnswerRepository {
	return &AnswerPostgreSQL{db: db}
}

func (a *AnswerPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return a.db
}

func (a *AnswerPostgreSQL) Upsert(ctx context.Context, tx *gorm.DB, answer *models.Answer) error {
	db := a.getDB(tx)
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "submission_id"}, {Name: "question_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"answer", "is_flagged", "updated_at",
		}),
	}).Create(answer).Error
}

func (a *AnswerPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Answer, error) {
	db := a.getDB(tx)
	var answer models.Answer
	if err := db.WithContext(ctx).First(&answer, id).Error; err != nil {
		return nil, err
	}
	return &answer, nil
}

func (a *AnswerPostgreSQL) GetBySubmission(ctx context.Context, tx *gorm.DB, submissionID uint) ([]*models.Answer, error) {
	db := a.getDB(tx)
	var answers []*models.Answer
	if err := db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("question_id ASC").
		Find(&answers).Error; err != nil {
		return nil, err
	}
	return answers, nil
}

func (a *AnswerPostgreSQL) GetBySubmissionAndQuestion(ctx context.Context, tx *gorm.DB, submissionID, questionID uint) (*models.Answer, error) {
	db := a.getDB(tx)
	var answer models.Answer
	if err := db.WithContext(ctx).
		Where("submission_id = ? AND question_id = ?", submissionID, questionID).
		First(&answer).Error; err != nil {
		return nil, err
	}
	return &answer, nil
}

func (a *AnswerPostgreSQL) Update(ctx context.Context, tx *gorm.DB, answer *models.Answer) error {
	db := a.getDB(tx)
	return db.WithContext(ctx).Save(answer).Error
}

func (a *AnswerPostgreSQL) DeleteBySubmission(ctx context.Context, tx *gorm.DB, submissionID uint) error {
	db := a.getDB(tx)
	return db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Delete(&models.Answer{}).Error
}

func (a *AnswerPostgreSQL) CountPendingManual(ctx context.Context, tx *gorm.DB, submissionID uint) (int64, error) {
	db := a.getDB(tx)
	var count int64
	err := db.WithContext(ctx).
		Model(&models.Answer{}).
		Where("submission_id = ? AND grading_status = ?", submissionID, models.GradingPending).
		Count(&count).Error
	return count, err
}

type ViolationPostgreSQL struct {
	db *gorm.DB
}

func NewViolationPostgreSQL(db *gorm.DB) repositories.ViolationRepository {
	return &ViolationPostgreSQL{db: db}
}

func (v *ViolationPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return v.db
}

func (v *ViolationPostgreSQL) Create(ctx context.Context, tx *gorm.DB, violation *models.Violation) error {
	db := v.getDB(tx)
	return db.WithContext(ctx).Create(violation).Error
}

func (v *ViolationPostgreSQL) GetBySubmission(ctx context.Context, tx *gorm.DB, submissionID uint) ([]*models.Violation, error) {
	db := v.getDB(tx)
	var violations []*models.Violation
	if err := db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("occurred_at ASC").
		Find(&violations).Error; err != nil {
		return nil, err
	}
	return violations, nil
}

func (v *ViolationPostgreSQL) GetLastOfType(ctx context.Context, tx *gorm.DB, submissionID uint, vType models.ViolationType) (*models.Violation, error) {
	db := v.getDB(tx)
	var violation models.Violation
	if err := db.WithContext(ctx).
		Where("submission_id = ? AND type = ?", submissionID, vType).
		Order("occurred_at DESC").
		First(&violation).Error; err != nil {
		return nil, err
	}
	return &violation, nil
}
