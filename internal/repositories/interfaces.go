package repositories

import (
	"context"
	"time"

	"github.com/open-exam/exam-engine/internal/models"
	"gorm.io/gorm"
)

// ===== SHARED FILTER STRUCTS =====

type QuestionFilters struct {
	Type       *models.QuestionType    `json:"type"`
	Difficulty *models.DifficultyLevel `json:"difficulty"`
	BankID     *uint                   `json:"bank_id"`
	CreatedBy  *string                 `json:"created_by"`
	Limit      int                     `json:"limit"`
	Offset     int                     `json:"offset"`
	SortBy     string                  `json:"sort_by"`
	SortOrder  string                  `json:"sort_order"` // "asc", "desc"
}

type TemplateFilters struct {
	SubjectID *string `json:"subject_id"`
	CreatedBy *string `json:"created_by"`
	Limit     int     `json:"limit"`
	Offset    int     `json:"offset"`
	SortBy    string  `json:"sort_by"`
	SortOrder string  `json:"sort_order"`
}

type SessionFilters struct {
	TemplateID *uint      `json:"template_id"`
	ActiveAt   *time.Time `json:"active_at"` // sessions whose window contains this instant
	CreatedBy  *string    `json:"created_by"`
	Limit      int        `json:"limit"`
	Offset     int        `json:"offset"`
	SortBy     string     `json:"sort_by"`
	SortOrder  string     `json:"sort_order"`
}

type SubmissionFilters struct {
	Status        *models.SubmissionStatus `json:"status"`
	GradingStatus *models.GradingStatus    `json:"grading_status"`
	ParticipantID *string                  `json:"participant_id"`
	Limit         int                      `json:"limit"`
	Offset        int                      `json:"offset"`
	SortBy        string                   `json:"sort_by"`
	SortOrder     string                   `json:"sort_order"`
}

// ===== REPOSITORY INTERFACES =====

type QuestionBankRepository interface {
	Create(ctx context.Context, tx *gorm.DB, bank *models.QuestionBank) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.QuestionBank, error)
	Update(ctx context.Context, tx *gorm.DB, bank *models.QuestionBank) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error
	List(ctx context.Context, tx *gorm.DB, createdBy *string, limit, offset int) ([]*models.QuestionBank, int64, error)

	// GetPoolQuestions returns the union of questions across the given banks.
	GetPoolQuestions(ctx context.Context, tx *gorm.DB, bankIDs []uint) ([]*models.Question, error)
	AddQuestions(ctx context.Context, tx *gorm.DB, bankID uint, questionIDs []uint) error
	RemoveQuestions(ctx context.Context, tx *gorm.DB, bankID uint, questionIDs []uint) error
}

type QuestionRepository interface {
	Create(ctx context.Context, tx *gorm.DB, question *models.Question) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Question, error)
	Update(ctx context.Context, tx *gorm.DB, question *models.Question) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error
	List(ctx context.Context, tx *gorm.DB, filters QuestionFilters) ([]*models.Question, int64, error)
}

type TemplateRepository interface {
	Create(ctx context.Context, tx *gorm.DB, template *models.ExamTemplate) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamTemplate, error)
	Update(ctx context.Context, tx *gorm.DB, template *models.ExamTemplate) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error
	List(ctx context.Context, tx *gorm.DB, filters TemplateFilters) ([]*models.ExamTemplate, int64, error)
}

type SessionRepository interface {
	Create(ctx context.Context, tx *gorm.DB, session *models.ExamSession) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSession, error)
	GetByIDWithTemplate(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSession, error)
	Update(ctx context.Context, tx *gorm.DB, session *models.ExamSession) error
	List(ctx context.Context, tx *gorm.DB, filters SessionFilters) ([]*models.ExamSession, int64, error)
}

type ManifestRepository interface {
	Create(ctx context.Context, tx *gorm.DB, manifest *models.QuestionManifest) error
	GetBySessionAndParticipant(ctx context.Context, tx *gorm.DB, sessionID uint, participantID string) (*models.QuestionManifest, error)
	Delete(ctx context.Context, tx *gorm.DB, sessionID uint, participantID string) error
}

type SubmissionRepository interface {
	Create(ctx context.Context, tx *gorm.DB, submission *models.Submission) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Submission, error)
	GetBySessionAndParticipant(ctx context.Context, tx *gorm.DB, sessionID uint, participantID string) (*models.Submission, error)
	Update(ctx context.Context, tx *gorm.DB, submission *models.Submission) error
	ListBySession(ctx context.Context, tx *gorm.DB, sessionID uint, filters SubmissionFilters) ([]*models.Submission, int64, error)

	// ListExpired returns in-progress submissions whose personal deadline
	// passed before now.
	ListExpired(ctx context.Context, tx *gorm.DB, now time.Time) ([]*models.Submission, error)

	// CompleteIfInProgress flips an in-progress submission to completed with
	// a conditional update. Returns false when another writer got there
	// first; that is not an error.
	CompleteIfInProgress(ctx context.Context, tx *gorm.DB, id uint, completedAt time.Time, reason models.EndReason) (bool, error)
}

type AnswerRepository interface {
	// Upsert inserts or replaces the answer for (submission, question).
	// Last write wins per question.
	Upsert(ctx context.Context, tx *gorm.DB, answer *models.Answer) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Answer, error)
	GetBySubmission(ctx context.Context, tx *gorm.DB, submissionID uint) ([]*models.Answer, error)
	GetBySubmissionAndQuestion(ctx context.Context, tx *gorm.DB, submissionID, questionID uint) (*models.Answer, error)
	Update(ctx context.Context, tx *gorm.DB, answer *models.Answer) error
	DeleteBySubmission(ctx context.Context, tx *gorm.DB, submissionID uint) error
	CountPendingManual(ctx context.Context, tx *gorm.DB, submissionID uint) (int64, error)
}

type ViolationRepository interface {
	Create(ctx context.Context, tx *gorm.DB, violation *models.Violation) error
	GetBySubmission(ctx context.Context, tx *gorm.DB, submissionID uint) ([]*models.Violation, error)

	// GetLastOfType returns the most recent violation of one type, for
	// cooldown checks. Not-found is reported via IsNotFoundError.
	GetLastOfType(ctx context.Context, tx *gorm.DB, submissionID uint, vType models.ViolationType) (*models.Violation, error)
}
