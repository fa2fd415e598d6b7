package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/open-exam/exam-engine/internal/models"
	"github.com/open-exam/exam-engine/internal/repositories"
	"github.com/open-exam/exam-engine/internal/validator"
)

// ===== REQUEST/RESPONSE DTOs =====

// Use business validator types
type CreateTemplateRequest = validator.TemplateCreateRequest
type UpdateTemplateRequest = validator.TemplateUpdateRequest
type CreateSessionRequest = validator.SessionCreateRequest
type UpdateSessionRequest = validator.SessionUpdateRequest
type StartExamRequest = validator.StartExamRequest
type SaveAnswerRequest = validator.SaveAnswerRequest
type RecordViolationRequest = validator.RecordViolationRequest
type AdminActionRequest = validator.AdminActionRequest
type GradeAnswerRequest = validator.GradeAnswerRequest
type ManifestPreviewRequest = validator.ManifestPreviewRequest
type CreateQuestionRequest = validator.QuestionCreateRequest
type UpdateQuestionRequest = validator.QuestionUpdateRequest
type CreateBankRequest = validator.BankCreateRequest
type BankQuestionsRequest = validator.BankQuestionsRequest

type ValidationErrors = validator.ValidationErrors

// ===== TEMPLATE DTOs =====

type TemplateResponse struct {
	*models.ExamTemplate
}

type TemplateListResponse struct {
	Templates []*TemplateResponse `json:"templates"`
	Total     int64               `json:"total"`
	Page      int                 `json:"page"`
	Size      int                 `json:"size"`
}

// CompiledSlot is one type's slice of a compiled composition.
type CompiledSlot struct {
	Type      models.QuestionType `json:"type"`
	Requested int                 `json:"requested"`
	Available int                 `json:"available"`
}

// CompiledComposition is the all-or-nothing compilation result: every
// requested type is satisfiable against the current bank pool.
type CompiledComposition struct {
	TemplateID     uint           `json:"template_id"`
	TotalQuestions int            `json:"total_questions"`
	TotalScore     float64        `json:"total_score"`
	Slots          []CompiledSlot `json:"slots"`
}

// ===== SESSION DTOs =====

type SessionResponse struct {
	*models.ExamSession
}

type SessionListResponse struct {
	Sessions []*SessionResponse `json:"sessions"`
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	Size     int                `json:"size"`
}

// ParticipantQuestion is the participant-facing view of one manifest entry.
// Answer keys never leave the server.
type ParticipantQuestion struct {
	Position   int                 `json:"position"`
	QuestionID uint                `json:"question_id"`
	Type       models.QuestionType `json:"type"`
	Text       string              `json:"text"`
	Content    json.RawMessage     `json:"content"`
	Points     float64             `json:"points"`
}

type ManifestResponse struct {
	SessionID     uint                  `json:"session_id"`
	ParticipantID string                `json:"participant_id,omitempty"`
	Seed          string                `json:"seed,omitempty"` // preview only
	Questions     []ParticipantQuestion `json:"questions"`
}

type SubmissionResponse struct {
	*models.Submission
	TimeRemainingSeconds int `json:"time_remaining_seconds"`
}

type ViolationResponse struct {
	Counted        bool `json:"counted"`
	ViolationCount int  `json:"violation_count"`
	MaxViolations  int  `json:"max_violations"`
	ForceCompleted bool `json:"force_completed"`
}

// AdminActionResult is one participant's outcome of a batch admin action.
// A failure for one participant never aborts the rest of the batch.
type AdminActionResult struct {
	ParticipantID string `json:"participant_id"`
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
}

// ===== GRADING DTOs =====

type GradingResult struct {
	AnswerID   uint                `json:"answer_id"`
	QuestionID uint                `json:"question_id"`
	Type       models.QuestionType `json:"type"`
	Score      float64             `json:"score"`
	MaxPoints  float64             `json:"max_points"`
	IsCorrect  *bool               `json:"is_correct"`
	Pending    bool                `json:"pending"`
	GradedAt   time.Time           `json:"graded_at"`
	GradedBy   *string             `json:"graded_by,omitempty"`
	Notes      *string             `json:"notes,omitempty"`
	Warning    string              `json:"warning,omitempty"`
}

type SubmissionGradingResult struct {
	SubmissionID  uint                 `json:"submission_id"`
	TotalScore    float64              `json:"total_score"`
	MaxScore      float64              `json:"max_score"`
	GradingStatus models.GradingStatus `json:"grading_status"`
	Questions     []GradingResult      `json:"questions"`
	GradedAt      time.Time            `json:"graded_at"`
}

// ===== RESULTS DTOs =====

type TypeSubtotal struct {
	Type      models.QuestionType `json:"type"`
	Earned    float64             `json:"earned"`
	MaxPoints float64             `json:"max_points"`
}

type Scorecard struct {
	SubmissionID   uint                    `json:"submission_id"`
	SessionID      uint                    `json:"session_id"`
	ParticipantID  string                  `json:"participant_id"`
	Status         models.SubmissionStatus `json:"status"`
	GradingStatus  models.GradingStatus    `json:"grading_status"`
	EndReason      *models.EndReason       `json:"end_reason,omitempty"`
	Score          float64                 `json:"score"`
	TotalScore     float64                 `json:"total_score"`
	Subtotals      []TypeSubtotal          `json:"subtotals"`
	ViolationCount int                     `json:"violation_count"`
	Published      bool                    `json:"published"`
	CompletedAt    *time.Time              `json:"completed_at,omitempty"`
}

// SessionStats are cohort statistics over one session's submissions.
// Zero-safe: an empty cohort reports zeroes, never a division error.
type SessionStats struct {
	SessionID      uint    `json:"session_id"`
	Participants   int     `json:"participants"`
	Completed      int     `json:"completed"`
	CompletionRate float64 `json:"completion_rate"`
	MeanScore      float64 `json:"mean_score"`
	MaxScore       float64 `json:"max_score"`
	MinScore       float64 `json:"min_score"`
}

type SessionResults struct {
	SessionID  uint         `json:"session_id"`
	Stats      SessionStats `json:"stats"`
	Scorecards []*Scorecard `json:"scorecards"`
}

// ===== QUESTION DTOs =====

type QuestionResponse struct {
	*models.Question
}

type QuestionListResponse struct {
	Questions []*QuestionResponse `json:"questions"`
	Total     int64               `json:"total"`
	Page      int                 `json:"page"`
	Size      int                 `json:"size"`
}

type BankResponse struct {
	*models.QuestionBank
	QuestionCount int `json:"question_count"`
}

type BankListResponse struct {
	Banks []*BankResponse `json:"banks"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Size  int             `json:"size"`
}

// ===== SERVICE INTERFACES =====

type TemplateService interface {
	Create(ctx context.Context, req *CreateTemplateRequest, creatorID string) (*TemplateResponse, error)
	GetByID(ctx context.Context, id uint) (*TemplateResponse, error)
	Update(ctx context.Context, id uint, req *UpdateTemplateRequest, userID string) (*TemplateResponse, error)
	Delete(ctx context.Context, id uint, userID string) error
	List(ctx context.Context, filters repositories.TemplateFilters) (*TemplateListResponse, error)

	// Compile checks the template's composition against the current bank
	// pool. All-or-nothing and side-effect-free, so it can run at authoring
	// time and again at first instantiation.
	Compile(ctx context.Context, id uint) (*CompiledComposition, error)
}

type ManifestService interface {
	// Generate returns the participant's manifest, creating it exactly once
	// per (session, participant). Concurrent calls share one generation.
	Generate(ctx context.Context, sessionID uint, participantID string) (*ManifestResponse, error)

	// Preview generates a manifest from an explicit seed without persisting
	// anything. Administrative use.
	Preview(ctx context.Context, sessionID uint, seed string) (*ManifestResponse, error)
}

type SessionService interface {
	Create(ctx context.Context, req *CreateSessionRequest, creatorID string) (*SessionResponse, error)
	GetByID(ctx context.Context, id uint) (*SessionResponse, error)
	Update(ctx context.Context, id uint, req *UpdateSessionRequest, userID string) (*SessionResponse, error)
	List(ctx context.Context, filters repositories.SessionFilters) (*SessionListResponse, error)

	// Participant state machine
	Start(ctx context.Context, sessionID uint, participantID string, req *StartExamRequest) (*SubmissionResponse, error)
	SaveAnswer(ctx context.Context, sessionID uint, participantID string, req *SaveAnswerRequest) error
	Submit(ctx context.Context, sessionID uint, participantID string) (*SubmissionResponse, error)
	GetSubmission(ctx context.Context, sessionID uint, participantID string) (*SubmissionResponse, error)

	// Proctoring
	RecordViolation(ctx context.Context, sessionID uint, participantID string, req *RecordViolationRequest) (*ViolationResponse, error)

	// GetViolations returns the audit trail for one participant's submission.
	GetViolations(ctx context.Context, sessionID uint, participantID string) ([]*models.Violation, error)

	// Admin
	ApplyAdminAction(ctx context.Context, sessionID uint, req *AdminActionRequest, adminID string) ([]AdminActionResult, error)

	// SweepExpired finalizes in-progress submissions whose personal deadline
	// has passed. Driven by the background sweeper.
	SweepExpired(ctx context.Context) (int, error)
}

type GradingService interface {
	// AutoGradeSubmission grades every answer of a completed submission in
	// one transaction. Essay answers become pending_manual.
	AutoGradeSubmission(ctx context.Context, submissionID uint) (*SubmissionGradingResult, error)

	// GradeEssayAnswer records a manual grade for one essay answer.
	GradeEssayAnswer(ctx context.Context, answerID uint, req *GradeAnswerRequest, graderID string) (*GradingResult, error)

	// RegradeSession re-runs auto grading for every completed submission of
	// a session, e.g. after an answer-key fix.
	RegradeSession(ctx context.Context, sessionID uint, userID string) (map[string]*SubmissionGradingResult, error)
}

type ResultsService interface {
	GetScorecard(ctx context.Context, sessionID uint, participantID string, requesterID, requesterRole string) (*Scorecard, error)
	GetSessionResults(ctx context.Context, sessionID uint) (*SessionResults, error)
	GetSessionStats(ctx context.Context, sessionID uint) (*SessionStats, error)

	// Publish releases results to participants. Blocked while any essay
	// answer is pending manual grading.
	Publish(ctx context.Context, sessionID uint, publisherID string) error
}

type QuestionService interface {
	Create(ctx context.Context, req *CreateQuestionRequest, creatorID string) (*QuestionResponse, error)
	GetByID(ctx context.Context, id uint) (*QuestionResponse, error)
	Update(ctx context.Context, id uint, req *UpdateQuestionRequest, userID string) (*QuestionResponse, error)
	Delete(ctx context.Context, id uint, userID string) error
	List(ctx context.Context, filters repositories.QuestionFilters) (*QuestionListResponse, error)
}

type QuestionBankService interface {
	Create(ctx context.Context, req *CreateBankRequest, creatorID string) (*BankResponse, error)
	GetByID(ctx context.Context, id uint) (*BankResponse, error)
	Delete(ctx context.Context, id uint, userID string) error
	List(ctx context.Context, createdBy *string, limit, offset int) (*BankListResponse, error)
	AddQuestions(ctx context.Context, bankID uint, req *BankQuestionsRequest, userID string) error
	RemoveQuestions(ctx context.Context, bankID uint, questionIDs []uint, userID string) error
}

// ===== SERVICE MANAGER =====

type ServiceManager interface {
	Template() TemplateService
	Manifest() ManifestService
	Session() SessionService
	Grading() GradingService
	Results() ResultsService
	Question() QuestionService
	QuestionBank() QuestionBankService

	// Health and lifecycle
	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
