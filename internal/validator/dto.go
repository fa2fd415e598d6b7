package validator

import (
	"encoding/json"
	"time"

	"github.com/open-exam/exam-engine/internal/models"
)

// TemplateCreateRequest represents the request structure for creating exam templates
type TemplateCreateRequest struct {
	Title           string  `json:"title" validate:"required,min=1,max=255"`
	SubjectID       string  `json:"subject_id" validate:"omitempty,max=100"`
	DurationMinutes int     `json:"duration_minutes" validate:"required,exam_duration"`
	TotalScore      float64 `json:"total_score" validate:"required,gt=0"`

	// QuestionComposition maps question type to the requested count.
	QuestionComposition map[models.QuestionType]int `json:"question_composition" validate:"required,min=1"`
	BankIDs             []uint                      `json:"bank_ids" validate:"required,min=1"`

	RandomizationRules *models.RandomizationRules `json:"randomization_rules"`
	ViolationSettings  *models.ViolationSettings  `json:"violation_settings"`

	RequireToken     bool `json:"require_token"`
	MinSubmitMinutes int  `json:"min_submit_minutes" validate:"min=0"`
}

// TemplateUpdateRequest represents the request structure for updating exam templates
type TemplateUpdateRequest struct {
	Title           *string  `json:"title" validate:"omitempty,min=1,max=255"`
	SubjectID       *string  `json:"subject_id" validate:"omitempty,max=100"`
	DurationMinutes *int     `json:"duration_minutes" validate:"omitempty,exam_duration"`
	TotalScore      *float64 `json:"total_score" validate:"omitempty,gt=0"`

	QuestionComposition map[models.QuestionType]int `json:"question_composition"`
	BankIDs             []uint                      `json:"bank_ids"`

	RandomizationRules *models.RandomizationRules `json:"randomization_rules"`
	ViolationSettings  *models.ViolationSettings  `json:"violation_settings"`

	RequireToken     *bool `json:"require_token"`
	MinSubmitMinutes *int  `json:"min_submit_minutes" validate:"omitempty,min=0"`
}

// SessionCreateRequest represents the request structure for scheduling sessions
type SessionCreateRequest struct {
	TemplateID uint      `json:"template_id" validate:"required"`
	StartTime  time.Time `json:"start_time" validate:"required"`
	EndTime    time.Time `json:"end_time" validate:"required,gtfield=StartTime"`

	Audience json.RawMessage `json:"audience"`

	// GenerateToken mints an access token even when the template does not
	// require one.
	GenerateToken bool `json:"generate_token"`
}

// SessionUpdateRequest represents the request structure for updating sessions
type SessionUpdateRequest struct {
	StartTime *time.Time      `json:"start_time"`
	EndTime   *time.Time      `json:"end_time"`
	Audience  json.RawMessage `json:"audience"`
}

// StartExamRequest carries the optional entry token.
type StartExamRequest struct {
	Token *string `json:"token" validate:"omitempty,max=32"`
}

// SaveAnswerRequest represents a single answer save. The raw answer payload
// is normalized per question type before persistence.
type SaveAnswerRequest struct {
	QuestionID uint            `json:"question_id" validate:"required"`
	Answer     json.RawMessage `json:"answer" validate:"required"`
	IsFlagged  bool            `json:"is_flagged"`
}

// RecordViolationRequest represents a proctoring violation report
type RecordViolationRequest struct {
	Type    models.ViolationType `json:"type" validate:"required,violation_type"`
	Details json.RawMessage      `json:"details"`
}

// AdminActionParams holds the optional parameters of an admin action.
type AdminActionParams struct {
	AdditionalMinutes int `json:"additional_minutes" validate:"omitempty,min=1,max=480"`
}

// AdminActionRequest applies one action to a set of participants.
type AdminActionRequest struct {
	ParticipantIDs []string               `json:"participant_ids" validate:"required,min=1,dive,required"`
	Action         models.AdminActionType `json:"action" validate:"required,admin_action"`
	Params         AdminActionParams      `json:"params"`
}

// GradeAnswerRequest represents manual grading of one essay answer
type GradeAnswerRequest struct {
	Score float64 `json:"score" validate:"min=0"`
	Notes *string `json:"notes" validate:"omitempty,max=2000"`
}

// ManifestPreviewRequest generates a manifest with an explicit seed without
// persisting it.
type ManifestPreviewRequest struct {
	Seed string `json:"seed" validate:"required,min=1,max=255"`
}

// QuestionCreateRequest represents the request structure for creating questions
type QuestionCreateRequest struct {
	Type       models.QuestionType    `json:"type" validate:"required,question_type"`
	Text       string                 `json:"text" validate:"required,min=1,max=2000"`
	Content    json.RawMessage        `json:"content" validate:"required"`
	AnswerKey  json.RawMessage        `json:"answer_key"`
	Points     float64                `json:"points" validate:"required,gt=0"`
	Difficulty models.DifficultyLevel `json:"difficulty" validate:"required,difficulty_level"`
	Tags       []string               `json:"tags" validate:"omitempty,max=10,dive,max=50"`
	BankIDs    []uint                 `json:"bank_ids"`
}

// QuestionUpdateRequest represents the request structure for updating questions
type QuestionUpdateRequest struct {
	Text       *string                 `json:"text" validate:"omitempty,min=1,max=2000"`
	Content    json.RawMessage         `json:"content"`
	AnswerKey  json.RawMessage         `json:"answer_key"`
	Points     *float64                `json:"points" validate:"omitempty,gt=0"`
	Difficulty *models.DifficultyLevel `json:"difficulty" validate:"omitempty,difficulty_level"`
	Tags       []string                `json:"tags" validate:"omitempty,max=10,dive,max=50"`
}

// BankCreateRequest represents the request structure for creating question banks
type BankCreateRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=255"`
	Description string `json:"description" validate:"omitempty,max=1000"`
}

// BankQuestionsRequest adds or removes questions from a bank.
type BankQuestionsRequest struct {
	QuestionIDs []uint `json:"question_ids" validate:"required,min=1"`
}
