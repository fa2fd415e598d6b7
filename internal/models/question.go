package models

import (
	"time"

	"gorm.io/datatypes"
)

type QuestionType string

const (
	MultipleChoice QuestionType = "mc"
	ComplexChoice  QuestionType = "complex_mc"
	Matching       QuestionType = "matching"
	ShortAnswer    QuestionType = "short"
	Essay          QuestionType = "essay"
	TrueFalse      QuestionType = "true_false"
)

// AllQuestionTypes lists every supported type in a stable order.
var AllQuestionTypes = []QuestionType{
	MultipleChoice, ComplexChoice, Matching, ShortAnswer, Essay, TrueFalse,
}

func IsValidQuestionType(t QuestionType) bool {
	for _, qt := range AllQuestionTypes {
		if qt == t {
			return true
		}
	}
	return false
}

type DifficultyLevel string

const (
	DifficultyEasy   DifficultyLevel = "easy"
	DifficultyMedium DifficultyLevel = "medium"
	DifficultyHard   DifficultyLevel = "hard"
)

type QuestionBank struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	Name        string `json:"name" gorm:"not null;size:255" validate:"required,max=255"`
	Description string `json:"description" gorm:"type:text"`
	SubjectID   string `json:"subject_id" gorm:"index;size:100"`

	CreatedBy string    `json:"created_by" gorm:"not null;index;size:255"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Questions []Question `json:"questions" gorm:"many2many:bank_questions;"`
}

type Question struct {
	ID   uint         `json:"id" gorm:"primaryKey"`
	Type QuestionType `json:"type" gorm:"not null;index;size:20"`
	Text string       `json:"text" gorm:"type:text;not null" validate:"required"`

	// Content and answer key stored as JSONB; shapes vary per type and may
	// carry historical encodings, callers normalize through the answerkey
	// package before interpreting either.
	Content   datatypes.JSON `json:"content" gorm:"type:jsonb"`
	AnswerKey datatypes.JSON `json:"answer_key" gorm:"type:jsonb"`

	DefaultPoints float64         `json:"default_points" gorm:"default:10" validate:"gt=0"`
	Difficulty    DifficultyLevel `json:"difficulty" gorm:"default:medium;index"`
	Tags          datatypes.JSON  `json:"tags" gorm:"type:jsonb"` // []string

	CreatedBy string    `json:"created_by" gorm:"not null;index;size:255"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ===== QUESTION CONTENT SCHEMAS =====

type ChoiceContent struct {
	Options       []ChoiceOption `json:"options" validate:"min=2,max=10"`
	PartialCredit bool           `json:"partial_credit"`
}

type ChoiceOption struct {
	ID    string `json:"id"`
	Label string `json:"label"` // display letter: "A", "B", ...
	Text  string `json:"text" validate:"required"`
}

type MatchingContent struct {
	LeftItems  []MatchItem `json:"left_items" validate:"min=2,max=10"`
	RightItems []MatchItem `json:"right_items" validate:"min=2,max=10"`
}

type MatchItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type ShortAnswerContent struct {
	CaseSensitive   bool    `json:"case_sensitive"`
	MaxLength       int     `json:"max_length"`
	PlaceholderText *string `json:"placeholder_text"`
}

type EssayContent struct {
	MinWords        *int    `json:"min_words"`
	MaxWords        *int    `json:"max_words"`
	SuggestedLength *string `json:"suggested_length"`
}

type TrueFalseContent struct {
	TrueLabel  *string `json:"true_label"`
	FalseLabel *string `json:"false_label"`
}
