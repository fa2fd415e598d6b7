package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type RandomizationMode string

const (
	RandomizeAll         RandomizationMode = "all"
	RandomizeByType      RandomizationMode = "by_type"
	RandomizeExcludeType RandomizationMode = "exclude_type"
	RandomizeSpecific    RandomizationMode = "specific_numbers"
)

type ViolationMode string

const (
	ViolationStrict   ViolationMode = "strict"
	ViolationLenient  ViolationMode = "lenient"
	ViolationDisabled ViolationMode = "disabled"
)

// RandomizationRules controls question ordering and answer-option shuffling
// for instances generated from a template.
type RandomizationRules struct {
	Mode RandomizationMode `json:"mode" validate:"required,randomization_mode"`

	// Types applies to by_type and exclude_type modes.
	Types []QuestionType `json:"types,omitempty"`
	// Positions applies to specific_numbers mode, 1-based.
	Positions []int `json:"positions,omitempty"`

	ShuffleAnswers bool `json:"shuffle_answers"`
}

type ViolationSettings struct {
	Mode            ViolationMode `json:"mode" validate:"required,violation_mode"`
	MaxViolations   int           `json:"max_violations" validate:"min=0"`
	CooldownSeconds int           `json:"cooldown_seconds" validate:"min=0"`
}

type ExamTemplate struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	SubjectID string `json:"subject_id" gorm:"index;size:100"`
	Title     string `json:"title" gorm:"not null;size:255" validate:"required,max=255"`

	DurationMinutes int     `json:"duration_minutes" gorm:"not null" validate:"gt=0"`
	TotalScore      float64 `json:"total_score" gorm:"not null" validate:"gt=0"`

	// QuestionComposition is a map[QuestionType]int of requested counts.
	QuestionComposition datatypes.JSON `json:"question_composition" gorm:"type:jsonb"`
	// BankIDs is a []uint of the source question banks.
	BankIDs datatypes.JSON `json:"bank_ids" gorm:"type:jsonb"`

	RandomizationRules datatypes.JSON `json:"randomization_rules" gorm:"type:jsonb"`
	ViolationSettings  datatypes.JSON `json:"violation_settings" gorm:"type:jsonb"`

	RequireToken     bool `json:"require_token" gorm:"default:false"`
	MinSubmitMinutes int  `json:"min_submit_minutes" gorm:"default:0" validate:"min=0"`

	CreatedBy string    `json:"created_by" gorm:"not null;index;size:255"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Composition decodes the requested per-type question counts.
func (t *ExamTemplate) Composition() (map[QuestionType]int, error) {
	composition := make(map[QuestionType]int)
	if len(t.QuestionComposition) == 0 {
		return composition, nil
	}
	if err := json.Unmarshal(t.QuestionComposition, &composition); err != nil {
		return nil, err
	}
	return composition, nil
}

// BankIDList decodes the source bank ids.
func (t *ExamTemplate) BankIDList() ([]uint, error) {
	var ids []uint
	if len(t.BankIDs) == 0 {
		return ids, nil
	}
	if err := json.Unmarshal(t.BankIDs, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Randomization decodes the ordering and shuffle rules. An absent column
// means no randomization at all.
func (t *ExamTemplate) Randomization() (RandomizationRules, error) {
	var rules RandomizationRules
	if len(t.RandomizationRules) == 0 {
		return rules, nil
	}
	if err := json.Unmarshal(t.RandomizationRules, &rules); err != nil {
		return rules, err
	}
	return rules, nil
}

// Violations decodes the proctoring settings. An absent column means
// tracking is disabled.
func (t *ExamTemplate) Violations() (ViolationSettings, error) {
	settings := ViolationSettings{Mode: ViolationDisabled}
	if len(t.ViolationSettings) == 0 {
		return settings, nil
	}
	if err := json.Unmarshal(t.ViolationSettings, &settings); err != nil {
		return settings, err
	}
	return settings, nil
}

type ExamSession struct {
	ID         uint `json:"id" gorm:"primaryKey"`
	TemplateID uint `json:"template_id" gorm:"not null;index"`

	StartTime time.Time `json:"start_time" gorm:"not null"`
	EndTime   time.Time `json:"end_time" gorm:"not null"`

	// AccessToken is set when the template requires an entry token.
	AccessToken *string `json:"access_token,omitempty" gorm:"size:32"`

	// Audience restricts who may join: all, or specific class/grade/student
	// id lists. Enforcement of roster membership is the caller's concern.
	Audience datatypes.JSON `json:"audience" gorm:"type:jsonb"`

	CreatedBy string    `json:"created_by" gorm:"not null;index;size:255"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Template ExamTemplate `json:"template" gorm:"foreignKey:TemplateID"`
}
