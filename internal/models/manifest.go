package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// QuestionManifest is the frozen per-participant question set for one
// session. Generated exactly once per (session, participant) and reused on
// every re-fetch; question edits after generation never affect it.
type QuestionManifest struct {
	ID            uint   `json:"id" gorm:"primaryKey"`
	SessionID     uint   `json:"session_id" gorm:"not null;uniqueIndex:idx_manifest_session_participant"`
	ParticipantID string `json:"participant_id" gorm:"not null;size:255;uniqueIndex:idx_manifest_session_participant"`

	Seed string `json:"seed" gorm:"not null;size:255"`

	// Questions is the ordered []InstanceQuestion snapshot.
	Questions datatypes.JSON `json:"questions" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
}

// InstanceQuestion is one entry of a manifest: a snapshot of the question's
// content and answer key at generation time, plus the scaled point value and
// any per-participant option permutation.
type InstanceQuestion struct {
	Position   int          `json:"position"` // 1-based display position
	QuestionID uint         `json:"question_id"`
	Type       QuestionType `json:"type"`
	Text       string       `json:"text"`

	Content   json.RawMessage `json:"content"`
	AnswerKey json.RawMessage `json:"answer_key"`

	// Points is the question's share of the template total score.
	Points float64 `json:"points"`

	// OptionOrder holds the shuffled option ids for mc/complex_mc when the
	// template shuffles answers; empty otherwise.
	OptionOrder []string `json:"option_order,omitempty"`
}

// InstanceQuestions decodes the snapshot column.
func (m *QuestionManifest) InstanceQuestions() ([]InstanceQuestion, error) {
	var questions []InstanceQuestion
	if err := json.Unmarshal(m.Questions, &questions); err != nil {
		return nil, err
	}
	return questions, nil
}
