package models

import (
	"time"

	"gorm.io/datatypes"
)

type SubmissionStatus string

const (
	SubmissionNotStarted SubmissionStatus = "not_started"
	SubmissionInProgress SubmissionStatus = "in_progress"
	SubmissionCompleted  SubmissionStatus = "completed"
)

type GradingStatus string

const (
	GradingAuto    GradingStatus = "auto_graded"
	GradingPending GradingStatus = "pending_manual"
	GradingDone    GradingStatus = "completed"
)

type EndReason string

const (
	EndReasonSubmit    EndReason = "submit"
	EndReasonTimeout   EndReason = "timeout"
	EndReasonViolation EndReason = "violation_limit"
	EndReasonForced    EndReason = "force_finish"
)

// Submission is one participant's attempt at one session. Status moves
// strictly forward (not_started -> in_progress -> completed); the only
// exception is the administrative retake action.
type Submission struct {
	ID            uint   `json:"id" gorm:"primaryKey"`
	SessionID     uint   `json:"session_id" gorm:"not null;uniqueIndex:idx_submission_session_participant"`
	ParticipantID string `json:"participant_id" gorm:"not null;size:255;uniqueIndex:idx_submission_session_participant"`

	Status SubmissionStatus `json:"status" gorm:"not null;default:not_started;index"`

	StartedAt   *time.Time `json:"started_at"`
	Deadline    *time.Time `json:"deadline"` // personal deadline, server-authoritative
	CompletedAt *time.Time `json:"completed_at"`
	EndReason   *EndReason `json:"end_reason"`

	ViolationCount int  `json:"violation_count" gorm:"default:0"`
	Barred         bool `json:"barred" gorm:"default:false"` // forcibly ended, re-entry needs reset_permission

	GradingStatus GradingStatus `json:"grading_status" gorm:"default:auto_graded"`
	Score         float64       `json:"score" gorm:"default:0"` // on the template's total score scale
	Published     bool          `json:"published" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Session ExamSession `json:"session" gorm:"foreignKey:SessionID"`
	Answers []Answer    `json:"answers" gorm:"foreignKey:SubmissionID"`
}

// IsActive reports whether the submission still accepts answers.
func (s *Submission) IsActive(now time.Time) bool {
	if s.Status != SubmissionInProgress {
		return false
	}
	if s.Deadline != nil && now.After(*s.Deadline) {
		return false
	}
	return true
}

type Answer struct {
	ID           uint `json:"id" gorm:"primaryKey"`
	SubmissionID uint `json:"submission_id" gorm:"not null;uniqueIndex:idx_answer_submission_question"`
	QuestionID   uint `json:"question_id" gorm:"not null;uniqueIndex:idx_answer_submission_question"`

	// Answer holds the canonical student answer shape for the question type.
	Answer    datatypes.JSON `json:"answer" gorm:"type:jsonb"`
	IsFlagged bool           `json:"is_flagged" gorm:"default:false"`

	// Grading output. IsCorrect stays nil for essay answers until a human
	// grades them.
	IsCorrect     *bool         `json:"is_correct"`
	Score         float64       `json:"score" gorm:"default:0"`
	MaxPoints     float64       `json:"max_points" gorm:"default:0"`
	GradingStatus GradingStatus `json:"grading_status" gorm:"default:auto_graded"`
	GradingNotes  *string       `json:"grading_notes" gorm:"type:text"`
	GradedBy      *string       `json:"graded_by" gorm:"size:255"`
	GradedAt      *time.Time    `json:"graded_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ViolationType string

const (
	ViolationTabSwitch      ViolationType = "tab_switch"
	ViolationFullscreenExit ViolationType = "fullscreen_exit"
	ViolationWindowBlur     ViolationType = "window_blur"
	ViolationCopyPaste      ViolationType = "copy_paste"
	ViolationDevTools       ViolationType = "devtools"
)

// Violation is an append-only integrity event on a submission.
type Violation struct {
	ID           uint          `json:"id" gorm:"primaryKey"`
	SubmissionID uint          `json:"submission_id" gorm:"not null;index"`
	Type         ViolationType `json:"type" gorm:"not null;size:50"`

	Details    datatypes.JSON `json:"details" gorm:"type:jsonb"`
	OccurredAt time.Time      `json:"occurred_at" gorm:"not null;index"`

	CreatedAt time.Time `json:"created_at"`
}

// ===== ADMIN ACTIONS =====

type AdminActionType string

const (
	AdminAddTime         AdminActionType = "add_time"
	AdminResetTime       AdminActionType = "reset_time"
	AdminResetViolations AdminActionType = "reset_violations"
	AdminResetPermission AdminActionType = "reset_permission"
	AdminForceFinish     AdminActionType = "force_finish"
	AdminRetake          AdminActionType = "retake"
)

func IsValidAdminAction(a AdminActionType) bool {
	switch a {
	case AdminAddTime, AdminResetTime, AdminResetViolations,
		AdminResetPermission, AdminForceFinish, AdminRetake:
		return true
	}
	return false
}
