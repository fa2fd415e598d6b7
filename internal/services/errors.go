package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/open-exam/exam-engine/internal/models"
)

// ===== SENTINEL ERRORS =====

var (
	ErrTemplateNotFound   = errors.New("exam template not found")
	ErrSessionNotFound    = errors.New("exam session not found")
	ErrManifestNotFound   = errors.New("question manifest not found")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrQuestionNotFound   = errors.New("question not found")
	ErrBankNotFound       = errors.New("question bank not found")
	ErrAnswerNotFound     = errors.New("answer not found")

	ErrSubmissionNotActive = errors.New("submission is not in progress")
	ErrSubmissionBarred    = errors.New("participant is barred from this session")
	ErrSubmitTooEarly      = errors.New("minimum exam time has not elapsed")
	ErrQuestionNotInExam   = errors.New("question is not part of this exam instance")
	ErrTemplateInUse       = errors.New("template has scheduled sessions")
	ErrNotEssayAnswer      = errors.New("answer is not an essay and cannot be graded manually")
	ErrViolationsDisabled  = errors.New("violation tracking is disabled for this session")
)

// ===== TYPED ERRORS =====

// CompositionError reports a bank pool that cannot satisfy the template's
// requested composition. Compilation is all-or-nothing: the first shortfall
// fails the whole template.
type CompositionError struct {
	Type      models.QuestionType
	Requested int
	Available int
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("composition unsatisfiable: type %s requested %d, available %d",
		e.Type, e.Requested, e.Available)
}

// WindowError reports a start outside the session's scheduled window.
type WindowError struct {
	SessionID uint
	StartTime time.Time
	EndTime   time.Time
	Now       time.Time
}

func (e *WindowError) Error() string {
	if e.Now.Before(e.StartTime) {
		return fmt.Sprintf("session %d has not opened yet", e.SessionID)
	}
	return fmt.Sprintf("session %d is already closed", e.SessionID)
}

// TokenError reports a missing or wrong entry token.
type TokenError struct {
	SessionID uint
	Reason    string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("invalid token for session %d: %s", e.SessionID, e.Reason)
}

// AlreadyCompletedError reports a duplicate submit. The first completion
// result is carried so callers can return the existing state instead of
// failing the participant.
type AlreadyCompletedError struct {
	SubmissionID uint
	CompletedAt  *time.Time
	EndReason    *models.EndReason
}

func (e *AlreadyCompletedError) Error() string {
	return fmt.Sprintf("submission %d is already completed", e.SubmissionID)
}

// PublishBlockedError reports a publish attempt while manual grading is
// still outstanding.
type PublishBlockedError struct {
	SessionID    uint
	PendingCount int
}

func (e *PublishBlockedError) Error() string {
	return fmt.Sprintf("cannot publish session %d results: %d answers pending manual grading",
		e.SessionID, e.PendingCount)
}

// PermissionError reports denied access to a resource operation.
type PermissionError struct {
	UserID     string
	ResourceID uint
	Resource   string
	Action     string
	Reason     string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: user %s cannot %s %s %d: %s",
		e.UserID, e.Action, e.Resource, e.ResourceID, e.Reason)
}

func NewPermissionError(userID string, resourceID uint, resource, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:     userID,
		ResourceID: resourceID,
		Resource:   resource,
		Action:     action,
		Reason:     reason,
	}
}

// BusinessRuleError reports a domain rule violation outside struct
// validation.
type BusinessRuleError struct {
	Rule    string
	Message string
	Context map[string]interface{}
}

func (e *BusinessRuleError) Error() string {
	return e.Message
}

func NewBusinessRuleError(rule, message string) *BusinessRuleError {
	return &BusinessRuleError{Rule: rule, Message: message}
}

// ValidationError reports a single invalid field caught in service logic.
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: message, Value: value}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
