package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event type constants for the exam lifecycle.
const (
	EventSessionStarted    = "session.started"
	EventSessionCompleted  = "session.completed"
	EventViolationRecorded = "violation.recorded"
	EventResultsPublished  = "results.published"
	EventSubmissionGraded  = "submission.graded"
)

// Event is the envelope every published message carries.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewEvent creates an event envelope with generated ID and current timestamp.
func NewEvent(eventType string, data interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    "exam-engine",
		Version:   "1.0",
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventPublisher abstracts the message transport so services can publish
// without knowing about Kafka.
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// ===== EVENT PAYLOADS =====

type SessionStartedEvent struct {
	SessionID     uint      `json:"session_id"`
	SubmissionID  uint      `json:"submission_id"`
	ParticipantID string    `json:"participant_id"`
	Deadline      time.Time `json:"deadline"`
}

type SessionCompletedEvent struct {
	SessionID     uint      `json:"session_id"`
	SubmissionID  uint      `json:"submission_id"`
	ParticipantID string    `json:"participant_id"`
	EndReason     string    `json:"end_reason"`
	CompletedAt   time.Time `json:"completed_at"`
}

type ViolationRecordedEvent struct {
	SessionID      uint   `json:"session_id"`
	SubmissionID   uint   `json:"submission_id"`
	ParticipantID  string `json:"participant_id"`
	ViolationType  string `json:"violation_type"`
	Counted        bool   `json:"counted"`
	ViolationCount int    `json:"violation_count"`
	LimitReached   bool   `json:"limit_reached"`
}

type ResultsPublishedEvent struct {
	SessionID   uint   `json:"session_id"`
	PublishedBy string `json:"published_by"`
	Submissions int    `json:"submissions"`
}

type SubmissionGradedEvent struct {
	SessionID     uint    `json:"session_id"`
	SubmissionID  uint    `json:"submission_id"`
	ParticipantID string  `json:"participant_id"`
	Score         float64 `json:"score"`
	GradingStatus string  `json:"grading_status"`
}
