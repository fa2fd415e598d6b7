package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/open-exam/exam-engine/internal/answerkey"
	"github.com/open-exam/exam-engine/internal/events"
	"github.com/open-exam/exam-engine/internal/models"
	"github.com/open-exam/exam-engine/internal/repositories"
	"github.com/open-exam/exam-engine/internal/validator"
)

type sessionService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	publisher events.EventPublisher
	manifests ManifestService
	grading   GradingService
}

func NewSessionService(
	repo repositories.Repository,
	db *gorm.DB,
	logger *slog.Logger,
	v *validator.Validator,
	publisher events.EventPublisher,
	manifests ManifestService,
	grading GradingService,
) SessionService {
	return &sessionService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: v,
		publisher: publisher,
		manifests: manifests,
		grading:   grading,
	}
}

// ===== SCHEDULING =====

func (s *sessionService) Create(ctx context.Context, req *CreateSessionRequest, creatorID string) (*SessionResponse, error) {
	s.logger.Info("Creating exam session", "template_id", req.TemplateID, "creator_id", creatorID)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	template, err := s.repo.Template().GetByID(ctx, nil, req.TemplateID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	session := &models.ExamSession{
		TemplateID: template.ID,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		Audience:   datatypes.JSON(req.Audience),
		CreatedBy:  creatorID,
	}

	if template.RequireToken || req.GenerateToken {
		token := generateAccessToken()
		session.AccessToken = &token
	}

	if err := s.repo.Session().Create(ctx, nil, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &SessionResponse{ExamSession: session}, nil
}

func (s *sessionService) GetByID(ctx context.Context, id uint) (*SessionResponse, error) {
	session, err := s.repo.Session().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &SessionResponse{ExamSession: session}, nil
}

func (s *sessionService) Update(ctx context.Context, id uint, req *UpdateSessionRequest, userID string) (*SessionResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	session, err := s.repo.Session().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if session.CreatedBy != userID {
		return nil, NewPermissionError(userID, id, "session", "update", "only the creator can modify a session")
	}

	if req.StartTime != nil {
		session.StartTime = *req.StartTime
	}
	if req.EndTime != nil {
		session.EndTime = *req.EndTime
	}
	if len(req.Audience) > 0 {
		session.Audience = datatypes.JSON(req.Audience)
	}
	if !session.EndTime.After(session.StartTime) {
		return nil, NewValidationError("end_time", "end time must be after start time", session.EndTime)
	}

	if err := s.repo.Session().Update(ctx, nil, session); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	return &SessionResponse{ExamSession: session}, nil
}

func (s *sessionService) List(ctx context.Context, filters repositories.SessionFilters) (*SessionListResponse, error) {
	sessions, total, err := s.repo.Session().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	responses := make([]*SessionResponse, len(sessions))
	for i, session := range sessions {
		responses[i] = &SessionResponse{ExamSession: session}
	}

	page := 1
	if filters.Limit > 0 {
		page = filters.Offset/filters.Limit + 1
	}

	return &SessionListResponse{
		Sessions: responses,
		Total:    total,
		Page:     page,
		Size:     len(responses),
	}, nil
}

// ===== PARTICIPANT STATE MACHINE =====

func (s *sessionService) Start(ctx context.Context, sessionID uint, participantID string, req *StartExamRequest) (*SubmissionResponse, error) {
	if req == nil {
		req = &StartExamRequest{}
	}
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	session, err := s.repo.Session().GetByIDWithTemplate(ctx, nil, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	now := time.Now().UTC()
	if now.Before(session.StartTime) || !now.Before(session.EndTime) {
		return nil, &WindowError{
			SessionID: sessionID,
			StartTime: session.StartTime,
			EndTime:   session.EndTime,
			Now:       now,
		}
	}

	template := &session.Template
	if template.RequireToken {
		if req.Token == nil || *req.Token == "" {
			return nil, &TokenError{SessionID: sessionID, Reason: "access token required"}
		}
		if session.AccessToken == nil || *session.AccessToken != *req.Token {
			return nil, &TokenError{SessionID: sessionID, Reason: "invalid access token"}
		}
	}

	submission, err := s.repo.Submission().GetBySessionAndParticipant(ctx, nil, sessionID, participantID)
	if err != nil && !repositories.IsNotFoundError(err) {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}

	if submission != nil {
		if submission.Barred {
			return nil, ErrSubmissionBarred
		}
		switch submission.Status {
		case models.SubmissionCompleted:
			return nil, alreadyCompleted(submission)
		case models.SubmissionInProgress:
			// Resume: manifest generation is idempotent
			if _, err := s.manifests.Generate(ctx, sessionID, participantID); err != nil {
				return nil, err
			}
			return submissionResponse(submission, now), nil
		}
	}

	deadline := now.Add(time.Duration(template.DurationMinutes) * time.Minute)
	if deadline.After(session.EndTime) {
		deadline = session.EndTime
	}

	if submission == nil {
		submission = &models.Submission{
			SessionID:     sessionID,
			ParticipantID: participantID,
		}
	}
	submission.Status = models.SubmissionInProgress
	submission.StartedAt = timePtr(now)
	submission.Deadline = timePtr(deadline)

	if submission.ID == 0 {
		if err := s.repo.Submission().Create(ctx, nil, submission); err != nil {
			// Lost a race with a concurrent start; the winner's row stands
			existing, getErr := s.repo.Submission().GetBySessionAndParticipant(ctx, nil, sessionID, participantID)
			if getErr != nil {
				return nil, fmt.Errorf("failed to create submission: %w", err)
			}
			submission = existing
		}
	} else {
		if err := s.repo.Submission().Update(ctx, nil, submission); err != nil {
			return nil, fmt.Errorf("failed to update submission: %w", err)
		}
	}

	if _, err := s.manifests.Generate(ctx, sessionID, participantID); err != nil {
		return nil, err
	}

	s.logger.Info("Exam started",
		"session_id", sessionID,
		"participant_id", participantID,
		"deadline", deadline)

	s.publish(ctx, events.NewEvent(events.EventSessionStarted, events.SessionStartedEvent{
		SessionID:     sessionID,
		ParticipantID: participantID,
		SubmissionID:  submission.ID,
		Deadline:      deadline,
	}))

	return submissionResponse(submission, now), nil
}

func (s *sessionService) SaveAnswer(ctx context.Context, sessionID uint, participantID string, req *SaveAnswerRequest) error {
	if err := s.validator.Validate(req); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	submission, err := s.repo.Submission().GetBySessionAndParticipant(ctx, nil, sessionID, participantID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrSubmissionNotFound
		}
		return fmt.Errorf("failed to get submission: %w", err)
	}

	now := time.Now().UTC()
	if !submission.IsActive(now) {
		return ErrSubmissionNotActive
	}

	instance, err := s.instanceQuestion(ctx, sessionID, participantID, req.QuestionID)
	if err != nil {
		return err
	}

	normalized, err := answerkey.NormalizeStudentAnswer(instance.QuestionID, instance.Type, req.Answer)
	if err != nil {
		return err
	}

	answer := &models.Answer{
		SubmissionID: submission.ID,
		QuestionID:   req.QuestionID,
		Answer:       datatypes.JSON(normalized),
		IsFlagged:    req.IsFlagged,
		MaxPoints:    instance.Points,
	}
	if err := s.repo.Answer().Upsert(ctx, nil, answer); err != nil {
		return fmt.Errorf("failed to save answer: %w", err)
	}

	return nil
}

func (s *sessionService) Submit(ctx context.Context, sessionID uint, participantID string) (*SubmissionResponse, error) {
	session, err := s.repo.Session().GetByIDWithTemplate(ctx, nil, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	submission, err := s.repo.Submission().GetBySessionAndParticipant(ctx, nil, sessionID, participantID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}

	if submission.Status == models.SubmissionCompleted {
		return nil, alreadyCompleted(submission)
	}
	if submission.Status != models.SubmissionInProgress {
		return nil, ErrSubmissionNotActive
	}

	now := time.Now().UTC()
	minSubmit := session.Template.MinSubmitMinutes
	if minSubmit > 0 && submission.StartedAt != nil {
		if now.Sub(*submission.StartedAt) < time.Duration(minSubmit)*time.Minute {
			return nil, ErrSubmitTooEarly
		}
	}

	won, err := s.repo.Submission().CompleteIfInProgress(ctx, nil, submission.ID, now, models.EndReasonSubmit)
	if err != nil {
		return nil, fmt.Errorf("failed to complete submission: %w", err)
	}
	if !won {
		refreshed, getErr := s.repo.Submission().GetByID(ctx, nil, submission.ID)
		if getErr == nil {
			return nil, alreadyCompleted(refreshed)
		}
		return nil, alreadyCompleted(submission)
	}

	s.finalize(ctx, submission.ID, sessionID, participantID, models.EndReasonSubmit)

	submission, err = s.repo.Submission().GetByID(ctx, nil, submission.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload submission: %w", err)
	}

	s.logger.Info("Exam submitted",
		"session_id", sessionID,
		"participant_id", participantID,
		"submission_id", submission.ID)

	return submissionResponse(submission, now), nil
}

func (s *sessionService) GetSubmission(ctx context.Context, sessionID uint, participantID string) (*SubmissionResponse, error) {
	submission, err := s.repo.Submission().GetBySessionAndParticipant(ctx, nil, sessionID, participantID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return submissionResponse(submission, time.Now().UTC()), nil
}

// ===== PROCTORING =====

func (s *sessionService) RecordViolation(ctx context.Context, sessionID uint, participantID string, req *RecordViolationRequest) (*ViolationResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	session, err := s.repo.Session().GetByIDWithTemplate(ctx, nil, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	settings, err := session.Template.Violations()
	if err != nil {
		return nil, fmt.Errorf("failed to decode violation settings: %w", err)
	}
	if settings.Mode == models.ViolationDisabled {
		return nil, ErrViolationsDisabled
	}

	submission, err := s.repo.Submission().GetBySessionAndParticipant(ctx, nil, sessionID, participantID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}

	now := time.Now().UTC()
	if !submission.IsActive(now) {
		return nil, ErrSubmissionNotActive
	}

	counted := true
	if settings.CooldownSeconds > 0 {
		last, err := s.repo.Violation().GetLastOfType(ctx, nil, submission.ID, req.Type)
		if err != nil && !repositories.IsNotFoundError(err) {
			return nil, fmt.Errorf("failed to check violation cooldown: %w", err)
		}
		if last != nil && now.Sub(last.OccurredAt) < time.Duration(settings.CooldownSeconds)*time.Second {
			counted = false
		}
	}

	// Every report is kept for the audit trail, counted or not
	violation := &models.Violation{
		SubmissionID: submission.ID,
		Type:         req.Type,
		Details:      datatypes.JSON(req.Details),
		OccurredAt:   now,
	}
	if err := s.repo.Violation().Create(ctx, nil, violation); err != nil {
		return nil, fmt.Errorf("failed to record violation: %w", err)
	}

	forceCompleted := false
	if counted {
		submission.ViolationCount++
		if settings.Mode == models.ViolationStrict &&
			settings.MaxViolations > 0 &&
			submission.ViolationCount >= settings.MaxViolations {
			submission.Barred = true
			forceCompleted = true
		}
		if err := s.repo.Submission().Update(ctx, nil, submission); err != nil {
			return nil, fmt.Errorf("failed to update violation count: %w", err)
		}
	}

	if forceCompleted {
		won, err := s.repo.Submission().CompleteIfInProgress(ctx, nil, submission.ID, now, models.EndReasonViolation)
		if err != nil {
			return nil, fmt.Errorf("failed to force-complete submission: %w", err)
		}
		if won {
			s.finalize(ctx, submission.ID, sessionID, participantID, models.EndReasonViolation)
		}
		s.logger.Warn("Violation limit reached, submission closed",
			"session_id", sessionID,
			"participant_id", participantID,
			"violations", submission.ViolationCount)
	}

	s.publish(ctx, events.NewEvent(events.EventViolationRecorded, events.ViolationRecordedEvent{
		SessionID:      sessionID,
		ParticipantID:  participantID,
		SubmissionID:   submission.ID,
		ViolationType:  string(req.Type),
		Counted:        counted,
		ViolationCount: submission.ViolationCount,
		LimitReached:   forceCompleted,
	}))

	return &ViolationResponse{
		Counted:        counted,
		ViolationCount: submission.ViolationCount,
		MaxViolations:  settings.MaxViolations,
		ForceCompleted: forceCompleted,
	}, nil
}

func (s *sessionService) GetViolations(ctx context.Context, sessionID uint, participantID string) ([]*models.Violation, error) {
	submission, err := s.repo.Submission().GetBySessionAndParticipant(ctx, nil, sessionID, participantID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}

	violations, err := s.repo.Violation().GetBySubmission(ctx, nil, submission.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get violations: %w", err)
	}
	return violations, nil
}

// ===== ADMIN ACTIONS =====

func (s *sessionService) ApplyAdminAction(ctx context.Context, sessionID uint, req *AdminActionRequest, adminID string) ([]AdminActionResult, error) {
	s.logger.Info("Applying admin action",
		"session_id", sessionID,
		"action", req.Action,
		"participants", len(req.ParticipantIDs),
		"admin_id", adminID)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	session, err := s.repo.Session().GetByIDWithTemplate(ctx, nil, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	results := make([]AdminActionResult, 0, len(req.ParticipantIDs))
	for _, participantID := range req.ParticipantIDs {
		result := AdminActionResult{ParticipantID: participantID, Success: true}
		if err := s.applyActionTo(ctx, session, participantID, req); err != nil {
			result.Success = false
			result.Error = err.Error()
		}
		results = append(results, result)
	}

	return results, nil
}

func (s *sessionService) applyActionTo(ctx context.Context, session *models.ExamSession, participantID string, req *AdminActionRequest) error {
	submission, err := s.repo.Submission().GetBySessionAndParticipant(ctx, nil, session.ID, participantID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrSubmissionNotFound
		}
		return fmt.Errorf("failed to get submission: %w", err)
	}

	now := time.Now().UTC()

	switch req.Action {
	case models.AdminAddTime:
		if req.Params.AdditionalMinutes <= 0 {
			return NewValidationError("additional_minutes", "additional_minutes is required for add_time", req.Params.AdditionalMinutes)
		}
		if submission.Status != models.SubmissionInProgress || submission.Deadline == nil {
			return ErrSubmissionNotActive
		}
		extended := submission.Deadline.Add(time.Duration(req.Params.AdditionalMinutes) * time.Minute)
		submission.Deadline = &extended
		return s.repo.Submission().Update(ctx, nil, submission)

	case models.AdminResetTime:
		if submission.Status != models.SubmissionInProgress {
			return ErrSubmissionNotActive
		}
		deadline := now.Add(time.Duration(session.Template.DurationMinutes) * time.Minute)
		if deadline.After(session.EndTime) {
			deadline = session.EndTime
		}
		submission.Deadline = &deadline
		return s.repo.Submission().Update(ctx, nil, submission)

	case models.AdminResetViolations:
		submission.ViolationCount = 0
		return s.repo.Submission().Update(ctx, nil, submission)

	case models.AdminResetPermission:
		submission.Barred = false
		return s.repo.Submission().Update(ctx, nil, submission)

	case models.AdminForceFinish:
		won, err := s.repo.Submission().CompleteIfInProgress(ctx, nil, submission.ID, now, models.EndReasonForced)
		if err != nil {
			return fmt.Errorf("failed to force-finish submission: %w", err)
		}
		if !won {
			return ErrSubmissionNotActive
		}
		s.finalize(ctx, submission.ID, session.ID, participantID, models.EndReasonForced)
		return nil

	case models.AdminRetake:
		return s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
			if err := txRepo.Answer().DeleteBySubmission(ctx, nil, submission.ID); err != nil {
				return fmt.Errorf("failed to clear answers: %w", err)
			}
			if err := txRepo.Manifest().Delete(ctx, nil, session.ID, participantID); err != nil {
				return fmt.Errorf("failed to clear manifest: %w", err)
			}
			submission.Status = models.SubmissionNotStarted
			submission.StartedAt = nil
			submission.Deadline = nil
			submission.CompletedAt = nil
			submission.EndReason = nil
			submission.ViolationCount = 0
			submission.Barred = false
			submission.GradingStatus = models.GradingAuto
			submission.Score = 0
			submission.Published = false
			return txRepo.Submission().Update(ctx, nil, submission)
		})
	}

	return NewValidationError("action", "unknown admin action", req.Action)
}

// ===== DEADLINE SWEEPER =====

func (s *sessionService) SweepExpired(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	expired, err := s.repo.Submission().ListExpired(ctx, nil, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired submissions: %w", err)
	}

	swept := 0
	for _, submission := range expired {
		won, err := s.repo.Submission().CompleteIfInProgress(ctx, nil, submission.ID, now, models.EndReasonTimeout)
		if err != nil {
			s.logger.Error("Failed to close expired submission",
				"submission_id", submission.ID, "error", err)
			continue
		}
		if !won {
			continue
		}
		s.finalize(ctx, submission.ID, submission.SessionID, submission.ParticipantID, models.EndReasonTimeout)
		swept++
	}

	if swept > 0 {
		s.logger.Info("Expired submissions closed", "count", swept)
	}
	return swept, nil
}

// ===== HELPERS =====

// finalize runs the post-completion steps: auto grading and the completion
// event. Grading failures are logged, not propagated; the submission is
// already closed and a regrade can recover.
func (s *sessionService) finalize(ctx context.Context, submissionID, sessionID uint, participantID string, reason models.EndReason) {
	if _, err := s.grading.AutoGradeSubmission(ctx, submissionID); err != nil {
		s.logger.Error("Auto grading failed",
			"submission_id", submissionID, "error", err)
	}

	s.publish(ctx, events.NewEvent(events.EventSessionCompleted, events.SessionCompletedEvent{
		SessionID:     sessionID,
		ParticipantID: participantID,
		SubmissionID:  submissionID,
		EndReason:     string(reason),
		CompletedAt:   time.Now().UTC(),
	}))
}

func (s *sessionService) instanceQuestion(ctx context.Context, sessionID uint, participantID string, questionID uint) (*models.InstanceQuestion, error) {
	manifest, err := s.repo.Manifest().GetBySessionAndParticipant(ctx, nil, sessionID, participantID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("failed to get manifest: %w", err)
	}

	questions, err := manifest.InstanceQuestions()
	if err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	for i := range questions {
		if questions[i].QuestionID == questionID {
			return &questions[i], nil
		}
	}
	return nil, ErrQuestionNotInExam
}

func (s *sessionService) publish(ctx context.Context, event *events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish event", "event_type", event.Type, "error", err)
	}
}

func submissionResponse(submission *models.Submission, now time.Time) *SubmissionResponse {
	remaining := 0
	if submission.Status == models.SubmissionInProgress && submission.Deadline != nil {
		if d := submission.Deadline.Sub(now); d > 0 {
			remaining = int(d.Seconds())
		}
	}
	return &SubmissionResponse{Submission: submission, TimeRemainingSeconds: remaining}
}

func alreadyCompleted(submission *models.Submission) *AlreadyCompletedError {
	return &AlreadyCompletedError{
		SubmissionID: submission.ID,
		CompletedAt:  submission.CompletedAt,
		EndReason:    submission.EndReason,
	}
}

// generateAccessToken mints a short uppercase entry code.
func generateAccessToken() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return strings.ToUpper(raw[:8])
}
