package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/open-exam/exam-engine/internal/answerkey"
	"github.com/open-exam/exam-engine/internal/events"
	"github.com/open-exam/exam-engine/internal/models"
	"github.com/open-exam/exam-engine/internal/repositories"
	"github.com/open-exam/exam-engine/internal/validator"
)

type gradingService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	publisher events.EventPublisher
}

func NewGradingService(
	repo repositories.Repository,
	db *gorm.DB,
	logger *slog.Logger,
	v *validator.Validator,
	publisher events.EventPublisher,
) GradingService {
	return &gradingService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: v,
		publisher: publisher,
	}
}

// ===== AUTO GRADING =====

func (s *gradingService) AutoGradeSubmission(ctx context.Context, submissionID uint) (*SubmissionGradingResult, error) {
	var result *SubmissionGradingResult
	var submission *models.Submission

	err := s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		var err error
		submission, result, err = s.gradeSubmission(ctx, txRepo, submissionID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Submission graded",
		"submission_id", submissionID,
		"score", result.TotalScore,
		"grading_status", result.GradingStatus)

	s.publishGraded(ctx, submission)
	return result, nil
}

// gradeSubmission grades every answer of one completed submission inside
// the caller's transaction. Manually graded essay answers keep their grade;
// everything else is scored from the manifest snapshot.
func (s *gradingService) gradeSubmission(ctx context.Context, txRepo repositories.Repository, submissionID uint) (*models.Submission, *SubmissionGradingResult, error) {
	submission, err := txRepo.Submission().GetByID(ctx, nil, submissionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, nil, ErrSubmissionNotFound
		}
		return nil, nil, fmt.Errorf("failed to get submission: %w", err)
	}
	if submission.Status != models.SubmissionCompleted {
		return nil, nil, NewBusinessRuleError("submission_completed", "only completed submissions can be graded")
	}

	session, err := txRepo.Session().GetByIDWithTemplate(ctx, nil, submission.SessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get session: %w", err)
	}

	manifest, err := txRepo.Manifest().GetBySessionAndParticipant(ctx, nil, submission.SessionID, submission.ParticipantID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, nil, ErrManifestNotFound
		}
		return nil, nil, fmt.Errorf("failed to get manifest: %w", err)
	}
	questions, err := manifest.InstanceQuestions()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	answers, err := txRepo.Answer().GetBySubmission(ctx, nil, submissionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get answers: %w", err)
	}
	byQuestion := make(map[uint]*models.Answer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}

	now := time.Now().UTC()
	result := &SubmissionGradingResult{
		SubmissionID: submissionID,
		GradedAt:     now,
		Questions:    make([]GradingResult, 0, len(questions)),
	}

	var sumEarned, sumMax float64
	anyPending := false

	for i := range questions {
		q := &questions[i]
		sumMax += q.Points

		entry := GradingResult{
			QuestionID: q.QuestionID,
			Type:       q.Type,
			MaxPoints:  q.Points,
			GradedAt:   now,
		}

		answer, answered := byQuestion[q.QuestionID]
		if !answered {
			// Unanswered scores zero; essays with no text need no grader
			entry.IsCorrect = boolPtr(false)
			result.Questions = append(result.Questions, entry)
			continue
		}
		entry.AnswerID = answer.ID

		// A human grade on an essay survives a regrade
		if q.Type == models.Essay && answer.GradedBy != nil {
			entry.Score = answer.Score
			entry.GradedBy = answer.GradedBy
			entry.Notes = answer.GradingNotes
			if answer.GradedAt != nil {
				entry.GradedAt = *answer.GradedAt
			}
			sumEarned += answer.Score
			result.Questions = append(result.Questions, entry)
			continue
		}

		score, isCorrect, pending, scoreErr := scoreAnswer(q, json.RawMessage(answer.Answer))
		if scoreErr != nil {
			// Answers are normalized at save time, so a decode failure here
			// means the snapshot key is broken; record it and score zero
			var malformed *answerkey.MalformedAnswerError
			if !errors.As(scoreErr, &malformed) {
				return nil, nil, scoreErr
			}
			entry.Warning = malformed.Reason
			score, isCorrect, pending = 0, boolPtr(false), false
		}

		answer.Score = score
		answer.IsCorrect = isCorrect
		answer.MaxPoints = q.Points
		if pending {
			answer.GradingStatus = models.GradingPending
			answer.Score = 0
			answer.IsCorrect = nil
			anyPending = true
		} else {
			answer.GradingStatus = models.GradingAuto
		}
		if err := txRepo.Answer().Update(ctx, nil, answer); err != nil {
			return nil, nil, fmt.Errorf("failed to update answer %d: %w", answer.ID, err)
		}

		entry.Score = answer.Score
		entry.IsCorrect = answer.IsCorrect
		entry.Pending = pending
		sumEarned += answer.Score
		result.Questions = append(result.Questions, entry)
	}

	totalScore := session.Template.TotalScore
	submission.Score = aggregateScore(totalScore, sumEarned, sumMax)
	if anyPending {
		submission.GradingStatus = models.GradingPending
	} else {
		submission.GradingStatus = models.GradingDone
	}
	if err := txRepo.Submission().Update(ctx, nil, submission); err != nil {
		return nil, nil, fmt.Errorf("failed to update submission: %w", err)
	}

	result.TotalScore = submission.Score
	result.MaxScore = totalScore
	result.GradingStatus = submission.GradingStatus
	return submission, result, nil
}

// ===== MANUAL GRADING =====

func (s *gradingService) GradeEssayAnswer(ctx context.Context, answerID uint, req *GradeAnswerRequest, graderID string) (*GradingResult, error) {
	s.logger.Info("Grading essay answer", "answer_id", answerID, "grader_id", graderID)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	answer, err := s.repo.Answer().GetByID(ctx, nil, answerID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAnswerNotFound
		}
		return nil, fmt.Errorf("failed to get answer: %w", err)
	}

	submission, err := s.repo.Submission().GetByID(ctx, nil, answer.SubmissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}

	manifest, err := s.repo.Manifest().GetBySessionAndParticipant(ctx, nil, submission.SessionID, submission.ParticipantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get manifest: %w", err)
	}
	questions, err := manifest.InstanceQuestions()
	if err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	var instance *models.InstanceQuestion
	for i := range questions {
		if questions[i].QuestionID == answer.QuestionID {
			instance = &questions[i]
			break
		}
	}
	if instance == nil {
		return nil, ErrQuestionNotInExam
	}
	if instance.Type != models.Essay {
		return nil, ErrNotEssayAnswer
	}

	warning := ""
	if key, keyErr := answerkey.DecodeEssayKey(instance.QuestionID, instance.AnswerKey); keyErr == nil {
		if total := key.RubricTotal(); total > 0 && total != instance.Points {
			warning = fmt.Sprintf("rubric totals %.2f but the question is worth %.2f points", total, instance.Points)
		}
	}
	if req.Score > instance.Points {
		return nil, NewValidationError("score", fmt.Sprintf("score exceeds the question's %.2f points", instance.Points), req.Score)
	}

	now := time.Now().UTC()
	answer.Score = req.Score
	answer.IsCorrect = nil
	answer.MaxPoints = instance.Points
	answer.GradingStatus = models.GradingDone
	answer.GradingNotes = req.Notes
	answer.GradedBy = &graderID
	answer.GradedAt = &now

	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		if err := txRepo.Answer().Update(ctx, nil, answer); err != nil {
			return fmt.Errorf("failed to update answer: %w", err)
		}
		return s.refreshSubmissionScore(ctx, txRepo, submission, questions)
	})
	if err != nil {
		return nil, err
	}

	if submission.GradingStatus == models.GradingDone {
		s.publishGraded(ctx, submission)
	}

	return &GradingResult{
		AnswerID:   answer.ID,
		QuestionID: answer.QuestionID,
		Type:       instance.Type,
		Score:      answer.Score,
		MaxPoints:  answer.MaxPoints,
		GradedAt:   now,
		GradedBy:   &graderID,
		Notes:      req.Notes,
		Warning:    warning,
	}, nil
}

// refreshSubmissionScore recomputes the submission aggregate after a manual
// grade lands.
func (s *gradingService) refreshSubmissionScore(ctx context.Context, txRepo repositories.Repository, submission *models.Submission, questions []models.InstanceQuestion) error {
	answers, err := txRepo.Answer().GetBySubmission(ctx, nil, submission.ID)
	if err != nil {
		return fmt.Errorf("failed to get answers: %w", err)
	}

	var sumEarned, sumMax float64
	for i := range questions {
		sumMax += questions[i].Points
	}
	anyPending := false
	for _, a := range answers {
		sumEarned += a.Score
		if a.GradingStatus == models.GradingPending {
			anyPending = true
		}
	}

	session, err := txRepo.Session().GetByIDWithTemplate(ctx, nil, submission.SessionID)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}

	submission.Score = aggregateScore(session.Template.TotalScore, sumEarned, sumMax)
	if anyPending {
		submission.GradingStatus = models.GradingPending
	} else {
		submission.GradingStatus = models.GradingDone
	}
	return txRepo.Submission().Update(ctx, nil, submission)
}

// ===== REGRADING =====

func (s *gradingService) RegradeSession(ctx context.Context, sessionID uint, userID string) (map[string]*SubmissionGradingResult, error) {
	s.logger.Info("Regrading session", "session_id", sessionID, "user_id", userID)

	if _, err := s.repo.Session().GetByID(ctx, nil, sessionID); err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	status := models.SubmissionCompleted
	submissions, _, err := s.repo.Submission().ListBySession(ctx, nil, sessionID, repositories.SubmissionFilters{
		Status: &status,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}

	results := make(map[string]*SubmissionGradingResult, len(submissions))
	for _, submission := range submissions {
		result, err := s.AutoGradeSubmission(ctx, submission.ID)
		if err != nil {
			s.logger.Error("Failed to regrade submission",
				"submission_id", submission.ID, "error", err)
			continue
		}
		results[submission.ParticipantID] = result
	}

	return results, nil
}

// ===== HELPERS =====

// aggregateScore maps earned points onto the template's total score scale.
// Zero-safe: an empty manifest aggregates to zero.
func aggregateScore(totalScore, sumEarned, sumMax float64) float64 {
	if sumMax <= 0 {
		return 0
	}
	return totalScore * (sumEarned / sumMax)
}

func (s *gradingService) publishGraded(ctx context.Context, submission *models.Submission) {
	if s.publisher == nil {
		return
	}
	event := events.NewEvent(events.EventSubmissionGraded, events.SubmissionGradedEvent{
		SessionID:     submission.SessionID,
		SubmissionID:  submission.ID,
		ParticipantID: submission.ParticipantID,
		Score:         submission.Score,
		GradingStatus: string(submission.GradingStatus),
	})
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish event", "event_type", event.Type, "error", err)
	}
}
