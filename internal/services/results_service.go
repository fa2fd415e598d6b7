package services

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/open-exam/exam-engine/internal/events"
	"github.com/open-exam/exam-engine/internal/models"
	"github.com/open-exam/exam-engine/internal/repositories"
)

// Roles recognized from the gateway identity headers.
const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

type resultsService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	publisher events.EventPublisher
}

func NewResultsService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, publisher events.EventPublisher) ResultsService {
	return &resultsService{
		repo:      repo,
		db:        db,
		logger:    logger,
		publisher: publisher,
	}
}

// ===== SCORECARDS =====

func (s *resultsService) GetScorecard(ctx context.Context, sessionID uint, participantID string, requesterID, requesterRole string) (*Scorecard, error) {
	staff := requesterRole == RoleAdmin || requesterRole == RoleTeacher
	if !staff && requesterID != participantID {
		return nil, NewPermissionError(requesterID, sessionID, "scorecard", "read", "participants can only read their own results")
	}

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

	if !staff && !submission.Published {
		return nil, NewPermissionError(requesterID, sessionID, "scorecard", "read", "results are not published yet")
	}

	return s.buildScorecard(ctx, session, submission)
}

func (s *resultsService) buildScorecard(ctx context.Context, session *models.ExamSession, submission *models.Submission) (*Scorecard, error) {
	card := &Scorecard{
		SubmissionID:   submission.ID,
		SessionID:      submission.SessionID,
		ParticipantID:  submission.ParticipantID,
		Status:         submission.Status,
		GradingStatus:  submission.GradingStatus,
		EndReason:      submission.EndReason,
		Score:          submission.Score,
		TotalScore:     session.Template.TotalScore,
		ViolationCount: submission.ViolationCount,
		Published:      submission.Published,
		CompletedAt:    submission.CompletedAt,
	}

	manifest, err := s.repo.Manifest().GetBySessionAndParticipant(ctx, nil, submission.SessionID, submission.ParticipantID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			// Never started: a scorecard with no subtotals
			return card, nil
		}
		return nil, fmt.Errorf("failed to get manifest: %w", err)
	}
	questions, err := manifest.InstanceQuestions()
	if err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	answers, err := s.repo.Answer().GetBySubmission(ctx, nil, submission.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get answers: %w", err)
	}
	earnedByQuestion := make(map[uint]float64, len(answers))
	for _, a := range answers {
		earnedByQuestion[a.QuestionID] = a.Score
	}

	maxByType := make(map[models.QuestionType]float64)
	earnedByType := make(map[models.QuestionType]float64)
	for i := range questions {
		q := &questions[i]
		maxByType[q.Type] += q.Points
		earnedByType[q.Type] += earnedByQuestion[q.QuestionID]
	}

	for _, qType := range models.AllQuestionTypes {
		if _, present := maxByType[qType]; !present {
			continue
		}
		card.Subtotals = append(card.Subtotals, TypeSubtotal{
			Type:      qType,
			Earned:    earnedByType[qType],
			MaxPoints: maxByType[qType],
		})
	}

	return card, nil
}

// ===== SESSION AGGREGATES =====

func (s *resultsService) GetSessionResults(ctx context.Context, sessionID uint) (*SessionResults, error) {
	session, err := s.repo.Session().GetByIDWithTemplate(ctx, nil, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	submissions, _, err := s.repo.Submission().ListBySession(ctx, nil, sessionID, repositories.SubmissionFilters{})
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}

	results := &SessionResults{
		SessionID:  sessionID,
		Stats:      computeStats(sessionID, submissions),
		Scorecards: make([]*Scorecard, 0, len(submissions)),
	}
	for _, submission := range submissions {
		card, err := s.buildScorecard(ctx, session, submission)
		if err != nil {
			return nil, err
		}
		results.Scorecards = append(results.Scorecards, card)
	}

	return results, nil
}

func (s *resultsService) GetSessionStats(ctx context.Context, sessionID uint) (*SessionStats, error) {
	if _, err := s.repo.Session().GetByID(ctx, nil, sessionID); err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	submissions, _, err := s.repo.Submission().ListBySession(ctx, nil, sessionID, repositories.SubmissionFilters{})
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}

	stats := computeStats(sessionID, submissions)
	return &stats, nil
}

// computeStats aggregates completed submissions. Empty cohorts report
// zeroes.
func computeStats(sessionID uint, submissions []*models.Submission) SessionStats {
	stats := SessionStats{
		SessionID:    sessionID,
		Participants: len(submissions),
	}

	var sum float64
	for _, submission := range submissions {
		if submission.Status != models.SubmissionCompleted {
			continue
		}
		score := submission.Score
		if stats.Completed == 0 {
			stats.MaxScore = score
			stats.MinScore = score
		} else {
			if score > stats.MaxScore {
				stats.MaxScore = score
			}
			if score < stats.MinScore {
				stats.MinScore = score
			}
		}
		stats.Completed++
		sum += score
	}

	if stats.Participants > 0 {
		stats.CompletionRate = float64(stats.Completed) / float64(stats.Participants)
	}
	if stats.Completed > 0 {
		stats.MeanScore = sum / float64(stats.Completed)
	}
	return stats
}

// ===== PUBLICATION =====

func (s *resultsService) Publish(ctx context.Context, sessionID uint, publisherID string) error {
	s.logger.Info("Publishing session results", "session_id", sessionID, "publisher_id", publisherID)

	if _, err := s.repo.Session().GetByID(ctx, nil, sessionID); err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to get session: %w", err)
	}

	status := models.SubmissionCompleted
	submissions, _, err := s.repo.Submission().ListBySession(ctx, nil, sessionID, repositories.SubmissionFilters{
		Status: &status,
	})
	if err != nil {
		return fmt.Errorf("failed to list submissions: %w", err)
	}

	var pending int64
	for _, submission := range submissions {
		count, err := s.repo.Answer().CountPendingManual(ctx, nil, submission.ID)
		if err != nil {
			return fmt.Errorf("failed to count pending answers: %w", err)
		}
		pending += count
	}
	if pending > 0 {
		return &PublishBlockedError{SessionID: sessionID, PendingCount: int(pending)}
	}

	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		for _, submission := range submissions {
			if submission.Published {
				continue
			}
			submission.Published = true
			if err := txRepo.Submission().Update(ctx, nil, submission); err != nil {
				return fmt.Errorf("failed to publish submission %d: %w", submission.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.publisher != nil {
		event := events.NewEvent(events.EventResultsPublished, events.ResultsPublishedEvent{
			SessionID:   sessionID,
			PublishedBy: publisherID,
			Submissions: len(submissions),
		})
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("Failed to publish event", "event_type", event.Type, "error", err)
		}
	}

	return nil
}
