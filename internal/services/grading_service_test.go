package services

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/open-exam/exam-engine/internal/answerkey"
	"github.com/open-exam/exam-engine/internal/events"
	"github.com/open-exam/exam-engine/internal/models"
)

func gradingFixtureComposition() map[models.QuestionType]int {
	return map[models.QuestionType]int{
		models.MultipleChoice: 1,
		models.ComplexChoice:  1,
		models.Matching:       1,
		models.ShortAnswer:    1,
		models.Essay:          1,
		models.TrueFalse:      1,
	}
}

// correctAnswer reproduces the right answer from the instance's own key.
func correctAnswer(t *testing.T, q *models.InstanceQuestion) json.RawMessage {
	t.Helper()
	switch q.Type {
	case models.MultipleChoice:
		key, err := answerkey.DecodeMCKey(q.QuestionID, q.AnswerKey)
		if err != nil {
			t.Fatalf("decode mc key: %v", err)
		}
		return json.RawMessage(mustJSON(t, key.Option))
	case models.ComplexChoice:
		var content models.ChoiceContent
		if err := json.Unmarshal(q.Content, &content); err != nil {
			t.Fatalf("decode choice content: %v", err)
		}
		key, err := answerkey.DecodeComplexMCKey(q.QuestionID, q.AnswerKey, content.PartialCredit)
		if err != nil {
			t.Fatalf("decode complex key: %v", err)
		}
		return json.RawMessage(mustJSON(t, key.SortedOptions()))
	case models.Matching:
		var content models.MatchingContent
		if err := json.Unmarshal(q.Content, &content); err != nil {
			t.Fatalf("decode matching content: %v", err)
		}
		key, err := answerkey.DecodeMatchingKey(q.QuestionID, q.AnswerKey, content)
		if err != nil {
			t.Fatalf("decode matching key: %v", err)
		}
		pairs := make(map[string]string, len(key.Pairs))
		for leftID, acceptable := range key.Pairs {
			for rightID := range acceptable {
				pairs[leftID] = rightID
				break
			}
		}
		return json.RawMessage(mustJSON(t, pairs))
	case models.ShortAnswer:
		key, err := answerkey.DecodeShortKey(q.QuestionID, q.AnswerKey, false)
		if err != nil {
			t.Fatalf("decode short key: %v", err)
		}
		return json.RawMessage(mustJSON(t, key.Accepted[0]))
	case models.TrueFalse:
		key, err := answerkey.DecodeTrueFalseKey(q.QuestionID, q.AnswerKey)
		if err != nil {
			t.Fatalf("decode true/false key: %v", err)
		}
		return json.RawMessage(mustJSON(t, key.Value))
	case models.Essay:
		return json.RawMessage(`"A thorough discussion of the topic."`)
	}
	t.Fatalf("unexpected question type %s", q.Type)
	return nil
}

// setupCompletedSubmission seeds an exam, generates the manifest and stores
// a completed submission with answers for the listed questions.
func setupCompletedSubmission(t *testing.T, repo *mockRepository, skip map[models.QuestionType]bool) (uint, *models.Submission, []models.InstanceQuestion) {
	t.Helper()
	ctx := context.Background()

	sessionID, _, _ := seedExam(t, repo, fixtureOptions{
		composition: gradingFixtureComposition(),
		totalScore:  60,
	})

	manifests := NewManifestService(repo, nil, testLogger())
	if _, err := manifests.Generate(ctx, sessionID, "student-1"); err != nil {
		t.Fatalf("generate manifest: %v", err)
	}
	stored, err := repo.Manifest().GetBySessionAndParticipant(ctx, nil, sessionID, "student-1")
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	questions, err := stored.InstanceQuestions()
	if err != nil {
		t.Fatalf("decode manifest: %v", err)
	}

	now := time.Now().UTC()
	started := now.Add(-20 * time.Minute)
	reason := models.EndReasonSubmit
	submission := &models.Submission{
		SessionID:     sessionID,
		ParticipantID: "student-1",
		Status:        models.SubmissionCompleted,
		StartedAt:     &started,
		CompletedAt:   &now,
		EndReason:     &reason,
	}
	if err := repo.Submission().Create(ctx, nil, submission); err != nil {
		t.Fatalf("create submission: %v", err)
	}

	for i := range questions {
		q := &questions[i]
		if skip[q.Type] {
			continue
		}
		answer := &models.Answer{
			SubmissionID: submission.ID,
			QuestionID:   q.QuestionID,
			Answer:       datatypes.JSON(correctAnswer(t, q)),
			MaxPoints:    q.Points,
		}
		if err := repo.Answer().Upsert(ctx, nil, answer); err != nil {
			t.Fatalf("store answer: %v", err)
		}
	}

	return sessionID, submission, questions
}

func TestAutoGradeSubmission(t *testing.T) {
	repo := newMockRepository()
	_, submission, _ := setupCompletedSubmission(t, repo, nil)
	publisher := events.NewMockEventPublisher(testLogger())
	svc := NewGradingService(repo, nil, testLogger(), testValidator(), publisher)

	result, err := svc.AutoGradeSubmission(context.Background(), submission.ID)
	if err != nil {
		t.Fatalf("auto grade: %v", err)
	}

	// Everything correct except the essay, which is pending at zero
	if math.Abs(result.TotalScore-50) > 1e-9 {
		t.Errorf("total score %f, want 50", result.TotalScore)
	}
	if result.MaxScore != 60 {
		t.Errorf("max score %f, want 60", result.MaxScore)
	}
	if result.GradingStatus != models.GradingPending {
		t.Errorf("grading status %s, want %s", result.GradingStatus, models.GradingPending)
	}

	pendingCount := 0
	for _, entry := range result.Questions {
		if entry.Pending {
			pendingCount++
			if entry.Type != models.Essay {
				t.Errorf("non-essay question %d pending", entry.QuestionID)
			}
		}
	}
	if pendingCount != 1 {
		t.Errorf("pending entries %d, want 1", pendingCount)
	}
}

func TestAutoGradeSkipsUnanswered(t *testing.T) {
	repo := newMockRepository()
	_, submission, _ := setupCompletedSubmission(t, repo, map[models.QuestionType]bool{
		models.MultipleChoice: true,
		models.Essay:          true,
	})
	svc := NewGradingService(repo, nil, testLogger(), testValidator(), events.NewMockEventPublisher(testLogger()))

	result, err := svc.AutoGradeSubmission(context.Background(), submission.ID)
	if err != nil {
		t.Fatalf("auto grade: %v", err)
	}

	// 40 of 60 earned; the unanswered essay needs no manual grading
	if math.Abs(result.TotalScore-40) > 1e-9 {
		t.Errorf("total score %f, want 40", result.TotalScore)
	}
	if result.GradingStatus != models.GradingDone {
		t.Errorf("grading status %s, want %s", result.GradingStatus, models.GradingDone)
	}

	for _, entry := range result.Questions {
		if entry.Type == models.MultipleChoice {
			if entry.Score != 0 || entry.IsCorrect == nil || *entry.IsCorrect {
				t.Errorf("unanswered question graded as %f correct=%v", entry.Score, entry.IsCorrect)
			}
		}
	}
}

func TestAutoGradeRejectsInProgress(t *testing.T) {
	repo := newMockRepository()
	sessionID, _, _ := seedExam(t, repo, fixtureOptions{})
	ctx := context.Background()

	started := time.Now().UTC()
	deadline := started.Add(30 * time.Minute)
	submission := &models.Submission{
		SessionID:     sessionID,
		ParticipantID: "student-1",
		Status:        models.SubmissionInProgress,
		StartedAt:     &started,
		Deadline:      &deadline,
	}
	if err := repo.Submission().Create(ctx, nil, submission); err != nil {
		t.Fatalf("create submission: %v", err)
	}

	svc := NewGradingService(repo, nil, testLogger(), testValidator(), events.NewMockEventPublisher(testLogger()))
	_, err := svc.AutoGradeSubmission(ctx, submission.ID)

	var ruleErr *BusinessRuleError
	if !errors.As(err, &ruleErr) {
		t.Fatalf("expected BusinessRuleError, got %v", err)
	}
}

func TestGradeEssayAnswerCompletesGrading(t *testing.T) {
	repo := newMockRepository()
	ctx := context.Background()
	_, submission, questions := setupCompletedSubmission(t, repo, nil)
	publisher := events.NewMockEventPublisher(testLogger())
	svc := NewGradingService(repo, nil, testLogger(), testValidator(), publisher)

	if _, err := svc.AutoGradeSubmission(ctx, submission.ID); err != nil {
		t.Fatalf("auto grade: %v", err)
	}

	var essayAnswerID uint
	var essayPoints float64
	for i := range questions {
		if questions[i].Type != models.Essay {
			continue
		}
		answer, err := repo.Answer().GetBySubmissionAndQuestion(ctx, nil, submission.ID, questions[i].QuestionID)
		if err != nil {
			t.Fatalf("load essay answer: %v", err)
		}
		essayAnswerID = answer.ID
		essayPoints = questions[i].Points
	}

	notes := "Strong argument"
	result, err := svc.GradeEssayAnswer(ctx, essayAnswerID, &GradeAnswerRequest{
		Score: essayPoints,
		Notes: &notes,
	}, "teacher-1")
	if err != nil {
		t.Fatalf("grade essay: %v", err)
	}
	if result.Score != essayPoints {
		t.Errorf("result score %f, want %f", result.Score, essayPoints)
	}
	if result.GradedBy == nil || *result.GradedBy != "teacher-1" {
		t.Errorf("graded by %v, want teacher-1", result.GradedBy)
	}

	refreshed, err := repo.Submission().GetByID(ctx, nil, submission.ID)
	if err != nil {
		t.Fatalf("reload submission: %v", err)
	}
	if math.Abs(refreshed.Score-60) > 1e-9 {
		t.Errorf("submission score %f, want 60 after manual grade", refreshed.Score)
	}
	if refreshed.GradingStatus != models.GradingDone {
		t.Errorf("grading status %s, want %s", refreshed.GradingStatus, models.GradingDone)
	}
}

func TestGradeEssayAnswerRejectsOverScore(t *testing.T) {
	repo := newMockRepository()
	ctx := context.Background()
	_, submission, questions := setupCompletedSubmission(t, repo, nil)
	svc := NewGradingService(repo, nil, testLogger(), testValidator(), events.NewMockEventPublisher(testLogger()))

	if _, err := svc.AutoGradeSubmission(ctx, submission.ID); err != nil {
		t.Fatalf("auto grade: %v", err)
	}

	for i := range questions {
		if questions[i].Type != models.Essay {
			continue
		}
		answer, err := repo.Answer().GetBySubmissionAndQuestion(ctx, nil, submission.ID, questions[i].QuestionID)
		if err != nil {
			t.Fatalf("load essay answer: %v", err)
		}
		_, err = svc.GradeEssayAnswer(ctx, answer.ID, &GradeAnswerRequest{
			Score: questions[i].Points + 1,
		}, "teacher-1")
		var validationErr *ValidationError
		if !errors.As(err, &validationErr) {
			t.Fatalf("expected ValidationError for over-score, got %v", err)
		}
	}
}

func TestGradeEssayAnswerRejectsNonEssay(t *testing.T) {
	repo := newMockRepository()
	ctx := context.Background()
	_, submission, questions := setupCompletedSubmission(t, repo, nil)
	svc := NewGradingService(repo, nil, testLogger(), testValidator(), events.NewMockEventPublisher(testLogger()))

	for i := range questions {
		if questions[i].Type != models.MultipleChoice {
			continue
		}
		answer, err := repo.Answer().GetBySubmissionAndQuestion(ctx, nil, submission.ID, questions[i].QuestionID)
		if err != nil {
			t.Fatalf("load answer: %v", err)
		}
		_, err = svc.GradeEssayAnswer(ctx, answer.ID, &GradeAnswerRequest{Score: 1}, "teacher-1")
		if !errors.Is(err, ErrNotEssayAnswer) {
			t.Fatalf("expected ErrNotEssayAnswer, got %v", err)
		}
	}
}

func TestRegradePreservesManualEssayGrades(t *testing.T) {
	repo := newMockRepository()
	ctx := context.Background()
	sessionID, submission, questions := setupCompletedSubmission(t, repo, nil)
	svc := NewGradingService(repo, nil, testLogger(), testValidator(), events.NewMockEventPublisher(testLogger()))

	if _, err := svc.AutoGradeSubmission(ctx, submission.ID); err != nil {
		t.Fatalf("auto grade: %v", err)
	}

	var essayPoints float64
	for i := range questions {
		if questions[i].Type != models.Essay {
			continue
		}
		answer, err := repo.Answer().GetBySubmissionAndQuestion(ctx, nil, submission.ID, questions[i].QuestionID)
		if err != nil {
			t.Fatalf("load essay answer: %v", err)
		}
		essayPoints = questions[i].Points
		if _, err := svc.GradeEssayAnswer(ctx, answer.ID, &GradeAnswerRequest{Score: essayPoints / 2}, "teacher-1"); err != nil {
			t.Fatalf("grade essay: %v", err)
		}
	}

	results, err := svc.RegradeSession(ctx, sessionID, "teacher-1")
	if err != nil {
		t.Fatalf("regrade: %v", err)
	}

	result, ok := results["student-1"]
	if !ok {
		t.Fatal("regrade result missing student-1")
	}
	// 50 auto points plus the manual half-credit essay
	want := 50 + essayPoints/2
	if math.Abs(result.TotalScore-want) > 1e-9 {
		t.Errorf("regraded score %f, want %f", result.TotalScore, want)
	}
	if result.GradingStatus != models.GradingDone {
		t.Errorf("grading status %s, want %s after manual grade survives", result.GradingStatus, models.GradingDone)
	}
}
