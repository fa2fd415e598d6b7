package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/open-exam/exam-engine/internal/events"
	"github.com/open-exam/exam-engine/internal/models"
	"github.com/open-exam/exam-engine/internal/validator"
)

func newSessionServiceForTest(repo *mockRepository) SessionService {
	logger := testLogger()
	v := testValidator()
	publisher := events.NewMockEventPublisher(logger)
	manifests := NewManifestService(repo, nil, logger)
	grading := NewGradingService(repo, nil, logger, v, publisher)
	return NewSessionService(repo, nil, logger, v, publisher, manifests, grading)
}

// ===== START =====

func TestStartOutsideWindow(t *testing.T) {
	repo := newMockRepository()
	svc := newSessionServiceForTest(repo)
	ctx := context.Background()
	now := time.Now().UTC()

	futureID, _, _ := seedExam(t, repo, fixtureOptions{
		windowStart: now.Add(time.Hour),
		windowEnd:   now.Add(3 * time.Hour),
	})
	pastID, _, _ := seedExam(t, repo, fixtureOptions{
		windowStart: now.Add(-3 * time.Hour),
		windowEnd:   now.Add(-time.Hour),
	})

	for _, sessionID := range []uint{futureID, pastID} {
		_, err := svc.Start(ctx, sessionID, "student-1", nil)
		var windowErr *WindowError
		if !errors.As(err, &windowErr) {
			t.Errorf("session %d: expected WindowError, got %v", sessionID, err)
		}
	}
}

func TestStartEnforcesAccessToken(t *testing.T) {
	repo := newMockRepository()
	svc := newSessionServiceForTest(repo)
	ctx := context.Background()

	token := "SECRET42"
	sessionID, _, _ := seedExam(t, repo, fixtureOptions{
		requireToken: true,
		accessToken:  &token,
	})

	_, err := svc.Start(ctx, sessionID, "student-1", nil)
	var tokenErr *TokenError
	if !errors.As(err, &tokenErr) {
		t.Fatalf("expected TokenError without token, got %v", err)
	}

	wrong := "WRONG000"
	_, err = svc.Start(ctx, sessionID, "student-1", &StartExamRequest{Token: &wrong})
	if !errors.As(err, &tokenErr) {
		t.Fatalf("expected TokenError with wrong token, got %v", err)
	}

	resp, err := svc.Start(ctx, sessionID, "student-1", &StartExamRequest{Token: &token})
	if err != nil {
		t.Fatalf("start with valid token: %v", err)
	}
	if resp.Status != models.SubmissionInProgress {
		t.Errorf("status %s, want %s", resp.Status, models.SubmissionInProgress)
	}
	if resp.TimeRemainingSeconds <= 0 {
		t.Errorf("time remaining %d, want > 0", resp.TimeRemainingSeconds)
	}
}

func TestStartResumeKeepsSubmission(t *testing.T) {
	repo := newMockRepository()
	svc := newSessionServiceForTest(repo)
	ctx := context.Background()

	sessionID, _, _ := seedExam(t, repo, fixtureOptions{})

	first, err := svc.Start(ctx, sessionID, "student-1", nil)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	second, err := svc.Start(ctx, sessionID, "student-1", nil)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("resume created a new submission: %d then %d", first.ID, second.ID)
	}
	if len(repo.manifests) != 1 {
		t.Errorf("manifest count %d, want 1 after resume", len(repo.manifests))
	}
}

func TestStartDeadlineClampedToWindow(t *testing.T) {
	repo := newMockRepository()
	svc := newSessionServiceForTest(repo)
	ctx := context.Background()
	now := time.Now().UTC()

	end := now.Add(10 * time.Minute)
	sessionID, _, _ := seedExam(t, repo, fixtureOptions{
		duration:  120,
		windowEnd: end,
	})

	resp, err := svc.Start(ctx, sessionID, "student-1", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if resp.Deadline == nil {
		t.Fatal("deadline not set")
	}
	if !resp.Deadline.Equal(end) {
		t.Errorf("deadline %v, want clamped to window end %v", resp.Deadline, end)
	}
}

func TestStartAfterCompletion(t *testing.T) {
	repo := newMockRepository()
	svc := newSessionServiceForTest(repo)
	ctx := context.Background()

	sessionID, _, _ := seedExam(t, repo, fixtureOptions{})

	if _, err := svc.Start(ctx, sessionID, "student-1", nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Submit(ctx, sessionID, "student-1"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err := svc.Start(ctx, sessionID, "student-1", nil)
	var completedErr *AlreadyCompletedError
	if !errors.As(err, &completedErr) {
		t.Fatalf("expected AlreadyCompletedError, got %v", err)
	}
	if completedErr.EndReason == nil || *completedErr.EndReason != models.EndReasonSubmit {
		t.Errorf("end reason %v, want %s", completedErr.EndReason, models.EndReasonSubmit)
	}
}

// ===== ANSWERS =====

func TestSaveAnswerRequiresActiveSubmission(t *testing.T) {
	repo := newMockRepository()
	svc := newSessionServiceForTest(repo)
	ctx := context.Background()

	sessionID, _, _ := seedExam(t, repo, fixtureOptions{})
	req := &SaveAnswerRequest{QuestionID: 1, Answer: json.RawMessage(`"A"`)}

	if err := svc.SaveAnswer(ctx, sessionID, "student-1", req); !errors.Is(err, ErrSubmissionNotFound) {
		t.Errorf("before start: got %v, want ErrSubmissionNotFound", err)
	}

	if _, err := svc.Start(ctx, sessionID, "student-1", nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Submit(ctx, sessionID, "student-1"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := svc.SaveAnswer(ctx, sessionID, "student-1", req); !errors.Is(err, ErrSubmissionNotActive) {
		t.Errorf("after submit: got %v, want ErrSubmissionNotActive", err)
	}
}

func TestSaveAnswerRejectsForeignQuestion(t *testing.T) {
	repo := newMockRepository()
	svc := newSessionServiceForTest(repo)
	ctx := context.Background()

	sessionID, _, _ := seedExam(t, repo, fixtureOptions{})
	if _, err := svc.Start(ctx, sessionID, "student-1", nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	err := svc.SaveAnswer(ctx, sessionID, "student-1", &SaveAnswerRequest{
		QuestionID: 99999,
		Answer:     json.RawMessage(`"A"`),
	})
	if !errors.Is(err, ErrQuestionNotInExam) {
		t.Errorf("got %v, want ErrQuestionNotInExam", err)
	}
}

func TestSaveAnswerLastWriteWins(t *testing.T) {
	repo := newMockRepository()
	svc := newSessionServiceForTest(repo)
	ctx := context.Background()

	sessionID, _, _ := seedExam(t, repo, fixtureOptions{})
	started, err := svc.Start(ctx, sessionID, "student-1", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	manifest, err := repo.Manifest().GetBySessionAndParticipant(ctx, nil, sessionID, "student-1")
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	questions, err := manifest.InstanceQuestions()
	if err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	var mc *models.InstanceQuestion
	for i := range questions {
		if questions[i].Type == models.MultipleChoice {
			mc = &questions[i]
			break
		}
	}
	if mc == nil {
		t.Fatal("no multiple choice question in manifest")
	}

	for _, label := range []string{"A", "B"} {
		if err := svc.SaveAnswer(ctx, sessionID, "student-1", &SaveAnswerRequest{
			QuestionID: mc.QuestionID,
			Answer:     json.RawMessage(`"` + label + `"`),
		}); err != nil {
			t.Fatalf("save %s: %v", label, err)
		}
	}

	answers, err := repo.Answer().GetBySubmission(ctx, nil, started.ID)
	if err != nil {
		t.Fatalf("load answers: %v", err)
	}
	if len(answers) != 1 {
		t.Fatalf("answer rows %d, want 1 after re-save", len(answers))
	}
	if string(answers[0].Answer) != `"B"` {
		t.Errorf("stored answer %s, want the latest save", answers[0].Answer)
	}
}

// ===== SUBMIT =====

func TestSubmitHonorsMinimumTime(t *testing.T) {
	repo := newMockRepository()
	svc := newSessionServiceForTest(repo)
	ctx := context.Background()

	sessionID, _, _ := seedExam(t, repo, fixtureOptions{minSubmit: 10})
	if _, err := svc.Start(ctx, sessionID, "student-1", nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := svc.Submit(ctx, sessionID, "student-1"); !errors.Is(err, ErrSubmitTooEarly) {
		t.Errorf("got %v, want ErrSubmitTooEarly", err)
	}
}

func TestSubmitCompletesAndGrades(t *testing.T) {
	repo := newMockRepository()
	svc := newSessionServiceForTest(repo)
	ctx := context.Background()

	sessionID, _, _ := seedExam(t, repo, fixtureOptions{})
	if _, err := svc.Start(ctx, sessionID, "student-1", nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	manifest, err := repo.Manifest().GetBySessionAndParticipant(ctx, nil, sessionID, "student-1")
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	questions, err := manifest.InstanceQuestions()
	if err != nil {
		t.Fatalf("decode manifest: %v", err)
	}

	// Answer just the first question, correctly
	first := &questions[0]
	if err := svc.SaveAnswer(ctx, sessionID, "student-1", &SaveAnswerRequest{
		QuestionID: first.QuestionID,
		Answer:     correctAnswer(t, first),
	}); err != nil {
		t.Fatalf("save answer: %v", err)
	}

	resp, err := svc.Submit(ctx, sessionID, "student-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if resp.Status != models.SubmissionCompleted {
		t.Errorf("status %s, want %s", resp.Status, models.SubmissionCompleted)
	}
	if resp.EndReason == nil || *resp.EndReason != models.EndReasonSubmit {
		t.Errorf("end reason %v, want %s", resp.EndReason, models.EndReasonSubmit)
	}
	if resp.GradingStatus != models.GradingDone {
		t.Errorf("grading status %s, want %s", resp.GradingStatus, models.GradingDone)
	}
	if resp.Score != first.Points {
		t.Errorf("score %f, want %f for one correct answer", resp.Score, first.Points)
	}

	_, err = svc.Submit(ctx, sessionID, "student-1")
	var completedErr *AlreadyCompletedError
	if !errors.As(err, &completedErr) {
		t.Errorf("second submit: expected AlreadyCompletedError, got %v", err)
	}
}

// ===== PROCTORING =====

func TestRecordViolationDisabledByDefault(t *testing.T) {
	repo := newMockRepository()
	svc := newSessionServiceForTest(repo)
	ctx := context.Background()

	sessionID, _, _ := seedExam(t, repo, fixtureOptions{})
	if _, err := svc.Start(ctx, sessionID, "student-1", nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err := svc.RecordViolation(ctx, sessionID, "student-1", &RecordViolationRequest{
		Type: models.ViolationTabSwitch,
	})
	if !errors.Is(err, ErrViolationsDisabled) {
		t.Errorf("got %v, want ErrViolationsDisabled", err)
	}
}

func TestRecordViolationLenientNeverBars(t *testing.T) {
	repo := newMockRepository()
	svc := newSessionServiceForTest(repo)
	ctx := context.Background()

	sessionID, _, _ := seedExam(t, repo, fixtureOptions{
		violations: &models.ViolationSettings{
			Mode:          models.ViolationLenient,
			MaxViolations: 2,
		},
	})
	if _, err := svc.Start(ctx, sessionID, "student-1", nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	var resp *ViolationResponse
	var err error
	for i := 0; i < 3; i++ {
		resp, err = svc.RecordViolation(ctx, sessionID, "student-1", &RecordViolationRequest{
			Type: models.ViolationTabSwitch,
		})
		if err != nil {
			t.Fatalf("violation %d: %v", i+1, err)
		}
	}

	if resp.ViolationCount != 3 {
		t.Errorf("violation count %d, want 3", resp.ViolationCount)
	}
	if resp.ForceCompleted {
		t.Error("lenient mode force-completed the submission")
	}

	submission, err := repo.Submission().GetBySessionAndParticipant(ctx, nil, sessionID, "student-1")
	if err != nil {
		t.Fatalf("load submission: %v", err)
	}
	if submission.Barred || submission.Status != models.SubmissionInProgress {
		t.Errorf("lenient mode changed submission state: barred=%v status=%s", submission.Barred, submission.Status)
	}
}

func TestRecordViolationCooldown(t *testing.T) {
	repo := newMockRepository()
	svc := newSessionServiceForTest(repo)
	ctx := context.Background()

	sessionID, _, _ := seedExam(t, repo, fixtureOptions{
		violations: &models.ViolationSettings{
			Mode:            models.ViolationLenient,
			MaxViolations:   10,
			CooldownSeconds: 60,
		},
	})
	if _, err := svc.Start(ctx, sessionID, "student-1", nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	first, err := svc.RecordViolation(ctx, sessionID, "student-1", &RecordViolationRequest{
		Type: models.ViolationTabSwitch,
	})
	if err != nil {
		t.Fatalf("first violation: %v", err)
	}
	if !first.Counted || first.ViolationCount != 1 {
		t.Errorf("first report counted=%v count=%d, want counted 1", first.Counted, first.ViolationCount)
	}

	// Same type inside the cooldown: logged but not counted
	second, err := svc.RecordViolation(ctx, sessionID, "student-1", &RecordViolationRequest{
		Type: models.ViolationTabSwitch,
	})
	if err != nil {
		t.Fatalf("second violation: %v", err)
	}
	if second.Counted || second.ViolationCount != 1 {
		t.Errorf("cooldown report counted=%v count=%d, want uncounted 1", second.Counted, second.ViolationCount)
	}

	// A different type has its own cooldown clock
	other, err := svc.RecordViolation(ctx, sessionID, "student-1", &RecordViolationRequest{
		Type: models.ViolationCopyPaste,
	})
	if err != nil {
		t.Fatalf("other violation: %v", err)
	}
	if !other.Counted || other.ViolationCount != 2 {
		t.Errorf("other-type report counted=%v count=%d, want counted 2", other.Counted, other.ViolationCount)
	}

	if len(repo.violations) != 3 {
		t.Errorf("audit trail has %d rows, want all 3 reports kept", len(repo.violations))
	}
}

func TestRecordViolationStrictBarsAtLimit(t *testing.T) {
	repo := newMockRepository()
	svc := newSessionServiceForTest(repo)
	ctx := context.Background()

	sessionID, _, _ := seedExam(t, repo, fixtureOptions{
		violations: &models.ViolationSettings{
			Mode:          models.ViolationStrict,
			MaxViolations: 2,
		},
	})
	if _, err := svc.Start(ctx, sessionID, "student-1", nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	first, err := svc.RecordViolation(ctx, sessionID, "student-1", &RecordViolationRequest{
		Type: models.ViolationTabSwitch,
	})
	if err != nil {
		t.Fatalf("first violation: %v", err)
	}
	if first.ForceCompleted {
		t.Error("force-completed below the limit")
	}

	second, err := svc.RecordViolation(ctx, sessionID, "student-1", &RecordViolationRequest{
		Type: models.ViolationFullscreenExit,
	})
	if err != nil {
		t.Fatalf("second violation: %v", err)
	}
	if !second.ForceCompleted {
		t.Fatal("limit reached but submission not force-completed")
	}

	submission, err := repo.Submission().GetBySessionAndParticipant(ctx, nil, sessionID, "student-1")
	if err != nil {
		t.Fatalf("load submission: %v", err)
	}
	if !submission.Barred {
		t.Error("submission not barred")
	}
	if submission.Status != models.SubmissionCompleted {
		t.Errorf("status %s, want %s", submission.Status, models.SubmissionCompleted)
	}
	if submission.EndReason == nil || *submission.EndReason != models.EndReasonViolation {
		t.Errorf("end reason %v, want %s", submission.EndReason, models.EndReasonViolation)
	}

	if _, err := svc.Start(ctx, sessionID, "student-1", nil); !errors.Is(err, ErrSubmissionBarred) {
		t.Errorf("restart after barring: got %v, want ErrSubmissionBarred", err)
	}
}

func TestGetViolationsReturnsAuditTrail(t *testing.T) {
	repo := newMockRepository()
	svc := newSessionServiceForTest(repo)
	ctx := context.Background()

	sessionID, _, _ := seedExam(t, repo, fixtureOptions{
		violations: &models.ViolationSettings{
			Mode:            models.ViolationLenient,
			MaxViolations:   10,
			CooldownSeconds: 60,
		},
	})
	if _, err := svc.Start(ctx, sessionID, "student-1", nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Two reports of the same type: one counted, one inside the cooldown
	for i := 0; i < 2; i++ {
		if _, err := svc.RecordViolation(ctx, sessionID, "student-1", &RecordViolationRequest{
			Type: models.ViolationTabSwitch,
		}); err != nil {
			t.Fatalf("violation %d: %v", i+1, err)
		}
	}

	violations, err := svc.GetViolations(ctx, sessionID, "student-1")
	if err != nil {
		t.Fatalf("get violations: %v", err)
	}
	if len(violations) != 2 {
		t.Errorf("log rows %d, want both reports regardless of counting", len(violations))
	}

	if _, err := svc.GetViolations(ctx, sessionID, "student-2"); !errors.Is(err, ErrSubmissionNotFound) {
		t.Errorf("unknown participant: got %v, want ErrSubmissionNotFound", err)
	}
}

// ===== ADMIN ACTIONS =====

func TestAdminAddTimeExtendsDeadline(t *testing.T) {
	repo := newMockRepository()
	svc := newSessionServiceForTest(repo)
	ctx := context.Background()

	sessionID, _, _ := seedExam(t, repo, fixtureOptions{})
	started, err := svc.Start(ctx, sessionID, "student-1", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	before := *started.Deadline

	results, err := svc.ApplyAdminAction(ctx, sessionID, &AdminActionRequest{
		ParticipantIDs: []string{"student-1", "student-2"},
		Action:         models.AdminAddTime,
		Params:         validator.AdminActionParams{AdditionalMinutes: 15},
	}, "teacher-1")
	if err != nil {
		t.Fatalf("admin action: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("results %d, want 2", len(results))
	}
	if !results[0].Success {
		t.Errorf("student-1 failed: %s", results[0].Error)
	}
	// student-2 never started; the batch continues anyway
	if results[1].Success {
		t.Error("student-2 reported success without a submission")
	}

	submission, err := repo.Submission().GetBySessionAndParticipant(ctx, nil, sessionID, "student-1")
	if err != nil {
		t.Fatalf("load submission: %v", err)
	}
	want := before.Add(15 * time.Minute)
	if !submission.Deadline.Equal(want) {
		t.Errorf("deadline %v, want %v", submission.Deadline, want)
	}
}

func TestAdminForceFinish(t *testing.T) {
	repo := newMockRepository()
	svc := newSessionServiceForTest(repo)
	ctx := context.Background()

	sessionID, _, _ := seedExam(t, repo, fixtureOptions{})
	if _, err := svc.Start(ctx, sessionID, "student-1", nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	req := &AdminActionRequest{
		ParticipantIDs: []string{"student-1"},
		Action:         models.AdminForceFinish,
	}
	results, err := svc.ApplyAdminAction(ctx, sessionID, req, "teacher-1")
	if err != nil {
		t.Fatalf("admin action: %v", err)
	}
	if !results[0].Success {
		t.Fatalf("force finish failed: %s", results[0].Error)
	}

	submission, err := repo.Submission().GetBySessionAndParticipant(ctx, nil, sessionID, "student-1")
	if err != nil {
		t.Fatalf("load submission: %v", err)
	}
	if submission.Status != models.SubmissionCompleted {
		t.Errorf("status %s, want %s", submission.Status, models.SubmissionCompleted)
	}
	if submission.EndReason == nil || *submission.EndReason != models.EndReasonForced {
		t.Errorf("end reason %v, want %s", submission.EndReason, models.EndReasonForced)
	}

	// Already completed: the per-participant entry fails, the call succeeds
	results, err = svc.ApplyAdminAction(ctx, sessionID, req, "teacher-1")
	if err != nil {
		t.Fatalf("second admin action: %v", err)
	}
	if results[0].Success {
		t.Error("force finish on a completed submission reported success")
	}
}

func TestAdminRetakeResetsEverything(t *testing.T) {
	repo := newMockRepository()
	svc := newSessionServiceForTest(repo)
	ctx := context.Background()

	sessionID, _, _ := seedExam(t, repo, fixtureOptions{})
	if _, err := svc.Start(ctx, sessionID, "student-1", nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	manifest, err := repo.Manifest().GetBySessionAndParticipant(ctx, nil, sessionID, "student-1")
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	questions, err := manifest.InstanceQuestions()
	if err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if err := svc.SaveAnswer(ctx, sessionID, "student-1", &SaveAnswerRequest{
		QuestionID: questions[0].QuestionID,
		Answer:     correctAnswer(t, &questions[0]),
	}); err != nil {
		t.Fatalf("save answer: %v", err)
	}
	if _, err := svc.Submit(ctx, sessionID, "student-1"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	results, err := svc.ApplyAdminAction(ctx, sessionID, &AdminActionRequest{
		ParticipantIDs: []string{"student-1"},
		Action:         models.AdminRetake,
	}, "teacher-1")
	if err != nil {
		t.Fatalf("retake: %v", err)
	}
	if !results[0].Success {
		t.Fatalf("retake failed: %s", results[0].Error)
	}

	submission, err := repo.Submission().GetBySessionAndParticipant(ctx, nil, sessionID, "student-1")
	if err != nil {
		t.Fatalf("load submission: %v", err)
	}
	if submission.Status != models.SubmissionNotStarted {
		t.Errorf("status %s, want %s", submission.Status, models.SubmissionNotStarted)
	}
	if submission.Score != 0 || submission.ViolationCount != 0 || submission.Barred {
		t.Errorf("submission not reset: score=%f violations=%d barred=%v",
			submission.Score, submission.ViolationCount, submission.Barred)
	}
	if len(repo.manifests) != 0 {
		t.Errorf("manifest survived retake")
	}

	answers, err := repo.Answer().GetBySubmission(ctx, nil, submission.ID)
	if err != nil {
		t.Fatalf("load answers: %v", err)
	}
	if len(answers) != 0 {
		t.Errorf("answers survived retake: %d", len(answers))
	}

	// A fresh start generates a new manifest
	resp, err := svc.Start(ctx, sessionID, "student-1", nil)
	if err != nil {
		t.Fatalf("restart after retake: %v", err)
	}
	if resp.Status != models.SubmissionInProgress {
		t.Errorf("status %s, want %s", resp.Status, models.SubmissionInProgress)
	}
}

func TestAdminResetPermissionClearsBar(t *testing.T) {
	repo := newMockRepository()
	svc := newSessionServiceForTest(repo)
	ctx := context.Background()

	sessionID, _, _ := seedExam(t, repo, fixtureOptions{
		violations: &models.ViolationSettings{
			Mode:          models.ViolationStrict,
			MaxViolations: 1,
		},
	})
	if _, err := svc.Start(ctx, sessionID, "student-1", nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.RecordViolation(ctx, sessionID, "student-1", &RecordViolationRequest{
		Type: models.ViolationDevTools,
	}); err != nil {
		t.Fatalf("violation: %v", err)
	}

	results, err := svc.ApplyAdminAction(ctx, sessionID, &AdminActionRequest{
		ParticipantIDs: []string{"student-1"},
		Action:         models.AdminResetPermission,
	}, "teacher-1")
	if err != nil {
		t.Fatalf("reset permission: %v", err)
	}
	if !results[0].Success {
		t.Fatalf("reset permission failed: %s", results[0].Error)
	}

	submission, err := repo.Submission().GetBySessionAndParticipant(ctx, nil, sessionID, "student-1")
	if err != nil {
		t.Fatalf("load submission: %v", err)
	}
	if submission.Barred {
		t.Error("submission still barred")
	}
	// Clearing the bar does not reopen the completed attempt; that takes a retake
	if submission.Status != models.SubmissionCompleted {
		t.Errorf("status %s, want %s", submission.Status, models.SubmissionCompleted)
	}
}

// ===== DEADLINE SWEEP =====

func TestSweepExpiredClosesOverdueSubmissions(t *testing.T) {
	repo := newMockRepository()
	svc := newSessionServiceForTest(repo)
	ctx := context.Background()
	now := time.Now().UTC()

	sessionID, _, _ := seedExam(t, repo, fixtureOptions{})
	manifests := NewManifestService(repo, nil, testLogger())
	for _, p := range []string{"late-1", "ontime-1"} {
		if _, err := manifests.Generate(ctx, sessionID, p); err != nil {
			t.Fatalf("generate manifest for %s: %v", p, err)
		}
	}

	overdue := now.Add(-5 * time.Minute)
	started := now.Add(-time.Hour)
	late := &models.Submission{
		SessionID:     sessionID,
		ParticipantID: "late-1",
		Status:        models.SubmissionInProgress,
		StartedAt:     &started,
		Deadline:      &overdue,
	}
	if err := repo.Submission().Create(ctx, nil, late); err != nil {
		t.Fatalf("create overdue submission: %v", err)
	}

	future := now.Add(20 * time.Minute)
	ontime := &models.Submission{
		SessionID:     sessionID,
		ParticipantID: "ontime-1",
		Status:        models.SubmissionInProgress,
		StartedAt:     &started,
		Deadline:      &future,
	}
	if err := repo.Submission().Create(ctx, nil, ontime); err != nil {
		t.Fatalf("create ontime submission: %v", err)
	}

	swept, err := svc.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Errorf("swept %d, want 1", swept)
	}

	closed, err := repo.Submission().GetByID(ctx, nil, late.ID)
	if err != nil {
		t.Fatalf("reload overdue submission: %v", err)
	}
	if closed.Status != models.SubmissionCompleted {
		t.Errorf("overdue status %s, want %s", closed.Status, models.SubmissionCompleted)
	}
	if closed.EndReason == nil || *closed.EndReason != models.EndReasonTimeout {
		t.Errorf("end reason %v, want %s", closed.EndReason, models.EndReasonTimeout)
	}

	open, err := repo.Submission().GetByID(ctx, nil, ontime.ID)
	if err != nil {
		t.Fatalf("reload ontime submission: %v", err)
	}
	if open.Status != models.SubmissionInProgress {
		t.Errorf("ontime submission closed early: %s", open.Status)
	}
}
