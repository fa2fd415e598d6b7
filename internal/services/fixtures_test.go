package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/open-exam/exam-engine/internal/models"
	"github.com/open-exam/exam-engine/internal/validator"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testValidator() *validator.Validator {
	return validator.New()
}

func mustJSON(t *testing.T, v interface{}) datatypes.JSON {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return datatypes.JSON(raw)
}

// seedQuestion creates one question and attaches it to the bank.
func seedQuestion(t *testing.T, repo *mockRepository, bankID uint, q *models.Question) uint {
	t.Helper()
	ctx := context.Background()
	if q.CreatedBy == "" {
		q.CreatedBy = "teacher-1"
	}
	if q.DefaultPoints == 0 {
		q.DefaultPoints = 10
	}
	if err := repo.Question().Create(ctx, nil, q); err != nil {
		t.Fatalf("create question: %v", err)
	}
	if err := repo.QuestionBank().AddQuestions(ctx, nil, bankID, []uint{q.ID}); err != nil {
		t.Fatalf("attach question: %v", err)
	}
	return q.ID
}

func mcQuestion(t *testing.T, correct string) *models.Question {
	t.Helper()
	return &models.Question{
		Type: models.MultipleChoice,
		Text: "Pick one",
		Content: mustJSON(t, models.ChoiceContent{Options: []models.ChoiceOption{
			{ID: "o1", Label: "A", Text: "Red"},
			{ID: "o2", Label: "B", Text: "Green"},
			{ID: "o3", Label: "C", Text: "Blue"},
			{ID: "o4", Label: "D", Text: "Yellow"},
		}}),
		AnswerKey: datatypes.JSON(fmt.Sprintf("%q", correct)),
	}
}

func complexMCQuestion(t *testing.T, partialCredit bool, correct []string) *models.Question {
	t.Helper()
	return &models.Question{
		Type: models.ComplexChoice,
		Text: "Pick all that apply",
		Content: mustJSON(t, models.ChoiceContent{
			PartialCredit: partialCredit,
			Options: []models.ChoiceOption{
				{ID: "o1", Label: "A", Text: "Go"},
				{ID: "o2", Label: "B", Text: "Rust"},
				{ID: "o3", Label: "C", Text: "COBOL"},
				{ID: "o4", Label: "D", Text: "Fortran"},
			},
		}),
		AnswerKey: mustJSON(t, map[string][]string{"correct_options": correct}),
	}
}

func matchingQuestion(t *testing.T) *models.Question {
	t.Helper()
	return &models.Question{
		Type: models.Matching,
		Text: "Match capitals",
		Content: mustJSON(t, models.MatchingContent{
			LeftItems: []models.MatchItem{
				{ID: "l1", Text: "France"},
				{ID: "l2", Text: "Japan"},
				{ID: "l3", Text: "Brazil"},
				{ID: "l4", Text: "Kenya"},
			},
			RightItems: []models.MatchItem{
				{ID: "r1", Text: "Paris"},
				{ID: "r2", Text: "Tokyo"},
				{ID: "r3", Text: "Brasilia"},
				{ID: "r4", Text: "Nairobi"},
			},
		}),
		AnswerKey: mustJSON(t, map[string]interface{}{
			"matches": []map[string]string{
				{"leftId": "l1", "rightId": "r1"},
				{"leftId": "l2", "rightId": "r2"},
				{"leftId": "l3", "rightId": "r3"},
				{"leftId": "l4", "rightId": "r4"},
			},
		}),
	}
}

func shortQuestion(t *testing.T, accepted ...string) *models.Question {
	t.Helper()
	return &models.Question{
		Type:      models.ShortAnswer,
		Text:      "Capital of Indonesia",
		Content:   datatypes.JSON(`{"case_sensitive": false}`),
		AnswerKey: mustJSON(t, map[string][]string{"accepted": accepted}),
	}
}

func essayQuestion(t *testing.T) *models.Question {
	t.Helper()
	return &models.Question{
		Type:    models.Essay,
		Text:    "Discuss the tradeoffs",
		Content: datatypes.JSON(`{}`),
		AnswerKey: mustJSON(t, map[string]interface{}{
			"rubric": []map[string]interface{}{
				{"criterion": "clarity", "max_points": 5.0},
				{"criterion": "depth", "max_points": 5.0},
			},
		}),
	}
}

func trueFalseQuestion(t *testing.T, value bool) *models.Question {
	t.Helper()
	return &models.Question{
		Type:      models.TrueFalse,
		Text:      "The sky is blue",
		Content:   datatypes.JSON(`{}`),
		AnswerKey: mustJSON(t, value),
	}
}

type fixtureOptions struct {
	composition   map[models.QuestionType]int
	totalScore    float64
	duration      int
	requireToken  bool
	minSubmit     int
	randomization *models.RandomizationRules
	violations    *models.ViolationSettings
	windowStart   time.Time
	windowEnd     time.Time
	accessToken   *string
}

// seedExam builds a bank, a pool of questions, a template and a session.
func seedExam(t *testing.T, repo *mockRepository, opts fixtureOptions) (sessionID, templateID, bankID uint) {
	t.Helper()
	ctx := context.Background()

	bank := &models.QuestionBank{Name: "Pool", CreatedBy: "teacher-1"}
	if err := repo.QuestionBank().Create(ctx, nil, bank); err != nil {
		t.Fatalf("create bank: %v", err)
	}

	seedQuestion(t, repo, bank.ID, mcQuestion(t, "A"))
	seedQuestion(t, repo, bank.ID, mcQuestion(t, "B"))
	seedQuestion(t, repo, bank.ID, mcQuestion(t, "C"))
	seedQuestion(t, repo, bank.ID, complexMCQuestion(t, true, []string{"A", "B"}))
	seedQuestion(t, repo, bank.ID, matchingQuestion(t))
	seedQuestion(t, repo, bank.ID, shortQuestion(t, "Jakarta"))
	seedQuestion(t, repo, bank.ID, shortQuestion(t, "Nairobi"))
	seedQuestion(t, repo, bank.ID, essayQuestion(t))
	seedQuestion(t, repo, bank.ID, trueFalseQuestion(t, true))

	if opts.composition == nil {
		opts.composition = map[models.QuestionType]int{
			models.MultipleChoice: 2,
			models.ShortAnswer:    1,
		}
	}
	if opts.totalScore == 0 {
		opts.totalScore = 30
	}
	if opts.duration == 0 {
		opts.duration = 30
	}
	if opts.windowStart.IsZero() {
		opts.windowStart = time.Now().UTC().Add(-time.Hour)
	}
	if opts.windowEnd.IsZero() {
		opts.windowEnd = time.Now().UTC().Add(2 * time.Hour)
	}

	template := &models.ExamTemplate{
		Title:               "Midterm",
		DurationMinutes:     opts.duration,
		TotalScore:          opts.totalScore,
		QuestionComposition: mustJSON(t, opts.composition),
		BankIDs:             mustJSON(t, []uint{bank.ID}),
		RequireToken:        opts.requireToken,
		MinSubmitMinutes:    opts.minSubmit,
		CreatedBy:           "teacher-1",
	}
	if opts.randomization != nil {
		template.RandomizationRules = mustJSON(t, opts.randomization)
	}
	if opts.violations != nil {
		template.ViolationSettings = mustJSON(t, opts.violations)
	}
	if err := repo.Template().Create(ctx, nil, template); err != nil {
		t.Fatalf("create template: %v", err)
	}

	session := &models.ExamSession{
		TemplateID:  template.ID,
		StartTime:   opts.windowStart,
		EndTime:     opts.windowEnd,
		AccessToken: opts.accessToken,
		CreatedBy:   "teacher-1",
	}
	if err := repo.Session().Create(ctx, nil, session); err != nil {
		t.Fatalf("create session: %v", err)
	}

	return session.ID, template.ID, bank.ID
}
