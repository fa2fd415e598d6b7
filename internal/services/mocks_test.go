package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/open-exam/exam-engine/internal/models"
	"github.com/open-exam/exam-engine/internal/repositories"
)

// mockRepository is an in-memory Repository for service tests.
type mockRepository struct {
	mu sync.Mutex

	banks     map[uint]*models.QuestionBank
	bankItems map[uint][]uint
	questions map[uint]*models.Question
	templates map[uint]*models.ExamTemplate
	sessions  map[uint]*models.ExamSession

	manifests   map[string]*models.QuestionManifest
	submissions map[uint]*models.Submission
	answers     map[uint]*models.Answer
	violations  []*models.Violation

	nextID uint
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		banks:       make(map[uint]*models.QuestionBank),
		bankItems:   make(map[uint][]uint),
		questions:   make(map[uint]*models.Question),
		templates:   make(map[uint]*models.ExamTemplate),
		sessions:    make(map[uint]*models.ExamSession),
		manifests:   make(map[string]*models.QuestionManifest),
		submissions: make(map[uint]*models.Submission),
		answers:     make(map[uint]*models.Answer),
	}
}

func (m *mockRepository) id() uint {
	m.nextID++
	return m.nextID
}

func manifestKey(sessionID uint, participantID string) string {
	return fmt.Sprintf("%d:%s", sessionID, participantID)
}

func (m *mockRepository) QuestionBank() repositories.QuestionBankRepository { return &mockBanks{m} }
func (m *mockRepository) Question() repositories.QuestionRepository         { return &mockQuestions{m} }
func (m *mockRepository) Template() repositories.TemplateRepository         { return &mockTemplates{m} }
func (m *mockRepository) Session() repositories.SessionRepository           { return &mockSessions{m} }
func (m *mockRepository) Manifest() repositories.ManifestRepository         { return &mockManifests{m} }
func (m *mockRepository) Submission() repositories.SubmissionRepository     { return &mockSubmissions{m} }
func (m *mockRepository) Answer() repositories.AnswerRepository             { return &mockAnswers{m} }
func (m *mockRepository) Violation() repositories.ViolationRepository       { return &mockViolations{m} }

func (m *mockRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	return fn(m)
}

func (m *mockRepository) Ping(ctx context.Context) error { return nil }
func (m *mockRepository) Close() error                   { return nil }

// ===== BANKS =====

type mockBanks struct{ m *mockRepository }

func (r *mockBanks) Create(ctx context.Context, tx *gorm.DB, bank *models.QuestionBank) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if bank.ID == 0 {
		bank.ID = r.m.id()
	}
	r.m.banks[bank.ID] = bank
	return nil
}

func (r *mockBanks) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.QuestionBank, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	bank, ok := r.m.banks[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return bank, nil
}

func (r *mockBanks) Update(ctx context.Context, tx *gorm.DB, bank *models.QuestionBank) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.banks[bank.ID] = bank
	return nil
}

func (r *mockBanks) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	delete(r.m.banks, id)
	delete(r.m.bankItems, id)
	return nil
}

func (r *mockBanks) List(ctx context.Context, tx *gorm.DB, createdBy *string, limit, offset int) ([]*models.QuestionBank, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var banks []*models.QuestionBank
	for _, bank := range r.m.banks {
		if createdBy != nil && bank.CreatedBy != *createdBy {
			continue
		}
		banks = append(banks, bank)
	}
	sort.Slice(banks, func(i, j int) bool { return banks[i].ID < banks[j].ID })
	return banks, int64(len(banks)), nil
}

func (r *mockBanks) GetPoolQuestions(ctx context.Context, tx *gorm.DB, bankIDs []uint) ([]*models.Question, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	seen := make(map[uint]bool)
	var pool []*models.Question
	for _, bankID := range bankIDs {
		for _, qid := range r.m.bankItems[bankID] {
			if seen[qid] {
				continue
			}
			if q, ok := r.m.questions[qid]; ok {
				seen[qid] = true
				pool = append(pool, q)
			}
		}
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })
	return pool, nil
}

func (r *mockBanks) AddQuestions(ctx context.Context, tx *gorm.DB, bankID uint, questionIDs []uint) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.bankItems[bankID] = append(r.m.bankItems[bankID], questionIDs...)
	return nil
}

func (r *mockBanks) RemoveQuestions(ctx context.Context, tx *gorm.DB, bankID uint, questionIDs []uint) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	remove := make(map[uint]bool)
	for _, id := range questionIDs {
		remove[id] = true
	}
	var kept []uint
	for _, id := range r.m.bankItems[bankID] {
		if !remove[id] {
			kept = append(kept, id)
		}
	}
	r.m.bankItems[bankID] = kept
	return nil
}

// ===== QUESTIONS =====

type mockQuestions struct{ m *mockRepository }

func (r *mockQuestions) Create(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if question.ID == 0 {
		question.ID = r.m.id()
	}
	r.m.questions[question.ID] = question
	return nil
}

func (r *mockQuestions) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	q, ok := r.m.questions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return q, nil
}

func (r *mockQuestions) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Question, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var questions []*models.Question
	for _, id := range ids {
		if q, ok := r.m.questions[id]; ok {
			questions = append(questions, q)
		}
	}
	return questions, nil
}

func (r *mockQuestions) Update(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.questions[question.ID] = question
	return nil
}

func (r *mockQuestions) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	delete(r.m.questions, id)
	return nil
}

func (r *mockQuestions) List(ctx context.Context, tx *gorm.DB, filters repositories.QuestionFilters) ([]*models.Question, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var questions []*models.Question
	for _, q := range r.m.questions {
		if filters.Type != nil && q.Type != *filters.Type {
			continue
		}
		if filters.CreatedBy != nil && q.CreatedBy != *filters.CreatedBy {
			continue
		}
		questions = append(questions, q)
	}
	sort.Slice(questions, func(i, j int) bool { return questions[i].ID < questions[j].ID })
	return questions, int64(len(questions)), nil
}

// ===== TEMPLATES =====

type mockTemplates struct{ m *mockRepository }

func (r *mockTemplates) Create(ctx context.Context, tx *gorm.DB, template *models.ExamTemplate) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if template.ID == 0 {
		template.ID = r.m.id()
	}
	r.m.templates[template.ID] = template
	return nil
}

func (r *mockTemplates) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamTemplate, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	t, ok := r.m.templates[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return t, nil
}

func (r *mockTemplates) Update(ctx context.Context, tx *gorm.DB, template *models.ExamTemplate) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.templates[template.ID] = template
	return nil
}

func (r *mockTemplates) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	delete(r.m.templates, id)
	return nil
}

func (r *mockTemplates) List(ctx context.Context, tx *gorm.DB, filters repositories.TemplateFilters) ([]*models.ExamTemplate, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var templates []*models.ExamTemplate
	for _, t := range r.m.templates {
		if filters.CreatedBy != nil && t.CreatedBy != *filters.CreatedBy {
			continue
		}
		templates = append(templates, t)
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].ID < templates[j].ID })
	return templates, int64(len(templates)), nil
}

// ===== SESSIONS =====

type mockSessions struct{ m *mockRepository }

func (r *mockSessions) Create(ctx context.Context, tx *gorm.DB, session *models.ExamSession) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if session.ID == 0 {
		session.ID = r.m.id()
	}
	r.m.sessions[session.ID] = session
	return nil
}

func (r *mockSessions) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSession, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.sessions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return s, nil
}

func (r *mockSessions) GetByIDWithTemplate(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSession, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.sessions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	if s.Template.ID == 0 {
		if t, ok := r.m.templates[s.TemplateID]; ok {
			s.Template = *t
		}
	}
	return s, nil
}

func (r *mockSessions) Update(ctx context.Context, tx *gorm.DB, session *models.ExamSession) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.sessions[session.ID] = session
	return nil
}

func (r *mockSessions) List(ctx context.Context, tx *gorm.DB, filters repositories.SessionFilters) ([]*models.ExamSession, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var sessions []*models.ExamSession
	for _, s := range r.m.sessions {
		if filters.TemplateID != nil && s.TemplateID != *filters.TemplateID {
			continue
		}
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions, int64(len(sessions)), nil
}

// ===== MANIFESTS =====

type mockManifests struct{ m *mockRepository }

func (r *mockManifests) Create(ctx context.Context, tx *gorm.DB, manifest *models.QuestionManifest) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := manifestKey(manifest.SessionID, manifest.ParticipantID)
	if _, exists := r.m.manifests[key]; exists {
		return gorm.ErrDuplicatedKey
	}
	if manifest.ID == 0 {
		manifest.ID = r.m.id()
	}
	r.m.manifests[key] = manifest
	return nil
}

func (r *mockManifests) GetBySessionAndParticipant(ctx context.Context, tx *gorm.DB, sessionID uint, participantID string) (*models.QuestionManifest, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	manifest, ok := r.m.manifests[manifestKey(sessionID, participantID)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return manifest, nil
}

func (r *mockManifests) Delete(ctx context.Context, tx *gorm.DB, sessionID uint, participantID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	delete(r.m.manifests, manifestKey(sessionID, participantID))
	return nil
}

// ===== SUBMISSIONS =====

type mockSubmissions struct{ m *mockRepository }

func (r *mockSubmissions) Create(ctx context.Context, tx *gorm.DB, submission *models.Submission) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.submissions {
		if existing.SessionID == submission.SessionID && existing.ParticipantID == submission.ParticipantID {
			return gorm.ErrDuplicatedKey
		}
	}
	if submission.ID == 0 {
		submission.ID = r.m.id()
	}
	r.m.submissions[submission.ID] = submission
	return nil
}

func (r *mockSubmissions) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Submission, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.submissions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return s, nil
}

func (r *mockSubmissions) GetBySessionAndParticipant(ctx context.Context, tx *gorm.DB, sessionID uint, participantID string) (*models.Submission, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, s := range r.m.submissions {
		if s.SessionID == sessionID && s.ParticipantID == participantID {
			return s, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *mockSubmissions) Update(ctx context.Context, tx *gorm.DB, submission *models.Submission) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.submissions[submission.ID] = submission
	return nil
}

func (r *mockSubmissions) ListBySession(ctx context.Context, tx *gorm.DB, sessionID uint, filters repositories.SubmissionFilters) ([]*models.Submission, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var submissions []*models.Submission
	for _, s := range r.m.submissions {
		if s.SessionID != sessionID {
			continue
		}
		if filters.Status != nil && s.Status != *filters.Status {
			continue
		}
		if filters.GradingStatus != nil && s.GradingStatus != *filters.GradingStatus {
			continue
		}
		if filters.ParticipantID != nil && s.ParticipantID != *filters.ParticipantID {
			continue
		}
		submissions = append(submissions, s)
	}
	sort.Slice(submissions, func(i, j int) bool { return submissions[i].ID < submissions[j].ID })
	return submissions, int64(len(submissions)), nil
}

func (r *mockSubmissions) ListExpired(ctx context.Context, tx *gorm.DB, now time.Time) ([]*models.Submission, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var expired []*models.Submission
	for _, s := range r.m.submissions {
		if s.Status == models.SubmissionInProgress && s.Deadline != nil && now.After(*s.Deadline) {
			expired = append(expired, s)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	return expired, nil
}

func (r *mockSubmissions) CompleteIfInProgress(ctx context.Context, tx *gorm.DB, id uint, completedAt time.Time, reason models.EndReason) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.submissions[id]
	if !ok || s.Status != models.SubmissionInProgress {
		return false, nil
	}
	s.Status = models.SubmissionCompleted
	s.CompletedAt = &completedAt
	s.EndReason = &reason
	return true, nil
}

// ===== ANSWERS =====

type mockAnswers struct{ m *mockRepository }

func (r *mockAnswers) Upsert(ctx context.Context, tx *gorm.DB, answer *models.Answer) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.answers {
		if existing.SubmissionID == answer.SubmissionID && existing.QuestionID == answer.QuestionID {
			answer.ID = existing.ID
			r.m.answers[existing.ID] = answer
			return nil
		}
	}
	if answer.ID == 0 {
		answer.ID = r.m.id()
	}
	r.m.answers[answer.ID] = answer
	return nil
}

func (r *mockAnswers) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Answer, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.answers[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return a, nil
}

func (r *mockAnswers) GetBySubmission(ctx context.Context, tx *gorm.DB, submissionID uint) ([]*models.Answer, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var answers []*models.Answer
	for _, a := range r.m.answers {
		if a.SubmissionID == submissionID {
			answers = append(answers, a)
		}
	}
	sort.Slice(answers, func(i, j int) bool { return answers[i].ID < answers[j].ID })
	return answers, nil
}

func (r *mockAnswers) GetBySubmissionAndQuestion(ctx context.Context, tx *gorm.DB, submissionID, questionID uint) (*models.Answer, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, a := range r.m.answers {
		if a.SubmissionID == submissionID && a.QuestionID == questionID {
			return a, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *mockAnswers) Update(ctx context.Context, tx *gorm.DB, answer *models.Answer) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.answers[answer.ID] = answer
	return nil
}

func (r *mockAnswers) DeleteBySubmission(ctx context.Context, tx *gorm.DB, submissionID uint) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for id, a := range r.m.answers {
		if a.SubmissionID == submissionID {
			delete(r.m.answers, id)
		}
	}
	return nil
}

func (r *mockAnswers) CountPendingManual(ctx context.Context, tx *gorm.DB, submissionID uint) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var count int64
	for _, a := range r.m.answers {
		if a.SubmissionID == submissionID && a.GradingStatus == models.GradingPending {
			count++
		}
	}
	return count, nil
}

// ===== VIOLATIONS =====

type mockViolations struct{ m *mockRepository }

func (r *mockViolations) Create(ctx context.Context, tx *gorm.DB, violation *models.Violation) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if violation.ID == 0 {
		violation.ID = r.m.id()
	}
	r.m.violations = append(r.m.violations, violation)
	return nil
}

func (r *mockViolations) GetBySubmission(ctx context.Context, tx *gorm.DB, submissionID uint) ([]*models.Violation, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var violations []*models.Violation
	for _, v := range r.m.violations {
		if v.SubmissionID == submissionID {
			violations = append(violations, v)
		}
	}
	return violations, nil
}

func (r *mockViolations) GetLastOfType(ctx context.Context, tx *gorm.DB, submissionID uint, vType models.ViolationType) (*models.Violation, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var last *models.Violation
	for _, v := range r.m.violations {
		if v.SubmissionID != submissionID || v.Type != vType {
			continue
		}
		if last == nil || v.OccurredAt.After(last.OccurredAt) {
			last = v
		}
	}
	if last == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return last, nil
}
