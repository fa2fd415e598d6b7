package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/open-exam/exam-engine/internal/answerkey"
	"github.com/open-exam/exam-engine/internal/models"
	"github.com/open-exam/exam-engine/internal/randomizer"
	"github.com/open-exam/exam-engine/internal/repositories"
)

type manifestService struct {
	repo   repositories.Repository
	db     *gorm.DB
	logger *slog.Logger

	// inflight serializes concurrent generation per (session, participant)
	// within this process; the DB unique index covers races across
	// processes.
	inflightMu sync.Mutex
	inflight   map[string]*sync.Mutex
}

func NewManifestService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger) ManifestService {
	return &manifestService{
		repo:     repo,
		db:       db,
		logger:   logger,
		inflight: make(map[string]*sync.Mutex),
	}
}

// ===== GENERATION =====

func (s *manifestService) Generate(ctx context.Context, sessionID uint, participantID string) (*ManifestResponse, error) {
	// Fast path: manifest already exists
	manifest, err := s.repo.Manifest().GetBySessionAndParticipant(ctx, nil, sessionID, participantID)
	if err == nil {
		return s.buildResponse(manifest, false)
	}
	if !repositories.IsNotFoundError(err) {
		return nil, fmt.Errorf("failed to check manifest: %w", err)
	}

	lock := s.lockFor(sessionID, participantID)
	lock.Lock()
	defer lock.Unlock()

	// Another goroutine may have generated while we waited
	manifest, err = s.repo.Manifest().GetBySessionAndParticipant(ctx, nil, sessionID, participantID)
	if err == nil {
		return s.buildResponse(manifest, false)
	}
	if !repositories.IsNotFoundError(err) {
		return nil, fmt.Errorf("failed to check manifest: %w", err)
	}

	session, err := s.repo.Session().GetByIDWithTemplate(ctx, nil, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	seed := randomizer.DeriveSeed(sessionID, participantID)
	questions, err := s.buildInstance(ctx, &session.Template, seed)
	if err != nil {
		return nil, err
	}

	snapshot, err := json.Marshal(questions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}

	manifest = &models.QuestionManifest{
		SessionID:     sessionID,
		ParticipantID: participantID,
		Seed:          seed,
		Questions:     datatypes.JSON(snapshot),
	}

	if err := s.repo.Manifest().Create(ctx, nil, manifest); err != nil {
		// A concurrent writer on another instance may have won the unique
		// index race; their manifest is identical because the seed is.
		if existing, getErr := s.repo.Manifest().GetBySessionAndParticipant(ctx, nil, sessionID, participantID); getErr == nil {
			return s.buildResponse(existing, false)
		}
		return nil, fmt.Errorf("failed to persist manifest: %w", err)
	}

	s.logger.Info("Question manifest generated",
		"session_id", sessionID,
		"participant_id", participantID,
		"questions", len(questions))

	return s.buildResponse(manifest, false)
}

func (s *manifestService) Preview(ctx context.Context, sessionID uint, seed string) (*ManifestResponse, error) {
	session, err := s.repo.Session().GetByIDWithTemplate(ctx, nil, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	questions, err := s.buildInstance(ctx, &session.Template, seed)
	if err != nil {
		return nil, err
	}

	response := &ManifestResponse{
		SessionID: sessionID,
		Seed:      seed,
		Questions: participantView(questions),
	}
	return response, nil
}

func (s *manifestService) lockFor(sessionID uint, participantID string) *sync.Mutex {
	key := fmt.Sprintf("%d:%s", sessionID, participantID)

	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()

	lock, ok := s.inflight[key]
	if !ok {
		lock = &sync.Mutex{}
		s.inflight[key] = lock
	}
	return lock
}

// ===== INSTANCE ASSEMBLY =====

// buildInstance runs the full deterministic pipeline: per-type sampling,
// point scaling, ordering, option shuffling, content+key snapshot.
func (s *manifestService) buildInstance(ctx context.Context, template *models.ExamTemplate, seed string) ([]models.InstanceQuestion, error) {
	composition, err := template.Composition()
	if err != nil {
		return nil, fmt.Errorf("failed to decode composition: %w", err)
	}
	bankIDs, err := template.BankIDList()
	if err != nil {
		return nil, fmt.Errorf("failed to decode bank ids: %w", err)
	}
	rules, err := template.Randomization()
	if err != nil {
		return nil, fmt.Errorf("failed to decode randomization rules: %w", err)
	}

	pool, err := s.repo.QuestionBank().GetPoolQuestions(ctx, nil, bankIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load bank pool: %w", err)
	}

	g := randomizer.New(seed)

	selected, err := sampleByType(composition, pool, g)
	if err != nil {
		return nil, err
	}

	points := scalePoints(selected, template.TotalScore)

	questions := make([]models.InstanceQuestion, len(selected))
	for i, q := range selected {
		questions[i] = models.InstanceQuestion{
			Position:   i + 1,
			QuestionID: q.ID,
			Type:       q.Type,
			Text:       q.Text,
			Content:    json.RawMessage(q.Content),
			AnswerKey:  json.RawMessage(q.AnswerKey),
			Points:     points[i],
		}
	}

	questions = randomizer.Order(questions, rules, g)

	if rules.ShuffleAnswers {
		for i := range questions {
			if questions[i].Type != models.MultipleChoice && questions[i].Type != models.ComplexChoice {
				continue
			}
			if err := shuffleQuestionOptions(&questions[i], g); err != nil {
				return nil, err
			}
		}
	}

	return questions, nil
}

// sampleByType draws the requested count of each type without replacement,
// in the stable type order. A shrunken pool (compilation stale) surfaces as
// CompositionError, never as a short manifest.
func sampleByType(composition map[models.QuestionType]int, pool []*models.Question, g *randomizer.Generator) ([]*models.Question, error) {
	byType := make(map[models.QuestionType][]*models.Question)
	for _, q := range pool {
		byType[q.Type] = append(byType[q.Type], q)
	}

	var selected []*models.Question
	for _, qType := range models.AllQuestionTypes {
		requested, ok := composition[qType]
		if !ok || requested == 0 {
			continue
		}
		candidates := byType[qType]
		if len(candidates) < requested {
			return nil, &CompositionError{
				Type:      qType,
				Requested: requested,
				Available: len(candidates),
			}
		}
		for _, idx := range g.SampleIndices(len(candidates), requested) {
			selected = append(selected, candidates[idx])
		}
	}

	if len(selected) == 0 {
		return nil, NewValidationError("question_composition", "composition requests no questions", composition)
	}
	return selected, nil
}

// scalePoints distributes the template total across the selected questions
// proportionally to their default points. The last entry absorbs the
// floating point residue so the sum equals the total exactly.
func scalePoints(selected []*models.Question, totalScore float64) []float64 {
	points := make([]float64, len(selected))

	var weightSum float64
	for _, q := range selected {
		weightSum += q.DefaultPoints
	}

	var assigned float64
	for i, q := range selected {
		if i == len(selected)-1 {
			points[i] = totalScore - assigned
			break
		}
		var share float64
		if weightSum > 0 {
			share = totalScore * q.DefaultPoints / weightSum
		} else {
			share = totalScore / float64(len(selected))
		}
		points[i] = share
		assigned += share
	}

	return points
}

// shuffleQuestionOptions permutes the option list and rewrites the key's
// label references through the stable option ids, so "correct" stays correct
// after reordering.
func shuffleQuestionOptions(q *models.InstanceQuestion, g *randomizer.Generator) error {
	var content models.ChoiceContent
	if err := json.Unmarshal(q.Content, &content); err != nil {
		return fmt.Errorf("failed to decode options for question %d: %w", q.QuestionID, err)
	}
	if len(content.Options) < 2 {
		return nil
	}

	// Map original display labels to stable ids before the shuffle
	labelToID := make(map[string]string, len(content.Options))
	for _, opt := range content.Options {
		labelToID[opt.Label] = opt.ID
	}

	shuffled, idOrder, newLabels := g.ShuffleOptions(content.Options)

	rewritten, err := rewriteChoiceKey(q, content.PartialCredit, labelToID, newLabels)
	if err != nil {
		return err
	}

	content.Options = shuffled
	newContent, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to encode shuffled options: %w", err)
	}

	q.Content = newContent
	q.AnswerKey = rewritten
	q.OptionOrder = idOrder
	return nil
}

func rewriteChoiceKey(q *models.InstanceQuestion, partialCredit bool, labelToID, newLabels map[string]string) (json.RawMessage, error) {
	relabel := func(oldLabel string) (string, error) {
		id, ok := labelToID[oldLabel]
		if !ok {
			return "", fmt.Errorf("answer key of question %d references unknown option %q", q.QuestionID, oldLabel)
		}
		newLabel, ok := newLabels[id]
		if !ok {
			return "", fmt.Errorf("option %q of question %d lost in shuffle", id, q.QuestionID)
		}
		return newLabel, nil
	}

	switch q.Type {
	case models.MultipleChoice:
		key, err := answerkey.DecodeMCKey(q.QuestionID, q.AnswerKey)
		if err != nil {
			return nil, err
		}
		newLabel, err := relabel(key.Option)
		if err != nil {
			return nil, err
		}
		return json.Marshal(newLabel)

	case models.ComplexChoice:
		key, err := answerkey.DecodeComplexMCKey(q.QuestionID, q.AnswerKey, partialCredit)
		if err != nil {
			return nil, err
		}
		options := make([]string, 0, len(key.Options))
		for _, oldLabel := range key.SortedOptions() {
			newLabel, err := relabel(oldLabel)
			if err != nil {
				return nil, err
			}
			options = append(options, newLabel)
		}
		return json.Marshal(map[string]interface{}{
			"correct_options": options,
		})
	}

	return q.AnswerKey, nil
}

// ===== RESPONSES =====

func (s *manifestService) buildResponse(manifest *models.QuestionManifest, includeSeed bool) (*ManifestResponse, error) {
	questions, err := manifest.InstanceQuestions()
	if err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	response := &ManifestResponse{
		SessionID:     manifest.SessionID,
		ParticipantID: manifest.ParticipantID,
		Questions:     participantView(questions),
	}
	if includeSeed {
		response.Seed = manifest.Seed
	}
	return response, nil
}

// participantView strips answer keys from the manifest entries.
func participantView(questions []models.InstanceQuestion) []ParticipantQuestion {
	view := make([]ParticipantQuestion, len(questions))
	for i, q := range questions {
		view[i] = ParticipantQuestion{
			Position:   q.Position,
			QuestionID: q.QuestionID,
			Type:       q.Type,
			Text:       q.Text,
			Content:    q.Content,
			Points:     q.Points,
		}
	}
	return view
}
