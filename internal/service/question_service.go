package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/deckquiz/deckquiz-go-api/internal/dto"
	"github.com/deckquiz/deckquiz-go-api/internal/models"
	"github.com/deckquiz/deckquiz-go-api/internal/observability"
	"github.com/deckquiz/deckquiz-go-api/internal/repository"
	"github.com/deckquiz/deckquiz-go-api/internal/retry"
	"github.com/deckquiz/deckquiz-go-api/internal/vector"
	"github.com/deckquiz/deckquiz-go-api/pkg/ai"
)

// maxSlotAttempts bounds how many seeds one text question slot may consume
// before it is counted as shortfall. Duplicate drafts and failed generations
// both advance to the next seed.
const maxSlotAttempts = 2

// seedSnippetLimit truncates seed queries so one verbose slide cannot blow up
// embedding cost.
const seedSnippetLimit = 300

// Retriever is the slice of the collection service the generator needs.
type Retriever interface {
	Retrieve(ctx context.Context, collectionID, query string, k int) ([]vector.Result, error)
}

// QuestionService generates assignments from a deck's collection and manages
// their lifecycle.
type QuestionService interface {
	Generate(ctx context.Context, payload dto.AssignmentCreateRequest, actor ActivityActor) (dto.AssignmentCreateResponse, error)
	List(ctx context.Context, actor ActivityActor) ([]dto.AssignmentResponse, error)
	Get(ctx context.Context, id uint, actor ActivityActor) (dto.AssignmentDetailResponse, error)
	UpdateStatus(ctx context.Context, id uint, status string, actor ActivityActor) (dto.AssignmentResponse, error)
	Delete(ctx context.Context, id uint, actor ActivityActor) error
	QuestionImage(ctx context.Context, questionID uint, actor ActivityActor) (models.Image, error)
}

type questionService struct {
	decks       repository.DeckRepository
	assignments repository.AssignmentRepository
	questions   repository.QuestionRepository
	images      repository.ImageRepository
	retriever   Retriever
	generator   ai.Generator
	activity    ActivityRecorder
	events      *EventPublisher
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	retry       retry.Policy
	topK        int
	logger      zerolog.Logger
}

// NewQuestionService constructs the question generation service.
func NewQuestionService(
	decks repository.DeckRepository,
	assignments repository.AssignmentRepository,
	questions repository.QuestionRepository,
	images repository.ImageRepository,
	retriever Retriever,
	generator ai.Generator,
	activity ActivityRecorder,
	events *EventPublisher,
	validate *validator.Validate,
	policy retry.Policy,
	topK int,
	logger zerolog.Logger,
) QuestionService {
	if topK <= 0 {
		topK = 4
	}
	return &questionService{
		decks:       decks,
		assignments: assignments,
		questions:   questions,
		images:      images,
		retriever:   retriever,
		generator:   generator,
		activity:    activity,
		events:      events,
		validator:   validate,
		sanitizer:   bluemonday.StrictPolicy(),
		retry:       policy,
		topK:        topK,
		logger:      logger.With().Str("component", "question_service").Logger(),
	}
}

// Generate produces the requested question mix and persists the assignment.
// When quotas cannot be met after all seeds and retries, the partial
// assignment is still persisted and a ShortfallError reports the exact gap.
func (s *questionService) Generate(ctx context.Context, payload dto.AssignmentCreateRequest, actor ActivityActor) (dto.AssignmentCreateResponse, error) {
	tracer := otel.Tracer("deckquiz/service")
	ctx, span := tracer.Start(ctx, "question.generate")
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		return dto.AssignmentCreateResponse{}, err
	}
	if payload.TextQuestionCount+payload.ImageQuestionCount == 0 {
		return dto.AssignmentCreateResponse{}, fmt.Errorf("%w: at least one question must be requested", ErrValidation)
	}

	deck, err := loadOwnedDeck(ctx, s.decks, payload.DeckID, actor.ID)
	if err != nil {
		return dto.AssignmentCreateResponse{}, err
	}
	if !deck.HasCollection() {
		return dto.AssignmentCreateResponse{}, ErrCollectionNotBuilt
	}

	items, err := s.decks.Items(ctx, deck.ID, repository.ItemFilter{})
	if err != nil {
		return dto.AssignmentCreateResponse{}, err
	}

	var questions []models.Question
	shortfall := ShortfallError{}

	if payload.TextQuestionCount > 0 {
		generated, missing := s.generateTextQuestions(ctx, deck, items, payload.TextQuestionCount)
		questions = append(questions, generated...)
		shortfall.TextMissing = missing
	}
	if payload.ImageQuestionCount > 0 {
		generated, missing := s.generateImageQuestions(ctx, items, payload.ImageQuestionCount)
		questions = append(questions, generated...)
		shortfall.ImageMissing = missing
	}

	assignment := models.Assignment{
		Name:               strings.TrimSpace(s.sanitizer.Sanitize(payload.Name)),
		OwnerID:            actor.ID,
		DeckID:             deck.ID,
		TextQuestionCount:  countKind(questions, models.QuestionKindText),
		ImageQuestionCount: countKind(questions, models.QuestionKindImage),
		Status:             models.AssignmentStatusActive,
		Questions:          questions,
	}
	if err := s.assignments.Create(ctx, &assignment); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return dto.AssignmentCreateResponse{}, err
	}

	observability.QuestionsGenerated().WithLabelValues(models.QuestionKindText).Add(float64(assignment.TextQuestionCount))
	observability.QuestionsGenerated().WithLabelValues(models.QuestionKindImage).Add(float64(assignment.ImageQuestionCount))
	span.SetAttributes(
		attribute.Int("assignment.id", int(assignment.ID)),
		attribute.Int("assignment.questions", len(questions)),
		attribute.Int("assignment.shortfall", shortfall.Total()),
	)

	assignmentID := assignment.ID
	if _, err := s.activity.Record(ctx, ActivityEntry{
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     models.ActionAssignmentCreated,
		EntityType: "assignment",
		EntityID:   &assignmentID,
		Metadata: map[string]interface{}{
			"deck_id":         deck.ID,
			"text_questions":  assignment.TextQuestionCount,
			"image_questions": assignment.ImageQuestionCount,
			"shortfall":       shortfall.Total(),
		},
	}); err != nil {
		s.logger.Warn().Err(err).Uint("assignment_id", assignment.ID).Msg("record generation activity")
	}
	s.events.Publish(ctx, EventAssignmentCreated, map[string]interface{}{
		"assignment_id": assignment.ID,
		"deck_id":       deck.ID,
		"owner_id":      actor.ID,
		"questions":     len(questions),
	})

	s.logger.Info().
		Uint("assignment_id", assignment.ID).
		Int("text_questions", assignment.TextQuestionCount).
		Int("image_questions", assignment.ImageQuestionCount).
		Int("shortfall", shortfall.Total()).
		Msg("assignment generated")

	response := dto.AssignmentCreateResponse{
		AssignmentDetailResponse: dto.NewAssignmentDetailResponse(assignment, true),
	}
	if shortfall.Total() > 0 {
		response.Shortfall = &dto.ShortfallResponse{
			TextMissing:  shortfall.TextMissing,
			ImageMissing: shortfall.ImageMissing,
		}
		return response, &shortfall
	}

	return response, nil
}

// generateTextQuestions fills the text quota by retrieving a context window
// per rotating seed and asking the model for a question/answer pair. A slot
// that keeps producing duplicates or failures across its seed budget is
// counted as missing.
func (s *questionService) generateTextQuestions(ctx context.Context, deck models.Deck, items []models.SlideItem, count int) ([]models.Question, int) {
	seeds := textSeeds(items)
	if len(seeds) == 0 {
		return nil, count
	}

	questions := make([]models.Question, 0, count)
	seen := map[string]struct{}{}
	seedIdx := 0

	for slot := 0; slot < count; slot++ {
		var question *models.Question
		for attempt := 0; attempt < maxSlotAttempts; attempt++ {
			seed := seeds[seedIdx%len(seeds)]
			seedIdx++

			candidate, err := s.textQuestionFromSeed(ctx, deck.CollectionID, seed)
			if err != nil {
				s.logger.Warn().Err(err).Int("slide", seed.slide).Msg("text question generation failed")
				continue
			}

			key := normalizePrompt(candidate.Prompt)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			question = candidate
			break
		}
		if question == nil {
			continue
		}
		questions = append(questions, *question)
	}

	return questions, count - len(questions)
}

func (s *questionService) textQuestionFromSeed(ctx context.Context, collectionID string, seed seedQuery) (*models.Question, error) {
	results, err := s.retriever.Retrieve(ctx, collectionID, seed.text, s.topK)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no retrieval hits for slide %d seed", seed.slide)
	}

	window := contextWindow(results)
	draft, err := retry.Do(ctx, s.retry, func(ctx context.Context) (ai.QuestionDraft, error) {
		content, err := s.generator.Generate(ctx, ai.GenerateRequest{
			System:   ai.QuestionSystemPrompt(),
			Prompt:   ai.BuildTextQuestionPrompt(window),
			JSONMode: true,
		})
		if err != nil {
			return ai.QuestionDraft{}, err
		}
		return ai.ParseQuestionResponse(content)
	})
	if err != nil {
		return nil, err
	}

	return &models.Question{
		Kind:        models.QuestionKindText,
		Prompt:      draft.Question,
		Answer:      draft.Answer,
		Context:     window,
		SlideNumber: seed.slide,
		Position:    seed.position,
	}, nil
}

// generateImageQuestions fills the image quota from described, non-deleted
// image items spread round-robin across slides so one image-heavy slide does
// not dominate the quiz.
func (s *questionService) generateImageQuestions(ctx context.Context, items []models.SlideItem, count int) ([]models.Question, int) {
	candidates := make([]models.SlideItem, 0, len(items))
	for _, item := range items {
		if item.Described() && item.ImageID != nil {
			candidates = append(candidates, item)
		}
	}

	spread := roundRobinBySlide(candidates)
	if len(spread) > count {
		spread = spread[:count]
	}

	questions := make([]models.Question, 0, len(spread))
	for _, item := range spread {
		draft, err := retry.Do(ctx, s.retry, func(ctx context.Context) (ai.QuestionDraft, error) {
			content, err := s.generator.Generate(ctx, ai.GenerateRequest{
				System:   ai.QuestionSystemPrompt(),
				Prompt:   ai.BuildImageQuestionPrompt(item.Content, item.OCRText),
				JSONMode: true,
			})
			if err != nil {
				return ai.QuestionDraft{}, err
			}
			return ai.ParseQuestionResponse(content)
		})
		if err != nil {
			s.logger.Warn().Err(err).Uint("item_id", item.ID).Msg("image question generation failed")
			continue
		}

		questions = append(questions, models.Question{
			Kind:        models.QuestionKindImage,
			Prompt:      draft.Question,
			Answer:      draft.Answer,
			Context:     item.Content,
			ImageID:     item.ImageID,
			SlideNumber: item.SlideNumber,
			Position:    item.Position,
		})
	}

	return questions, count - len(questions)
}

func (s *questionService) List(ctx context.Context, actor ActivityActor) ([]dto.AssignmentResponse, error) {
	filter := repository.AssignmentFilter{}
	if actor.Role == models.RoleTeacher {
		ownerID := actor.ID
		filter.OwnerID = &ownerID
	} else {
		status := models.AssignmentStatusActive
		filter.Status = &status
	}

	assignments, err := s.assignments.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	responses := make([]dto.AssignmentResponse, 0, len(assignments))
	for _, assignment := range assignments {
		responses = append(responses, dto.NewAssignmentResponse(assignment))
	}

	return responses, nil
}

func (s *questionService) Get(ctx context.Context, id uint, actor ActivityActor) (dto.AssignmentDetailResponse, error) {
	assignment, err := loadAssignment(ctx, s.assignments, id)
	if err != nil {
		return dto.AssignmentDetailResponse{}, err
	}

	if actor.Role == models.RoleTeacher {
		if assignment.OwnerID != actor.ID {
			return dto.AssignmentDetailResponse{}, ErrForbidden
		}
		return dto.NewAssignmentDetailResponse(assignment, true), nil
	}

	// Students only ever see active assignments, and never the reference
	// answers.
	if assignment.IsArchived() {
		return dto.AssignmentDetailResponse{}, ErrAssignmentNotFound
	}

	return dto.NewAssignmentDetailResponse(assignment, false), nil
}

func (s *questionService) UpdateStatus(ctx context.Context, id uint, status string, actor ActivityActor) (dto.AssignmentResponse, error) {
	if status != models.AssignmentStatusActive && status != models.AssignmentStatusArchived {
		return dto.AssignmentResponse{}, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}

	assignment, err := loadOwnedAssignment(ctx, s.assignments, id, actor.ID)
	if err != nil {
		return dto.AssignmentResponse{}, err
	}
	if assignment.Status == status {
		return dto.NewAssignmentResponse(assignment), nil
	}

	if err := s.assignments.UpdateStatus(ctx, assignment.ID, status); err != nil {
		return dto.AssignmentResponse{}, err
	}
	assignment.Status = status

	s.logger.Info().Uint("assignment_id", assignment.ID).Str("status", status).Msg("assignment status changed")

	return dto.NewAssignmentResponse(assignment), nil
}

func (s *questionService) Delete(ctx context.Context, id uint, actor ActivityActor) error {
	assignment, err := loadOwnedAssignment(ctx, s.assignments, id, actor.ID)
	if err != nil {
		return err
	}

	if err := s.assignments.Delete(ctx, assignment.ID); err != nil {
		return err
	}

	assignmentID := assignment.ID
	if _, err := s.activity.Record(ctx, ActivityEntry{
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     models.ActionAssignmentDeleted,
		EntityType: "assignment",
		EntityID:   &assignmentID,
		Metadata:   map[string]interface{}{"name": assignment.Name},
	}); err != nil {
		s.logger.Warn().Err(err).Uint("assignment_id", assignment.ID).Msg("record deletion activity")
	}

	return nil
}

// QuestionImage resolves the stored image behind an image question. Teachers
// must own the assignment; students may fetch images of active assignments.
func (s *questionService) QuestionImage(ctx context.Context, questionID uint, actor ActivityActor) (models.Image, error) {
	question, err := s.questions.GetByID(ctx, questionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Image{}, ErrQuestionNotFound
		}
		return models.Image{}, err
	}
	if question.ImageID == nil {
		return models.Image{}, ErrImageNotFound
	}

	assignment, err := loadAssignment(ctx, s.assignments, question.AssignmentID)
	if err != nil {
		return models.Image{}, err
	}
	if assignment.OwnerID != actor.ID && assignment.IsArchived() {
		return models.Image{}, ErrForbidden
	}

	image, err := s.images.GetByID(ctx, *question.ImageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Image{}, ErrImageNotFound
		}
		return models.Image{}, err
	}

	return image, nil
}

// loadAssignment fetches an assignment, mapping a missing row to the domain
// sentinel.
func loadAssignment(ctx context.Context, assignments repository.AssignmentRepository, id uint) (models.Assignment, error) {
	assignment, err := assignments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Assignment{}, ErrAssignmentNotFound
		}
		return models.Assignment{}, err
	}

	return assignment, nil
}

func loadOwnedAssignment(ctx context.Context, assignments repository.AssignmentRepository, id, ownerID uint) (models.Assignment, error) {
	assignment, err := loadAssignment(ctx, assignments, id)
	if err != nil {
		return models.Assignment{}, err
	}
	if assignment.OwnerID != ownerID {
		return models.Assignment{}, ErrForbidden
	}

	return assignment, nil
}

type seedQuery struct {
	text     string
	slide    int
	position int
}

// textSeeds picks one representative text snippet per slide, in slide order.
// The rotation over these seeds diversifies retrieval across the deck instead
// of hammering the first slide.
func textSeeds(items []models.SlideItem) []seedQuery {
	seeds := make([]seedQuery, 0)
	lastSlide := -1
	for _, item := range items {
		if item.Kind != models.ItemKindText || strings.TrimSpace(item.Content) == "" {
			continue
		}
		if item.SlideNumber == lastSlide {
			continue
		}
		lastSlide = item.SlideNumber

		text := strings.TrimSpace(item.Content)
		if len(text) > seedSnippetLimit {
			cut := seedSnippetLimit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			text = text[:cut]
		}
		seeds = append(seeds, seedQuery{text: text, slide: item.SlideNumber, position: item.Position})
	}

	return seeds
}

// roundRobinBySlide interleaves items one slide at a time: first item of each
// slide, then second of each, preserving slide order within a round.
func roundRobinBySlide(items []models.SlideItem) []models.SlideItem {
	var slideOrder []int
	grouped := map[int][]models.SlideItem{}
	for _, item := range items {
		if _, ok := grouped[item.SlideNumber]; !ok {
			slideOrder = append(slideOrder, item.SlideNumber)
		}
		grouped[item.SlideNumber] = append(grouped[item.SlideNumber], item)
	}

	result := make([]models.SlideItem, 0, len(items))
	for round := 0; len(result) < len(items); round++ {
		for _, slide := range slideOrder {
			if round < len(grouped[slide]) {
				result = append(result, grouped[slide][round])
			}
		}
	}

	return result
}

func contextWindow(results []vector.Result) string {
	parts := make([]string, 0, len(results))
	for _, result := range results {
		parts = append(parts, result.Content)
	}

	return strings.Join(parts, "\n\n")
}

func normalizePrompt(prompt string) string {
	return strings.ToLower(strings.Join(strings.Fields(prompt), " "))
}

func countKind(questions []models.Question, kind string) int {
	count := 0
	for _, question := range questions {
		if question.Kind == kind {
			count++
		}
	}

	return count
}
