package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/deckquiz/deckquiz-go-api/internal/dto"
	"github.com/deckquiz/deckquiz-go-api/internal/models"
	"github.com/deckquiz/deckquiz-go-api/internal/observability"
	"github.com/deckquiz/deckquiz-go-api/internal/repository"
	"github.com/deckquiz/deckquiz-go-api/internal/retry"
	"github.com/deckquiz/deckquiz-go-api/pkg/ai"
)

// DescribeOptions tunes the image description pipeline.
type DescribeOptions struct {
	BatchSize int
	CacheTTL  time.Duration
	Retry     retry.Policy
}

// DescribeService drives the vision description pipeline and item-level
// moderation (manual descriptions, soft deletes).
type DescribeService interface {
	DescribeBatch(ctx context.Context, deckID uint, batchIndex int, actor ActivityActor) (dto.DescribeBatchResponse, error)
	UpdateItem(ctx context.Context, deckID, itemID uint, payload dto.ItemUpdateRequest, actor ActivityActor) (dto.SlideItemResponse, error)
}

type describeService struct {
	decks     repository.DeckRepository
	generator ai.Generator
	ocr       ai.OCR
	cache     *redis.Client
	activity  ActivityRecorder
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	opts      DescribeOptions
	logger    zerolog.Logger

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

// NewDescribeService constructs the description service. A nil cache client
// disables the checksum cache.
func NewDescribeService(
	decks repository.DeckRepository,
	generator ai.Generator,
	ocr ai.OCR,
	cache *redis.Client,
	activity ActivityRecorder,
	validate *validator.Validate,
	opts DescribeOptions,
	logger zerolog.Logger,
) DescribeService {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	return &describeService{
		decks:     decks,
		generator: generator,
		ocr:       ocr,
		cache:     cache,
		activity:  activity,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		opts:      opts,
		logger:    logger.With().Str("component", "describe_service").Logger(),
		locks:     map[uint]*sync.Mutex{},
	}
}

// DescribeBatch describes the batchIndex-th window of undescribed image items
// in (slide, position) order. Concurrent batches on the same deck are
// serialized so two callers never describe the same item twice.
func (s *describeService) DescribeBatch(ctx context.Context, deckID uint, batchIndex int, actor ActivityActor) (dto.DescribeBatchResponse, error) {
	tracer := otel.Tracer("deckquiz/service")
	ctx, span := tracer.Start(ctx, "describe.batch")
	defer span.End()

	if batchIndex < 0 {
		return dto.DescribeBatchResponse{}, fmt.Errorf("%w: batch index must not be negative", ErrValidation)
	}

	deck, err := loadOwnedDeck(ctx, s.decks, deckID, actor.ID)
	if err != nil {
		return dto.DescribeBatchResponse{}, err
	}

	lock := s.deckLock(deck.ID)
	lock.Lock()
	defer lock.Unlock()

	images, err := s.decks.Items(ctx, deck.ID, repository.ItemFilter{
		Kind:      models.ItemKindImage,
		WithImage: true,
	})
	if err != nil {
		return dto.DescribeBatchResponse{}, err
	}

	texts, err := s.decks.Items(ctx, deck.ID, repository.ItemFilter{Kind: models.ItemKindText})
	if err != nil {
		return dto.DescribeBatchResponse{}, err
	}
	contextBySlide := groupTextBySlide(texts)

	response := dto.DescribeBatchResponse{
		BatchIndex:  batchIndex,
		BatchSize:   s.opts.BatchSize,
		TotalImages: len(images),
		Processed:   []uint{},
		Skipped:     []uint{},
		Failed:      []uint{},
	}

	start := batchIndex * s.opts.BatchSize
	if start < len(images) {
		end := start + s.opts.BatchSize
		if end > len(images) {
			end = len(images)
		}
		for i := start; i < end; i++ {
			item := &images[i]
			if item.Described() {
				response.Skipped = append(response.Skipped, item.ID)
				continue
			}
			if err := s.describeOne(ctx, item, contextBySlide[item.SlideNumber]); err != nil {
				s.logger.Warn().Err(err).
					Uint("deck_id", deck.ID).
					Uint("item_id", item.ID).
					Msg("describe image failed")
				response.Failed = append(response.Failed, item.ID)
				continue
			}
			response.Processed = append(response.Processed, item.ID)
		}
	}

	for _, item := range images {
		if !item.Described() {
			response.RemainingAfter++
		}
	}

	span.SetAttributes(
		attribute.Int("describe.batch_index", batchIndex),
		attribute.Int("describe.processed", len(response.Processed)),
		attribute.Int("describe.failed", len(response.Failed)),
	)

	return response, nil
}

// describeOne fills in the description for a single image item: cache first,
// then OCR plus the vision model. The item is only persisted on success, so a
// failed call leaves it undescribed and eligible for the next batch.
func (s *describeService) describeOne(ctx context.Context, item *models.SlideItem, slideContext string) error {
	if item.Image == nil {
		return fmt.Errorf("image payload missing for item %d", item.ID)
	}

	if description, ok := s.cachedDescription(ctx, item.Image.Checksum); ok {
		return s.storeDescription(ctx, item, description)
	}

	ocrText, err := s.ocr.ExtractText(ctx, item.Image.Data, item.Image.ContentType)
	if err != nil {
		s.logger.Debug().Err(err).Uint("item_id", item.ID).Msg("ocr failed, continuing without transcription")
		ocrText = ""
	}

	prompt := ai.BuildDescribePrompt(ocrText, slideContext)
	description, err := retry.Do(ctx, s.opts.Retry, func(ctx context.Context) (string, error) {
		return s.generator.Generate(ctx, ai.GenerateRequest{
			System:    ai.DescribeSystemPrompt(),
			Prompt:    prompt,
			Image:     item.Image.Data,
			ImageMIME: item.Image.ContentType,
		})
	})
	if err != nil {
		return externalErr("vision model", err)
	}

	description = strings.TrimSpace(description)
	if description == "" {
		return fmt.Errorf("vision model returned an empty description")
	}

	item.OCRText = strings.TrimSpace(ocrText)
	if err := s.storeDescription(ctx, item, description); err != nil {
		return err
	}
	s.cacheDescription(ctx, item.Image.Checksum, description)

	return nil
}

func (s *describeService) storeDescription(ctx context.Context, item *models.SlideItem, description string) error {
	now := time.Now().UTC()
	item.Content = description
	item.DescribedAt = &now

	return s.decks.UpdateItem(ctx, item)
}

// UpdateItem applies moderation changes: a manual description override, a
// soft-delete flag change, or both in one call. Soft deletes never touch
// content or ordering, so a restore brings the item back exactly as it was.
func (s *describeService) UpdateItem(ctx context.Context, deckID, itemID uint, payload dto.ItemUpdateRequest, actor ActivityActor) (dto.SlideItemResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SlideItemResponse{}, err
	}
	if payload.Description == nil && payload.Deleted == nil {
		return dto.SlideItemResponse{}, fmt.Errorf("%w: nothing to update", ErrValidation)
	}

	deck, err := loadOwnedDeck(ctx, s.decks, deckID, actor.ID)
	if err != nil {
		return dto.SlideItemResponse{}, err
	}

	item, err := s.decks.GetItem(ctx, deck.ID, itemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SlideItemResponse{}, ErrItemNotFound
		}
		return dto.SlideItemResponse{}, err
	}

	changes := map[string]interface{}{"deck_id": deck.ID}
	if payload.Description != nil {
		if !item.IsImage() {
			return dto.SlideItemResponse{}, ErrItemNotImage
		}
		description := strings.TrimSpace(s.sanitizer.Sanitize(*payload.Description))
		if description == "" {
			return dto.SlideItemResponse{}, fmt.Errorf("%w: description must not be empty", ErrValidation)
		}
		now := time.Now().UTC()
		item.Content = description
		item.DescribedAt = &now
		changes["description"] = "manual"
	}
	if payload.Deleted != nil {
		item.Deleted = *payload.Deleted
		changes["deleted"] = *payload.Deleted
	}

	if err := s.decks.UpdateItem(ctx, &item); err != nil {
		return dto.SlideItemResponse{}, err
	}

	if _, err := s.activity.Record(ctx, ActivityEntry{
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     models.ActionItemModerated,
		EntityType: "slide_item",
		EntityID:   &item.ID,
		Metadata:   changes,
	}); err != nil {
		s.logger.Warn().Err(err).Uint("item_id", item.ID).Msg("record moderation activity")
	}

	return dto.NewSlideItemResponse(item), nil
}

func (s *describeService) deckLock(deckID uint) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[deckID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[deckID] = lock
	}

	return lock
}

func (s *describeService) cachedDescription(ctx context.Context, checksum string) (string, bool) {
	if s.cache == nil || checksum == "" {
		return "", false
	}

	value, err := s.cache.Get(ctx, describeCacheKey(checksum)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("describe cache read failed")
		}
		observability.CacheRequests().WithLabelValues("describe", "miss").Inc()
		return "", false
	}

	observability.CacheRequests().WithLabelValues("describe", "hit").Inc()
	return value, true
}

func (s *describeService) cacheDescription(ctx context.Context, checksum, description string) {
	if s.cache == nil || checksum == "" {
		return
	}
	if err := s.cache.Set(ctx, describeCacheKey(checksum), description, s.opts.CacheTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("describe cache write failed")
	}
}

func describeCacheKey(checksum string) string {
	return "deckquiz:describe:" + checksum
}

func groupTextBySlide(items []models.SlideItem) map[int]string {
	grouped := map[int][]string{}
	for _, item := range items {
		if strings.TrimSpace(item.Content) == "" {
			continue
		}
		grouped[item.SlideNumber] = append(grouped[item.SlideNumber], item.Content)
	}

	joined := make(map[int]string, len(grouped))
	for slide, lines := range grouped {
		joined[slide] = strings.Join(lines, "\n")
	}

	return joined
}
