package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
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
	"github.com/deckquiz/deckquiz-go-api/pkg/pptx"
)

// Upload guards.
var (
	ErrUploadTooLarge       = errors.New("upload exceeds the configured size limit")
	ErrUploadTypeNotAllowed = errors.New("upload type is not allowed")
)

// Generic zip is accepted because sparse archives are not always sniffed as
// the full presentation MIME; the parser is the final arbiter.
var allowedDeckMimes = map[string]struct{}{
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": {},
	"application/zip": {},
}

// DeckIngestInput carries one uploaded presentation file.
type DeckIngestInput struct {
	Title    string
	FileName string
	Data     []byte
}

// DeckService ingests presentation uploads and exposes deck listings.
type DeckService interface {
	Ingest(ctx context.Context, input DeckIngestInput, actor ActivityActor) (dto.DeckDetailResponse, error)
	List(ctx context.Context, ownerID uint) ([]dto.DeckResponse, error)
	Get(ctx context.Context, id, ownerID uint) (dto.DeckDetailResponse, error)
}

type deckService struct {
	decks     repository.DeckRepository
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	activity  ActivityRecorder
	events    *EventPublisher
	maxBytes  int64
	logger    zerolog.Logger
}

// NewDeckService constructs the deck ingestion service. maxUploadMB bounds
// the accepted file size.
func NewDeckService(
	decks repository.DeckRepository,
	validate *validator.Validate,
	activity ActivityRecorder,
	events *EventPublisher,
	maxUploadMB int,
	logger zerolog.Logger,
) DeckService {
	return &deckService{
		decks:     decks,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		activity:  activity,
		events:    events,
		maxBytes:  int64(maxUploadMB) * 1024 * 1024,
		logger:    logger.With().Str("component", "deck_service").Logger(),
	}
}

func (s *deckService) Ingest(ctx context.Context, input DeckIngestInput, actor ActivityActor) (dto.DeckDetailResponse, error) {
	tracer := otel.Tracer("deckquiz/service")
	ctx, span := tracer.Start(ctx, "deck.ingest")
	defer span.End()

	start := time.Now()
	observability.UploadRequests().Inc()

	if err := s.validator.Struct(dto.DeckUploadRequest{Title: input.Title}); err != nil {
		observability.UploadRejected().WithLabelValues("validation").Inc()
		return dto.DeckDetailResponse{}, err
	}
	if len(input.Data) == 0 {
		observability.UploadRejected().WithLabelValues("validation").Inc()
		return dto.DeckDetailResponse{}, fmt.Errorf("%w: file is required", ErrValidation)
	}
	if s.maxBytes > 0 && int64(len(input.Data)) > s.maxBytes {
		observability.UploadRejected().WithLabelValues("size").Inc()
		return dto.DeckDetailResponse{}, ErrUploadTooLarge
	}

	detected := mimetype.Detect(input.Data)
	if _, ok := allowedDeckMimes[detected.String()]; !ok {
		observability.UploadRejected().WithLabelValues("mime").Inc()
		return dto.DeckDetailResponse{}, fmt.Errorf("%w: %s", ErrUploadTypeNotAllowed, detected.String())
	}

	parsed, err := pptx.Parse(input.Data, input.FileName)
	if err != nil {
		observability.UploadRejected().WithLabelValues("parse").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return dto.DeckDetailResponse{}, err
	}

	deck := s.buildDeck(parsed, input, actor.ID)
	if err := s.decks.Create(ctx, &deck); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Collection ids are random; a collision here means a retry of
			// the same request raced us.
			return dto.DeckDetailResponse{}, fmt.Errorf("%w: deck already ingested", ErrValidation)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return dto.DeckDetailResponse{}, err
	}

	observability.UploadLatency().Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("deck.id", int(deck.ID)),
		attribute.Int("deck.slides", deck.SlideCount),
		attribute.Int("deck.items", len(deck.Items)),
	)

	deckID := deck.ID
	if _, err := s.activity.Record(ctx, ActivityEntry{
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     models.ActionDeckIngested,
		EntityType: "deck",
		EntityID:   &deckID,
		Metadata: map[string]interface{}{
			"source_name": deck.SourceName,
			"slides":      deck.SlideCount,
			"text_items":  deck.TextItemCount,
			"image_items": deck.ImageItemCount,
		},
	}); err != nil {
		s.logger.Warn().Err(err).Uint("deck_id", deck.ID).Msg("record ingest activity")
	}
	s.events.Publish(ctx, EventDeckIngested, map[string]interface{}{
		"deck_id":  deck.ID,
		"owner_id": deck.OwnerID,
		"slides":   deck.SlideCount,
	})

	s.logger.Info().
		Uint("deck_id", deck.ID).
		Int("slides", deck.SlideCount).
		Int("text_items", deck.TextItemCount).
		Int("image_items", deck.ImageItemCount).
		Msg("deck ingested")

	return dto.NewDeckDetailResponse(deck, deck.Items), nil
}

// buildDeck maps a parsed presentation onto the persistence model. Items keep
// their extraction order; images are deduplicated per deck by checksum so a
// logo repeated on every slide is stored once.
func (s *deckService) buildDeck(parsed *pptx.Deck, input DeckIngestInput, ownerID uint) models.Deck {
	deck := models.Deck{
		Title:          strings.TrimSpace(s.sanitizer.Sanitize(input.Title)),
		SourceName:     input.FileName,
		SlideCount:     len(parsed.Slides),
		TextItemCount:  parsed.TextItemCount(),
		ImageItemCount: parsed.ImageItemCount(),
		CollectionID:   newCollectionID(),
		OwnerID:        ownerID,
	}

	seen := map[string]*models.Image{}
	for _, slide := range parsed.Slides {
		for position, extracted := range slide.Items {
			item := models.SlideItem{
				SlideNumber: slide.Number,
				Position:    position,
				Kind:        string(extracted.Kind),
			}
			switch extracted.Kind {
			case pptx.KindText:
				item.Content = extracted.Text
			case pptx.KindImage:
				checksum := checksumBytes(extracted.Image)
				image, ok := seen[checksum]
				if !ok {
					image = &models.Image{
						Data:        extracted.Image,
						ContentType: mimetype.Detect(extracted.Image).String(),
						Extension:   extracted.Extension,
						SizeBytes:   int64(len(extracted.Image)),
						Checksum:    checksum,
					}
					seen[checksum] = image
				}
				item.Image = image
			}
			deck.Items = append(deck.Items, item)
		}
	}

	return deck
}

func (s *deckService) List(ctx context.Context, ownerID uint) ([]dto.DeckResponse, error) {
	decks, err := s.decks.List(ctx, repository.DeckFilter{OwnerID: &ownerID})
	if err != nil {
		return nil, err
	}

	responses := make([]dto.DeckResponse, 0, len(decks))
	for _, deck := range decks {
		responses = append(responses, dto.NewDeckResponse(deck))
	}

	return responses, nil
}

func (s *deckService) Get(ctx context.Context, id, ownerID uint) (dto.DeckDetailResponse, error) {
	deck, err := loadOwnedDeck(ctx, s.decks, id, ownerID)
	if err != nil {
		return dto.DeckDetailResponse{}, err
	}

	items, err := s.decks.Items(ctx, deck.ID, repository.ItemFilter{IncludeDeleted: true})
	if err != nil {
		return dto.DeckDetailResponse{}, err
	}

	return dto.NewDeckDetailResponse(deck, items), nil
}

// loadOwnedDeck fetches a deck and enforces that the actor owns it. Shared by
// every deck-scoped service operation.
func loadOwnedDeck(ctx context.Context, decks repository.DeckRepository, id, ownerID uint) (models.Deck, error) {
	deck, err := decks.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Deck{}, ErrDeckNotFound
		}
		return models.Deck{}, err
	}
	if deck.OwnerID != ownerID {
		return models.Deck{}, ErrForbidden
	}

	return deck, nil
}

func newCollectionID() string {
	return "deck_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func checksumBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
