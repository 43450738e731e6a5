package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/deckquiz/deckquiz-go-api/internal/dto"
	"github.com/deckquiz/deckquiz-go-api/internal/models"
	"github.com/deckquiz/deckquiz-go-api/internal/repository"
	"github.com/deckquiz/deckquiz-go-api/internal/retry"
	"github.com/deckquiz/deckquiz-go-api/internal/vector"
	"github.com/deckquiz/deckquiz-go-api/pkg/ai"
)

const maxSearchK = 50

// CollectionService builds and queries a deck's vector collection. Retrieve
// is the raw lookup the question generator builds context windows from.
type CollectionService interface {
	Rebuild(ctx context.Context, deckID uint, actor ActivityActor) (dto.CollectionBuildResponse, error)
	Search(ctx context.Context, deckID, ownerID uint, query string, k int) ([]dto.RetrievalHitResponse, error)
	Retrieve(ctx context.Context, collectionID, query string, k int) ([]vector.Result, error)
}

type collectionService struct {
	decks    repository.DeckRepository
	store    vector.Store
	embedder ai.Embedder
	activity ActivityRecorder
	retry    retry.Policy
	topK     int
	logger   zerolog.Logger
}

// NewCollectionService constructs the collection service. topK is the default
// result count when a search does not specify one.
func NewCollectionService(
	decks repository.DeckRepository,
	store vector.Store,
	embedder ai.Embedder,
	activity ActivityRecorder,
	policy retry.Policy,
	topK int,
	logger zerolog.Logger,
) CollectionService {
	if topK <= 0 {
		topK = 4
	}
	return &collectionService{
		decks:    decks,
		store:    store,
		embedder: embedder,
		activity: activity,
		retry:    policy,
		topK:     topK,
		logger:   logger.With().Str("component", "collection_service").Logger(),
	}
}

// Rebuild resynchronizes the deck's collection from scratch: every
// non-deleted text item and every non-deleted described image item becomes
// one unit. Embedding failures abort before the store is touched, so a
// half-embedded deck is never marked ready.
func (s *collectionService) Rebuild(ctx context.Context, deckID uint, actor ActivityActor) (dto.CollectionBuildResponse, error) {
	tracer := otel.Tracer("deckquiz/service")
	ctx, span := tracer.Start(ctx, "collection.rebuild")
	defer span.End()

	deck, err := loadOwnedDeck(ctx, s.decks, deckID, actor.ID)
	if err != nil {
		return dto.CollectionBuildResponse{}, err
	}

	items, err := s.decks.Items(ctx, deck.ID, repository.ItemFilter{})
	if err != nil {
		return dto.CollectionBuildResponse{}, err
	}

	embeddable := make([]models.SlideItem, 0, len(items))
	inputs := make([]string, 0, len(items))
	for _, item := range items {
		if !item.Embeddable() {
			continue
		}
		embeddable = append(embeddable, item)
		inputs = append(inputs, item.Content)
	}

	units := make([]vector.Unit, 0, len(embeddable))
	if len(inputs) > 0 {
		vectors, err := retry.Do(ctx, s.retry, func(ctx context.Context) ([][]float32, error) {
			return s.embedder.EmbedTexts(ctx, inputs)
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "embedding failed")
			return dto.CollectionBuildResponse{}, externalErr("embedding service", err)
		}
		if len(vectors) != len(inputs) {
			return dto.CollectionBuildResponse{}, fmt.Errorf("embedding service returned %d vectors for %d inputs", len(vectors), len(inputs))
		}

		for i, item := range embeddable {
			units = append(units, vector.Unit{
				ItemID:      item.ID,
				Kind:        item.Kind,
				SlideNumber: item.SlideNumber,
				Position:    item.Position,
				Content:     item.Content,
				Embedding:   pgvector.NewVector(vectors[i]),
			})
		}
	}

	if err := s.store.Replace(ctx, deck.CollectionID, units); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store replace failed")
		return dto.CollectionBuildResponse{}, err
	}

	builtAt := time.Now().UTC()
	if err := s.decks.SetCollectionBuilt(ctx, deck.ID, builtAt); err != nil {
		return dto.CollectionBuildResponse{}, err
	}

	span.SetAttributes(
		attribute.Int("collection.units", len(units)),
		attribute.String("collection.id", deck.CollectionID),
	)

	deckRef := deck.ID
	if _, err := s.activity.Record(ctx, ActivityEntry{
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     models.ActionCollectionBuilt,
		EntityType: "deck",
		EntityID:   &deckRef,
		Metadata: map[string]interface{}{
			"collection_id": deck.CollectionID,
			"units":         len(units),
		},
	}); err != nil {
		s.logger.Warn().Err(err).Uint("deck_id", deck.ID).Msg("record collection activity")
	}

	s.logger.Info().
		Uint("deck_id", deck.ID).
		Str("collection_id", deck.CollectionID).
		Int("units", len(units)).
		Msg("collection rebuilt")

	return dto.CollectionBuildResponse{
		CollectionID: deck.CollectionID,
		Units:        len(units),
		BuiltAt:      builtAt,
	}, nil
}

// Search embeds the query and returns the top-k nearest units of the deck's
// collection. Used by teachers to preview what the question generator will
// retrieve.
func (s *collectionService) Search(ctx context.Context, deckID, ownerID uint, query string, k int) ([]dto.RetrievalHitResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrValidation)
	}
	if k <= 0 {
		k = s.topK
	}
	if k > maxSearchK {
		k = maxSearchK
	}

	deck, err := loadOwnedDeck(ctx, s.decks, deckID, ownerID)
	if err != nil {
		return nil, err
	}
	if !deck.HasCollection() {
		return nil, ErrCollectionNotBuilt
	}

	results, err := s.Retrieve(ctx, deck.CollectionID, query, k)
	if err != nil {
		return nil, err
	}

	return dto.NewRetrievalHitResponses(results), nil
}

// Retrieve embeds one query and runs the nearest-neighbour search. An empty
// built collection yields empty results rather than an error.
func (s *collectionService) Retrieve(ctx context.Context, collectionID, query string, k int) ([]vector.Result, error) {
	vectors, err := retry.Do(ctx, s.retry, func(ctx context.Context) ([][]float32, error) {
		return s.embedder.EmbedTexts(ctx, []string{query})
	})
	if err != nil {
		return nil, externalErr("embedding service", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding service returned %d vectors for one input", len(vectors))
	}

	results, err := s.store.Query(ctx, collectionID, pgvector.NewVector(vectors[0]), k)
	if err != nil {
		if errors.Is(err, vector.ErrCollectionNotFound) {
			return []vector.Result{}, nil
		}
		return nil, err
	}

	return results, nil
}
