package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/deckquiz/deckquiz-go-api/internal/models"
)

// DeckFilter narrows deck listings.
type DeckFilter struct {
	OwnerID *uint
}

// ItemFilter narrows slide item queries within one deck. Items are always
// returned in (slide_number, position) order.
type ItemFilter struct {
	Kind           string
	IncludeDeleted bool
	WithImage      bool
}

// DeckRepository defines persistence operations for decks and their slide
// items. The deck is the aggregate root: items are only reachable through it.
type DeckRepository interface {
	Create(ctx context.Context, deck *models.Deck) error
	List(ctx context.Context, filter DeckFilter) ([]models.Deck, error)
	GetByID(ctx context.Context, id uint) (models.Deck, error)
	SetCollectionBuilt(ctx context.Context, id uint, builtAt time.Time) error
	Items(ctx context.Context, deckID uint, filter ItemFilter) ([]models.SlideItem, error)
	GetItem(ctx context.Context, deckID, itemID uint) (models.SlideItem, error)
	UpdateItem(ctx context.Context, item *models.SlideItem) error
}

type deckRepository struct {
	db *gorm.DB
}

// NewDeckRepository instantiates a GORM-backed repository.
func NewDeckRepository(db *gorm.DB) DeckRepository {
	return &deckRepository{db: db}
}

func (r *deckRepository) Create(ctx context.Context, deck *models.Deck) error {
	return r.db.WithContext(ctx).Create(deck).Error
}

func (r *deckRepository) List(ctx context.Context, filter DeckFilter) ([]models.Deck, error) {
	query := r.db.WithContext(ctx).Model(&models.Deck{})

	if filter.OwnerID != nil {
		query = query.Where("owner_id = ?", *filter.OwnerID)
	}

	var decks []models.Deck
	if err := query.Order("created_at DESC").Find(&decks).Error; err != nil {
		return nil, err
	}

	return decks, nil
}

func (r *deckRepository) GetByID(ctx context.Context, id uint) (models.Deck, error) {
	var deck models.Deck
	if err := r.db.WithContext(ctx).First(&deck, id).Error; err != nil {
		return models.Deck{}, err
	}

	return deck, nil
}

func (r *deckRepository) SetCollectionBuilt(ctx context.Context, id uint, builtAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.Deck{}).
		Where("id = ?", id).
		Update("collection_built_at", builtAt)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

func (r *deckRepository) Items(ctx context.Context, deckID uint, filter ItemFilter) ([]models.SlideItem, error) {
	query := r.db.WithContext(ctx).Model(&models.SlideItem{}).Where("deck_id = ?", deckID)

	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}

	if !filter.IncludeDeleted {
		query = query.Where("deleted = ?", false)
	}

	if filter.WithImage {
		query = query.Preload("Image")
	}

	var items []models.SlideItem
	if err := query.Order("slide_number ASC, position ASC").Find(&items).Error; err != nil {
		return nil, err
	}

	return items, nil
}

func (r *deckRepository) GetItem(ctx context.Context, deckID, itemID uint) (models.SlideItem, error) {
	var item models.SlideItem
	if err := r.db.WithContext(ctx).
		Preload("Image").
		Where("deck_id = ?", deckID).
		First(&item, itemID).Error; err != nil {
		return models.SlideItem{}, err
	}

	return item, nil
}

func (r *deckRepository) UpdateItem(ctx context.Context, item *models.SlideItem) error {
	return r.db.WithContext(ctx).Omit("Image", "Deck").Save(item).Error
}
