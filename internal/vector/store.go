package vector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrCollectionNotFound is returned when a query or delete references a
// collection that holds no units.
var ErrCollectionNotFound = errors.New("collection not found")

// Unit is one embedded entry of a collection: the raw content of a text item
// or the description of an image item, together with the ordering metadata
// used for deterministic retrieval tie-breaks.
type Unit struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	CollectionID string          `gorm:"size:64;not null;uniqueIndex:idx_unit_collection_item" json:"collection_id"`
	ItemID       uint            `gorm:"not null;uniqueIndex:idx_unit_collection_item" json:"item_id"`
	Kind         string          `gorm:"size:16;not null" json:"kind"`
	SlideNumber  int             `gorm:"not null" json:"slide_number"`
	Position     int             `gorm:"not null" json:"position"`
	Content      string          `gorm:"type:text;not null" json:"content"`
	Embedding    pgvector.Vector `gorm:"type:vector(1536)" json:"-"`
	CreatedAt    time.Time       `json:"created_at"`
}

// TableName keeps the unit table apart from the application schema.
func (Unit) TableName() string {
	return "collection_units"
}

// Result is one ranked retrieval hit. Score is cosine similarity in [0, 1]
// for normalized embeddings (1 - cosine distance).
type Result struct {
	ItemID      uint    `json:"item_id"`
	Kind        string  `json:"kind"`
	SlideNumber int     `json:"slide_number"`
	Position    int     `json:"position"`
	Content     string  `json:"content"`
	Score       float64 `json:"score"`
}

// Store is the narrow contract the pipeline needs from a vector store.
// Replace swaps a collection's full unit set atomically so rebuilds never
// leave deleted items behind or expose half-built state.
type Store interface {
	Replace(ctx context.Context, collectionID string, units []Unit) error
	Upsert(ctx context.Context, collectionID string, unit Unit) error
	Query(ctx context.Context, collectionID string, embedding pgvector.Vector, k int) ([]Result, error)
	Delete(ctx context.Context, collectionID string) error
}

type pgStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewStore returns a Store backed by a pgvector-enabled Postgres database.
func NewStore(db *gorm.DB, logger zerolog.Logger) Store {
	return &pgStore{
		db:     db,
		logger: logger.With().Str("component", "vector_store").Logger(),
	}
}

func (s *pgStore) Replace(ctx context.Context, collectionID string, units []Unit) error {
	if collectionID == "" {
		return fmt.Errorf("collection id must not be empty")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection_id = ?", collectionID).Delete(&Unit{}).Error; err != nil {
			return err
		}

		if len(units) == 0 {
			return nil
		}

		for i := range units {
			units[i].ID = 0
			units[i].CollectionID = collectionID
		}

		return tx.Create(&units).Error
	})
	if err != nil {
		return fmt.Errorf("failed to replace collection %s: %w", collectionID, err)
	}

	s.logger.Debug().Str("collection_id", collectionID).Int("units", len(units)).Msg("collection replaced")

	return nil
}

func (s *pgStore) Upsert(ctx context.Context, collectionID string, unit Unit) error {
	unit.ID = 0
	unit.CollectionID = collectionID

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "collection_id"}, {Name: "item_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"kind", "slide_number", "position", "content", "embedding",
		}),
	}).Create(&unit).Error
	if err != nil {
		return fmt.Errorf("failed to upsert unit %d into collection %s: %w", unit.ItemID, collectionID, err)
	}

	return nil
}

func (s *pgStore) Query(ctx context.Context, collectionID string, embedding pgvector.Vector, k int) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	var rows []struct {
		Unit
		Distance float64 `gorm:"column:distance"`
	}

	err := s.db.WithContext(ctx).
		Table("collection_units").
		Select("*, embedding <=> ? AS distance", embedding).
		Where("collection_id = ?", collectionID).
		Order("distance ASC, slide_number ASC, position ASC").
		Limit(k).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", collectionID, err)
	}

	if len(rows) == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&Unit{}).Where("collection_id = ?", collectionID).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("failed to check collection %s: %w", collectionID, err)
		}

		if count == 0 {
			return nil, ErrCollectionNotFound
		}

		return []Result{}, nil
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		results = append(results, Result{
			ItemID:      row.ItemID,
			Kind:        row.Kind,
			SlideNumber: row.SlideNumber,
			Position:    row.Position,
			Content:     row.Content,
			Score:       1 - row.Distance,
		})
	}

	return results, nil
}

func (s *pgStore) Delete(ctx context.Context, collectionID string) error {
	result := s.db.WithContext(ctx).Where("collection_id = ?", collectionID).Delete(&Unit{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete collection %s: %w", collectionID, result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrCollectionNotFound
	}

	return nil
}
