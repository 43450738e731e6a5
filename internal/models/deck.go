package models

import "time"

// Deck represents one ingested presentation: an ordered set of slide items
// extracted from an uploaded file. Decks are immutable after ingestion except
// for item-level description and soft-delete changes.
type Deck struct {
	ID                uint        `gorm:"primaryKey" json:"id"`
	Title             string      `gorm:"size:255;not null" json:"title"`
	SourceName        string      `gorm:"size:255;not null" json:"source_name"`
	SlideCount        int         `gorm:"not null" json:"slide_count"`
	TextItemCount     int         `gorm:"not null" json:"text_item_count"`
	ImageItemCount    int         `gorm:"not null" json:"image_item_count"`
	CollectionID      string      `gorm:"size:64;uniqueIndex;not null" json:"collection_id"`
	CollectionBuiltAt *time.Time  `json:"collection_built_at"`
	OwnerID           uint        `gorm:"not null;index" json:"owner_id"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
	Owner             User        `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Items             []SlideItem `json:"items,omitempty"`
}

// HasCollection reports whether the deck's vector collection has been built.
func (d Deck) HasCollection() bool {
	return d.CollectionBuiltAt != nil
}
