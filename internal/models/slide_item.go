package models

import "time"

// SlideItem is one extracted unit of a deck: a text run or an embedded image.
// The (slide number, position) pair is the stable ordering key for batching,
// embedding and retrieval tie-breaks. For text items Content holds the raw
// run; for image items it holds the description, empty until described.
type SlideItem struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	DeckID      uint       `gorm:"not null;uniqueIndex:idx_deck_slide_position" json:"deck_id"`
	SlideNumber int        `gorm:"not null;uniqueIndex:idx_deck_slide_position" json:"slide_number"`
	Position    int        `gorm:"not null;uniqueIndex:idx_deck_slide_position" json:"position"`
	Kind        string     `gorm:"size:16;not null" json:"kind"`
	Content     string     `gorm:"type:text" json:"content"`
	OCRText     string     `gorm:"type:text" json:"ocr_text"`
	ImageID     *uint      `json:"image_id"`
	Deleted     bool       `gorm:"not null;default:false" json:"deleted"`
	DescribedAt *time.Time `json:"described_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Deck        Deck       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Image       *Image     `json:"-"`
}

const (
	// ItemKindText marks a slide item holding a raw text run.
	ItemKindText = "text"
	// ItemKindImage marks a slide item holding an embedded picture.
	ItemKindImage = "image"
)

// IsImage reports whether the item carries an embedded picture.
func (i SlideItem) IsImage() bool {
	return i.Kind == ItemKindImage
}

// Described reports whether an image item already carries a description,
// manual or generated.
func (i SlideItem) Described() bool {
	return i.IsImage() && i.Content != ""
}

// Embeddable reports whether the item contributes a unit to the deck's
// collection: it must not be soft-deleted and must carry content (text items
// always do; image items only once described).
func (i SlideItem) Embeddable() bool {
	return !i.Deleted && i.Content != ""
}
