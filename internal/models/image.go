package models

import "time"

// Image stores an extracted picture binary together with its metadata. Images
// are shared references: slide items point at them during ingestion and image
// questions keep pointing at them after generation.
type Image struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Data        []byte    `gorm:"type:bytea;not null" json:"-"`
	ContentType string    `gorm:"size:128;not null" json:"content_type"`
	Extension   string    `gorm:"size:16" json:"extension"`
	SizeBytes   int64     `gorm:"not null" json:"size_bytes"`
	Checksum    string    `gorm:"size:64;index" json:"checksum"`
	CreatedAt   time.Time `json:"created_at"`
}
