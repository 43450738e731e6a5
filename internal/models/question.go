package models

import "time"

// Question is one generated quiz entry. Text questions are grounded in a
// retrieved context window; image questions reference the stored image they
// were generated from. SlideNumber and Position record the source unit for
// provenance.
type Question struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	AssignmentID uint       `gorm:"not null;index" json:"assignment_id"`
	Kind         string     `gorm:"size:16;not null" json:"kind"`
	Prompt       string     `gorm:"type:text;not null" json:"prompt"`
	Answer       string     `gorm:"type:text;not null" json:"answer"`
	Context      string     `gorm:"type:text" json:"context"`
	ImageID      *uint      `json:"image_id"`
	SlideNumber  int        `json:"slide_number"`
	Position     int        `json:"position"`
	CreatedAt    time.Time  `json:"created_at"`
	Assignment   Assignment `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Image        *Image     `json:"-"`
}

const (
	// QuestionKindText marks questions generated from retrieved slide text.
	QuestionKindText = "text"
	// QuestionKindImage marks questions generated from an image description.
	QuestionKindImage = "image"
)

// HasImage reports whether the question references a stored image.
func (q Question) HasImage() bool {
	return q.ImageID != nil
}
