package models

import "time"

// Assignment is a named quiz generated from one deck: a fixed set of
// questions owned by a teacher. Questions are immutable once generated;
// edits go through regeneration.
type Assignment struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	Name               string     `gorm:"size:255;not null" json:"name"`
	OwnerID            uint       `gorm:"not null;index" json:"owner_id"`
	DeckID             uint       `gorm:"not null;index" json:"deck_id"`
	TextQuestionCount  int        `gorm:"not null" json:"text_question_count"`
	ImageQuestionCount int        `gorm:"not null" json:"image_question_count"`
	Status             string     `gorm:"size:32;not null" json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	Owner              User       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Deck               Deck       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Questions          []Question `json:"questions,omitempty"`
}

const (
	// AssignmentStatusActive marks assignments students may open.
	AssignmentStatusActive = "active"
	// AssignmentStatusArchived marks assignments hidden from students.
	AssignmentStatusArchived = "archived"
)

// IsArchived reports whether the assignment is closed to new submissions.
func (a Assignment) IsArchived() bool {
	return a.Status == AssignmentStatusArchived
}
