package models

import (
	"time"

	"gorm.io/datatypes"
)

// ActivityLog captures auditable actions: deck uploads, assignment
// generation, submission completion and item moderation.
type ActivityLog struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	ActorID    uint              `gorm:"not null" json:"actor_id"`
	ActorRole  string            `gorm:"size:32;not null" json:"actor_role"`
	Action     string            `gorm:"size:64;not null" json:"action"`
	EntityType string            `gorm:"size:64;not null" json:"entity_type"`
	EntityID   *uint             `json:"entity_id"`
	Metadata   datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt  time.Time         `json:"created_at"`
}

const (
	// ActionDeckIngested records a successful deck upload and extraction.
	ActionDeckIngested = "deck.ingested"
	// ActionCollectionBuilt records a vector collection (re)build.
	ActionCollectionBuilt = "collection.built"
	// ActionAssignmentCreated records quiz generation for a deck.
	ActionAssignmentCreated = "assignment.created"
	// ActionAssignmentDeleted records an assignment removal.
	ActionAssignmentDeleted = "assignment.deleted"
	// ActionItemModerated records a manual description or soft-delete change.
	ActionItemModerated = "item.moderated"
	// ActionSubmissionCompleted records a finalized student submission.
	ActionSubmissionCompleted = "submission.completed"
)
