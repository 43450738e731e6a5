package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/deckquiz/deckquiz-go-api/internal/models"
)

// ActivityLogFilter narrows audit trail queries. Zero values match any row.
type ActivityLogFilter struct {
	ActorID    *uint
	Action     string
	EntityType string
	Page       int
	PageSize   int
}

func (f ActivityLogFilter) scope(tx *gorm.DB) *gorm.DB {
	if f.ActorID != nil {
		tx = tx.Where("actor_id = ?", *f.ActorID)
	}
	if f.Action != "" {
		tx = tx.Where("action = ?", f.Action)
	}
	if f.EntityType != "" {
		tx = tx.Where("entity_type = ?", f.EntityType)
	}
	return tx
}

func (f ActivityLogFilter) offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}

// ActivityLogRepository is the append-only audit trail store.
type ActivityLogRepository interface {
	Create(ctx context.Context, entry *models.ActivityLog) error
	List(ctx context.Context, filter ActivityLogFilter) ([]models.ActivityLog, int64, error)
}

type activityLogRepository struct {
	db *gorm.DB
}

// NewActivityLogRepository constructs the activity log repository.
func NewActivityLogRepository(db *gorm.DB) ActivityLogRepository {
	return &activityLogRepository{db: db}
}

func (r *activityLogRepository) Create(ctx context.Context, entry *models.ActivityLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// List returns matching entries newest first along with the unpaginated
// total. The id tiebreak keeps page boundaries stable when timestamps
// collide.
func (r *activityLogRepository) List(ctx context.Context, filter ActivityLogFilter) ([]models.ActivityLog, int64, error) {
	base := filter.scope(r.db.WithContext(ctx).Model(&models.ActivityLog{}))

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	tx := base.Order("created_at DESC, id DESC")
	if filter.PageSize > 0 {
		tx = tx.Offset(filter.offset()).Limit(filter.PageSize)
	}

	var entries []models.ActivityLog
	if err := tx.Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
