package service

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/deckquiz/deckquiz-go-api/internal/dto"
	"github.com/deckquiz/deckquiz-go-api/internal/models"
	"github.com/deckquiz/deckquiz-go-api/internal/repository"
)

// ActivityActor identifies the authenticated user performing an action.
type ActivityActor struct {
	ID   uint
	Role string
}

// ActivityEntry captures one audit trail event before persistence.
type ActivityEntry struct {
	ActorID    uint
	ActorRole  string
	Action     string
	EntityType string
	EntityID   *uint
	Metadata   map[string]interface{}
}

// model normalizes the entry into its storage shape. Actions and entity
// types are stored lowercase so filters stay case-insensitive.
func (e ActivityEntry) model() models.ActivityLog {
	role := strings.ToLower(strings.TrimSpace(e.ActorRole))
	if role == "" {
		role = "system"
	}
	return models.ActivityLog{
		ActorID:    e.ActorID,
		ActorRole:  role,
		Action:     strings.ToLower(strings.TrimSpace(e.Action)),
		EntityType: strings.ToLower(strings.TrimSpace(e.EntityType)),
		EntityID:   e.EntityID,
		Metadata:   maskSensitiveMetadata(e.Metadata),
	}
}

// ActivityRecorder is the write side of the audit trail, consumed by the
// other services.
type ActivityRecorder interface {
	Record(ctx context.Context, entry ActivityEntry) (dto.ActivityResponse, error)
}

// ActivityService exposes methods to query and persist activity logs.
type ActivityService interface {
	ActivityRecorder
	List(ctx context.Context, req dto.ActivityListRequest) (dto.ActivityListResponse, error)
}

type activityService struct {
	repo   repository.ActivityLogRepository
	logger zerolog.Logger
}

// NewActivityService constructs the activity log service.
func NewActivityService(repo repository.ActivityLogRepository, logger zerolog.Logger) ActivityService {
	return &activityService{
		repo:   repo,
		logger: logger.With().Str("component", "activity_service").Logger(),
	}
}

func (s *activityService) Record(ctx context.Context, entry ActivityEntry) (dto.ActivityResponse, error) {
	if strings.TrimSpace(entry.Action) == "" {
		return dto.ActivityResponse{}, errors.New("action is required")
	}
	if strings.TrimSpace(entry.EntityType) == "" {
		return dto.ActivityResponse{}, errors.New("entity type is required")
	}

	record := entry.model()
	if err := s.repo.Create(ctx, &record); err != nil {
		s.logger.Error().Err(err).Str("action", record.Action).Msg("failed to persist activity log")
		return dto.ActivityResponse{}, err
	}

	return dto.NewActivityResponse(record), nil
}

func (s *activityService) List(ctx context.Context, req dto.ActivityListRequest) (dto.ActivityListResponse, error) {
	filter := repository.ActivityLogFilter{
		Page:       req.Page,
		PageSize:   req.PageSize,
		Action:     strings.TrimSpace(req.Action),
		EntityType: strings.TrimSpace(req.EntityType),
	}
	if req.ActorID > 0 {
		filter.ActorID = &req.ActorID
	}

	entries, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return dto.ActivityListResponse{}, err
	}

	items := make([]dto.ActivityResponse, 0, len(entries))
	for _, entry := range entries {
		items = append(items, dto.NewActivityResponse(entry))
	}

	return dto.ActivityListResponse{
		Items:      items,
		Pagination: paginationFor(req.Page, req.PageSize, total),
	}, nil
}

func paginationFor(page, pageSize int, total int64) dto.PaginationMeta {
	meta := dto.PaginationMeta{
		Page:       maxInt(page, 1),
		PageSize:   pageSize,
		TotalItems: total,
		TotalPages: 1,
	}
	if pageSize > 0 {
		meta.TotalPages = int(math.Ceil(float64(total) / float64(pageSize)))
	}
	return meta
}

// maskSensitiveMetadata blanks values whose keys look like credentials or
// PII before they reach the audit table.
func maskSensitiveMetadata(metadata map[string]interface{}) datatypes.JSONMap {
	masked := datatypes.JSONMap{}
	for key, value := range metadata {
		if isSensitiveMetaKey(key) {
			masked[key] = "***"
			continue
		}
		masked[key] = value
	}
	return masked
}

func isSensitiveMetaKey(key string) bool {
	lower := strings.ToLower(key)
	for _, needle := range []string{"email", "token", "password", "secret"} {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
