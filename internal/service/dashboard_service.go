package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/deckquiz/deckquiz-go-api/internal/dto"
	"github.com/deckquiz/deckquiz-go-api/internal/models"
	"github.com/deckquiz/deckquiz-go-api/internal/observability"
	"github.com/deckquiz/deckquiz-go-api/internal/repository"
)

// DashboardService produces the aggregated per-student progress view.
type DashboardService interface {
	GetStudentDashboard(ctx context.Context, studentID uint) (dto.StudentDashboardResponse, error)
}

type dashboardService struct {
	assignments repository.AssignmentRepository
	submissions repository.SubmissionRepository
	cache       *redis.Client
	cacheTTL    time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

// NewDashboardService builds the dashboard aggregator. The cache entry is
// invalidated by the attempt service whenever the student's progress changes.
func NewDashboardService(
	assignments repository.AssignmentRepository,
	submissions repository.SubmissionRepository,
	cache *redis.Client,
	ttl time.Duration,
	logger zerolog.Logger,
) DashboardService {
	return &dashboardService{
		assignments: assignments,
		submissions: submissions,
		cache:       cache,
		cacheTTL:    ttl,
		logger:      logger.With().Str("component", "dashboard_service").Logger(),
		now:         time.Now,
	}
}

func (s *dashboardService) GetStudentDashboard(ctx context.Context, studentID uint) (dto.StudentDashboardResponse, error) {
	cacheKey := dashboardCacheKey(studentID)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var response dto.StudentDashboardResponse
			if unmarshalErr := json.Unmarshal([]byte(cached), &response); unmarshalErr == nil {
				observability.CacheRequests().WithLabelValues("dashboard", "hit").Inc()
				s.logger.Debug().Uint("student_id", studentID).Msg("dashboard cache hit")
				return response, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("failed to read dashboard cache")
		}
		observability.CacheRequests().WithLabelValues("dashboard", "miss").Inc()
	}

	active := models.AssignmentStatusActive
	assignments, err := s.assignments.List(ctx, repository.AssignmentFilter{Status: &active})
	if err != nil {
		return dto.StudentDashboardResponse{}, err
	}

	submissions, err := s.submissions.List(ctx, repository.SubmissionFilter{StudentID: &studentID})
	if err != nil {
		return dto.StudentDashboardResponse{}, err
	}

	response := s.buildResponse(assignments, submissions)

	if s.cache != nil {
		if payload, err := json.Marshal(response); err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store dashboard cache")
			}
		}
	}

	return response, nil
}

func (s *dashboardService) buildResponse(assignments []models.Assignment, submissions []models.Submission) dto.StudentDashboardResponse {
	submissionByAssignment := map[uint]models.Submission{}
	for _, submission := range submissions {
		submissionByAssignment[submission.AssignmentID] = submission
	}

	summary := dto.DashboardSummary{}
	rows := make([]dto.DashboardAssignment, 0, len(assignments))
	var scoreTotal float64
	var scoredCount int

	for _, assignment := range assignments {
		summary.TotalAssignments++

		row := dto.DashboardAssignment{
			AssignmentID:  assignment.ID,
			Name:          assignment.Name,
			QuestionCount: assignment.TextQuestionCount + assignment.ImageQuestionCount,
			Progress:      dto.ProgressNotStarted,
		}

		submission, opened := submissionByAssignment[assignment.ID]
		if opened {
			submissionID := submission.ID
			startedAt := submission.StartedAt
			row.SubmissionID = &submissionID
			row.StartedAt = &startedAt

			if submission.IsCompleted() {
				row.Progress = dto.ProgressCompleted
				row.CompletedAt = submission.CompletedAt
				row.OverallScore = submission.OverallScore
				summary.Completed++
				if submission.OverallScore != nil {
					scoreTotal += *submission.OverallScore
					scoredCount++
				}
			} else {
				row.Progress = dto.ProgressInProgress
				summary.InProgress++
			}
		} else {
			summary.NotStarted++
		}

		rows = append(rows, row)
	}

	if scoredCount > 0 {
		summary.AverageScore = math.Round(scoreTotal/float64(scoredCount)*10) / 10
	}

	return dto.StudentDashboardResponse{
		Summary:     summary,
		Assignments: rows,
		GeneratedAt: s.now().UTC(),
	}
}

func dashboardCacheKey(studentID uint) string {
	return fmt.Sprintf("deckquiz:dashboard:student:%d", studentID)
}
