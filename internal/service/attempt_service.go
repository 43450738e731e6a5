package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/deckquiz/deckquiz-go-api/internal/dto"
	"github.com/deckquiz/deckquiz-go-api/internal/models"
	"github.com/deckquiz/deckquiz-go-api/internal/observability"
	"github.com/deckquiz/deckquiz-go-api/internal/repository"
	"github.com/deckquiz/deckquiz-go-api/internal/retry"
	"github.com/deckquiz/deckquiz-go-api/pkg/ai"
)

// summaryFallback is stored when the summary model is unavailable; completion
// must never fail on a summary outage.
const summaryFallback = "Summary unavailable."

// AttemptService manages a student's run at an assignment: opening it, saving
// graded attempts and completing with an overall score and summary.
type AttemptService interface {
	Open(ctx context.Context, assignmentID, studentID uint) (dto.SubmissionResponse, error)
	SaveAnswer(ctx context.Context, submissionID uint, payload dto.SaveAnswerRequest, studentID uint) (dto.AnswerResponse, error)
	Complete(ctx context.Context, submissionID, studentID uint) (dto.SubmissionResponse, error)
	Get(ctx context.Context, submissionID uint, actor ActivityActor) (dto.SubmissionDetailResponse, error)
}

type attemptService struct {
	submissions repository.SubmissionRepository
	assignments repository.AssignmentRepository
	questions   repository.QuestionRepository
	generator   ai.Generator
	activity    ActivityRecorder
	events      *EventPublisher
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	cache       *redis.Client
	retry       retry.Policy
	logger      zerolog.Logger
}

// NewAttemptService constructs the attempt service. The cache client is used
// to invalidate the student dashboard on progress changes; nil disables that.
func NewAttemptService(
	submissions repository.SubmissionRepository,
	assignments repository.AssignmentRepository,
	questions repository.QuestionRepository,
	generator ai.Generator,
	activity ActivityRecorder,
	events *EventPublisher,
	validate *validator.Validate,
	cache *redis.Client,
	policy retry.Policy,
	logger zerolog.Logger,
) AttemptService {
	return &attemptService{
		submissions: submissions,
		assignments: assignments,
		questions:   questions,
		generator:   generator,
		activity:    activity,
		events:      events,
		validator:   validate,
		sanitizer:   bluemonday.StrictPolicy(),
		cache:       cache,
		retry:       policy,
		logger:      logger.With().Str("component", "attempt_service").Logger(),
	}
}

// Open creates the student's submission for an assignment, or returns the
// existing one. Opening is idempotent; the unique (assignment, student) index
// settles concurrent opens.
func (s *attemptService) Open(ctx context.Context, assignmentID, studentID uint) (dto.SubmissionResponse, error) {
	assignment, err := loadAssignment(ctx, s.assignments, assignmentID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if assignment.IsArchived() {
		return dto.SubmissionResponse{}, ErrAssignmentArchived
	}

	existing, err := s.submissions.GetByAssignmentAndStudent(ctx, assignment.ID, studentID)
	if err == nil {
		return dto.NewSubmissionResponse(existing), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.SubmissionResponse{}, err
	}

	submission := models.Submission{
		AssignmentID: assignment.ID,
		StudentID:    studentID,
		Status:       models.SubmissionStatusInProgress,
		StartedAt:    time.Now().UTC(),
	}
	if err := s.submissions.Create(ctx, &submission); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, err := s.submissions.GetByAssignmentAndStudent(ctx, assignment.ID, studentID)
			if err != nil {
				return dto.SubmissionResponse{}, err
			}
			return dto.NewSubmissionResponse(existing), nil
		}
		return dto.SubmissionResponse{}, err
	}

	s.invalidateDashboard(ctx, studentID)
	s.logger.Info().
		Uint("submission_id", submission.ID).
		Uint("assignment_id", assignment.ID).
		Uint("student_id", studentID).
		Msg("submission opened")

	return dto.NewSubmissionResponse(submission), nil
}

// SaveAnswer grades and records one attempt. Attempt numbers are dense per
// (submission, question); the unique index backs up the in-flight check under
// concurrent saves.
func (s *attemptService) SaveAnswer(ctx context.Context, submissionID uint, payload dto.SaveAnswerRequest, studentID uint) (dto.AnswerResponse, error) {
	tracer := otel.Tracer("deckquiz/service")
	ctx, span := tracer.Start(ctx, "attempt.save_answer")
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		return dto.AnswerResponse{}, err
	}

	submission, err := s.loadOwnedSubmission(ctx, submissionID, studentID)
	if err != nil {
		return dto.AnswerResponse{}, err
	}
	if submission.IsCompleted() {
		return dto.AnswerResponse{}, ErrSubmissionCompleted
	}

	question, err := s.questions.GetByID(ctx, payload.QuestionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AnswerResponse{}, ErrQuestionNotFound
		}
		return dto.AnswerResponse{}, err
	}
	if question.AssignmentID != submission.AssignmentID {
		return dto.AnswerResponse{}, ErrQuestionMismatch
	}

	latest, err := s.submissions.LatestAttempt(ctx, submission.ID, question.ID)
	if err != nil {
		return dto.AnswerResponse{}, err
	}
	attempt := latest + 1
	if attempt > models.MaxAttemptsPerQuestion {
		return dto.AnswerResponse{}, ErrAttemptLimit
	}

	answerText := strings.TrimSpace(s.sanitizer.Sanitize(payload.AnswerText))
	if answerText == "" {
		return dto.AnswerResponse{}, fmt.Errorf("%w: answer must not be empty", ErrValidation)
	}

	result, err := s.gradeAnswer(ctx, question, answerText)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grading failed")
		return dto.AnswerResponse{}, err
	}

	answer := models.SubmissionAnswer{
		SubmissionID:  submission.ID,
		QuestionID:    question.ID,
		AttemptNumber: attempt,
		AnswerText:    answerText,
		Grade:         result.Grade,
		Feedback:      result.Feedback,
	}
	if err := s.submissions.CreateAnswer(ctx, &answer); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return dto.AnswerResponse{}, ErrDuplicateAttempt
		}
		return dto.AnswerResponse{}, err
	}

	observability.AnswersGraded().WithLabelValues(strconv.Itoa(result.Grade)).Inc()
	span.SetAttributes(
		attribute.Int("attempt.number", attempt),
		attribute.Int("attempt.grade", result.Grade),
	)
	s.invalidateDashboard(ctx, studentID)

	return dto.NewAnswerResponse(answer), nil
}

// gradeAnswer asks the model for a grade and feedback. Transport failures are
// retried and surface as upstream errors; a malformed grading payload is a
// GradingError, never a silent zero.
func (s *attemptService) gradeAnswer(ctx context.Context, question models.Question, answerText string) (ai.GradeResult, error) {
	content, err := retry.Do(ctx, s.retry, func(ctx context.Context) (string, error) {
		return s.generator.Generate(ctx, ai.GenerateRequest{
			System:   ai.GradingSystemPrompt(),
			Prompt:   ai.BuildGradingPrompt(question.Prompt, question.Answer, answerText),
			JSONMode: true,
		})
	})
	if err != nil {
		return ai.GradeResult{}, externalErr("grading model", err)
	}

	result, err := ai.ParseGradeResponse(content, models.GradeMin, models.GradeMax)
	if err != nil {
		return ai.GradeResult{}, fmt.Errorf("%w: %v", ErrGrading, err)
	}

	return result, nil
}

// Complete finalizes a submission: every question needs at least one attempt,
// the overall score is the latest-attempt grade sum as a percentage of the
// maximum, and a summary is generated with a static fallback on outage.
func (s *attemptService) Complete(ctx context.Context, submissionID, studentID uint) (dto.SubmissionResponse, error) {
	tracer := otel.Tracer("deckquiz/service")
	ctx, span := tracer.Start(ctx, "attempt.complete")
	defer span.End()

	submission, err := s.loadOwnedSubmission(ctx, submissionID, studentID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if submission.IsCompleted() {
		return dto.SubmissionResponse{}, ErrSubmissionCompleted
	}

	questions, err := s.questions.ListByAssignment(ctx, submission.AssignmentID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	answers, err := s.submissions.Answers(ctx, submission.ID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	latest := latestAttempts(answers)
	for _, question := range questions {
		if _, ok := latest[question.ID]; !ok {
			return dto.SubmissionResponse{}, ErrIncompleteSubmission
		}
	}

	score := overallScore(questions, latest)
	summary := s.summarize(ctx, questions, latest)

	now := time.Now().UTC()
	submission.Status = models.SubmissionStatusCompleted
	submission.CompletedAt = &now
	submission.OverallScore = &score
	submission.Summary = summary
	if err := s.submissions.Update(ctx, &submission); err != nil {
		return dto.SubmissionResponse{}, err
	}

	span.SetAttributes(
		attribute.Int("submission.id", int(submission.ID)),
		attribute.Float64("submission.score", score),
	)

	submissionRef := submission.ID
	if _, err := s.activity.Record(ctx, ActivityEntry{
		ActorID:    studentID,
		ActorRole:  models.RoleStudent,
		Action:     models.ActionSubmissionCompleted,
		EntityType: "submission",
		EntityID:   &submissionRef,
		Metadata: map[string]interface{}{
			"assignment_id": submission.AssignmentID,
			"overall_score": score,
		},
	}); err != nil {
		s.logger.Warn().Err(err).Uint("submission_id", submission.ID).Msg("record completion activity")
	}
	s.events.Publish(ctx, EventSubmissionCompleted, map[string]interface{}{
		"submission_id": submission.ID,
		"assignment_id": submission.AssignmentID,
		"student_id":    studentID,
		"overall_score": score,
	})
	s.invalidateDashboard(ctx, studentID)

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Float64("overall_score", score).
		Msg("submission completed")

	return dto.NewSubmissionResponse(submission), nil
}

func (s *attemptService) summarize(ctx context.Context, questions []models.Question, latest map[uint]models.SubmissionAnswer) string {
	lines := make([]ai.SummaryLine, 0, len(questions))
	for _, question := range questions {
		answer := latest[question.ID]
		lines = append(lines, ai.SummaryLine{
			Question: question.Prompt,
			Answer:   answer.AnswerText,
			Grade:    answer.Grade,
			GradeMax: models.GradeMax,
		})
	}

	content, err := retry.Do(ctx, s.retry, func(ctx context.Context) (string, error) {
		return s.generator.Generate(ctx, ai.GenerateRequest{
			System: ai.SummarySystemPrompt(),
			Prompt: ai.BuildSummaryPrompt(lines),
		})
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("summary generation failed, storing fallback")
		return summaryFallback
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return summaryFallback
	}

	return content
}

// Get returns the full review payload. The student who owns the submission
// and the teacher who owns the assignment may read it; reference answers stay
// hidden from students until they complete.
func (s *attemptService) Get(ctx context.Context, submissionID uint, actor ActivityActor) (dto.SubmissionDetailResponse, error) {
	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionDetailResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionDetailResponse{}, err
	}

	assignment, err := loadAssignment(ctx, s.assignments, submission.AssignmentID)
	if err != nil {
		return dto.SubmissionDetailResponse{}, err
	}
	if actor.ID != submission.StudentID && actor.ID != assignment.OwnerID {
		return dto.SubmissionDetailResponse{}, ErrForbidden
	}

	questions, err := s.questions.ListByAssignment(ctx, assignment.ID)
	if err != nil {
		return dto.SubmissionDetailResponse{}, err
	}

	byQuestion := map[uint][]models.SubmissionAnswer{}
	for _, answer := range submission.Answers {
		byQuestion[answer.QuestionID] = append(byQuestion[answer.QuestionID], answer)
	}
	for _, attempts := range byQuestion {
		sort.Slice(attempts, func(i, j int) bool {
			return attempts[i].AttemptNumber < attempts[j].AttemptNumber
		})
	}

	includeAnswers := actor.ID == assignment.OwnerID || submission.IsCompleted()
	details := make([]dto.SubmissionQuestionDetail, 0, len(questions))
	for _, question := range questions {
		attempts := byQuestion[question.ID]
		responses := make([]dto.AnswerResponse, 0, len(attempts))
		for _, attempt := range attempts {
			responses = append(responses, dto.NewAnswerResponse(attempt))
		}
		details = append(details, dto.SubmissionQuestionDetail{
			Question:     dto.NewQuestionResponse(question, includeAnswers),
			Attempts:     responses,
			AttemptsLeft: maxInt(models.MaxAttemptsPerQuestion-len(attempts), 0),
		})
	}

	return dto.SubmissionDetailResponse{
		SubmissionResponse: dto.NewSubmissionResponse(submission),
		AssignmentName:     assignment.Name,
		Questions:          details,
	}, nil
}

func (s *attemptService) loadOwnedSubmission(ctx context.Context, id, studentID uint) (models.Submission, error) {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, ErrSubmissionNotFound
		}
		return models.Submission{}, err
	}
	if submission.StudentID != studentID {
		return models.Submission{}, ErrForbidden
	}

	return submission, nil
}

func (s *attemptService) invalidateDashboard(ctx context.Context, studentID uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, dashboardCacheKey(studentID)).Err(); err != nil {
		s.logger.Warn().Err(err).Uint("student_id", studentID).Msg("dashboard cache invalidation failed")
	}
}

// latestAttempts keeps the highest-numbered attempt per question.
func latestAttempts(answers []models.SubmissionAnswer) map[uint]models.SubmissionAnswer {
	latest := map[uint]models.SubmissionAnswer{}
	for _, answer := range answers {
		current, ok := latest[answer.QuestionID]
		if !ok || answer.AttemptNumber > current.AttemptNumber {
			latest[answer.QuestionID] = answer
		}
	}

	return latest
}

// overallScore is the latest-attempt grade sum as a percentage of the
// achievable maximum, rounded to one decimal.
func overallScore(questions []models.Question, latest map[uint]models.SubmissionAnswer) float64 {
	if len(questions) == 0 {
		return 0
	}

	sum := 0
	for _, question := range questions {
		sum += latest[question.ID].Grade
	}

	percent := float64(sum) / float64(len(questions)*models.GradeMax) * 100

	return math.Round(percent*10) / 10
}
