package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/deckquiz/deckquiz-go-api/internal/dto"
	"github.com/deckquiz/deckquiz-go-api/internal/service"
	"github.com/deckquiz/deckquiz-go-api/internal/utils"
)

// SubmissionHandler wires the student answer flow and the dashboard.
type SubmissionHandler struct {
	attempts  service.AttemptService
	dashboard service.DashboardService
	logger    zerolog.Logger
}

// NewSubmissionHandler constructs the handler.
func NewSubmissionHandler(attempts service.AttemptService, dashboard service.DashboardService, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		attempts:  attempts,
		dashboard: dashboard,
		logger:    logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches submission endpoints to the authenticated router. Detail
// reads are open to both roles; the service enforces ownership.
func (h *SubmissionHandler) Register(router fiber.Router, studentOnly, aiLimiter fiber.Handler) {
	router.Post("/assignments/:id/open", studentOnly, h.open)
	router.Post("/submissions/:id/answers", studentOnly, aiLimiter, h.saveAnswer)
	router.Post("/submissions/:id/complete", studentOnly, aiLimiter, h.complete)
	router.Get("/submissions/:id", h.get)
	router.Get("/me/dashboard", studentOnly, h.studentDashboard)
}

func (h *SubmissionHandler) open(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.attempts.Open(c.Context(), assignmentID, userIDFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendCreated(c, "submission opened", submission)
}

func (h *SubmissionHandler) saveAnswer(c *fiber.Ctx) error {
	submissionID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	payload := dto.SaveAnswerRequest{}
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	answer, err := h.attempts.SaveAnswer(c.Context(), submissionID, payload, userIDFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendCreated(c, "answer graded", answer)
}

func (h *SubmissionHandler) complete(c *fiber.Ctx) error {
	submissionID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.attempts.Complete(c.Context(), submissionID, userIDFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission completed", submission)
}

func (h *SubmissionHandler) get(c *fiber.Ctx) error {
	submissionID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	detail, err := h.attempts.Get(c.Context(), submissionID, activityActorFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission retrieved", detail)
}

func (h *SubmissionHandler) studentDashboard(c *fiber.Ctx) error {
	dashboard, err := h.dashboard.GetStudentDashboard(c.Context(), userIDFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "dashboard retrieved", dashboard)
}

func (h *SubmissionHandler) handleError(c *fiber.Ctx, err error) error {
	var externalErr *service.ExternalServiceError
	switch {
	case errors.Is(err, service.ErrSubmissionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "submission not found")
	case errors.Is(err, service.ErrAssignmentNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "assignment not found")
	case errors.Is(err, service.ErrQuestionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "question not found")
	case errors.Is(err, service.ErrForbidden):
		return utils.SendError(c, fiber.StatusForbidden, "access denied")
	case errors.Is(err, service.ErrAssignmentArchived):
		return utils.SendError(c, fiber.StatusConflict, "assignment is archived")
	case errors.Is(err, service.ErrSubmissionCompleted):
		return utils.SendError(c, fiber.StatusConflict, "submission is already completed")
	case errors.Is(err, service.ErrAttemptLimit):
		return utils.SendError(c, fiber.StatusConflict, "attempt limit reached for this question")
	case errors.Is(err, service.ErrDuplicateAttempt):
		return utils.SendError(c, fiber.StatusConflict, "attempt already recorded")
	case errors.Is(err, service.ErrIncompleteSubmission):
		return utils.SendError(c, fiber.StatusConflict, "all questions must be answered before completing")
	case errors.Is(err, service.ErrQuestionMismatch):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, "question does not belong to this submission")
	case errors.Is(err, service.ErrValidation), isValidationError(err):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrGrading):
		requestLogger(h.logger, c).Error().Err(err).Msg("grading response unusable")
		return utils.SendError(c, fiber.StatusBadGateway, "grading model returned an unusable response")
	case errors.As(err, &externalErr):
		requestLogger(h.logger, c).Error().Err(err).Msg("external service failure")
		return utils.SendError(c, fiber.StatusBadGateway, externalErr.Service+" unavailable")
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
