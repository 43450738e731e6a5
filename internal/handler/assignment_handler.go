package handler

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/deckquiz/deckquiz-go-api/internal/dto"
	"github.com/deckquiz/deckquiz-go-api/internal/service"
	"github.com/deckquiz/deckquiz-go-api/internal/utils"
)

// AssignmentHandler wires assignment and question routes.
type AssignmentHandler struct {
	questions service.QuestionService
	logger    zerolog.Logger
}

// NewAssignmentHandler constructs the handler.
func NewAssignmentHandler(questions service.QuestionService, logger zerolog.Logger) *AssignmentHandler {
	return &AssignmentHandler{
		questions: questions,
		logger:    logger.With().Str("component", "assignment_handler").Logger(),
	}
}

// Register attaches assignment endpoints. Listing and detail are open to both
// roles; mutation is restricted to teachers and generation is throttled.
func (h *AssignmentHandler) Register(router fiber.Router, teacherOnly, aiLimiter fiber.Handler) {
	router.Get("", h.list)
	router.Get("/:id", h.get)
	router.Post("", teacherOnly, aiLimiter, h.create)
	router.Patch("/:id/status", teacherOnly, h.updateStatus)
	router.Delete("/:id", teacherOnly, h.delete)
}

// RegisterQuestions attaches question-scoped endpoints.
func (h *AssignmentHandler) RegisterQuestions(router fiber.Router) {
	router.Get("/:id/image", h.questionImage)
}

func (h *AssignmentHandler) list(c *fiber.Ctx) error {
	assignments, err := h.questions.List(c.Context(), activityActorFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "assignments retrieved", assignments)
}

func (h *AssignmentHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	assignment, err := h.questions.Get(c.Context(), id, activityActorFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "assignment retrieved", assignment)
}

func (h *AssignmentHandler) create(c *fiber.Ctx) error {
	payload := dto.AssignmentCreateRequest{}
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	assignment, err := h.questions.Generate(c.Context(), payload, activityActorFromContext(c))
	if err != nil {
		var shortfall *service.ShortfallError
		if errors.As(err, &shortfall) {
			// The partial assignment is persisted; the response reports the gap.
			return utils.SendCreated(c, "assignment created with shortfall", assignment)
		}
		return h.handleError(c, err)
	}

	return utils.SendCreated(c, "assignment created", assignment)
}

func (h *AssignmentHandler) updateStatus(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	payload := dto.AssignmentStatusRequest{}
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	assignment, err := h.questions.UpdateStatus(c.Context(), id, payload.Status, activityActorFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "assignment status updated", assignment)
}

func (h *AssignmentHandler) delete(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.questions.Delete(c.Context(), id, activityActorFromContext(c)); err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "assignment deleted", fiber.Map{"id": id})
}

func (h *AssignmentHandler) questionImage(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	image, err := h.questions.QuestionImage(c.Context(), id, activityActorFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	c.Set(fiber.HeaderContentType, image.ContentType)
	c.Set(fiber.HeaderContentLength, strconv.FormatInt(image.SizeBytes, 10))
	return c.Send(image.Data)
}

func (h *AssignmentHandler) handleError(c *fiber.Ctx, err error) error {
	var externalErr *service.ExternalServiceError
	switch {
	case errors.Is(err, service.ErrAssignmentNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "assignment not found")
	case errors.Is(err, service.ErrDeckNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "deck not found")
	case errors.Is(err, service.ErrQuestionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "question not found")
	case errors.Is(err, service.ErrImageNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "image not found")
	case errors.Is(err, service.ErrForbidden):
		return utils.SendError(c, fiber.StatusForbidden, "access denied")
	case errors.Is(err, service.ErrCollectionNotBuilt):
		return utils.SendError(c, fiber.StatusConflict, "collection has not been built")
	case errors.Is(err, service.ErrValidation), isValidationError(err):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &externalErr):
		requestLogger(h.logger, c).Error().Err(err).Msg("external service failure")
		return utils.SendError(c, fiber.StatusBadGateway, externalErr.Service+" unavailable")
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
