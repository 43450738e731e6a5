package handler

import (
	"errors"
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/deckquiz/deckquiz-go-api/internal/dto"
	"github.com/deckquiz/deckquiz-go-api/internal/service"
	"github.com/deckquiz/deckquiz-go-api/internal/utils"
	"github.com/deckquiz/deckquiz-go-api/pkg/pptx"
)

// DeckHandler wires deck ingestion, moderation and retrieval routes.
type DeckHandler struct {
	decks       service.DeckService
	describe    service.DescribeService
	collections service.CollectionService
	logger      zerolog.Logger
}

// NewDeckHandler constructs the handler.
func NewDeckHandler(
	decks service.DeckService,
	describe service.DescribeService,
	collections service.CollectionService,
	logger zerolog.Logger,
) *DeckHandler {
	return &DeckHandler{
		decks:       decks,
		describe:    describe,
		collections: collections,
		logger:      logger.With().Str("component", "deck_handler").Logger(),
	}
}

// Register attaches deck endpoints to the router group. The limiters throttle
// the upload and model-backed endpoints independently.
func (h *DeckHandler) Register(router fiber.Router, uploadLimiter, aiLimiter fiber.Handler) {
	router.Post("", uploadLimiter, h.upload)
	router.Get("", h.list)
	router.Get("/:id", h.get)
	router.Post("/:id/describe", aiLimiter, h.describeBatch)
	router.Patch("/:id/items/:itemID", h.updateItem)
	router.Post("/:id/collection", aiLimiter, h.rebuildCollection)
	router.Get("/:id/search", h.search)
}

func (h *DeckHandler) upload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "file is required")
	}

	opened, err := file.Open()
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "file could not be read")
	}
	defer opened.Close()

	data, err := io.ReadAll(opened)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "file could not be read")
	}

	input := service.DeckIngestInput{
		Title:    c.FormValue("title"),
		FileName: file.Filename,
		Data:     data,
	}

	deck, err := h.decks.Ingest(c.Context(), input, activityActorFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendCreated(c, "deck ingested", deck)
}

func (h *DeckHandler) list(c *fiber.Ctx) error {
	decks, err := h.decks.List(c.Context(), userIDFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "decks retrieved", decks)
}

func (h *DeckHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	deck, err := h.decks.Get(c.Context(), id, userIDFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "deck retrieved", deck)
}

func (h *DeckHandler) describeBatch(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	payload := dto.DescribeBatchRequest{}
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	batch, err := h.describe.DescribeBatch(c.Context(), id, payload.BatchIndex, activityActorFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "batch described", batch)
}

func (h *DeckHandler) updateItem(c *fiber.Ctx) error {
	deckID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	itemID, err := parseUintParam(c, "itemID")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	payload := dto.ItemUpdateRequest{}
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	item, err := h.describe.UpdateItem(c.Context(), deckID, itemID, payload, activityActorFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "item updated", item)
}

func (h *DeckHandler) rebuildCollection(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	build, err := h.collections.Rebuild(c.Context(), id, activityActorFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "collection rebuilt", build)
}

func (h *DeckHandler) search(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	k, err := parseQueryInt(c, "k")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid k parameter")
	}

	hits, err := h.collections.Search(c.Context(), id, userIDFromContext(c), c.Query("q"), k)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "search completed", fiber.Map{"hits": hits})
}

func (h *DeckHandler) handleError(c *fiber.Ctx, err error) error {
	var parseErr *pptx.ParseError
	var externalErr *service.ExternalServiceError
	switch {
	case errors.Is(err, service.ErrDeckNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "deck not found")
	case errors.Is(err, service.ErrItemNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "item not found")
	case errors.Is(err, service.ErrForbidden):
		return utils.SendError(c, fiber.StatusForbidden, "access denied")
	case errors.Is(err, service.ErrUploadTooLarge):
		return utils.SendError(c, fiber.StatusRequestEntityTooLarge, "upload exceeds the size limit")
	case errors.Is(err, service.ErrUploadTypeNotAllowed):
		return utils.SendError(c, fiber.StatusUnsupportedMediaType, "only pptx uploads are accepted")
	case errors.As(err, &parseErr):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, "presentation could not be parsed")
	case errors.Is(err, service.ErrItemNotImage):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, "description applies to image items only")
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
