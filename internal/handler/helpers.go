package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/deckquiz/deckquiz-go-api/internal/middleware"
	"github.com/deckquiz/deckquiz-go-api/internal/service"
)

func parseUintParam(c *fiber.Ctx, name string) (uint, error) {
	parsed, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil {
		return 0, errors.New("invalid identifier")
	}
	return uint(parsed), nil
}

// parseQueryInt reads an optional integer query parameter. Absent values
// yield zero so callers can apply their own defaults.
func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// Identity locals are set by the JWT middleware; a zero id means the
// request never passed authentication.
func userIDFromContext(c *fiber.Ctx) uint {
	id, _ := c.Locals("user_id").(uint)
	return id
}

func userRoleFromContext(c *fiber.Ctx) string {
	role, _ := c.Locals("user_role").(string)
	return role
}

func activityActorFromContext(c *fiber.Ctx) service.ActivityActor {
	return service.ActivityActor{
		ID:   userIDFromContext(c),
		Role: userRoleFromContext(c),
	}
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	if c == nil {
		return &base
	}
	if correlation := middleware.GetCorrelationID(c); correlation != "" {
		base = base.With().Str("correlation_id", correlation).Logger()
	}
	return &base
}

func isValidationError(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}
