package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Headers accepted as an incoming correlation identifier, in priority order.
var correlationHeaders = []string{"X-Correlation-ID", "X-Request-ID"}

// CorrelationID tags every request with an identifier so log lines from one
// request can be stitched together. Incoming identifiers are honored,
// otherwise a fresh one is minted, and the value is echoed on the response.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var id string
		for _, header := range correlationHeaders {
			if v := strings.TrimSpace(c.Get(header)); v != "" {
				id = v
				break
			}
		}
		if id == "" {
			id = uuid.NewString()
		}

		c.Locals("correlation_id", id)
		c.Set("X-Correlation-ID", id)
		return c.Next()
	}
}

// GetCorrelationID returns the identifier bound to the active request, or the
// empty string when the middleware did not run.
func GetCorrelationID(c *fiber.Ctx) string {
	if c == nil {
		return ""
	}
	id, _ := c.Locals("correlation_id").(string)
	return id
}
