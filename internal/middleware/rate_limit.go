package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/deckquiz/deckquiz-go-api/internal/utils"
)

// RateLimit creates a fixed-window limiter for one route group. Authenticated
// requests are keyed by user id, anonymous ones fall back to the client IP,
// and the identifier keeps limiters for different groups independent.
func RateLimit(identifier string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Second
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return identifier + ":" + clientKey(c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.SendError(c, fiber.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}

func clientKey(c *fiber.Ctx) string {
	if id, ok := c.Locals("user_id").(uint); ok && id > 0 {
		return fmt.Sprintf("u%d", id)
	}
	return c.IP()
}
