package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/deckquiz/deckquiz-go-api/internal/utils"
)

// RequireRole rejects requests whose authenticated role is not in the allowed
// set. A missing or non-string role fails closed.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if normalized := canonicalRole(role); normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		role, _ := c.Locals("user_role").(string)
		if _, ok := allowed[canonicalRole(role)]; !ok {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return c.Next()
	}
}

func canonicalRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
