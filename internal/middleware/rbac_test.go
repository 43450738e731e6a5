package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestRequireRole(t *testing.T) {
	cases := []struct {
		name    string
		role    interface{}
		allowed []string
		want    int
	}{
		{"matching role passes", "teacher", []string{"teacher"}, fiber.StatusOK},
		{"case differences are ignored", "Teacher", []string{"teacher"}, fiber.StatusOK},
		{"role outside the set is rejected", "student", []string{"teacher"}, fiber.StatusForbidden},
		{"missing role fails closed", nil, []string{"teacher", "student"}, fiber.StatusForbidden},
		{"non-string role fails closed", 42, []string{"teacher"}, fiber.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Use(func(c *fiber.Ctx) error {
				if tc.role != nil {
					c.Locals("user_role", tc.role)
				}
				return c.Next()
			})
			app.Use(RequireRole(tc.allowed...))
			app.Get("/guarded", func(c *fiber.Ctx) error {
				return c.SendStatus(fiber.StatusOK)
			})

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/guarded", nil))
			require.NoError(t, err)
			require.Equal(t, tc.want, resp.StatusCode)
		})
	}
}
