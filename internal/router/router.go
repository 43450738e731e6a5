package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/deckquiz/deckquiz-go-api/internal/config"
	"github.com/deckquiz/deckquiz-go-api/internal/handler"
	"github.com/deckquiz/deckquiz-go-api/internal/middleware"
	"github.com/deckquiz/deckquiz-go-api/internal/models"
	"github.com/deckquiz/deckquiz-go-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	DeckHandler       *handler.DeckHandler
	AssignmentHandler *handler.AssignmentHandler
	SubmissionHandler *handler.SubmissionHandler
	ActivityHandler   *handler.ActivityHandler
	JWTMiddleware     fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	api.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	auth := api.Group("", jwtMiddleware)

	teacherOnly := middleware.RequireRole(models.RoleTeacher)
	studentOnly := middleware.RequireRole(models.RoleStudent)
	uploadLimiter := middleware.RateLimit("upload", 10, time.Minute)
	aiLimiter := middleware.RateLimit("ai", 30, time.Minute)

	if deps.DeckHandler != nil {
		decks := auth.Group("/decks", teacherOnly)
		deps.DeckHandler.Register(decks, uploadLimiter, aiLimiter)
	}

	if deps.AssignmentHandler != nil {
		assignments := auth.Group("/assignments")
		deps.AssignmentHandler.Register(assignments, teacherOnly, aiLimiter)

		questions := auth.Group("/questions")
		deps.AssignmentHandler.RegisterQuestions(questions)
	}

	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.Register(auth, studentOnly, aiLimiter)
	}

	if deps.ActivityHandler != nil {
		activities := auth.Group("/activities", teacherOnly)
		deps.ActivityHandler.Register(activities)
	}
}
