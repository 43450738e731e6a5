package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
)

// Register attaches the shared middleware chain. Order matters: recovery
// wraps everything, and correlation runs before request logging so every
// log line carries the identifier.
func Register(app *fiber.App, logger zerolog.Logger) {
	app.Use(recover.New())
	app.Use(CorrelationID())
	app.Use(Observability(logger))
	app.Use(compress.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
	}))
}
