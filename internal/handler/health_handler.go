package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/deckquiz/deckquiz-go-api/internal/config"
	"github.com/deckquiz/deckquiz-go-api/internal/utils"
)

var processStart = time.Now()

// HealthResponse is the payload returned by the health endpoint.
type HealthResponse struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Service       string    `json:"service"`
	Environment   string    `json:"environment"`
	UptimeSeconds float64   `json:"uptime_seconds"`
}

// HealthCheck reports liveness along with basic deployment identity.
func HealthCheck(cfg config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:        "ok",
			Timestamp:     time.Now().UTC(),
			Service:       cfg.AppName,
			Environment:   cfg.AppEnv,
			UptimeSeconds: time.Since(processStart).Seconds(),
		}
		return utils.SendSuccess(c, "service healthy", payload)
	}
}
