package middleware

import (
	"time"

	"github.com/driftbox/backend/pkg/logger"
	"github.com/gofiber/fiber/v2"
)

func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = logger.GenerateRequestID()
		}
		c.Locals("requestID", requestID)
		c.Set("X-Request-ID", requestID)

		err := c.Next()

		details := map[string]interface{}{
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      c.Response().StatusCode(),
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.IP(),
			"request_id":  requestID,
		}
		if userID := logger.GetUserIDFromContext(c); userID != nil {
			logger.InfoWithUser(*userID, "http_request", details)
		} else {
			logger.Info("http_request", details)
		}
		return err
	}
}
