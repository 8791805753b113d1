package handlers

import (
	"errors"

	"github.com/driftbox/backend/internal/services"
	"github.com/driftbox/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(value)
}

// serviceError translates the lifecycle/authorization error taxonomy
// to HTTP statuses. Forbidden errors carry their deny reason so the
// caller can see which check failed and on what item.
func serviceError(c *fiber.Ctx, err error) error {
	var forbidden *services.ForbiddenError
	switch {
	case errors.As(err, &forbidden):
		return utils.Error(c, fiber.StatusForbidden, forbidden.Error())
	case errors.Is(err, services.ErrNotFound):
		return utils.Error(c, fiber.StatusNotFound, "not found")
	case errors.Is(err, services.ErrStoreUnavailable):
		return utils.Error(c, fiber.StatusBadGateway, "object store unavailable, try again later")
	case errors.Is(err, services.ErrIntegrityViolation):
		return utils.Error(c, fiber.StatusInternalServerError, "data integrity error")
	default:
		return utils.Error(c, fiber.StatusInternalServerError, "internal error")
	}
}
