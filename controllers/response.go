package controller

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"notekeeper/services"
	"notekeeper/utils"
)

func statusFor(kind services.Kind) int {
	switch kind {
	case services.KindValidation, services.KindConflict:
		return fiber.StatusBadRequest
	case services.KindUnauthorized:
		return fiber.StatusUnauthorized
	case services.KindForbidden:
		return fiber.StatusForbidden
	case services.KindNotFound:
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError writes a service error. Internal failures are reported to
// logrus and Sentry, everything else is a client mistake.
func respondError(c *fiber.Ctx, logger *logrus.Logger, op string, err error) error {
	status := statusFor(services.KindOf(err))
	if status >= fiber.StatusInternalServerError {
		utils.LogError(op, err, map[string]interface{}{
			"path":    c.Path(),
			"method":  c.Method(),
			"user_id": c.Locals("userID"),
		})
	} else {
		logger.WithFields(logrus.Fields{
			"op":      op,
			"status":  status,
			"user_id": c.Locals("userID"),
			"error":   err.Error(),
		}).Debug("Request rejected")
	}
	return utils.ErrorResponse(c, status, services.PublicMessage(err))
}

// paramID reads a positive numeric route parameter
func paramID(c *fiber.Ctx, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Params(name), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func invalidBody(c *fiber.Ctx) error {
	return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body")
}
