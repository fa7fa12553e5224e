// Package respond maps engine errors onto REST responses.
package respond

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ortelius/pdvd-remediation/internal/errs"
)

// StatusFor returns the HTTP status for an error kind.
func StatusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindInvalid, errs.KindRiskDataIncomplete:
		return fiber.StatusBadRequest
	case errs.KindUnauthorized:
		return fiber.StatusUnauthorized
	case errs.KindNotFound:
		return fiber.StatusNotFound
	case errs.KindConflict:
		return fiber.StatusConflict
	case errs.KindApprovalTimeout:
		return fiber.StatusGone
	case errs.KindTransientInfra:
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// Error writes err as {"success": false, "message": ...} with a status derived from its kind.
func Error(c *fiber.Ctx, err error) error {
	kind := errs.KindOf(err)
	return c.Status(StatusFor(kind)).JSON(fiber.Map{
		"success": false,
		"kind":    kind.String(),
		"message": err.Error(),
	})
}

// BadRequest writes a 400 with message.
func BadRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"message": message,
	})
}
