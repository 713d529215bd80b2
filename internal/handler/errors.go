package handler

import (
	"errors"

	"github.com/arturoeanton/go-pitwall-ollama/internal/port"
	"github.com/gofiber/fiber/v3"
)

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var conn *port.ConnectivityError
	switch {
	case errors.Is(err, port.ErrInvalidScenario):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, port.ErrRetrievalEmpty):
		return fiber.StatusFailedDependency
	case errors.Is(err, port.ErrReasoningContract):
		return fiber.StatusBadGateway
	case errors.As(err, &conn):
		if conn.Timeout() {
			return fiber.StatusGatewayTimeout
		}
		return fiber.StatusServiceUnavailable
	case errors.Is(err, port.ErrStrategyNotFound),
		errors.Is(err, port.ErrScenarioNotFound),
		errors.Is(err, port.ErrJobNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, port.ErrDimensionMismatch):
		return fiber.StatusConflict
	case errors.Is(err, port.ErrUnauthorized),
		errors.Is(err, port.ErrTokenExpired),
		errors.Is(err, port.ErrTokenInvalid):
		return fiber.StatusUnauthorized
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError writes err as a JSON body with the mapped status. Validation
// failures carry the full list of violations.
func respondError(c fiber.Ctx, err error) error {
	body := fiber.Map{"error": err.Error()}
	var verr *port.ValidationError
	if errors.As(err, &verr) {
		body["violations"] = verr.Errors
	}
	if port.IsRetryable(err) {
		body["retryable"] = true
	}
	return c.Status(statusFor(err)).JSON(body)
}

func badRequest(c fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}
