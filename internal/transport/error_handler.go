package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/push-engine/internal/observability"
	"go.uber.org/zap"
)

const internalErrorMessage = "Internal server error"

// ErrorHandler renders every handler error as {"error": message}. Unexpected failures are
// reported to Sentry and never leak their text to the caller.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := internalErrorMessage

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code = fiberErr.Code
			message = fiberErr.Message
		}

		reqLogger := observability.WithContextLogger(logger, c.UserContext()).With(
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		)
		if code >= fiber.StatusInternalServerError {
			reqLogger.Error("request failed")
			observability.CaptureError(c.UserContext(), err)
		} else {
			reqLogger.Debug("request rejected")
		}

		return c.Status(code).JSON(fiber.Map{
			"error": message,
		})
	}
}
