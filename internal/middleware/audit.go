package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/onlinebank/onlinebank/internal/bankerr"
)

// Audit writes one structured line per request. Errors returned by handlers
// have not been rendered yet, so their status is derived the same way
// ErrorHandler derives it.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Duration("duration", time.Since(start)),
		}
		if reqID, _ := c.Locals(RequestIDLocal).(string); reqID != "" {
			attrs = append(attrs, slog.String("request_id", reqID))
		}
		if owner, _ := c.Locals(OwnerLocal).(string); owner != "" {
			attrs = append(attrs, slog.String("owner_id", owner))
		}
		if number := c.Params("number"); number != "" {
			attrs = append(attrs, slog.String("account", number))
		}

		if err != nil {
			status = statusOfError(err)
			attrs = append(attrs, slog.Any("error", err))
			if code := bankerr.CodeOf(err); code != "" {
				attrs = append(attrs, slog.String("code", string(code)))
			}
		}
		attrs = append(attrs, slog.Int("status", status))

		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request completed", attrs...)
		case status >= http.StatusBadRequest:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
		return err
	}
}

func statusOfError(err error) int {
	var be *bankerr.Error
	if errors.As(err, &be) {
		return StatusOf(be.Code)
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return http.StatusInternalServerError
}
