package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/onlinebank/onlinebank/internal/bankerr"
)

type errorResponse struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
	Field  string `json:"field,omitempty"`
}

// StatusOf maps an error code to its HTTP status.
func StatusOf(code bankerr.Code) int {
	switch code {
	case bankerr.InvalidAmount, bankerr.InvalidKind, bankerr.InvalidRequest, bankerr.SelfTransfer:
		return http.StatusBadRequest
	case bankerr.BadCredential:
		return http.StatusUnauthorized
	case bankerr.NotOwner, bankerr.Forbidden:
		return http.StatusForbidden
	case bankerr.AccountNotFound:
		return http.StatusNotFound
	case bankerr.ReceiverNotFound, bankerr.ReceiverNotActive, bankerr.InsufficientFunds, bankerr.AccountNotActive:
		return http.StatusUnprocessableEntity
	case bankerr.Duplicate, bankerr.Conflict:
		return http.StatusConflict
	case bankerr.Busy:
		return http.StatusTooManyRequests
	case bankerr.StoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// ErrorHandler renders classified errors as {"code","reason","field"} and
// hides the details of anything else.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var be *bankerr.Error
		if errors.As(err, &be) {
			status := StatusOf(be.Code)
			if be.Retryable() {
				c.Set(fiber.HeaderRetryAfter, "1")
			}
			if status >= http.StatusInternalServerError {
				logger.Error("request failed", slog.String("path", c.Path()), slog.Any("error", err))
			}
			return c.Status(status).JSON(errorResponse{Code: string(be.Code), Reason: be.Reason, Field: be.Field})
		}

		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(errorResponse{Code: "http_error", Reason: fe.Message})
		}

		logger.Error("unhandled error", slog.String("path", c.Path()), slog.Any("error", err))
		return c.Status(http.StatusInternalServerError).JSON(errorResponse{Code: "internal", Reason: "internal server error"})
	}
}
